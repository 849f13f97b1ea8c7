package persona

import (
	"context"
	"log"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	. "github.com/stevegt/goadapt"
)

// Watcher keeps a catalog loaded from a file and reloads it when the
// file changes.  Personas already handed out are not affected by a
// reload; only later lookups see the new catalog.
type Watcher struct {
	path string
	fsw  *fsnotify.Watcher

	mu  sync.RWMutex
	cat *Catalog

	// OnReload, if set, is called after each successful reload.
	OnReload func(*Catalog)
}

// Watch loads the catalog at path and starts watching its directory.
// Call Run to process change events.
func Watch(path string) (w *Watcher, err error) {
	defer Return(&err)
	cat, err := Load(path)
	Ck(err)
	fsw, err := fsnotify.NewWatcher()
	Ck(err)
	// editors often replace the file with a rename, so watch the
	// directory rather than the file itself
	err = fsw.Add(filepath.Dir(path))
	if err != nil {
		fsw.Close()
		Ck(err)
	}
	w = &Watcher{path: filepath.Clean(path), fsw: fsw, cat: cat}
	return
}

// Catalog returns the current catalog.
func (w *Watcher) Catalog() *Catalog {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cat
}

// Resolve looks id up in the current catalog.
func (w *Watcher) Resolve(id string) (Persona, bool) {
	return w.Catalog().Resolve(id)
}

// Run processes file events until ctx is done or the watcher is
// closed.  A catalog that fails to load is logged and the previous
// catalog stays in effect.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("persona watcher: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	cat, err := Load(w.path)
	if err != nil {
		log.Printf("persona catalog %s not reloaded: %v", w.path, err)
		return
	}
	w.mu.Lock()
	w.cat = cat
	w.mu.Unlock()
	log.Printf("reloaded %d personas from %s", cat.Len(), w.path)
	if w.OnReload != nil {
		w.OnReload(cat)
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
