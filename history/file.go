package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/flock"
	. "github.com/stevegt/goadapt"

	"github.com/stevegt/plex/client"
)

// FileStore keeps one JSON file per session in Dir.  Each file holds
// a JSON array of {role, content} objects.
type FileStore struct {
	Dir string
}

// NewFileStore returns a FileStore rooted at dir, creating dir if
// needed.
func NewFileStore(dir string) (s *FileStore, err error) {
	defer Return(&err)
	err = os.MkdirAll(dir, 0755)
	Ck(err)
	s = &FileStore{Dir: dir}
	return
}

func (s *FileStore) path(id string) (path string, err error) {
	if !ValidID(id) {
		err = fmt.Errorf("%w: %q", ErrInvalidID, id)
		return
	}
	path = filepath.Join(s.Dir, id+".json")
	return
}

// lock takes the per-session lock file.  Other processes using the
// same id wait; distinct ids never contend.
func (s *FileStore) lock(ctx context.Context, path string, shared bool) (lock *flock.Flock, err error) {
	defer Return(&err)
	lock = flock.New(path + ".lock")
	if shared {
		err = lock.RLock()
	} else {
		err = lock.Lock()
	}
	Ck(err)
	if ctx.Err() != nil {
		lock.Unlock()
		lock = nil
		err = ctx.Err()
	}
	return
}

// Load reads the transcript for id.  A missing file is an empty
// transcript.
func (s *FileStore) Load(ctx context.Context, id string) (msgs []client.ChatMsg, err error) {
	defer Return(&err)
	path, err := s.path(id)
	if err != nil {
		return
	}
	lock, err := s.lock(ctx, path, true)
	Ck(err)
	defer lock.Unlock()

	buf, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return []client.ChatMsg{}, nil
	}
	Ck(err)
	msgs = []client.ChatMsg{}
	err = json.Unmarshal(buf, &msgs)
	Ck(err, "%s", path)
	return
}

// Save replaces the transcript for id.  The file is written to a
// temp file and renamed into place, so readers never see a partial
// write.
func (s *FileStore) Save(ctx context.Context, id string, msgs []client.ChatMsg) (err error) {
	defer Return(&err)
	path, err := s.path(id)
	if err != nil {
		return
	}
	if msgs == nil {
		msgs = []client.ChatMsg{}
	}
	buf, err := json.MarshalIndent(msgs, "", "    ")
	Ck(err)

	lock, err := s.lock(ctx, path, false)
	Ck(err)
	defer lock.Unlock()

	fh, err := os.CreateTemp(s.Dir, id+".*.tmp")
	Ck(err)
	tmpfn := fh.Name()
	defer os.Remove(tmpfn)
	_, err = fh.Write(buf)
	Ck(err)
	err = fh.Close()
	Ck(err)
	err = os.Rename(tmpfn, path)
	Ck(err)
	Debug("saved %d messages to %s", len(msgs), path)
	return
}

// Delete removes the transcript for id.  Deleting a missing
// transcript is not an error.
func (s *FileStore) Delete(ctx context.Context, id string) (err error) {
	defer Return(&err)
	path, err := s.path(id)
	if err != nil {
		return
	}
	lock, err := s.lock(ctx, path, false)
	Ck(err)
	defer lock.Unlock()
	err = os.Remove(path)
	if os.IsNotExist(err) {
		err = nil
	}
	Ck(err)
	return
}

// List returns the ids of all saved transcripts, sorted.
func (s *FileStore) List(ctx context.Context) (ids []string, err error) {
	defer Return(&err)
	paths, err := filepath.Glob(filepath.Join(s.Dir, "*.json"))
	Ck(err)
	for _, p := range paths {
		id := strings.TrimSuffix(filepath.Base(p), ".json")
		if ValidID(id) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return
}
