package persona

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	. "github.com/stevegt/goadapt"
	"gopkg.in/yaml.v3"
)

// DefaultID is the catalog entry used when a requested persona is
// missing.
const DefaultID = "1"

// Persona is a named system prompt.
type Persona struct {
	ID     string
	Label  string
	Prompt string
}

func (p Persona) String() string {
	return fmt.Sprintf("%s: %s - %s", p.ID, p.Label, p.Prompt)
}

// entry is the on-disk shape of a catalog record.
type entry struct {
	Description        string `json:"description" yaml:"description"`
	OneWordDescription string `json:"one_word_description" yaml:"one_word_description"`
}

// Catalog is an immutable set of personas keyed by id.
type Catalog struct {
	defaultID string
	personas  map[string]Persona
}

// New builds a catalog from the given personas.  The catalog must
// contain defaultID.
func New(defaultID string, personas ...Persona) (cat *Catalog, err error) {
	cat = &Catalog{
		defaultID: defaultID,
		personas:  make(map[string]Persona, len(personas)),
	}
	for _, p := range personas {
		if p.ID == "" {
			return nil, fmt.Errorf("persona with empty id")
		}
		cat.personas[p.ID] = p
	}
	if _, ok := cat.personas[defaultID]; !ok {
		return nil, fmt.Errorf("catalog has no default persona %q", defaultID)
	}
	return
}

// Parse decodes a catalog.  YAML is used when isYAML is set,
// otherwise JSON.
func Parse(buf []byte, isYAML bool) (cat *Catalog, err error) {
	defer Return(&err)
	entries := make(map[string]entry)
	if isYAML {
		err = yaml.Unmarshal(buf, &entries)
	} else {
		err = json.Unmarshal(buf, &entries)
	}
	Ck(err, "parsing persona catalog")
	var personas []Persona
	for id, e := range entries {
		personas = append(personas, Persona{
			ID:     id,
			Label:  e.OneWordDescription,
			Prompt: e.Description,
		})
	}
	cat, err = New(DefaultID, personas...)
	Ck(err)
	return
}

// Load reads a catalog file.  Files ending in .yaml or .yml are
// parsed as YAML, anything else as JSON.
func Load(path string) (cat *Catalog, err error) {
	defer Return(&err)
	buf, err := os.ReadFile(path)
	Ck(err)
	ext := strings.ToLower(filepath.Ext(path))
	cat, err = Parse(buf, ext == ".yaml" || ext == ".yml")
	Ck(err, "loading %s", path)
	Debug("loaded %d personas from %s", cat.Len(), path)
	return
}

// Resolve returns the persona for id.  If id is empty or unknown it
// returns the default persona and false.  It never fails.
func (c *Catalog) Resolve(id string) (p Persona, ok bool) {
	id = strings.TrimSpace(id)
	p, ok = c.personas[id]
	if ok {
		return
	}
	return c.Default(), false
}

// Default returns the default persona.
func (c *Catalog) Default() Persona {
	return c.personas[c.defaultID]
}

// Len returns the number of personas in the catalog.
func (c *Catalog) Len() int {
	return len(c.personas)
}

// List returns the personas ordered by id, numerically where the ids
// are numbers.
func (c *Catalog) List() (list []Persona) {
	for _, p := range c.personas {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool {
		return idLess(list[i].ID, list[j].ID)
	})
	return
}

func idLess(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil:
		return true
	case errB == nil:
		return false
	}
	return a < b
}
