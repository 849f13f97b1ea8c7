package core

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// DefaultChoice is the model used when the selection is empty or
// unknown.
var DefaultChoice = "2"

// Model is a selectable backend model.
type Model struct {
	// Choice is the token the user types to select the model.
	Choice string
	// Name is the model identifier sent to the backend.
	Name string
}

func (m *Model) String() string {
	return fmt.Sprintf("%s: %s", m.Choice, m.Name)
}

// Models manages the set of selectable models.
type Models struct {
	// The list of available models, keyed by choice.
	Available     map[string]*Model
	DefaultChoice string
}

// NewModels creates a Models registry with the local models plex
// offers by default.
func NewModels() (models *Models) {
	models = &Models{
		Available:     make(map[string]*Model),
		DefaultChoice: DefaultChoice,
	}
	models.Add("1", "mixtral")
	models.Add("2", "mistral:7b-instruct-v0.2-fp16")
	models.Add("3", "dolphin-mixtral")
	return
}

// Add registers a model under a selection token, replacing any model
// already registered under it.
func (models *Models) Add(choice, name string) {
	models.Available[choice] = &Model{Choice: choice, Name: name}
}

// Default returns the default model.
func (models *Models) Default() *Model {
	return models.Available[models.DefaultChoice]
}

// Find returns the model for a selection token or a model name.
func (models *Models) Find(choice string) (m *Model, ok bool) {
	choice = strings.TrimSpace(choice)
	m, ok = models.Available[choice]
	if ok {
		return
	}
	for _, candidate := range models.Available {
		if candidate.Name == choice {
			return candidate, true
		}
	}
	return nil, false
}

// Resolve maps a selection to a backend model name.  An empty or
// unknown selection resolves to the default model, and notice says
// so; notice is empty when the selection was found.
func (models *Models) Resolve(choice string) (name, notice string) {
	m, ok := models.Find(choice)
	if ok {
		return m.Name, ""
	}
	def := models.Default()
	if strings.TrimSpace(choice) == "" {
		notice = fmt.Sprintf("No model choice. Using default model '%s'.", def.Name)
	} else {
		notice = fmt.Sprintf("Invalid model choice %q. Using default model '%s'.", choice, def.Name)
	}
	return def.Name, notice
}

// ListModels returns the available models sorted by choice.
func (models *Models) ListModels() (list []*Model) {
	for _, m := range models.Available {
		list = append(list, m)
	}
	sort.Slice(list, func(i, j int) bool {
		a, errA := strconv.Atoi(list[i].Choice)
		b, errB := strconv.Atoi(list[j].Choice)
		if errA == nil && errB == nil {
			return a < b
		}
		return list[i].Choice < list[j].Choice
	})
	return
}
