// Package config reads plex settings from the environment and an
// optional .env file, and builds the collaborators they select.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	. "github.com/stevegt/goadapt"
	"github.com/stevegt/envi"

	"github.com/stevegt/plex/client"
	"github.com/stevegt/plex/history"
	"github.com/stevegt/plex/ollama"
	"github.com/stevegt/plex/openai"
	"github.com/stevegt/plex/persona"
	"github.com/stevegt/plex/voice"
)

// Config holds plex settings.  CLI flags override these.
type Config struct {
	Backend       string
	BaseURL       string
	APIKey        string
	Personas      string
	History       string
	HistoryDir    string
	Listen        string
	AssistantName string

	RecordCmd     string
	RecognizeCmd  string
	SynthesizeCmd string
	EnhanceCmd    string
	PlayCmd       string
}

// Load reads envFile if it exists and then the environment.
// Variables already set in the environment win over the file.
func Load(envFile string) (cfg *Config, err error) {
	defer Return(&err)
	if envFile != "" {
		err = godotenv.Load(envFile)
		if os.IsNotExist(err) {
			err = nil
		}
		Ck(err, "%s", envFile)
	}
	cfg = &Config{
		Backend:       strings.ToLower(envi.String("PLEX_BACKEND", "ollama")),
		BaseURL:       envi.String("PLEX_BASE_URL", ""),
		APIKey:        envi.String("OPENAI_API_KEY", ""),
		Personas:      envi.String("PLEX_PERSONAS", ""),
		History:       strings.ToLower(envi.String("PLEX_HISTORY", "file")),
		HistoryDir:    envi.String("PLEX_HISTORY_DIR", ".plex"),
		Listen:        envi.String("PLEX_LISTEN", ":8080"),
		AssistantName: envi.String("PLEX_ASSISTANT_NAME", "Plex"),
		RecordCmd:     envi.String("PLEX_RECORD_CMD", voice.DefaultRecord),
		RecognizeCmd:  envi.String("PLEX_RECOGNIZE_CMD", voice.DefaultRecognize),
		SynthesizeCmd: envi.String("PLEX_TTS_CMD", voice.DefaultSynthesize),
		EnhanceCmd:    envi.String("PLEX_ENHANCE_CMD", voice.DefaultEnhance),
		PlayCmd:       envi.String("PLEX_PLAY_CMD", voice.DefaultPlay),
	}
	err = cfg.Validate()
	Ck(err)
	return
}

// Validate checks the enumerated settings.
func (c *Config) Validate() error {
	switch c.Backend {
	case "ollama", "openai":
	default:
		return fmt.Errorf("PLEX_BACKEND must be ollama or openai, got %q", c.Backend)
	}
	switch c.History {
	case "file", "bolt":
	default:
		return fmt.Errorf("PLEX_HISTORY must be file or bolt, got %q", c.History)
	}
	if c.HistoryDir == "" {
		return fmt.Errorf("PLEX_HISTORY_DIR cannot be empty")
	}
	return nil
}

// ChatClient returns the configured completion backend.  An empty
// BaseURL means the backend's usual endpoint.
func (c *Config) ChatClient() client.ChatClient {
	if c.Backend == "openai" {
		return openai.NewClient(c.APIKey, c.BaseURL)
	}
	return ollama.NewClient(c.BaseURL)
}

// Store opens the configured history store.  The caller closes it
// with CloseStore.
func (c *Config) Store() (store history.Store, err error) {
	defer Return(&err)
	if c.History == "bolt" {
		err = os.MkdirAll(c.HistoryDir, 0755)
		Ck(err)
		store, err = history.OpenBoltStore(filepath.Join(c.HistoryDir, "history.db"))
		Ck(err)
		return
	}
	store, err = history.NewFileStore(c.HistoryDir)
	Ck(err)
	return
}

// CloseStore releases a store returned by Store.
func CloseStore(store history.Store) error {
	if bs, ok := store.(*history.BoltStore); ok {
		return bs.Close()
	}
	return nil
}

// Catalog loads the configured persona catalog, or the built-in one.
func (c *Config) Catalog() (*persona.Catalog, error) {
	if c.Personas == "" {
		return persona.Builtin(), nil
	}
	return persona.Load(c.Personas)
}

// Voice returns the command-driven voice capability.
func (c *Config) Voice() *voice.Exec {
	return &voice.Exec{
		RecordCmd:     c.RecordCmd,
		RecognizeCmd:  c.RecognizeCmd,
		SynthesizeCmd: c.SynthesizeCmd,
		EnhanceCmd:    c.EnhanceCmd,
		PlayCmd:       c.PlayCmd,
	}
}
