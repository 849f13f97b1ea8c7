package core

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	. "github.com/stevegt/goadapt"

	"github.com/stevegt/plex/client"
	"github.com/stevegt/plex/history"
	"github.com/stevegt/plex/persona"
)

// Personas resolves persona ids.  Both *persona.Catalog and
// *persona.Watcher satisfy it.
type Personas interface {
	Resolve(id string) (persona.Persona, bool)
}

// Plex holds what sessions share: the backend, the persona catalog,
// the model registry, and the history store.
type Plex struct {
	Client   client.ChatClient
	Personas Personas
	Models   *Models
	// Store may be nil, in which case nothing is persisted.
	Store history.Store
}

// New returns a Plex.  Nil personas or models get the built-in
// defaults.
func New(llm client.ChatClient, personas Personas, models *Models, store history.Store) *Plex {
	if personas == nil {
		personas = persona.Builtin()
	}
	if models == nil {
		models = NewModels()
	}
	return &Plex{Client: llm, Personas: personas, Models: models, Store: store}
}

// StartOptions selects what a new session uses.
type StartOptions struct {
	// SessionID names the session; a random id is used if empty.
	SessionID string
	PersonaID string
	// Model is a model choice token or a model name.
	Model string
	Mode  Mode
	// Resume loads the session's saved transcript.
	Resume bool
	// OnStage, if set, is called before each pipeline stage.
	OnStage func(name string)
}

// Session is one conversation.  A session runs one turn at a time;
// distinct sessions share no state.
type Session struct {
	id       string
	llm      client.ChatClient
	store    history.Store
	persona  persona.Persona
	model    string
	mode     Mode
	pipeline *Pipeline

	mu         sync.Mutex
	transcript []client.ChatMsg
	notices    []string
}

// Start creates a session.  Unknown persona or model selections fall
// back to the defaults, and a failed history load starts an empty
// transcript; each of these leaves a notice on the session instead
// of failing.
func (p *Plex) Start(ctx context.Context, opts StartOptions) (s *Session, err error) {
	defer Return(&err)
	Assert(p.Client != nil, "no chat client configured")

	mode := opts.Mode
	if mode == "" {
		mode = ModeBase
	}
	_, err = ParseMode(string(mode))
	Ck(err)

	s = &Session{
		id:         opts.SessionID,
		llm:        p.Client,
		store:      p.Store,
		mode:       mode,
		pipeline:   NewPipeline(mode),
		transcript: []client.ChatMsg{},
	}
	s.pipeline.OnStage = opts.OnStage
	if s.id == "" {
		s.id = uuid.New().String()
	}

	pid := strings.TrimSpace(opts.PersonaID)
	var ok bool
	s.persona, ok = p.Personas.Resolve(pid)
	if !ok && pid != "" {
		s.notices = append(s.notices,
			fmt.Sprintf("Invalid persona choice %q. Using default persona '%s'.", pid, s.persona.Label))
	}

	var notice string
	s.model, notice = p.Models.Resolve(opts.Model)
	if notice != "" {
		s.notices = append(s.notices, notice)
	}

	if opts.Resume && s.store != nil {
		msgs, lerr := s.store.Load(ctx, s.id)
		if lerr != nil {
			s.notices = append(s.notices,
				fmt.Sprintf("Could not load history for session %s: %v. Starting fresh.", s.id, lerr))
		} else {
			s.transcript = msgs
		}
	}
	Debug("session %s: persona %s, model %s, mode %s, %d messages",
		s.id, s.persona.ID, s.model, s.mode, len(s.transcript))
	return
}

// Submit runs one turn.  The reply is returned once the whole
// pipeline has finished; onToken, if set, sees each fragment of
// every stage as it arrives.
//
// On ErrCompletion the user message stays in the transcript and no
// reply is appended.  On ErrPersistence the turn succeeded and reply
// is valid; only the save failed.
func (s *Session) Submit(ctx context.Context, text string, onToken client.TokenFunc) (reply string, err error) {
	// stored transcripts are JSON, which cannot hold invalid UTF-8
	text = strings.ToValidUTF8(strings.TrimSpace(text), "\uFFFD")
	if text == "" {
		return "", ErrInputRejected
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !client.HasSystem(s.transcript) {
		sys := client.ChatMsg{Role: client.RoleSystem, Content: s.persona.Prompt}
		s.transcript = append([]client.ChatMsg{sys}, s.transcript...)
	}
	s.transcript = append(s.transcript, client.ChatMsg{Role: client.RoleUser, Content: text})

	in := StageInput{
		Model:      s.model,
		Transcript: client.Copy(s.transcript),
		Question:   text,
		OnToken:    onToken,
	}
	reply, err = s.pipeline.Run(ctx, s.llm, in)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCompletion, err)
	}
	s.transcript = append(s.transcript, client.ChatMsg{Role: client.RoleAssistant, Content: reply})

	err = s.save(ctx)
	return
}

// Clear empties the transcript.  The next turn injects the persona
// prompt again.
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = []client.ChatMsg{}
	return s.save(ctx)
}

// save writes the transcript to the store.  Callers hold s.mu.
func (s *Session) save(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	err := s.store.Save(ctx, s.id, s.transcript)
	if err != nil {
		return fmt.Errorf("%w: session %s: %w", ErrPersistence, s.id, err)
	}
	return nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Persona returns the persona chosen at Start.
func (s *Session) Persona() persona.Persona { return s.persona }

// Model returns the backend model name.
func (s *Session) Model() string { return s.model }

// Mode returns the pipeline mode.
func (s *Session) Mode() Mode { return s.mode }

// Transcript returns a copy of the conversation so far.
func (s *Session) Transcript() []client.ChatMsg {
	s.mu.Lock()
	defer s.mu.Unlock()
	return client.Copy(s.transcript)
}

// Notices returns the fallbacks applied at Start.
func (s *Session) Notices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.notices...)
}

// TokenCount estimates the transcript size in tokens.
func (s *Session) TokenCount() (int, error) {
	return TranscriptTokens(s.Transcript())
}
