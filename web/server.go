// Package web serves plex sessions to a browser over HTTP and
// websockets.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stevegt/plex/client"
	"github.com/stevegt/plex/core"
	"github.com/stevegt/plex/history"
	"github.com/stevegt/plex/persona"
)

// Server owns the live sessions of one web server instance.
type Server struct {
	plex    *core.Plex
	catalog func() *persona.Catalog
	router  chi.Router

	mu       sync.Mutex
	sessions map[string]*live
}

// live is a session plus the listener for its current turn.
type live struct {
	sess *core.Session

	// turnMu serializes turns so that stage events reach the
	// listener of the turn that produced them.
	turnMu  sync.Mutex
	onStage func(name string)
}

func (l *live) stage(name string) {
	if l.onStage != nil {
		l.onStage(name)
	}
}

// submit runs one turn with the given listeners.
func (l *live) submit(ctx context.Context, text string, onStage func(string), onToken client.TokenFunc) (string, error) {
	l.turnMu.Lock()
	defer l.turnMu.Unlock()
	l.onStage = onStage
	defer func() { l.onStage = nil }()
	return l.sess.Submit(ctx, text, onToken)
}

// NewServer returns a server for plex.  catalog is called for every
// persona listing so a reloaded catalog shows up immediately.
func NewServer(plex *core.Plex, catalog func() *persona.Catalog) *Server {
	s := &Server{
		plex:     plex,
		catalog:  catalog,
		sessions: make(map[string]*live),
	}
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Route("/api", func(r chi.Router) {
		r.Get("/personas", s.personasHandler)
		r.Get("/models", s.modelsHandler)
		r.Post("/sessions", s.startHandler)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.sessionHandler)
			r.Post("/turns", s.turnHandler)
			r.Delete("/transcript", s.clearHandler)
			r.Get("/ws", s.wsHandler)
		})
	})
	s.router = r
	return s
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Printf("Starting server on %s", addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	log.Printf("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) lookup(id string) (*live, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.sessions[id]
	return l, ok
}

// writeJSON writes v as the JSON response body.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// PersonaInfo describes a catalog entry.
type PersonaInfo struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Prompt string `json:"prompt"`
}

// ModelInfo describes a selectable model.
type ModelInfo struct {
	Choice  string `json:"choice"`
	Name    string `json:"name"`
	Default bool   `json:"default,omitempty"`
}

// StartRequest is the body of POST /api/sessions.
type StartRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Persona   string `json:"persona,omitempty"`
	Model     string `json:"model,omitempty"`
	Pipeline  string `json:"pipeline,omitempty"`
	Resume    bool   `json:"resume,omitempty"`
}

// SessionInfo describes a live session.
type SessionInfo struct {
	ID         string           `json:"id"`
	Persona    PersonaInfo      `json:"persona"`
	Model      string           `json:"model"`
	Pipeline   string           `json:"pipeline"`
	Notices    []string         `json:"notices,omitempty"`
	Transcript []client.ChatMsg `json:"transcript"`
}

// TurnRequest is the body of POST /api/sessions/{id}/turns.
type TurnRequest struct {
	Text string `json:"text"`
}

// TurnResponse is the result of a turn.  Warning is set when the
// reply is good but could not be saved.
type TurnResponse struct {
	Reply   string `json:"reply"`
	Warning string `json:"warning,omitempty"`
}

func info(sess *core.Session) SessionInfo {
	p := sess.Persona()
	return SessionInfo{
		ID:         sess.ID(),
		Persona:    PersonaInfo{ID: p.ID, Label: p.Label, Prompt: p.Prompt},
		Model:      sess.Model(),
		Pipeline:   string(sess.Mode()),
		Notices:    sess.Notices(),
		Transcript: sess.Transcript(),
	}
}

func (s *Server) personasHandler(w http.ResponseWriter, r *http.Request) {
	var out []PersonaInfo
	for _, p := range s.catalog().List() {
		out = append(out, PersonaInfo{ID: p.ID, Label: p.Label, Prompt: p.Prompt})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) modelsHandler(w http.ResponseWriter, r *http.Request) {
	var out []ModelInfo
	for _, m := range s.plex.Models.ListModels() {
		out = append(out, ModelInfo{
			Choice:  m.Choice,
			Name:    m.Name,
			Default: m.Choice == s.plex.Models.DefaultChoice,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) startHandler(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID != "" && !history.ValidID(req.SessionID) {
		writeError(w, http.StatusBadRequest, history.ErrInvalidID.Error())
		return
	}
	if l, ok := s.lookup(req.SessionID); ok {
		writeJSON(w, http.StatusOK, info(l.sess))
		return
	}
	mode, err := core.ParseMode(req.Pipeline)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	l := &live{}
	sess, err := s.plex.Start(r.Context(), core.StartOptions{
		SessionID: req.SessionID,
		PersonaID: req.Persona,
		Model:     req.Model,
		Mode:      mode,
		Resume:    req.Resume,
		OnStage:   l.stage,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	l.sess = sess
	s.mu.Lock()
	if prev, ok := s.sessions[sess.ID()]; ok {
		// lost a race with another start of the same id
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, info(prev.sess))
		return
	}
	s.sessions[sess.ID()] = l
	s.mu.Unlock()
	log.Printf("started session %s (persona %s, model %s)", sess.ID(), sess.Persona().ID, sess.Model())
	writeJSON(w, http.StatusCreated, info(sess))
}

func (s *Server) sessionHandler(w http.ResponseWriter, r *http.Request) {
	l, ok := s.lookup(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, info(l.sess))
}

func (s *Server) turnHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	l, ok := s.lookup(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	reply, err := l.submit(r.Context(), req.Text, nil, nil)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, TurnResponse{Reply: reply})
	case errors.Is(err, core.ErrPersistence):
		log.Printf("session %s: %v", id, err)
		writeJSON(w, http.StatusOK, TurnResponse{Reply: reply, Warning: err.Error()})
	case errors.Is(err, core.ErrInputRejected):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("session %s: %v", id, err)
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) clearHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	l, ok := s.lookup(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	l.turnMu.Lock()
	err := l.sess.Clear(r.Context())
	l.turnMu.Unlock()
	if err != nil {
		log.Printf("session %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
