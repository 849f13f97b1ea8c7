package core

import (
	"context"
	"errors"
	"testing"

	. "github.com/stevegt/goadapt"

	"github.com/stevegt/plex/client"
	"github.com/stevegt/plex/history"
	"github.com/stevegt/plex/mock"
	"github.com/stevegt/plex/persona"
)

func testCatalog(t *testing.T) *persona.Catalog {
	cat, err := persona.New("1",
		persona.Persona{ID: "1", Label: "Base", Prompt: "Base Assistant Prompt"},
		persona.Persona{ID: "2", Label: "Pirate", Prompt: "Talk like a pirate."},
	)
	Tassert(t, err == nil, "%v", err)
	return cat
}

func newPlex(t *testing.T, llm client.ChatClient, store history.Store) *Plex {
	return New(llm, testCatalog(t), NewModels(), store)
}

func newStore(t *testing.T) history.Store {
	s, err := history.NewFileStore(t.TempDir())
	Tassert(t, err == nil, "%v", err)
	return s
}

func countRole(msgs []client.ChatMsg, role string) (n int) {
	for _, m := range msgs {
		if m.Role == role {
			n++
		}
	}
	return
}

func TestSubmitPersonaInjection(t *testing.T) {
	ctx := context.Background()
	llm := mock.NewClient(mock.Reply{Text: "Hello there."})
	p := newPlex(t, llm, nil)
	s, err := p.Start(ctx, StartOptions{PersonaID: "1"})
	Tassert(t, err == nil, "%v", err)

	reply, err := s.Submit(ctx, "Hello", nil)
	Tassert(t, err == nil, "%v", err)
	Tassert(t, reply == "Hello there.", "got %q", reply)

	want := []client.ChatMsg{
		{Role: client.RoleSystem, Content: "Base Assistant Prompt"},
		{Role: client.RoleUser, Content: "Hello"},
		{Role: client.RoleAssistant, Content: "Hello there."},
	}
	got := s.Transcript()
	Tassert(t, len(got) == len(want), "got %v", got)
	for i := range want {
		Tassert(t, got[i] == want[i], "message %d: got %v want %v", i, got[i], want[i])
	}

	// the backend saw the system prompt and the question, not the
	// reply
	reqs := llm.Requests()
	Tassert(t, len(reqs) == 1, "got %d requests", len(reqs))
	Tassert(t, len(reqs[0].Messages) == 2, "got %v", reqs[0].Messages)
	Tassert(t, reqs[0].Model == "mistral:7b-instruct-v0.2-fp16", "got %q", reqs[0].Model)
}

func TestSystemMessageOnce(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	llm := mock.NewClient()
	p := newPlex(t, llm, store)

	s, err := p.Start(ctx, StartOptions{SessionID: "once"})
	Tassert(t, err == nil, "%v", err)
	for _, q := range []string{"one", "two", "three"} {
		_, err = s.Submit(ctx, q, nil)
		Tassert(t, err == nil, "%v", err)
	}
	Tassert(t, countRole(s.Transcript(), client.RoleSystem) == 1)

	// a resumed session must not inject the prompt again
	s2, err := p.Start(ctx, StartOptions{SessionID: "once", Resume: true})
	Tassert(t, err == nil, "%v", err)
	Tassert(t, len(s2.Transcript()) == 7, "got %v", s2.Transcript())
	_, err = s2.Submit(ctx, "four", nil)
	Tassert(t, err == nil, "%v", err)
	got := s2.Transcript()
	Tassert(t, countRole(got, client.RoleSystem) == 1, "got %v", got)
	Tassert(t, got[0].Role == client.RoleSystem, "system message must come first: %v", got)
	Tassert(t, len(got) == 9, "got %v", got)
}

func TestSubmitRejectsEmpty(t *testing.T) {
	ctx := context.Background()
	llm := mock.NewClient()
	p := newPlex(t, llm, newStore(t))
	s, err := p.Start(ctx, StartOptions{})
	Tassert(t, err == nil, "%v", err)

	for _, txt := range []string{"", "   ", "\n\t "} {
		_, err = s.Submit(ctx, txt, nil)
		Tassert(t, errors.Is(err, ErrInputRejected), "%q: got %v", txt, err)
	}
	Tassert(t, len(s.Transcript()) == 0, "got %v", s.Transcript())
	Tassert(t, llm.Calls() == 0, "backend called %d times", llm.Calls())
}

func TestSubmitTrims(t *testing.T) {
	ctx := context.Background()
	p := newPlex(t, mock.NewClient(), nil)
	s, err := p.Start(ctx, StartOptions{})
	Tassert(t, err == nil, "%v", err)
	_, err = s.Submit(ctx, "  Hi there \n", nil)
	Tassert(t, err == nil, "%v", err)
	Tassert(t, s.Transcript()[1].Content == "Hi there", "got %q", s.Transcript()[1].Content)
}

func TestSubmitInvalidUTF8(t *testing.T) {
	ctx := context.Background()
	llm := mock.NewClient()
	llm.Push(mock.Reply{Text: "ol\xe1 amigo"})
	store := newStore(t)
	p := newPlex(t, llm, store)
	s, err := p.Start(ctx, StartOptions{SessionID: "utf8"})
	Tassert(t, err == nil, "%v", err)

	reply, err := s.Submit(ctx, "caf\xe9", nil)
	Tassert(t, err == nil, "%v", err)
	Tassert(t, reply == "ol\uFFFD amigo", "got %q", reply)

	mem := s.Transcript()
	Tassert(t, mem[1].Content == "caf\uFFFD", "got %q", mem[1].Content)
	saved, err := store.Load(ctx, "utf8")
	Tassert(t, err == nil, "%v", err)
	Tassert(t, len(saved) == len(mem), "got %v", saved)
	for i := range mem {
		Tassert(t, saved[i] == mem[i], "message %d: saved %q, in memory %q", i, saved[i].Content, mem[i].Content)
	}
}

func TestSubmitTransportError(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection refused")
	llm := mock.NewClient(mock.Reply{Err: boom}, mock.Reply{Text: "Hello."})
	p := newPlex(t, llm, nil)
	s, err := p.Start(ctx, StartOptions{})
	Tassert(t, err == nil, "%v", err)

	reply, err := s.Submit(ctx, "Hi", nil)
	Tassert(t, errors.Is(err, ErrCompletion), "got %v", err)
	Tassert(t, errors.Is(err, boom), "cause lost: %v", err)
	Tassert(t, reply == "", "got %q", reply)
	got := s.Transcript()
	Tassert(t, len(got) == 2, "got %v", got)
	Tassert(t, got[1] == client.ChatMsg{Role: client.RoleUser, Content: "Hi"}, "got %v", got)
	Tassert(t, countRole(got, client.RoleAssistant) == 0)

	// resubmitting retries
	reply, err = s.Submit(ctx, "Hi", nil)
	Tassert(t, err == nil, "%v", err)
	Tassert(t, reply == "Hello.", "got %q", reply)
}

func TestSubmitEmptyReply(t *testing.T) {
	ctx := context.Background()
	p := newPlex(t, mock.NewClient(mock.Reply{Text: "  "}), nil)
	s, err := p.Start(ctx, StartOptions{})
	Tassert(t, err == nil, "%v", err)
	_, err = s.Submit(ctx, "Hi", nil)
	Tassert(t, errors.Is(err, ErrCompletion), "got %v", err)
	Tassert(t, countRole(s.Transcript(), client.RoleAssistant) == 0)
}

func TestRefinePipeline(t *testing.T) {
	ctx := context.Background()
	llm := mock.NewClient(
		mock.Reply{Text: "base answer"},
		mock.Reply{Text: "- be shorter"},
		mock.Reply{Text: "final answer"},
	)
	p := newPlex(t, llm, nil)
	var stages []string
	s, err := p.Start(ctx, StartOptions{Mode: ModeRefine, OnStage: func(name string) {
		stages = append(stages, name)
	}})
	Tassert(t, err == nil, "%v", err)

	var streamed string
	reply, err := s.Submit(ctx, "What is Go?", func(frag string) { streamed += frag })
	Tassert(t, err == nil, "%v", err)
	Tassert(t, reply == "final answer", "got %q", reply)
	Tassert(t, streamed == "base answer- be shorterfinal answer", "got %q", streamed)
	Tassert(t, len(stages) == 3 && stages[0] == "base" && stages[2] == "final", "got %v", stages)

	got := s.Transcript()
	Tassert(t, countRole(got, client.RoleAssistant) == 1, "got %v", got)
	Tassert(t, got[len(got)-1].Content == "final answer", "got %v", got)
	Tassert(t, len(got) == 3, "got %v", got)

	reqs := llm.Requests()
	Tassert(t, len(reqs) == 3, "got %d", len(reqs))
	// refiner sees the tail plus its prompt and the base answer
	ref := reqs[1].Messages
	Tassert(t, ref[len(ref)-2].Content == SysMsgRefiner, "got %v", ref)
	Tassert(t, ref[len(ref)-1] == client.ChatMsg{Role: client.RoleUser, Content: "base answer"}, "got %v", ref)
	// final sees question, base answer, and notes
	fin := reqs[2].Messages
	n := len(fin)
	Tassert(t, fin[n-3].Content == "What is Go?", "got %v", fin)
	Tassert(t, fin[n-2] == client.ChatMsg{Role: client.RoleAssistant, Content: "base answer"}, "got %v", fin)
	Tassert(t, fin[n-1].Content == "- be shorter", "got %v", fin)
}

func TestRefineStageFailure(t *testing.T) {
	ctx := context.Background()
	llm := mock.NewClient(mock.Reply{Text: "base"}, mock.Reply{Err: errors.New("timeout")})
	p := newPlex(t, llm, nil)
	s, err := p.Start(ctx, StartOptions{Mode: ModeRefine})
	Tassert(t, err == nil, "%v", err)
	_, err = s.Submit(ctx, "q", nil)
	Tassert(t, errors.Is(err, ErrCompletion), "got %v", err)
	Tassert(t, llm.Calls() == 2, "final stage must not run: %d calls", llm.Calls())
	Tassert(t, countRole(s.Transcript(), client.RoleAssistant) == 0)
}

func TestStartFallbacks(t *testing.T) {
	ctx := context.Background()
	p := newPlex(t, mock.NewClient(), nil)
	s, err := p.Start(ctx, StartOptions{PersonaID: "99", Model: "bogus"})
	Tassert(t, err == nil, "%v", err)
	Tassert(t, s.Persona().ID == "1", "got %v", s.Persona())
	Tassert(t, s.Model() == "mistral:7b-instruct-v0.2-fp16", "got %q", s.Model())
	Tassert(t, len(s.Notices()) == 2, "got %v", s.Notices())
	Tassert(t, s.ID() != "", "no session id")

	s, err = p.Start(ctx, StartOptions{PersonaID: "2", Model: "3"})
	Tassert(t, err == nil, "%v", err)
	Tassert(t, s.Persona().Label == "Pirate", "got %v", s.Persona())
	Tassert(t, s.Model() == "dolphin-mixtral", "got %q", s.Model())
	Tassert(t, len(s.Notices()) == 0, "got %v", s.Notices())

	_, err = p.Start(ctx, StartOptions{Mode: "sideways"})
	Tassert(t, err != nil, "expected error for unknown mode")
}

type failStore struct {
	history.Store
	loadErr, saveErr error
}

func (f *failStore) Load(ctx context.Context, id string) ([]client.ChatMsg, error) {
	return nil, f.loadErr
}

func (f *failStore) Save(ctx context.Context, id string, msgs []client.ChatMsg) error {
	return f.saveErr
}

func TestResumeLoadFailure(t *testing.T) {
	ctx := context.Background()
	store := &failStore{loadErr: errors.New("corrupt")}
	p := newPlex(t, mock.NewClient(), store)
	s, err := p.Start(ctx, StartOptions{SessionID: "x", Resume: true})
	Tassert(t, err == nil, "%v", err)
	Tassert(t, len(s.Transcript()) == 0)
	Tassert(t, len(s.Notices()) == 1, "got %v", s.Notices())
}

func TestPersistenceFailure(t *testing.T) {
	ctx := context.Background()
	store := &failStore{saveErr: errors.New("disk full")}
	p := newPlex(t, mock.NewClient(mock.Reply{Text: "ok"}), store)
	s, err := p.Start(ctx, StartOptions{})
	Tassert(t, err == nil, "%v", err)
	reply, err := s.Submit(ctx, "hi", nil)
	Tassert(t, errors.Is(err, ErrPersistence), "got %v", err)
	Tassert(t, reply == "ok", "got %q", reply)
	Tassert(t, len(s.Transcript()) == 3, "got %v", s.Transcript())
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	p := newPlex(t, mock.NewClient(), store)
	s, err := p.Start(ctx, StartOptions{SessionID: "c"})
	Tassert(t, err == nil, "%v", err)
	_, err = s.Submit(ctx, "hi", nil)
	Tassert(t, err == nil, "%v", err)

	err = s.Clear(ctx)
	Tassert(t, err == nil, "%v", err)
	Tassert(t, len(s.Transcript()) == 0)
	saved, err := store.Load(ctx, "c")
	Tassert(t, err == nil && len(saved) == 0, "got %v %v", saved, err)

	// persona is injected again after a clear
	_, err = s.Submit(ctx, "again", nil)
	Tassert(t, err == nil, "%v", err)
	got := s.Transcript()
	Tassert(t, len(got) == 3 && got[0].Role == client.RoleSystem, "got %v", got)
}

func TestTokenCount(t *testing.T) {
	ctx := context.Background()
	p := newPlex(t, mock.NewClient(mock.Reply{Text: "hello world"}), nil)
	s, err := p.Start(ctx, StartOptions{})
	Tassert(t, err == nil, "%v", err)
	n, err := s.TokenCount()
	Tassert(t, err == nil && n == 0, "got %d %v", n, err)
	_, err = s.Submit(ctx, "hello world", nil)
	Tassert(t, err == nil, "%v", err)
	n, err = s.TokenCount()
	Tassert(t, err == nil, "%v", err)
	Tassert(t, n > 4, "got %d", n)
}
