package core

import (
	"context"
	"errors"
	"testing"

	. "github.com/stevegt/goadapt"

	"github.com/stevegt/plex/client"
	"github.com/stevegt/plex/mock"
)

var convo = []client.ChatMsg{
	{Role: client.RoleSystem, Content: "sys"},
	{Role: client.RoleUser, Content: "q1"},
	{Role: client.RoleAssistant, Content: "a1"},
	{Role: client.RoleUser, Content: "q2"},
}

// The refiner works on a copy of the transcript tail; the caller's
// slice is never touched.
func TestRefinerIsolation(t *testing.T) {
	llm := mock.NewClient(mock.Reply{Text: "notes"})
	orig := client.Copy(convo)
	in := StageInput{Model: "m", Transcript: orig, Question: "q2", Outputs: []string{"base"}}
	out, err := RefinerStage{Window: 3, Prompt: "refine"}.Run(context.Background(), llm, in)
	Tassert(t, err == nil, "%v", err)
	Tassert(t, out == "notes", "got %q", out)
	Tassert(t, len(orig) == len(convo), "transcript grew: %v", orig)
	for i := range convo {
		Tassert(t, orig[i] == convo[i], "message %d changed: %v", i, orig[i])
	}
	sent := llm.Requests()[0].Messages
	Tassert(t, len(sent) == 5, "got %v", sent)
	Tassert(t, sent[0].Content == "q1", "window should start at q1: %v", sent)
}

func TestPipelineOrder(t *testing.T) {
	llm := mock.NewClient(mock.Reply{Text: "A"}, mock.Reply{Text: "B"}, mock.Reply{Text: "C"})
	p := NewPipeline(ModeRefine)
	var names []string
	p.OnStage = func(name string) { names = append(names, name) }
	reply, err := p.Run(context.Background(), llm, StageInput{Model: "m", Transcript: convo, Question: "q2"})
	Tassert(t, err == nil, "%v", err)
	Tassert(t, reply == "C", "got %q", reply)
	Tassert(t, len(names) == 3 && names[1] == "refiner", "got %v", names)
	Tassert(t, llm.Calls() == 3)
}

func TestPipelineBaseOnly(t *testing.T) {
	llm := mock.NewClient(mock.Reply{Text: "only"})
	reply, err := NewPipeline(ModeBase).Run(context.Background(), llm, StageInput{Model: "m", Transcript: convo})
	Tassert(t, err == nil, "%v", err)
	Tassert(t, reply == "only", "got %q", reply)
	sent := llm.Requests()[0].Messages
	Tassert(t, len(sent) == len(convo), "got %v", sent)
}

func TestPipelineEmptyStage(t *testing.T) {
	llm := mock.NewClient(mock.Reply{Text: "A"}, mock.Reply{Text: ""})
	_, err := NewPipeline(ModeRefine).Run(context.Background(), llm, StageInput{Model: "m", Transcript: convo})
	Tassert(t, errors.Is(err, client.ErrEmptyReply), "got %v", err)
	Tassert(t, llm.Calls() == 2, "got %d calls", llm.Calls())
}
