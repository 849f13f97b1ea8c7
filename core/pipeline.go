package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	. "github.com/stevegt/goadapt"
	"github.com/stevegt/plex/client"
)

var SysMsgRefiner = `YOU SHOULD NEVER OUTPUT MORE THAN A FEW SENTENCES.
As a refiner assistant, your role is to provide concise, actionable feedback to improve the base assistant's responses, focusing on enhancing clarity, relevance, and overall helpfulness. Analyze the response and identify specific areas for improvement, such as:
- Removing unnecessary or redundant information
- Improving the organization and structure of the response
- Ensuring the response directly addresses the user's question
- Suggesting ways to make the explanation clearer or easier to understand
- Recommending additional relevant information or examples to include
Provide your feedback in a clear, bullet-pointed format, and prioritize the most impactful changes. Avoid engaging in conversations with the base assistant or making subjective comments.`

var SysMsgFinal = `You are an agent meant to take the data from the refiner, and provide a final message back to the user. The user doesn't know you are talking with a refiner agent. Ensure you focus on providing a concise and meaningful answer to the user, never mentioning the refiner agents. Enhance the response for clarity and conciseness, focusing on directly answering the user's question with minimal additional information.`

// RefinerWindow is the number of trailing transcript messages the
// refiner sees.
const RefinerWindow = 3

// StageInput is what a pipeline stage works from.  Transcript is a
// private copy ending with the current user message; stages may do
// what they like with it.
type StageInput struct {
	Model      string
	Transcript []client.ChatMsg
	Question   string
	// Outputs holds the outputs of the stages that already ran, in
	// order.
	Outputs []string
	OnToken client.TokenFunc
}

// Base returns the first stage's output.
func (in StageInput) Base() string {
	if len(in.Outputs) == 0 {
		return ""
	}
	return in.Outputs[0]
}

// Last returns the most recent stage's output.
func (in StageInput) Last() string {
	if len(in.Outputs) == 0 {
		return ""
	}
	return in.Outputs[len(in.Outputs)-1]
}

// Stage is one step of a turn.  It must not keep or modify anything
// it is given.
type Stage interface {
	Name() string
	Run(ctx context.Context, llm client.ChatClient, in StageInput) (out string, err error)
}

// BaseStage answers the user from the full transcript.
type BaseStage struct{}

func (BaseStage) Name() string { return "base" }

func (BaseStage) Run(ctx context.Context, llm client.ChatClient, in StageInput) (string, error) {
	return client.Complete(ctx, llm, in.Model, in.Transcript, in.OnToken)
}

// RefinerStage critiques the previous stage's output using only the
// tail of the transcript.
type RefinerStage struct {
	Window int
	Prompt string
}

func (RefinerStage) Name() string { return "refiner" }

func (s RefinerStage) Run(ctx context.Context, llm client.ChatClient, in StageInput) (string, error) {
	msgs := client.Tail(in.Transcript, s.Window)
	msgs = append(msgs,
		client.ChatMsg{Role: client.RoleSystem, Content: s.Prompt},
		client.ChatMsg{Role: client.RoleUser, Content: in.Last()},
	)
	return client.Complete(ctx, llm, in.Model, msgs, in.OnToken)
}

// FinalStage rewrites the base answer using the refiner's notes.
type FinalStage struct {
	Prompt string
}

func (FinalStage) Name() string { return "final" }

func (s FinalStage) Run(ctx context.Context, llm client.ChatClient, in StageInput) (string, error) {
	msgs := client.Copy(in.Transcript)
	msgs = append(msgs,
		client.ChatMsg{Role: client.RoleSystem, Content: s.Prompt},
		client.ChatMsg{Role: client.RoleUser, Content: in.Question},
		client.ChatMsg{Role: client.RoleAssistant, Content: in.Base()},
		client.ChatMsg{Role: client.RoleUser, Content: in.Last()},
	)
	return client.Complete(ctx, llm, in.Model, msgs, in.OnToken)
}

// Mode names a pipeline configuration.
type Mode string

const (
	// ModeBase answers with the base stage only.
	ModeBase Mode = "base"
	// ModeRefine runs base, refiner, and final stages.
	ModeRefine Mode = "refine"
)

// ParseMode converts a mode name to a Mode.  An empty name means
// ModeBase.
func ParseMode(name string) (mode Mode, err error) {
	switch Mode(strings.ToLower(strings.TrimSpace(name))) {
	case "", ModeBase:
		mode = ModeBase
	case ModeRefine:
		mode = ModeRefine
	default:
		err = fmt.Errorf("unknown pipeline mode %q (want %q or %q)", name, ModeBase, ModeRefine)
	}
	return
}

// Pipeline runs its stages strictly in order, feeding each stage the
// outputs of the ones before it.  The last stage's output is the
// reply.
type Pipeline struct {
	Stages []Stage
	// OnStage, if set, is called before each stage runs.
	OnStage func(name string)
}

// NewPipeline returns the pipeline for mode.
func NewPipeline(mode Mode) *Pipeline {
	p := &Pipeline{Stages: []Stage{BaseStage{}}}
	if mode == ModeRefine {
		p.Stages = append(p.Stages,
			RefinerStage{Window: RefinerWindow, Prompt: SysMsgRefiner},
			FinalStage{Prompt: SysMsgFinal},
		)
	}
	return p
}

// Run executes the stages.  Any stage error, or an empty output,
// aborts the run.
func (p *Pipeline) Run(ctx context.Context, llm client.ChatClient, in StageInput) (reply string, err error) {
	if len(p.Stages) == 0 {
		return "", fmt.Errorf("no stages configured in pipeline")
	}
	in.Outputs = nil
	for _, st := range p.Stages {
		if p.OnStage != nil {
			p.OnStage(st.Name())
		}
		start := time.Now()
		// each stage gets its own copy of the transcript
		stageIn := in
		stageIn.Transcript = client.Copy(in.Transcript)
		var out string
		out, err = st.Run(ctx, llm, stageIn)
		if err != nil {
			return "", fmt.Errorf("stage %s failed: %w", st.Name(), err)
		}
		if strings.TrimSpace(out) == "" {
			return "", fmt.Errorf("stage %s failed: %w", st.Name(), client.ErrEmptyReply)
		}
		out = strings.ToValidUTF8(out, "\uFFFD")
		Debug("stage %s done in %dms, %d bytes", st.Name(), time.Since(start).Milliseconds(), len(out))
		in.Outputs = append(in.Outputs, out)
	}
	reply = in.Last()
	return
}
