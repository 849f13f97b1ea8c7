package cli

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"

	. "github.com/stevegt/goadapt"

	"github.com/stevegt/plex/core"
	"github.com/stevegt/plex/voice"
)

// stage labels printed before each stage's streamed output in refine
// mode
var stageLabels = map[string]string{
	"base":    "Base Assistant",
	"refiner": "Refiner Assistant",
	"final":   "Final Response",
}

// startOptions converts the shared flags into session options.
func startOptions(flags SessionFlags) (opts core.StartOptions, err error) {
	mode, err := core.ParseMode(flags.Pipeline)
	if err != nil {
		return
	}
	opts = core.StartOptions{
		SessionID: flags.Session,
		PersonaID: flags.Persona,
		Model:     flags.Model,
		Mode:      mode,
		Resume:    flags.Resume,
	}
	return
}

// repl is an interactive chat on stdin and stdout.
type repl struct {
	plex   *core.Plex
	flags  SessionFlags
	name   string
	voice  voice.Voice
	lang   string
	speak  bool
	stdin  io.Reader
	stderr io.Writer
}

func (r *repl) run(ctx context.Context) (err error) {
	defer Return(&err)
	opts, err := startOptions(r.flags)
	Ck(err)
	if opts.SessionID == "" {
		// matches the file name earlier plex versions used
		opts.SessionID = "chat"
	}
	if opts.Mode == core.ModeRefine {
		opts.OnStage = func(name string) {
			if name != "base" {
				Pf("\n\n")
			}
			Pf("%s: ", stageLabels[name])
		}
	} else {
		opts.OnStage = func(string) { Pf("%s: ", r.name) }
	}
	s, err := r.plex.Start(ctx, opts)
	Ck(err)
	for _, notice := range s.Notices() {
		Fpf(r.stderr, "%s\n", notice)
	}

	Pl("Welcome to the conversational AI!")
	Pf("Chatting with %s (%s, persona %s: %s).\n", r.name, s.Model(), s.Persona().ID, s.Persona().Label)
	if r.voice != nil {
		Pl("Type 'speak' to record, enter your text directly, 'clear' to start over, or 'quit' to exit.")
	} else {
		Pl("Type 'clear' to start over or 'quit' to exit the conversation.")
	}
	Pl()

	scanner := bufio.NewScanner(r.stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		Pf("You: ")
		if !scanner.Scan() {
			Pl()
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "quit":
			Pl("Goodbye!")
			return
		case "clear":
			err = s.Clear(ctx)
			if err != nil {
				Fpf(r.stderr, "Error: %v\n", err)
				err = nil
			}
			Pl("Conversation cleared.")
			continue
		case "speak":
			if r.voice == nil {
				Fpf(r.stderr, "Speech is off; start plex chat with --voice to use it.\n")
				continue
			}
			Pl("Recording... Speak now.")
			line, err = r.voice.Transcribe(ctx)
			if err != nil {
				Fpf(r.stderr, "Error: %v\n", err)
				err = nil
				continue
			}
			line = strings.TrimSpace(line)
			if line == "" {
				Pl("No speech recognized. Please try again.")
				continue
			}
			Pf("Recognized text: %s\n", line)
		}
		r.turn(ctx, s, line)
	}
	err = scanner.Err()
	Ck(err)
	return
}

// turn submits one user turn, streaming the reply.  Turn failures
// are reported and the loop continues.
func (r *repl) turn(ctx context.Context, s *core.Session, text string) {
	reply, err := s.Submit(ctx, text, func(frag string) { Pf("%s", frag) })
	Pf("\n\n")
	switch {
	case errors.Is(err, core.ErrCompletion):
		Fpf(r.stderr, "Error: %v\nType your message again to retry.\n", err)
		return
	case err != nil:
		// the reply is good; only saving failed
		Fpf(r.stderr, "Warning: %v\n", err)
	}
	if r.speak && r.voice != nil {
		err = voice.Say(ctx, r.voice, reply, r.lang)
		if err != nil {
			Fpf(r.stderr, "Error: %v\n", err)
		}
	}
}

// ask runs a single turn.  rc is nonzero if the turn failed.
func ask(ctx context.Context, plex *core.Plex, flags SessionFlags, question string, stderr io.Writer) (reply string, rc int, err error) {
	defer Return(&err)
	opts, err := startOptions(flags)
	Ck(err)
	if opts.SessionID == "" {
		// one-off questions are not saved
		p := *plex
		p.Store = nil
		plex = &p
	}
	s, err := plex.Start(ctx, opts)
	Ck(err)
	for _, notice := range s.Notices() {
		Fpf(stderr, "%s\n", notice)
	}
	reply, err = s.Submit(ctx, question, nil)
	switch {
	case errors.Is(err, core.ErrPersistence):
		Fpf(stderr, "Warning: %v\n", err)
		err = nil
	case err != nil:
		Fpf(stderr, "Error: %v\n", err)
		return "", 1, nil
	}
	return
}
