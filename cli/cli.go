package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/alecthomas/kong"
	. "github.com/stevegt/goadapt"

	"github.com/stevegt/plex/client"
	plexcfg "github.com/stevegt/plex/config"
	"github.com/stevegt/plex/core"
	"github.com/stevegt/plex/persona"
	"github.com/stevegt/plex/voice"
	"github.com/stevegt/plex/web"
)

// SessionFlags are shared by the commands that hold a conversation.
type SessionFlags struct {
	Model    string `short:"m" help:"Model choice number or model name."`
	Persona  string `short:"p" help:"Persona id from the catalog (see 'plex personas')."`
	Pipeline string `default:"base" enum:"base,refine" help:"Pipeline: base, or refine for base -> refiner -> final."`
	Session  string `short:"S" help:"Session id; the transcript is saved under this name."`
	Resume   bool   `short:"r" help:"Load the session's saved transcript before the first turn."`
}

// cmdChat holds an interactive conversation on stdin/stdout.
type cmdChat struct {
	SessionFlags `embed:""`
	Name         string `short:"n" help:"Name the assistant answers as (default PLEX_ASSISTANT_NAME or Plex)."`
	Voice        string `help:"Enable speech with this voice (number or language tag, see 'plex voices')."`
	Speak        bool   `help:"Speak every reply aloud (needs --voice)."`
}

type cmdAsk struct {
	SessionFlags `embed:""`
	Question     []string `arg:"" help:"Question to ask."`
}

type cmdHistoryLs struct{}

type cmdHistoryShow struct {
	ID string `arg:"" help:"Session id."`
}

type cmdHistoryRm struct {
	ID string `arg:"" help:"Session id."`
}

type cmdHistory struct {
	Ls   cmdHistoryLs   `cmd:"" help:"List saved sessions."`
	Show cmdHistoryShow `cmd:"" help:"Print a saved transcript."`
	Rm   cmdHistoryRm   `cmd:"" help:"Delete a saved transcript."`
}

type cmdServe struct {
	Listen string `short:"l" help:"Address to listen on (default PLEX_LISTEN or :8080)."`
}

type cmdPersonas struct{}

type cmdModels struct{}

type cmdVoices struct{}

type cmdTc struct{}

type cmdVersion struct{}

type cmdline struct {
	Chat     cmdChat     `cmd:"" help:"Have a conversation; type 'quit' to exit, 'clear' to start over, 'speak' to talk."`
	Ask      cmdAsk      `cmd:"" help:"Ask one question and print the reply."`
	History  cmdHistory  `cmd:"" help:"Inspect saved sessions."`
	Models   cmdModels   `cmd:"" help:"List all available models."`
	Personas cmdPersonas `cmd:"" help:"List the persona catalog."`
	Serve    cmdServe    `cmd:"" help:"Serve the browser chat API."`
	Tc       cmdTc       `cmd:"" help:"Calculate the token count of stdin."`
	Voices   cmdVoices   `cmd:"" help:"List the available voices."`
	Version  cmdVersion  `cmd:"" help:"Show version of plex."`
	Env      string      `default:".env" help:"Settings file read before the environment."`
	Verbose  bool        `short:"v" help:"Show debug and progress information on stderr."`
}

// CliConfig contains the configuration for plex's cli
type CliConfig struct {
	// Name is the name of the program
	Name string
	// Description is a short description of the program
	Description string
	// Version is the version of the program
	Version string
	// Exit is the function to call to exit the program
	Exit   func(int)
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// Client replaces the configured completion backend if set.
	Client client.ChatClient
	// Voice replaces the configured speech commands if set.
	Voice voice.Voice
}

// NewCliConfig returns a new Config struct with default values populated
func NewCliConfig() *CliConfig {
	return &CliConfig{
		Name:        "plex",
		Description: "Chat with a local language model, with personas, an optional refining pipeline, and speech.",
		Version:     core.Version,
		Exit:        func(i int) { os.Exit(i) },
		Stdin:       os.Stdin,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
	}
}

// Cli parses the given arguments and then executes the appropriate
// subcommand.
//
// We use this function instead of kong.Parse() so that we can pass in
// the arguments to parse.  This allows us to more easily test the
// cli subcommands.
func Cli(args []string, config *CliConfig) (rc int, err error) {
	defer Return(&err)

	// capture goadapt stdio
	SetStdio(
		config.Stdin,
		config.Stdout,
		config.Stderr,
	)
	defer SetStdio(nil, nil, nil)

	options := []kong.Option{
		kong.Name(config.Name),
		kong.Description(config.Description),
		kong.Exit(config.Exit),
		kong.Writers(config.Stdout, config.Stderr),
		kong.Vars{
			"version": config.Version,
		},
	}

	var cli cmdline
	var parser *kong.Kong
	parser, err = kong.New(&cli, options...)
	Ck(err)
	ctx, err := parser.Parse(args)
	parser.FatalIfErrorf(err)
	if err != nil {
		return 1, nil
	}

	if cli.Verbose {
		os.Setenv("DEBUG", "1")
	}

	cmd := ctx.Command()
	Debug("cmd: %s", cmd)

	// commands that need no settings
	switch cmd {
	case "version":
		Pf("plex version %s\n", config.Version)
		return
	case "models":
		models := core.NewModels()
		for _, m := range models.ListModels() {
			mark := ""
			if m.Choice == models.DefaultChoice {
				mark = " (default)"
			}
			Pf("%s%s\n", m, mark)
		}
		return
	case "voices":
		for _, choice := range voice.ListVoices() {
			mark := ""
			if voice.Voices[choice] == voice.DefaultLang {
				mark = " (default)"
			}
			Pf("%s: %s%s\n", choice, voice.Voices[choice], mark)
		}
		return
	case "tc":
		// get content from stdin and emit token count on stdout
		var buf []byte
		buf, err = io.ReadAll(config.Stdin)
		Ck(err)
		var count int
		count, err = core.TokenCount(strings.TrimSpace(string(buf)))
		Ck(err)
		Pf("%d\n", count)
		return
	}

	settings, err := plexcfg.Load(cli.Env)
	Ck(err)

	catalog, err := settings.Catalog()
	Ck(err)
	if cmd == "personas" {
		for _, p := range catalog.List() {
			Pl(p)
		}
		return
	}

	store, err := settings.Store()
	Ck(err)
	defer plexcfg.CloseStore(store)

	llm := config.Client
	if llm == nil {
		llm = settings.ChatClient()
	}
	plex := core.New(llm, catalog, core.NewModels(), store)

	bg := context.Background()
	switch cmd {
	case "chat":
		name := cli.Chat.Name
		if name == "" {
			name = settings.AssistantName
		}
		var v voice.Voice
		var lang string
		if cli.Chat.Voice != "" {
			v = config.Voice
			if v == nil {
				v = settings.Voice()
			}
			var ok bool
			lang, ok = voice.ResolveVoice(cli.Chat.Voice)
			if !ok {
				Fpf(config.Stderr, "Invalid voice choice %q. Using default voice '%s'.\n", cli.Chat.Voice, lang)
			}
		}
		r := &repl{
			plex:   plex,
			flags:  cli.Chat.SessionFlags,
			name:   name,
			voice:  v,
			lang:   lang,
			speak:  cli.Chat.Speak,
			stdin:  config.Stdin,
			stderr: config.Stderr,
		}
		err = r.run(bg)
		Ck(err)
	case "ask <question>":
		question := strings.Join(cli.Ask.Question, " ")
		var reply string
		reply, rc, err = ask(bg, plex, cli.Ask.SessionFlags, question, config.Stderr)
		Ck(err)
		if rc == 0 {
			Pl(reply)
		}
	case "history ls":
		var ids []string
		ids, err = store.List(bg)
		Ck(err)
		for _, id := range ids {
			Pl(id)
		}
	case "history show <id>":
		var msgs []client.ChatMsg
		msgs, err = store.Load(bg, cli.History.Show.ID)
		Ck(err)
		if len(msgs) == 0 {
			Fpf(config.Stderr, "no transcript for session %s\n", cli.History.Show.ID)
			rc = 1
			return
		}
		for _, msg := range msgs {
			Pf("%s: %s\n\n", msg.Role, msg.Content)
		}
	case "history rm <id>":
		err = store.Delete(bg, cli.History.Rm.ID)
		Ck(err)
	case "serve":
		listen := cli.Serve.Listen
		if listen == "" {
			listen = settings.Listen
		}
		err = serve(bg, plex, catalog, settings, listen)
		Ck(err)
	default:
		Fpf(config.Stderr, "Error: unrecognized command: %s\n", cmd)
		rc = 1
		return
	}
	return
}

// serve runs the web API until interrupted.  A configured catalog
// file is watched and reloaded while serving.
func serve(ctx context.Context, plex *core.Plex, catalog *persona.Catalog, settings *plexcfg.Config, listen string) (err error) {
	defer Return(&err)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	current := func() *persona.Catalog { return catalog }
	if settings.Personas != "" {
		w, err := persona.Watch(settings.Personas)
		Ck(err)
		defer w.Close()
		go w.Run(ctx)
		plex.Personas = w
		current = w.Catalog
	}
	srv := web.NewServer(plex, current)
	err = srv.ListenAndServe(ctx, listen)
	Ck(err)
	return
}
