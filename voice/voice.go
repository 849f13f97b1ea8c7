// Package voice gives plex a spoken interface by running external
// speech tools.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/anmitsu/go-shlex"
	. "github.com/stevegt/goadapt"
)

// Voice records and recognizes the user's speech and speaks replies.
type Voice interface {
	// Transcribe records one utterance and returns its text.
	Transcribe(ctx context.Context) (string, error)
	// Synthesize renders text in the given language and returns the
	// path of the resulting audio file.
	Synthesize(ctx context.Context, text, lang string) (file string, err error)
	// Play plays an audio file, returning when playback ends or ctx
	// is canceled.
	Play(ctx context.Context, file string) error
}

// Default command templates.  {in}, {out}, {lang}, and {text} are
// replaced after the template is split into words, so a substituted
// value is always a single argument.
const (
	DefaultRecord     = "arecord -q -f S16_LE -r 16000 -c 1 -d 5 {out}"
	DefaultRecognize  = "pocketsphinx single {in}"
	DefaultSynthesize = "pico2wave --wave {out} --lang {lang} {text}"
	DefaultEnhance    = "ffmpeg -y -loglevel error -i {in} -ac 2 -ar 44100 -sample_fmt s16 {out}"
	DefaultPlay       = "aplay -q {in}"
)

// Exec implements Voice with command templates.  An empty EnhanceCmd
// skips the enhancement step.
type Exec struct {
	RecordCmd     string
	RecognizeCmd  string
	SynthesizeCmd string
	EnhanceCmd    string
	PlayCmd       string
	// Dir holds the audio files; a temp dir is made if empty.
	Dir string
	// Stderr receives the tools' diagnostics; discarded if nil.
	Stderr io.Writer
}

// NewExec returns an Exec with the default templates.
func NewExec() *Exec {
	return &Exec{
		RecordCmd:     DefaultRecord,
		RecognizeCmd:  DefaultRecognize,
		SynthesizeCmd: DefaultSynthesize,
		EnhanceCmd:    DefaultEnhance,
		PlayCmd:       DefaultPlay,
	}
}

// Expand splits a command template into words and substitutes the
// placeholders in each word.
func Expand(tmpl string, vars map[string]string) (args []string, err error) {
	defer Return(&err)
	args, err = shlex.Split(tmpl, true)
	Ck(err)
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command template")
	}
	var pairs []string
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	// one pass, so substituted values are never rescanned
	r := strings.NewReplacer(pairs...)
	for i, arg := range args {
		args[i] = r.Replace(arg)
	}
	return
}

func (v *Exec) run(ctx context.Context, tmpl string, vars map[string]string) (stdout []byte, err error) {
	defer Return(&err)
	args, err := Expand(tmpl, vars)
	Ck(err)
	Debug("voice: %q", args)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var out bytes.Buffer
	cmd.Stdout = &out
	if v.Stderr != nil {
		cmd.Stderr = v.Stderr
	}
	err = cmd.Run()
	Ck(err, "%s", args[0])
	stdout = out.Bytes()
	return
}

func (v *Exec) dir() (dir string, err error) {
	if v.Dir != "" {
		return v.Dir, nil
	}
	v.Dir, err = os.MkdirTemp("", "plex-voice")
	return v.Dir, err
}

// Transcribe records to a wav file and runs the recognizer over it.
func (v *Exec) Transcribe(ctx context.Context) (text string, err error) {
	defer Return(&err)
	dir, err := v.dir()
	Ck(err)
	wav := filepath.Join(dir, "input.wav")
	_, err = v.run(ctx, v.RecordCmd, map[string]string{"out": wav})
	Ck(err)
	out, err := v.run(ctx, v.RecognizeCmd, map[string]string{"in": wav})
	Ck(err)
	text = recognized(out)
	return
}

// recognized extracts the text from recognizer output.  pocketsphinx
// prints one JSON object per utterance with the text in "t"; other
// recognizers print plain text.
func recognized(out []byte) string {
	var words []string
	dec := json.NewDecoder(bytes.NewReader(out))
	for {
		var utt struct {
			T string `json:"t"`
		}
		err := dec.Decode(&utt)
		if err == io.EOF {
			return strings.Join(words, " ")
		}
		if err != nil {
			return strings.TrimSpace(string(out))
		}
		if t := strings.TrimSpace(utt.T); t != "" {
			words = append(words, t)
		}
	}
}

// Synthesize runs the speech synthesizer and then the enhancer.
func (v *Exec) Synthesize(ctx context.Context, text, lang string) (file string, err error) {
	defer Return(&err)
	dir, err := v.dir()
	Ck(err)
	file = filepath.Join(dir, "speech.wav")
	_, err = v.run(ctx, v.SynthesizeCmd, map[string]string{"out": file, "lang": lang, "text": text})
	Ck(err)
	if v.EnhanceCmd == "" {
		return
	}
	enhanced := filepath.Join(dir, "enhanced_speech.wav")
	_, err = v.run(ctx, v.EnhanceCmd, map[string]string{"in": file, "out": enhanced})
	Ck(err)
	file = enhanced
	return
}

// Play runs the player on file.
func (v *Exec) Play(ctx context.Context, file string) (err error) {
	_, err = v.run(ctx, v.PlayCmd, map[string]string{"in": file})
	return
}

// Say synthesizes text and plays it.
func Say(ctx context.Context, v Voice, text, lang string) (err error) {
	defer Return(&err)
	file, err := v.Synthesize(ctx, text, lang)
	Ck(err)
	err = v.Play(ctx, file)
	Ck(err)
	return
}

// DefaultLang is the language used when the voice choice is empty or
// unknown.
const DefaultLang = "en-GB"

// Voices maps selection tokens to synthesizer languages.
var Voices = map[string]string{
	"1": "en-GB",
	"2": "en-US",
	"3": "de-DE",
	"4": "es-ES",
	"5": "fr-FR",
	"6": "it-IT",
}

// ResolveVoice maps a selection token or a language tag to a
// language.  ok is false when the default was used.
func ResolveVoice(choice string) (lang string, ok bool) {
	choice = strings.TrimSpace(choice)
	if lang, ok = Voices[choice]; ok {
		return
	}
	for _, l := range Voices {
		if strings.EqualFold(l, choice) {
			return l, true
		}
	}
	return DefaultLang, false
}

// ListVoices returns the selection tokens in order.
func ListVoices() (choices []string) {
	for k := range Voices {
		choices = append(choices, k)
	}
	sort.Slice(choices, func(i, j int) bool {
		a, _ := strconv.Atoi(choices[i])
		b, _ := strconv.Atoi(choices[j])
		return a < b
	})
	return
}
