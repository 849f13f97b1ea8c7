package client

import (
	"context"
	"errors"
	"io"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMsg represents a single chat message.  A slice of ChatMsg is a
// transcript; its order is the order sent to the backend.
type ChatMsg struct {
	Role    string `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// ChatClient defines the interface for chat completion backends.
// Implementations (such as ollama.Client and openai.Client) send the
// messages to the given model and return the reply as a Stream of
// text fragments.
type ChatClient interface {
	Stream(ctx context.Context, model string, msgs []ChatMsg) (Stream, error)
}

// Stream is a lazy, finite, non-restartable sequence of reply
// fragments.  Recv returns io.EOF after the last fragment.
type Stream interface {
	Recv() (fragment string, err error)
	Close() error
}

// TokenFunc receives each fragment of a reply in arrival order.
type TokenFunc func(fragment string)

// ErrEmptyReply is returned by Collect when a stream ends without
// producing any content.
var ErrEmptyReply = errors.New("backend returned no content")

// Collect drains a stream, calling onToken (if not nil) for each
// fragment, and returns the concatenated reply.  The stream is closed
// before Collect returns.
func Collect(stream Stream, onToken TokenFunc) (reply string, err error) {
	defer stream.Close()
	var buf strings.Builder
	for {
		var frag string
		frag, err = stream.Recv()
		if errors.Is(err, io.EOF) {
			err = nil
			break
		}
		if err != nil {
			return "", err
		}
		if frag == "" {
			continue
		}
		buf.WriteString(frag)
		if onToken != nil {
			onToken(frag)
		}
	}
	reply = buf.String()
	if strings.TrimSpace(reply) == "" {
		return "", ErrEmptyReply
	}
	return
}

// Complete sends msgs to the model and returns the whole reply.
func Complete(ctx context.Context, c ChatClient, model string, msgs []ChatMsg, onToken TokenFunc) (reply string, err error) {
	stream, err := c.Stream(ctx, model, msgs)
	if err != nil {
		return "", err
	}
	return Collect(stream, onToken)
}

// SliceStream is a Stream over a fixed list of fragments.  Backends
// that only support blocking requests return their reply this way.
type SliceStream struct {
	Fragments []string
	pos       int
}

// NewSliceStream returns a Stream that yields the given fragments.
func NewSliceStream(fragments ...string) *SliceStream {
	return &SliceStream{Fragments: fragments}
}

func (s *SliceStream) Recv() (string, error) {
	if s.pos >= len(s.Fragments) {
		return "", io.EOF
	}
	frag := s.Fragments[s.pos]
	s.pos++
	return frag, nil
}

func (s *SliceStream) Close() error {
	s.pos = len(s.Fragments)
	return nil
}

// Copy returns a copy of msgs that shares no backing array with it.
func Copy(msgs []ChatMsg) []ChatMsg {
	out := make([]ChatMsg, len(msgs))
	copy(out, msgs)
	return out
}

// Tail returns a copy of the last n messages of msgs.
func Tail(msgs []ChatMsg, n int) []ChatMsg {
	if n <= 0 {
		return []ChatMsg{}
	}
	if n > len(msgs) {
		n = len(msgs)
	}
	return Copy(msgs[len(msgs)-n:])
}

// HasSystem returns true if any message in msgs has the system role.
func HasSystem(msgs []ChatMsg) bool {
	for _, m := range msgs {
		if m.Role == RoleSystem {
			return true
		}
	}
	return false
}
