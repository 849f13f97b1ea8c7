package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/stevegt/plex/client"
)

// Reply is one scripted backend answer.  If Err is set the request
// fails with it; otherwise Text is streamed back, split on word
// boundaries so callers see more than one fragment.
type Reply struct {
	Text string
	Err  error
}

// Request records one call made to the mock.
type Request struct {
	Model    string
	Messages []client.ChatMsg
}

// Client is a mock completion backend for testing.  It implements
// the ChatClient interface, answering each request with the next
// scripted Reply.  When the script runs out it answers with
// Default.
type Client struct {
	Default string

	mu       sync.Mutex
	script   []Reply
	requests []Request
}

// NewClient creates a new mock client that answers with the given
// replies in order.
func NewClient(replies ...Reply) *Client {
	return &Client{
		Default: "default mock response",
		script:  replies,
	}
}

// Push appends replies to the script.
func (c *Client) Push(replies ...Reply) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.script = append(c.script, replies...)
}

// Requests returns the requests seen so far.
func (c *Client) Requests() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Request, len(c.requests))
	copy(out, c.requests)
	return out
}

// Calls returns the number of requests seen so far.
func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// Stream records the request and returns the next scripted reply.
func (c *Client) Stream(ctx context.Context, model string, msgs []client.ChatMsg) (client.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, Request{Model: model, Messages: client.Copy(msgs)})
	reply := Reply{Text: c.Default}
	if len(c.script) > 0 {
		reply = c.script[0]
		c.script = c.script[1:]
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	return client.NewSliceStream(fragments(reply.Text)...), nil
}

// fragments splits txt after each space, keeping the spaces, so the
// concatenation of the result is txt.
func fragments(txt string) (out []string) {
	for len(txt) > 0 {
		i := strings.IndexByte(txt, ' ')
		if i < 0 {
			out = append(out, txt)
			break
		}
		out = append(out, txt[:i+1])
		txt = txt[i+1:]
	}
	return
}

var _ client.ChatClient = (*Client)(nil)
