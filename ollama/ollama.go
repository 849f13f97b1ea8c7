package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	. "github.com/stevegt/goadapt"
	"github.com/stevegt/plex/client"
)

// DefaultEndpoint is where a local Ollama runtime listens.
const DefaultEndpoint = "http://localhost:11434"

// Client talks to the native Ollama chat API.  It implements the
// ChatClient interface (as defined in the client package).
type Client struct {
	Endpoint string
	HTTP     *http.Client
}

// NewClient creates a new Ollama chat client.  An empty endpoint
// means DefaultEndpoint.
func NewClient(endpoint string) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		Endpoint: strings.TrimRight(endpoint, "/"),
		HTTP:     &http.Client{},
	}
}

// Request defines the payload sent to /api/chat.
type Request struct {
	Model    string           `json:"model"`
	Messages []client.ChatMsg `json:"messages"`
	Stream   bool             `json:"stream"`
}

// Chunk is one newline-delimited JSON object of a streamed reply.
type Chunk struct {
	Model   string          `json:"model"`
	Message *client.ChatMsg `json:"message,omitempty"`
	Done    bool            `json:"done"`
	Error   string          `json:"error,omitempty"`
}

// Stream sends a streaming chat request and returns the reply as a
// client.Stream.  The caller must drain or close the stream.
func (c *Client) Stream(ctx context.Context, model string, msgs []client.ChatMsg) (client.Stream, error) {
	payload, err := json.Marshal(Request{
		Model:    model,
		Messages: msgs,
		Stream:   true,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	Debug("ollama: model=%s messages=%d", model, len(msgs))
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return &chatStream{body: resp.Body, dec: json.NewDecoder(resp.Body)}, nil
}

// chatStream decodes successive chunks from the response body.
type chatStream struct {
	body io.ReadCloser
	dec  *json.Decoder
	done bool
}

func (s *chatStream) Recv() (string, error) {
	for {
		if s.done {
			return "", io.EOF
		}
		var chunk Chunk
		err := s.dec.Decode(&chunk)
		if err == io.EOF {
			// server hung up without a done chunk
			s.done = true
			return "", io.ErrUnexpectedEOF
		}
		if err != nil {
			return "", fmt.Errorf("decoding ollama chunk: %w", err)
		}
		if chunk.Error != "" {
			s.done = true
			return "", fmt.Errorf("ollama error: %s", chunk.Error)
		}
		if chunk.Done {
			s.done = true
		}
		if chunk.Message != nil && chunk.Message.Content != "" {
			return chunk.Message.Content, nil
		}
	}
}

func (s *chatStream) Close() error {
	s.done = true
	return s.body.Close()
}

var _ client.ChatClient = (*Client)(nil)
