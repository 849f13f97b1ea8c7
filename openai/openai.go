package openai

import (
	"context"
	"errors"
	"io"
	"strings"

	gptLib "github.com/sashabaranov/go-openai"
	. "github.com/stevegt/goadapt"
	"github.com/stevegt/plex/client"
)

// Client implements the ChatClient interface for OpenAI-compatible
// servers, including Ollama's /v1 endpoint.
type Client struct {
	client *gptLib.Client
}

// NewClient creates a new Client.  An empty baseURL means the
// public OpenAI API.  Local servers generally ignore apiKey.
func NewClient(apiKey, baseURL string) *Client {
	config := gptLib.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &Client{client: gptLib.NewClientWithConfig(config)}
}

// Stream sends a streaming chat completion request and returns the
// reply as a client.Stream.
func (oc *Client) Stream(ctx context.Context, model string, msgs []client.ChatMsg) (client.Stream, error) {
	omsgs := make([]gptLib.ChatCompletionMessage, 0, len(msgs))
	for _, msg := range msgs {
		omsgs = append(omsgs, gptLib.ChatCompletionMessage{
			Role:    role(msg.Role),
			Content: msg.Content,
		})
	}
	req := gptLib.ChatCompletionRequest{
		Model:    model,
		Messages: omsgs,
		Stream:   true,
	}
	Debug("openai: model=%s messages=%d", model, len(omsgs))
	stream, err := oc.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return &chatStream{stream: stream}, nil
}

// role converts a transcript role to the matching OpenAI role.
func role(r string) string {
	switch r {
	case client.RoleSystem:
		return gptLib.ChatMessageRoleSystem
	case client.RoleAssistant:
		return gptLib.ChatMessageRoleAssistant
	default:
		return gptLib.ChatMessageRoleUser
	}
}

type chatStream struct {
	stream *gptLib.ChatCompletionStream
}

func (s *chatStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if frag := resp.Choices[0].Delta.Content; frag != "" {
			return frag, nil
		}
	}
}

func (s *chatStream) Close() error {
	s.stream.Close()
	return nil
}

// Assert that Client implements client.ChatClient.
var _ client.ChatClient = (*Client)(nil)
