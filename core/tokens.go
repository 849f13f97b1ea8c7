package core

import (
	"sync"

	. "github.com/stevegt/goadapt"
	"github.com/stevegt/plex/client"
	"github.com/tiktoken-go/tokenizer"
)

var (
	tokenizerOnce sync.Once
	codec         tokenizer.Codec
	codecErr      error
)

// initTokenizer loads the cl100k_base codec once.
func initTokenizer() (tokenizer.Codec, error) {
	tokenizerOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return codec, codecErr
}

// TokenCount returns the number of tokens in a string.  Local models
// use their own tokenizers, so treat this as an estimate.
func TokenCount(text string) (count int, err error) {
	defer Return(&err)
	c, err := initTokenizer()
	Ck(err)
	_, tokens, err := c.Encode(text)
	Ck(err)
	count = len(tokens)
	return
}

// TranscriptTokens returns the estimated token count of a
// transcript.
func TranscriptTokens(msgs []client.ChatMsg) (count int, err error) {
	defer Return(&err)
	for _, msg := range msgs {
		n, err := TokenCount(msg.Content)
		Ck(err)
		count += n
	}
	return
}
