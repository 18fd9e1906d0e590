package services

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/MegaGrindStone/chatstream/internal/models"
)

// LLMParameters holds the optional sampling parameters shared by the providers. A nil field leaves the
// provider default in place.
type LLMParameters struct {
	Temperature *float32 `yaml:"temperature"`
	TopP        *float32 `yaml:"topP"`
	MaxTokens   *int     `yaml:"maxTokens"`
	Stop        []string `yaml:"stop"`
	Seed        *int     `yaml:"seed"`
}

// Echo is an LLM that answers with the last user message, one word per fragment. It needs no backend,
// which makes it the default provider for local development.
type Echo struct {
	delay time.Duration
}

// NewEcho creates an Echo that waits delay between fragments.
func NewEcho(delay time.Duration) Echo {
	return Echo{delay: delay}
}

// Chat streams the content of the last user message back, word by word, with the separating whitespace
// kept on the fragment that follows it.
func (e Echo) Chat(ctx context.Context, messages []models.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		var last string
		for _, msg := range messages {
			if msg.Role == models.RoleUser {
				last = msg.Content
			}
		}

		for i, word := range strings.Fields(last) {
			if e.delay > 0 {
				select {
				case <-ctx.Done():
					yield("", ctx.Err())
					return
				case <-time.After(e.delay):
				}
			}
			if i > 0 {
				word = " " + word
			}
			if !yield(word, nil) {
				return
			}
		}
	}
}

// GenerateTitle uses the first words of the message as the title.
func (e Echo) GenerateTitle(_ context.Context, message string) (string, error) {
	words := strings.Fields(message)
	if len(words) > 5 {
		words = words[:5]
	}
	return strings.Join(words, " "), nil
}
