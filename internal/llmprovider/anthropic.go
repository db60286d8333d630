package llmprovider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/vinayprograms/agentmux/internal/durable"
	"github.com/vinayprograms/agentmux/internal/provider"
)

// AnthropicProvider talks to the Messages API. A conversation's opaque
// suspend state is its full turn history — the API itself is stateless, so
// resuming means resending the transcript.
type AnthropicProvider struct {
	apiKey string
}

// NewAnthropicProvider constructs a provider authenticating with apiKey.
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{apiKey: apiKey}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Create(ctx context.Context, model, systemPrompt string, log *durable.Log) (provider.Session, error) {
	h := &history{Model: model, SystemPrompt: systemPrompt}
	sess := &anthropicSession{client: p.client(), history: h}
	return provider.Decorate(sess, log), nil
}

func (p *AnthropicProvider) Restore(ctx context.Context, state []byte, log *durable.Log) (provider.Session, error) {
	var h history
	if err := json.Unmarshal(state, &h); err != nil {
		return nil, fmt.Errorf("llmprovider: anthropic restore: %w", err)
	}
	sess := &anthropicSession{client: p.client(), history: &h}
	return provider.Decorate(sess, log), nil
}

func (p *AnthropicProvider) client() anthropic.Client {
	return anthropic.NewClient(option.WithAPIKey(p.apiKey))
}

type anthropicSession struct {
	client  anthropic.Client
	history *history
}

func (s *anthropicSession) Send(ctx context.Context, message string) <-chan provider.Chunk {
	out := make(chan provider.Chunk)
	go func() {
		defer close(out)

		s.history.append("user", message)

		messages := make([]anthropic.MessageParam, 0, len(s.history.Turns))
		for _, t := range s.history.Turns {
			block := anthropic.NewTextBlock(t.Text)
			if t.Role == "assistant" {
				messages = append(messages, anthropic.NewAssistantMessage(block))
			} else {
				messages = append(messages, anthropic.NewUserMessage(block))
			}
		}

		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(s.history.Model),
			MaxTokens: 4096,
			Messages:  messages,
		}
		if s.history.SystemPrompt != "" {
			params.System = []anthropic.TextBlockParam{{Text: s.history.SystemPrompt}}
		}

		resp, err := s.client.Messages.New(ctx, params)
		if err != nil {
			out <- provider.Chunk{Err: fmt.Errorf("llmprovider: anthropic: %w", err)}
			return
		}

		var text string
		for _, block := range resp.Content {
			if block.Type == "text" {
				text += block.Text
			}
		}
		s.history.append("assistant", text)
		out <- provider.Chunk{Text: text}
	}()
	return out
}

func (s *anthropicSession) Suspend(ctx context.Context) ([]byte, error) {
	return json.Marshal(s.history)
}

func (s *anthropicSession) Stop(ctx context.Context) error { return nil }
