package llmprovider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/vinayprograms/agentmux/internal/durable"
	"github.com/vinayprograms/agentmux/internal/provider"
)

// OpenAIProvider talks to the Chat Completions API, replaying the full
// turn history on every call since the API is stateless.
type OpenAIProvider struct {
	apiKey string
}

func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{apiKey: apiKey}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Create(ctx context.Context, model, systemPrompt string, log *durable.Log) (provider.Session, error) {
	h := &history{Model: model, SystemPrompt: systemPrompt}
	sess := &openaiSession{client: p.client(), history: h}
	return provider.Decorate(sess, log), nil
}

func (p *OpenAIProvider) Restore(ctx context.Context, state []byte, log *durable.Log) (provider.Session, error) {
	var h history
	if err := json.Unmarshal(state, &h); err != nil {
		return nil, fmt.Errorf("llmprovider: openai restore: %w", err)
	}
	sess := &openaiSession{client: p.client(), history: &h}
	return provider.Decorate(sess, log), nil
}

func (p *OpenAIProvider) client() openai.Client {
	return openai.NewClient(option.WithAPIKey(p.apiKey))
}

type openaiSession struct {
	client  openai.Client
	history *history
}

func (s *openaiSession) Send(ctx context.Context, message string) <-chan provider.Chunk {
	out := make(chan provider.Chunk)
	go func() {
		defer close(out)

		s.history.append("user", message)

		messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(s.history.Turns)+1)
		if s.history.SystemPrompt != "" {
			messages = append(messages, openai.SystemMessage(s.history.SystemPrompt))
		}
		for _, t := range s.history.Turns {
			if t.Role == "assistant" {
				messages = append(messages, openai.AssistantMessage(t.Text))
			} else {
				messages = append(messages, openai.UserMessage(t.Text))
			}
		}

		resp, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model:    s.history.Model,
			Messages: messages,
		})
		if err != nil {
			out <- provider.Chunk{Err: fmt.Errorf("llmprovider: openai: %w", err)}
			return
		}
		if len(resp.Choices) == 0 {
			out <- provider.Chunk{Err: fmt.Errorf("llmprovider: openai: empty choices")}
			return
		}

		text := resp.Choices[0].Message.Content
		s.history.append("assistant", text)
		out <- provider.Chunk{Text: text}
	}()
	return out
}

func (s *openaiSession) Suspend(ctx context.Context) ([]byte, error) {
	return json.Marshal(s.history)
}

func (s *openaiSession) Stop(ctx context.Context) error { return nil }
