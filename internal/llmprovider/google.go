package llmprovider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/vinayprograms/agentmux/internal/durable"
	"github.com/vinayprograms/agentmux/internal/provider"
)

// GoogleProvider talks to the Gemini generateContent API, replaying the
// full turn history on every call since the API is stateless.
type GoogleProvider struct {
	apiKey string
}

func NewGoogleProvider(apiKey string) *GoogleProvider {
	return &GoogleProvider{apiKey: apiKey}
}

func (p *GoogleProvider) Name() string { return "google" }

func (p *GoogleProvider) Create(ctx context.Context, model, systemPrompt string, log *durable.Log) (provider.Session, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(p.apiKey))
	if err != nil {
		return nil, fmt.Errorf("llmprovider: google client: %w", err)
	}
	h := &history{Model: model, SystemPrompt: systemPrompt}
	sess := &googleSession{client: client, history: h}
	return provider.Decorate(sess, log), nil
}

func (p *GoogleProvider) Restore(ctx context.Context, state []byte, log *durable.Log) (provider.Session, error) {
	var h history
	if err := json.Unmarshal(state, &h); err != nil {
		return nil, fmt.Errorf("llmprovider: google restore: %w", err)
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(p.apiKey))
	if err != nil {
		return nil, fmt.Errorf("llmprovider: google client: %w", err)
	}
	sess := &googleSession{client: client, history: &h}
	return provider.Decorate(sess, log), nil
}

type googleSession struct {
	client  *genai.Client
	history *history
}

func (s *googleSession) Send(ctx context.Context, message string) <-chan provider.Chunk {
	out := make(chan provider.Chunk)
	go func() {
		defer close(out)

		s.history.append("user", message)

		model := s.client.GenerativeModel(s.history.Model)
		if s.history.SystemPrompt != "" {
			model.SystemInstruction = genai.NewUserContent(genai.Text(s.history.SystemPrompt))
		}
		cs := model.StartChat()
		for _, t := range s.history.Turns[:len(s.history.Turns)-1] {
			role := "user"
			if t.Role == "assistant" {
				role = "model"
			}
			cs.History = append(cs.History, &genai.Content{
				Role:  role,
				Parts: []genai.Part{genai.Text(t.Text)},
			})
		}

		resp, err := cs.SendMessage(ctx, genai.Text(message))
		if err != nil {
			out <- provider.Chunk{Err: fmt.Errorf("llmprovider: google: %w", err)}
			return
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			out <- provider.Chunk{Err: fmt.Errorf("llmprovider: google: empty response")}
			return
		}

		var text string
		for _, part := range resp.Candidates[0].Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text += string(t)
			}
		}
		s.history.append("assistant", text)
		out <- provider.Chunk{Text: text}
	}()
	return out
}

func (s *googleSession) Suspend(ctx context.Context) ([]byte, error) {
	return json.Marshal(s.history)
}

func (s *googleSession) Stop(ctx context.Context) error {
	s.client.Close()
	return nil
}
