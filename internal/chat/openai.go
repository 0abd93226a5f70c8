package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"codebox-relay/internal/config"
)

// OpenAISession talks to any OpenAI-compatible chat completion endpoint and
// keeps the conversation client side.
type OpenAISession struct {
	client *openai.Client
	model  string

	mu       sync.Mutex
	messages []openai.ChatCompletionMessage
}

// NewOpenAISession needs an API key unless BaseURL points at a local server.
func NewOpenAISession(cfg config.Chat, systemPrompt string, history []Entry) (*OpenAISession, error) {
	if strings.TrimSpace(cfg.APIKey) == "" && strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, ErrNoAPIKey
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	s := &OpenAISession{client: openai.NewClientWithConfig(oc), model: cfg.Model}
	if systemPrompt != "" {
		s.messages = append(s.messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	for _, e := range history {
		if strings.TrimSpace(e.Text) == "" {
			continue
		}
		role := openai.ChatMessageRoleUser
		if e.Role == RoleModel {
			role = openai.ChatMessageRoleAssistant
		}
		s.messages = append(s.messages, openai.ChatCompletionMessage{Role: role, Content: e.Text})
	}
	return s, nil
}

func (s *OpenAISession) Send(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := append(s.messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text})
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    s.model,
		Messages: msgs,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	reply := resp.Choices[0].Message.Content
	s.messages = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply})
	return reply, nil
}

// NewSession opens a session with the configured provider.
func NewSession(ctx context.Context, cfg config.Chat, systemPrompt string, history []Entry) (Session, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return NewOpenAISession(cfg, systemPrompt, history)
	case config.ProviderGemini, "":
		return NewGeminiSession(ctx, cfg, systemPrompt, history)
	default:
		return nil, fmt.Errorf("unknown chat provider %q", cfg.Provider)
	}
}
