package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"codebox-relay/internal/config"
	"codebox-relay/internal/toolcall"
)

var ErrNoAPIKey = errors.New("no API key configured")

// Session is one running conversation with a model.
type Session interface {
	Send(ctx context.Context, text string) (string, error)
}

type GeminiSession struct {
	mu   sync.Mutex
	chat *genai.Chat
}

// NewGeminiSession opens a Gemini chat seeded with history.
func NewGeminiSession(ctx context.Context, cfg config.Chat, systemPrompt string, history []Entry) (*GeminiSession, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNoAPIKey
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	gc := &genai.GenerateContentConfig{}
	if systemPrompt != "" {
		gc.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}
	c, err := client.Chats.Create(ctx, cfg.Model, gc, toContents(history))
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	return &GeminiSession{chat: c}, nil
}

func (s *GeminiSession) Send(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp, err := s.chat.SendMessage(ctx, genai.Part{Text: text})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

func toContents(history []Entry) []*genai.Content {
	out := make([]*genai.Content, 0, len(history))
	for _, e := range history {
		if strings.TrimSpace(e.Text) == "" {
			continue
		}
		role := genai.RoleUser
		if e.Role == RoleModel {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(e.Text, role))
	}
	return out
}

// SystemPrompt describes the tool call protocol and the registered tools.
func SystemPrompt(base string, reg *toolcall.Registry) string {
	var b strings.Builder
	if strings.TrimSpace(base) != "" {
		b.WriteString(strings.TrimSpace(base))
		b.WriteString("\n\n")
	} else {
		b.WriteString("You are an AI coding agent with real access to the user's project through tools.\n\n")
	}
	fmt.Fprintf(&b, "EXECUTION MODE: %s\n\n", reg.Mode())
	b.WriteString("To call a tool, write one line of the form:\n")
	b.WriteString(`TOOL_ACTION("TOOL_NAME", "argument1", "argument2")`)
	b.WriteString("\nInside arguments escape newlines as \\n, tabs as \\t, quotes as \\\" and backslashes as \\\\.\n")
	b.WriteString("After every tool call you receive TOOL_RESULT(\"TOOL_NAME\", \"\"\"output\"\"\").\n\n")
	b.WriteString("Available tools:\n")
	b.WriteString(reg.Describe())
	return b.String()
}
