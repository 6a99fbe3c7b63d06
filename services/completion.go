package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"storefront-agent/models"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one entry of the conversation history sent to the completion service.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completer produces a reply from an instruction block and the turn history.
type Completer interface {
	Complete(ctx context.Context, instructions string, turns []Turn) (string, error)
}

// BuildTurns maps stored messages (oldest first) to alternating turns.
// Customer messages become user turns, everything outbound becomes assistant
// turns. Consecutive turns of the same role are merged and leading assistant
// turns are dropped, since chat APIs expect the history to open with the user.
func BuildTurns(history []models.Message) []Turn {
	var turns []Turn
	for _, m := range history {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		role := RoleAssistant
		if m.Direction == models.DirectionInbound {
			role = RoleUser
		}
		if len(turns) == 0 && role == RoleAssistant {
			continue
		}
		if n := len(turns); n > 0 && turns[n-1].Role == role {
			turns[n-1].Content += "\n" + text
			continue
		}
		turns = append(turns, Turn{Role: role, Content: text})
	}
	return turns
}

// OpenAICompleter calls the chat completions endpoint of OpenAI or a compatible API.
type OpenAICompleter struct {
	client *openai.Client
	model  string
}

func NewOpenAICompleter(apiKey, baseURL, model string) *OpenAICompleter {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAICompleter{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

func (c *OpenAICompleter) Complete(ctx context.Context, instructions string, turns []Turn) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(turns)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: instructions,
	})
	for _, t := range turns {
		role := openai.ChatMessageRoleUser
		if t.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no completion choices returned")
	}

	slog.Info("OpenAI response generated",
		"model", c.model,
		"promptTokens", resp.Usage.PromptTokens,
		"completionTokens", resp.Usage.CompletionTokens,
	)
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// EchoCompleter is an offline completer for local runs. It acknowledges the
// latest customer turn and names the catalog candidates it was given.
type EchoCompleter struct{}

func (EchoCompleter) Complete(ctx context.Context, instructions string, turns []Turn) (string, error) {
	last := ""
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == RoleUser {
			last = turns[i].Content
			break
		}
	}

	reply := fmt.Sprintf("Thanks for your message: %q.", last)
	if names := catalogNames(instructions); len(names) > 0 {
		reply += " You might like: " + strings.Join(names, ", ") + "."
	}
	return reply, nil
}

// catalogNames reads item names back out of a rendered CATALOG section.
func catalogNames(instructions string) []string {
	start := strings.Index(instructions, "CATALOG:\n")
	if start < 0 {
		return nil
	}
	body := instructions[start+len("CATALOG:\n"):]
	if end := strings.Index(body, "\n\n"); end >= 0 {
		body = body[:end]
	}

	var names []string
	for _, line := range strings.Split(body, "\n") {
		dot := strings.Index(line, ". ")
		if dot <= 0 || line[0] < '0' || line[0] > '9' {
			continue
		}
		name := line[dot+2:]
		if bar := strings.Index(name, " | "); bar >= 0 {
			name = name[:bar]
		}
		names = append(names, name)
	}
	return names
}
