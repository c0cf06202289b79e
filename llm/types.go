package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmptyBody is returned when a provider answers with a success status but no body.
var ErrEmptyBody = errors.New("provider returned an empty body")

// File is an attachment carried by an outbound message.
type File struct {
	Name     string `json:"name"`
	MimeType string `json:"type"`
	Data     []byte `json:"-"`
}

// Message represents a chat message as transmitted to a provider
type Message struct {
	ID      string `json:"id,omitempty"`
	Role    string `json:"role"` // "user" or "assistant" or "system"
	Content string `json:"content"`
	Files   []File `json:"files,omitempty"`
}

// Request is one completion request.
type Request struct {
	Model    string
	Messages []Message
}

// StreamResponse represents a chunk of streaming response
type StreamResponse struct {
	Content string
	Done    bool
	Error   error
}

// Provider interface defines the common interface for all LLM providers.
//
// StreamChat performs the HTTP exchange before returning, so a connection failure
// or a non-success status is reported as its error; the channel only carries the
// body. The channel is closed after a Done or Error chunk, or when ctx ends.
type Provider interface {
	// StreamChat sends messages and returns a channel for streaming responses
	StreamChat(ctx context.Context, req Request) (<-chan StreamResponse, error)

	// Chat sends messages and returns the complete response (non-streaming)
	Chat(ctx context.Context, req Request) (string, error)

	// Name returns the provider name
	Name() string

	// Models returns the list of supported models
	Models() []string
}

// Config represents provider configuration
type Config struct {
	ProviderName    string // Display name for the provider
	APIKey          string
	BaseURL         string
	APIVersion      string // set for Azure OpenAI deployments
	Model           string
	Models          []string // Available models list
	ReasoningModels []string
	Timeout         int // seconds, connection phase only
	MaxTokens       int
	Temperature     *float64
	ProxyURL        string
}

// StatusError is a non-success HTTP answer from a provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, body)
}

const titleInstruction = "You are a helpful assistant that generates short, concise titles for conversations. " +
	"Generate a title in the same language as the conversation. The title should be 3-8 words, descriptive, " +
	"and capture the main topic. Only output the title, nothing else."

// GenerateTitle asks p for a short title summarising the first turns of messages.
func GenerateTitle(ctx context.Context, p Provider, model string, messages []Message) (string, error) {
	titlePrompt := []Message{{Role: RoleSystem, Content: titleInstruction}}

	// Add the first few messages for context (limit to avoid token issues)
	maxMessages := 4
	for i, msg := range messages {
		if i >= maxMessages {
			break
		}
		if msg.Role == RoleSystem {
			continue
		}
		titlePrompt = append(titlePrompt, Message{Role: msg.Role, Content: msg.Content})
	}

	titlePrompt = append(titlePrompt, Message{
		Role:    RoleUser,
		Content: "Based on the above conversation, generate a short title (3-8 words):",
	})

	title, err := p.Chat(ctx, Request{Model: model, Messages: titlePrompt})
	if err != nil {
		return "", fmt.Errorf("failed to generate title: %w", err)
	}

	return CleanTitle(title), nil
}

// CleanTitle cleans up a generated title by removing quotes and extra whitespace
func CleanTitle(title string) string {
	title = strings.TrimSpace(title)

	// Remove surrounding quotes (single or double)
	title = strings.Trim(title, "\"'")
	title = strings.TrimSpace(title)

	// Limit length to reasonable size
	if r := []rune(title); len(r) > 100 {
		title = string(r[:100]) + "..."
	}

	if title == "" {
		title = "New Chat"
	}

	return title
}
