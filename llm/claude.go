package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	defaultClaudeBaseURL = "https://api.anthropic.com/v1"
	claudeAPIVersion     = "2023-06-01"
	claudeMaxTokens      = 4096
)

// ClaudeProvider implements the Provider interface for Anthropic Claude
type ClaudeProvider struct {
	config Config
	client *http.Client
}

// NewClaudeProvider creates a new Claude provider
func NewClaudeProvider(config Config) (*ClaudeProvider, error) {
	if config.BaseURL == "" {
		config.BaseURL = defaultClaudeBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Model == "" {
		config.Model = "claude-3-5-sonnet-20241022"
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = claudeMaxTokens
	}
	if config.ProviderName == "" {
		config.ProviderName = "Claude"
	}

	client, err := newHTTPClient(config)
	if err != nil {
		return nil, err
	}

	return &ClaudeProvider{
		config: config,
		client: client,
	}, nil
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string, or []claudeBlock when images ride along
}

type claudeBlock struct {
	Type   string             `json:"type"` // text or image
	Text   *string            `json:"text,omitempty"`
	Source *claudeImageSource `json:"source,omitempty"`
}

type claudeImageSource struct {
	Type      string `json:"type"` // base64
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type claudeRequest struct {
	Model       string          `json:"model"`
	Messages    []claudeMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature *float64        `json:"temperature,omitempty"`
	Stream      bool            `json:"stream"`
	System      string          `json:"system,omitempty"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type claudeStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// toClaudeMessages splits out the system prompt, which Claude takes as a
// top-level field. Several system messages are joined by blank lines.
func toClaudeMessages(messages []Message) (string, []claudeMessage) {
	var system []string
	out := make([]claudeMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			system = append(system, msg.Content)
			continue
		}

		var images []claudeBlock
		for _, f := range msg.Files {
			if !f.IsImage() || f.Data == nil {
				continue
			}
			images = append(images, claudeBlock{
				Type: "image",
				Source: &claudeImageSource{
					Type:      "base64",
					MediaType: f.MimeType,
					Data:      base64.StdEncoding.EncodeToString(f.Data),
				},
			})
		}
		if len(images) == 0 {
			out = append(out, claudeMessage{Role: msg.Role, Content: msg.Content})
			continue
		}

		blocks := images
		if strings.TrimSpace(msg.Content) != "" {
			text := msg.Content
			blocks = append([]claudeBlock{{Type: "text", Text: &text}}, images...)
		}
		out = append(out, claudeMessage{Role: msg.Role, Content: blocks})
	}
	return strings.Join(system, "\n\n"), out
}

func (p *ClaudeProvider) post(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	model := req.Model
	if model == "" {
		model = p.config.Model
	}
	system, messages := toClaudeMessages(req.Messages)
	temperature := TemperatureOr(p.config.Temperature, DefaultTemperature)

	jsonData, err := json.Marshal(claudeRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   p.config.MaxTokens,
		Temperature: &temperature,
		Stream:      stream,
		System:      system,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/messages", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.config.APIKey)
	httpReq.Header.Set("anthropic-version", claudeAPIVersion)

	return do(p.client, p.config.ProviderName, httpReq)
}

// StreamChat implements streaming chat. Text arrives in content_block_delta
// events; events that do not decode are skipped.
func (p *ClaudeProvider) StreamChat(ctx context.Context, req Request) (<-chan StreamResponse, error) {
	resp, err := p.post(ctx, req, true)
	if err != nil {
		return nil, err
	}

	responseChan := make(chan StreamResponse)
	go func() {
		defer close(responseChan)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			payload, ok := strings.CutPrefix(strings.TrimSpace(scanner.Text()), "data:")
			if !ok {
				continue
			}

			var event claudeStreamEvent
			if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &event); err != nil {
				continue
			}

			switch event.Type {
			case "content_block_delta":
				if event.Delta.Text == "" {
					continue
				}
				if !send(ctx, responseChan, StreamResponse{Content: event.Delta.Text}) {
					return
				}
			case "message_stop":
				send(ctx, responseChan, StreamResponse{Done: true})
				return
			case "error":
				msg := "unknown error"
				if event.Error != nil {
					msg = event.Error.Message
				}
				send(ctx, responseChan, StreamResponse{Error: fmt.Errorf("%s stream error: %s", p.config.ProviderName, msg)})
				return
			}
		}

		if err := scanner.Err(); err != nil {
			if ctx.Err() == nil {
				send(ctx, responseChan, StreamResponse{Error: fmt.Errorf("stream error: %w", err)})
			}
			return
		}
		send(ctx, responseChan, StreamResponse{Done: true})
	}()

	return responseChan, nil
}

// Chat implements non-streaming chat
func (p *ClaudeProvider) Chat(ctx context.Context, req Request) (string, error) {
	resp, err := p.post(ctx, req, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var claudeResp claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&claudeResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	var text strings.Builder
	for _, block := range claudeResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", errors.New("no response from " + p.config.ProviderName)
	}
	return text.String(), nil
}

// Name returns the provider name
func (p *ClaudeProvider) Name() string {
	return p.config.ProviderName
}

// Models returns supported models
func (p *ClaudeProvider) Models() []string {
	if len(p.config.Models) > 0 {
		return p.config.Models
	}
	return []string{"claude-3-5-sonnet-20241022", "claude-3-5-haiku-20241022"}
}
