package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// OllamaProvider implements the Provider interface for Ollama
type OllamaProvider struct {
	config Config
	client *http.Client
}

// NewOllamaProvider creates a new Ollama provider
func NewOllamaProvider(config Config) (*OllamaProvider, error) {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout == 0 {
		config.Timeout = 300 // slow local models
	}
	if config.ProviderName == "" {
		config.ProviderName = "Ollama"
	}

	client, err := newHTTPClient(config)
	if err != nil {
		return nil, err
	}

	return &OllamaProvider{
		config: config,
		client: client,
	}, nil
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatResponse struct {
	Model     string        `json:"model"`
	CreatedAt string        `json:"created_at"`
	Message   ollamaMessage `json:"message"`
	Done      bool          `json:"done"`
}

// toOllamaMessages converts messages to Ollama format; image files travel as raw
// base64 in images.
func toOllamaMessages(messages []Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(messages))
	for _, msg := range messages {
		om := ollamaMessage{Role: msg.Role, Content: msg.Content}
		for _, f := range msg.Files {
			if f.IsImage() && f.Data != nil {
				om.Images = append(om.Images, base64.StdEncoding.EncodeToString(f.Data))
			}
		}
		out = append(out, om)
	}
	return out
}

func (p *OllamaProvider) post(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	model := req.Model
	if model == "" {
		model = p.config.Model
	}
	jsonData, err := json.Marshal(ollamaChatRequest{
		Model:    model,
		Messages: toOllamaMessages(req.Messages),
		Stream:   stream,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	return do(p.client, p.config.ProviderName, httpReq)
}

// StreamChat implements streaming chat over Ollama's newline-delimited JSON.
func (p *OllamaProvider) StreamChat(ctx context.Context, req Request) (<-chan StreamResponse, error) {
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
			var chatResp ollamaChatResponse
			if err := json.Unmarshal(scanner.Bytes(), &chatResp); err != nil {
				continue
			}

			if chatResp.Message.Content != "" {
				if !send(ctx, responseChan, StreamResponse{Content: chatResp.Message.Content}) {
					return
				}
			}

			if chatResp.Done {
				send(ctx, responseChan, StreamResponse{Done: true})
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
func (p *OllamaProvider) Chat(ctx context.Context, req Request) (string, error) {
	resp, err := p.post(ctx, req, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	return chatResp.Message.Content, nil
}

// Name returns the provider name
func (p *OllamaProvider) Name() string {
	return p.config.ProviderName
}

// Models returns supported models (actual models depend on what's installed)
func (p *OllamaProvider) Models() []string {
	if len(p.config.Models) > 0 {
		return p.config.Models
	}
	return []string{"llama3", "mistral"}
}
