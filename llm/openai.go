package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIProvider implements the Provider interface for OpenAI-compatible
// endpoints. When APIVersion is set it addresses an Azure OpenAI resource, where
// the model name selects the deployment.
type OpenAIProvider struct {
	client *http.Client
	config Config
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(config Config) (*OpenAIProvider, error) {
	if config.BaseURL == "" {
		config.BaseURL = defaultOpenAIBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.ProviderName == "" {
		if config.APIVersion != "" {
			config.ProviderName = "Azure OpenAI"
		} else {
			config.ProviderName = "OpenAI Compatible"
		}
	}

	// Allow empty API key - the endpoint rejects the request at runtime
	client, err := newHTTPClient(config)
	if err != nil {
		return nil, err
	}

	return &OpenAIProvider{
		client: client,
		config: config,
	}, nil
}

func (p *OpenAIProvider) buildRequest(req Request, stream bool) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = p.config.Model
	}
	out := openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAIMessages(req.Messages),
		Stream:   stream,
	}
	ApplyModelParams(&out, p.config.ReasoningModels, p.config.MaxTokens, p.config.Temperature)
	return out
}

// completionsURL returns the chat completions endpoint for model.
func (p *OpenAIProvider) completionsURL(model string) string {
	if p.config.APIVersion == "" {
		return p.config.BaseURL + "/chat/completions"
	}
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		p.config.BaseURL, url.PathEscape(model), url.QueryEscape(p.config.APIVersion))
}

func (p *OpenAIProvider) post(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	body := p.buildRequest(req, stream)
	jsonData, err := encodeChatRequest(body, !IsReasoningModel(body.Model, p.config.ReasoningModels))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.completionsURL(body.Model), bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	if p.config.APIVersion != "" {
		httpReq.Header.Set("api-key", p.config.APIKey)
	} else if p.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	return do(p.client, p.config.ProviderName, httpReq)
}

// StreamChat implements streaming chat. The body is decoded leniently: lines that
// are not valid chunks are skipped instead of failing the stream.
func (p *OpenAIProvider) StreamChat(ctx context.Context, req Request) (<-chan StreamResponse, error) {
	resp, err := p.post(ctx, req, true)
	if err != nil {
		return nil, err
	}

	return streamEvents(ctx, resp.Body), nil
}

// Chat implements non-streaming chat
func (p *OpenAIProvider) Chat(ctx context.Context, req Request) (string, error) {
	resp, err := p.post(ctx, req, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var completion openai.ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if len(completion.Choices) == 0 {
		return "", errors.New("no response from " + p.config.ProviderName)
	}

	return completion.Choices[0].Message.Content, nil
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return p.config.ProviderName
}

// Models returns supported models
func (p *OpenAIProvider) Models() []string {
	if len(p.config.Models) > 0 {
		return p.config.Models
	}
	return []string{openai.GPT4o, "o3-mini"}
}
