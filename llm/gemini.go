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
	"net/url"
	"strings"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	geminiMaxTokens      = 8192
)

// GeminiProvider implements the Provider interface for Google Gemini
type GeminiProvider struct {
	config Config
	client *http.Client
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(config Config) (*GeminiProvider, error) {
	if config.BaseURL == "" {
		config.BaseURL = defaultGeminiBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Model == "" {
		config.Model = "gemini-1.5-flash"
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = geminiMaxTokens
	}
	if config.ProviderName == "" {
		config.ProviderName = "Gemini"
	}

	client, err := newHTTPClient(config)
	if err != nil {
		return nil, err
	}

	return &GeminiProvider{
		config: config,
		client: client,
	}, nil
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type geminiSafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
	SafetySettings   []geminiSafetySetting  `json:"safetySettings,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
}

// text returns the first candidate's text and whether it was blocked.
func (r geminiResponse) text() (string, bool) {
	if len(r.Candidates) == 0 {
		return "", false
	}
	var b strings.Builder
	for _, part := range r.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return b.String(), r.Candidates[0].FinishReason == "SAFETY"
}

var geminiSafetyCategories = []string{
	"HARM_CATEGORY_HARASSMENT",
	"HARM_CATEGORY_HATE_SPEECH",
	"HARM_CATEGORY_SEXUALLY_EXPLICIT",
	"HARM_CATEGORY_DANGEROUS_CONTENT",
}

func geminiSafetySettings() []geminiSafetySetting {
	settings := make([]geminiSafetySetting, 0, len(geminiSafetyCategories))
	for _, category := range geminiSafetyCategories {
		settings = append(settings, geminiSafetySetting{Category: category, Threshold: "BLOCK_MEDIUM_AND_ABOVE"})
	}
	return settings
}

// toGeminiContents maps roles to Gemini's user/model pair. Gemini has no system
// role, so system text is prepended to the first user message.
func toGeminiContents(messages []Message) []geminiContent {
	var system []string
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			system = append(system, msg.Content)
		}
	}

	out := make([]geminiContent, 0, len(messages))
	prepended := false
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			continue
		}

		text := msg.Content
		if msg.Role == RoleUser && !prepended && len(system) > 0 {
			text = strings.Join(system, "\n\n") + "\n\n" + text
			prepended = true
		}

		role := msg.Role
		if role == RoleAssistant {
			role = "model"
		}

		var parts []geminiPart
		if text != "" {
			parts = append(parts, geminiPart{Text: text})
		}
		for _, f := range msg.Files {
			if !f.IsImage() || f.Data == nil {
				continue
			}
			parts = append(parts, geminiPart{InlineData: &geminiInlineData{
				MimeType: f.MimeType,
				Data:     base64.StdEncoding.EncodeToString(f.Data),
			}})
		}
		if len(parts) == 0 {
			parts = []geminiPart{{Text: " "}}
		}
		out = append(out, geminiContent{Role: role, Parts: parts})
	}
	return out
}

func (p *GeminiProvider) post(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	model := req.Model
	if model == "" {
		model = p.config.Model
	}
	temperature := TemperatureOr(p.config.Temperature, DefaultTemperature)

	jsonData, err := json.Marshal(geminiRequest{
		Contents: toGeminiContents(req.Messages),
		GenerationConfig: geminiGenerationConfig{
			Temperature:     &temperature,
			MaxOutputTokens: p.config.MaxTokens,
		},
		SafetySettings: geminiSafetySettings(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		p.config.BaseURL, url.PathEscape(model), url.QueryEscape(p.config.APIKey))
	if stream {
		endpoint = fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s",
			p.config.BaseURL, url.PathEscape(model), url.QueryEscape(p.config.APIKey))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	return do(p.client, p.config.ProviderName, httpReq)
}

// StreamChat implements streaming chat over Gemini's SSE mode. Each event is a
// full response object carrying the next piece of text.
func (p *GeminiProvider) StreamChat(ctx context.Context, req Request) (<-chan StreamResponse, error) {
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

			var geminiResp geminiResponse
			if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &geminiResp); err != nil {
				continue
			}

			text, blocked := geminiResp.text()
			if text != "" {
				if !send(ctx, responseChan, StreamResponse{Content: text}) {
					return
				}
			}
			if blocked {
				send(ctx, responseChan, StreamResponse{Error: errors.New("response blocked by safety filters")})
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
func (p *GeminiProvider) Chat(ctx context.Context, req Request) (string, error) {
	resp, err := p.post(ctx, req, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var geminiResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&geminiResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	text, blocked := geminiResp.text()
	if blocked {
		return "", errors.New("response blocked by safety filters")
	}
	if text == "" {
		return "", errors.New("no response from " + p.config.ProviderName)
	}
	return text, nil
}

// Name returns the provider name
func (p *GeminiProvider) Name() string {
	return p.config.ProviderName
}

// Models returns supported models
func (p *GeminiProvider) Models() []string {
	if len(p.config.Models) > 0 {
		return p.config.Models
	}
	return []string{"gemini-1.5-flash", "gemini-1.5-pro"}
}
