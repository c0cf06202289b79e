package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
)

// RelayProvider talks to a completion relay: a JSON body {messages, model}, or a
// multipart form when messages carry file payloads. The relay answers with an
// event stream.
type RelayProvider struct {
	client *http.Client
	config Config
}

type relayRequest struct {
	Messages []Message `json:"messages"`
	Model    string    `json:"model"`
}

// NewRelayProvider creates a provider posting to config.BaseURL.
func NewRelayProvider(config Config) (*RelayProvider, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("relay provider requires a base url")
	}
	if config.ProviderName == "" {
		config.ProviderName = "Relay"
	}

	client, err := newHTTPClient(config)
	if err != nil {
		return nil, err
	}

	return &RelayProvider{client: client, config: config}, nil
}

// hasPayloads reports whether any message carries file bytes to upload.
func hasPayloads(messages []Message) bool {
	for _, msg := range messages {
		for _, f := range msg.Files {
			if f.Data != nil {
				return true
			}
		}
	}
	return false
}

// EncodeRelayBody returns the request body and its content type.
func EncodeRelayBody(req Request) ([]byte, string, error) {
	if !hasPayloads(req.Messages) {
		data, err := json.Marshal(relayRequest{Messages: req.Messages, Model: req.Model})
		if err != nil {
			return nil, "", fmt.Errorf("failed to marshal request: %w", err)
		}
		return data, "application/json", nil
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	messagesJSON, err := json.Marshal(req.Messages)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal messages: %w", err)
	}
	if err := w.WriteField("messages", string(messagesJSON)); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("model", req.Model); err != nil {
		return nil, "", err
	}

	for _, msg := range req.Messages {
		for idx, f := range msg.Files {
			if f.Data == nil {
				continue
			}
			header := make(textproto.MIMEHeader)
			header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
				escapeQuotes(FileKey(f.Name, idx)), escapeQuotes(f.Name)))
			mimeType := f.MimeType
			if mimeType == "" {
				mimeType = "application/octet-stream"
			}
			header.Set("Content-Type", mimeType)

			part, err := w.CreatePart(header)
			if err != nil {
				return nil, "", fmt.Errorf("failed to create file part: %w", err)
			}
			if _, err := part.Write(f.Data); err != nil {
				return nil, "", fmt.Errorf("failed to write file part: %w", err)
			}
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// StreamChat implements streaming chat
func (p *RelayProvider) StreamChat(ctx context.Context, req Request) (<-chan StreamResponse, error) {
	if req.Model == "" {
		req.Model = p.config.Model
	}
	body, contentType, err := EncodeRelayBody(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := do(p.client, p.config.ProviderName, httpReq)
	if err != nil {
		return nil, err
	}

	return streamEvents(ctx, resp.Body), nil
}

// Chat drains a streamed answer into one string.
func (p *RelayProvider) Chat(ctx context.Context, req Request) (string, error) {
	stream, err := p.StreamChat(ctx, req)
	if err != nil {
		return "", err
	}
	return Collect(ctx, stream)
}

// Name returns the provider name
func (p *RelayProvider) Name() string {
	return p.config.ProviderName
}

// Models returns supported models
func (p *RelayProvider) Models() []string {
	if len(p.config.Models) > 0 {
		return p.config.Models
	}
	return []string{"gpt-4o", "o3-mini"}
}

// Collect concatenates a stream until Done, an error, or ctx ends.
func Collect(ctx context.Context, stream <-chan StreamResponse) (string, error) {
	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return sb.String(), ctx.Err()
		case chunk, ok := <-stream:
			if !ok {
				return sb.String(), nil
			}
			if chunk.Error != nil {
				return sb.String(), chunk.Error
			}
			sb.WriteString(chunk.Content)
			if chunk.Done {
				return sb.String(), nil
			}
		}
	}
}

