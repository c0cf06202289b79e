package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileKey(t *testing.T) {
	assert.Equal(t, "file_cat.png_0", FileKey("cat.png", 0))
	assert.Equal(t, "file_cat.png_1", FileKey("cat.png", 1))
}

func TestContentBlocks_FiltersNonImages(t *testing.T) {
	files := []File{
		{Name: "cat.png", MimeType: "image/png", Data: []byte{1, 2, 3}},
		{Name: "notes.txt", MimeType: "text/plain", Data: []byte("hello")},
	}

	parts := ContentBlocks("look at this", files)
	require.Len(t, parts, 2)
	assert.Equal(t, openai.ChatMessagePartTypeText, parts[0].Type)
	assert.Equal(t, "look at this", parts[0].Text)
	assert.Equal(t, openai.ChatMessagePartTypeImageURL, parts[1].Type)
	assert.Equal(t, "data:image/png;base64,AQID", parts[1].ImageURL.URL)
}

func TestContentBlocks_BlankTextIsDropped(t *testing.T) {
	parts := ContentBlocks("   ", []File{{Name: "a.jpg", MimeType: "image/jpeg", Data: []byte("x")}})
	require.Len(t, parts, 1)
	assert.Equal(t, openai.ChatMessagePartTypeImageURL, parts[0].Type)
}

func TestContentBlocks_NeverEmpty(t *testing.T) {
	parts := ContentBlocks("", []File{{Name: "doc.pdf", MimeType: "application/pdf", Data: []byte("%PDF")}})
	require.Len(t, parts, 1)
	assert.Equal(t, openai.ChatMessagePartTypeText, parts[0].Type)
	assert.Equal(t, "", parts[0].Text)
}

func TestEventReader(t *testing.T) {
	stream := strings.Join([]string{
		`: keep-alive`,
		`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
		``,
		`data: not json`,
		`data: {"choices":[]}`,
		`event: ping`,
		`data:{"choices":[{"delta":{"content":"lo"}}]}`,
		`data: {"choices":[{"delta":{"role":"assistant"}}]}`,
		`data: [DONE]`,
		`data: {"choices":[{"delta":{"content":"ignored"}}]}`,
	}, "\n")

	r := NewEventReader(strings.NewReader(stream))
	var got []string
	for {
		delta, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, delta)
	}
	assert.Equal(t, []string{"Hel", "lo"}, got)
}

func TestEventReader_EndsWithoutSentinel(t *testing.T) {
	r := NewEventReader(strings.NewReader(`data: {"choices":[{"delta":{"content":"x"}}]}`))
	delta, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "x", delta)
	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestWriteEventRoundTrip(t *testing.T) {
	var sb strings.Builder
	require.NoError(t, WriteEvent(&sb, "a\nb"))
	require.NoError(t, WriteDone(&sb))

	r := NewEventReader(strings.NewReader(sb.String()))
	delta, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "a\nb", delta)
	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestApplyModelParams(t *testing.T) {
	req := openai.ChatCompletionRequest{Model: "o3-mini"}
	ApplyModelParams(&req, nil, 0, nil)
	assert.Equal(t, DefaultMaxTokens, req.MaxCompletionTokens)
	assert.Zero(t, req.MaxTokens)
	assert.Zero(t, req.Temperature)

	req = openai.ChatCompletionRequest{Model: "gpt-4o"}
	ApplyModelParams(&req, nil, 0, nil)
	assert.Equal(t, 16384, req.MaxTokens)
	assert.Zero(t, req.MaxCompletionTokens)
	assert.InDelta(t, 0.7, req.Temperature, 1e-6)

	zero, warm := 0.0, 1.2
	req = openai.ChatCompletionRequest{Model: "gpt-4o", Temperature: 0.5}
	ApplyModelParams(&req, nil, 0, &zero)
	assert.Zero(t, req.Temperature)
	ApplyModelParams(&req, nil, 0, &warm)
	assert.InDelta(t, 1.2, req.Temperature, 1e-6)

	req = openai.ChatCompletionRequest{Model: "o1"}
	ApplyModelParams(&req, []string{"o1"}, 1000, &warm)
	assert.Equal(t, 1000, req.MaxCompletionTokens)
	assert.Zero(t, req.Temperature)
}

func TestTemperatureOr(t *testing.T) {
	zero, negative := 0.0, -1.0
	assert.Equal(t, 0.7, TemperatureOr(nil, 0.7))
	assert.Equal(t, 0.0, TemperatureOr(&zero, 0.7))
	assert.Equal(t, 0.7, TemperatureOr(&negative, 0.7))
}

func TestCleanTitle(t *testing.T) {
	assert.Equal(t, "Go Generics", CleanTitle(`  "Go Generics" `))
	assert.Equal(t, "New Chat", CleanTitle(`""`))
	assert.Len(t, []rune(CleanTitle(strings.Repeat("é", 150))), 103)
}

func collect(t *testing.T, stream <-chan StreamResponse) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	text, err := Collect(ctx, stream)
	require.NoError(t, err)
	return text
}

func TestOpenAIProvider_AzureStream(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openai/deployments/o3-mini/chat/completions", r.URL.Path)
		assert.Equal(t, "2024-12-01-preview", r.URL.Query().Get("api-version"))
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		io.WriteString(w, "data: garbage\n\n")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	p, err := New("azure", Config{APIKey: "secret", BaseURL: server.URL})
	require.NoError(t, err)

	stream, err := p.StreamChat(context.Background(), Request{
		Model:    "o3-mini",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello", collect(t, stream))

	assert.Equal(t, true, gotBody["stream"])
	assert.EqualValues(t, 16384, gotBody["max_completion_tokens"])
	assert.NotContains(t, gotBody, "max_tokens")
	assert.NotContains(t, gotBody, "temperature")
}

func TestOpenAIProvider_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(Config{APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = p.StreamChat(context.Background(), Request{Model: "gpt-4o", Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "quota exceeded")
}

func TestOpenAIProvider_EmptyReplyKeepsTextField(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		mu.Lock()
		bodies = append(bodies, string(raw))
		mu.Unlock()

		if strings.Contains(string(raw), `"stream":true`) {
			w.Header().Set("Content-Type", "text/event-stream")
			io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n")
			io.WriteString(w, "data: [DONE]\n\n")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"ok"}}]}`)
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(Config{APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	req := Request{Model: "gpt-4o", Messages: []Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: ""},
		{Role: RoleUser, Content: "again"},
	}}
	stream, err := p.StreamChat(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "ok", collect(t, stream))

	text, err := p.Chat(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "ok", text)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 2)
	for _, body := range bodies {
		assert.Contains(t, body, `{"role":"assistant","content":[{"type":"text","text":""}]}`)
		assert.Contains(t, body, `{"role":"user","content":[{"type":"text","text":"again"}]}`)

		var decoded struct {
			Messages []struct {
				Content []map[string]any `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.Unmarshal([]byte(body), &decoded))
		require.Len(t, decoded.Messages, 3)
		assert.Contains(t, decoded.Messages[1].Content[0], "text")
	}
}

func TestOpenAIProvider_ExplicitZeroTemperature(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"ok"}}]}`)
	}))
	defer server.Close()

	zero := 0.0
	p, err := NewOpenAIProvider(Config{BaseURL: server.URL, Temperature: &zero})
	require.NoError(t, err)

	_, err = p.Chat(context.Background(), Request{Model: "gpt-4o", Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	require.Contains(t, gotBody, "temperature")
	assert.EqualValues(t, 0, gotBody["temperature"])
	assert.EqualValues(t, 16384, gotBody["max_tokens"])
}

func TestOpenAIProvider_ChatStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(Config{BaseURL: server.URL})
	require.NoError(t, err)

	_, err = p.Chat(context.Background(), Request{Model: "gpt-4o"})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
}

func TestOpenAIProvider_EmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(Config{BaseURL: server.URL})
	require.NoError(t, err)

	_, err = p.StreamChat(context.Background(), Request{Model: "gpt-4o"})
	assert.ErrorIs(t, err, ErrEmptyBody)
}

func TestOpenAIProvider_Chat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"\"Weekend Plans\""}}]}`)
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(Config{APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	title, err := GenerateTitle(context.Background(), p, "gpt-4o", []Message{{Role: RoleUser, Content: "plans?"}})
	require.NoError(t, err)
	assert.Equal(t, "Weekend Plans", title)
}

func TestRelayProvider_JSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body struct {
			Messages []Message `json:"messages"`
			Model    string    `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o", body.Model)
		require.Len(t, body.Messages, 1)

		WriteEvent(w, "ok")
		WriteDone(w)
	}))
	defer server.Close()

	p, err := NewRelayProvider(Config{BaseURL: server.URL})
	require.NoError(t, err)

	text, err := p.Chat(context.Background(), Request{Model: "gpt-4o", Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
}

func TestRelayProvider_Multipart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		require.NoError(t, err)
		assert.Equal(t, "multipart/form-data", mediaType)

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "gpt-4o", r.FormValue("model"))

		var msgs []Message
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("messages")), &msgs))
		require.Len(t, msgs, 1)
		require.Len(t, msgs[0].Files, 2)
		assert.Equal(t, "image/png", msgs[0].Files[0].MimeType)

		for _, key := range []string{"file_a.png_0", "file_a.png_1"} {
			fhs := r.MultipartForm.File[key]
			require.Len(t, fhs, 1, key)
		}
		assert.Equal(t, "image/png", r.MultipartForm.File["file_a.png_0"][0].Header.Get("Content-Type"))

		WriteDone(w)
	}))
	defer server.Close()

	p, err := NewRelayProvider(Config{BaseURL: server.URL})
	require.NoError(t, err)

	stream, err := p.StreamChat(context.Background(), Request{
		Model: "gpt-4o",
		Messages: []Message{{
			Role:    RoleUser,
			Content: "two cats",
			Files: []File{
				{Name: "a.png", MimeType: "image/png", Data: []byte("one")},
				{Name: "a.png", MimeType: "image/png", Data: []byte("two")},
			},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "", collect(t, stream))
}

func TestOllamaProvider_Stream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, []string{"AQI="}, req.Messages[0].Images)

		io.WriteString(w, `{"message":{"role":"assistant","content":"Hel"},"done":false}`+"\n")
		io.WriteString(w, "{broken\n")
		io.WriteString(w, `{"message":{"role":"assistant","content":"lo"},"done":false}`+"\n")
		io.WriteString(w, `{"message":{"role":"assistant","content":""},"done":true}`+"\n")
	}))
	defer server.Close()

	p, err := NewOllamaProvider(Config{BaseURL: server.URL, Model: "llama3"})
	require.NoError(t, err)

	stream, err := p.StreamChat(context.Background(), Request{Messages: []Message{{
		Role:  RoleUser,
		Files: []File{{Name: "x.png", MimeType: "image/png", Data: []byte{1, 2}}, {Name: "x.txt", MimeType: "text/plain", Data: []byte("t")}},
	}}})
	require.NoError(t, err)
	assert.Equal(t, "Hello", collect(t, stream))
}

func TestClaudeProvider_Stream(t *testing.T) {
	var got claudeRequest
	var raw map[string]json.RawMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))
		require.NoError(t, json.Unmarshal(body, &raw))

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "event: message_start\ndata: {\"type\":\"message_start\"}\n\n")
		io.WriteString(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Hel\"}}\n\n")
		io.WriteString(w, "data: {broken\n\n")
		io.WriteString(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"lo\"}}\n\n")
		io.WriteString(w, "data: {\"type\":\"message_stop\"}\n\n")
	}))
	defer server.Close()

	zero := 0.0
	p, err := New("claude", Config{APIKey: "secret", BaseURL: server.URL, Temperature: &zero})
	require.NoError(t, err)

	stream, err := p.StreamChat(context.Background(), Request{Messages: []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleSystem, Content: "be kind"},
		{Role: RoleUser, Content: "what is this", Files: []File{
			{Name: "x.png", MimeType: "image/png", Data: []byte{1, 2}},
			{Name: "x.txt", MimeType: "text/plain", Data: []byte("t")},
		}},
	}})
	require.NoError(t, err)
	assert.Equal(t, "Hello", collect(t, stream))

	assert.Equal(t, "claude-3-5-sonnet-20241022", got.Model)
	assert.Equal(t, "be brief\n\nbe kind", got.System)
	assert.Equal(t, 4096, got.MaxTokens)
	assert.True(t, got.Stream)
	assert.JSONEq(t, "0", string(raw["temperature"]))
	require.Len(t, got.Messages, 1)

	blocks, ok := got.Messages[0].Content.([]any)
	require.True(t, ok)
	require.Len(t, blocks, 2)
	assert.Equal(t, "text", blocks[0].(map[string]any)["type"])
	image := blocks[1].(map[string]any)
	assert.Equal(t, "image", image["type"])
	assert.Equal(t, "AQI=", image["source"].(map[string]any)["data"])
}

func TestClaudeProvider_StreamErrorEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"text\":\"partial\"}}\n\n")
		io.WriteString(w, "data: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n")
	}))
	defer server.Close()

	p, err := NewClaudeProvider(Config{BaseURL: server.URL})
	require.NoError(t, err)

	stream, err := p.StreamChat(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	text, err := Collect(context.Background(), stream)
	assert.Equal(t, "partial", text)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Overloaded")
}

func TestClaudeProvider_Chat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req claudeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.Equal(t, "hi", req.Messages[0].Content)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"content":[{"type":"text","text":"Hello"},{"type":"text","text":" there"}],"stop_reason":"end_turn"}`)
	}))
	defer server.Close()

	p, err := NewClaudeProvider(Config{BaseURL: server.URL})
	require.NoError(t, err)

	text, err := p.Chat(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", text)
}

func TestGeminiProvider_Stream(t *testing.T) {
	var got geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-1.5-pro:streamGenerateContent", r.URL.Path)
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))
		assert.Equal(t, "k", r.URL.Query().Get("key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, `data: {"candidates":[{"content":{"role":"model","parts":[{"text":"Hel"}]}}]}`+"\n\n")
		io.WriteString(w, "data: not json\n\n")
		io.WriteString(w, `data: {"candidates":[{"content":{"role":"model","parts":[{"text":"lo"}]},"finishReason":"STOP"}]}`+"\n\n")
	}))
	defer server.Close()

	p, err := New("gemini", Config{APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	stream, err := p.StreamChat(context.Background(), Request{Model: "gemini-1.5-pro", Messages: []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi", Files: []File{{Name: "x.png", MimeType: "image/png", Data: []byte{1, 2}}}},
		{Role: RoleAssistant, Content: ""},
		{Role: RoleUser, Content: "again"},
	}})
	require.NoError(t, err)
	assert.Equal(t, "Hello", collect(t, stream))

	require.Len(t, got.Contents, 3)
	assert.Equal(t, "user", got.Contents[0].Role)
	assert.Equal(t, "be brief\n\nhi", got.Contents[0].Parts[0].Text)
	require.NotNil(t, got.Contents[0].Parts[1].InlineData)
	assert.Equal(t, "AQI=", got.Contents[0].Parts[1].InlineData.Data)
	assert.Equal(t, "model", got.Contents[1].Role)
	assert.NotEmpty(t, got.Contents[1].Parts)
	assert.Equal(t, "again", got.Contents[2].Parts[0].Text)
	assert.Equal(t, 8192, got.GenerationConfig.MaxOutputTokens)
	assert.Len(t, got.SafetySettings, 4)
}

func TestGeminiProvider_SafetyBlock(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-1.5-flash:generateContent", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"candidates":[{"content":{"parts":[]},"finishReason":"SAFETY"}]}`)
	}))
	defer server.Close()

	p, err := NewGeminiProvider(Config{BaseURL: server.URL})
	require.NoError(t, err)

	_, err = p.Chat(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "safety")
}

func TestNew_Kinds(t *testing.T) {
	for kind, want := range map[string]string{
		"":       "OpenAI Compatible",
		"azure":  "Azure OpenAI",
		"ollama": "Ollama",
		"claude": "Claude",
		"gemini": "Gemini",
	} {
		p, err := New(kind, Config{BaseURL: "http://localhost"})
		require.NoError(t, err, kind)
		assert.Equal(t, want, p.Name(), kind)
	}

	_, err := New("bard", Config{})
	assert.Error(t, err)
}
