package llm

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// FileKey names the multipart part that carries the file at position idx of a
// message, so two attachments sharing a name do not collide.
func FileKey(name string, idx int) string {
	return fmt.Sprintf("file_%s_%d", name, idx)
}

// IsImage reports whether f is forwarded to the model.
func (f File) IsImage() bool {
	return strings.HasPrefix(f.MimeType, "image/")
}

// DataURL returns the payload as a base64 data URI.
func (f File) DataURL() string {
	return encodeDataURL(f.MimeType, f.Data)
}

// ContentBlocks lays out the typed content of an outbound message: the text block
// first when it is not blank, then one image_url block per image file with a
// payload. Non-image files contribute nothing. A message that would be empty gets
// a single empty text block.
func ContentBlocks(text string, files []File) []openai.ChatMessagePart {
	parts := make([]openai.ChatMessagePart, 0, len(files)+1)
	if strings.TrimSpace(text) != "" {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: text,
		})
	}
	for _, f := range files {
		if !f.IsImage() || f.Data == nil {
			continue
		}
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL: f.DataURL(),
			},
		})
	}
	if len(parts) == 0 {
		parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: ""})
	}
	return parts
}

// toOpenAIMessages converts messages to the block layout used on the wire.
func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, openai.ChatCompletionMessage{
			Role:         msg.Role,
			MultiContent: ContentBlocks(msg.Content, msg.Files),
		})
	}
	return out
}

// wirePart is a content block as sent. Text blocks always carry a text field,
// including an empty one, which openai.ChatMessagePart would omit.
type wirePart struct {
	Type     openai.ChatMessagePartType  `json:"type"`
	Text     *string                     `json:"text,omitempty"`
	ImageURL *openai.ChatMessageImageURL `json:"image_url,omitempty"`
}

type wireMessage struct {
	Role    string     `json:"role"`
	Content []wirePart `json:"content"`
}

func toWireMessages(messages []openai.ChatCompletionMessage) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, msg := range messages {
		parts := make([]wirePart, 0, len(msg.MultiContent))
		for _, part := range msg.MultiContent {
			wp := wirePart{Type: part.Type, ImageURL: part.ImageURL}
			if part.Type == openai.ChatMessagePartTypeText {
				text := part.Text
				wp.Text = &text
			}
			parts = append(parts, wp)
		}
		out = append(out, wireMessage{Role: msg.Role, Content: parts})
	}
	return out
}

// encodeChatRequest serializes req with its messages in block layout. When
// withTemperature is set the temperature is written even when it is zero.
func encodeChatRequest(req openai.ChatCompletionRequest, withTemperature bool) ([]byte, error) {
	messages := toWireMessages(req.Messages)
	req.Messages = nil

	raw, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	if fields["messages"], err = json.Marshal(messages); err != nil {
		return nil, err
	}
	if withTemperature {
		if fields["temperature"], err = json.Marshal(req.Temperature); err != nil {
			return nil, err
		}
	}
	return json.Marshal(fields)
}

func encodeDataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
