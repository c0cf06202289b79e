package chat

import (
	"encoding/json"
	"time"
)

// Role of a message author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const (
	// DefaultTitle is given to every new conversation.
	DefaultTitle = "New Chat"
	// DefaultModel is used when neither the caller nor an existing conversation names one.
	DefaultModel = "gpt-4o"
	// SystemPromptID identifies the composed system message in outbound requests.
	SystemPromptID = "system-prompt"
)

// Attachment is a user-supplied file. Path or Data is the ephemeral local
// reference held until send; URL is the durable data: URI stored with the message.
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"type"`
	URL      string `json:"url,omitempty"`

	Path string `json:"-"`
	Data []byte `json:"-"`
}

// Durable returns a with the ephemeral reference released.
func (a Attachment) Durable() Attachment {
	return Attachment{Name: a.Name, MimeType: a.MimeType, URL: a.URL}
}

// Message is one turn of a conversation. Content is markdown source.
type Message struct {
	ID      string       `json:"id"`
	Role    Role         `json:"role"`
	Content string       `json:"content"`
	Files   []Attachment `json:"files,omitempty"`
}

// Conversation is a titled, ordered message history plus its settings.
type Conversation struct {
	ID           string
	Title        string
	Messages     []Message
	CreatedAt    time.Time
	Model        string
	SystemPrompt string
}

// conversationJSON is the persisted layout; createdAt is Unix milliseconds.
type conversationJSON struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Messages     []Message `json:"messages"`
	CreatedAt    int64     `json:"createdAt"`
	Model        string    `json:"model"`
	SystemPrompt string    `json:"systemPrompt,omitempty"`
}

func (c Conversation) MarshalJSON() ([]byte, error) {
	msgs := c.Messages
	if msgs == nil {
		msgs = []Message{}
	}
	return json.Marshal(conversationJSON{
		ID:           c.ID,
		Title:        c.Title,
		Messages:     msgs,
		CreatedAt:    c.CreatedAt.UnixMilli(),
		Model:        c.Model,
		SystemPrompt: c.SystemPrompt,
	})
}

func (c *Conversation) UnmarshalJSON(data []byte) error {
	var raw conversationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Conversation{
		ID:           raw.ID,
		Title:        raw.Title,
		Messages:     raw.Messages,
		CreatedAt:    time.UnixMilli(raw.CreatedAt),
		Model:        raw.Model,
		SystemPrompt: raw.SystemPrompt,
	}
	return nil
}

// Clone returns a deep copy safe to modify.
func (c Conversation) Clone() Conversation {
	out := c
	out.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		out.Messages[i] = m.clone()
	}
	return out
}

func (m Message) clone() Message {
	if m.Files != nil {
		m.Files = append([]Attachment(nil), m.Files...)
	}
	return m
}

// Last returns the trailing message, if any.
func (c Conversation) Last() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}
