// Package export writes conversations to JSON, Markdown and HTML files and
// reads JSON exports back into a store.
package export

import (
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"

	"lightchat/chat"
	"lightchat/render"
)

// ExportFormat represents the export format
type ExportFormat string

const (
	FormatJSON     ExportFormat = "json"
	FormatMarkdown ExportFormat = "markdown"
	FormatHTML     ExportFormat = "html"
)

const exportVersion = "1.0"

// ConversationExport represents a conversation export structure
type ConversationExport struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Model        string            `json:"model"`
	SystemPrompt string            `json:"system_prompt,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	Messages     []MessageExport   `json:"messages"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// MessageExport represents a message export structure
type MessageExport struct {
	ID      string            `json:"id"`
	Role    string            `json:"role"`
	Content string            `json:"content"`
	Files   []chat.Attachment `json:"files,omitempty"`
}

func metadata() map[string]string {
	return map[string]string{
		"export_version": exportVersion,
		"export_date":    time.Now().Format(time.RFC3339),
		"app_name":       "lightchat",
	}
}

// FromConversation builds the export structure of conv.
func FromConversation(conv chat.Conversation) ConversationExport {
	export := ConversationExport{
		ID:           conv.ID,
		Title:        conv.Title,
		Model:        conv.Model,
		SystemPrompt: conv.SystemPrompt,
		CreatedAt:    conv.CreatedAt,
		Messages:     make([]MessageExport, 0, len(conv.Messages)),
	}
	for _, msg := range conv.Messages {
		export.Messages = append(export.Messages, MessageExport{
			ID:      msg.ID,
			Role:    string(msg.Role),
			Content: msg.Content,
			Files:   msg.Files,
		})
	}
	return export
}

// ToConversation converts an export back into a conversation.
func (e ConversationExport) ToConversation() chat.Conversation {
	conv := chat.Conversation{
		ID:           e.ID,
		Title:        e.Title,
		Model:        e.Model,
		SystemPrompt: e.SystemPrompt,
		CreatedAt:    e.CreatedAt,
		Messages:     make([]chat.Message, 0, len(e.Messages)),
	}
	for _, m := range e.Messages {
		conv.Messages = append(conv.Messages, chat.Message{
			ID:      m.ID,
			Role:    chat.Role(m.Role),
			Content: m.Content,
			Files:   m.Files,
		})
	}
	return conv
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// ExportConversationToJSON exports a single conversation to JSON format
func ExportConversationToJSON(conv chat.Conversation, path string) error {
	export := FromConversation(conv)
	export.Metadata = metadata()

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return writeFile(path, data)
}

func roleName(role chat.Role) string {
	switch role {
	case chat.RoleAssistant:
		return "Assistant"
	case chat.RoleSystem:
		return "System"
	default:
		return "User"
	}
}

// MarkdownDocument renders conv as a Markdown document.
func MarkdownDocument(conv chat.Conversation) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# %s\n\n", conv.Title))
	sb.WriteString(fmt.Sprintf("**Model**: %s\n", conv.Model))
	sb.WriteString(fmt.Sprintf("**Created**: %s\n\n", conv.CreatedAt.Format("2006-01-02 15:04:05")))
	if conv.SystemPrompt != "" {
		sb.WriteString(fmt.Sprintf("> %s\n\n", strings.ReplaceAll(conv.SystemPrompt, "\n", "\n> ")))
	}
	sb.WriteString("---\n\n")

	for i, msg := range conv.Messages {
		sb.WriteString(fmt.Sprintf("## %s\n\n", roleName(msg.Role)))
		sb.WriteString(msg.Content)
		sb.WriteString("\n\n")
		for _, f := range msg.Files {
			sb.WriteString(fmt.Sprintf("*Attachment: %s (%s)*\n\n", f.Name, f.MimeType))
		}

		if i < len(conv.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	sb.WriteString("\n---\n\n")
	sb.WriteString(fmt.Sprintf("*Exported: %s*\n", time.Now().Format("2006-01-02 15:04:05")))
	return sb.String()
}

// ExportConversationToMarkdown exports a single conversation to Markdown format
func ExportConversationToMarkdown(conv chat.Conversation, path string) error {
	return writeFile(path, []byte(MarkdownDocument(conv)))
}

var htmlPage = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; max-width: 860px; margin: 2em auto; line-height: 1.5; }
.message { border-top: 1px solid #ddd; padding: 0.5em 0; }
.role { font-weight: bold; color: #555; }
.assistant .role { color: #1a6; }
pre { background: #f4f4f4; padding: 0.75em; overflow-x: auto; }
img.attachment { max-width: 320px; display: block; margin: 0.5em 0; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p><small>{{.Model}} &middot; {{.Created}}</small></p>
{{range .Messages}}<div class="message {{.Class}}">
<div class="role">{{.Role}}</div>
{{.Body}}
{{range .Images}}<img class="attachment" src="{{.}}">
{{end}}</div>
{{end}}</body>
</html>
`))

type htmlMessage struct {
	Class  string
	Role   string
	Body   template.HTML
	Images []template.URL
}

// ExportConversationToHTML exports conv as a standalone HTML page. Message
// content is rendered from markdown with r; image attachments are inlined.
func ExportConversationToHTML(conv chat.Conversation, path string, r render.Renderer) error {
	if r == nil {
		r = render.NewHTML()
	}

	page := struct {
		Title    string
		Model    string
		Created  string
		Messages []htmlMessage
	}{
		Title:   conv.Title,
		Model:   conv.Model,
		Created: conv.CreatedAt.Format("2006-01-02 15:04:05"),
	}

	for _, msg := range conv.Messages {
		body, err := r.Render(msg.Content)
		if err != nil {
			return fmt.Errorf("failed to render message %s: %w", msg.ID, err)
		}
		hm := htmlMessage{
			Class: string(msg.Role),
			Role:  roleName(msg.Role),
			Body:  template.HTML(body),
		}
		for _, f := range msg.Files {
			if strings.HasPrefix(f.MimeType, "image/") && strings.HasPrefix(f.URL, "data:image/") {
				hm.Images = append(hm.Images, template.URL(f.URL))
			}
		}
		page.Messages = append(page.Messages, hm)
	}

	var sb strings.Builder
	if err := htmlPage.Execute(&sb, page); err != nil {
		return fmt.Errorf("failed to render page: %w", err)
	}
	return writeFile(path, []byte(sb.String()))
}

// allExport is the layout written by ExportAllConversations.
type allExport struct {
	Metadata      map[string]string    `json:"metadata"`
	Conversations []ConversationExport `json:"conversations"`
}

// ExportAllConversations exports all conversations to a single JSON file
func ExportAllConversations(convs []chat.Conversation, path string) error {
	wrapper := allExport{
		Metadata:      metadata(),
		Conversations: make([]ConversationExport, 0, len(convs)),
	}
	wrapper.Metadata["total_count"] = fmt.Sprintf("%d", len(convs))
	for _, conv := range convs {
		wrapper.Conversations = append(wrapper.Conversations, FromConversation(conv))
	}

	data, err := json.MarshalIndent(wrapper, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return writeFile(path, data)
}

// ImportConversation imports a conversation from a JSON file written by
// ExportConversationToJSON. The conversation gets a fresh id.
func ImportConversation(store chat.ConversationStore, path string) (chat.Conversation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("failed to read file: %w", err)
	}

	var export ConversationExport
	if err := json.Unmarshal(data, &export); err != nil {
		return chat.Conversation{}, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	if export.Title == "" {
		return chat.Conversation{}, fmt.Errorf("invalid export: missing title")
	}
	if len(export.Messages) == 0 {
		return chat.Conversation{}, fmt.Errorf("invalid export: no messages")
	}

	return store.Import(export.ToConversation()), nil
}

// ImportAllConversations imports multiple conversations from a JSON file
// written by ExportAllConversations. Entries without title or messages are
// skipped.
func ImportAllConversations(store chat.ConversationStore, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read file: %w", err)
	}

	var wrapper allExport
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return 0, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	if wrapper.Conversations == nil {
		return 0, fmt.Errorf("invalid export: missing conversations array")
	}

	count := 0
	// oldest first so the import keeps the exported order
	for i := len(wrapper.Conversations) - 1; i >= 0; i-- {
		export := wrapper.Conversations[i]
		if export.Title == "" || len(export.Messages) == 0 {
			continue
		}
		store.Import(export.ToConversation())
		count++
	}

	return count, nil
}

// GenerateExportFilename generates a filename for export
func GenerateExportFilename(title string, format ExportFormat) string {
	sanitized := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|' {
			return '_'
		}
		return r
	}, title)

	if r := []rune(sanitized); len(r) > 50 {
		sanitized = string(r[:50])
	}

	timestamp := time.Now().Format("20060102_150405")
	ext := string(format)
	if format == FormatMarkdown {
		ext = "md"
	}

	return fmt.Sprintf("%s_%s.%s", sanitized, timestamp, ext)
}

// GetDefaultExportPath returns the default export directory, creating it.
func GetDefaultExportPath() (string, error) {
	homeDir, err := homedir.Dir()
	if err != nil {
		return "", err
	}

	exportDir := filepath.Join(homeDir, "Documents", "lightchat-exports")
	if err := os.MkdirAll(exportDir, 0755); err != nil {
		return "", err
	}

	return exportDir, nil
}

// Export writes conv in format to path.
func Export(conv chat.Conversation, format ExportFormat, path string) error {
	switch format {
	case FormatJSON:
		return ExportConversationToJSON(conv, path)
	case FormatMarkdown:
		return ExportConversationToMarkdown(conv, path)
	case FormatHTML:
		return ExportConversationToHTML(conv, path, nil)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}
