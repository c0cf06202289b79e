package chat

import (
	"strings"

	"lightchat/llm"
)

// CombinePrompts joins the global and per-conversation instructions.
func CombinePrompts(global, conversation string) string {
	g := strings.TrimSpace(global)
	c := strings.TrimSpace(conversation)
	switch {
	case g != "" && c != "":
		return g + "\n" + c
	case g != "":
		return g
	default:
		return c
	}
}

// Compose builds the message sequence sent for messages: a synthetic system
// message carrying the combined instructions goes first unless the history
// already starts with a system message, and the trailing user message carries
// its attachments as files. Earlier turns travel as text. The result is never
// written back to the store.
func Compose(messages []Message, globalPrompt, conversationPrompt string) []llm.Message {
	out := make([]llm.Message, 0, len(messages)+1)

	if combined := CombinePrompts(globalPrompt, conversationPrompt); combined != "" {
		if len(messages) == 0 || messages[0].Role != RoleSystem {
			out = append(out, llm.Message{
				ID:      SystemPromptID,
				Role:    string(RoleSystem),
				Content: combined,
			})
		}
	}

	for i, m := range messages {
		msg := llm.Message{
			ID:      m.ID,
			Role:    string(m.Role),
			Content: m.Content,
		}
		if i == len(messages)-1 && m.Role == RoleUser && len(m.Files) > 0 {
			msg.Files = Files(m.Files)
		}
		out = append(out, msg)
	}
	return out
}

// ComposeConversation composes c with the global prompt.
func ComposeConversation(c Conversation, globalPrompt string) []llm.Message {
	return Compose(c.Messages, globalPrompt, c.SystemPrompt)
}
