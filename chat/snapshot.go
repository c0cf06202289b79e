package chat

// Snapshot is one immutable value of the store. Every mutation produces a new
// Snapshot with a higher Version; values reachable from a published Snapshot
// are never modified, so callers must treat them as read-only (use
// Conversation.Clone before editing).
type Snapshot struct {
	Version            uint64
	Conversations      []Conversation // newest first
	CurrentID          string
	GlobalSystemPrompt string
}

// Find returns the conversation with id and its position.
func (s *Snapshot) Find(id string) (Conversation, int, bool) {
	for i, c := range s.Conversations {
		if c.ID == id {
			return c, i, true
		}
	}
	return Conversation{}, -1, false
}

// Current returns the selected conversation.
func (s *Snapshot) Current() (Conversation, bool) {
	if s.CurrentID == "" {
		return Conversation{}, false
	}
	c, _, ok := s.Find(s.CurrentID)
	return c, ok
}

// withConversation returns a copy of the list with position idx replaced.
func (s *Snapshot) withConversation(idx int, c Conversation) []Conversation {
	out := make([]Conversation, len(s.Conversations))
	copy(out, s.Conversations)
	out[idx] = c
	return out
}

// withoutConversation returns a copy of the list without position idx.
func (s *Snapshot) withoutConversation(idx int) []Conversation {
	out := make([]Conversation, 0, len(s.Conversations)-1)
	out = append(out, s.Conversations[:idx]...)
	return append(out, s.Conversations[idx+1:]...)
}

// prepend returns a copy of the list with c in front.
func (s *Snapshot) prepend(c Conversation) []Conversation {
	out := make([]Conversation, 0, len(s.Conversations)+1)
	out = append(out, c)
	return append(out, s.Conversations...)
}
