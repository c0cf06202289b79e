package chat

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"lightchat/db"
	"lightchat/utils"
)

// ConversationStore is the capability set handed to front ends and to the
// request controller: read the conversations, mutate them, observe changes.
type ConversationStore interface {
	Snapshot() *Snapshot
	Subscribe() (<-chan uint64, func())

	Create(defaultModel string) Conversation
	Rename(id, newTitle string) bool
	Delete(id string) bool
	Select(id string) bool
	AppendUserMessage(conversationID, text string, attachments []Attachment) (Message, bool)
	DeleteMessageAt(conversationID string, index int) bool
	SetModel(id, model string) bool
	SetSystemPrompt(id, prompt string) bool
	SetGlobalSystemPrompt(prompt string)
	TruncateMessages(id string, n int) bool
	MergeAssistant(conversationID, content string) (id string, created, ok bool)
	RemoveMessage(conversationID, messageID string) bool
	Import(conv Conversation) Conversation
}

// Store is the single authoritative conversation collection. Reads are lock
// free; writers are serialized and publish a new Snapshot per mutation, which
// the persister then writes to the blob store.
type Store struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]

	subsMu  sync.Mutex
	subs    map[int]chan uint64
	nextSub int

	persister *persister
	logger    *utils.Logger
	now       func() time.Time
}

var _ ConversationStore = (*Store)(nil)

// NewStore creates an empty store persisting to blobs. A nil blobs keeps the
// store in memory only.
func NewStore(blobs db.BlobStore, logger *utils.Logger) *Store {
	if logger == nil {
		logger = utils.NewDiscardLogger()
	}
	s := &Store{
		subs:   make(map[int]chan uint64),
		logger: logger,
		now:    nowMillis,
	}
	s.current.Store(&Snapshot{})
	s.persister = newPersister(blobs, logger)
	return s
}

// Snapshot returns the current value.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Subscribe returns a channel receiving the latest version after each
// mutation. Slow readers only see the newest version. Call cancel to stop.
func (s *Store) Subscribe() (<-chan uint64, func()) {
	ch := make(chan uint64, 1)

	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
		})
	}
}

func (s *Store) notify(version uint64) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- version:
		default:
			// replace the stale version
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- version:
			default:
			}
		}
	}
}

// update runs fn against a shallow copy of the current snapshot. If fn reports
// a change the copy is published under the next version and persisted.
func (s *Store) update(fn func(next *Snapshot) bool) bool {
	s.mu.Lock()
	cur := s.current.Load()
	next := *cur
	if !fn(&next) {
		s.mu.Unlock()
		return false
	}
	next.Version = cur.Version + 1
	s.current.Store(&next)
	s.persister.schedule(&next)
	s.mu.Unlock()

	s.notify(next.Version)
	return true
}

// updateConversation applies fn to a copy of the conversation with id.
func (s *Store) updateConversation(id string, fn func(c *Conversation) bool) bool {
	return s.update(func(next *Snapshot) bool {
		c, idx, ok := next.Find(id)
		if !ok {
			return false
		}
		if !fn(&c) {
			return false
		}
		next.Conversations = next.withConversation(idx, c)
		return true
	})
}

// Create inserts a new empty conversation at the front and selects it. An
// empty defaultModel falls back to the model of the newest conversation, then
// DefaultModel.
func (s *Store) Create(defaultModel string) Conversation {
	var created Conversation
	s.update(func(next *Snapshot) bool {
		model := defaultModel
		if model == "" && len(next.Conversations) > 0 {
			model = next.Conversations[0].Model
		}
		if model == "" {
			model = DefaultModel
		}
		created = Conversation{
			ID:        uuid.New().String(),
			Title:     DefaultTitle,
			Messages:  []Message{},
			CreatedAt: s.now(),
			Model:     model,
		}
		next.Conversations = next.prepend(created)
		next.CurrentID = created.ID
		return true
	})
	return created
}

// Rename sets the trimmed title. Unknown ids and empty or unchanged titles are ignored.
func (s *Store) Rename(id, newTitle string) bool {
	title := strings.TrimSpace(newTitle)
	if title == "" {
		return false
	}
	return s.updateConversation(id, func(c *Conversation) bool {
		if c.Title == title {
			return false
		}
		c.Title = title
		return true
	})
}

// Delete removes a conversation. Deleting the selected one selects the new
// first conversation, or none.
func (s *Store) Delete(id string) bool {
	return s.update(func(next *Snapshot) bool {
		_, idx, ok := next.Find(id)
		if !ok {
			return false
		}
		next.Conversations = next.withoutConversation(idx)
		if next.CurrentID == id {
			next.CurrentID = ""
			if len(next.Conversations) > 0 {
				next.CurrentID = next.Conversations[0].ID
			}
		}
		return true
	})
}

// Select makes id the current conversation.
func (s *Store) Select(id string) bool {
	return s.update(func(next *Snapshot) bool {
		if next.CurrentID == id {
			return false
		}
		if _, _, ok := next.Find(id); !ok {
			return false
		}
		next.CurrentID = id
		return true
	})
}

// AppendUserMessage appends a user turn. Attachments are stored in durable form
// only; ephemeral references are dropped.
func (s *Store) AppendUserMessage(conversationID, text string, attachments []Attachment) (Message, bool) {
	msg := Message{
		ID:      uuid.New().String(),
		Role:    RoleUser,
		Content: text,
	}
	for _, a := range attachments {
		msg.Files = append(msg.Files, a.Durable())
	}

	ok := s.updateConversation(conversationID, func(c *Conversation) bool {
		c.Messages = appendMessage(c.Messages, msg)
		return true
	})
	return msg, ok
}

// DeleteMessageAt removes the message at index. If the message that shifts into
// that slot is an assistant reply it is removed too, so deleting a user turn
// also deletes its direct answer.
func (s *Store) DeleteMessageAt(conversationID string, index int) bool {
	return s.updateConversation(conversationID, func(c *Conversation) bool {
		if index < 0 || index >= len(c.Messages) {
			return false
		}
		msgs := make([]Message, 0, len(c.Messages))
		msgs = append(msgs, c.Messages[:index]...)
		msgs = append(msgs, c.Messages[index+1:]...)
		if index < len(msgs) && msgs[index].Role == RoleAssistant {
			msgs = append(msgs[:index], msgs[index+1:]...)
		}
		c.Messages = msgs
		return true
	})
}

// SetModel changes the conversation's model.
func (s *Store) SetModel(id, model string) bool {
	return s.updateConversation(id, func(c *Conversation) bool {
		if c.Model == model {
			return false
		}
		c.Model = model
		return true
	})
}

// SetSystemPrompt changes the conversation's own instructions.
func (s *Store) SetSystemPrompt(id, prompt string) bool {
	return s.updateConversation(id, func(c *Conversation) bool {
		if c.SystemPrompt == prompt {
			return false
		}
		c.SystemPrompt = prompt
		return true
	})
}

// SetGlobalSystemPrompt saves the process-wide instructions.
func (s *Store) SetGlobalSystemPrompt(prompt string) {
	s.update(func(next *Snapshot) bool {
		if next.GlobalSystemPrompt == prompt {
			return false
		}
		next.GlobalSystemPrompt = prompt
		return true
	})
}

// TruncateMessages keeps the first n messages.
func (s *Store) TruncateMessages(id string, n int) bool {
	return s.updateConversation(id, func(c *Conversation) bool {
		if n < 0 || n > len(c.Messages) {
			return false
		}
		if n == len(c.Messages) {
			return true
		}
		msgs := make([]Message, n)
		copy(msgs, c.Messages[:n])
		c.Messages = msgs
		return true
	})
}

// MergeAssistant assigns content to the trailing assistant message, or appends a
// new assistant message when the conversation does not end with one. It
// returns the id of the message written and whether it was appended by this
// call. The read-modify-write runs against the latest value.
func (s *Store) MergeAssistant(conversationID, content string) (string, bool, bool) {
	var (
		msgID   string
		created bool
	)
	ok := s.updateConversation(conversationID, func(c *Conversation) bool {
		if last, ok := c.Last(); ok && last.Role == RoleAssistant {
			if last.Content == content {
				msgID = last.ID
				return false
			}
			msgs := make([]Message, len(c.Messages))
			copy(msgs, c.Messages)
			last.Content = content
			msgs[len(msgs)-1] = last
			c.Messages = msgs
			msgID = last.ID
			return true
		}
		msg := Message{ID: uuid.New().String(), Role: RoleAssistant, Content: content}
		c.Messages = appendMessage(c.Messages, msg)
		msgID = msg.ID
		created = true
		return true
	})
	return msgID, created, ok || msgID != ""
}

// RemoveMessage deletes the message with messageID.
func (s *Store) RemoveMessage(conversationID, messageID string) bool {
	return s.updateConversation(conversationID, func(c *Conversation) bool {
		for i, m := range c.Messages {
			if m.ID != messageID {
				continue
			}
			msgs := make([]Message, 0, len(c.Messages)-1)
			msgs = append(msgs, c.Messages[:i]...)
			c.Messages = append(msgs, c.Messages[i+1:]...)
			return true
		}
		return false
	})
}

// Import inserts a copy of conv under a fresh id at the front and selects it.
func (s *Store) Import(conv Conversation) Conversation {
	imported := conv.Clone()
	imported.ID = uuid.New().String()
	if strings.TrimSpace(imported.Title) == "" {
		imported.Title = DefaultTitle
	}
	if imported.CreatedAt.IsZero() {
		imported.CreatedAt = s.now()
	}
	for i := range imported.Messages {
		if imported.Messages[i].ID == "" {
			imported.Messages[i].ID = uuid.New().String()
		}
		for j, f := range imported.Messages[i].Files {
			imported.Messages[i].Files[j] = f.Durable()
		}
	}

	s.update(func(next *Snapshot) bool {
		if imported.Model == "" {
			imported.Model = DefaultModel
		}
		next.Conversations = next.prepend(imported)
		next.CurrentID = imported.ID
		return true
	})
	return imported
}

// appendMessage returns a new slice; the old one may be shared with published snapshots.
func appendMessage(msgs []Message, m Message) []Message {
	out := make([]Message, 0, len(msgs)+1)
	out = append(out, msgs...)
	return append(out, m)
}

// nowMillis matches the precision of the persisted createdAt.
func nowMillis() time.Time {
	return time.UnixMilli(time.Now().UnixMilli())
}
