package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"lightchat/llm"
	"lightchat/utils"
)

// ErrBusy is returned when the conversation already has an exchange in flight.
var ErrBusy = errors.New("an exchange is already in flight for this conversation")

const titleTimeout = 30 * time.Second

// flusher is implemented by stores that persist asynchronously.
type flusher interface {
	Flush(ctx context.Context) error
}

// Controller runs exchanges: it appends or truncates history, composes the
// request, calls the provider and lets the exchange merge the reply. At most
// one exchange per conversation is in flight.
type Controller struct {
	store    ConversationStore
	provider llm.Provider
	encoder  *Encoder
	logger   *utils.Logger

	autoTitle bool

	mu       sync.Mutex
	inflight map[string]*Exchange
}

// NewController wires a controller. A nil encoder uses NewEncoder.
func NewController(store ConversationStore, provider llm.Provider, encoder *Encoder, logger *utils.Logger) *Controller {
	if encoder == nil {
		encoder = NewEncoder()
	}
	if logger == nil {
		logger = utils.NewDiscardLogger()
	}
	return &Controller{
		store:    store,
		provider: provider,
		encoder:  encoder,
		logger:   logger,
		inflight: make(map[string]*Exchange),
	}
}

// SetAutoTitle enables titling a "New Chat" conversation after its first
// completed reply.
func (c *Controller) SetAutoTitle(enabled bool) {
	c.autoTitle = enabled
}

// Busy reports whether conversationID has an exchange in flight.
func (c *Controller) Busy(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[conversationID]
	return ok
}

// Active returns the in-flight exchange of conversationID, or nil.
func (c *Controller) Active(conversationID string) *Exchange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight[conversationID]
}

// Cancel stops the in-flight exchange of conversationID.
func (c *Controller) Cancel(conversationID string) bool {
	x := c.Active(conversationID)
	if x == nil {
		return false
	}
	x.Cancel()
	return true
}

// reserve registers a new exchange for conversationID.
func (c *Controller) reserve(ctx context.Context, conv Conversation, model string) (*Exchange, error) {
	if conv.Model != "" {
		model = conv.Model
	}
	if model == "" {
		model = DefaultModel
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[conv.ID]; busy {
		return nil, ErrBusy
	}
	x := newExchange(ctx, c.store, c.logger, conv.ID, model)
	x.onFinish = c.finish
	c.inflight[conv.ID] = x
	return x, nil
}

func (c *Controller) release(x *Exchange) {
	c.mu.Lock()
	if c.inflight[x.ConversationID] == x {
		delete(c.inflight, x.ConversationID)
	}
	c.mu.Unlock()
	x.cancel()
}

// Send appends a user turn and streams the reply. The model is the
// conversation's own, falling back to model. Unknown conversations and empty
// input are ignored and return a nil exchange. ctx bounds the whole exchange.
func (c *Controller) Send(ctx context.Context, conversationID, text string, attachments []Attachment, model string) (*Exchange, error) {
	conv, _, ok := c.store.Snapshot().Find(conversationID)
	if !ok {
		return nil, nil
	}
	if strings.TrimSpace(text) == "" && len(attachments) == 0 {
		return nil, nil
	}

	x, err := c.reserve(ctx, conv, model)
	if err != nil {
		return nil, err
	}

	promoted, err := c.encoder.Promote(attachments)
	if err != nil {
		c.release(x)
		return nil, err
	}

	if _, ok := c.store.AppendUserMessage(conversationID, text, promoted); !ok {
		c.release(x)
		return nil, nil
	}

	c.start(x)
	return x, nil
}

// Regenerate discards the message at atIndex and everything after it, then
// streams a new reply. atIndex must point at an assistant message, or equal the
// message count when the conversation ends with a user turn. Anything else is
// ignored and returns a nil exchange.
func (c *Controller) Regenerate(ctx context.Context, conversationID string, atIndex int) (*Exchange, error) {
	conv, _, ok := c.store.Snapshot().Find(conversationID)
	if !ok || !canRegenerate(conv, atIndex) {
		return nil, nil
	}

	x, err := c.reserve(ctx, conv, "")
	if err != nil {
		return nil, err
	}

	if !c.store.TruncateMessages(conversationID, atIndex) {
		c.release(x)
		return nil, nil
	}
	if f, ok := c.store.(flusher); ok {
		if err := f.Flush(ctx); err != nil {
			c.logger.Warn("Failed to persist truncated history of %s: %v", conversationID, err)
		}
	}

	c.start(x)
	return x, nil
}

func canRegenerate(conv Conversation, atIndex int) bool {
	n := len(conv.Messages)
	switch {
	case atIndex >= 0 && atIndex < n:
		return conv.Messages[atIndex].Role == RoleAssistant
	case atIndex == n && n > 0:
		return conv.Messages[n-1].Role == RoleUser
	default:
		return false
	}
}

// start composes the request from the latest history and runs x.
func (c *Controller) start(x *Exchange) {
	snap := c.store.Snapshot()
	conv, _, ok := snap.Find(x.ConversationID)
	if !ok {
		conv = Conversation{ID: x.ConversationID}
	}

	req := llm.Request{
		Model:    x.Model,
		Messages: ComposeConversation(conv, snap.GlobalSystemPrompt),
	}
	c.logger.Info("Starting exchange for %s with %s (%d messages)", x.ConversationID, x.Model, len(req.Messages))

	go x.run(c.provider, req)
}

// finish runs before the exchange reports done.
func (c *Controller) finish(x *Exchange) {
	c.mu.Lock()
	if c.inflight[x.ConversationID] == x {
		delete(c.inflight, x.ConversationID)
	}
	c.mu.Unlock()

	state := x.State()
	c.logger.Info("Exchange for %s ended: %s", x.ConversationID, state)
	if state == StateCompleted && c.autoTitle {
		utils.SafeGo(c.logger, "auto title", func() { c.generateTitle(x) })
	}
}

// generateTitle names a conversation that still has the default title.
func (c *Controller) generateTitle(x *Exchange) {
	conv, _, ok := c.store.Snapshot().Find(x.ConversationID)
	if !ok || conv.Title != DefaultTitle {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), titleTimeout)
	defer cancel()

	title, err := llm.GenerateTitle(ctx, c.provider, x.Model, Compose(conv.Messages, "", ""))
	if err != nil {
		c.logger.Warn("Failed to generate title for %s: %v", x.ConversationID, err)
		return
	}

	// the user may have renamed it meanwhile
	if conv, _, ok := c.store.Snapshot().Find(x.ConversationID); ok && conv.Title == DefaultTitle {
		c.store.Rename(x.ConversationID, title)
	}
}
