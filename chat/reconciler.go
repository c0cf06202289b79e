package chat

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"lightchat/llm"
	"lightchat/utils"
)

// State of an exchange.
type State int32

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// Exchange is one send or regenerate cycle for a conversation. It merges the
// streamed reply into the store: the full accumulated text is assigned to the
// trailing assistant message on every delta, re-reading the latest store value
// each time.
type Exchange struct {
	ConversationID string
	Model          string

	store  ConversationStore
	logger *utils.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	state  atomic.Int32

	onFinish func(*Exchange)

	mu        sync.Mutex
	cancelled bool
	content   strings.Builder
	messageID string
	createdID string // assistant message appended by this exchange
	err       error
}

func newExchange(parent context.Context, store ConversationStore, logger *utils.Logger, conversationID, model string) *Exchange {
	ctx, cancel := context.WithCancel(parent)
	return &Exchange{
		ConversationID: conversationID,
		Model:          model,
		store:          store,
		logger:         logger,
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
}

// State returns the current state.
func (x *Exchange) State() State {
	return State(x.state.Load())
}

// Content returns the reply text accumulated so far.
func (x *Exchange) Content() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.content.String()
}

// MessageID returns the id of the assistant message written, if any.
func (x *Exchange) MessageID() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.messageID
}

// Err returns the failure cause once the exchange is Failed.
func (x *Exchange) Err() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.err
}

// Done is closed when the exchange reaches a terminal state.
func (x *Exchange) Done() <-chan struct{} {
	return x.done
}

// Wait blocks until the exchange ends or ctx is done and returns the final state.
func (x *Exchange) Wait(ctx context.Context) (State, error) {
	select {
	case <-x.done:
		return x.State(), nil
	case <-ctx.Done():
		return x.State(), ctx.Err()
	}
}

// Cancel signals the exchange to stop. Once Cancel returns no further merge
// into the store happens; content already merged stays.
func (x *Exchange) Cancel() {
	x.mu.Lock()
	x.cancelled = true
	x.mu.Unlock()
	x.cancel()
}

// run drives the exchange to a terminal state. It is the only writer of state.
func (x *Exchange) run(provider llm.Provider, req llm.Request) {
	final := StateFailed
	var panicErr error
	defer func() {
		if panicErr != nil {
			x.fail(panicErr)
			final = StateFailed
		}
		x.state.Store(int32(final))
		x.cancel()
		if x.onFinish != nil {
			x.onFinish(x)
		}
		close(x.done)
	}()
	defer utils.RecoverToError(x.logger, "exchange "+x.ConversationID, &panicErr)

	x.state.Store(int32(StateSending))
	stream, err := provider.StreamChat(x.ctx, req)
	if err != nil {
		if x.stopped() {
			final = StateCancelled
			return
		}
		x.logger.Warn("Request for %s failed: %v", x.ConversationID, err)
		x.fail(err)
		final = StateFailed
		return
	}

	x.state.Store(int32(StateStreaming))
	final = x.consume(stream)
}

// consume reads deltas until the stream ends, fails, or the exchange is cancelled.
func (x *Exchange) consume(stream <-chan llm.StreamResponse) State {
	for {
		select {
		case <-x.ctx.Done():
			return StateCancelled
		case chunk, ok := <-stream:
			if x.stopped() {
				return StateCancelled
			}
			if !ok {
				return x.complete()
			}
			if chunk.Error != nil {
				x.logger.Warn("Stream for %s failed: %v", x.ConversationID, chunk.Error)
				x.fail(chunk.Error)
				return StateFailed
			}
			if chunk.Content != "" {
				x.merge(chunk.Content)
			}
			if chunk.Done {
				return x.complete()
			}
		}
	}
}

// stopped reports whether cancellation was signalled.
func (x *Exchange) stopped() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.cancelled || x.ctx.Err() != nil
}

// merge accumulates delta and assigns the whole text to the trailing assistant
// message. The cancel check and the store write happen under x.mu, which Cancel
// also takes.
func (x *Exchange) merge(delta string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.cancelled || x.ctx.Err() != nil {
		return
	}
	x.content.WriteString(delta)
	x.mergeLocked()
}

func (x *Exchange) mergeLocked() {
	id, created, ok := x.store.MergeAssistant(x.ConversationID, x.content.String())
	if !ok {
		x.logger.Debug("Conversation %s is gone, dropping delta", x.ConversationID)
		return
	}
	x.messageID = id
	if created {
		x.createdID = id
	}
}

// complete writes the final text, creating an empty reply when nothing arrived.
func (x *Exchange) complete() State {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.cancelled || x.ctx.Err() != nil {
		return StateCancelled
	}
	x.mergeLocked()
	return StateCompleted
}

// fail records err and removes the partial reply this exchange appended. An
// earlier reply that a delta was merged into is left in place.
func (x *Exchange) fail(err error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.err = err
	if x.createdID != "" {
		x.store.RemoveMessage(x.ConversationID, x.createdID)
		if x.messageID == x.createdID {
			x.messageID = ""
		}
		x.createdID = ""
	}
}
