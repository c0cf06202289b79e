package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lightchat/llm"
)

// scriptedProvider replays chunks. With hold set it keeps the stream open
// after the chunks until the request context ends.
type scriptedProvider struct {
	mu       sync.Mutex
	requests []llm.Request

	chunks  []llm.StreamResponse
	hold    bool
	start   chan struct{} // closed to release the chunks
	gate    chan struct{}
	err     error
	title   string
	titleFn func()
}

func (p *scriptedProvider) StreamChat(ctx context.Context, req llm.Request) (<-chan llm.StreamResponse, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}

	ch := make(chan llm.StreamResponse)
	go func() {
		defer close(ch)
		if p.start != nil {
			select {
			case <-p.start:
			case <-ctx.Done():
				return
			}
		}
		for _, c := range p.chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
		if p.gate != nil {
			select {
			case <-p.gate:
			case <-ctx.Done():
			}
			return
		}
		if p.hold {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

func (p *scriptedProvider) Chat(ctx context.Context, req llm.Request) (string, error) {
	if p.titleFn != nil {
		p.titleFn()
	}
	return p.title, nil
}

func (p *scriptedProvider) Name() string     { return "scripted" }
func (p *scriptedProvider) Models() []string { return nil }

func (p *scriptedProvider) lastRequest(t *testing.T) llm.Request {
	t.Helper()
	var req llm.Request
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		if len(p.requests) == 0 {
			return false
		}
		req = p.requests[len(p.requests)-1]
		return true
	}, 5*time.Second, 5*time.Millisecond)
	return req
}

func deltas(parts ...string) []llm.StreamResponse {
	out := make([]llm.StreamResponse, 0, len(parts)+1)
	for _, p := range parts {
		out = append(out, llm.StreamResponse{Content: p})
	}
	return append(out, llm.StreamResponse{Done: true})
}

func wait(t *testing.T, x *Exchange) State {
	t.Helper()
	require.NotNil(t, x)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	state, err := x.Wait(ctx)
	require.NoError(t, err)
	return state
}

func TestController_StreamingMergeConvergence(t *testing.T) {
	s, _ := newTestStore(t)
	p := &scriptedProvider{chunks: deltas("Hel", "lo")}
	c := NewController(s, p, nil, nil)
	conv := s.Create("gpt-4o")

	x, err := c.Send(context.Background(), conv.ID, "hi", nil, "ignored")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, wait(t, x))
	assert.Equal(t, "Hello", x.Content())

	got, _, _ := s.Snapshot().Find(conv.ID)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, RoleUser, got.Messages[0].Role)
	assert.Equal(t, RoleAssistant, got.Messages[1].Role)
	assert.Equal(t, "Hello", got.Messages[1].Content)
	assert.Equal(t, x.MessageID(), got.Messages[1].ID)
	assert.False(t, c.Busy(conv.ID))

	assert.Equal(t, "gpt-4o", p.lastRequest(t).Model)
}

func TestController_SendComposesPrompt(t *testing.T) {
	s, _ := newTestStore(t)
	p := &scriptedProvider{chunks: deltas("ok")}
	c := NewController(s, p, nil, nil)

	conv := s.Create("")
	s.SetModel(conv.ID, "")
	s.SetSystemPrompt(conv.ID, "C")
	s.SetGlobalSystemPrompt("G")

	x, err := c.Send(context.Background(), conv.ID, "look", []Attachment{
		{Name: "a.png", MimeType: "image/png", Data: pngBytes(t, 2, 2)},
	}, "o3-mini")
	require.NoError(t, err)
	wait(t, x)

	req := p.lastRequest(t)
	assert.Equal(t, "o3-mini", req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, SystemPromptID, req.Messages[0].ID)
	assert.Equal(t, "G\nC", req.Messages[0].Content)
	require.Len(t, req.Messages[1].Files, 1)
	assert.NotEmpty(t, req.Messages[1].Files[0].Data)

	// the synthetic message is not stored
	got, _, _ := s.Snapshot().Find(conv.ID)
	assert.Equal(t, RoleUser, got.Messages[0].Role)
	assert.Contains(t, got.Messages[0].Files[0].URL, "data:image/png;base64,")
}

func TestController_CancelLeavesPartialContent(t *testing.T) {
	s, _ := newTestStore(t)
	p := &scriptedProvider{chunks: []llm.StreamResponse{{Content: "Par"}, {Content: "tial"}}, hold: true}
	c := NewController(s, p, nil, nil)
	conv := s.Create("")

	x, err := c.Send(context.Background(), conv.ID, "write", nil, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return x.Content() == "Partial" }, 5*time.Second, 5*time.Millisecond)
	assert.True(t, c.Busy(conv.ID))

	assert.True(t, c.Cancel(conv.ID))
	assert.Equal(t, StateCancelled, wait(t, x))
	assert.NoError(t, x.Err())

	got, _, _ := s.Snapshot().Find(conv.ID)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "Partial", got.Messages[1].Content)
	assert.False(t, c.Cancel(conv.ID))
}

func TestController_NoMergeAfterCancel(t *testing.T) {
	s, _ := newTestStore(t)
	gate := make(chan struct{})
	p := &scriptedProvider{chunks: []llm.StreamResponse{{Content: "a"}}, gate: gate}
	c := NewController(s, p, nil, nil)
	conv := s.Create("")

	x, err := c.Send(context.Background(), conv.ID, "go", nil, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return x.Content() == "a" }, 5*time.Second, 5*time.Millisecond)

	x.Cancel()
	version := s.Snapshot().Version
	close(gate)
	assert.Equal(t, StateCancelled, wait(t, x))
	assert.Equal(t, version, s.Snapshot().Version)
}

func TestController_RequestFailure(t *testing.T) {
	s, _ := newTestStore(t)
	p := &scriptedProvider{err: &llm.StatusError{Provider: "scripted", StatusCode: 500}}
	c := NewController(s, p, nil, nil)
	conv := s.Create("")

	x, err := c.Send(context.Background(), conv.ID, "hi", nil, "")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, wait(t, x))

	var statusErr *llm.StatusError
	assert.ErrorAs(t, x.Err(), &statusErr)

	got, _, _ := s.Snapshot().Find(conv.ID)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, RoleUser, got.Messages[0].Role)
}

func TestController_MidStreamFailureRemovesPartialReply(t *testing.T) {
	s, _ := newTestStore(t)
	p := &scriptedProvider{chunks: []llm.StreamResponse{
		{Content: "half"},
		{Error: errors.New("connection reset")},
	}}
	c := NewController(s, p, nil, nil)
	conv := s.Create("")

	x, err := c.Send(context.Background(), conv.ID, "hi", nil, "")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, wait(t, x))
	assert.EqualError(t, x.Err(), "connection reset")

	got, _, _ := s.Snapshot().Find(conv.ID)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "hi", got.Messages[0].Content)
}

func TestController_FailureKeepsReplyItDidNotCreate(t *testing.T) {
	s, _ := newTestStore(t)
	start := make(chan struct{})
	p := &scriptedProvider{start: start, chunks: []llm.StreamResponse{
		{Content: "half"},
		{Error: errors.New("connection reset")},
	}}
	c := NewController(s, p, nil, nil)
	conv := seed(t, s, RoleUser, RoleAssistant)
	earlier := conv.Messages[1].ID

	x, err := c.Send(context.Background(), conv.ID, "again", nil, "")
	require.NoError(t, err)
	require.True(t, s.DeleteMessageAt(conv.ID, 2))
	close(start)

	assert.Equal(t, StateFailed, wait(t, x))
	assert.Equal(t, earlier, x.MessageID())

	got, _, _ := s.Snapshot().Find(conv.ID)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "u0", got.Messages[0].Content)
	assert.Equal(t, earlier, got.Messages[1].ID)
	assert.Equal(t, RoleAssistant, got.Messages[1].Role)
}

func TestController_Busy(t *testing.T) {
	s, _ := newTestStore(t)
	p := &scriptedProvider{hold: true}
	c := NewController(s, p, nil, nil)
	conv := s.Create("")
	other := s.Create("")

	x, err := c.Send(context.Background(), conv.ID, "one", nil, "")
	require.NoError(t, err)

	_, err = c.Send(context.Background(), conv.ID, "two", nil, "")
	assert.ErrorIs(t, err, ErrBusy)
	_, err = c.Regenerate(context.Background(), conv.ID, 1)
	assert.ErrorIs(t, err, ErrBusy)

	// other conversations are independent
	y, err := c.Send(context.Background(), other.ID, "three", nil, "")
	require.NoError(t, err)

	x.Cancel()
	y.Cancel()
	wait(t, x)
	wait(t, y)

	got, _, _ := s.Snapshot().Find(conv.ID)
	assert.Len(t, got.Messages, 1)
}

func TestController_IgnoredInput(t *testing.T) {
	s, _ := newTestStore(t)
	c := NewController(s, &scriptedProvider{}, nil, nil)
	conv := s.Create("")

	x, err := c.Send(context.Background(), "missing", "hi", nil, "")
	assert.NoError(t, err)
	assert.Nil(t, x)

	x, err = c.Send(context.Background(), conv.ID, "   ", nil, "")
	assert.NoError(t, err)
	assert.Nil(t, x)

	x, err = c.Regenerate(context.Background(), conv.ID, 0)
	assert.NoError(t, err)
	assert.Nil(t, x)
}

func TestController_RegenerateTruncates(t *testing.T) {
	for k := 1; k <= 3; k += 2 {
		s, _ := newTestStore(t)
		p := &scriptedProvider{hold: true}
		c := NewController(s, p, nil, nil)
		conv := seed(t, s, RoleUser, RoleAssistant, RoleUser, RoleAssistant)

		x, err := c.Regenerate(context.Background(), conv.ID, k)
		require.NoError(t, err)
		require.NotNil(t, x)

		got, _, _ := s.Snapshot().Find(conv.ID)
		assert.Len(t, got.Messages, k)
		assert.Len(t, p.lastRequest(t).Messages, k)

		x.Cancel()
		wait(t, x)
	}
}

func TestController_RegenerateReplacesReply(t *testing.T) {
	s, blobs := newTestStore(t)
	p := &scriptedProvider{chunks: deltas("new answer")}
	c := NewController(s, p, nil, nil)
	conv := seed(t, s, RoleUser, RoleAssistant)

	x, err := c.Regenerate(context.Background(), conv.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, wait(t, x))

	got, _, _ := s.Snapshot().Find(conv.ID)
	assert.Equal(t, []string{"u0", "new answer"}, contents(got))

	flush(t, s)
	stored, err := blobs.Load(context.Background(), KeyChats)
	require.NoError(t, err)
	assert.Contains(t, stored, "new answer")
	assert.NotContains(t, stored, `"a1"`)
}

func TestController_RegenerateAfterFailure(t *testing.T) {
	s, _ := newTestStore(t)
	p := &scriptedProvider{chunks: deltas("retry ok")}
	c := NewController(s, p, nil, nil)
	conv := seed(t, s, RoleUser)

	assert.True(t, canRegenerate(conv, 1))
	assert.False(t, canRegenerate(conv, 0))
	assert.False(t, canRegenerate(conv, 2))

	x, err := c.Regenerate(context.Background(), conv.ID, 1)
	require.NoError(t, err)
	wait(t, x)

	got, _, _ := s.Snapshot().Find(conv.ID)
	assert.Equal(t, []string{"u0", "retry ok"}, contents(got))
}

func TestController_AutoTitle(t *testing.T) {
	s, _ := newTestStore(t)
	p := &scriptedProvider{chunks: deltas("answer"), title: `"Weekend Plans"`}
	c := NewController(s, p, nil, nil)
	c.SetAutoTitle(true)
	conv := s.Create("")

	x, err := c.Send(context.Background(), conv.ID, "plans?", nil, "")
	require.NoError(t, err)
	wait(t, x)

	assert.Eventually(t, func() bool {
		got, _, _ := s.Snapshot().Find(conv.ID)
		return got.Title == "Weekend Plans"
	}, 5*time.Second, 5*time.Millisecond)
}

func TestController_AutoTitleKeepsUserRename(t *testing.T) {
	s, _ := newTestStore(t)
	conv := s.Create("")
	called := make(chan struct{})
	p := &scriptedProvider{chunks: deltas("answer"), title: "Generated"}
	p.titleFn = func() {
		s.Rename(conv.ID, "Mine")
		close(called)
	}
	c := NewController(s, p, nil, nil)
	c.SetAutoTitle(true)

	x, err := c.Send(context.Background(), conv.ID, "q", nil, "")
	require.NoError(t, err)
	wait(t, x)

	select {
	case <-called:
	case <-time.After(5 * time.Second):
		t.Fatal("title was not requested")
	}
	time.Sleep(20 * time.Millisecond)
	got, _, _ := s.Snapshot().Find(conv.ID)
	assert.Equal(t, "Mine", got.Title)
}

func TestController_ConversationDeletedMidStream(t *testing.T) {
	s, _ := newTestStore(t)
	gate := make(chan struct{})
	p := &scriptedProvider{chunks: []llm.StreamResponse{{Content: "x"}}, gate: gate}
	c := NewController(s, p, nil, nil)
	conv := s.Create("")
	keep := s.Create("")

	x, err := c.Send(context.Background(), conv.ID, "q", nil, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return x.Content() == "x" }, 5*time.Second, 5*time.Millisecond)

	s.Delete(conv.ID)
	close(gate)
	assert.Equal(t, StateCompleted, wait(t, x))

	snap := s.Snapshot()
	require.Len(t, snap.Conversations, 1)
	assert.Equal(t, keep.ID, snap.Conversations[0].ID)
}
