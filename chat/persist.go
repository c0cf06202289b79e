package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"lightchat/db"
	"lightchat/utils"
)

// Blob keys of the persisted state.
const (
	KeyChats              = "chats"
	KeyGlobalSystemPrompt = "overallSystemPrompt"
)

// ErrStoreClosed is returned by Flush after Close.
var ErrStoreClosed = errors.New("store closed")

const saveTimeout = 10 * time.Second

// persister writes the newest published snapshot in the background. Snapshots
// are scheduled in version order and only the newest pending one is written, so
// an older value never overwrites a newer one.
type persister struct {
	blobs  db.BlobStore
	logger *utils.Logger

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once

	mu         sync.Mutex
	latest     *Snapshot
	written    uint64
	lastErr    error
	writtenCh  chan struct{}
	lastChats  string
	lastGlobal string
	haveGlobal bool
}

func newPersister(blobs db.BlobStore, logger *utils.Logger) *persister {
	p := &persister{
		blobs:     blobs,
		logger:    logger,
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		writtenCh: make(chan struct{}),
	}
	utils.SafeGo(logger, "store persister", p.run)
	return p
}

// schedule is called with the store's write lock held.
func (p *persister) schedule(snap *Snapshot) {
	p.mu.Lock()
	p.latest = snap
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *persister) run() {
	defer close(p.done)
	for {
		select {
		case <-p.wake:
			p.writeLatest()
		case <-p.stop:
			p.writeLatest()
			return
		}
	}
}

func (p *persister) writeLatest() {
	p.mu.Lock()
	snap := p.latest
	written := p.written
	p.mu.Unlock()

	if snap == nil || snap.Version <= written {
		return
	}

	err := p.write(snap)
	if err != nil {
		p.logger.Warn("Failed to persist snapshot v%d: %v", snap.Version, err)
	}

	p.mu.Lock()
	p.written = snap.Version
	p.lastErr = err
	close(p.writtenCh)
	p.writtenCh = make(chan struct{})
	p.mu.Unlock()
}

// write saves only the keys whose value changed since the last write.
func (p *persister) write(snap *Snapshot) error {
	if p.blobs == nil {
		return nil
	}

	chats, err := EncodeConversations(snap.Conversations)
	if err != nil {
		return err
	}

	p.mu.Lock()
	lastChats, lastGlobal, haveGlobal := p.lastChats, p.lastGlobal, p.haveGlobal
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if chats != lastChats {
		if err := p.blobs.Save(ctx, KeyChats, chats); err != nil {
			return err
		}
		p.mu.Lock()
		p.lastChats = chats
		p.mu.Unlock()
	}
	if !haveGlobal || snap.GlobalSystemPrompt != lastGlobal {
		if err := p.blobs.Save(ctx, KeyGlobalSystemPrompt, snap.GlobalSystemPrompt); err != nil {
			return err
		}
		p.mu.Lock()
		p.lastGlobal = snap.GlobalSystemPrompt
		p.haveGlobal = true
		p.mu.Unlock()
	}
	return nil
}

// markLoaded records the state read at startup as already persisted.
func (p *persister) markLoaded(version uint64, chats, global string, haveGlobal bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written = version
	p.lastChats = chats
	p.lastGlobal = global
	p.haveGlobal = haveGlobal
}

// wait blocks until version has been written.
func (p *persister) wait(ctx context.Context, version uint64) error {
	for {
		p.mu.Lock()
		if p.written >= version {
			err := p.lastErr
			p.mu.Unlock()
			return err
		}
		ch := p.writtenCh
		p.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		case <-p.done:
			p.mu.Lock()
			reached := p.written >= version
			p.mu.Unlock()
			if reached {
				continue
			}
			return ErrStoreClosed
		}
	}
}

// Flush waits until the current version has been written to the blob store
// and returns the error of that write, if any.
func (s *Store) Flush(ctx context.Context) error {
	return s.persister.wait(ctx, s.Snapshot().Version)
}

// Close flushes pending writes and stops the persister.
func (s *Store) Close(ctx context.Context) error {
	err := s.Flush(ctx)
	s.persister.once.Do(func() { close(s.persister.stop) })
	select {
	case <-s.persister.done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	if errors.Is(err, ErrStoreClosed) {
		return nil
	}
	return err
}

// Load replaces the store's content with the persisted state. Missing or
// malformed data degrades to an empty conversation list and an empty global
// prompt; failures are logged, never returned. The newest conversation is
// selected.
func (s *Store) Load(ctx context.Context) {
	var (
		convs      []Conversation
		chats      string
		global     string
		haveGlobal bool
	)

	if s.persister.blobs != nil {
		raw, err := s.persister.blobs.Load(ctx, KeyChats)
		switch {
		case errors.Is(err, db.ErrNotFound):
		case err != nil:
			s.logger.Warn("Failed to load conversations, starting empty: %v", err)
		default:
			var skipped int
			convs, skipped, err = DecodeConversations(raw)
			if err != nil {
				s.logger.Warn("Stored conversations are malformed, starting empty: %v", err)
			} else {
				chats = raw
				if skipped > 0 {
					s.logger.Warn("Skipped %d malformed stored conversations", skipped)
				}
			}
		}

		global, err = s.persister.blobs.Load(ctx, KeyGlobalSystemPrompt)
		switch {
		case err == nil:
			haveGlobal = true
		case errors.Is(err, db.ErrNotFound):
		default:
			s.logger.Warn("Failed to load global system prompt: %v", err)
		}
	}
	if convs == nil {
		convs = []Conversation{}
	}

	s.mu.Lock()
	cur := s.current.Load()
	next := &Snapshot{
		Version:            cur.Version + 1,
		Conversations:      convs,
		GlobalSystemPrompt: global,
	}
	if len(convs) > 0 {
		next.CurrentID = convs[0].ID
	}
	s.current.Store(next)
	s.persister.markLoaded(next.Version, chats, global, haveGlobal)
	s.mu.Unlock()

	s.logger.Info("Loaded %d conversations", len(convs))
	s.notify(next.Version)
}

// EncodeConversations serializes the conversation list in its persisted layout.
func EncodeConversations(convs []Conversation) (string, error) {
	if convs == nil {
		convs = []Conversation{}
	}
	data, err := json.Marshal(convs)
	if err != nil {
		return "", fmt.Errorf("failed to encode conversations: %w", err)
	}
	return string(data), nil
}

// DecodeConversations parses a persisted conversation list. Entries that do not
// decode are skipped and counted; missing or duplicate ids are replaced so ids
// stay unique. Only a value that is not a JSON array is an error.
func DecodeConversations(data string) ([]Conversation, int, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(data), &entries); err != nil {
		return nil, 0, fmt.Errorf("failed to decode conversations: %w", err)
	}

	convs := make([]Conversation, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	skipped := 0
	for _, entry := range entries {
		if string(bytes.TrimSpace(entry)) == "null" {
			skipped++
			continue
		}
		var c Conversation
		if err := json.Unmarshal(entry, &c); err != nil {
			skipped++
			continue
		}
		if c.ID == "" || seen[c.ID] {
			c.ID = uuid.New().String()
		}
		seen[c.ID] = true
		if c.Messages == nil {
			c.Messages = []Message{}
		}
		convs = append(convs, c)
	}
	return convs, skipped, nil
}
