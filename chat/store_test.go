package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lightchat/db"
)

func newTestStore(t *testing.T) (*Store, *db.MemoryStore) {
	t.Helper()
	blobs := db.NewMemoryStore()
	s := NewStore(blobs, nil)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s, blobs
}

func flush(t *testing.T, s *Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Flush(ctx))
}

// seed builds a conversation with the given roles in order.
func seed(t *testing.T, s *Store, roles ...Role) Conversation {
	t.Helper()
	conv := s.Create("gpt-4o")
	for i, r := range roles {
		switch r {
		case RoleUser:
			_, ok := s.AppendUserMessage(conv.ID, "u"+string(rune('0'+i)), nil)
			require.True(t, ok)
		case RoleAssistant:
			_, _, ok := s.MergeAssistant(conv.ID, "a"+string(rune('0'+i)))
			require.True(t, ok)
		}
	}
	c, _, ok := s.Snapshot().Find(conv.ID)
	require.True(t, ok)
	return c
}

func contents(c Conversation) []string {
	out := make([]string, len(c.Messages))
	for i, m := range c.Messages {
		out[i] = m.Content
	}
	return out
}

func TestStore_CreateSelectsAndPrepends(t *testing.T) {
	s, _ := newTestStore(t)

	first := s.Create("o3-mini")
	second := s.Create("")

	snap := s.Snapshot()
	require.Len(t, snap.Conversations, 2)
	assert.Equal(t, second.ID, snap.Conversations[0].ID)
	assert.Equal(t, first.ID, snap.Conversations[1].ID)
	assert.Equal(t, second.ID, snap.CurrentID)
	assert.Equal(t, DefaultTitle, second.Title)
	assert.Empty(t, second.Messages)
	assert.NotEqual(t, first.ID, second.ID)

	// empty model falls back to the newest conversation's model
	assert.Equal(t, "o3-mini", second.Model)
}

func TestStore_CreateDefaultModel(t *testing.T) {
	s, _ := newTestStore(t)
	assert.Equal(t, DefaultModel, s.Create("").Model)
}

func TestStore_Rename(t *testing.T) {
	s, _ := newTestStore(t)
	conv := s.Create("")

	assert.True(t, s.Rename(conv.ID, "  Trip planning "))
	c, _, _ := s.Snapshot().Find(conv.ID)
	assert.Equal(t, "Trip planning", c.Title)

	v := s.Snapshot().Version
	assert.False(t, s.Rename(conv.ID, "   "))
	assert.False(t, s.Rename(conv.ID, "Trip planning"))
	assert.False(t, s.Rename("missing", "x"))
	assert.Equal(t, v, s.Snapshot().Version)
}

func TestStore_Delete(t *testing.T) {
	s, _ := newTestStore(t)
	a := s.Create("")
	b := s.Create("")
	c := s.Create("")

	// deleting a non-selected conversation keeps the selection
	assert.True(t, s.Delete(b.ID))
	assert.Equal(t, c.ID, s.Snapshot().CurrentID)

	assert.True(t, s.Delete(c.ID))
	assert.Equal(t, a.ID, s.Snapshot().CurrentID)

	assert.True(t, s.Delete(a.ID))
	assert.Empty(t, s.Snapshot().CurrentID)
	assert.Empty(t, s.Snapshot().Conversations)

	assert.False(t, s.Delete(a.ID))
}

func TestStore_Select(t *testing.T) {
	s, _ := newTestStore(t)
	a := s.Create("")
	s.Create("")

	assert.True(t, s.Select(a.ID))
	assert.Equal(t, a.ID, s.Snapshot().CurrentID)
	assert.False(t, s.Select("missing"))
	assert.Equal(t, a.ID, s.Snapshot().CurrentID)
}

func TestStore_DeleteMessageAt(t *testing.T) {
	s, _ := newTestStore(t)

	conv := seed(t, s, RoleUser, RoleAssistant, RoleUser, RoleAssistant)
	require.Equal(t, []string{"u0", "a1", "u2", "a3"}, contents(conv))
	require.True(t, s.DeleteMessageAt(conv.ID, 1))
	conv, _, _ = s.Snapshot().Find(conv.ID)
	assert.Equal(t, []string{"u0", "u2", "a3"}, contents(conv))

	pair := seed(t, s, RoleUser, RoleAssistant)
	require.True(t, s.DeleteMessageAt(pair.ID, 0))
	pair, _, _ = s.Snapshot().Find(pair.ID)
	assert.Empty(t, pair.Messages)

	assert.False(t, s.DeleteMessageAt(pair.ID, 0))
	assert.False(t, s.DeleteMessageAt(conv.ID, -1))
	assert.False(t, s.DeleteMessageAt(conv.ID, 3))
	assert.False(t, s.DeleteMessageAt("missing", 0))
}

func TestStore_FieldUpdates(t *testing.T) {
	s, _ := newTestStore(t)
	conv := s.Create("gpt-4o")

	assert.True(t, s.SetModel(conv.ID, "o3-mini"))
	assert.True(t, s.SetSystemPrompt(conv.ID, "Answer in French."))
	assert.False(t, s.SetModel("missing", "x"))
	assert.False(t, s.SetSystemPrompt("missing", "x"))
	s.SetGlobalSystemPrompt("Be brief.")

	snap := s.Snapshot()
	c, _, _ := snap.Find(conv.ID)
	assert.Equal(t, "o3-mini", c.Model)
	assert.Equal(t, "Answer in French.", c.SystemPrompt)
	assert.Equal(t, "Be brief.", snap.GlobalSystemPrompt)
}

func TestStore_TruncateMessages(t *testing.T) {
	s, _ := newTestStore(t)
	conv := seed(t, s, RoleUser, RoleAssistant, RoleUser, RoleAssistant)

	assert.False(t, s.TruncateMessages(conv.ID, 5))
	assert.False(t, s.TruncateMessages(conv.ID, -1))
	assert.True(t, s.TruncateMessages(conv.ID, 1))
	conv, _, _ = s.Snapshot().Find(conv.ID)
	assert.Equal(t, []string{"u0"}, contents(conv))
}

func TestStore_MergeAssistant(t *testing.T) {
	s, _ := newTestStore(t)
	conv := seed(t, s, RoleUser)

	id1, created, ok := s.MergeAssistant(conv.ID, "Hel")
	require.True(t, ok)
	assert.True(t, created)
	id2, created, ok := s.MergeAssistant(conv.ID, "Hello")
	require.True(t, ok)
	assert.False(t, created)
	assert.Equal(t, id1, id2)

	conv, _, _ = s.Snapshot().Find(conv.ID)
	assert.Equal(t, []string{"u0", "Hello"}, contents(conv))

	assert.True(t, s.RemoveMessage(conv.ID, id1))
	assert.False(t, s.RemoveMessage(conv.ID, id1))

	_, _, ok = s.MergeAssistant("missing", "x")
	assert.False(t, ok)
}

func TestStore_CopyOnWrite(t *testing.T) {
	s, _ := newTestStore(t)
	conv := seed(t, s, RoleUser, RoleAssistant)
	before := s.Snapshot()

	s.MergeAssistant(conv.ID, "changed")
	s.AppendUserMessage(conv.ID, "more", nil)
	s.Rename(conv.ID, "Renamed")

	old, _, _ := before.Find(conv.ID)
	assert.Equal(t, []string{"u0", "a1"}, contents(old))
	assert.Equal(t, DefaultTitle, old.Title)
	assert.Greater(t, s.Snapshot().Version, before.Version)
}

func TestStore_AppendDropsEphemeralReferences(t *testing.T) {
	s, _ := newTestStore(t)
	conv := s.Create("")

	msg, ok := s.AppendUserMessage(conv.ID, "see file", []Attachment{
		{Name: "a.png", MimeType: "image/png", URL: "data:image/png;base64,AA==", Path: "/tmp/a.png", Data: []byte{0}},
	})
	require.True(t, ok)
	require.Len(t, msg.Files, 1)
	assert.Empty(t, msg.Files[0].Path)
	assert.Nil(t, msg.Files[0].Data)
	assert.Equal(t, "data:image/png;base64,AA==", msg.Files[0].URL)

	_, ok = s.AppendUserMessage("missing", "x", nil)
	assert.False(t, ok)
}

func TestStore_SnapshotRoundTrip(t *testing.T) {
	s, blobs := newTestStore(t)

	a := seed(t, s, RoleUser, RoleAssistant)
	s.AppendUserMessage(a.ID, "with file", []Attachment{{Name: "a.png", MimeType: "image/png", URL: "data:image/png;base64,AA=="}})
	s.SetSystemPrompt(a.ID, "conv prompt")
	b := seed(t, s, RoleUser)
	s.Rename(b.ID, "Second")
	s.SetGlobalSystemPrompt("global prompt")
	flush(t, s)

	reloaded := NewStore(blobs, nil)
	defer reloaded.Close(context.Background())
	reloaded.Load(context.Background())

	want := s.Snapshot()
	got := reloaded.Snapshot()
	assert.Equal(t, want.Conversations, got.Conversations)
	assert.Equal(t, want.GlobalSystemPrompt, got.GlobalSystemPrompt)
	assert.Equal(t, want.Conversations[0].ID, got.CurrentID)
}

func TestStore_PersistsLatestValue(t *testing.T) {
	s, blobs := newTestStore(t)
	conv := s.Create("")
	for i := 0; i < 50; i++ {
		s.MergeAssistant(conv.ID, string(rune('a'+i%26)))
	}
	flush(t, s)

	stored, err := blobs.Load(context.Background(), KeyChats)
	require.NoError(t, err)
	want, err := EncodeConversations(s.Snapshot().Conversations)
	require.NoError(t, err)
	assert.Equal(t, want, stored)
}

func TestStore_LoadDegradesToEmpty(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		chats string
		want  int
	}{
		{name: "not json", chats: "{oops", want: 0},
		{name: "not an array", chats: `{"id":"x"}`, want: 0},
		{name: "null", chats: "null", want: 0},
		{name: "bad entries skipped", chats: `[{"id":"a","title":"A","messages":[],"createdAt":1,"model":"gpt-4o"}, 42, null]`, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blobs := db.NewMemoryStore()
			require.NoError(t, blobs.Save(ctx, KeyChats, tt.chats))

			s := NewStore(blobs, nil)
			defer s.Close(ctx)
			s.Load(ctx)

			assert.Len(t, s.Snapshot().Conversations, tt.want)
			assert.Empty(t, s.Snapshot().GlobalSystemPrompt)
		})
	}
}

func TestStore_LoadMissing(t *testing.T) {
	s, _ := newTestStore(t)
	s.Load(context.Background())
	assert.Empty(t, s.Snapshot().Conversations)
	assert.Empty(t, s.Snapshot().CurrentID)
}

func TestDecodeConversations_UniqueIDs(t *testing.T) {
	convs, skipped, err := DecodeConversations(`[{"id":"dup","title":"A"},{"id":"dup","title":"B"},{"title":"C"}]`)
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, convs, 3)
	assert.Equal(t, "dup", convs[0].ID)
	assert.NotEqual(t, "dup", convs[1].ID)
	assert.NotEmpty(t, convs[2].ID)
	assert.NotNil(t, convs[2].Messages)
}

func TestStore_Subscribe(t *testing.T) {
	s, _ := newTestStore(t)
	ch, cancel := s.Subscribe()
	defer cancel()

	s.Create("")
	s.Create("")

	select {
	case v := <-ch:
		assert.Equal(t, s.Snapshot().Version, v)
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}
}

func TestStore_Import(t *testing.T) {
	s, _ := newTestStore(t)
	src := Conversation{
		ID:       "old",
		Title:    "",
		Messages: []Message{{Role: RoleUser, Content: "hi", Files: []Attachment{{Name: "x", Path: "/p"}}}},
	}

	got := s.Import(src)
	assert.NotEqual(t, "old", got.ID)
	assert.Equal(t, DefaultTitle, got.Title)
	assert.NotEmpty(t, got.Messages[0].ID)
	assert.Empty(t, got.Messages[0].Files[0].Path)
	assert.Equal(t, got.ID, s.Snapshot().CurrentID)
	assert.Equal(t, "/p", src.Messages[0].Files[0].Path)
}
