package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lightchat/llm"
)

func TestCombinePrompts(t *testing.T) {
	assert.Equal(t, "G\nC", CombinePrompts("G", "C"))
	assert.Equal(t, "G\nC", CombinePrompts("  G \n", "\tC "))
	assert.Equal(t, "G", CombinePrompts("G", ""))
	assert.Equal(t, "C", CombinePrompts("", "C"))
	assert.Equal(t, "", CombinePrompts("", ""))
	assert.Equal(t, "C", CombinePrompts("   ", "C"))
}

func TestCompose_SyntheticSystemMessage(t *testing.T) {
	history := []Message{{ID: "1", Role: RoleUser, Content: "hi"}}

	out := Compose(history, "G", "C")
	require.Len(t, out, 2)
	assert.Equal(t, llm.Message{ID: SystemPromptID, Role: "system", Content: "G\nC"}, out[0])
	assert.Equal(t, "hi", out[1].Content)

	out = Compose(history, "G", "")
	require.Len(t, out, 2)
	assert.Equal(t, "G", out[0].Content)

	out = Compose(history, "", "")
	require.Len(t, out, 1)
	assert.Equal(t, "user", out[0].Role)

	// history is never modified
	assert.Len(t, history, 1)
}

func TestCompose_ExistingSystemMessageWins(t *testing.T) {
	history := []Message{
		{ID: "s", Role: RoleSystem, Content: "already here"},
		{ID: "1", Role: RoleUser, Content: "hi"},
	}
	out := Compose(history, "G", "C")
	require.Len(t, out, 2)
	assert.Equal(t, "already here", out[0].Content)
}

func TestCompose_OnlyTrailingUserCarriesFiles(t *testing.T) {
	img := Attachment{Name: "a.png", MimeType: "image/png", URL: "data:image/png;base64,AQI="}
	history := []Message{
		{ID: "1", Role: RoleUser, Content: "first", Files: []Attachment{img}},
		{ID: "2", Role: RoleAssistant, Content: "ok"},
		{ID: "3", Role: RoleUser, Content: "second", Files: []Attachment{img}},
	}

	out := Compose(history, "", "")
	require.Len(t, out, 3)
	assert.Empty(t, out[0].Files)
	require.Len(t, out[2].Files, 1)
	assert.Equal(t, []byte{1, 2}, out[2].Files[0].Data)
	assert.Equal(t, "image/png", out[2].Files[0].MimeType)
}

func TestCompose_TrailingAssistantHasNoFiles(t *testing.T) {
	history := []Message{
		{ID: "1", Role: RoleUser, Content: "q", Files: []Attachment{{Name: "a.png", MimeType: "image/png", URL: "data:image/png;base64,AQI="}}},
		{ID: "2", Role: RoleAssistant, Content: "a"},
	}
	out := Compose(history, "", "")
	assert.Empty(t, out[0].Files)
}
