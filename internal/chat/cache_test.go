package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msgAt(id, clientID string, sec int) Message {
	return Message{
		ID:        id,
		ClientID:  clientID,
		ChatID:    "c1",
		AuthorID:  "alice",
		Content:   "m-" + id + clientID,
		Type:      MessageText,
		CreatedAt: time.Date(2026, 8, 1, 12, 0, sec, 0, time.UTC),
		SendState: SendSent,
	}
}

func ids(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		if m.ID != "" {
			out[i] = m.ID
		} else {
			out[i] = m.ClientID
		}
	}
	return out
}

func TestApplyPageOrdersNewestFirstInput(t *testing.T) {
	c := NewMessageCache(4)
	// Backend pages arrive newest-first.
	c.ApplyPage("c1", MessagePage{
		Content: []Message{msgAt("3", "", 3), msgAt("2", "", 2), msgAt("1", "", 1)},
		Last:    false,
	}, true)

	assert.Equal(t, []string{"1", "2", "3"}, ids(c.Messages("c1")))
	assert.True(t, c.HasMore("c1"))
	assert.Equal(t, 2, c.NextPage("c1"))
}

func TestApplyPageReplaceKeepsPending(t *testing.T) {
	c := NewMessageCache(4)
	pending := msgAt("", "tmp-1", 5)
	pending.SendState = SendPending
	c.Append("c1", pending)
	c.Append("c1", msgAt("old", "", 0))

	c.ApplyPage("c1", MessagePage{
		Content: []Message{msgAt("2", "", 2), msgAt("1", "", 1)},
		Last:    true,
	}, true)

	got := c.Messages("c1")
	require.Len(t, got, 3)
	assert.Equal(t, []string{"1", "2", "tmp-1"}, ids(got))
	assert.Equal(t, SendPending, got[2].SendState)
	assert.False(t, c.HasMore("c1"))
}

func TestApplyPageMergeOlderNoDuplicates(t *testing.T) {
	c := NewMessageCache(4)
	c.ApplyPage("c1", MessagePage{
		Content: []Message{msgAt("4", "", 4), msgAt("3", "", 3)},
	}, true)
	// Older page overlaps by one message with the cached window.
	c.ApplyPage("c1", MessagePage{
		Content: []Message{msgAt("3", "", 3), msgAt("2", "", 2), msgAt("1", "", 1)},
		Last:    true,
	}, false)

	assert.Equal(t, []string{"1", "2", "3", "4"}, ids(c.Messages("c1")))
	assert.Equal(t, 3, c.NextPage("c1"))
	assert.False(t, c.HasMore("c1"))
}

func TestAppendUpdatesInPlaceOnIdentityMatch(t *testing.T) {
	c := NewMessageCache(4)
	require.True(t, c.Append("c1", msgAt("1", "", 1)))

	edited := msgAt("1", "", 1)
	edited.Content = "edited"
	assert.False(t, c.Append("c1", edited))

	got := c.Messages("c1")
	require.Len(t, got, 1)
	assert.Equal(t, "edited", got[0].Content)
}

func TestReplacePreservesPositionAndCount(t *testing.T) {
	c := NewMessageCache(4)
	c.Append("c1", msgAt("1", "", 1))
	pending := msgAt("", "tmp-1", 2)
	pending.SendState = SendPending
	c.Append("c1", pending)
	c.Append("c1", msgAt("3", "", 3))

	real := msgAt("srv-9", "tmp-1", 2)
	c.Replace("c1", "tmp-1", real)

	got := c.Messages("c1")
	require.Len(t, got, 3)
	assert.Equal(t, "srv-9", got[1].ID)
	assert.Equal(t, "tmp-1", got[1].ClientID)
	assert.Equal(t, SendSent, got[1].SendState)
}

func TestReplaceDropsTempWhenServerCopyAlreadyMerged(t *testing.T) {
	c := NewMessageCache(4)
	pending := msgAt("", "tmp-1", 2)
	pending.SendState = SendPending
	c.Append("c1", pending)
	// A concurrent fetch merged the confirmed copy under its server id.
	c.Append("c1", msgAt("srv-9", "", 2))

	c.Replace("c1", "tmp-1", msgAt("srv-9", "tmp-1", 2))

	got := c.Messages("c1")
	require.Len(t, got, 1)
	assert.Equal(t, "srv-9", got[0].ID)
}

func TestReplaceMissingEntryIsNoop(t *testing.T) {
	c := NewMessageCache(4)
	c.Append("c1", msgAt("1", "", 1))
	c.Replace("c1", "tmp-unknown", msgAt("srv-9", "tmp-unknown", 2))
	assert.Len(t, c.Messages("c1"), 1)
}

func TestMarkDeletedBlanksContentKeepsEntry(t *testing.T) {
	c := NewMessageCache(4)
	c.Append("c1", msgAt("1", "", 1))
	c.MarkDeleted("c1", "1")

	got := c.Messages("c1")
	require.Len(t, got, 1)
	assert.True(t, got[0].Deleted)
	assert.Equal(t, DeletedPlaceholder, got[0].Content)

	// A later fetch carrying the original content does not resurrect it.
	c.Append("c1", msgAt("1", "", 1))
	got = c.Messages("c1")
	assert.Equal(t, DeletedPlaceholder, got[0].Content)
}

func TestCacheEvictsLeastRecentChat(t *testing.T) {
	c := NewMessageCache(1)
	c.Append("c1", msgAt("1", "", 1))
	c.Append("c2", msgAt("2", "", 2))

	assert.False(t, c.Has("c1"))
	assert.True(t, c.Has("c2"))
}

func TestGroupByDate(t *testing.T) {
	d1 := Message{ID: "1", CreatedAt: time.Date(2026, 8, 1, 23, 0, 0, 0, time.Local)}
	d2 := Message{ID: "2", CreatedAt: time.Date(2026, 8, 2, 1, 0, 0, 0, time.Local)}
	d3 := Message{ID: "3", CreatedAt: time.Date(2026, 8, 2, 9, 0, 0, 0, time.Local)}

	groups := GroupByDate([]Message{d1, d2, d3})
	require.Len(t, groups, 2)
	assert.Len(t, groups[0].Messages, 1)
	assert.Len(t, groups[1].Messages, 2)
}
