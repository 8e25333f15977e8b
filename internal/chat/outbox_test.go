package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pelusa-v/pelusa-sync/internal/logger"
)

// fakeBackend implements Backend with overridable behavior per call.
type fakeBackend struct {
	mu         sync.Mutex
	sent       []Outgoing
	markedRead []string

	sendFn     func(chatID string, out Outgoing) (Message, error)
	listFn     func(chatID string, page Page) (MessagePage, error)
	markReadFn func(chatID string) error
	unreadFn   func() ([]UnreadCount, error)
	chatFn     func(id string) (Chat, error)
	searchFn   func(chatID, term string, page Page) ([]Message, error)
}

func (f *fakeBackend) CreateChat(ctx context.Context, data ChatCreate) (Chat, error) {
	return Chat{ID: "chat-" + data.Name, Name: data.Name, Type: data.Type}, nil
}

func (f *fakeBackend) GetChatByID(ctx context.Context, id string) (Chat, error) {
	if f.chatFn != nil {
		return f.chatFn(id)
	}
	return Chat{ID: id, Name: id, Type: ChatGeneral}, nil
}

func (f *fakeBackend) ListMessages(ctx context.Context, chatID string, page Page) (MessagePage, error) {
	if f.listFn != nil {
		return f.listFn(chatID, page)
	}
	return MessagePage{Last: true}, nil
}

func (f *fakeBackend) SendMessage(ctx context.Context, chatID string, out Outgoing) (Message, error) {
	f.mu.Lock()
	f.sent = append(f.sent, out)
	f.mu.Unlock()
	if f.sendFn != nil {
		return f.sendFn(chatID, out)
	}
	return Message{
		ID:        "srv-" + out.ClientID,
		ClientID:  out.ClientID,
		ChatID:    chatID,
		Content:   out.Content,
		Type:      out.Type,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (f *fakeBackend) MarkChatRead(ctx context.Context, chatID string) error {
	f.mu.Lock()
	f.markedRead = append(f.markedRead, chatID)
	f.mu.Unlock()
	if f.markReadFn != nil {
		return f.markReadFn(chatID)
	}
	return nil
}

func (f *fakeBackend) GetUnreadChats(ctx context.Context) ([]UnreadCount, error) {
	if f.unreadFn != nil {
		return f.unreadFn()
	}
	return nil, nil
}

func (f *fakeBackend) SearchMessages(ctx context.Context, chatID, term string, page Page) ([]Message, error) {
	if f.searchFn != nil {
		return f.searchFn(chatID, term, page)
	}
	return nil, nil
}

func (f *fakeBackend) sentBodies() []Outgoing {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Outgoing, len(f.sent))
	copy(out, f.sent)
	return out
}

func newTestOutbox(backend *fakeBackend) (*Outbox, *MessageCache) {
	cache := NewMessageCache(4)
	o := NewOutbox(cache, backend, logger.NewNop())
	seq := 0
	o.newID = func() string {
		seq++
		return "tmp-" + string(rune('0'+seq))
	}
	o.now = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }
	return o, cache
}

func TestSendReplacesOptimisticEntryInPlace(t *testing.T) {
	backend := &fakeBackend{}
	o, cache := newTestOutbox(backend)

	msg, err := o.Send(context.Background(), "c1", "me", "hello", MessageText, "")
	require.NoError(t, err)
	assert.Equal(t, "srv-tmp-1", msg.ID)
	assert.Equal(t, "tmp-1", msg.ClientID)
	assert.Equal(t, SendSent, msg.SendState)

	got := cache.Messages("c1")
	require.Len(t, got, 1)
	assert.Equal(t, "srv-tmp-1", got[0].ID)
	assert.Equal(t, SendSent, got[0].SendState)
	assert.Empty(t, o.PendingFor("c1"))
}

func TestSendRejectsBlankContent(t *testing.T) {
	backend := &fakeBackend{}
	o, cache := newTestOutbox(backend)

	_, err := o.Send(context.Background(), "c1", "me", "   ", MessageText, "")
	assert.Equal(t, CodeValidation, CodeOf(err))
	assert.Empty(t, cache.Messages("c1"))
	assert.Empty(t, backend.sentBodies())
}

func TestSendFailureKeepsFailedEntryForRetry(t *testing.T) {
	backend := &fakeBackend{}
	backend.sendFn = func(chatID string, out Outgoing) (Message, error) {
		return Message{}, E(CodeNetwork, "post", errors.New("connection refused"))
	}
	o, cache := newTestOutbox(backend)

	_, err := o.Send(context.Background(), "c1", "me", "hello", MessageText, "")
	assert.Equal(t, CodeNetwork, CodeOf(err))

	got := cache.Messages("c1")
	require.Len(t, got, 1)
	assert.Equal(t, SendFailed, got[0].SendState)

	pending := o.PendingFor("c1")
	require.Len(t, pending, 1)
	assert.Equal(t, SendFailed, pending[0].SendState)

	// Retry under the same client id so the backend can deduplicate.
	backend.sendFn = nil
	msg, err := o.Retry(context.Background(), pending[0].ClientID)
	require.NoError(t, err)
	assert.Equal(t, pending[0].ClientID, msg.ClientID)

	bodies := backend.sentBodies()
	require.Len(t, bodies, 2)
	assert.Equal(t, bodies[0].ClientID, bodies[1].ClientID)

	got = cache.Messages("c1")
	require.Len(t, got, 1)
	assert.Equal(t, SendSent, got[0].SendState)
}

func TestDismissDropsFailedSend(t *testing.T) {
	backend := &fakeBackend{}
	backend.sendFn = func(chatID string, out Outgoing) (Message, error) {
		return Message{}, E(CodeNetwork, "post", errors.New("down"))
	}
	o, cache := newTestOutbox(backend)

	_, err := o.Send(context.Background(), "c1", "me", "hello", MessageText, "")
	require.Error(t, err)
	pending := o.PendingFor("c1")
	require.Len(t, pending, 1)

	o.Dismiss(pending[0].ClientID)
	assert.Empty(t, cache.Messages("c1"))
	assert.Empty(t, o.PendingFor("c1"))
}

func TestEchoBeforeResponseLeavesSingleEntry(t *testing.T) {
	backend := &fakeBackend{}
	o, cache := newTestOutbox(backend)

	// The push echo lands while the send response is still in flight, and
	// the response itself is then lost.
	backend.sendFn = func(chatID string, out Outgoing) (Message, error) {
		echoed := Message{
			ID:        "srv-1",
			ClientID:  out.ClientID,
			ChatID:    chatID,
			Content:   out.Content,
			Type:      out.Type,
			CreatedAt: time.Now().UTC(),
		}
		require.True(t, o.ObserveEcho(echoed))
		return Message{}, E(CodeNetwork, "post", errors.New("response lost"))
	}

	msg, err := o.Send(context.Background(), "c1", "me", "hello", MessageText, "")
	require.NoError(t, err)
	assert.Equal(t, "srv-1", msg.ID)
	assert.Equal(t, SendSent, msg.SendState)

	got := cache.Messages("c1")
	require.Len(t, got, 1)
	assert.Equal(t, "srv-1", got[0].ID)
	assert.Equal(t, SendSent, got[0].SendState)
	assert.Empty(t, o.PendingFor("c1"))
}

func TestObserveEchoIgnoresForeignMessages(t *testing.T) {
	backend := &fakeBackend{}
	o, _ := newTestOutbox(backend)

	assert.False(t, o.ObserveEcho(Message{ID: "srv-1", ChatID: "c1"}))
	assert.False(t, o.ObserveEcho(Message{ID: "srv-2", ClientID: "someone-elses", ChatID: "c1"}))
}
