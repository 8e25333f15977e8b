package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pelusa-v/pelusa-sync/internal/logger"
)

// Outbox coordinates optimistic sends. Each outgoing message moves through
// pending -> sent | failed. The pending entry is appended to the cache before
// the network call so the UI reflects it immediately, and is replaced in
// place once the server copy is known, from either the send response or the
// echoed push event, whichever lands first.
type Outbox struct {
	mu      sync.Mutex
	pending map[string]*pendingSend // client id -> state

	cache   *MessageCache
	backend Backend
	log     *logger.Logger

	now   func() time.Time
	newID func() string
}

type pendingSend struct {
	chatID    string
	msg       Message
	state     SendState
	confirmed *Message // set when the echoed push event wins the race
}

func NewOutbox(cache *MessageCache, backend Backend, log *logger.Logger) *Outbox {
	return &Outbox{
		pending: map[string]*pendingSend{},
		cache:   cache,
		backend: backend,
		log:     log.With("component", "outbox"),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Send creates the optimistic entry and issues the network send. On success
// the returned message carries the server id; on failure the entry is marked
// failed in the cache (kept for retry or dismissal) and an error is
// returned. The caller keeps the draft on failure.
func (o *Outbox) Send(ctx context.Context, chatID, authorID, content string, typ MessageType, replyToID string) (Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Message{}, E(CodeValidation, "send message", errors.New("content is empty"))
	}
	if typ == "" {
		typ = MessageText
	}

	clientID := o.newID()
	msg := Message{
		ClientID:  clientID,
		ChatID:    chatID,
		AuthorID:  authorID,
		Content:   content,
		Type:      typ,
		ReplyToID: replyToID,
		CreatedAt: o.now().UTC(),
		SendState: SendPending,
	}

	o.mu.Lock()
	o.pending[clientID] = &pendingSend{chatID: chatID, msg: msg, state: SendPending}
	o.mu.Unlock()
	o.cache.Append(chatID, msg)

	return o.dispatch(ctx, chatID, clientID, msg)
}

func (o *Outbox) dispatch(ctx context.Context, chatID, clientID string, msg Message) (Message, error) {
	real, sendErr := o.backend.SendMessage(ctx, chatID, Outgoing{
		ClientID:  clientID,
		Content:   msg.Content,
		Type:      msg.Type,
		ReplyToID: msg.ReplyToID,
	})

	o.mu.Lock()
	entry := o.pending[clientID]
	if entry != nil && entry.confirmed != nil {
		// The push echo resolved this send already; the server accepted it
		// even if our own response got lost.
		confirmed := *entry.confirmed
		delete(o.pending, clientID)
		o.mu.Unlock()
		return confirmed, nil
	}

	if sendErr != nil {
		if entry != nil {
			entry.state = SendFailed
		}
		o.mu.Unlock()
		o.markFailed(chatID, clientID)
		o.log.Warn("send failed", "chat_id", chatID, "client_id", clientID, "error", sendErr)
		if CodeOf(sendErr) != CodeUnknown {
			return Message{}, sendErr
		}
		return Message{}, E(CodeNetwork, "send message", sendErr)
	}

	delete(o.pending, clientID)
	o.mu.Unlock()

	real.ClientID = clientID
	real.SendState = SendSent
	o.cache.Replace(chatID, clientID, real)
	return real, nil
}

func (o *Outbox) markFailed(chatID, clientID string) {
	msgs := o.cache.Messages(chatID)
	for _, m := range msgs {
		if m.ClientID == clientID {
			m.SendState = SendFailed
			o.cache.Append(chatID, m) // identity match updates in place
			return
		}
	}
}

// ObserveEcho reconciles an inbound push event against the pending set.
// It reports true when the event resolved one of our own in-flight sends,
// in which case the caller must not append a second entry.
func (o *Outbox) ObserveEcho(msg Message) bool {
	if msg.ClientID == "" {
		return false
	}
	o.mu.Lock()
	entry, ok := o.pending[msg.ClientID]
	if !ok {
		o.mu.Unlock()
		return false
	}
	msg.SendState = SendSent
	entry.confirmed = &msg
	entry.state = SendSent
	o.mu.Unlock()

	o.cache.Replace(entry.chatID, msg.ClientID, msg)
	return true
}

// Retry re-dispatches a failed send under its original client id, so the
// backend can deduplicate if the first attempt did land.
func (o *Outbox) Retry(ctx context.Context, clientID string) (Message, error) {
	o.mu.Lock()
	entry, ok := o.pending[clientID]
	if !ok || entry.state != SendFailed {
		o.mu.Unlock()
		return Message{}, E(CodeNotFound, "retry send", errors.New("no failed send for client id"))
	}
	entry.state = SendPending
	chatID, msg := entry.chatID, entry.msg
	o.mu.Unlock()

	msg.SendState = SendPending
	o.cache.Append(chatID, msg)
	return o.dispatch(ctx, chatID, clientID, msg)
}

// Dismiss drops a failed send and its cache entry.
func (o *Outbox) Dismiss(clientID string) {
	o.mu.Lock()
	entry, ok := o.pending[clientID]
	if ok {
		delete(o.pending, clientID)
	}
	o.mu.Unlock()
	if ok {
		o.cache.Remove(entry.chatID, clientID)
	}
}

// PendingFor lists the chat's unresolved optimistic messages, oldest first.
// Used to re-apply them over a resynced history.
func (o *Outbox) PendingFor(chatID string) []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []Message
	for _, entry := range o.pending {
		if entry.chatID != chatID || entry.confirmed != nil {
			continue
		}
		msg := entry.msg
		msg.SendState = entry.state
		out = append(out, msg)
	}
	sortByTimestamp(out)
	return out
}
