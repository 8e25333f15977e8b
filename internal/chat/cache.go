package chat

import (
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCachedChats bounds how many chats keep their message state in
// memory at once.
const DefaultCachedChats = 64

type chatState struct {
	messages []Message
	hasMore  bool
	nextPage int // next older page to fetch
}

// MessageCache owns the ordered message sequence of each chat. Mutations are
// order-independent merges keyed on message identity, so interleaved fetch
// and send completions cannot duplicate or reorder entries. Least recently
// touched chats are evicted once the bound is reached; an evicted chat is
// simply refetched on its next open.
type MessageCache struct {
	mu     sync.RWMutex
	states *lru.Cache[string, *chatState]
}

// NewMessageCache builds a cache bounded to size chats. Size values below 1
// fall back to DefaultCachedChats.
func NewMessageCache(size int) *MessageCache {
	if size < 1 {
		size = DefaultCachedChats
	}
	states, _ := lru.New[string, *chatState](size)
	return &MessageCache{states: states}
}

func (c *MessageCache) state(chatID string) *chatState {
	if st, ok := c.states.Get(chatID); ok {
		return st
	}
	st := &chatState{hasMore: true, nextPage: 1}
	c.states.Add(chatID, st)
	return st
}

// Has reports whether the chat already holds fetched messages.
func (c *MessageCache) Has(chatID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.states.Peek(chatID)
	return ok && len(st.messages) > 0
}

// Touch refreshes the chat's eviction recency.
func (c *MessageCache) Touch(chatID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states.Get(chatID)
}

// ApplyPage merges one fetched page into the chat's sequence. Pages arrive
// newest-first from the backend and are reversed here. With replace=true the
// fetched page becomes the sequence (pending optimistic entries survive the
// swap); otherwise the page is merged in for a load-older. Callers must not
// invoke ApplyPage for failed fetches; a fetch error leaves the cache as-is.
func (c *MessageCache) ApplyPage(chatID string, page MessagePage, replace bool) {
	incoming := make([]Message, len(page.Content))
	for i, m := range page.Content {
		incoming[len(page.Content)-1-i] = m
	}
	for i := range incoming {
		if incoming[i].SendState == "" {
			incoming[i].SendState = SendSent
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state(chatID)
	base := st.messages
	if replace {
		base = pendingOnly(st.messages)
		st.nextPage = 2
	} else {
		st.nextPage++
	}
	st.messages = mergeMessages(base, incoming)
	st.hasMore = !page.Last
}

// Append inserts a message keeping the timestamp order. When the identity
// (server id or client id) is already cached the entry is updated in place
// instead, and Append reports false.
func (c *MessageCache) Append(chatID string, msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state(chatID)
	if i := indexOf(st.messages, msg.ID, msg.ClientID); i >= 0 {
		st.messages[i] = reconcile(st.messages[i], msg)
		return false
	}
	st.messages = append(st.messages, msg)
	sortByTimestamp(st.messages)
	return true
}

// Replace swaps the entry carrying clientID for the confirmed message,
// preserving its position. Missing entries are a no-op: a concurrent fetch
// may already have materialized the server copy.
func (c *MessageCache) Replace(chatID, clientID string, real Message) {
	if clientID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states.Get(chatID)
	if !ok {
		return
	}
	idx := -1
	for i, m := range st.messages {
		if m.ClientID == clientID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	// A fetch may have merged the server copy under its real id already.
	for i, m := range st.messages {
		if i != idx && real.ID != "" && m.ID == real.ID {
			st.messages = append(st.messages[:idx], st.messages[idx+1:]...)
			return
		}
	}
	if real.ClientID == "" {
		real.ClientID = clientID
	}
	if real.SendState == "" || real.SendState == SendPending {
		real.SendState = SendSent
	}
	st.messages[idx] = real
}

// Remove drops the optimistic entry for a failed send.
func (c *MessageCache) Remove(chatID, clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states.Get(chatID)
	if !ok {
		return
	}
	for i, m := range st.messages {
		if m.ClientID == clientID {
			st.messages = append(st.messages[:i], st.messages[i+1:]...)
			return
		}
	}
}

// MarkDeleted soft-deletes the message and blanks its content. The entry is
// never physically removed so thread replies keep their anchor.
func (c *MessageCache) MarkDeleted(chatID, messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states.Get(chatID)
	if !ok {
		return
	}
	for i, m := range st.messages {
		if m.ID == messageID {
			st.messages[i].Deleted = true
			st.messages[i].Content = DeletedPlaceholder
			return
		}
	}
}

// Messages returns a copy of the chat's chronological sequence.
func (c *MessageCache) Messages(chatID string) []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.states.Peek(chatID)
	if !ok {
		return nil
	}
	out := make([]Message, len(st.messages))
	copy(out, st.messages)
	return out
}

// HasMore reports whether older pages remain for the chat.
func (c *MessageCache) HasMore(chatID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.states.Peek(chatID)
	if !ok {
		return true
	}
	return st.hasMore
}

// NextPage returns the next older page number to request for the chat.
func (c *MessageCache) NextPage(chatID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.states.Peek(chatID)
	if !ok {
		return 1
	}
	return st.nextPage
}

func pendingOnly(msgs []Message) []Message {
	var out []Message
	for _, m := range msgs {
		if m.SendState == SendPending {
			out = append(out, m)
		}
	}
	return out
}

func indexOf(msgs []Message, id, clientID string) int {
	for i, m := range msgs {
		if id != "" && m.ID == id {
			return i
		}
		if clientID != "" && m.ClientID == clientID {
			return i
		}
	}
	return -1
}

// reconcile folds an incoming copy of an already-cached message into the
// cached entry. The confirmed copy wins, but the client id and a confirmed
// send state are never downgraded.
func reconcile(cached, incoming Message) Message {
	if incoming.ID == "" {
		incoming.ID = cached.ID
	}
	if incoming.ClientID == "" {
		incoming.ClientID = cached.ClientID
	}
	if incoming.SendState == "" || incoming.SendState == SendPending && cached.SendState == SendSent {
		incoming.SendState = SendSent
	}
	if cached.Deleted {
		incoming.Deleted = true
		incoming.Content = DeletedPlaceholder
	}
	return incoming
}

func mergeMessages(base, incoming []Message) []Message {
	merged := make([]Message, len(base))
	copy(merged, base)
	for _, m := range incoming {
		if i := indexOf(merged, m.ID, m.ClientID); i >= 0 {
			merged[i] = reconcile(merged[i], m)
			continue
		}
		merged = append(merged, m)
	}
	sortByTimestamp(merged)
	return merged
}

func sortByTimestamp(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}
