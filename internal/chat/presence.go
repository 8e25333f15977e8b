package chat

import (
	"sort"
	"sync"
	"time"
)

// DefaultTypingWindow is how long a typing signal stays live without a
// refresh. The backend never specifies a decay, so the client enforces one.
const DefaultTypingWindow = 5 * time.Second

// PresenceTracker holds the typing sets per chat and the global online set.
// It is a pure mutator: time is injected by the caller and decay happens
// only through Expire, so tests stay deterministic.
type PresenceTracker struct {
	mu     sync.RWMutex
	window time.Duration
	typing map[string]map[string]time.Time // chat id -> user id -> last signal
	online map[string]struct{}
}

func NewPresenceTracker(window time.Duration) *PresenceTracker {
	if window <= 0 {
		window = DefaultTypingWindow
	}
	return &PresenceTracker{
		window: window,
		typing: map[string]map[string]time.Time{},
		online: map[string]struct{}{},
	}
}

// SetTyping records or clears a typing signal.
func (t *PresenceTracker) SetTyping(chatID, userID string, isTyping bool, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.typing[chatID]
	if !isTyping {
		if set != nil {
			delete(set, userID)
			if len(set) == 0 {
				delete(t.typing, chatID)
			}
		}
		return
	}
	if set == nil {
		set = map[string]time.Time{}
		t.typing[chatID] = set
	}
	set[userID] = now
}

// TypingUsers lists users typing in the chat, excluding decayed signals.
func (t *PresenceTracker) TypingUsers(chatID string, now time.Time) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	set := t.typing[chatID]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for userID, last := range set {
		if now.Sub(last) < t.window {
			out = append(out, userID)
		}
	}
	sort.Strings(out)
	return out
}

// Expire drops typing signals older than the window. Driven by the session
// controller's ticker.
func (t *PresenceTracker) Expire(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for chatID, set := range t.typing {
		for userID, last := range set {
			if now.Sub(last) >= t.window {
				delete(set, userID)
			}
		}
		if len(set) == 0 {
			delete(t.typing, chatID)
		}
	}
}

// SetOnline mutates the global online set.
func (t *PresenceTracker) SetOnline(userID string, online bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if online {
		t.online[userID] = struct{}{}
	} else {
		delete(t.online, userID)
	}
}

// Online reports whether the user is in the online set.
func (t *PresenceTracker) Online(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[userID]
	return ok
}

// OnlineUsers lists the online set, sorted.
func (t *PresenceTracker) OnlineUsers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.online))
	for userID := range t.online {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out
}

// ClearTransient empties the typing and online sets. Used on disconnect so
// stale presence is never shown as live.
func (t *PresenceTracker) ClearTransient() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.typing = map[string]map[string]time.Time{}
	t.online = map[string]struct{}{}
}
