package chat

import "sync"

// UnreadTracker keeps the per-chat unread counters and their aggregate in
// lock-step. The aggregate always equals the sum of the per-chat values.
type UnreadTracker struct {
	mu     sync.RWMutex
	counts map[string]int
	total  int
}

func NewUnreadTracker() *UnreadTracker {
	return &UnreadTracker{counts: map[string]int{}}
}

// Increment bumps the chat's counter and the aggregate.
func (t *UnreadTracker) Increment(chatID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[chatID]++
	t.total++
}

// Reset zeroes the chat's counter, subtracting its prior value from the
// aggregate so concurrent increments on other chats stay accounted for.
// It returns the prior value so a provisional reset can be undone when the
// mark-read acknowledgment fails.
func (t *UnreadTracker) Reset(chatID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	prior := t.counts[chatID]
	t.total -= prior
	delete(t.counts, chatID)
	return prior
}

// Restore re-applies a counter value undone by a failed mark-read.
func (t *UnreadTracker) Restore(chatID string, count int) {
	if count <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[chatID] += count
	t.total += count
}

// MarkAllRead zeroes every counter and the aggregate.
func (t *UnreadTracker) MarkAllRead() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts = map[string]int{}
	t.total = 0
}

// ReplaceAll swaps in a full snapshot from the backend (resync path).
func (t *UnreadTracker) ReplaceAll(counts []UnreadCount) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts = map[string]int{}
	t.total = 0
	for _, c := range counts {
		if c.Unread <= 0 {
			continue
		}
		t.counts[c.ChatID] = c.Unread
		t.total += c.Unread
	}
}

// Count returns the chat's unread counter.
func (t *UnreadTracker) Count(chatID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.counts[chatID]
}

// Total returns the aggregate unread count.
func (t *UnreadTracker) Total() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.total
}

// Snapshot copies the per-chat counters.
func (t *UnreadTracker) Snapshot() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]int, len(t.counts))
	for k, v := range t.counts {
		out[k] = v
	}
	return out
}
