package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTypingSignalDecays(t *testing.T) {
	p := NewPresenceTracker(5 * time.Second)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	p.SetTyping("c1", "alice", true, base)
	p.SetTyping("c1", "bob", true, base.Add(3*time.Second))

	assert.Equal(t, []string{"alice", "bob"}, p.TypingUsers("c1", base.Add(4*time.Second)))
	// Alice's signal is past the window, Bob's is not.
	assert.Equal(t, []string{"bob"}, p.TypingUsers("c1", base.Add(6*time.Second)))
	assert.Nil(t, p.TypingUsers("c1", base.Add(10*time.Second)))
}

func TestTypingRefreshExtendsWindow(t *testing.T) {
	p := NewPresenceTracker(5 * time.Second)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	p.SetTyping("c1", "alice", true, base)
	p.SetTyping("c1", "alice", true, base.Add(4*time.Second))

	assert.Equal(t, []string{"alice"}, p.TypingUsers("c1", base.Add(7*time.Second)))
}

func TestTypingStopClearsImmediately(t *testing.T) {
	p := NewPresenceTracker(5 * time.Second)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	p.SetTyping("c1", "alice", true, base)
	p.SetTyping("c1", "alice", false, base.Add(time.Second))

	assert.Nil(t, p.TypingUsers("c1", base.Add(time.Second)))
}

func TestExpireSweepsStaleSignals(t *testing.T) {
	p := NewPresenceTracker(5 * time.Second)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	p.SetTyping("c1", "alice", true, base)
	p.SetTyping("c2", "bob", true, base.Add(4*time.Second))
	p.Expire(base.Add(5 * time.Second))

	assert.Nil(t, p.TypingUsers("c1", base.Add(5*time.Second)))
	assert.Equal(t, []string{"bob"}, p.TypingUsers("c2", base.Add(5*time.Second)))
}

func TestOnlineSet(t *testing.T) {
	p := NewPresenceTracker(0)
	p.SetOnline("alice", true)
	p.SetOnline("bob", true)
	p.SetOnline("alice", false)

	assert.False(t, p.Online("alice"))
	assert.True(t, p.Online("bob"))
	assert.Equal(t, []string{"bob"}, p.OnlineUsers())
}

func TestClearTransientEmptiesBothSets(t *testing.T) {
	p := NewPresenceTracker(5 * time.Second)
	now := time.Now()
	p.SetTyping("c1", "alice", true, now)
	p.SetOnline("alice", true)

	p.ClearTransient()

	assert.Nil(t, p.TypingUsers("c1", now))
	assert.Empty(t, p.OnlineUsers())
}
