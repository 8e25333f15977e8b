package bus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryBusDeliversInOrder(t *testing.T) {
	b := NewMemory()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})

	require.NoError(t, b.Subscribe(ctx, func(evt Event) {
		mu.Lock()
		got = append(got, evt.Kind)
		if len(got) == 3 {
			close(done)
		}
		mu.Unlock()
	}))

	require.NoError(t, b.Publish(ctx, Event{Kind: "connected"}))
	require.NoError(t, b.Publish(ctx, Event{Kind: "message", Payload: json.RawMessage(`{}`)}))
	require.NoError(t, b.Publish(ctx, Event{Kind: "disconnected"}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for events")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"connected", "message", "disconnected"}, got)
}

func TestMemoryBusRejectsPublishAfterClose(t *testing.T) {
	b := NewMemory()
	require.NoError(t, b.Close())
	require.Error(t, b.Publish(context.Background(), Event{Kind: "message"}))
}
