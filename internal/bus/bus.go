// Package bus is the injected event channel between the push transport and
// the session controller. Handlers run in subscription order on a single
// dispatch goroutine, so consumers see events serialized.
package bus

import (
	"context"
	"encoding/json"
)

// Event is a transport event envelope. Kind matches the wire event kind
// ("message", "typing", "presence", "connected", "disconnected") and Payload
// carries the kind-specific JSON body, empty for connection events.
type Event struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Bus publishes transport events to a single ordered subscription.
type Bus interface {
	Publish(ctx context.Context, evt Event) error
	// Subscribe registers the handler and starts delivery. Delivery stops
	// when ctx ends or the bus is closed.
	Subscribe(ctx context.Context, fn func(Event)) error
	Close() error
}
