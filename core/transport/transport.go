// Package transport defines the publish/subscribe channel that carries
// participant commands, responses and events. Delivery is keyed by topic
// name; implementations live in infra/mqtt, infra/redis and the in-process
// bus in internal/eventbus.
package transport

import (
	"context"
	"errors"
)

// ErrNotConnected is returned when publishing on a closed or disconnected
// transport.
var ErrNotConnected = errors.New("transport not connected")

// Handler receives one message. Handlers may be called from any goroutine.
type Handler func(topic string, payload []byte)

// Publisher sends a payload to a topic. It is fire-and-forget: a nil error
// only means the message was handed to the transport.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Subscriber routes messages of a topic to a handler.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, h Handler) error
	Unsubscribe(ctx context.Context, topics ...string) error
}

// PubSub is a full transport backend.
type PubSub interface {
	Publisher
	Subscriber
	Close() error
}
