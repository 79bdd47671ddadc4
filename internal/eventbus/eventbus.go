package eventbus

import (
	"context"
	"strings"
	"sync"

	"github.com/gridsingularity/d3a/core/transport"
)

type subscription struct {
	pattern string
	handler transport.Handler
}

// TopicBus is an in-process transport.PubSub. Delivery is synchronous and in
// subscription order, which keeps simulations and tests deterministic.
// Patterns accept the MQTT wildcards "+" (one level) and "#" (rest).
type TopicBus struct {
	mu     sync.RWMutex
	subs   []subscription
	closed bool
}

// NewTopicBus creates an empty TopicBus.
func NewTopicBus() *TopicBus { return &TopicBus{} }

// Publish delivers payload to every matching handler.
func (b *TopicBus) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return transport.ErrNotConnected
	}
	var targets []transport.Handler
	for _, s := range b.subs {
		if Match(s.pattern, topic) {
			targets = append(targets, s.handler)
		}
	}
	b.mu.RUnlock()
	for _, h := range targets {
		h(topic, append([]byte(nil), payload...))
	}
	return nil
}

// Subscribe registers h for the topic pattern.
func (b *TopicBus) Subscribe(_ context.Context, topic string, h transport.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return transport.ErrNotConnected
	}
	b.subs = append(b.subs, subscription{pattern: topic, handler: h})
	return nil
}

// Unsubscribe removes every handler registered for the given patterns.
func (b *TopicBus) Unsubscribe(_ context.Context, topics ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	drop := make(map[string]bool, len(topics))
	for _, t := range topics {
		drop[t] = true
	}
	kept := b.subs[:0]
	for _, s := range b.subs {
		if !drop[s.pattern] {
			kept = append(kept, s)
		}
	}
	b.subs = kept
	return nil
}

// Close drops all subscriptions; later calls fail with ErrNotConnected.
func (b *TopicBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.subs = nil
	b.mu.Unlock()
	return nil
}

// Match reports whether topic matches the MQTT-style pattern.
func Match(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	pp := strings.Split(pattern, "/")
	tp := strings.Split(topic, "/")
	for i, p := range pp {
		if p == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if p != "+" && p != tp[i] {
			return false
		}
	}
	return len(pp) == len(tp)
}

var _ transport.PubSub = (*TopicBus)(nil)
