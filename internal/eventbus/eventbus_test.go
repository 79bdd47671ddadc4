package eventbus

import (
	"context"
	"errors"
	"testing"

	"github.com/gridsingularity/d3a/core/transport"
)

func TestTopicBusPublishSubscribe(t *testing.T) {
	bus := NewTopicBus()
	ctx := context.Background()
	var got []string
	if err := bus.Subscribe(ctx, "d3a/bat/offer", func(topic string, p []byte) {
		got = append(got, topic+":"+string(p))
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Publish(ctx, "d3a/bat/offer", []byte("x")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	_ = bus.Publish(ctx, "d3a/bat/bid", []byte("y"))
	if len(got) != 1 || got[0] != "d3a/bat/offer:x" {
		t.Fatalf("unexpected deliveries %v", got)
	}
	if err := bus.Unsubscribe(ctx, "d3a/bat/offer"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	_ = bus.Publish(ctx, "d3a/bat/offer", []byte("z"))
	if len(got) != 1 {
		t.Fatalf("handler called after unsubscribe")
	}
}

func TestTopicBusClose(t *testing.T) {
	bus := NewTopicBus()
	_ = bus.Close()
	err := bus.Publish(context.Background(), "a", nil)
	if !errors.Is(err, transport.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected got %v", err)
	}
	if err := bus.Subscribe(context.Background(), "a", func(string, []byte) {}); !errors.Is(err, transport.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected got %v", err)
	}
}

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern, topic string
		want           bool
	}{
		{"a/b", "a/b", true},
		{"a/+", "a/b", true},
		{"a/+", "a/b/c", false},
		{"a/#", "a/b/c", true},
		{"a/+/c", "a/x/c", true},
		{"a/b/c", "a/b", false},
		{"a/b", "a/c", false},
	}
	for _, c := range cases {
		if got := Match(c.pattern, c.topic); got != c.want {
			t.Errorf("Match(%q,%q)=%v want %v", c.pattern, c.topic, got, c.want)
		}
	}
}
