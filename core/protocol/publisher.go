package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gridsingularity/d3a/core/logger"
	"github.com/gridsingularity/d3a/core/transport"
)

const defaultPublishTimeout = 5 * time.Second

// Publisher delivers responses and events. Delivery is fire-and-forget:
// failures are logged and counted, never retried.
type Publisher struct {
	pub     transport.Publisher
	log     logger.Logger
	timeout time.Duration
}

// NewPublisher wraps pub.
func NewPublisher(pub transport.Publisher, log logger.Logger) *Publisher {
	return &Publisher{pub: pub, log: log, timeout: defaultPublishTimeout}
}

// Send marshals v and publishes it on topic. The encoded payload is
// returned even when publishing failed.
func (p *Publisher) Send(ctx context.Context, topic string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		publishFailures.Inc()
		p.log.Errorf("encode message for %s: %v", topic, err)
		return nil, fmt.Errorf("encode: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.pub.Publish(ctx, topic, data); err != nil {
		publishFailures.Inc()
		p.log.Warnf("publish %s: %v", topic, err)
		return data, err
	}
	return data, nil
}

// Result publishes the response rendered from r.
func (p *Publisher) Result(ctx context.Context, topic string, r Result) ([]byte, error) {
	return p.Send(ctx, topic, r.Response())
}
