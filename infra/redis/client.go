// Package redis carries participant traffic over Redis Pub/Sub using
// go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/gridsingularity/d3a/core/transport"
	"github.com/gridsingularity/d3a/infra/logger"
)

// Config holds connection parameters for the Redis client.
type Config struct {
	Addr       string `json:"addr"`
	Password   string `json:"password"`
	DB         int    `json:"db"`
	PoolSize   int    `json:"pool_size"`
	MaxRetries int    `json:"max_retries"`
	TLSEnabled bool   `json:"tls_enabled"`
}

// SetDefaults fills the default address.
func (c *Config) SetDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.DB < 0 || c.PoolSize < 0 || c.MaxRetries < 0 {
		return fmt.Errorf("redis db, pool_size and max_retries must be >= 0")
	}
	return nil
}

// Client implements transport.PubSub with Redis PUBLISH and SUBSCRIBE.
// Every subscription runs its own receive goroutine.
type Client struct {
	rdb *redis.Client
	log logger.Logger

	mu     sync.Mutex
	subs   map[string]context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

var _ transport.PubSub = (*Client)(nil)

// New creates a Client and pings the server to verify connectivity.
func New(ctx context.Context, cfg Config) (*Client, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &Client{rdb: rdb, log: logger.New("redis_client"), subs: make(map[string]context.CancelFunc)}, nil
}

// Publish sends payload to the channel named topic.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return transport.ErrNotConnected
	}
	if err := c.rdb.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe routes messages of topic to h. MQTT style wildcards are mapped
// to Redis patterns.
func (c *Client) Subscribe(ctx context.Context, topic string, h transport.Handler) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return transport.ErrNotConnected
	}
	if _, ok := c.subs[topic]; ok {
		c.mu.Unlock()
		return nil
	}
	// Reserve the topic so concurrent calls for it return early.
	subCtx, cancel := context.WithCancel(context.Background())
	c.subs[topic] = cancel
	c.wg.Add(1)
	c.mu.Unlock()

	var ps *redis.PubSub
	if pattern, ok := Pattern(topic); ok {
		ps = c.rdb.PSubscribe(ctx, pattern)
	} else {
		ps = c.rdb.Subscribe(ctx, topic)
	}
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		c.release(subCtx, topic)
		cancel()
		c.wg.Done()
		return fmt.Errorf("redis: subscribe %s: %w", topic, err)
	}

	go func() {
		defer c.wg.Done()
		defer ps.Close()
		ch := ps.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				h(msg.Channel, []byte(msg.Payload))
			}
		}
	}()
	return nil
}

// release drops the reservation of topic unless it was already replaced
// or removed.
func (c *Client) release(subCtx context.Context, topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if subCtx.Err() == nil {
		delete(c.subs, topic)
	}
}

// Unsubscribe stops the given subscriptions.
func (c *Client) Unsubscribe(_ context.Context, topics ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		if cancel, ok := c.subs[t]; ok {
			cancel()
			delete(c.subs, t)
		}
	}
	return nil
}

// Close stops every subscription and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for t, cancel := range c.subs {
		cancel()
		delete(c.subs, t)
	}
	c.mu.Unlock()
	c.wg.Wait()
	return c.rdb.Close()
}

// Pattern converts an MQTT topic filter into a Redis glob pattern. It
// reports false when the topic has no wildcard.
func Pattern(topic string) (string, bool) {
	if !strings.ContainsAny(topic, "#+") {
		return topic, false
	}
	parts := strings.Split(topic, "/")
	for i, p := range parts {
		switch p {
		case "+", "#":
			parts[i] = "*"
		}
	}
	return strings.Join(parts, "/"), true
}
