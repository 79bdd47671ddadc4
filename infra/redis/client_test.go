package redis

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gridsingularity/d3a/core/transport"
	"github.com/gridsingularity/d3a/infra/logger"
)

func TestPattern(t *testing.T) {
	cases := []struct {
		topic   string
		want    string
		pattern bool
	}{
		{"d3a/bat/offer", "d3a/bat/offer", false},
		{"d3a/bat/#", "d3a/bat/*", true},
		{"d3a/+/offer", "d3a/*/offer", true},
	}
	for _, c := range cases {
		got, ok := Pattern(c.topic)
		assert.Equal(t, c.want, got, c.topic)
		assert.Equal(t, c.pattern, ok, c.topic)
	}
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.SetDefaults()
	assert.Equal(t, "localhost:6379", c.Addr)
	require.NoError(t, c.Validate())
	assert.Error(t, Config{DB: -1}.Validate())
}

func TestNewFailsWithoutServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := New(ctx, Config{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}

func TestSubscribeReservesTopic(t *testing.T) {
	c := &Client{
		rdb:  redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1}),
		log:  logger.NopLogger{},
		subs: make(map[string]context.CancelFunc),
	}
	defer c.rdb.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// A failed subscribe gives the topic back.
	require.Error(t, c.Subscribe(ctx, "d3a/bat/#", func(string, []byte) {}))
	assert.Empty(t, c.subs)

	// A topic already taken is not subscribed a second time.
	c.subs["d3a/bat/offer"] = func() {}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Subscribe(ctx, "d3a/bat/offer", func(string, []byte) {}))
		}()
	}
	wg.Wait()
	assert.Len(t, c.subs, 1)
}

func TestIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("short mode")
	}
	if os.Getenv("DOCKER_AVAILABLE") != "true" && os.Getenv("DOCKER_AVAILABLE") != "1" {
		t.Skip("docker not available")
	}
	ctx := context.Background()
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("failed to start container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })
	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	cli, err := New(ctx, Config{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	require.NoError(t, err)

	got := make(chan string, 16)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, cli.Subscribe(ctx, "d3a/bat/#", func(topic string, payload []byte) {
				got <- topic + " " + string(payload)
			}))
		}()
	}
	wg.Wait()
	// Concurrent subscribers may return before the winner is listening.
	require.Eventually(t, func() bool {
		_ = cli.Publish(ctx, "d3a/bat/ping", nil)
		select {
		case <-got:
			return true
		default:
			return false
		}
	}, 5*time.Second, 100*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	for len(got) > 0 {
		<-got
	}

	require.NoError(t, cli.Publish(ctx, "d3a/bat/offer", []byte("{}")))
	select {
	case m := <-got:
		assert.Equal(t, "d3a/bat/offer {}", m)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}
	// One subscription, one delivery.
	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, got)

	require.NoError(t, cli.Close())
	assert.ErrorIs(t, cli.Publish(ctx, "d3a/bat/offer", nil), transport.ErrNotConnected)
}
