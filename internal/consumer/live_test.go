package consumer

import (
	"context"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivulex/rivulex-go/internal/codec"
	"github.com/rivulex/rivulex-go/internal/event"
	"github.com/rivulex/rivulex-go/internal/hooks"
	"github.com/rivulex/rivulex-go/internal/processor"
	"github.com/rivulex/rivulex-go/internal/registry"
	"github.com/rivulex/rivulex-go/internal/retrier"
	"github.com/rivulex/rivulex-go/internal/streamlog"
)

func newHarness(t *testing.T) (*streamlog.RedisLog, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return streamlog.New(client), client
}

func TestLive_DeliversAttemptZero(t *testing.T) {
	l, client := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, l.GroupCreate(ctx, "orders", "g1"))
	values, err := codec.Encode("g1", "created", map[string]string{"id": "1"}, nil)
	require.NoError(t, err)
	_, err = l.Append(ctx, "orders", values)
	require.NoError(t, err)

	reg := registry.New()
	var mu sync.Mutex
	var gotAttempt = -1
	reg.Register("orders", "created", func(c event.Context, e event.Event) error {
		mu.Lock()
		gotAttempt = e.Attempt
		mu.Unlock()
		return e.Ack()
	})

	proc := processor.New(l, hooks.New(nil), retrier.New(2, time.Millisecond), processor.Config{
		Group: "g1", ProcessConcurrency: 4, ProcessTimeout: 200 * time.Millisecond, Retries: 3,
	}, log.Default())

	live := NewLive(l, proc, reg, "g1", "c1", 10, 50*time.Millisecond, log.Default())
	go live.Run(ctx, []string{"orders"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotAttempt == 0
	}, time.Second, 10*time.Millisecond)

	pending, err := client.XPending(ctx, "orders", "g1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)
}

func TestLive_StopsOnContextCancellation(t *testing.T) {
	l, _ := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.GroupCreate(ctx, "orders", "g1"))

	reg := registry.New()
	proc := processor.New(l, hooks.New(nil), retrier.New(2, time.Millisecond), processor.Config{
		Group: "g1", ProcessConcurrency: 4, ProcessTimeout: 200 * time.Millisecond, Retries: 3,
	}, log.Default())
	live := NewLive(l, proc, reg, "g1", "c1", 10, 50*time.Millisecond, log.Default())

	done := make(chan struct{})
	go func() {
		live.Run(ctx, []string{"orders"})
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestLive_DecodeErrorSkipsWithoutAcking(t *testing.T) {
	l, client := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, l.GroupCreate(ctx, "orders", "g1"))
	_, err := l.Append(ctx, "orders", map[string]interface{}{
		"action":  "created",
		"payload": "{}",
		"headers": "not-json",
	})
	require.NoError(t, err)

	reg := registry.New()
	proc := processor.New(l, hooks.New(nil), retrier.New(2, time.Millisecond), processor.Config{
		Group: "g1", ProcessConcurrency: 4, ProcessTimeout: 200 * time.Millisecond, Retries: 3,
	}, log.Default())
	live := NewLive(l, proc, reg, "g1", "c1", 10, 20*time.Millisecond, log.Default())
	go live.Run(ctx, []string{"orders"})

	time.Sleep(80 * time.Millisecond)

	pending, err := client.XPending(ctx, "orders", "g1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending.Count, "malformed record must remain pending for reclaim")
}
