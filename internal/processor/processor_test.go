package processor

import (
	"context"
	"errors"
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
	"github.com/rivulex/rivulex-go/internal/registry"
	"github.com/rivulex/rivulex-go/internal/retrier"
	"github.com/rivulex/rivulex-go/internal/streamlog"
)

func setup(t *testing.T) (*streamlog.RedisLog, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return streamlog.New(client), client
}

func deliver(t *testing.T, ctx context.Context, l *streamlog.RedisLog, stream, group, consumer string, payload map[string]string) event.Event {
	t.Helper()
	require.NoError(t, l.GroupCreate(ctx, stream, group))
	values, err := codec.Encode(group, "created", payload, nil)
	require.NoError(t, err)
	_, err = l.Append(ctx, stream, values)
	require.NoError(t, err)

	records, err := l.GroupRead(ctx, group, consumer, 10, 10*time.Millisecond, stream)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Len(t, records[0].Messages, 1)

	e, err := codec.Decode(stream, records[0].Messages[0])
	require.NoError(t, err)
	return e
}

func newProcessor(l streamlog.Log, cfg Config) (*Processor, *hooks.Bus) {
	hb := hooks.New(nil)
	p := New(l, hb, retrier.New(2, time.Millisecond), cfg, log.Default())
	return p, hb
}

func TestProcess_HappyPath_HandlerAcks(t *testing.T) {
	l, client := setup(t)
	ctx := context.Background()
	e := deliver(t, ctx, l, "orders", "g1", "c1", map[string]string{"id": "1"})

	p, hb := newProcessor(l, Config{Group: "g1", ProcessConcurrency: 4, ProcessTimeout: 200 * time.Millisecond, Retries: 3})

	var confirmed int32
	var mu sync.Mutex
	hb.On(hooks.Confirmed, func(payload interface{}) {
		mu.Lock()
		confirmed++
		mu.Unlock()
	})

	handlers := map[string]registry.Handler{
		"created": func(ctx event.Context, e event.Event) error {
			return e.Ack()
		},
	}

	p.Process(ctx, "orders", []event.Event{e}, handlers)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int32(1), confirmed)

	pending, err := client.XPending(ctx, "orders", "g1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)
}

func TestProcess_NoHandler_SkipsAndAcks(t *testing.T) {
	l, client := setup(t)
	ctx := context.Background()
	e := deliver(t, ctx, l, "orders", "g1", "c1", map[string]string{"id": "1"})

	p, _ := newProcessor(l, Config{Group: "g1", ProcessConcurrency: 4, ProcessTimeout: 200 * time.Millisecond, Retries: 3})
	p.Process(ctx, "orders", []event.Event{e}, map[string]registry.Handler{})

	pending, err := client.XPending(ctx, "orders", "g1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)
}

func TestProcess_AttemptAtOrAboveRetries_RejectsWithoutInvokingHandler(t *testing.T) {
	l, client := setup(t)
	ctx := context.Background()
	e := deliver(t, ctx, l, "orders", "g1", "c1", map[string]string{"id": "1"})
	e.Attempt = 3

	p, hb := newProcessor(l, Config{Group: "g1", ProcessConcurrency: 4, ProcessTimeout: 200 * time.Millisecond, Retries: 3})

	called := false
	var rejected int32
	hb.On(hooks.Rejected, func(payload interface{}) { rejected++ })

	p.Process(ctx, "orders", []event.Event{e}, map[string]registry.Handler{
		"created": func(ctx event.Context, e event.Event) error {
			called = true
			return nil
		},
	})

	assert.False(t, called)
	assert.Equal(t, int32(1), rejected)

	pending, err := client.XPending(ctx, "orders", "g1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)

	dl, err := client.XRange(ctx, DefaultDeadLetterStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, dl, 1)
}

func TestProcess_HandlerErrorAtLastRetry_RejectsImmediately(t *testing.T) {
	l, client := setup(t)
	ctx := context.Background()
	e := deliver(t, ctx, l, "orders", "g1", "c1", map[string]string{"id": "1"})
	e.Attempt = 1 // attempt+1 == retries(2) -> reject

	p, hb := newProcessor(l, Config{Group: "g1", ProcessConcurrency: 4, ProcessTimeout: 200 * time.Millisecond, Retries: 2})
	var rejected, failed int32
	hb.On(hooks.Rejected, func(payload interface{}) { rejected++ })
	hb.On(hooks.Failed, func(payload interface{}) { failed++ })

	p.Process(ctx, "orders", []event.Event{e}, map[string]registry.Handler{
		"created": func(ctx event.Context, e event.Event) error {
			return errors.New("boom")
		},
	})
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, int32(1), failed)
	assert.Equal(t, int32(1), rejected)

	dl, err := client.XRange(ctx, DefaultDeadLetterStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, dl, 1)
}

func TestProcess_HandlerErrorBeforeLastRetry_LeftPendingForReclaim(t *testing.T) {
	l, client := setup(t)
	ctx := context.Background()
	e := deliver(t, ctx, l, "orders", "g1", "c1", map[string]string{"id": "1"})
	e.Attempt = 0

	p, hb := newProcessor(l, Config{Group: "g1", ProcessConcurrency: 4, ProcessTimeout: 200 * time.Millisecond, Retries: 3})
	var rejected int32
	hb.On(hooks.Rejected, func(payload interface{}) { rejected++ })

	p.Process(ctx, "orders", []event.Event{e}, map[string]registry.Handler{
		"created": func(ctx event.Context, e event.Event) error {
			return errors.New("boom")
		},
	})
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, int32(0), rejected)

	pending, err := client.XPending(ctx, "orders", "g1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending.Count, "event must remain pending for the claim cycle")
}

func TestProcess_CrossGroupRejectedRecord_SkipsWithoutHandler(t *testing.T) {
	l, client := setup(t)
	ctx := context.Background()
	require.NoError(t, l.GroupCreate(ctx, "dead_letter", "g2"))

	headers := codec.WithRejection(map[string]string{}, "g1")
	values, err := codec.Encode("g1", "created", map[string]string{"id": "1"}, headers)
	require.NoError(t, err)
	_, err = l.Append(ctx, "dead_letter", values)
	require.NoError(t, err)

	records, err := l.GroupRead(ctx, "g2", "c1", 10, 10*time.Millisecond, "dead_letter")
	require.NoError(t, err)
	e, err := codec.Decode("dead_letter", records[0].Messages[0])
	require.NoError(t, err)

	p, _ := newProcessor(l, Config{Group: "g2", ProcessConcurrency: 4, ProcessTimeout: 200 * time.Millisecond, Retries: 3})

	called := false
	p.Process(ctx, "dead_letter", []event.Event{e}, map[string]registry.Handler{
		"created": func(ctx event.Context, e event.Event) error {
			called = true
			return nil
		},
	})

	assert.False(t, called)
	pending, err := client.XPending(ctx, "dead_letter", "g2").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)
}

func TestProcess_Timeout_EmitsTimeoutThenLateAckStillConfirms(t *testing.T) {
	l, client := setup(t)
	ctx := context.Background()
	e := deliver(t, ctx, l, "orders", "g1", "c1", map[string]string{"id": "1"})

	p, hb := newProcessor(l, Config{Group: "g1", ProcessConcurrency: 4, ProcessTimeout: 20 * time.Millisecond, Retries: 3})
	var timeouts, confirmed int32
	var mu sync.Mutex
	hb.On(hooks.Timeout, func(payload interface{}) {
		mu.Lock()
		timeouts++
		mu.Unlock()
	})
	hb.On(hooks.Confirmed, func(payload interface{}) {
		mu.Lock()
		confirmed++
		mu.Unlock()
	})

	p.Process(ctx, "orders", []event.Event{e}, map[string]registry.Handler{
		"created": func(ctx event.Context, e event.Event) error {
			time.Sleep(100 * time.Millisecond)
			return e.Ack()
		},
	})

	mu.Lock()
	assert.Equal(t, int32(1), timeouts)
	mu.Unlock()

	time.Sleep(150 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, int32(1), confirmed, "late ack after timeout must still confirm")
	mu.Unlock()

	pending, err := client.XPending(ctx, "orders", "g1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)
}

func TestProcess_ConcurrencyBound_SerializedWhenOne(t *testing.T) {
	l, _ := setup(t)
	ctx := context.Background()

	var e1, e2 event.Event
	require.NoError(t, l.GroupCreate(ctx, "orders", "g1"))
	for i, id := range []string{"1", "2"} {
		values, err := codec.Encode("g1", "created", map[string]string{"id": id}, nil)
		require.NoError(t, err)
		_, err = l.Append(ctx, "orders", values)
		require.NoError(t, err)
		_ = i
	}
	records, err := l.GroupRead(ctx, "g1", "c1", 10, 10*time.Millisecond, "orders")
	require.NoError(t, err)
	require.Len(t, records[0].Messages, 2)
	e1, err = codec.Decode("orders", records[0].Messages[0])
	require.NoError(t, err)
	e2, err = codec.Decode("orders", records[0].Messages[1])
	require.NoError(t, err)

	p, _ := newProcessor(l, Config{Group: "g1", ProcessConcurrency: 1, ProcessTimeout: time.Second, Retries: 3})

	var mu sync.Mutex
	var active, maxActive int
	handler := func(ctx event.Context, e event.Event) error {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()

		time.Sleep(30 * time.Millisecond)

		mu.Lock()
		active--
		mu.Unlock()
		return e.Ack()
	}

	p.Process(ctx, "orders", []event.Event{e1, e2}, map[string]registry.Handler{"created": handler})
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxActive, "processConcurrency=1 must serialize dispatch")
}
