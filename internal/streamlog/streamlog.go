// Package streamlog is the concrete Go realization of the stream log
// operations this runtime needs: append, blocking group-read,
// idle-pending scan, claim, acknowledge, group-create, trim-by-minimum-id,
// and key-value with TTL. Everything above this package treats the log as
// an abstract collaborator through the Log interface; RedisLog is the
// only implementation, backed by github.com/redis/go-redis/v9.
package streamlog

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// StreamRecords pairs a stream name with the records a group-read returned
// for it.
type StreamRecords struct {
	Stream   string
	Messages []redis.XMessage
}

// PendingEntry is one row of an idle-pending scan: id, owner, idle
// duration, and attempt count.
type PendingEntry struct {
	ID       string
	Consumer string
	Idle     time.Duration
	Attempt  int64
}

// AppendOp appends values to Stream with a fresh, auto-assigned ID.
type AppendOp struct {
	Stream string
	Values map[string]interface{}
}

// AckOp acknowledges a single delivery.
type AckOp struct {
	Stream, Group, ID string
}

// PipelineOp is one unit of a batched, pipelined submission. Exactly one of
// Append or Ack must be set.
type PipelineOp struct {
	Append *AppendOp
	Ack    *AckOp
}

// PipelineResult is the outcome of one PipelineOp, in submission order. ID
// is populated for Append ops on success.
type PipelineResult struct {
	ID  string
	Err error
}

// Log is the abstract stream log engine. See the method docs below for the full
// operation contract.
type Log interface {
	// Append writes values to stream with an auto-assigned, monotonic ID.
	Append(ctx context.Context, stream string, values map[string]interface{}) (string, error)

	// GroupRead performs one blocking group-read across streams, reading
	// only entries not yet delivered to the group ("new entries only"
	// cursor). block == 0 waits until an entry arrives; a negative block
	// returns immediately.
	GroupRead(ctx context.Context, group, consumer string, count int64, block time.Duration, streams ...string) ([]StreamRecords, error)

	// PendingScan lists pending entries idle at least idleAtLeast, oldest
	// first, capped at limit.
	PendingScan(ctx context.Context, stream, group string, idleAtLeast time.Duration, limit int64) ([]PendingEntry, error)

	// Claim transfers ownership of ids to consumer, provided they have
	// been idle at least idle, and returns their current field values.
	Claim(ctx context.Context, stream, group, consumer string, idle time.Duration, ids ...string) ([]redis.XMessage, error)

	// Ack acknowledges (stream, group, id), removing it from the group's
	// pending list. Acking an already-acked or unknown id is a no-op.
	Ack(ctx context.Context, stream, group, id string) error

	// GroupCreate creates group on stream at the genesis cursor ("0"),
	// creating the stream (MKSTREAM) if absent. "already exists" is not
	// an error.
	GroupCreate(ctx context.Context, stream, group string) error

	// TrimByMinID drops entries with an ID below minID.
	TrimByMinID(ctx context.Context, stream, minID string) error

	// KVSet stores value at key with the given TTL.
	KVSet(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// KVGet returns the value at key, or (nil, nil) if absent.
	KVGet(ctx context.Context, key string) ([]byte, error)

	// Pipeline submits ops as one pipelined batch, in submission order,
	// and returns one PipelineResult per op. A whole-pipeline failure
	// (e.g. connection loss) is returned as the error and every result
	// carries that same error.
	Pipeline(ctx context.Context, ops ...PipelineOp) ([]PipelineResult, error)

	// Close releases the underlying connection(s).
	Close() error
}

// RedisLog implements Log over a redis.UniversalClient, the way the
// teacher's EventBus wraps *redis.Client directly.
type RedisLog struct {
	client redis.UniversalClient
}

// New wraps client as a Log.
func New(client redis.UniversalClient) *RedisLog {
	return &RedisLog{client: client}
}

func (l *RedisLog) Append(ctx context.Context, stream string, values map[string]interface{}) (string, error) {
	return l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: values,
	}).Result()
}

func (l *RedisLog) GroupRead(ctx context.Context, group, consumer string, count int64, block time.Duration, streams ...string) ([]StreamRecords, error) {
	args := make([]string, 0, len(streams)*2)
	for _, s := range streams {
		args = append(args, s)
	}
	for range streams {
		args = append(args, ">")
	}

	res, err := l.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  args,
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]StreamRecords, 0, len(res))
	for _, s := range res {
		out = append(out, StreamRecords{Stream: s.Stream, Messages: s.Messages})
	}
	return out, nil
}

func (l *RedisLog) PendingScan(ctx context.Context, stream, group string, idleAtLeast time.Duration, limit int64) ([]PendingEntry, error) {
	res, err := l.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Idle:   idleAtLeast,
		Start:  "-",
		End:    "+",
		Count:  limit,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]PendingEntry, 0, len(res))
	for _, p := range res {
		out = append(out, PendingEntry{
			ID:       p.ID,
			Consumer: p.Consumer,
			Idle:     p.Idle,
			Attempt:  p.RetryCount,
		})
	}
	return out, nil
}

func (l *RedisLog) Claim(ctx context.Context, stream, group, consumer string, idle time.Duration, ids ...string) ([]redis.XMessage, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	res, err := l.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  idle,
		Messages: ids,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	return res, nil
}

func (l *RedisLog) Ack(ctx context.Context, stream, group, id string) error {
	return l.client.XAck(ctx, stream, group, id).Err()
}

func (l *RedisLog) GroupCreate(ctx context.Context, stream, group string) error {
	err := l.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err == nil || isBusyGroup(err) {
		return nil
	}
	return err
}

func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(strings.ToUpper(err.Error()), "BUSYGROUP")
}

func (l *RedisLog) TrimByMinID(ctx context.Context, stream, minID string) error {
	return l.client.XTrimMinID(ctx, stream, minID).Err()
}

func (l *RedisLog) KVSet(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return l.client.Set(ctx, key, value, ttl).Err()
}

func (l *RedisLog) KVGet(ctx context.Context, key string) ([]byte, error) {
	b, err := l.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (l *RedisLog) Pipeline(ctx context.Context, ops ...PipelineOp) ([]PipelineResult, error) {
	pipe := l.client.Pipeline()
	cmds := make([]redis.Cmder, len(ops))
	for i, op := range ops {
		switch {
		case op.Append != nil:
			cmds[i] = pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: op.Append.Stream,
				ID:     "*",
				Values: op.Append.Values,
			})
		case op.Ack != nil:
			cmds[i] = pipe.XAck(ctx, op.Ack.Stream, op.Ack.Group, op.Ack.ID)
		}
	}

	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		results := make([]PipelineResult, len(ops))
		for i := range results {
			results[i] = PipelineResult{Err: err}
		}
		return results, err
	}

	results := make([]PipelineResult, len(ops))
	for i, cmd := range cmds {
		switch c := cmd.(type) {
		case *redis.StringCmd:
			id, cerr := c.Result()
			results[i] = PipelineResult{ID: id, Err: cerr}
		case *redis.IntCmd:
			_, cerr := c.Result()
			results[i] = PipelineResult{Err: cerr}
		}
	}
	return results, nil
}

func (l *RedisLog) Close() error {
	return l.client.Close()
}
