package consumer

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rivulex/rivulex-go/internal/backoff"
	"github.com/rivulex/rivulex-go/internal/codec"
	"github.com/rivulex/rivulex-go/internal/event"
	"github.com/rivulex/rivulex-go/internal/processor"
	"github.com/rivulex/rivulex-go/internal/registry"
	"github.com/rivulex/rivulex-go/internal/streamlog"
)

// Pending is the idle-pending scan + claim loop. It only ever touches
// records idle at least ackTimeout, so it never competes with a handler
// that is actively processing an event.
type Pending struct {
	log        streamlog.Log
	proc       *processor.Processor
	reg        *registry.Registry
	group      string
	consumer   string
	fetch      int64
	ackTimeout time.Duration
	logger     *log.Logger
}

// NewPending constructs a Pending consumer.
func NewPending(l streamlog.Log, proc *processor.Processor, reg *registry.Registry, group, consumer string, fetchBatchSize int64, ackTimeout time.Duration, logger *log.Logger) *Pending {
	if logger == nil {
		logger = log.Default()
	}
	return &Pending{log: l, proc: proc, reg: reg, group: group, consumer: consumer, fetch: fetchBatchSize, ackTimeout: ackTimeout, logger: logger}
}

// Run blocks, scanning and claiming idle pending entries until ctx is done.
// Idle cycles back off exponentially (min=1s, max=ackTimeout); a cycle that
// claims anything resets the backoff.
func (c *Pending) Run(ctx context.Context, streams []string) {
	if len(streams) == 0 {
		return
	}
	ctl := backoff.New(time.Second, c.ackTimeout)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var claimed int64
		var wg sync.WaitGroup
		for _, stream := range streams {
			stream := stream
			wg.Add(1)
			go func() {
				defer wg.Done()
				n := c.cycle(ctx, stream)
				atomic.AddInt64(&claimed, int64(n))
			}()
		}
		wg.Wait()

		if claimed == 0 {
			ctl.Increase()
		} else {
			ctl.Reset()
		}
		ctl.Wait(ctx)
	}
}

// cycle scans and claims one stream's idle pending entries, dispatches
// them, and returns the number claimed.
func (c *Pending) cycle(ctx context.Context, stream string) int {
	entries, err := c.log.PendingScan(ctx, stream, c.group, c.ackTimeout, c.fetch)
	if err != nil {
		c.logger.Printf("ERROR: pending scan failed for %s: %v", stream, err)
		return 0
	}
	if len(entries) == 0 {
		return 0
	}

	ids := make([]string, 0, len(entries))
	attemptByID := make(map[string]int64, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
		attemptByID[e.ID] = e.Attempt
	}

	msgs, err := c.log.Claim(ctx, stream, c.group, c.consumer, c.ackTimeout, ids...)
	if err != nil {
		c.logger.Printf("ERROR: claim failed for %s: %v", stream, err)
		return 0
	}
	if len(msgs) == 0 {
		return 0
	}

	events := make([]event.Event, 0, len(msgs))
	for _, m := range msgs {
		e, err := codec.Decode(stream, m)
		if err != nil {
			c.logger.Printf("ERROR: decode failed for %s/%s: %v (not acked, will be reclaimed)", stream, m.ID, err)
			continue
		}
		// The claim response omits attempt; inject the count captured at
		// scan time.
		if attempt, ok := attemptByID[m.ID]; ok {
			e.Attempt = int(attempt)
		}
		events = append(events, e)
	}
	if len(events) == 0 {
		return len(msgs)
	}

	c.proc.Process(ctx, stream, events, c.reg.ActionsFor(stream))
	return len(msgs)
}
