// Package consumer implements the twin-loop consumer engine: a blocking
// live reader and an idle-pending claimer, both feeding the same
// processor.
package consumer

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/rivulex/rivulex-go/internal/codec"
	"github.com/rivulex/rivulex-go/internal/event"
	"github.com/rivulex/rivulex-go/internal/processor"
	"github.com/rivulex/rivulex-go/internal/registry"
	"github.com/rivulex/rivulex-go/internal/streamlog"
)

// Live is the blocking group-read loop. It never reads the pending list;
// every event it decodes therefore presents attempt=0 (first delivery to
// this group).
type Live struct {
	log      streamlog.Log
	proc     *processor.Processor
	reg      *registry.Registry
	group    string
	consumer string
	fetch    int64
	block    time.Duration
	logger   *log.Logger
}

// NewLive constructs a Live consumer.
func NewLive(l streamlog.Log, proc *processor.Processor, reg *registry.Registry, group, consumer string, fetchBatchSize int64, blockTime time.Duration, logger *log.Logger) *Live {
	if logger == nil {
		logger = log.Default()
	}
	return &Live{log: l, proc: proc, reg: reg, group: group, consumer: consumer, fetch: fetchBatchSize, block: blockTime, logger: logger}
}

// Run blocks, reading streams until ctx is done. Each iteration issues one
// group-read across all streams at once; the StreamRecords it gets back are
// dispatched to the processor concurrently per stream.
func (c *Live) Run(ctx context.Context, streams []string) {
	if len(streams) == 0 {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		records, err := c.log.GroupRead(ctx, c.group, c.consumer, c.fetch, c.block, streams...)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.logger.Printf("ERROR: live read failed for %v: %v", streams, err)
			continue
		}
		if len(records) == 0 {
			continue
		}

		var wg sync.WaitGroup
		for _, sr := range records {
			sr := sr
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.dispatch(ctx, sr)
			}()
		}
		wg.Wait()
	}
}

func (c *Live) dispatch(ctx context.Context, sr streamlog.StreamRecords) {
	events := make([]event.Event, 0, len(sr.Messages))
	for _, m := range sr.Messages {
		e, err := codec.Decode(sr.Stream, m)
		if err != nil {
			c.logger.Printf("ERROR: decode failed for %s/%s: %v (not acked, will be reclaimed)", sr.Stream, m.ID, err)
			continue
		}
		events = append(events, e)
	}
	if len(events) == 0 {
		return
	}
	c.proc.Process(ctx, sr.Stream, events, c.reg.ActionsFor(sr.Stream))
}
