// Package processor implements the critical path of event handling:
// given a batch of events for one stream, dispatch each to its registered
// handler with bounded concurrency, honour a per-event processing
// timeout, and drive each event to a terminal state (confirmed, skipped,
// rejected) or leave it pending for the claim-and-reclaim cycle.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rivulex/rivulex-go/internal/codec"
	"github.com/rivulex/rivulex-go/internal/event"
	"github.com/rivulex/rivulex-go/internal/hooks"
	"github.com/rivulex/rivulex-go/internal/registry"
	"github.com/rivulex/rivulex-go/internal/retrier"
	"github.com/rivulex/rivulex-go/internal/streamlog"
)

// DefaultDeadLetterStream is the conventional dead-letter stream name,
// used unless Config.DeadLetterStream overrides it.
const DefaultDeadLetterStream = "dead_letter"

// Config carries the per-subscriber parameters the processor needs. Callers
// are expected to clamp these via internal/config before construction.
type Config struct {
	Group              string
	DeadLetterStream   string
	ProcessConcurrency int
	ProcessTimeout     time.Duration
	Retries            int
}

// ConfirmedPayload is the confirmed hook payload.
type ConfirmedPayload struct {
	Stream string
	ID     string
	Event  event.Event
}

// RejectedPayload is the rejected hook payload.
type RejectedPayload struct {
	Stream       string
	ID           string
	Event        event.Event
	DeadLetterID string
}

// TimeoutPayload is the timeout hook payload.
type TimeoutPayload struct {
	Stream string
	ID     string
	Event  event.Event
}

// FailedPayload is the failed hook payload, reused from the handler-
// exception path (distinct from publisher.FailedPayload).
type FailedPayload struct {
	Stream string
	ID     string
	Event  event.Event
	Err    error
}

// Processor dispatches batches of events to registered handlers. One
// Processor instance should be owned by exactly one consumer loop (live or
// pending); its semaphore persists across Process calls so that a handler
// still running past a timeout continues to occupy a concurrency slot,
// which is how a "2 × processConcurrency" engine-wide bound falls out of
// one Processor per loop.
type Processor struct {
	log     streamlog.Log
	hooks   *hooks.Bus
	retrier *retrier.Retrier
	cfg     Config
	logger  *log.Logger

	sem chan struct{}
}

// New constructs a Processor. logger may be nil (defaults to log.Default()).
func New(l streamlog.Log, hb *hooks.Bus, r *retrier.Retrier, cfg Config, logger *log.Logger) *Processor {
	if cfg.DeadLetterStream == "" {
		cfg.DeadLetterStream = DefaultDeadLetterStream
	}
	if cfg.ProcessConcurrency <= 0 {
		cfg.ProcessConcurrency = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Processor{
		log:     l,
		hooks:   hb,
		retrier: r,
		cfg:     cfg,
		logger:  logger,
		sem:     make(chan struct{}, cfg.ProcessConcurrency),
	}
}

// Process dispatches events (all read from stream) to handlers, a map of
// action -> registry.Handler for that stream. It returns once every event
// has reached a terminal state for this cycle or had a failure/timeout
// observed; it never returns an error to its caller.
func (p *Processor) Process(ctx context.Context, stream string, events []event.Event, handlers map[string]registry.Handler) {
	var wg sync.WaitGroup
	for _, e := range events {
		e := e
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.dispatchOne(ctx, stream, e, handlers)
		}()
	}
	wg.Wait()
}

func (p *Processor) dispatchOne(ctx context.Context, stream string, e event.Event, handlers map[string]registry.Handler) {
	if rejected, rejectedGroup := codec.IsRejected(e.Headers); rejected && rejectedGroup != p.cfg.Group {
		p.skip(ctx, stream, e, "cross-group dead-letter record")
		return
	}

	h, ok := handlers[e.Action]
	if !ok {
		p.skip(ctx, stream, e, "no handler registered for action")
		return
	}

	if e.Attempt >= p.cfg.Retries {
		p.reject(ctx, stream, e)
		return
	}

	p.invoke(ctx, stream, e, h)
}

func (p *Processor) skip(ctx context.Context, stream string, e event.Event, reason string) {
	if err := p.retrier.Do(ctx, func(c context.Context) error {
		return p.log.Ack(c, stream, p.cfg.Group, e.ID)
	}); err != nil {
		p.logger.Printf("ERROR: skip-ack failed for %s/%s: %v (%s)", stream, e.ID, err, reason)
	}
}

func (p *Processor) reject(ctx context.Context, stream string, e event.Event) {
	rejectedHeaders := codec.WithRejection(e.Headers, p.cfg.Group)
	values, err := codec.Encode(p.cfg.Group, e.Action, rawPayload(e.Payload), rejectedHeaders)
	if err != nil {
		p.logger.Printf("ERROR: failed to re-encode %s/%s for dead-letter: %v", stream, e.ID, err)
		return
	}

	var results []streamlog.PipelineResult
	err = p.retrier.Do(ctx, func(c context.Context) error {
		var opErr error
		results, opErr = p.log.Pipeline(c,
			streamlog.PipelineOp{Append: &streamlog.AppendOp{Stream: p.cfg.DeadLetterStream, Values: values}},
			streamlog.PipelineOp{Ack: &streamlog.AckOp{Stream: stream, Group: p.cfg.Group, ID: e.ID}},
		)
		return opErr
	})
	if err != nil {
		p.logger.Printf("ERROR: reject pipeline failed for %s/%s: %v (will be reclaimed)", stream, e.ID, err)
		return
	}

	deadLetterID := ""
	if len(results) > 0 {
		deadLetterID = results[0].ID
	}
	p.hooks.Emit(hooks.Rejected, RejectedPayload{Stream: stream, ID: e.ID, Event: e, DeadLetterID: deadLetterID})
}

func (p *Processor) invoke(ctx context.Context, stream string, e event.Event, h registry.Handler) {
	p.sem <- struct{}{}

	var acked int32
	ack := func() error {
		if !atomic.CompareAndSwapInt32(&acked, 0, 1) {
			p.logger.Printf("WARN: duplicate ack for %s/%s is a no-op", stream, e.ID)
			return nil
		}
		err := p.retrier.Do(context.Background(), func(c context.Context) error {
			return p.log.Ack(c, stream, p.cfg.Group, e.ID)
		})
		if err != nil {
			p.logger.Printf("ERROR: confirmation failed for %s/%s: %v", stream, e.ID, err)
			return err
		}
		p.hooks.Emit(hooks.Confirmed, ConfirmedPayload{Stream: stream, ID: e.ID, Event: e})
		return nil
	}

	delivered := e
	delivered.Ack = ack

	result := make(chan error, 1)
	go func() {
		defer func() { <-p.sem }()
		result <- p.runHandler(ctx, h, delivered)
	}()

	timer := time.NewTimer(p.cfg.ProcessTimeout)
	defer timer.Stop()

	select {
	case err := <-result:
		p.onHandlerDone(stream, e, err)
	case <-timer.C:
		p.hooks.Emit(hooks.Timeout, TimeoutPayload{Stream: stream, ID: e.ID, Event: e})
		go func() {
			err := <-result
			if err != nil {
				p.logger.Printf("ERROR: handler for %s/%s failed after timeout: %v", stream, e.ID, err)
				p.hooks.Emit(hooks.Failed, FailedPayload{Stream: stream, ID: e.ID, Event: e, Err: err})
			}
		}()
	}
}

func (p *Processor) runHandler(ctx context.Context, h registry.Handler, e event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(event.NewContext(ctx), e)
}

func (p *Processor) onHandlerDone(stream string, e event.Event, err error) {
	if err == nil {
		return
	}
	p.hooks.Emit(hooks.Failed, FailedPayload{Stream: stream, ID: e.ID, Event: e, Err: err})
	if e.Attempt+1 >= p.cfg.Retries {
		p.reject(context.Background(), stream, e)
	}
	// Otherwise leave pending: the pending consumer reclaims it once idle
	// for ackTimeout, re-dispatching with attempt+1.
}

func rawPayload(payload []byte) interface{} {
	if len(payload) == 0 {
		return map[string]interface{}{}
	}
	return json.RawMessage(payload)
}
