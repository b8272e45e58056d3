// Package subscriber implements the consumer-side supervisor: it owns a
// handler registry, creates consumer groups, and starts one live loop, one
// pending loop, and (optionally) one trimmer per Listen call, wiring them
// all to a shared streamlog.Log and hooks.Bus.
package subscriber

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/rivulex/rivulex-go/internal/config"
	"github.com/rivulex/rivulex-go/internal/consumer"
	"github.com/rivulex/rivulex-go/internal/hooks"
	"github.com/rivulex/rivulex-go/internal/ids"
	"github.com/rivulex/rivulex-go/internal/processor"
	"github.com/rivulex/rivulex-go/internal/registry"
	"github.com/rivulex/rivulex-go/internal/retrier"
	"github.com/rivulex/rivulex-go/internal/streamlog"
	"github.com/rivulex/rivulex-go/internal/trimmer"
)

// Config carries the parameters a Subscriber needs beyond the registered
// handlers: the group name, whether to run a trimmer for the streams this
// instance listens on, and the clamped subscriber/trimmer tunables.
type Config struct {
	Group             string
	Subscriber        config.Subscriber
	Trimmer           config.Trimmer
	RunTrimmer        bool
	TrimRetentionName string // identifies this instance in trimmer coordination records
}

// Subscriber is the top-level consumer-side supervisor. Handlers are
// registered on its Registry before calling Listen.
type Subscriber struct {
	log      streamlog.Log
	hooks    *hooks.Bus
	reg      *registry.Registry
	cfg      Config
	logger   *log.Logger
	consumer string

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New constructs a Subscriber. logger may be nil (defaults to log.Default()).
func New(l streamlog.Log, hb *hooks.Bus, cfg Config, logger *log.Logger) *Subscriber {
	if logger == nil {
		logger = log.Default()
	}
	cfg.Subscriber.Clamp()
	cfg.Trimmer.Clamp()
	return &Subscriber{
		log:      l,
		hooks:    hb,
		reg:      registry.New(),
		cfg:      cfg,
		logger:   logger,
		consumer: ids.Subscriber(cfg.Group),
	}
}

// Registry exposes the handler registry for Register calls prior to Listen.
func (s *Subscriber) Registry() *registry.Registry {
	return s.reg
}

// Listen creates the consumer group on every stream named (ignoring
// "already exists"), then starts the live loop, the pending loop, and
// (if Config.RunTrimmer) a trimmer, each in its own goroutine. It returns
// once every consumer group has been created; the loops keep running in
// the background until Stop is called.
func (s *Subscriber) Listen(ctx context.Context, streams []string) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("subscriber: already listening")
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	for _, stream := range streams {
		if err := s.log.GroupCreate(ctx, stream, s.cfg.Group); err != nil {
			cancel()
			return fmt.Errorf("subscriber: create group on %s: %w", stream, err)
		}
	}

	// The consumers dispatch from a copy of the registry taken now, so
	// registrations made after Listen do not reach them.
	snapshot := registry.New()
	for _, st := range s.reg.Streams() {
		for action, h := range s.reg.ActionsFor(st) {
			snapshot.Register(st, action, h)
		}
	}

	r := retrier.New(retrier.DefaultMaxAttempts, retrier.DefaultDelay)

	liveProc := processor.New(s.log, s.hooks, r, processor.Config{
		Group:              s.cfg.Group,
		ProcessConcurrency: s.cfg.Subscriber.ProcessConcurrency,
		ProcessTimeout:     s.cfg.Subscriber.ProcessTimeout,
		Retries:            s.cfg.Subscriber.Retries,
	}, s.logger)
	live := consumer.NewLive(s.log, liveProc, snapshot, s.cfg.Group, s.consumer, s.cfg.Subscriber.FetchBatchSize, s.cfg.Subscriber.BlockTime, s.logger)

	pendingProc := processor.New(s.log, s.hooks, r, processor.Config{
		Group:              s.cfg.Group,
		ProcessConcurrency: s.cfg.Subscriber.ProcessConcurrency,
		ProcessTimeout:     s.cfg.Subscriber.ProcessTimeout,
		Retries:            s.cfg.Subscriber.Retries,
	}, s.logger)
	pending := consumer.NewPending(s.log, pendingProc, snapshot, s.cfg.Group, s.consumer, s.cfg.Subscriber.FetchBatchSize, s.cfg.Subscriber.AckTimeout, s.logger)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		live.Run(runCtx, streams)
	}()
	go func() {
		defer s.wg.Done()
		pending.Run(runCtx, streams)
	}()

	if s.cfg.RunTrimmer {
		clientID := s.cfg.TrimRetentionName
		if clientID == "" {
			clientID = ids.Trimmer(s.cfg.Group)
		}
		tr := trimmer.New(s.log, trimmer.Config{
			ClientID:        clientID,
			Group:           s.cfg.Group,
			IntervalTime:    s.cfg.Trimmer.IntervalTime,
			RetentionPeriod: s.cfg.Trimmer.RetentionPeriod,
		}, streams, s.logger)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			tr.Run(runCtx)
		}()
	}

	return nil
}

// Stop signals every running loop to stop and waits for them to return.
// Calling Stop before Listen, or twice, is a no-op.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	if !s.started || s.cancel == nil {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}
