// Package trimmer implements periodic, distributed, jittered retention
// enforcement: each tick, for every configured stream concurrently, an
// advisory coordination key gates whether this instance performs the
// xtrim.
package trimmer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/rivulex/rivulex-go/internal/streamlog"
)

// KeyPrefix is the coordination key namespace.
const KeyPrefix = "rivulex:trimmer:"

// JitterWindow is the ± window applied to IntervalTime between ticks:
// same unit as intervalTime, [-30s, +30s].
const JitterWindow = 30 * time.Second

// Record is the coordination record stored at the per-stream key.
type Record struct {
	ClientID        string `json:"clientId"`
	TrimmedAt       string `json:"trimmedAt"`
	IntervalTime    int64  `json:"intervalTime"`
	RetentionPeriod int64  `json:"retentionPeriod"`
	MinID           string `json:"minId"`
	Group           string `json:"group"`
}

// Config holds the trimmer's per-instance parameters.
type Config struct {
	ClientID        string
	Group           string
	IntervalTime    time.Duration
	RetentionPeriod time.Duration
}

// Trimmer periodically trims each configured stream.
type Trimmer struct {
	log     streamlog.Log
	cfg     Config
	streams []string
	logger  *log.Logger
}

// New constructs a Trimmer over streams.
func New(l streamlog.Log, cfg Config, streams []string, logger *log.Logger) *Trimmer {
	if logger == nil {
		logger = log.Default()
	}
	return &Trimmer{log: l, cfg: cfg, streams: streams, logger: logger}
}

// Run blocks until ctx is done. It waits a random initial delay in
// [1s, 10s] to stagger cold starts, then ticks on an interval resampled to
// IntervalTime ± JitterWindow before each wait.
func (t *Trimmer) Run(ctx context.Context) {
	initial := time.Duration(1_000+rand.Intn(9_000)) * time.Millisecond
	timer := time.NewTimer(initial)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		t.tick(ctx)

		select {
		case <-ctx.Done():
			return
		default:
		}
		timer.Reset(t.nextInterval())
	}
}

func (t *Trimmer) nextInterval() time.Duration {
	jitter := time.Duration(rand.Int63n(int64(2*JitterWindow))) - JitterWindow
	next := t.cfg.IntervalTime + jitter
	if next <= 0 {
		next = t.cfg.IntervalTime
	}
	return next
}

// tick trims every configured stream concurrently; one stream's failure is
// isolated from the others.
func (t *Trimmer) tick(ctx context.Context) {
	var wg sync.WaitGroup
	for _, stream := range t.streams {
		stream := stream
		wg.Add(1)
		go func() {
			defer wg.Done()
			t.tickStream(ctx, stream)
		}()
	}
	wg.Wait()
}

func (t *Trimmer) tickStream(ctx context.Context, stream string) {
	key := coordinationKey(stream)

	existing, err := t.log.KVGet(ctx, key)
	if err != nil {
		t.logger.Printf("ERROR: trimmer coordination read failed for %s: %v", stream, err)
		return
	}
	if existing != nil {
		return
	}

	minID := minIDFor(time.Now().Add(-t.cfg.RetentionPeriod))
	if err := t.log.TrimByMinID(ctx, stream, minID); err != nil {
		t.logger.Printf("ERROR: trim failed for %s: %v", stream, err)
		return
	}

	record := Record{
		ClientID:        t.cfg.ClientID,
		TrimmedAt:       time.Now().UTC().Format(time.RFC3339),
		IntervalTime:    t.cfg.IntervalTime.Milliseconds(),
		RetentionPeriod: t.cfg.RetentionPeriod.Milliseconds(),
		MinID:           minID,
		Group:           t.cfg.Group,
	}
	body, err := json.Marshal(record)
	if err != nil {
		t.logger.Printf("ERROR: trimmer record marshal failed for %s: %v", stream, err)
		return
	}

	ttl := t.cfg.IntervalTime
	if err := t.log.KVSet(ctx, key, body, ttl); err != nil {
		t.logger.Printf("ERROR: trimmer coordination write failed for %s: %v", stream, err)
	}
}

func coordinationKey(stream string) string {
	return KeyPrefix + stream
}

// minIDFor synthesizes the "<ms-time>-0" cursor xtrim MINID expects. The
// cutoff is negative only when retentionPeriod reaches back before the Unix
// epoch; this then falls back to "-0" (the smallest possible stream ID)
// rather than a negative timestamp.
func minIDFor(cutoff time.Time) string {
	ms := cutoff.UnixMilli()
	if ms < 0 {
		return "-0"
	}
	return fmt.Sprintf("%d-0", ms)
}
