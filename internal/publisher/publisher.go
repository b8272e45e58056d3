// Package publisher implements the append pipeline: single and batched
// publishes, with PUBLISHED/FAILED hooks fired accordingly.
package publisher

import (
	"context"
	"fmt"

	"github.com/rivulex/rivulex-go/internal/codec"
	"github.com/rivulex/rivulex-go/internal/hooks"
	"github.com/rivulex/rivulex-go/internal/streamlog"
)

// Entry is one publish request. Stream overrides Publisher.defaultStream
// when non-empty (used by PublishBatch; entries may each carry an
// optional stream override).
type Entry struct {
	Stream  string
	Action  string
	Payload interface{}
	Headers map[string]string
}

// Result is the outcome of one batched publish.
type Result struct {
	OK    bool
	ID    string
	Err   error
	Entry Entry
}

// PublishedPayload is the published hook payload.
type PublishedPayload struct {
	ID    string
	Entry Entry
}

// FailedPayload is the failed hook payload (publisher side, distinct from
// processor.FailedPayload).
type FailedPayload struct {
	Entry Entry
	Err   error
}

// Publisher appends events to the log.
type Publisher struct {
	log           streamlog.Log
	hooks         *hooks.Bus
	group         string
	defaultStream string
}

// New constructs a Publisher. group stamps every published event's
// headers.group; defaultStream is used when an Entry/Publish call omits a
// stream.
func New(l streamlog.Log, hb *hooks.Bus, group, defaultStream string) (*Publisher, error) {
	if group == "" {
		return nil, fmt.Errorf("publisher: group is required")
	}
	if defaultStream == "" {
		return nil, fmt.Errorf("publisher: defaultStream is required")
	}
	return &Publisher{log: l, hooks: hb, group: group, defaultStream: defaultStream}, nil
}

// Publish appends one event to stream (or Publisher's defaultStream if
// stream is empty) and returns its assigned ID.
func (p *Publisher) Publish(ctx context.Context, stream, action string, payload interface{}, headers map[string]string) (string, error) {
	e := Entry{Stream: stream, Action: action, Payload: payload, Headers: headers}
	id, err := p.publishOne(ctx, e)
	if err != nil {
		p.hooks.Emit(hooks.Failed, FailedPayload{Entry: e, Err: err})
		return "", err
	}
	p.hooks.Emit(hooks.Published, PublishedPayload{ID: id, Entry: e})
	return id, nil
}

func (p *Publisher) publishOne(ctx context.Context, e Entry) (string, error) {
	stream := e.Stream
	if stream == "" {
		stream = p.defaultStream
	}
	values, err := codec.Encode(p.group, e.Action, e.Payload, e.Headers)
	if err != nil {
		return "", fmt.Errorf("publisher: encode: %w", err)
	}
	id, err := p.log.Append(ctx, stream, values)
	if err != nil {
		return "", fmt.Errorf("publisher: append to %s: %w", stream, err)
	}
	return id, nil
}

// PublishBatch appends every entry as one pipelined batch. On a whole-
// pipeline failure every entry reports FAILED; on a partial failure within
// a successful pipeline, only the failing entries report FAILED.
func (p *Publisher) PublishBatch(ctx context.Context, entries []Entry) ([]Result, error) {
	ops := make([]streamlog.PipelineOp, 0, len(entries))
	values := make([]map[string]interface{}, len(entries))
	for i, e := range entries {
		v, err := codec.Encode(p.group, e.Action, e.Payload, e.Headers)
		if err != nil {
			return nil, fmt.Errorf("publisher: encode entry %d: %w", i, err)
		}
		values[i] = v
		stream := e.Stream
		if stream == "" {
			stream = p.defaultStream
		}
		ops = append(ops, streamlog.PipelineOp{Append: &streamlog.AppendOp{Stream: stream, Values: v}})
	}

	pipelineResults, pipelineErr := p.log.Pipeline(ctx, ops...)

	results := make([]Result, len(entries))
	for i, e := range entries {
		var pr streamlog.PipelineResult
		if i < len(pipelineResults) {
			pr = pipelineResults[i]
		} else {
			pr = streamlog.PipelineResult{Err: pipelineErr}
		}

		if pr.Err != nil {
			results[i] = Result{OK: false, Err: pr.Err, Entry: e}
			p.hooks.Emit(hooks.Failed, FailedPayload{Entry: e, Err: pr.Err})
			continue
		}
		results[i] = Result{OK: true, ID: pr.ID, Entry: e}
		p.hooks.Emit(hooks.Published, PublishedPayload{ID: pr.ID, Entry: e})
	}

	if pipelineErr != nil {
		return results, fmt.Errorf("publisher: batch pipeline failed: %w", pipelineErr)
	}
	return results, nil
}
