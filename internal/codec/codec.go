// Package codec encodes and decodes the wire record exchanged with the
// stream log: action, payload, headers, and (on claim responses) attempt.
package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rivulex/rivulex-go/internal/event"
)

// Header keys reserved by the engine.
const (
	HeaderTimestamp     = "timestamp"
	HeaderGroup         = "group"
	HeaderRejected      = "rejected"
	HeaderRejectedGroup = "rejectedGroup"
	HeaderRejectedAt    = "rejectedTimestamp"
)

// Field names on the wire.
const (
	fieldAction  = "action"
	fieldPayload = "payload"
	fieldHeaders = "headers"
	fieldAttempt = "attempt"
)

// Encode builds the XAddArgs.Values map for a publish, JSON-serialising
// payload and headers and stamping headers with timestamp and group.
// payload may be any JSON-marshalable value or a raw json.RawMessage.
func Encode(group, action string, payload interface{}, headers map[string]string) (map[string]interface{}, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal payload: %w", err)
	}

	stamped := make(map[string]string, len(headers)+2)
	for k, v := range headers {
		stamped[k] = v
	}
	stamped[HeaderTimestamp] = time.Now().UTC().Format(time.RFC3339)
	stamped[HeaderGroup] = group

	headersJSON, err := json.Marshal(stamped)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal headers: %w", err)
	}

	return map[string]interface{}{
		fieldAction:  action,
		fieldPayload: string(payloadJSON),
		fieldHeaders: string(headersJSON),
	}, nil
}

// WithRejection returns a copy of headers augmented with the rejection
// fields set by a rejecter, ready to be re-encoded for the dead-letter
// stream.
func WithRejection(headers map[string]string, group string) map[string]string {
	out := make(map[string]string, len(headers)+3)
	for k, v := range headers {
		out[k] = v
	}
	out[HeaderRejected] = "true"
	out[HeaderRejectedGroup] = group
	out[HeaderRejectedAt] = time.Now().UTC().Format(time.RFC3339)
	return out
}

// Decode converts a raw stream message into an in-memory event. It
// tolerates both the 6-field (no attempt) and 8-field (with attempt)
// shapes a claimed message may carry; a missing attempt defaults to 0.
func Decode(stream string, msg redis.XMessage) (event.Event, error) {
	action, _ := msg.Values[fieldAction].(string)
	payloadStr, _ := msg.Values[fieldPayload].(string)
	headersStr, _ := msg.Values[fieldHeaders].(string)

	var headers map[string]string
	if headersStr != "" {
		if err := json.Unmarshal([]byte(headersStr), &headers); err != nil {
			return event.Event{}, fmt.Errorf("codec: unmarshal headers for %s: %w", msg.ID, err)
		}
	}

	attempt := 0
	switch v := msg.Values[fieldAttempt].(type) {
	case string:
		if n, err := parseAttempt(v); err == nil {
			attempt = n
		}
	case int64:
		attempt = int(v)
	case int:
		attempt = v
	}

	return event.Event{
		ID:      msg.ID,
		Stream:  stream,
		Action:  action,
		Attempt: attempt,
		Headers: headers,
		Payload: []byte(payloadStr),
	}, nil
}

func parseAttempt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

// IsRejected reports whether headers carry the rejected marker, and returns
// the rejectedGroup that set it.
func IsRejected(headers map[string]string) (rejected bool, rejectedGroup string) {
	if headers == nil {
		return false, ""
	}
	return headers[HeaderRejected] == "true", headers[HeaderRejectedGroup]
}
