// Package transport carries engine output (signed intents, heartbeats,
// halt notices) to the execution collaborator. Delivery is best-effort
// with a dead-letter queue: the decision core never blocks on, and
// never loses, a message the wire refused.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Well-known channels on the execution link.
const (
	ChannelIntents   = "intents"
	ChannelHeartbeat = "heartbeat"
	ChannelHalt      = "halt"
)

var (
	// ErrTerminalFailure marks a connection that exhausted its retry
	// budget. Only an explicit operator Reconnect clears it.
	ErrTerminalFailure = errors.New("transport: connection failed permanently, operator reconnect required")

	// ErrNotConnected indicates no usable connection for this publish.
	ErrNotConnected = errors.New("transport: not connected")
)

// Publisher delivers a payload on a named channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// DeadLetter is a message the transport could not deliver.
type DeadLetter struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
	Reason  string          `json:"reason"`
	At      time.Time       `json:"at"`
}

// DeadLetterQueue buffers undeliverable messages in memory, bounded.
// When full, the oldest entry is dropped to admit the newest.
type DeadLetterQueue struct {
	mu       sync.Mutex
	entries  []DeadLetter
	capacity int
	now      func() time.Time
}

// NewDeadLetterQueue creates a queue holding at most capacity entries.
func NewDeadLetterQueue(capacity int) *DeadLetterQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &DeadLetterQueue{capacity: capacity, now: time.Now}
}

// Enqueue records an undeliverable message.
func (q *DeadLetterQueue) Enqueue(channel string, payload []byte, cause error) {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) >= q.capacity {
		log.Warn().Str("channel", q.entries[0].Channel).
			Msg("dead-letter queue full, dropping oldest entry")
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, DeadLetter{
		Channel: channel,
		Payload: append([]byte(nil), payload...),
		Reason:  reason,
		At:      q.now(),
	})
}

// Drain removes and returns all queued entries, oldest first.
func (q *DeadLetterQueue) Drain() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.entries
	q.entries = nil
	return out
}

// Len reports the number of queued entries.
func (q *DeadLetterQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
