package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// BreakerEvent is one immutable entry in the breaker/security log.
type BreakerEvent struct {
	Timestamp   time.Time         `json:"timestamp" db:"ts"`
	EventType   string            `json:"eventType" db:"event_type"` // TRIGGER | RESET
	BreakerType string            `json:"breakerType,omitempty" db:"breaker_type"`
	Reason      string            `json:"reason" db:"reason"`
	Equity      float64           `json:"equity" db:"equity"`
	OperatorID  string            `json:"operatorId,omitempty" db:"operator_id"`
	Metadata    map[string]string `json:"metadata,omitempty" db:"-"`
}

// EventStore appends immutable breaker and security events.
type EventStore interface {
	Append(ctx context.Context, event BreakerEvent) error
}

// OutcomeStore records realized trade outcomes for calibration replay.
type OutcomeStore interface {
	AppendOutcome(ctx context.Context, symbol, pattern string, pnl float64, closedAt time.Time) error
}

// FileEventLog appends events as JSON lines to a local file. Used when
// no database is configured; the write is best-effort by design of the
// callers (breaker transitions never block on I/O).
type FileEventLog struct {
	mu   sync.Mutex
	path string
}

// NewFileEventLog creates a JSON-lines event log at path.
func NewFileEventLog(path string) *FileEventLog {
	return &FileEventLog{path: path}
}

func (f *FileEventLog) Append(_ context.Context, event BreakerEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal breaker event: %w", err)
	}

	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append event log: %w", err)
	}
	return nil
}

// MemoryEventLog collects events in memory for tests.
type MemoryEventLog struct {
	mu     sync.Mutex
	events []BreakerEvent
}

// NewMemoryEventLog creates an empty in-memory event log.
func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{}
}

func (m *MemoryEventLog) Append(_ context.Context, event BreakerEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Events returns a copy of the appended events.
func (m *MemoryEventLog) Events() []BreakerEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]BreakerEvent, len(m.events))
	copy(out, m.events)
	return out
}
