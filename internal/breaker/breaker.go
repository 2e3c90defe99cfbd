// Package breaker implements the trading circuit breaker: a persisted
// state machine that halts new risk on drawdown, equity floor, or
// loss-streak conditions. The in-memory transition always commits
// before any I/O, so a crash mid-transition favors the halted state.
package breaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantfall/riskbrain/internal/persistence"
)

// Type is the breaker severity.
type Type string

const (
	TypeNone Type = "NONE"
	TypeSoft Type = "SOFT"
	TypeHard Type = "HARD"
)

// Action is what the active breaker demands of the orchestrator.
type Action string

const (
	ActionNone       Action = "NONE"
	ActionEntryPause Action = "ENTRY_PAUSE"
	ActionFullHalt   Action = "FULL_HALT"
)

// ErrOperatorRequired rejects resets without an operator identity.
var ErrOperatorRequired = errors.New("breaker: reset requires a non-empty operator id")

const (
	stateKey     = "breaker:state"
	eventTrigger = "TRIGGER"
	eventReset   = "RESET"
)

// Config holds the breaker policy.
type Config struct {
	// MaxDailyDrawdownPct trips HARD when intraday drawdown from the
	// daily start equity reaches this fraction.
	MaxDailyDrawdownPct float64 `yaml:"max_daily_drawdown_pct"`

	// MinEquity trips HARD when equity falls below this floor.
	MinEquity float64 `yaml:"min_equity"`

	// MaxConsecutiveLosses inside LossWindow trips SOFT.
	MaxConsecutiveLosses int           `yaml:"max_consecutive_losses"`
	LossWindow           time.Duration `yaml:"loss_window"`

	// Cooldown is the SOFT pause duration.
	Cooldown time.Duration `yaml:"cooldown"`

	// HaltLockfile mirrors HARD state on disk so a restarted process
	// comes up halted. Empty disables the lockfile.
	HaltLockfile string `yaml:"halt_lockfile"`
}

// DefaultConfig returns the production breaker policy.
func DefaultConfig() Config {
	return Config{
		MaxDailyDrawdownPct:  0.05,
		MinEquity:            500,
		MaxConsecutiveLosses: 3,
		LossWindow:           30 * time.Minute,
		Cooldown:             15 * time.Minute,
		HaltLockfile:         "system.halt",
	}
}

// PositionCloser flattens all open positions on a hard halt.
type PositionCloser interface {
	CloseAllPositions(ctx context.Context, reason string) error
}

// Notifier delivers operator alerts. Best-effort.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// HaltPublisher pushes the hard-halt signal to the execution venue.
type HaltPublisher interface {
	PublishHalt(ctx context.Context, reason string) error
}

// Status is the externally visible breaker state.
type Status struct {
	Active            bool      `json:"active"`
	BreakerType       Type      `json:"breakerType"`
	Action            Action    `json:"action"`
	TriggerReason     string    `json:"triggerReason,omitempty"`
	TriggeredAt       time.Time `json:"triggeredAt"`
	CooldownEndsAt    time.Time `json:"cooldownEndsAt"`
	DailyStartEquity  float64   `json:"dailyStartEquity"`
	TripCount         int       `json:"tripCount"`
	LastTripTime      time.Time `json:"lastTripTime"`
	DrawdownAtTrigger float64   `json:"drawdownAtTrigger,omitempty"`
}

// persistedState is the JSON blob stored under the namespaced key.
type persistedState struct {
	Active           bool      `json:"active"`
	BreakerType      Type      `json:"breakerType"`
	TriggerReason    string    `json:"triggerReason"`
	TriggeredAt      time.Time `json:"triggeredAt"`
	CooldownEndsAt   time.Time `json:"cooldownEndsAt"`
	DailyStartEquity float64   `json:"dailyStartEquity"`
	TripCount        int       `json:"tripCount"`
	LastTripTime     time.Time `json:"lastTripTime"`
}

// Breaker is the circuit breaker. All mutable state is mutex-owned;
// side effects run outside the decision path and are best-effort.
type Breaker struct {
	mu  sync.Mutex
	cfg Config

	breakerType       Type
	triggerReason     string
	triggeredAt       time.Time
	cooldownEndsAt    time.Time
	dailyStartEquity  float64
	tripCount         int
	lastTripTime      time.Time
	drawdownAtTrigger float64

	losses []time.Time // loss timestamps inside the rolling window

	store    persistence.StateStore
	events   persistence.EventStore
	closer   PositionCloser
	notifier Notifier
	halt     HaltPublisher
	onTrip   TripListener

	now func() time.Time
}

// TripListener observes committed breaker trips.
type TripListener func(t Type, reason string)

// Option wires optional collaborators.
type Option func(*Breaker)

// WithPositionCloser attaches the position-closure collaborator.
func WithPositionCloser(c PositionCloser) Option { return func(b *Breaker) { b.closer = c } }

// WithNotifier attaches the notification collaborator.
func WithNotifier(n Notifier) Option { return func(b *Breaker) { b.notifier = n } }

// WithHaltPublisher attaches the execution halt collaborator.
func WithHaltPublisher(h HaltPublisher) Option { return func(b *Breaker) { b.halt = h } }

// WithTripListener attaches a trip observer, invoked after every
// committed TRIGGER transition.
func WithTripListener(l TripListener) Option { return func(b *Breaker) { b.onTrip = l } }

func withClock(now func() time.Time) Option { return func(b *Breaker) { b.now = now } }

// New creates a breaker, restoring persisted state if present. A halt
// lockfile on disk forces HARD regardless of the stored record.
func New(cfg Config, store persistence.StateStore, events persistence.EventStore, opts ...Option) *Breaker {
	b := &Breaker{
		cfg:         cfg,
		breakerType: TypeNone,
		store:       store,
		events:      events,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.restore()
	return b
}

func (b *Breaker) restore() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	raw, err := b.store.Get(ctx, stateKey)
	if err == nil {
		var st persistedState
		if uerr := json.Unmarshal(raw, &st); uerr != nil {
			log.Error().Err(uerr).Msg("corrupt breaker record, starting clean")
		} else if st.Active {
			b.breakerType = st.BreakerType
			b.triggerReason = st.TriggerReason
			b.triggeredAt = st.TriggeredAt
			b.cooldownEndsAt = st.CooldownEndsAt
			b.dailyStartEquity = st.DailyStartEquity
			b.tripCount = st.TripCount
			b.lastTripTime = st.LastTripTime
			log.Warn().Str("type", string(st.BreakerType)).Str("reason", st.TriggerReason).
				Msg("breaker restored in ACTIVE state")
		} else {
			b.dailyStartEquity = st.DailyStartEquity
			b.tripCount = st.TripCount
			b.lastTripTime = st.LastTripTime
		}
	} else if !errors.Is(err, persistence.ErrNotFound) {
		log.Error().Err(err).Msg("breaker state read failed, starting clean")
	}

	if b.cfg.HaltLockfile != "" {
		if _, serr := os.Stat(b.cfg.HaltLockfile); serr == nil && b.breakerType != TypeHard {
			b.breakerType = TypeHard
			b.triggerReason = "halt lockfile present at startup"
			log.Warn().Str("path", b.cfg.HaltLockfile).Msg("breaker initialized HARD from halt lockfile")
		}
	}
}

// StartOfDay records the equity baseline for the daily drawdown check.
func (b *Breaker) StartOfDay(equity float64) {
	b.mu.Lock()
	b.dailyStartEquity = equity
	b.mu.Unlock()
	b.persist()
}

// CheckConditions evaluates the hard-trigger conditions against fresh
// equity. Call on every equity update; triggering while already HARD
// is a no-op.
func (b *Breaker) CheckConditions(equity float64) Status {
	b.mu.Lock()
	b.clearExpiredSoftLocked()

	if b.breakerType == TypeHard {
		st := b.statusLocked()
		b.mu.Unlock()
		return st
	}

	var reason string
	var drawdown float64
	if b.dailyStartEquity > 0 {
		drawdown = (b.dailyStartEquity - equity) / b.dailyStartEquity
	}
	switch {
	case b.cfg.MaxDailyDrawdownPct > 0 && drawdown >= b.cfg.MaxDailyDrawdownPct:
		reason = fmt.Sprintf("daily drawdown %.2f%% breached limit %.2f%%",
			drawdown*100, b.cfg.MaxDailyDrawdownPct*100)
	case equity < b.cfg.MinEquity:
		reason = fmt.Sprintf("equity %.2f below minimum %.2f", equity, b.cfg.MinEquity)
	default:
		st := b.statusLocked()
		b.mu.Unlock()
		return st
	}

	b.tripLocked(TypeHard, reason, drawdown)
	st := b.statusLocked()
	b.mu.Unlock()

	// Side effects after the in-memory transition is committed.
	b.notifyTrip(TypeHard, reason)
	b.fireHardSideEffects(reason, equity, drawdown)
	return st
}

// RecordTrade feeds a realized trade into the rolling loss window. A
// profitable trade clears the tracked losses; a streak of losses
// inside the window trips SOFT (never HARD).
func (b *Breaker) RecordTrade(pnl float64, ts time.Time) Status {
	b.mu.Lock()
	b.clearExpiredSoftLocked()

	cutoff := ts.Add(-b.cfg.LossWindow)
	kept := b.losses[:0]
	for _, lt := range b.losses {
		if lt.After(cutoff) {
			kept = append(kept, lt)
		}
	}
	b.losses = kept

	if pnl >= 0 {
		b.losses = b.losses[:0]
		st := b.statusLocked()
		b.mu.Unlock()
		return st
	}

	b.losses = append(b.losses, ts)
	tripped := b.breakerType == TypeNone && len(b.losses) >= b.cfg.MaxConsecutiveLosses
	if tripped {
		reason := fmt.Sprintf("%d consecutive losses within %s", len(b.losses), b.cfg.LossWindow)
		b.tripLocked(TypeSoft, reason, 0)
		b.cooldownEndsAt = b.now().Add(b.cfg.Cooldown)
		b.losses = b.losses[:0]
	}
	st := b.statusLocked()
	b.mu.Unlock()

	if tripped {
		b.notifyTrip(TypeSoft, st.TriggerReason)
		b.persist()
		b.appendEvent(eventTrigger, st.TriggerReason, 0, "", st.BreakerType)
		b.bestEffortNotify("SOFT breaker tripped", st.TriggerReason)
	}
	return st
}

// tripLocked commits the transition. Caller holds the lock.
func (b *Breaker) tripLocked(t Type, reason string, drawdown float64) {
	b.breakerType = t
	b.triggerReason = reason
	b.triggeredAt = b.now()
	b.tripCount++
	b.lastTripTime = b.triggeredAt
	b.drawdownAtTrigger = drawdown
	if t == TypeHard {
		b.cooldownEndsAt = time.Time{}
	}
	log.Warn().Str("type", string(t)).Str("reason", reason).Int("trip_count", b.tripCount).
		Msg("circuit breaker TRIPPED")
}

// fireHardSideEffects runs the best-effort collaborators for a HARD
// trip. Every failure is logged and swallowed; nothing here can undo
// the transition.
func (b *Breaker) fireHardSideEffects(reason string, equity, drawdown float64) {
	b.persist()
	b.writeLockfile(reason)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if b.closer != nil {
		if err := b.closer.CloseAllPositions(ctx, reason); err != nil {
			log.Error().Err(err).Msg("breaker position closure failed")
		}
	}
	b.bestEffortNotify("HARD breaker tripped", reason)
	b.appendEventWithMetadata(eventTrigger, reason, equity, "", TypeHard, map[string]string{
		"drawdown": fmt.Sprintf("%.4f", drawdown),
	})
	if b.halt != nil {
		if err := b.halt.PublishHalt(ctx, reason); err != nil {
			log.Error().Err(err).Msg("breaker halt publish failed")
		}
	}
}

// Reset clears a HARD breaker. Requires a non-empty operator identity;
// resetting an inactive breaker is a no-op, not an error.
func (b *Breaker) Reset(operatorID string) error {
	if operatorID == "" {
		return ErrOperatorRequired
	}

	b.mu.Lock()
	if b.breakerType == TypeNone {
		b.mu.Unlock()
		return nil
	}
	prev := b.breakerType
	prevReason := b.triggerReason
	b.breakerType = TypeNone
	b.triggerReason = ""
	b.triggeredAt = time.Time{}
	b.cooldownEndsAt = time.Time{}
	b.drawdownAtTrigger = 0
	b.losses = b.losses[:0]
	b.mu.Unlock()

	log.Info().Str("operator", operatorID).Str("previous", string(prev)).
		Msg("circuit breaker RESET by operator")
	b.persist()
	b.removeLockfile()
	b.appendEvent(eventReset, fmt.Sprintf("manual reset (was %s: %s)", prev, prevReason), 0, operatorID, prev)
	return nil
}

// Status returns the current state, lazily expiring a SOFT cooldown.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clearExpiredSoftLocked()
	return b.statusLocked()
}

// IsActive reports whether any breaker is blocking new entries.
func (b *Breaker) IsActive() bool {
	return b.Status().Active
}

func (b *Breaker) clearExpiredSoftLocked() {
	if b.breakerType == TypeSoft && !b.cooldownEndsAt.IsZero() && !b.now().Before(b.cooldownEndsAt) {
		log.Info().Msg("SOFT breaker cooldown expired, auto-clearing")
		b.breakerType = TypeNone
		b.triggerReason = ""
		b.triggeredAt = time.Time{}
		b.cooldownEndsAt = time.Time{}
	}
}

func (b *Breaker) statusLocked() Status {
	action := ActionNone
	switch b.breakerType {
	case TypeSoft:
		action = ActionEntryPause
	case TypeHard:
		action = ActionFullHalt
	}
	return Status{
		Active:            b.breakerType != TypeNone,
		BreakerType:       b.breakerType,
		Action:            action,
		TriggerReason:     b.triggerReason,
		TriggeredAt:       b.triggeredAt,
		CooldownEndsAt:    b.cooldownEndsAt,
		DailyStartEquity:  b.dailyStartEquity,
		TripCount:         b.tripCount,
		LastTripTime:      b.lastTripTime,
		DrawdownAtTrigger: b.drawdownAtTrigger,
	}
}

func (b *Breaker) persist() {
	b.mu.Lock()
	st := persistedState{
		Active:           b.breakerType != TypeNone,
		BreakerType:      b.breakerType,
		TriggerReason:    b.triggerReason,
		TriggeredAt:      b.triggeredAt,
		CooldownEndsAt:   b.cooldownEndsAt,
		DailyStartEquity: b.dailyStartEquity,
		TripCount:        b.tripCount,
		LastTripTime:     b.lastTripTime,
	}
	b.mu.Unlock()

	raw, err := json.Marshal(st)
	if err != nil {
		log.Error().Err(err).Msg("breaker state marshal failed")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := b.store.Set(ctx, stateKey, raw); err != nil {
		log.Error().Err(err).Msg("breaker state persist failed")
	}
}

func (b *Breaker) appendEvent(eventType, reason string, equity float64, operatorID string, breakerType Type) {
	b.appendEventWithMetadata(eventType, reason, equity, operatorID, breakerType, nil)
}

func (b *Breaker) appendEventWithMetadata(eventType, reason string, equity float64, operatorID string, breakerType Type, metadata map[string]string) {
	if b.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	ev := persistence.BreakerEvent{
		Timestamp:   b.now().UTC(),
		EventType:   eventType,
		BreakerType: string(breakerType),
		Reason:      reason,
		Equity:      equity,
		OperatorID:  operatorID,
		Metadata:    metadata,
	}
	if err := b.events.Append(ctx, ev); err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("breaker event append failed")
	}
}

func (b *Breaker) notifyTrip(t Type, reason string) {
	if b.onTrip != nil {
		b.onTrip(t, reason)
	}
}

func (b *Breaker) bestEffortNotify(subject, body string) {
	if b.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.notifier.Notify(ctx, subject, body); err != nil {
		log.Error().Err(err).Msg("breaker notification failed")
	}
}

func (b *Breaker) writeLockfile(reason string) {
	if b.cfg.HaltLockfile == "" {
		return
	}
	if err := os.WriteFile(b.cfg.HaltLockfile, []byte(reason), 0o644); err != nil {
		log.Error().Err(err).Msg("failed to write halt lockfile")
	}
}

func (b *Breaker) removeLockfile() {
	if b.cfg.HaltLockfile == "" {
		return
	}
	if err := os.Remove(b.cfg.HaltLockfile); err != nil && !os.IsNotExist(err) {
		log.Error().Err(err).Msg("failed to remove halt lockfile")
	}
}
