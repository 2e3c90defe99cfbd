// Package governance maintains the systemic posture (DEFCON level) of
// the trading system. Health telemetry drives a four-level state
// machine; a manual override, when set, always wins over the computed
// level until explicitly cleared.
package governance

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantfall/riskbrain/internal/domain"
)

// Thresholds are the telemetry bands driving level transitions. These
// are tunable policy constants, not physical constants; the defaults
// are load-bearing for downstream behavior.
type Thresholds struct {
	CautionLatencyMs   float64 `yaml:"caution_latency_ms"`
	SevereLatencyMs    float64 `yaml:"severe_latency_ms"`
	DefensiveErrorRate float64 `yaml:"defensive_error_rate"`
	EmergencyErrorRate float64 `yaml:"emergency_error_rate"`
	CautionDrawdown    float64 `yaml:"caution_drawdown"`
	DefensiveDrawdown  float64 `yaml:"defensive_drawdown"`
	EmergencyDrawdown  float64 `yaml:"emergency_drawdown"`
}

// DefaultThresholds returns the production bands.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CautionLatencyMs:   300,
		SevereLatencyMs:    1000,
		DefensiveErrorRate: 0.05,
		EmergencyErrorRate: 0.25,
		CautionDrawdown:    0.05,
		DefensiveDrawdown:  0.10,
		EmergencyDrawdown:  0.15,
	}
}

// Transition is emitted on every effective level change.
type Transition struct {
	From   domain.DefconLevel
	To     domain.DefconLevel
	Health domain.SystemHealth
	At     time.Time
}

// Observer receives level transitions. No implicit global listeners;
// the orchestrator registers exactly what it needs.
type Observer interface {
	OnTransition(t Transition)
}

// Engine is the DEFCON state machine.
type Engine struct {
	mu         sync.RWMutex
	thresholds Thresholds
	level      domain.DefconLevel
	override   *domain.DefconLevel
	lastHealth domain.SystemHealth
	observers  []Observer
	now        func() time.Time
}

// NewEngine creates a governance engine at NORMAL.
func NewEngine(thresholds Thresholds) *Engine {
	return &Engine{thresholds: thresholds, level: domain.DefconNormal, now: time.Now}
}

// Subscribe registers an observer for level transitions.
func (e *Engine) Subscribe(o Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, o)
}

// UpdateHealth recomputes the level from a telemetry snapshot and emits
// a transition event if the effective level changed.
func (e *Engine) UpdateHealth(h domain.SystemHealth) domain.DefconLevel {
	e.mu.Lock()

	computed := e.classify(h)
	old := e.effectiveLocked()
	e.level = computed
	e.lastHealth = h
	next := e.effectiveLocked()

	var observers []Observer
	if next != old {
		observers = append(observers, e.observers...)
	}
	e.mu.Unlock()

	if next != old {
		log.Warn().
			Str("from", old.String()).
			Str("to", next.String()).
			Float64("latency_ms", h.LatencyMs).
			Float64("error_rate", h.ErrorRate).
			Float64("drawdown_pct", h.DrawdownPct).
			Msg("governance level transition")
		t := Transition{From: old, To: next, Health: h, At: e.now()}
		for _, o := range observers {
			o.OnTransition(t)
		}
	}
	return next
}

func (e *Engine) classify(h domain.SystemHealth) domain.DefconLevel {
	t := e.thresholds
	switch {
	case (h.LatencyMs > t.SevereLatencyMs && h.ErrorRate > t.DefensiveErrorRate) ||
		h.ErrorRate > t.EmergencyErrorRate ||
		h.DrawdownPct >= t.EmergencyDrawdown:
		return domain.DefconEmergency
	case h.LatencyMs > t.SevereLatencyMs ||
		h.ErrorRate > t.DefensiveErrorRate ||
		h.DrawdownPct >= t.DefensiveDrawdown:
		return domain.DefconDefensive
	case h.LatencyMs > t.CautionLatencyMs ||
		h.DrawdownPct >= t.CautionDrawdown:
		return domain.DefconCaution
	default:
		return domain.DefconNormal
	}
}

// SetOverride pins the effective level regardless of telemetry.
func (e *Engine) SetOverride(level domain.DefconLevel) {
	e.mu.Lock()
	old := e.effectiveLocked()
	e.override = &level
	next := e.effectiveLocked()
	observers := append([]Observer(nil), e.observers...)
	h := e.lastHealth
	e.mu.Unlock()

	log.Warn().Str("level", level.String()).Msg("governance manual override set")
	if next != old {
		t := Transition{From: old, To: next, Health: h, At: e.now()}
		for _, o := range observers {
			o.OnTransition(t)
		}
	}
}

// ClearOverride returns control to the computed level.
func (e *Engine) ClearOverride() {
	e.mu.Lock()
	old := e.effectiveLocked()
	e.override = nil
	next := e.effectiveLocked()
	observers := append([]Observer(nil), e.observers...)
	h := e.lastHealth
	e.mu.Unlock()

	log.Info().Msg("governance manual override cleared")
	if next != old {
		t := Transition{From: old, To: next, Health: h, At: e.now()}
		for _, o := range observers {
			o.OnTransition(t)
		}
	}
}

// Level returns the effective (override-aware) level.
func (e *Engine) Level() domain.DefconLevel {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.effectiveLocked()
}

func (e *Engine) effectiveLocked() domain.DefconLevel {
	if e.override != nil {
		return *e.override
	}
	return e.level
}

// LeverageMultiplier scales the allocation-engine leverage cap by the
// effective posture.
func (e *Engine) LeverageMultiplier() float64 {
	switch e.Level() {
	case domain.DefconNormal:
		return 1.0
	case domain.DefconCaution:
		return 0.75
	case domain.DefconDefensive:
		return 0.5
	default:
		return 0.0
	}
}

// CanOpenNewPosition reports whether the given phase may open new risk
// under the effective posture. NORMAL permits all phases; CAUTION
// blocks phase 2 only; DEFENSIVE permits only phase 3; EMERGENCY
// blocks everything.
func (e *Engine) CanOpenNewPosition(phaseID int) bool {
	switch e.Level() {
	case domain.DefconNormal:
		return true
	case domain.DefconCaution:
		return phaseID != 2
	case domain.DefconDefensive:
		return phaseID == 3
	default:
		return false
	}
}
