package governance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/riskbrain/internal/domain"
)

type recordingObserver struct {
	transitions []Transition
}

func (r *recordingObserver) OnTransition(t Transition) {
	r.transitions = append(r.transitions, t)
}

func TestUpdateHealth_ThresholdBands(t *testing.T) {
	tests := []struct {
		name   string
		health domain.SystemHealth
		want   domain.DefconLevel
	}{
		{"all nominal", domain.SystemHealth{LatencyMs: 50, ErrorRate: 0.01, DrawdownPct: 0.01}, domain.DefconNormal},
		{"latency just over caution band", domain.SystemHealth{LatencyMs: 301}, domain.DefconCaution},
		{"drawdown at 5pct", domain.SystemHealth{DrawdownPct: 0.05}, domain.DefconCaution},
		{"latency over severe band alone", domain.SystemHealth{LatencyMs: 1001}, domain.DefconDefensive},
		{"error rate over 5pct", domain.SystemHealth{ErrorRate: 0.06}, domain.DefconDefensive},
		{"drawdown at 10pct", domain.SystemHealth{DrawdownPct: 0.10}, domain.DefconDefensive},
		{"error rate over 25pct", domain.SystemHealth{ErrorRate: 0.26}, domain.DefconEmergency},
		{"drawdown at 15pct", domain.SystemHealth{DrawdownPct: 0.15}, domain.DefconEmergency},
		{"severe latency with elevated errors", domain.SystemHealth{LatencyMs: 1200, ErrorRate: 0.08}, domain.DefconEmergency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := NewEngine(DefaultThresholds())
			assert.Equal(t, tt.want, eng.UpdateHealth(tt.health))
			assert.Equal(t, tt.want, eng.Level())
		})
	}
}

func TestUpdateHealth_EmitsTransitionEvents(t *testing.T) {
	eng := NewEngine(DefaultThresholds())
	obs := &recordingObserver{}
	eng.Subscribe(obs)

	eng.UpdateHealth(domain.SystemHealth{DrawdownPct: 0.12})
	require.Len(t, obs.transitions, 1)
	assert.Equal(t, domain.DefconNormal, obs.transitions[0].From)
	assert.Equal(t, domain.DefconDefensive, obs.transitions[0].To)
	assert.Equal(t, 0.12, obs.transitions[0].Health.DrawdownPct)

	// Same level again: no event.
	eng.UpdateHealth(domain.SystemHealth{DrawdownPct: 0.11})
	assert.Len(t, obs.transitions, 1)

	// Recovery emits the downgrade.
	eng.UpdateHealth(domain.SystemHealth{})
	require.Len(t, obs.transitions, 2)
	assert.Equal(t, domain.DefconNormal, obs.transitions[1].To)
}

func TestOverride_WinsOverComputedLevel(t *testing.T) {
	eng := NewEngine(DefaultThresholds())
	eng.SetOverride(domain.DefconEmergency)

	assert.Equal(t, domain.DefconEmergency, eng.UpdateHealth(domain.SystemHealth{}))
	assert.Equal(t, domain.DefconEmergency, eng.Level())
	assert.False(t, eng.CanOpenNewPosition(1))

	eng.ClearOverride()
	assert.Equal(t, domain.DefconNormal, eng.Level())
}

func TestCanOpenNewPosition_PhaseGating(t *testing.T) {
	tests := []struct {
		level  domain.DefconLevel
		phase1 bool
		phase2 bool
		phase3 bool
	}{
		{domain.DefconNormal, true, true, true},
		{domain.DefconCaution, true, false, true},
		{domain.DefconDefensive, false, false, true},
		{domain.DefconEmergency, false, false, false},
	}

	for _, tt := range tests {
		eng := NewEngine(DefaultThresholds())
		eng.SetOverride(tt.level)
		assert.Equal(t, tt.phase1, eng.CanOpenNewPosition(1), "level=%s phase=1", tt.level)
		assert.Equal(t, tt.phase2, eng.CanOpenNewPosition(2), "level=%s phase=2", tt.level)
		assert.Equal(t, tt.phase3, eng.CanOpenNewPosition(3), "level=%s phase=3", tt.level)
	}
}

func TestLeverageMultiplier_DerivesFromEffectiveLevel(t *testing.T) {
	eng := NewEngine(DefaultThresholds())
	assert.Equal(t, 1.0, eng.LeverageMultiplier())

	eng.SetOverride(domain.DefconDefensive)
	assert.Equal(t, 0.5, eng.LeverageMultiplier())

	eng.SetOverride(domain.DefconEmergency)
	assert.Equal(t, 0.0, eng.LeverageMultiplier())
}
