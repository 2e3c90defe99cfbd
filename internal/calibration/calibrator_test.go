package calibration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/riskbrain/internal/persistence"
)

func TestGetCalibratedProbability_ZeroTrialsTracksRawConfidence(t *testing.T) {
	c := NewCalibrator(persistence.NewMemoryStore())
	ctx := context.Background()

	p := c.GetCalibratedProbability(ctx, "breakout_v2", 72)
	assert.InDelta(t, 0.72, p, 1e-12, "unseen pattern must fall back to raw confidence")
}

func TestGetCalibratedProbability_ConvergesToWinRate(t *testing.T) {
	c := NewCalibrator(persistence.NewMemoryStore())
	ctx := context.Background()

	// 600 wins out of 1000 trials.
	for i := 0; i < 1000; i++ {
		c.UpdateOutcome(ctx, "breakout_v2", i%5 < 3)
	}

	// Raw confidence claims 95%; the posterior should pull it to ~60%.
	p := c.GetCalibratedProbability(ctx, "breakout_v2", 95)
	assert.InDelta(t, 0.60, p, 0.01)
}

func TestGetCalibratedProbability_PosteriorDominatesAfterTwentyTrials(t *testing.T) {
	c := NewCalibrator(persistence.NewMemoryStore())
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		c.UpdateOutcome(ctx, "fade", false)
	}

	// All losses: posterior mean = 0.5/21 ≈ 0.024, blend weight 1.0.
	p := c.GetCalibratedProbability(ctx, "fade", 90)
	assert.InDelta(t, 0.5/21.0, p, 1e-9)
}

func TestGetCalibratedProbability_ClampsRawConfidence(t *testing.T) {
	c := NewCalibrator(persistence.NewMemoryStore())
	ctx := context.Background()

	assert.Equal(t, 1.0, c.GetCalibratedProbability(ctx, "", 250))
	assert.Equal(t, 0.0, c.GetCalibratedProbability(ctx, "", -10))
}

func TestUpdateOutcome_PersistsAcrossRestart(t *testing.T) {
	store := persistence.NewMemoryStore()
	ctx := context.Background()

	first := NewCalibrator(store)
	first.UpdateOutcome(ctx, "scalp", true)
	first.UpdateOutcome(ctx, "scalp", true)
	first.UpdateOutcome(ctx, "scalp", false)

	// New calibrator over the same store sees the accumulated stats.
	second := NewCalibrator(store)
	stats := second.Stats(ctx, "scalp")
	require.Equal(t, 3, stats.Trials)
	assert.Equal(t, 2, stats.Wins)
	assert.InDelta(t, (0.5+2.0)/(1.0+3.0), stats.PosteriorMean(), 1e-12)
}
