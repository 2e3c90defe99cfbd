// Package calibration shrinks raw strategy confidence toward observed
// win rates with a per-pattern Beta-Binomial model under a Jeffreys
// prior. With few trials the raw heuristic dominates; the posterior
// takes over as evidence accumulates.
package calibration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/quantfall/riskbrain/internal/persistence"
)

const (
	jeffreysAlpha = 0.5
	jeffreysBeta  = 0.5

	// fullTrustTrials is the trial count at which the posterior fully
	// replaces the raw confidence in the blend.
	fullTrustTrials = 20
)

// Stats are the per-pattern Beta-Binomial parameters.
type Stats struct {
	Alpha  float64 `json:"alpha"`
	Beta   float64 `json:"beta"`
	Wins   int     `json:"wins"`
	Trials int     `json:"trials"`
}

// PosteriorMean is (prior alpha + wins) / (prior mass + trials).
func (s Stats) PosteriorMean() float64 {
	return (jeffreysAlpha + float64(s.Wins)) / (jeffreysAlpha + jeffreysBeta + float64(s.Trials))
}

// Calibrator maintains calibration stats per strategy-pattern tag and
// persists them through the state store.
type Calibrator struct {
	mu    sync.Mutex
	store persistence.StateStore
	stats map[string]Stats
}

// NewCalibrator creates a calibrator backed by the given store.
func NewCalibrator(store persistence.StateStore) *Calibrator {
	return &Calibrator{store: store, stats: make(map[string]Stats)}
}

func statsKey(pattern string) string {
	return "calibration:" + pattern
}

// GetCalibratedProbability blends the Beta-Binomial posterior mean with
// the raw heuristic confidence (0-100). The blend weight toward the
// posterior is min(1, trials/20), so an unseen pattern returns almost
// exactly the raw confidence.
func (c *Calibrator) GetCalibratedProbability(ctx context.Context, pattern string, rawConfidencePct float64) float64 {
	raw := math.Min(math.Max(rawConfidencePct/100.0, 0), 1)
	if pattern == "" {
		return raw
	}

	stats := c.load(ctx, pattern)
	weight := math.Min(1.0, float64(stats.Trials)/fullTrustTrials)
	return weight*stats.PosteriorMean() + (1-weight)*raw
}

// UpdateOutcome records a realized trade result for the pattern and
// persists the updated stats. Persistence failure is logged and
// swallowed; the in-memory stats are already committed.
func (c *Calibrator) UpdateOutcome(ctx context.Context, pattern string, profitable bool) {
	if pattern == "" {
		return
	}

	c.mu.Lock()
	stats := c.loadLocked(ctx, pattern)
	stats.Trials++
	if profitable {
		stats.Wins++
		stats.Alpha++
	} else {
		stats.Beta++
	}
	c.stats[pattern] = stats
	c.mu.Unlock()

	if err := c.persist(ctx, pattern, stats); err != nil {
		log.Error().Err(err).Str("pattern", pattern).Msg("failed to persist calibration stats")
	}
}

// Stats returns the current stats for a pattern (zero value if unseen).
func (c *Calibrator) Stats(ctx context.Context, pattern string) Stats {
	return c.load(ctx, pattern)
}

func (c *Calibrator) load(ctx context.Context, pattern string) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadLocked(ctx, pattern)
}

// loadLocked reads through the cache, falling back to the store once
// per pattern. Callers hold c.mu.
func (c *Calibrator) loadLocked(ctx context.Context, pattern string) Stats {
	if stats, ok := c.stats[pattern]; ok {
		return stats
	}

	stats := Stats{Alpha: jeffreysAlpha, Beta: jeffreysBeta}
	raw, err := c.store.Get(ctx, statsKey(pattern))
	switch {
	case err == nil:
		if uerr := json.Unmarshal(raw, &stats); uerr != nil {
			log.Warn().Err(uerr).Str("pattern", pattern).Msg("corrupt calibration record, reseeding prior")
			stats = Stats{Alpha: jeffreysAlpha, Beta: jeffreysBeta}
		}
	case errors.Is(err, persistence.ErrNotFound):
		// Unseen pattern: Jeffreys prior.
	default:
		log.Warn().Err(err).Str("pattern", pattern).Msg("calibration store read failed, using prior")
	}

	c.stats[pattern] = stats
	return stats
}

func (c *Calibrator) persist(ctx context.Context, pattern string, stats Stats) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal calibration stats: %w", err)
	}
	return c.store.Set(ctx, statsKey(pattern), raw)
}
