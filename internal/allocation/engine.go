// Package allocation converts account equity into per-phase capital
// weights and leverage caps. Weights follow two logistic transition
// curves with sticky hysteresis so tier boundaries do not flap.
package allocation

import (
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantfall/riskbrain/internal/domain"
)

// Config holds the allocation curve parameters. Defaults match the
// production policy; all values are tunable policy constants.
type Config struct {
	// Phase-2 logistic band: phase-1 weight blends 1.0 -> 0.2 and
	// phase-2 weight 0.0 -> 0.8 between these equity levels.
	Phase2StartEquity float64 `yaml:"phase2_start_equity"`
	Phase2FullEquity  float64 `yaml:"phase2_full_equity"`

	// Phase-3 logistic: starts here, midpoint offset further out,
	// phase-3 weight grows toward the ceiling.
	Phase3StartEquity   float64 `yaml:"phase3_start_equity"`
	Phase3MidpointShift float64 `yaml:"phase3_midpoint_shift"`
	Phase3Ceiling       float64 `yaml:"phase3_ceiling"`

	// HysteresisBuffer lowers the exit threshold of an entered phase
	// to this fraction of the entry threshold.
	HysteresisBuffer float64 `yaml:"hysteresis_buffer"`

	// ExplorationWeight is the default blend weight toward the base
	// (safe) vector in adaptive blending.
	ExplorationWeight float64 `yaml:"exploration_weight"`
}

// DefaultConfig returns the production allocation curve.
func DefaultConfig() Config {
	return Config{
		Phase2StartEquity:   1500,
		Phase2FullEquity:    5000,
		Phase3StartEquity:   25000,
		Phase3MidpointShift: 12500,
		Phase3Ceiling:       0.5,
		HysteresisBuffer:    0.9,
		ExplorationWeight:   0.7,
	}
}

const (
	phase1Floor   = 0.2 // phase-1 weight once phase 2 is fully open
	phase2Plateau = 0.8
	weightEpsilon = 1e-10
)

// Engine computes allocation vectors. It carries the two sticky
// hysteresis flags and must be used by a single writer.
type Engine struct {
	cfg Config

	hasEnteredPhase2 bool
	hasEnteredPhase3 bool

	now func() time.Time
}

// NewEngine creates an allocation engine with the given curve config.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg, now: time.Now}
}

// GetWeights returns the normalized allocation vector for the given
// equity. Never fails: negative equity clamps to zero, which collapses
// the vector to pure phase 1. The hysteresis flags mutate only here.
func (e *Engine) GetWeights(equity float64) domain.AllocationVector {
	if equity < 0 {
		equity = 0
	}

	p2Threshold := e.cfg.Phase2StartEquity
	if e.hasEnteredPhase2 {
		p2Threshold = e.cfg.Phase2StartEquity * e.cfg.HysteresisBuffer
	}
	p3Threshold := e.cfg.Phase3StartEquity
	if e.hasEnteredPhase3 {
		p3Threshold = e.cfg.Phase3StartEquity * e.cfg.HysteresisBuffer
	}

	if equity >= e.cfg.Phase2StartEquity && !e.hasEnteredPhase2 {
		e.hasEnteredPhase2 = true
		log.Debug().Float64("equity", equity).Msg("allocation entered phase 2 band")
	} else if equity < p2Threshold {
		e.hasEnteredPhase2 = false
	}
	if equity > e.cfg.Phase3StartEquity && !e.hasEnteredPhase3 {
		e.hasEnteredPhase3 = true
		log.Debug().Float64("equity", equity).Msg("allocation entered phase 3 band")
	} else if equity < p3Threshold {
		e.hasEnteredPhase3 = false
	}

	vec := e.curve(equity, p2Threshold, p3Threshold)
	return e.normalize(vec)
}

// curve evaluates the piecewise logistic allocation at the effective
// thresholds. Hysteresis only shifts where each band begins; the
// logistic midpoints stay anchored to the nominal thresholds.
func (e *Engine) curve(equity, p2Threshold, p3Threshold float64) domain.AllocationVector {
	v := domain.AllocationVector{Timestamp: e.now()}

	switch {
	case equity < p2Threshold:
		v.Phase1 = 1.0

	case equity < e.cfg.Phase2FullEquity:
		// Logistic blend across the band; steepness chosen so the
		// transition completes inside it.
		band := e.cfg.Phase2FullEquity - e.cfg.Phase2StartEquity
		mid := (e.cfg.Phase2StartEquity + e.cfg.Phase2FullEquity) / 2
		k := 10.0 / band
		s := sigmoid(k * (equity - mid))
		v.Phase2 = phase2Plateau * s
		v.Phase1 = 1.0 - v.Phase2

	case equity <= p3Threshold:
		v.Phase1 = phase1Floor
		v.Phase2 = phase2Plateau

	default:
		// Flatter second logistic; phase 2 absorbs what phase 3 takes.
		mid := e.cfg.Phase3StartEquity + e.cfg.Phase3MidpointShift
		k := 4.0 / e.cfg.Phase3MidpointShift
		s := sigmoid(k * (equity - mid))
		v.Phase1 = phase1Floor
		v.Phase3 = e.cfg.Phase3Ceiling * s
		v.Phase2 = 1.0 - v.Phase1 - v.Phase3
	}

	return v
}

// GetEquityTier returns the sizing tier for the given equity.
func (e *Engine) GetEquityTier(equity float64) domain.EquityTier {
	switch {
	case equity < 1500:
		return domain.TierMicro
	case equity < 5000:
		return domain.TierSmall
	case equity < 25000:
		return domain.TierMedium
	case equity < 50000:
		return domain.TierLarge
	default:
		return domain.TierInstitutional
	}
}

// GetMaxLeverage returns the leverage cap for the tier. Non-increasing
// as equity grows: larger accounts take less leverage.
func (e *Engine) GetMaxLeverage(equity float64) float64 {
	switch e.GetEquityTier(equity) {
	case domain.TierMicro:
		return 10
	case domain.TierSmall:
		return 8
	case domain.TierMedium:
		return 5
	case domain.TierLarge:
		return 4
	default:
		return 3
	}
}

// GetRegimeAdjustedWeights applies the regime overlay to the base curve.
// CRASH is unconditional capital preservation.
func (e *Engine) GetRegimeAdjustedWeights(equity float64, regime domain.Regime) domain.AllocationVector {
	base := e.GetWeights(equity)

	switch regime {
	case domain.RegimeCrash:
		return domain.AllocationVector{Phase1: 1, Timestamp: base.Timestamp}
	case domain.RegimeVolatileBreakout:
		return e.normalize(scalePhase(base, 2, 1.2, 0.9))
	case domain.RegimeMeanReversion:
		return e.normalize(scalePhase(base, 3, 1.2, 0.8))
	default:
		return base
	}
}

// scalePhase multiplies one phase weight (capped) and redistributes the
// remainder proportionally across the other two phases.
func scalePhase(v domain.AllocationVector, phase int, factor, ceiling float64) domain.AllocationVector {
	w := [3]float64{v.Phase1, v.Phase2, v.Phase3}
	i := phase - 1

	scaled := math.Min(w[i]*factor, ceiling)
	rest := w[0] + w[1] + w[2] - w[i]
	remainder := 1.0 - scaled

	out := [3]float64{}
	out[i] = scaled
	for j := 0; j < 3; j++ {
		if j == i {
			continue
		}
		if rest > 0 {
			out[j] = remainder * (w[j] / rest)
		} else {
			out[j] = remainder / 2
		}
	}
	return domain.AllocationVector{Phase1: out[0], Phase2: out[1], Phase3: out[2], Timestamp: v.Timestamp}
}

// GetAdaptiveWeights blends the base curve with a softmax over per-phase
// Sharpe ratios. The blend keeps explorationWeight on the base vector;
// capital-preservation mode and missing data short-circuit to base.
func (e *Engine) GetAdaptiveWeights(equity float64, sharpe []float64, explorationWeight float64) domain.AllocationVector {
	base := e.GetWeights(equity)
	if base.Phase1 >= 1.0-weightEpsilon || len(sharpe) == 0 {
		return base
	}
	if explorationWeight <= 0 || explorationWeight > 1 {
		explorationWeight = e.cfg.ExplorationWeight
	}

	sm := softmax3(sharpe)
	blended := domain.AllocationVector{
		Phase1:    explorationWeight*base.Phase1 + (1-explorationWeight)*sm[0],
		Phase2:    explorationWeight*base.Phase2 + (1-explorationWeight)*sm[1],
		Phase3:    explorationWeight*base.Phase3 + (1-explorationWeight)*sm[2],
		Timestamp: base.Timestamp,
	}
	return e.normalize(blended)
}

// softmax3 computes a temperature-1 softmax over up to three Sharpe
// ratios, floored at zero so losing phases cannot attract weight.
func softmax3(sharpe []float64) [3]float64 {
	var exps [3]float64
	var sum float64
	for i := 0; i < 3; i++ {
		s := 0.0
		if i < len(sharpe) {
			s = math.Max(0, sharpe[i])
		}
		exps[i] = math.Exp(s)
		sum += exps[i]
	}
	for i := range exps {
		exps[i] /= sum
	}
	return exps
}

// GetKellyFraction maps the Pareto tail exponent to a capital fraction.
// Piecewise-linear policy bands; heavier tails size down hard.
func (e *Engine) GetKellyFraction(alpha float64) float64 {
	switch {
	case alpha <= 1.5:
		return 0.1
	case alpha < 2.0:
		return 0.2
	case alpha <= 3.0:
		return 0.2 + 0.3*(alpha-2.0)
	case alpha <= 4.5:
		return 0.5
	default:
		return 0.8
	}
}

// normalize rescales to sum 1.0, falling back to pure phase 1 on a
// degenerate zero-sum vector.
func (e *Engine) normalize(v domain.AllocationVector) domain.AllocationVector {
	sum := v.Phase1 + v.Phase2 + v.Phase3
	if sum <= weightEpsilon {
		return domain.AllocationVector{Phase1: 1, Timestamp: v.Timestamp}
	}
	v.Phase1 /= sum
	v.Phase2 /= sum
	v.Phase3 /= sum
	return v
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
