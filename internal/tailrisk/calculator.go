// Package tailrisk scores aggregate portfolio tail exposure (APTR).
//
// APTR is a heuristic severity score for a defined crash scenario, not
// a calibrated probability: each position contributes its notional
// times a fixed crash fraction, weighted by a discrete multiplier
// derived from the symbol's Pareto tail exponent. The multiplier bands
// are tunable policy constants.
package tailrisk

import "math"

// Config holds the APTR policy constants.
type Config struct {
	// CrashFraction is the assumed loss fraction of notional in the
	// crash scenario.
	CrashFraction float64 `yaml:"crash_fraction"`

	// DefaultAlpha is assumed for symbols with no tail estimate.
	DefaultAlpha float64 `yaml:"default_alpha"`

	// CriticalRatio is the APTR/equity ratio above which the
	// portfolio is considered tail-critical.
	CriticalRatio float64 `yaml:"critical_ratio"`
}

// DefaultConfig returns the production APTR policy.
func DefaultConfig() Config {
	return Config{
		CrashFraction: 0.20,
		DefaultAlpha:  3.0,
		CriticalRatio: 0.5,
	}
}

// Calculator computes APTR from open positions and per-symbol tail
// exponents. Stateless; safe for concurrent use.
type Calculator struct {
	cfg Config
}

// NewCalculator creates an APTR calculator.
func NewCalculator(cfg Config) *Calculator {
	return &Calculator{cfg: cfg}
}

// Exposure is the minimal position view APTR needs.
type Exposure struct {
	Symbol   string
	Notional float64
}

// CalculateAPTR sums crash-weighted exposure across positions. A
// missing alpha defaults to the stable band.
func (c *Calculator) CalculateAPTR(exposures []Exposure, alphaBySymbol map[string]float64) float64 {
	var aptr float64
	for _, ex := range exposures {
		alpha, ok := alphaBySymbol[ex.Symbol]
		if !ok {
			alpha = c.cfg.DefaultAlpha
		}
		aptr += math.Abs(ex.Notional) * c.cfg.CrashFraction * c.RiskMultiplier(alpha)
	}
	return aptr
}

// RiskMultiplier maps a tail exponent to its discrete crash multiplier.
// Lower alpha means heavier tails and a harsher multiplier.
func (c *Calculator) RiskMultiplier(alpha float64) float64 {
	switch {
	case alpha <= 1.5:
		return 10.0
	case alpha <= 2.0:
		return 4.0
	case alpha <= 3.0:
		return 1.5
	default:
		return 0.5
	}
}

// IsRiskCritical reports whether the APTR exceeds the configured share
// of equity. Non-positive equity is always critical.
func (c *Calculator) IsRiskCritical(aptr, equity float64) bool {
	if equity <= 0 {
		return true
	}
	return aptr/equity > c.cfg.CriticalRatio
}
