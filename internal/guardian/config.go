package guardian

import "time"

// PhaseLimit is the per-phase "fractal" sizing constraint.
type PhaseLimit struct {
	// MaxNotionalFraction caps a single signal's notional to this
	// fraction of equity.
	MaxNotionalFraction float64 `yaml:"max_notional_fraction"`
	MaxLeverage         float64 `yaml:"max_leverage"`
}

// Config holds every guardian policy threshold. All values are tunable
// policy constants with production defaults.
type Config struct {
	SymbolWhitelist []string `yaml:"symbol_whitelist"`

	// Truth gate: global confidence score floor. Disabled skips the
	// gate entirely.
	TruthGateEnabled bool    `yaml:"truth_gate_enabled"`
	MinTruthScore    float64 `yaml:"min_truth_score"`

	MaxPositionNotional float64 `yaml:"max_position_notional"`

	// Execution-quality floor from the external venue monitor.
	MinExecutionQuality float64 `yaml:"min_execution_quality"`

	// Bayesian-calibrated confidence floor.
	MinCalibratedProbability float64 `yaml:"min_calibrated_probability"`

	PhaseLimits map[int]PhaseLimit `yaml:"phase_limits"`

	// Latency gate: above the hard ceiling the signal is rejected;
	// above the soft threshold its size shrinks by LatencyPenalty.
	LatencyHardCeilingMs float64 `yaml:"latency_hard_ceiling_ms"`
	LatencySoftMs        float64 `yaml:"latency_soft_ms"`
	LatencyPenalty       float64 `yaml:"latency_penalty"`

	// Power-law gates.
	ExtremeTailAlpha    float64 `yaml:"extreme_tail_alpha"`
	ExtremeTailLeverage float64 `yaml:"extreme_tail_leverage"`
	ThrottleFloorAlpha  float64 `yaml:"throttle_floor_alpha"`
	ThrottleCeilAlpha   float64 `yaml:"throttle_ceil_alpha"`

	// Expectancy gate: expected gross PnL must exceed this multiple
	// of the estimated round-trip cost.
	RoundTripCostRate  float64 `yaml:"round_trip_cost_rate"`
	MinExpectancyRatio float64 `yaml:"min_expectancy_ratio"`

	// Correlation gate.
	MaxCorrelation      float64       `yaml:"max_correlation"`
	CorrelationPenalty  float64       `yaml:"correlation_penalty"`
	CorrelationCacheTTL time.Duration `yaml:"correlation_cache_ttl"`
	ReferenceSymbol     string        `yaml:"reference_symbol"`
}

// DefaultConfig returns the production guardian policy.
func DefaultConfig() Config {
	return Config{
		SymbolWhitelist:          []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"},
		TruthGateEnabled:         true,
		MinTruthScore:            0.8,
		MaxPositionNotional:      50000,
		MinExecutionQuality:      0.7,
		MinCalibratedProbability: 0.55,
		PhaseLimits: map[int]PhaseLimit{
			1: {MaxNotionalFraction: 0.25, MaxLeverage: 10},
			2: {MaxNotionalFraction: 0.50, MaxLeverage: 5},
			3: {MaxNotionalFraction: 0.40, MaxLeverage: 3},
		},
		LatencyHardCeilingMs: 500,
		LatencySoftMs:        200,
		LatencyPenalty:       0.25,
		ExtremeTailAlpha:     1.5,
		ExtremeTailLeverage:  3.0,
		ThrottleFloorAlpha:   1.5,
		ThrottleCeilAlpha:    3.0,
		RoundTripCostRate:    0.0015,
		MinExpectancyRatio:   2.0,
		MaxCorrelation:       0.7,
		CorrelationPenalty:   0.5,
		CorrelationCacheTTL:  30 * time.Second,
		ReferenceSymbol:      "BTC/USDT",
	}
}
