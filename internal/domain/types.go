// Package domain holds the closed types shared by the risk-gating engine:
// signals, positions, market regimes, DEFCON posture, and decision records.
package domain

import "time"

// Side is the direction of a candidate trade signal.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Direction maps the side to the numeric direction used on the wire.
func (s Side) Direction() int {
	if s == SideSell {
		return -1
	}
	return 1
}

// SetupType maps the side to the outbound intent type.
func (s Side) SetupType() string {
	if s == SideSell {
		return "SELL_SETUP"
	}
	return "BUY_SETUP"
}

// PositionSide is the direction of an open position.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// Sign returns +1 for LONG, -1 for SHORT.
func (p PositionSide) Sign() float64 {
	if p == PositionShort {
		return -1
	}
	return 1
}

// Regime is the market regime label consumed by the allocation and
// guardian layers. One closed set shared everywhere; no loose strings.
type Regime string

const (
	RegimeNormal           Regime = "NORMAL"
	RegimeCrash            Regime = "CRASH"
	RegimeVolatileBreakout Regime = "VOLATILE_BREAKOUT"
	RegimeMeanReversion    Regime = "MEAN_REVERSION"
)

// DefconLevel is the discrete systemic-risk posture.
type DefconLevel int

const (
	DefconNormal DefconLevel = iota
	DefconCaution
	DefconDefensive
	DefconEmergency
)

func (d DefconLevel) String() string {
	switch d {
	case DefconNormal:
		return "NORMAL"
	case DefconCaution:
		return "CAUTION"
	case DefconDefensive:
		return "DEFENSIVE"
	case DefconEmergency:
		return "EMERGENCY"
	default:
		return "UNKNOWN"
	}
}

// LatencyProfile carries the measured decision-path latency for a signal.
type LatencyProfile struct {
	TotalMs float64 `json:"total_ms"`
}

// Signal is a candidate trade request. Immutable once created; produced
// by a phase strategy and consumed exactly once by the SignalProcessor.
type Signal struct {
	ID            string          `json:"signal_id"`
	PhaseID       int             `json:"phase_id"`
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	RequestedSize float64         `json:"requested_size"`
	Timestamp     time.Time       `json:"timestamp"`
	Leverage      float64         `json:"leverage"`
	EntryPrice    float64         `json:"entry_price,omitempty"`
	StopLossPrice float64         `json:"stop_loss_price,omitempty"`
	TargetPrice   float64         `json:"target_price,omitempty"`
	Confidence    float64         `json:"confidence,omitempty"` // 0-100 heuristic
	Latency       *LatencyProfile `json:"latency_profile,omitempty"`
	Pattern       string          `json:"pattern,omitempty"` // strategy-pattern tag
}

// Position is a read-only snapshot of an open position. The guardian
// never caches these across calls; the ledger owns them.
type Position struct {
	Symbol     string
	Side       PositionSide
	Size       float64 // notional
	EntryPrice float64
	PhaseID    int
}

// SignedNotional is the position notional with direction applied.
func (p Position) SignedNotional() float64 {
	return p.Size * p.Side.Sign()
}

// PortfolioSnapshot is the per-call view of account state handed to the
// decision pipeline.
type PortfolioSnapshot struct {
	Equity    float64
	Positions []Position
}

// NetDelta is the signed sum of position notionals.
func (s PortfolioSnapshot) NetDelta() float64 {
	var delta float64
	for _, p := range s.Positions {
		delta += p.SignedNotional()
	}
	return delta
}

// GrossNotional is the unsigned sum of position notionals.
func (s PortfolioSnapshot) GrossNotional() float64 {
	var gross float64
	for _, p := range s.Positions {
		gross += p.Size
	}
	return gross
}

// SystemHealth is the telemetry snapshot driving governance transitions.
type SystemHealth struct {
	LatencyMs    float64   `json:"latency_ms"`
	ErrorRate    float64   `json:"error_rate"` // 5-minute window, 0..1
	DrawdownPct  float64   `json:"drawdown_pct"`
	ObservedAt   time.Time `json:"observed_at"`
}

// PowerLawMetrics is the per-symbol tail estimate written by an external
// estimator. Last write wins; no history retained.
type PowerLawMetrics struct {
	Symbol          string    `json:"symbol"`
	Alpha           float64   `json:"alpha"` // Pareto tail exponent
	TailConfidence  float64   `json:"tail_confidence"`
	ExceedanceProb  float64   `json:"exceedance_prob"`
	ClusterState    string    `json:"cluster_state"` // "stable" | "expanding"
	UpdatedAt       time.Time `json:"updated_at"`
}

// RiskMetrics is the metrics snapshot attached to every decision.
type RiskMetrics struct {
	CurrentLeverage   float64 `json:"current_leverage"`
	ProjectedLeverage float64 `json:"projected_leverage"`
	MaxCorrelation    float64 `json:"max_correlation"`
	PortfolioDelta    float64 `json:"portfolio_delta"`
	PortfolioBeta     float64 `json:"portfolio_beta"`
}

// RiskDecision is the outcome of the guardian pipeline for one signal.
type RiskDecision struct {
	Approved     bool        `json:"approved"`
	AdjustedSize float64     `json:"adjusted_size,omitempty"`
	Reason       string      `json:"reason"`
	Metrics      RiskMetrics `json:"metrics"`
}

// AllocationVector is the per-phase capital weighting. The three weights
// always sum to 1.0 within 1e-10.
type AllocationVector struct {
	Phase1    float64   `json:"phase1"`
	Phase2    float64   `json:"phase2"`
	Phase3    float64   `json:"phase3"`
	Timestamp time.Time `json:"timestamp"`
}

// Weight returns the weight for a 1-based phase id, 0 for unknown phases.
func (v AllocationVector) Weight(phaseID int) float64 {
	switch phaseID {
	case 1:
		return v.Phase1
	case 2:
		return v.Phase2
	case 3:
		return v.Phase3
	default:
		return 0
	}
}

// EquityTier buckets account equity into the five sizing bands.
type EquityTier int

const (
	TierMicro EquityTier = iota
	TierSmall
	TierMedium
	TierLarge
	TierInstitutional
)

func (t EquityTier) String() string {
	switch t {
	case TierMicro:
		return "MICRO"
	case TierSmall:
		return "SMALL"
	case TierMedium:
		return "MEDIUM"
	case TierLarge:
		return "LARGE"
	case TierInstitutional:
		return "INSTITUTIONAL"
	default:
		return "UNKNOWN"
	}
}

// TradeOutcome is a realized trade result fed back into the breaker and
// the Bayesian calibrator.
type TradeOutcome struct {
	Symbol   string    `json:"symbol"`
	Pattern  string    `json:"pattern,omitempty"`
	PnL      float64   `json:"pnl"`
	ClosedAt time.Time `json:"closed_at"`
}
