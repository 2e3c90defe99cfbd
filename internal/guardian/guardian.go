// Package guardian implements the ordered veto pipeline that every
// trade signal must clear before sizing and dispatch. Each gate either
// rejects with a stable reason code or adjusts the in-flight size and
// passes the signal on. The gate order is a contract: governance
// lockdown always speaks first, and an internal fault is converted
// into a rejection, never a silent approval.
package guardian

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantfall/riskbrain/internal/calibration"
	"github.com/quantfall/riskbrain/internal/domain"
	"github.com/quantfall/riskbrain/internal/governance"
	"github.com/quantfall/riskbrain/internal/tailrisk"
)

// Stable rejection reason prefixes, one per gate. Greppable; logged
// verbatim and embedded in decision records.
const (
	ReasonGovernanceLockdown   = "GOVERNANCE_LOCKDOWN"
	ReasonSymbolNotWhitelisted = "SYMBOL_NOT_WHITELISTED"
	ReasonTruthGate            = "TRUTH_GATE_VETO"
	ReasonMaxPositionNotional  = "MAX_POSITION_NOTIONAL"
	ReasonExecutionQuality     = "EXECUTION_QUALITY_VETO"
	ReasonRegimeCrash          = "REGIME_CRASH_VETO"
	ReasonTailRisk             = "TAIL_RISK_VETO"
	ReasonCalibratedConfidence = "CALIBRATED_CONFIDENCE_VETO"
	ReasonPhaseLimit           = "PHASE_LIMIT_VETO"
	ReasonLatency              = "LATENCY_VETO"
	ReasonPowerLaw             = "POWER_LAW_VETO"
	ReasonVolatilityExpansion  = "VOLATILITY_EXPANSION_VETO"
	ReasonExpectancy           = "EXPECTANCY_VETO"
	ReasonLeverageCap          = "LEVERAGE_CAP_VETO"
	ReasonCorrelation          = "CORRELATION_VETO"
	ReasonInsufficientData     = "INSUFFICIENT_DATA"
	ReasonGuardianFault        = "GUARDIAN_FAULT"
)

// AllocationSource provides the leverage cap for the account.
type AllocationSource interface {
	GetMaxLeverage(equity float64) float64
}

// Guardian composes governance, tail risk, calibration, correlation
// state, and per-signal bookkeeping into the single veto pipeline.
// Mutable telemetry (truth score, execution quality, regime, power-law
// metrics) is guarded by a mutex; position snapshots are read-only and
// never cached across calls.
type Guardian struct {
	cfg        Config
	governance *governance.Engine
	tailRisk   *tailrisk.Calculator
	calibrator *calibration.Calibrator
	allocation AllocationSource
	history    *PriceHistory
	corrCache  *correlationCache
	betaCache  *correlationCache

	mu          sync.RWMutex
	whitelist   map[string]struct{}
	truthScore  float64
	execQuality float64
	regime      domain.Regime
	powerLaw    map[string]domain.PowerLawMetrics
}

// New creates a guardian wired to its collaborators.
func New(cfg Config, gov *governance.Engine, tail *tailrisk.Calculator, cal *calibration.Calibrator, alloc AllocationSource) *Guardian {
	whitelist := make(map[string]struct{}, len(cfg.SymbolWhitelist))
	for _, s := range cfg.SymbolWhitelist {
		whitelist[s] = struct{}{}
	}
	return &Guardian{
		cfg:         cfg,
		governance:  gov,
		tailRisk:    tail,
		calibrator:  cal,
		allocation:  alloc,
		history:     NewPriceHistory(),
		corrCache:   newCorrelationCache(cfg.CorrelationCacheTTL),
		betaCache:   newCorrelationCache(cfg.CorrelationCacheTTL),
		whitelist:   whitelist,
		truthScore:  1.0,
		execQuality: 1.0,
		regime:      domain.RegimeNormal,
		powerLaw:    make(map[string]domain.PowerLawMetrics),
	}
}

// RecordPrice feeds the live price history.
func (g *Guardian) RecordPrice(symbol string, price float64, ts time.Time) {
	g.history.Record(symbol, price, ts)
}

// SetTruthScore updates the global confidence score from the truth
// monitor (0..1).
func (g *Guardian) SetTruthScore(score float64) {
	g.mu.Lock()
	g.truthScore = score
	g.mu.Unlock()
}

// SetExecutionQuality updates the external venue quality score (0..1).
func (g *Guardian) SetExecutionQuality(score float64) {
	g.mu.Lock()
	g.execQuality = score
	g.mu.Unlock()
}

// SetRegime updates the market regime consumed by the CRASH veto.
func (g *Guardian) SetRegime(regime domain.Regime) {
	g.mu.Lock()
	g.regime = regime
	g.mu.Unlock()
}

// SetPowerLawMetrics records the latest tail estimate for a symbol.
// Last write wins.
func (g *Guardian) SetPowerLawMetrics(m domain.PowerLawMetrics) {
	g.mu.Lock()
	g.powerLaw[m.Symbol] = m
	g.mu.Unlock()
}

// CheckSignal runs the full gate pipeline. It never panics out: any
// internal fault is recovered and converted into a rejection.
func (g *Guardian) CheckSignal(ctx context.Context, sig domain.Signal, snapshot domain.PortfolioSnapshot) (decision domain.RiskDecision) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("signal_id", sig.ID).
				Msg("guardian pipeline fault, rejecting signal")
			decision = domain.RiskDecision{
				Approved: false,
				Reason:   fmt.Sprintf("%s: internal error during evaluation", ReasonGuardianFault),
			}
		}
	}()
	return g.evaluate(ctx, sig, snapshot)
}

func (g *Guardian) evaluate(ctx context.Context, sig domain.Signal, snapshot domain.PortfolioSnapshot) domain.RiskDecision {
	g.mu.RLock()
	truthScore := g.truthScore
	execQuality := g.execQuality
	regime := g.regime
	plm, hasPLM := g.powerLaw[sig.Symbol]
	g.mu.RUnlock()

	size := sig.RequestedSize
	metrics := g.baseMetrics(snapshot)

	reject := func(reason string) domain.RiskDecision {
		log.Warn().Str("signal_id", sig.ID).Str("symbol", sig.Symbol).
			Int("phase", sig.PhaseID).Str("reason", reason).Msg("signal vetoed")
		return domain.RiskDecision{Approved: false, Reason: reason, Metrics: metrics}
	}

	// Gate 1: governance lockdown. Always first; nothing exempts it.
	if !g.governance.CanOpenNewPosition(sig.PhaseID) {
		return reject(fmt.Sprintf("%s: phase %d blocked at %s",
			ReasonGovernanceLockdown, sig.PhaseID, g.governance.Level()))
	}

	// Hedge exception: a phase-3 signal that reduces net portfolio
	// delta bypasses every remaining veto.
	if sig.PhaseID == 3 && g.reducesNetDelta(sig, size, snapshot) {
		metrics.ProjectedLeverage = g.projectedLeverage(snapshot, size)
		log.Info().Str("signal_id", sig.ID).Msg("hedge exception granted")
		return domain.RiskDecision{Approved: true, AdjustedSize: size,
			Reason: "approved (hedge exception)", Metrics: metrics}
	}

	// Gate 2: symbol whitelist.
	if _, ok := g.whitelist[sig.Symbol]; !ok {
		return reject(fmt.Sprintf("%s: %s", ReasonSymbolNotWhitelisted, sig.Symbol))
	}

	// Gate 3: global truth/confidence score.
	if g.cfg.TruthGateEnabled && truthScore < g.cfg.MinTruthScore {
		return reject(fmt.Sprintf("%s: truth score %.2f below %.2f",
			ReasonTruthGate, truthScore, g.cfg.MinTruthScore))
	}

	// Gate 4: absolute notional cap.
	if size > g.cfg.MaxPositionNotional {
		return reject(fmt.Sprintf("%s: %.2f exceeds %.2f",
			ReasonMaxPositionNotional, size, g.cfg.MaxPositionNotional))
	}

	// Gate 5: execution quality.
	if execQuality < g.cfg.MinExecutionQuality {
		return reject(fmt.Sprintf("%s: quality %.2f below %.2f",
			ReasonExecutionQuality, execQuality, g.cfg.MinExecutionQuality))
	}

	// Gate 6: regime CRASH veto. No new risk in a crash, full stop.
	if regime == domain.RegimeCrash {
		return reject(fmt.Sprintf("%s: no new risk in CRASH regime", ReasonRegimeCrash))
	}

	// Gate 7: tail-risk survival mode. A critical APTR both rejects
	// and forces governance defensive.
	aptr := g.tailRisk.CalculateAPTR(exposures(snapshot.Positions), g.alphaBySymbol())
	if g.tailRisk.IsRiskCritical(aptr, snapshot.Equity) {
		g.governance.SetOverride(domain.DefconDefensive)
		return reject(fmt.Sprintf("%s: APTR %.2f critical against equity %.2f",
			ReasonTailRisk, aptr, snapshot.Equity))
	}

	// Gate 8: Bayesian-calibrated confidence.
	calibrated := g.calibrator.GetCalibratedProbability(ctx, sig.Pattern, sig.Confidence)
	if calibrated < g.cfg.MinCalibratedProbability {
		return reject(fmt.Sprintf("%s: calibrated %.3f below %.3f",
			ReasonCalibratedConfidence, calibrated, g.cfg.MinCalibratedProbability))
	}

	// Gate 9: per-phase fractal constraints.
	if limit, ok := g.cfg.PhaseLimits[sig.PhaseID]; ok {
		if snapshot.Equity > 0 && size > snapshot.Equity*limit.MaxNotionalFraction {
			return reject(fmt.Sprintf("%s: phase %d notional %.2f exceeds %.0f%% of equity",
				ReasonPhaseLimit, sig.PhaseID, size, limit.MaxNotionalFraction*100))
		}
		if sig.Leverage > limit.MaxLeverage {
			return reject(fmt.Sprintf("%s: phase %d leverage %.1fx exceeds %.1fx",
				ReasonPhaseLimit, sig.PhaseID, sig.Leverage, limit.MaxLeverage))
		}
	}

	// Gate 10: latency penalty/veto.
	if sig.Latency != nil {
		switch {
		case sig.Latency.TotalMs > g.cfg.LatencyHardCeilingMs:
			return reject(fmt.Sprintf("%s: %.0fms exceeds ceiling %.0fms",
				ReasonLatency, sig.Latency.TotalMs, g.cfg.LatencyHardCeilingMs))
		case sig.Latency.TotalMs > g.cfg.LatencySoftMs:
			size *= 1 - g.cfg.LatencyPenalty
		}
	}

	// Gate 11: power-law gates.
	if hasPLM {
		projected := g.projectedLeverage(snapshot, size)
		if plm.Alpha <= g.cfg.ExtremeTailAlpha && projected > g.cfg.ExtremeTailLeverage {
			return reject(fmt.Sprintf("%s: alpha %.2f with projected leverage %.1fx",
				ReasonPowerLaw, plm.Alpha, projected))
		}
		if plm.ClusterState == "expanding" && sig.PhaseID == 1 {
			return reject(fmt.Sprintf("%s: volatility expanding, phase-1 scalps blocked",
				ReasonVolatilityExpansion))
		}
		if sig.PhaseID != 3 {
			throttle := g.alphaThrottle(plm.Alpha)
			if throttle == 0 {
				// A fully floored throttle is a veto, not a zero-size
				// approval.
				return reject(fmt.Sprintf("%s: alpha %.2f at or below throttle floor %.2f",
					ReasonPowerLaw, plm.Alpha, g.cfg.ThrottleFloorAlpha))
			}
			size *= throttle
		}
	}

	// Gate 12: cost-aware expectancy.
	if sig.EntryPrice > 0 && sig.TargetPrice > 0 {
		expectedGross := math.Abs(sig.TargetPrice-sig.EntryPrice) / sig.EntryPrice * size
		roundTripCost := size * g.cfg.RoundTripCostRate
		if expectedGross < roundTripCost*g.cfg.MinExpectancyRatio {
			return reject(fmt.Sprintf("%s: expected %.2f below %.1fx cost %.2f",
				ReasonExpectancy, expectedGross, g.cfg.MinExpectancyRatio, roundTripCost))
		}
	}

	// Gate 13: leverage cap, governance-scaled.
	projected := g.projectedLeverage(snapshot, size)
	levCap := g.allocation.GetMaxLeverage(snapshot.Equity) * g.governance.LeverageMultiplier()
	metrics.ProjectedLeverage = projected
	if projected > levCap {
		return reject(fmt.Sprintf("%s: projected %.2fx exceeds cap %.2fx",
			ReasonLeverageCap, projected, levCap))
	}

	// Gate 14: correlation against same-direction positions. Missing
	// history fails closed.
	maxCorr, penalize, err := g.correlationExposure(sig, snapshot.Positions)
	if err != nil {
		return reject(fmt.Sprintf("%s: %v", ReasonInsufficientData, err))
	}
	metrics.MaxCorrelation = maxCorr
	if penalize {
		// A penalty of 1.0 is a full veto, not a zero-size approval.
		if g.cfg.CorrelationPenalty >= 1 {
			return reject(fmt.Sprintf("%s: correlation %.2f above %.2f",
				ReasonCorrelation, maxCorr, g.cfg.MaxCorrelation))
		}
		size *= 1 - g.cfg.CorrelationPenalty
		log.Info().Str("signal_id", sig.ID).Float64("max_correlation", maxCorr).
			Float64("size", size).Msg("correlated exposure, size reduced")
	}

	metrics.ProjectedLeverage = g.projectedLeverage(snapshot, size)
	return domain.RiskDecision{Approved: true, AdjustedSize: size, Reason: "approved", Metrics: metrics}
}

// correlationExposure finds the maximum correlation between the signal
// symbol and any same-direction position. penalize is true when that
// correlation breaches the configured threshold.
func (g *Guardian) correlationExposure(sig domain.Signal, positions []domain.Position) (maxCorr float64, penalize bool, err error) {
	signalSign := float64(sig.Side.Direction())
	for _, pos := range positions {
		if pos.Side.Sign() != signalSign {
			continue
		}
		corr, cerr := g.Correlation(sig.Symbol, pos.Symbol)
		if cerr != nil {
			return 0, false, cerr
		}
		if corr > maxCorr {
			maxCorr = corr
		}
		if corr > g.cfg.MaxCorrelation {
			penalize = true
		}
	}
	return maxCorr, penalize, nil
}

// reducesNetDelta reports whether executing the signal shrinks the
// absolute net portfolio delta.
func (g *Guardian) reducesNetDelta(sig domain.Signal, size float64, snapshot domain.PortfolioSnapshot) bool {
	current := snapshot.NetDelta()
	after := current + size*float64(sig.Side.Direction())
	return math.Abs(after) < math.Abs(current)
}

func (g *Guardian) projectedLeverage(snapshot domain.PortfolioSnapshot, addSize float64) float64 {
	if snapshot.Equity <= 0 {
		return math.Inf(1)
	}
	return (snapshot.GrossNotional() + addSize) / snapshot.Equity
}

// alphaThrottle scales size linearly in alpha between the throttle
// bounds; 1.0 above the ceiling.
func (g *Guardian) alphaThrottle(alpha float64) float64 {
	if alpha >= g.cfg.ThrottleCeilAlpha {
		return 1.0
	}
	if alpha <= g.cfg.ThrottleFloorAlpha {
		return 0.0
	}
	return (alpha - g.cfg.ThrottleFloorAlpha) / (g.cfg.ThrottleCeilAlpha - g.cfg.ThrottleFloorAlpha)
}

func (g *Guardian) baseMetrics(snapshot domain.PortfolioSnapshot) domain.RiskMetrics {
	current := 0.0
	if snapshot.Equity > 0 {
		current = snapshot.GrossNotional() / snapshot.Equity
	}
	return domain.RiskMetrics{
		CurrentLeverage: current,
		PortfolioDelta:  snapshot.NetDelta(),
		PortfolioBeta:   g.PortfolioBeta(snapshot.Positions),
	}
}

func (g *Guardian) alphaBySymbol() map[string]float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]float64, len(g.powerLaw))
	for sym, m := range g.powerLaw {
		out[sym] = m.Alpha
	}
	return out
}

func exposures(positions []domain.Position) []tailrisk.Exposure {
	out := make([]tailrisk.Exposure, 0, len(positions))
	for _, p := range positions {
		out = append(out, tailrisk.Exposure{Symbol: p.Symbol, Notional: p.Size})
	}
	return out
}
