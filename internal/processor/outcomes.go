package processor

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantfall/riskbrain/internal/breaker"
	"github.com/quantfall/riskbrain/internal/domain"
	"github.com/quantfall/riskbrain/internal/persistence"
)

// ErrSymbolRequired rejects outcomes that name no instrument.
var ErrSymbolRequired = errors.New("processor: trade outcome requires a symbol")

// TradeBreaker feeds realized trades into the rolling loss window.
type TradeBreaker interface {
	RecordTrade(pnl float64, ts time.Time) breaker.Status
}

// OutcomeCalibrator updates per-pattern win statistics.
type OutcomeCalibrator interface {
	UpdateOutcome(ctx context.Context, pattern string, profitable bool)
}

// OutcomeRecorder fans one realized trade result into the loss-streak
// breaker, the Bayesian calibrator, and the durable outcome log. The
// breaker and calibrator updates are the feedback loop; the log write
// is best-effort and never blocks the feedback.
type OutcomeRecorder struct {
	breaker    TradeBreaker
	calibrator OutcomeCalibrator
	store      persistence.OutcomeStore
	now        func() time.Time
}

// NewOutcomeRecorder creates a recorder. store may be nil when no
// durable outcome log is configured.
func NewOutcomeRecorder(brk TradeBreaker, cal OutcomeCalibrator, store persistence.OutcomeStore) *OutcomeRecorder {
	return &OutcomeRecorder{
		breaker:    brk,
		calibrator: cal,
		store:      store,
		now:        time.Now,
	}
}

// Record ingests one realized outcome and returns the breaker state
// after the loss window is updated, so callers see a trip caused by
// this very trade.
func (r *OutcomeRecorder) Record(ctx context.Context, outcome domain.TradeOutcome) (breaker.Status, error) {
	if outcome.Symbol == "" {
		return breaker.Status{}, ErrSymbolRequired
	}
	if outcome.ClosedAt.IsZero() {
		outcome.ClosedAt = r.now()
	}

	st := r.breaker.RecordTrade(outcome.PnL, outcome.ClosedAt)
	r.calibrator.UpdateOutcome(ctx, outcome.Pattern, outcome.PnL > 0)

	if r.store != nil {
		if err := r.store.AppendOutcome(ctx, outcome.Symbol, outcome.Pattern, outcome.PnL, outcome.ClosedAt); err != nil {
			log.Error().Err(err).Str("symbol", outcome.Symbol).Msg("trade outcome append failed")
		}
	}

	log.Info().Str("symbol", outcome.Symbol).Str("pattern", outcome.Pattern).
		Float64("pnl", outcome.PnL).Msg("trade outcome recorded")
	return st, nil
}
