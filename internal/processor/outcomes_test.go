package processor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/riskbrain/internal/breaker"
	"github.com/quantfall/riskbrain/internal/domain"
)

type recordingBreaker struct {
	pnls   []float64
	stamps []time.Time
	status breaker.Status
}

func (r *recordingBreaker) RecordTrade(pnl float64, ts time.Time) breaker.Status {
	r.pnls = append(r.pnls, pnl)
	r.stamps = append(r.stamps, ts)
	return r.status
}

type recordingCalibrator struct {
	patterns   []string
	profitable []bool
}

func (r *recordingCalibrator) UpdateOutcome(_ context.Context, pattern string, profitable bool) {
	r.patterns = append(r.patterns, pattern)
	r.profitable = append(r.profitable, profitable)
}

type outcomeRow struct {
	symbol   string
	pattern  string
	pnl      float64
	closedAt time.Time
}

type memoryOutcomeLog struct {
	rows []outcomeRow
	err  error
}

func (m *memoryOutcomeLog) AppendOutcome(_ context.Context, symbol, pattern string, pnl float64, closedAt time.Time) error {
	if m.err != nil {
		return m.err
	}
	m.rows = append(m.rows, outcomeRow{symbol, pattern, pnl, closedAt})
	return nil
}

func TestRecordOutcome_FansOutToFeedbackLoop(t *testing.T) {
	brk := &recordingBreaker{status: breaker.Status{Active: true, BreakerType: breaker.TypeSoft}}
	cal := &recordingCalibrator{}
	store := &memoryOutcomeLog{}
	rec := NewOutcomeRecorder(brk, cal, store)

	closed := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	st, err := rec.Record(context.Background(), domain.TradeOutcome{
		Symbol:   "BTC/USDT",
		Pattern:  "fade",
		PnL:      -120.5,
		ClosedAt: closed,
	})
	require.NoError(t, err)

	// The returned status is the breaker state after this very trade.
	assert.Equal(t, breaker.TypeSoft, st.BreakerType)

	require.Equal(t, []float64{-120.5}, brk.pnls)
	assert.Equal(t, []time.Time{closed}, brk.stamps)
	require.Equal(t, []string{"fade"}, cal.patterns)
	assert.Equal(t, []bool{false}, cal.profitable)

	require.Len(t, store.rows, 1)
	assert.Equal(t, outcomeRow{"BTC/USDT", "fade", -120.5, closed}, store.rows[0])
}

func TestRecordOutcome_WinIsProfitable(t *testing.T) {
	cal := &recordingCalibrator{}
	rec := NewOutcomeRecorder(&recordingBreaker{}, cal, nil)

	_, err := rec.Record(context.Background(), domain.TradeOutcome{
		Symbol:   "ETH/USDT",
		Pattern:  "breakout",
		PnL:      80,
		ClosedAt: time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, cal.profitable)
}

func TestRecordOutcome_DefaultsClosedAt(t *testing.T) {
	brk := &recordingBreaker{}
	rec := NewOutcomeRecorder(brk, &recordingCalibrator{}, nil)
	fixed := time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)
	rec.now = func() time.Time { return fixed }

	_, err := rec.Record(context.Background(), domain.TradeOutcome{Symbol: "BTC/USDT", PnL: -10})
	require.NoError(t, err)
	require.Len(t, brk.stamps, 1)
	assert.Equal(t, fixed, brk.stamps[0])
}

func TestRecordOutcome_RequiresSymbol(t *testing.T) {
	brk := &recordingBreaker{}
	cal := &recordingCalibrator{}
	store := &memoryOutcomeLog{}
	rec := NewOutcomeRecorder(brk, cal, store)

	_, err := rec.Record(context.Background(), domain.TradeOutcome{PnL: -10})
	require.ErrorIs(t, err, ErrSymbolRequired)
	assert.Empty(t, brk.pnls)
	assert.Empty(t, cal.patterns)
	assert.Empty(t, store.rows)
}

func TestRecordOutcome_LogFailureDoesNotBlockFeedback(t *testing.T) {
	brk := &recordingBreaker{}
	cal := &recordingCalibrator{}
	store := &memoryOutcomeLog{err: assert.AnError}
	rec := NewOutcomeRecorder(brk, cal, store)

	_, err := rec.Record(context.Background(), domain.TradeOutcome{
		Symbol:   "BTC/USDT",
		Pattern:  "fade",
		PnL:      -10,
		ClosedAt: time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Len(t, brk.pnls, 1)
	assert.Len(t, cal.patterns, 1)
}
