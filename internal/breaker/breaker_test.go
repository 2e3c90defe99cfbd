package breaker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/riskbrain/internal/persistence"
)

type fakeCloser struct{ calls int }

func (f *fakeCloser) CloseAllPositions(_ context.Context, _ string) error {
	f.calls++
	return nil
}

type fakeNotifier struct{ subjects []string }

func (f *fakeNotifier) Notify(_ context.Context, subject, _ string) error {
	f.subjects = append(f.subjects, subject)
	return nil
}

type fakeHalt struct{ reasons []string }

func (f *fakeHalt) PublishHalt(_ context.Context, reason string) error {
	f.reasons = append(f.reasons, reason)
	return nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.HaltLockfile = "" // no disk state in unit tests
	return cfg
}

func newTestBreaker(t *testing.T, opts ...Option) (*Breaker, *persistence.MemoryEventLog, *clock) {
	t.Helper()
	events := persistence.NewMemoryEventLog()
	clk := &clock{t: time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)}
	opts = append(opts, withClock(clk.now))
	b := New(testConfig(), persistence.NewMemoryStore(), events, opts...)
	b.StartOfDay(10000)
	return b, events, clk
}

func TestCheckConditions_DrawdownTripsHard(t *testing.T) {
	closer := &fakeCloser{}
	halt := &fakeHalt{}
	notifier := &fakeNotifier{}
	b, events, _ := newTestBreaker(t,
		WithPositionCloser(closer), WithHaltPublisher(halt), WithNotifier(notifier))

	// 5% daily drawdown from 10000.
	st := b.CheckConditions(9500)
	require.True(t, st.Active)
	assert.Equal(t, TypeHard, st.BreakerType)
	assert.Equal(t, ActionFullHalt, st.Action)
	assert.Equal(t, 1, st.TripCount)
	assert.InDelta(t, 0.05, st.DrawdownAtTrigger, 1e-9)

	assert.Equal(t, 1, closer.calls)
	assert.Len(t, halt.reasons, 1)
	assert.Contains(t, notifier.subjects, "HARD breaker tripped")

	evs := events.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, "TRIGGER", evs[0].EventType)
	assert.Equal(t, "HARD", evs[0].BreakerType)
}

func TestCheckConditions_HardTriggerIsIdempotent(t *testing.T) {
	b, events, _ := newTestBreaker(t)

	b.CheckConditions(9000)
	b.CheckConditions(8000) // already HARD: no-op

	st := b.Status()
	assert.Equal(t, 1, st.TripCount)
	assert.Len(t, events.Events(), 1, "re-triggering while HARD must not emit a second TRIGGER")
}

func TestCheckConditions_EquityFloorTripsHard(t *testing.T) {
	b, _, _ := newTestBreaker(t)

	st := b.CheckConditions(9900)
	assert.False(t, st.Active)

	b.StartOfDay(500)
	st = b.CheckConditions(490) // 2% drawdown, but below the 500 floor
	assert.Equal(t, TypeHard, st.BreakerType)
	assert.Contains(t, st.TriggerReason, "below minimum")
}

func TestRecordTrade_LossStreakTripsSoft(t *testing.T) {
	b, events, clk := newTestBreaker(t)

	b.RecordTrade(-50, clk.t)
	clk.advance(time.Minute)
	b.RecordTrade(-30, clk.t)
	clk.advance(time.Minute)
	st := b.RecordTrade(-20, clk.t)

	require.Equal(t, TypeSoft, st.BreakerType)
	assert.Equal(t, ActionEntryPause, st.Action)
	assert.Equal(t, clk.t.Add(15*time.Minute), st.CooldownEndsAt)

	evs := events.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, "SOFT", evs[0].BreakerType)
}

func TestRecordTrade_ProfitClearsStreak(t *testing.T) {
	b, _, clk := newTestBreaker(t)

	b.RecordTrade(-50, clk.t)
	b.RecordTrade(-30, clk.t)
	b.RecordTrade(100, clk.t) // profit resets the window
	st := b.RecordTrade(-20, clk.t)

	assert.False(t, st.Active)
}

func TestRecordTrade_LossesOutsideWindowIgnored(t *testing.T) {
	b, _, clk := newTestBreaker(t)

	b.RecordTrade(-50, clk.t)
	clk.advance(31 * time.Minute) // first loss falls out of the 30m window
	b.RecordTrade(-30, clk.t)
	st := b.RecordTrade(-20, clk.t)

	assert.False(t, st.Active)
}

func TestSoftBreaker_AutoClearsAfterCooldown(t *testing.T) {
	b, _, clk := newTestBreaker(t)

	b.RecordTrade(-50, clk.t)
	b.RecordTrade(-30, clk.t)
	st := b.RecordTrade(-20, clk.t)
	require.Equal(t, TypeSoft, st.BreakerType)

	clk.advance(14 * time.Minute)
	assert.True(t, b.IsActive(), "cooldown not yet elapsed")

	clk.advance(2 * time.Minute)
	assert.False(t, b.IsActive(), "SOFT must auto-clear once cooldown ends")
}

func TestHardBreaker_NeverAutoClears(t *testing.T) {
	b, _, clk := newTestBreaker(t)

	b.CheckConditions(9000)
	clk.advance(48 * time.Hour)
	assert.True(t, b.IsActive(), "HARD requires manual reset")
}

func TestReset_RequiresOperatorIdentity(t *testing.T) {
	b, _, _ := newTestBreaker(t)
	b.CheckConditions(9000)

	err := b.Reset("")
	assert.ErrorIs(t, err, ErrOperatorRequired)
	assert.True(t, b.IsActive())
}

func TestReset_ClearsHardAndLogsOperator(t *testing.T) {
	b, events, _ := newTestBreaker(t)
	b.CheckConditions(9000)

	require.NoError(t, b.Reset("ops-alice"))
	assert.False(t, b.IsActive())

	evs := events.Events()
	require.Len(t, evs, 2)
	assert.Equal(t, "RESET", evs[1].EventType)
	assert.Equal(t, "ops-alice", evs[1].OperatorID)
	assert.Contains(t, evs[1].Reason, "HARD")
}

func TestReset_InactiveIsNoOp(t *testing.T) {
	b, events, _ := newTestBreaker(t)

	require.NoError(t, b.Reset("ops-bob"))
	assert.Empty(t, events.Events())
}

func TestNew_RestoresPersistedHardState(t *testing.T) {
	store := persistence.NewMemoryStore()
	events := persistence.NewMemoryEventLog()

	first := New(testConfig(), store, events)
	first.StartOfDay(10000)
	first.CheckConditions(9000)
	require.True(t, first.IsActive())

	// Simulated restart over the same store.
	second := New(testConfig(), store, events)
	st := second.Status()
	assert.True(t, st.Active)
	assert.Equal(t, TypeHard, st.BreakerType)
	assert.Equal(t, 1, st.TripCount)
}

func TestTripListener_SeesEveryCommittedTrip(t *testing.T) {
	var types []Type
	b, _, clk := newTestBreaker(t, WithTripListener(func(tp Type, _ string) {
		types = append(types, tp)
	}))

	b.RecordTrade(-50, clk.t)
	b.RecordTrade(-30, clk.t)
	b.RecordTrade(-20, clk.t)
	require.Equal(t, []Type{TypeSoft}, types)

	// Equity floor trips HARD on top of the active SOFT.
	b.CheckConditions(400)
	assert.Equal(t, []Type{TypeSoft, TypeHard}, types)
}

func TestSideEffectFailures_DoNotBlockTransition(t *testing.T) {
	b := New(testConfig(), persistence.NewMemoryStore(), &failingEventLog{},
		WithPositionCloser(&failingCloser{}), WithNotifier(&failingNotifier{}))
	b.StartOfDay(10000)

	st := b.CheckConditions(9000)
	assert.True(t, st.Active, "collaborator failures must never prevent the halt")
}

type failingEventLog struct{}

func (f *failingEventLog) Append(_ context.Context, _ persistence.BreakerEvent) error {
	return assert.AnError
}

type failingCloser struct{}

func (f *failingCloser) CloseAllPositions(_ context.Context, _ string) error { return assert.AnError }

type failingNotifier struct{}

func (f *failingNotifier) Notify(_ context.Context, _, _ string) error { return assert.AnError }
