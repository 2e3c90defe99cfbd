package metrics

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/riskbrain/internal/domain"
)

func gatherFamily(t *testing.T, r *Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := r.Gatherer().Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() == name {
			return fam
		}
	}
	return nil
}

func TestRecordDecision(t *testing.T) {
	r := NewRegistry()

	r.RecordDecision("APPROVED", "approved", true)
	r.RecordDecision("RISK", "TAIL_RISK_VETO: APTR 80000.00 critical", false)
	r.RecordDecision("RISK", "TAIL_RISK_VETO: APTR 90000.00 critical", false)

	decisions := gatherFamily(t, r, "riskbrain_decisions_total")
	require.NotNil(t, decisions)
	byGate := map[string]float64{}
	for _, m := range decisions.GetMetric() {
		byGate[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
	}
	assert.Equal(t, 1.0, byGate["APPROVED"])
	assert.Equal(t, 2.0, byGate["RISK"])

	vetoes := gatherFamily(t, r, "riskbrain_vetoes_total")
	require.NotNil(t, vetoes)
	require.Len(t, vetoes.GetMetric(), 1, "variable suffixes collapse into the stable prefix")
	m := vetoes.GetMetric()[0]
	assert.Equal(t, "TAIL_RISK_VETO", m.GetLabel()[0].GetValue())
	assert.Equal(t, 2.0, m.GetCounter().GetValue())
}

func TestBreakerAndDefconGauges(t *testing.T) {
	r := NewRegistry()

	r.SetBreaker(true, true)
	fam := gatherFamily(t, r, "riskbrain_breaker_state")
	require.NotNil(t, fam)
	assert.Equal(t, 2.0, fam.GetMetric()[0].GetGauge().GetValue())

	r.SetBreaker(true, false)
	fam = gatherFamily(t, r, "riskbrain_breaker_state")
	assert.Equal(t, 1.0, fam.GetMetric()[0].GetGauge().GetValue())

	r.SetBreaker(false, false)
	fam = gatherFamily(t, r, "riskbrain_breaker_state")
	assert.Equal(t, 0.0, fam.GetMetric()[0].GetGauge().GetValue())

	r.SetDefcon(domain.DefconDefensive)
	fam = gatherFamily(t, r, "riskbrain_defcon_level")
	require.NotNil(t, fam)
	assert.Equal(t, float64(domain.DefconDefensive), fam.GetMetric()[0].GetGauge().GetValue())
}

func TestObservePublish(t *testing.T) {
	r := NewRegistry()
	r.ObservePublish(15 * time.Millisecond)
	r.ObservePublish(150 * time.Millisecond)

	fam := gatherFamily(t, r, "riskbrain_publish_latency_seconds")
	require.NotNil(t, fam)
	h := fam.GetMetric()[0].GetHistogram()
	assert.Equal(t, uint64(2), h.GetSampleCount())
	assert.InDelta(t, 0.165, h.GetSampleSum(), 1e-9)
}

func TestRegistriesAreIndependent(t *testing.T) {
	a := NewRegistry()
	b := NewRegistry()
	a.BreakerTrips.Inc()

	fam := gatherFamily(t, b, "riskbrain_breaker_trips_total")
	require.NotNil(t, fam)
	assert.Equal(t, 0.0, fam.GetMetric()[0].GetCounter().GetValue())
}
