package guardian

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceHistory_Returns(t *testing.T) {
	h := NewPriceHistory()
	now := time.Now()

	assert.Nil(t, h.Returns("BTC/USDT"), "no data yet")

	h.Record("BTC/USDT", 100, now.Add(-3*time.Minute))
	assert.Nil(t, h.Returns("BTC/USDT"), "a single point has no return")

	h.Record("BTC/USDT", 101, now.Add(-2*time.Minute))
	h.Record("BTC/USDT", 99.99, now.Add(-time.Minute))

	returns := h.Returns("BTC/USDT")
	require.Len(t, returns, 2)
	assert.InDelta(t, 0.01, returns[0], 1e-9)
	assert.InDelta(t, -0.01, returns[1], 1e-9)
}

func TestPriceHistory_PrunesOldPoints(t *testing.T) {
	h := NewPriceHistory()
	now := time.Now()

	h.Record("BTC/USDT", 100, now.Add(-2*time.Hour))
	h.Record("BTC/USDT", 101, now.Add(-90*time.Minute))
	h.Record("BTC/USDT", 102, now.Add(-time.Minute))
	h.Record("BTC/USDT", 103, now)

	assert.Equal(t, 2, h.Len("BTC/USDT"), "points older than the window are dropped")
}

func TestPriceHistory_CapsPointCount(t *testing.T) {
	h := NewPriceHistory()
	now := time.Now()

	for i := 0; i < maxHistoryPoints+50; i++ {
		h.Record("BTC/USDT", 100+float64(i), now.Add(time.Duration(i)*time.Second))
	}
	assert.Equal(t, maxHistoryPoints, h.Len("BTC/USDT"))
}

func TestPriceHistory_RealizedVolatility(t *testing.T) {
	h := NewPriceHistory()
	now := time.Now()

	assert.Zero(t, h.RealizedVolatility("BTC/USDT"))

	// Constant returns have zero dispersion.
	price := 100.0
	for i := 0; i < 5; i++ {
		h.Record("ETH/USDT", price, now.Add(time.Duration(i)*time.Minute))
		price *= 1.01
	}
	assert.InDelta(t, 0.0, h.RealizedVolatility("ETH/USDT"), 1e-12)

	h.Record("BTC/USDT", 100, now.Add(-3*time.Minute))
	h.Record("BTC/USDT", 102, now.Add(-2*time.Minute))
	h.Record("BTC/USDT", 100.98, now.Add(-time.Minute))
	assert.Greater(t, h.RealizedVolatility("BTC/USDT"), 0.0)
}
