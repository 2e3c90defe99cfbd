package guardian

import (
	"math"
	"sync"
	"time"
)

const (
	maxHistoryPoints = 100
	historyWindow    = time.Hour
)

type pricePoint struct {
	price float64
	ts    time.Time
}

// PriceHistory retains recent prices per symbol for correlation and
// realized-volatility estimation. Pruned to the most recent 100 points
// and a one-hour window on every write.
type PriceHistory struct {
	mu     sync.RWMutex
	points map[string][]pricePoint
	now    func() time.Time
}

// NewPriceHistory creates an empty history.
func NewPriceHistory() *PriceHistory {
	return &PriceHistory{points: make(map[string][]pricePoint), now: time.Now}
}

// Record appends a price observation and prunes the symbol's series.
func (h *PriceHistory) Record(symbol string, price float64, ts time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	series := append(h.points[symbol], pricePoint{price: price, ts: ts})

	cutoff := h.now().Add(-historyWindow)
	start := 0
	for start < len(series) && series[start].ts.Before(cutoff) {
		start++
	}
	series = series[start:]
	if len(series) > maxHistoryPoints {
		series = series[len(series)-maxHistoryPoints:]
	}
	h.points[symbol] = series
}

// Returns computes period-over-period returns for a symbol. Needs at
// least two prices; returns nil otherwise.
func (h *PriceHistory) Returns(symbol string) []float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	series := h.points[symbol]
	if len(series) < 2 {
		return nil
	}
	out := make([]float64, 0, len(series)-1)
	for i := 1; i < len(series); i++ {
		prev := series[i-1].price
		if prev == 0 {
			continue
		}
		out = append(out, (series[i].price-prev)/prev)
	}
	return out
}

// Len reports the number of retained points for a symbol.
func (h *PriceHistory) Len(symbol string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.points[symbol])
}

// RealizedVolatility is the annualization-free standard deviation of
// the retained returns. Zero when history is insufficient.
func (h *PriceHistory) RealizedVolatility(symbol string) float64 {
	returns := h.Returns(symbol)
	if len(returns) < 2 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	return math.Sqrt(variance)
}
