package guardian

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/quantfall/riskbrain/internal/domain"
)

// ErrInsufficientHistory marks a correlation request that cannot be
// served from the retained price history. Correlation gating fails
// closed on this error; a defaulted value would silently approve
// under uncertainty.
var ErrInsufficientHistory = fmt.Errorf("guardian: insufficient price history for correlation")

// pearson computes the correlation of two aligned return series,
// truncated to the shorter tail.
func pearson(a, b []float64) (float64, error) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return 0, ErrInsufficientHistory
	}
	a = a[len(a)-n:]
	b = b[len(b)-n:]

	var meanA, meanB float64
	for i := 0; i < n; i++ {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= float64(n)
	meanB /= float64(n)

	var num, da, db float64
	for i := 0; i < n; i++ {
		x := a[i] - meanA
		y := b[i] - meanB
		num += x * y
		da += x * x
		db += y * y
	}
	den := math.Sqrt(da * db)
	if den == 0 {
		return 0, nil
	}
	return num / den, nil
}

type cachedValue struct {
	value      float64
	computedAt time.Time
}

// correlationCache memoizes pairwise correlations keyed by the
// canonically sorted symbol pair.
type correlationCache struct {
	mu      sync.Mutex
	entries map[string]cachedValue
	ttl     time.Duration
	now     func() time.Time
}

func newCorrelationCache(ttl time.Duration) *correlationCache {
	return &correlationCache{entries: make(map[string]cachedValue), ttl: ttl, now: time.Now}
}

func pairKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, "|")
}

func (c *correlationCache) get(a, b string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[pairKey(a, b)]
	if !ok || c.now().Sub(entry.computedAt) > c.ttl {
		return 0, false
	}
	return entry.value, true
}

func (c *correlationCache) put(a, b string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[pairKey(a, b)] = cachedValue{value: value, computedAt: c.now()}
}

// Correlation returns the Pearson correlation between two symbols'
// return series, cached for the refresh interval.
func (g *Guardian) Correlation(symbolA, symbolB string) (float64, error) {
	if symbolA == symbolB {
		return 1, nil
	}
	if v, ok := g.corrCache.get(symbolA, symbolB); ok {
		return v, nil
	}
	corr, err := pearson(g.history.Returns(symbolA), g.history.Returns(symbolB))
	if err != nil {
		return 0, err
	}
	g.corrCache.put(symbolA, symbolB, corr)
	return corr, nil
}

// PortfolioBeta is the notional-weighted correlation of each position
// against the reference symbol, direction-adjusted by position side.
// Positions whose correlation cannot be computed are skipped; an empty
// portfolio has beta zero.
func (g *Guardian) PortfolioBeta(positions []domain.Position) float64 {
	if v, ok := g.betaCache.get(g.cfg.ReferenceSymbol, "~portfolio"); ok {
		return v
	}

	var weighted, gross float64
	for _, pos := range positions {
		corr, err := g.Correlation(pos.Symbol, g.cfg.ReferenceSymbol)
		if err != nil {
			continue
		}
		weighted += corr * pos.Size * pos.Side.Sign()
		gross += pos.Size
	}
	if gross == 0 {
		return 0
	}
	beta := weighted / gross
	g.betaCache.put(g.cfg.ReferenceSymbol, "~portfolio", beta)
	return beta
}
