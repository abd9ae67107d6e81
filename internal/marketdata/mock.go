package marketdata

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// MockGenerator produces synthetic market data when every provider is down
// or cooling off. The base price and trend direction derive from the symbol
// alone, so repeated calls during an outage stay consistent; per-call noise
// keeps the series from looking frozen.
type MockGenerator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewMockGenerator() *MockGenerator {
	return &MockGenerator{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// mockSeed folds a symbol into a stable seed (sum of byte values).
func mockSeed(symbol string) int64 {
	var s int64
	for _, b := range []byte(NormalizeSymbol(symbol)) {
		s += int64(b)
	}
	if s == 0 {
		s = 42
	}
	return s
}

// BasePrice is the deterministic anchor price for a symbol, $20-$600.
func (g *MockGenerator) BasePrice(symbol string) float64 {
	seed := mockSeed(symbol)
	return 20 + float64(seed%580) + float64(seed%97)/100
}

// TrendDirection is +1 or -1, stable per symbol.
func (g *MockGenerator) TrendDirection(symbol string) int {
	if mockSeed(symbol)%2 == 0 {
		return 1
	}
	return -1
}

// trendPerStep is the deterministic drift fraction applied per candle.
func (g *MockGenerator) trendPerStep(symbol string) float64 {
	seed := mockSeed(symbol)
	return float64(g.TrendDirection(symbol)) * (0.0005 + float64(seed%7)*0.0004)
}

func (g *MockGenerator) Quote(symbol string) *Quote {
	base := g.BasePrice(symbol)
	seed := mockSeed(symbol)

	g.mu.Lock()
	jitter := g.rnd.NormFloat64() * 0.005
	spread := g.rnd.Float64() * 0.004
	volNoise := g.rnd.Int63n(500_000)
	g.mu.Unlock()

	price := base * (1 + jitter)
	open := base * (1 + jitter/2)

	q := &Quote{
		Symbol:        NormalizeSymbol(symbol),
		Price:         price,
		Open:          open,
		High:          math.Max(price, open) * (1 + spread),
		Low:           math.Min(price, open) * (1 - spread),
		PreviousClose: base,
		Volume:        250_000 + seed%4_000_000 + volNoise,
		Timestamp:     time.Now(),
		Source:        "mock",
	}
	finishQuote(q)
	return q
}

// Candles generates a bounded random walk across [start, end] at the given
// resolution, drifting with the symbol's trend and clamped to ±30% of the
// base price.
func (g *MockGenerator) Candles(symbol, timeframe string, start, end time.Time, limit int) []Candle {
	if end.IsZero() {
		end = time.Now()
	}
	if start.IsZero() || !start.Before(end) {
		start = end.Add(-30 * 24 * time.Hour)
	}
	if limit <= 0 {
		limit = 100
	}

	step := timeframeDuration(timeframe)
	n := int(end.Sub(start) / step)
	if n < 2 {
		n = 2
	}
	if n > limit {
		n = limit
	}

	base := g.BasePrice(symbol)
	drift := base * g.trendPerStep(symbol)
	floor, ceiling := base*0.7, base*1.3

	g.mu.Lock()
	defer g.mu.Unlock()

	candles := make([]Candle, 0, n)
	price := base
	for i := 0; i < n; i++ {
		next := price + drift + g.rnd.NormFloat64()*base*0.01
		next = math.Min(math.Max(next, floor), ceiling)

		wick := g.rnd.Float64() * 0.003
		candles = append(candles, Candle{
			Timestamp: start.Add(time.Duration(i) * step),
			Open:      price,
			High:      math.Max(price, next) * (1 + wick),
			Low:       math.Min(price, next) * (1 - wick),
			Close:     next,
			Volume:    150_000 + g.rnd.Int63n(2_000_000),
		})
		price = next
	}
	return candles
}

// mockSwing is the plausible performance magnitude (percent) per period.
var mockSwing = map[string]float64{
	"1d": 0.5,
	"1w": 2,
	"1m": 6,
	"3m": 14,
	"1y": 35,
	"5y": 90,
}

// Performance produces a period-scaled move and back-computes a start price
// consistent with it.
func (g *MockGenerator) Performance(symbol, period string) *Performance {
	dur, err := PeriodDuration(period)
	if err != nil {
		period, dur = "1m", 30*24*time.Hour
	}

	seed := mockSeed(symbol)
	scale := mockSwing[period]
	direction := float64(g.TrendDirection(symbol))
	frac := float64(seed%100) / 100

	g.mu.Lock()
	noise := g.rnd.Float64() * scale * 0.1
	g.mu.Unlock()

	// Magnitude stays within [0.5, 1.1]×scale so longer periods always
	// swing harder than shorter ones.
	perf := direction * (scale*(0.5+0.5*frac) + noise)

	end := time.Now()
	endPrice := g.BasePrice(symbol)
	return &Performance{
		Symbol:      NormalizeSymbol(symbol),
		Performance: perf,
		StartPrice:  endPrice / (1 + perf/100),
		EndPrice:    endPrice,
		StartDate:   end.Add(-dur),
		EndDate:     end,
		Source:      "mock",
	}
}

func (g *MockGenerator) News(symbol string) []NewsItem {
	symbol = NormalizeSymbol(symbol)
	now := time.Now()
	headlines := []string{
		symbol + " shares see heavier than usual trading volume",
		"Analysts revisit price targets for " + symbol,
		symbol + ": markets digest latest filings",
	}

	items := make([]NewsItem, 0, len(headlines))
	for i, h := range headlines {
		items = append(items, NewsItem{
			Symbol:      symbol,
			Headline:    h,
			Summary:     "Live coverage is temporarily unavailable.",
			Source:      "mock",
			PublishedAt: now.Add(-time.Duration(i+1) * 6 * time.Hour),
		})
	}
	return items
}
