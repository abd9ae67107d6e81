package marketdata

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockBasePrice_DeterministicAndBounded(t *testing.T) {
	g := NewMockGenerator()

	for _, sym := range []string{"AAPL", "MSFT", "TSLA", "BRK.B", "X"} {
		first := g.BasePrice(sym)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, g.BasePrice(sym), "base price must be stable for %s", sym)
		}
		assert.GreaterOrEqual(t, first, 20.0)
		assert.Less(t, first, 600.0)
	}

	assert.Equal(t, g.BasePrice("aapl "), g.BasePrice("AAPL"), "symbol normalization feeds the seed")
}

func TestMockQuote_InvariantsHold(t *testing.T) {
	g := NewMockGenerator()

	for i := 0; i < 50; i++ {
		q := g.Quote("NVDA")
		require.Equal(t, "NVDA", q.Symbol)
		require.Equal(t, "mock", q.Source)
		assert.Positive(t, q.Price)
		assert.GreaterOrEqual(t, q.High, q.Price)
		assert.LessOrEqual(t, q.Low, q.Price)
		assert.Positive(t, q.Volume)

		wantChange := q.Price - q.PreviousClose
		assert.InDelta(t, wantChange, q.Change, 1e-9)
		assert.InDelta(t, wantChange/q.PreviousClose*100, q.ChangePercent, 1e-9)
	}
}

func TestMockCandles_WalkStaysClamped(t *testing.T) {
	g := NewMockGenerator()
	end := time.Now()
	start := end.Add(-365 * 24 * time.Hour)

	candles := g.Candles("GOOG", "1D", start, end, 1000)
	require.GreaterOrEqual(t, len(candles), 2)

	base := g.BasePrice("GOOG")
	for _, c := range candles {
		assert.GreaterOrEqual(t, c.Close, base*0.7*0.99)
		assert.LessOrEqual(t, c.Close, base*1.3*1.01)
		assert.GreaterOrEqual(t, c.High, c.Close)
		assert.LessOrEqual(t, c.Low, math.Min(c.Open, c.Close))
	}

	for i := 1; i < len(candles); i++ {
		assert.True(t, candles[i].Timestamp.After(candles[i-1].Timestamp), "timestamps ascend")
	}
}

func TestMockCandles_HonorsLimit(t *testing.T) {
	g := NewMockGenerator()
	end := time.Now()

	candles := g.Candles("AMZN", "1D", end.Add(-365*24*time.Hour), end, 50)
	assert.Len(t, candles, 50)
}

func TestMockPerformance_LongerPeriodsSwingHarder(t *testing.T) {
	g := NewMockGenerator()
	periods := []string{"1d", "1w", "1m", "3m", "1y", "5y"}

	for _, sym := range []string{"AAPL", "TSLA", "JPM", "XOM"} {
		prev := 0.0
		for _, period := range periods {
			p := g.Performance(sym, period)
			mag := math.Abs(p.Performance)
			assert.Greater(t, mag, prev, "%s magnitude for %s must exceed the shorter period", sym, period)
			prev = mag
		}
	}
}

func TestMockPerformance_DirectionStablePerSymbol(t *testing.T) {
	g := NewMockGenerator()

	for _, sym := range []string{"AAPL", "MSFT", "META"} {
		want := float64(g.TrendDirection(sym))
		for _, period := range []string{"1d", "1m", "1y"} {
			p := g.Performance(sym, period)
			assert.Equal(t, want, math.Copysign(1, p.Performance), "%s %s", sym, period)
		}
	}
}

func TestMockPerformance_StartPriceConsistent(t *testing.T) {
	g := NewMockGenerator()

	p := g.Performance("NFLX", "3m")
	require.Equal(t, "mock", p.Source)
	recomputed := (p.EndPrice - p.StartPrice) / p.StartPrice * 100
	assert.InDelta(t, p.Performance, recomputed, 1e-6)
	assert.True(t, p.StartDate.Before(p.EndDate))
}

func TestMockNews_DeterministicShape(t *testing.T) {
	g := NewMockGenerator()

	items := g.News("aapl")
	require.Len(t, items, 3)
	for _, item := range items {
		assert.Equal(t, "AAPL", item.Symbol)
		assert.Equal(t, "mock", item.Source)
		assert.Contains(t, item.Headline, "AAPL")
		assert.False(t, item.PublishedAt.IsZero())
	}
}
