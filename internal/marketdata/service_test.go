package marketdata

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockboard/internal/cache"
	"stockboard/internal/ratelimit"
)

// fakeProvider implements all four provider interfaces with canned responses
// and call counting.
type fakeProvider struct {
	name string

	mu          sync.Mutex
	quoteCalls  int
	candleCalls int
	searchCalls int
	newsCalls   int

	err     error
	quote   *Quote
	candles []Candle
	results []SearchResult
	news    []NewsItem
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) FetchQuote(ctx context.Context, symbol string) (*Quote, error) {
	f.mu.Lock()
	f.quoteCalls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	q := *f.quote
	q.Symbol = symbol
	q.Source = f.name
	return &q, nil
}

func (f *fakeProvider) FetchCandles(ctx context.Context, symbol, timeframe string, start, end time.Time, limit int) ([]Candle, error) {
	f.mu.Lock()
	f.candleCalls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.candles, nil
}

func (f *fakeProvider) SearchSymbols(ctx context.Context, query string) ([]SearchResult, error) {
	f.mu.Lock()
	f.searchCalls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func (f *fakeProvider) FetchNews(ctx context.Context, symbol string) ([]NewsItem, error) {
	f.mu.Lock()
	f.newsCalls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.news, nil
}

func (f *fakeProvider) counts() (quotes, candles, searches, news int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quoteCalls, f.candleCalls, f.searchCalls, f.newsCalls
}

func goodQuote(price, prevClose float64) *Quote {
	q := &Quote{
		Price:         price,
		Open:          price - 0.5,
		High:          price + 0.5,
		Low:           price - 1,
		PreviousClose: prevClose,
		Volume:        1_000_000,
		Timestamp:     time.Now(),
	}
	finishQuote(q)
	return q
}

func TestGetQuote_CacheDeduplicatesUpstreamCalls(t *testing.T) {
	p := &fakeProvider{name: "polygon", quote: goodQuote(190, 188)}
	svc := NewService(Options{QuoteProviders: []QuoteProvider{p}})

	q1, err := svc.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	q2, err := svc.GetQuote(context.Background(), "aapl ")
	require.NoError(t, err)

	quotes, _, _, _ := p.counts()
	assert.Equal(t, 1, quotes, "second call must be served from cache")
	assert.Equal(t, q1.Price, q2.Price)
	assert.Equal(t, "polygon", q2.Source)
}

func TestGetQuote_FallsThroughProviderChain(t *testing.T) {
	down := &fakeProvider{name: "polygon", err: newProviderError("polygon", "AAPL", "HTTP 500", nil)}
	up := &fakeProvider{name: "finnhub", quote: goodQuote(187.5, 185)}
	svc := NewService(Options{QuoteProviders: []QuoteProvider{down, up}})

	q, err := svc.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)

	assert.Equal(t, "finnhub", q.Source)
	assert.InDelta(t, 187.5, q.Price, 1e-9)
	downCalls, _, _, _ := down.counts()
	assert.Equal(t, 1, downCalls)
}

func TestGetQuote_RateLimitSkipsProviderAcrossSymbols(t *testing.T) {
	limited := &fakeProvider{name: "polygon", err: newRateLimitError("polygon", "AAPL", "HTTP 429", 0)}
	healthy := &fakeProvider{name: "finnhub", quote: goodQuote(100, 99)}
	svc := NewService(Options{
		QuoteProviders: []QuoteProvider{limited, healthy},
		Tracker:        ratelimit.NewTracker(time.Minute),
	})

	q, err := svc.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "finnhub", q.Source)

	// A different symbol inside the cooldown window must not touch the
	// limited provider at all.
	_, err = svc.GetQuote(context.Background(), "MSFT")
	require.NoError(t, err)

	limitedCalls, _, _, _ := limited.counts()
	healthyCalls, _, _, _ := healthy.counts()
	assert.Equal(t, 1, limitedCalls, "cooling-down provider must be skipped")
	assert.Equal(t, 2, healthyCalls)
}

func TestGetQuote_MockFallbackNeverErrors(t *testing.T) {
	down1 := &fakeProvider{name: "polygon", err: newProviderError("polygon", "", "HTTP 500", nil)}
	down2 := &fakeProvider{name: "finnhub", err: newNetworkError("finnhub", "", "connection refused", nil)}
	svc := NewService(Options{QuoteProviders: []QuoteProvider{down1, down2}})

	q, err := svc.GetQuote(context.Background(), "ZZZZ")
	require.NoError(t, err)
	assert.Equal(t, "mock", q.Source)
	assert.Positive(t, q.Price)

	// The mock result is cached too; providers are not retried within TTL.
	_, err = svc.GetQuote(context.Background(), "ZZZZ")
	require.NoError(t, err)
	calls1, _, _, _ := down1.counts()
	assert.Equal(t, 1, calls1)
}

func TestGetQuote_EmptySymbolIsTheOnlyError(t *testing.T) {
	svc := NewService(Options{})
	_, err := svc.GetQuote(context.Background(), "   ")
	assert.Error(t, err)
}

func TestGetQuotes_OneResultPerSymbolInOrder(t *testing.T) {
	p := &fakeProvider{name: "polygon", quote: goodQuote(50, 49)}
	svc := NewService(Options{
		QuoteProviders: []QuoteProvider{p},
		BatchSize:      3,
		BatchDelay:     time.Millisecond,
	})

	var pauses int
	svc.sleep = func(time.Duration) { pauses++ }

	symbols := []string{"AAPL", "MSFT", "GOOGL", "AMZN", "NVDA", "TSLA", "META"}
	quotes := svc.GetQuotes(context.Background(), symbols)

	require.Len(t, quotes, len(symbols))
	for i, q := range quotes {
		require.NotNil(t, q, "index %d", i)
		assert.Equal(t, symbols[i], q.Symbol)
	}
	assert.Equal(t, 2, pauses, "7 symbols at batch size 3 pause twice")
}

func TestGetQuotes_FailedSymbolGetsMock(t *testing.T) {
	p := &fakeProvider{name: "polygon", err: newProviderError("polygon", "", "HTTP 500", nil)}
	svc := NewService(Options{QuoteProviders: []QuoteProvider{p}, BatchSize: 5})
	svc.sleep = func(time.Duration) {}

	quotes := svc.GetQuotes(context.Background(), []string{"AAPL", "MSFT"})
	require.Len(t, quotes, 2)
	for _, q := range quotes {
		assert.Equal(t, "mock", q.Source)
	}
}

func TestGetCandles_SortedAndDeduplicated(t *testing.T) {
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	p := &fakeProvider{name: "alpaca", candles: []Candle{
		{Timestamp: base.AddDate(0, 0, 2), Close: 3},
		{Timestamp: base, Close: 1},
		{Timestamp: base.AddDate(0, 0, 1), Close: 2},
		{Timestamp: base, Close: 99}, // duplicate bucket
	}}
	svc := NewService(Options{CandleProviders: []CandleProvider{p}})

	candles, err := svc.GetCandles(context.Background(), "AAPL", "1D", base, base.AddDate(0, 0, 5), 100)
	require.NoError(t, err)

	require.Len(t, candles, 3)
	assert.Equal(t, 1.0, candles[0].Close, "first occurrence wins on duplicate timestamps")
	for i := 1; i < len(candles); i++ {
		assert.True(t, candles[i].Timestamp.After(candles[i-1].Timestamp))
	}
}

func TestGetCandles_MockFallbackIsSorted(t *testing.T) {
	svc := NewService(Options{})

	candles, err := svc.GetCandles(context.Background(), "AAPL", "1D", time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	require.NotEmpty(t, candles)
	for i := 1; i < len(candles); i++ {
		assert.True(t, candles[i].Timestamp.After(candles[i-1].Timestamp))
	}
}

func TestSearch_ShortQueryShortCircuits(t *testing.T) {
	p := &fakeProvider{name: "polygon", results: []SearchResult{{Symbol: "AAPL"}}}
	mem := cache.NewMemory()
	svc := NewService(Options{SearchProviders: []SearchProvider{p}, Cache: mem})

	for _, query := range []string{"", " ", "a"} {
		results := svc.Search(context.Background(), query)
		require.Len(t, results, 5, "query %q", query)
		assert.Equal(t, "AAPL", results[0].Symbol)
	}

	_, _, searches, _ := p.counts()
	assert.Zero(t, searches, "short queries must not reach providers")
	assert.Zero(t, mem.Len(), "short queries must not touch the cache")
}

func TestSearch_ProviderResultsAreCached(t *testing.T) {
	p := &fakeProvider{name: "polygon", results: []SearchResult{
		{Symbol: "AAPL", Name: "Apple Inc.", Type: "stock"},
	}}
	svc := NewService(Options{SearchProviders: []SearchProvider{p}})

	r1 := svc.Search(context.Background(), "apple")
	r2 := svc.Search(context.Background(), "apple")

	require.Len(t, r1, 1)
	assert.Equal(t, r1, r2)
	_, _, searches, _ := p.counts()
	assert.Equal(t, 1, searches)
}

func TestSearch_OutageFallsBackToFilteredPopular(t *testing.T) {
	p := &fakeProvider{name: "polygon", err: newProviderError("polygon", "", "HTTP 500", nil)}
	svc := NewService(Options{SearchProviders: []SearchProvider{p}})

	results := svc.Search(context.Background(), "aa")
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Contains(t, r.Symbol, "AA")
	}
}

func TestGetPerformance_ComputedFromCandles(t *testing.T) {
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	p := &fakeProvider{name: "alpaca", candles: []Candle{
		{Timestamp: base, Close: 100},
		{Timestamp: base.AddDate(0, 0, 15), Close: 104},
		{Timestamp: base.AddDate(0, 0, 29), Close: 110},
	}}
	svc := NewService(Options{CandleProviders: []CandleProvider{p}})

	perf, err := svc.GetPerformance(context.Background(), "AAPL", "1m")
	require.NoError(t, err)

	assert.Equal(t, "alpaca", perf.Source)
	assert.InDelta(t, 10.0, perf.Performance, 1e-9)
	assert.InDelta(t, 100.0, perf.StartPrice, 1e-9)
	assert.InDelta(t, 110.0, perf.EndPrice, 1e-9)
	recomputed := (perf.EndPrice - perf.StartPrice) / perf.StartPrice * 100
	assert.InDelta(t, perf.Performance, recomputed, 1e-9)
}

func TestGetPerformance_InvalidPeriodRejected(t *testing.T) {
	svc := NewService(Options{})
	_, err := svc.GetPerformance(context.Background(), "AAPL", "2w")
	assert.Error(t, err)
}

func TestGetPerformance_TooFewCandlesFallsBackToMock(t *testing.T) {
	base := time.Now()
	p := &fakeProvider{name: "alpaca", candles: []Candle{{Timestamp: base, Close: 100}}}
	svc := NewService(Options{CandleProviders: []CandleProvider{p}})

	perf, err := svc.GetPerformance(context.Background(), "AAPL", "1w")
	require.NoError(t, err)
	assert.Equal(t, "mock", perf.Source)
}

func TestGetNews_ChainThenMock(t *testing.T) {
	down := &fakeProvider{name: "alphavantage", err: newRateLimitError("alphavantage", "", "Note", 0)}
	up := &fakeProvider{name: "finnhub", news: []NewsItem{
		{Headline: "Apple ships results", Source: "finnhub", PublishedAt: time.Now()},
	}}
	svc := NewService(Options{NewsProviders: []NewsProvider{down, up}})

	items, err := svc.GetNews(context.Background(), "AAPL")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "finnhub", items[0].Source)

	empty := NewService(Options{})
	items, err = empty.GetNews(context.Background(), "AAPL")
	require.NoError(t, err)
	require.NotEmpty(t, items)
	assert.Equal(t, "mock", items[0].Source)
}

func TestRateLimits_ExposesTrackerState(t *testing.T) {
	tr := ratelimit.NewTracker(time.Minute)
	p := &fakeProvider{name: "polygon", err: newRateLimitError("polygon", "", "HTTP 429", 0)}
	svc := NewService(Options{QuoteProviders: []QuoteProvider{p}, Tracker: tr})

	_, err := svc.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)

	snap := svc.RateLimits()
	require.Contains(t, snap, "polygon")
	assert.True(t, snap["polygon"].Limited)
}
