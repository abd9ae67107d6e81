package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"stockboard/internal/cache"
	"stockboard/internal/observ"
	"stockboard/internal/ratelimit"
)

// PopularSymbols is the static list served for short search queries and used
// as the last-resort search fallback.
var PopularSymbols = []string{
	"AAPL", "MSFT", "GOOGL", "AMZN", "META", "NVDA", "TSLA", "JPM", "V", "WMT",
	"NFLX", "DIS", "PYPL", "ADBE", "INTC", "CMCSA", "PEP", "CSCO", "AVGO", "ABT",
	"ACN", "TXN", "QCOM", "COST", "NKE", "AMD", "CHTR", "TMUS", "SBUX", "GILD",
}

// TTL holds per-operation cache lifetimes.
type TTL struct {
	Quote       time.Duration
	Candles     time.Duration
	Search      time.Duration
	News        time.Duration
	Performance time.Duration
}

// Options wires a Service together. Zero-value fields get safe defaults so
// tests can construct minimal instances.
type Options struct {
	Cache           cache.Store
	Tracker         *ratelimit.Tracker
	TTL             TTL
	QuoteProviders  []QuoteProvider
	CandleProviders []CandleProvider
	SearchProviders []SearchProvider
	NewsProviders   []NewsProvider
	BatchSize       int
	BatchDelay      time.Duration
	Popular         []string
}

// Service is the normalized market data facade. Every operation follows the
// same shape: cache lookup, provider attempts in fixed priority order
// (skipping providers on cooldown), cache write, mock fallback. Operations
// never fail for market data unavailability; degraded results carry
// source "mock".
type Service struct {
	cache           cache.Store
	tracker         *ratelimit.Tracker
	mock            *MockGenerator
	ttl             TTL
	quoteProviders  []QuoteProvider
	candleProviders []CandleProvider
	searchProviders []SearchProvider
	newsProviders   []NewsProvider
	batchSize       int
	batchDelay      time.Duration
	popular         []string
	sleep           func(time.Duration)
}

func NewService(opts Options) *Service {
	s := &Service{
		cache:           opts.Cache,
		tracker:         opts.Tracker,
		mock:            NewMockGenerator(),
		ttl:             opts.TTL,
		quoteProviders:  opts.QuoteProviders,
		candleProviders: opts.CandleProviders,
		searchProviders: opts.SearchProviders,
		newsProviders:   opts.NewsProviders,
		batchSize:       opts.BatchSize,
		batchDelay:      opts.BatchDelay,
		popular:         opts.Popular,
		sleep:           time.Sleep,
	}
	if s.cache == nil {
		s.cache = cache.NewMemory()
	}
	if s.tracker == nil {
		s.tracker = ratelimit.NewTracker(60 * time.Second)
	}
	if s.ttl.Quote == 0 {
		s.ttl.Quote = 60 * time.Second
	}
	if s.ttl.Candles == 0 {
		s.ttl.Candles = 5 * time.Minute
	}
	if s.ttl.Search == 0 {
		s.ttl.Search = time.Hour
	}
	if s.ttl.News == 0 {
		s.ttl.News = 15 * time.Minute
	}
	if s.ttl.Performance == 0 {
		s.ttl.Performance = 5 * time.Minute
	}
	if s.batchSize <= 0 {
		s.batchSize = 5
	}
	if s.batchDelay <= 0 {
		s.batchDelay = 250 * time.Millisecond
	}
	if len(s.popular) == 0 {
		s.popular = PopularSymbols
	}
	return s
}

// GetQuote returns a normalized quote for symbol. Only an empty symbol is an
// error; provider trouble degrades to mock data.
func (s *Service) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("empty symbol")
	}

	key := cache.Key("quote", map[string]string{"symbol": symbol})
	var cached Quote
	if s.cacheGet(key, "quote", &cached) {
		return &cached, nil
	}

	for _, p := range s.quoteProviders {
		if s.onCooldown(p.Name(), "quote") {
			continue
		}
		q, err := p.FetchQuote(ctx, symbol)
		if err != nil {
			s.noteFailure(p.Name(), symbol, "quote", err)
			continue
		}
		s.noteSuccess(p.Name(), "quote")
		s.cacheSet(key, q, s.ttl.Quote)
		return q, nil
	}

	q := s.mock.Quote(symbol)
	s.noteMockFallback(symbol, "quote")
	s.cacheSet(key, q, s.ttl.Quote)
	return q, nil
}

// GetQuotes fetches quotes for many symbols in bounded batches with a pause
// between batches, as cooperative backpressure against upstream rate limits.
// The result has exactly one quote per input symbol, in input order; symbols
// that fail individually fall back to mock data.
func (s *Service) GetQuotes(ctx context.Context, symbols []string) []*Quote {
	results := make([]*Quote, len(symbols))

	for batchStart := 0; batchStart < len(symbols); batchStart += s.batchSize {
		if batchStart > 0 {
			s.sleep(s.batchDelay)
		}
		batchEnd := batchStart + s.batchSize
		if batchEnd > len(symbols) {
			batchEnd = len(symbols)
		}

		var wg sync.WaitGroup
		for i := batchStart; i < batchEnd; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				q, err := s.GetQuote(ctx, symbols[i])
				if err != nil {
					q = s.mock.Quote(symbols[i])
				}
				results[i] = q
			}(i)
		}
		wg.Wait()
	}
	return results
}

// candleSeries is the cached shape for candle responses; the source tag lets
// GetPerformance attribute its result without refetching.
type candleSeries struct {
	Source  string   `json:"source"`
	Candles []Candle `json:"candles"`
}

// GetCandles returns an ascending, deduplicated OHLCV series.
func (s *Service) GetCandles(ctx context.Context, symbol, timeframe string, start, end time.Time, limit int) ([]Candle, error) {
	series, err := s.getCandleSeries(ctx, symbol, timeframe, start, end, limit)
	if err != nil {
		return nil, err
	}
	return series.Candles, nil
}

func (s *Service) getCandleSeries(ctx context.Context, symbol, timeframe string, start, end time.Time, limit int) (*candleSeries, error) {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("empty symbol")
	}
	if timeframe == "" {
		timeframe = "1D"
	}
	if limit <= 0 {
		limit = 100
	}
	if end.IsZero() {
		end = time.Now()
	}
	if start.IsZero() || !start.Before(end) {
		start = end.Add(-30 * 24 * time.Hour)
	}

	key := cache.Key("candles", map[string]string{
		"symbol":    symbol,
		"timeframe": timeframe,
		"start":     start.UTC().Format(time.RFC3339),
		"end":       end.UTC().Format(time.RFC3339),
		"limit":     strconv.Itoa(limit),
	})
	var cached candleSeries
	if s.cacheGet(key, "candles", &cached) {
		return &cached, nil
	}

	for _, p := range s.candleProviders {
		if s.onCooldown(p.Name(), "candles") {
			continue
		}
		candles, err := p.FetchCandles(ctx, symbol, timeframe, start, end, limit)
		if err != nil {
			s.noteFailure(p.Name(), symbol, "candles", err)
			continue
		}
		s.noteSuccess(p.Name(), "candles")
		series := &candleSeries{Source: p.Name(), Candles: sortCandles(candles)}
		s.cacheSet(key, series, s.ttl.Candles)
		return series, nil
	}

	s.noteMockFallback(symbol, "candles")
	series := &candleSeries{Source: "mock", Candles: sortCandles(s.mock.Candles(symbol, timeframe, start, end, limit))}
	s.cacheSet(key, series, s.ttl.Candles)
	return series, nil
}

// Search looks up symbols by ticker or company name. Queries shorter than
// two characters short-circuit to the popular list without touching cache or
// providers.
func (s *Service) Search(ctx context.Context, query string) []SearchResult {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < 2 {
		return s.popularResults(5)
	}

	key := cache.Key("search", map[string]string{"query": strings.ToLower(query)})
	var cached []SearchResult
	if s.cacheGet(key, "search", &cached) {
		return cached
	}

	for _, p := range s.searchProviders {
		if s.onCooldown(p.Name(), "search") {
			continue
		}
		results, err := p.SearchSymbols(ctx, query)
		if err != nil {
			s.noteFailure(p.Name(), query, "search", err)
			continue
		}
		s.noteSuccess(p.Name(), "search")
		s.cacheSet(key, results, s.ttl.Search)
		return results
	}

	// Last resort: filter the popular list so the search box still works
	// during an outage.
	s.noteMockFallback(query, "search")
	lower := strings.ToLower(query)
	results := make([]SearchResult, 0, 5)
	for _, sym := range s.popular {
		if strings.Contains(strings.ToLower(sym), lower) {
			results = append(results, popularResult(sym))
			if len(results) >= 5 {
				break
			}
		}
	}
	s.cacheSet(key, results, s.ttl.Search)
	return results
}

// GetPerformance reports the percentage move over a period, computed from
// daily candles when a provider delivers them and from the mock generator
// otherwise.
func (s *Service) GetPerformance(ctx context.Context, symbol, period string) (*Performance, error) {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("empty symbol")
	}
	dur, err := PeriodDuration(period)
	if err != nil {
		return nil, err
	}

	key := cache.Key("performance", map[string]string{"symbol": symbol, "period": period})
	var cached Performance
	if s.cacheGet(key, "performance", &cached) {
		return &cached, nil
	}

	end := time.Now()
	start := end.Add(-dur)
	series, err := s.getCandleSeries(ctx, symbol, "1D", start, end, 1000)

	var perf *Performance
	if err != nil || len(series.Candles) < 2 || series.Candles[0].Close == 0 {
		perf = s.mock.Performance(symbol, period)
	} else {
		first := series.Candles[0]
		last := series.Candles[len(series.Candles)-1]
		perf = &Performance{
			Symbol:      symbol,
			Performance: (last.Close - first.Close) / first.Close * 100,
			StartPrice:  first.Close,
			EndPrice:    last.Close,
			StartDate:   first.Timestamp,
			EndDate:     last.Timestamp,
			Source:      series.Source,
		}
	}

	s.cacheSet(key, perf, s.ttl.Performance)
	return perf, nil
}

// GetNews returns recent headlines for a symbol.
func (s *Service) GetNews(ctx context.Context, symbol string) ([]NewsItem, error) {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("empty symbol")
	}

	key := cache.Key("news", map[string]string{"symbol": symbol})
	var cached []NewsItem
	if s.cacheGet(key, "news", &cached) {
		return cached, nil
	}

	for _, p := range s.newsProviders {
		if s.onCooldown(p.Name(), "news") {
			continue
		}
		items, err := p.FetchNews(ctx, symbol)
		if err != nil {
			s.noteFailure(p.Name(), symbol, "news", err)
			continue
		}
		s.noteSuccess(p.Name(), "news")
		s.cacheSet(key, items, s.ttl.News)
		return items, nil
	}

	s.noteMockFallback(symbol, "news")
	items := s.mock.News(symbol)
	s.cacheSet(key, items, s.ttl.News)
	return items, nil
}

// RateLimits exposes the tracker state for health endpoints.
func (s *Service) RateLimits() map[string]ratelimit.State {
	return s.tracker.Snapshot()
}

func (s *Service) popularResults(n int) []SearchResult {
	if n > len(s.popular) {
		n = len(s.popular)
	}
	out := make([]SearchResult, 0, n)
	for _, sym := range s.popular[:n] {
		out = append(out, popularResult(sym))
	}
	return out
}

func popularResult(symbol string) SearchResult {
	return SearchResult{
		Symbol:         symbol,
		Name:           symbol + " Stock",
		Type:           "stock",
		CurrencySymbol: "$",
	}
}

func (s *Service) onCooldown(provider, op string) bool {
	if !s.tracker.IsLimited(provider) {
		return false
	}
	observ.IncCounter("marketdata_provider_skipped_total", map[string]string{
		"provider": provider, "op": op,
	})
	return true
}

// noteFailure classifies an adapter error: rate limits start a cooldown,
// everything else is logged and the chain moves on.
func (s *Service) noteFailure(provider, symbol, op string, err error) {
	observ.IncCounter("marketdata_provider_errors_total", map[string]string{
		"provider": provider, "op": op,
	})
	if retryAfter, ok := asRateLimit(err); ok {
		s.tracker.MarkLimited(provider, retryAfter)
		return
	}
	observ.Log("provider_attempt_failed", map[string]any{
		"provider": provider,
		"op":       op,
		"symbol":   symbol,
		"error":    err.Error(),
	})
}

func (s *Service) noteSuccess(provider, op string) {
	observ.IncCounter("marketdata_provider_success_total", map[string]string{
		"provider": provider, "op": op,
	})
}

func (s *Service) noteMockFallback(symbol, op string) {
	observ.IncCounter("marketdata_mock_fallback_total", map[string]string{"op": op})
	observ.Log("mock_fallback", map[string]any{"op": op, "symbol": symbol})
}

func (s *Service) cacheGet(key, op string, dst any) bool {
	b, ok := s.cache.Get(key)
	if !ok {
		observ.IncCounter("marketdata_cache_miss_total", map[string]string{"op": op})
		return false
	}
	if err := json.Unmarshal(b, dst); err != nil {
		observ.Log("cache_decode_error", map[string]any{"key": key, "error": err.Error()})
		s.cache.Delete(key)
		return false
	}
	observ.IncCounter("marketdata_cache_hit_total", map[string]string{"op": op})
	return true
}

func (s *Service) cacheSet(key string, v any, ttl time.Duration) {
	b, err := json.Marshal(v)
	if err != nil {
		observ.Log("cache_encode_error", map[string]any{"key": key, "error": err.Error()})
		return
	}
	s.cache.Set(key, b, ttl)
}
