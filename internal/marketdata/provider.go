package marketdata

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// One interface per facade operation. An adapter implements whichever
// operations its upstream supports; the service builds a chain per operation
// from configuration and walks it in fixed priority order.
type QuoteProvider interface {
	Name() string
	FetchQuote(ctx context.Context, symbol string) (*Quote, error)
}

type CandleProvider interface {
	Name() string
	FetchCandles(ctx context.Context, symbol, timeframe string, start, end time.Time, limit int) ([]Candle, error)
}

type SearchProvider interface {
	Name() string
	SearchSymbols(ctx context.Context, query string) ([]SearchResult, error)
}

type NewsProvider interface {
	Name() string
	FetchNews(ctx context.Context, symbol string) ([]NewsItem, error)
}

// httpGet performs a paced GET and maps transport failures and HTTP 429 into
// the adapter error taxonomy. Non-2xx statuses other than 429 are left to the
// caller, which knows the provider's body conventions.
func httpGet(ctx context.Context, client *http.Client, limiter *rate.Limiter, provider, symbol, url string, headers map[string]string) (int, []byte, error) {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return 0, nil, newNetworkError(provider, symbol, "rate limiter wait cancelled", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, newNetworkError(provider, symbol, "failed to create request", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, newNetworkError(provider, symbol, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, newNetworkError(provider, symbol, "failed to read body", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return resp.StatusCode, body, newRateLimitError(provider, symbol,
			"HTTP 429", parseRetryAfter(resp.Header.Get("Retry-After")))
	}
	return resp.StatusCode, body, nil
}

// parseRetryAfter handles the delta-seconds form of Retry-After. The HTTP-date
// form is rare on market data APIs and falls back to the default cooldown.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// newPacer builds the per-provider request pacer from a per-minute budget.
func newPacer(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60), perMinute/10+1)
}
