// Package marketdata implements the multi-provider market data layer: a
// normalized facade over Polygon, Finnhub, Alpha Vantage and Alpaca with
// per-provider cooldown tracking, TTL caching and a deterministic mock
// fallback so callers always get a well-formed result.
package marketdata

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Quote is a normalized real-time quote from any provider.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"changePercent"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Open          float64   `json:"open"`
	PreviousClose float64   `json:"previousClose"`
	Volume        int64     `json:"volume"`
	Timestamp     time.Time `json:"timestamp"`
	Source        string    `json:"source"` // provider name or "mock"
}

// Candle is one OHLCV bucket of a series.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// SearchResult is a normalized symbol lookup hit.
type SearchResult struct {
	Symbol         string `json:"symbol"`
	Name           string `json:"name"`
	Type           string `json:"type"`
	Market         string `json:"market,omitempty"`
	CurrencySymbol string `json:"currencySymbol,omitempty"`
}

// Performance describes price change over a period.
type Performance struct {
	Symbol      string    `json:"symbol"`
	Performance float64   `json:"performance"` // percent
	StartPrice  float64   `json:"startPrice"`
	EndPrice    float64   `json:"endPrice"`
	StartDate   time.Time `json:"startDate"`
	EndDate     time.Time `json:"endDate"`
	Source      string    `json:"source"`
}

// NewsItem is a normalized headline for a symbol.
type NewsItem struct {
	Symbol      string    `json:"symbol"`
	Headline    string    `json:"headline"`
	Summary     string    `json:"summary,omitempty"`
	URL         string    `json:"url,omitempty"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"publishedAt"`
}

// Periods accepted by GetPerformance.
var validPeriods = map[string]time.Duration{
	"1d": 24 * time.Hour,
	"1w": 7 * 24 * time.Hour,
	"1m": 30 * 24 * time.Hour,
	"3m": 90 * 24 * time.Hour,
	"1y": 365 * 24 * time.Hour,
	"5y": 5 * 365 * 24 * time.Hour,
}

// PeriodDuration resolves a performance period string to a duration.
func PeriodDuration(period string) (time.Duration, error) {
	d, ok := validPeriods[period]
	if !ok {
		return 0, fmt.Errorf("invalid period %q (want one of 1d, 1w, 1m, 3m, 1y, 5y)", period)
	}
	return d, nil
}

// NormalizeSymbol uppercases and trims a ticker.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// finishQuote enforces the change/changePercent relationship after an adapter
// has filled in raw fields.
func finishQuote(q *Quote) {
	if q.PreviousClose != 0 {
		q.Change = q.Price - q.PreviousClose
		q.ChangePercent = q.Change / q.PreviousClose * 100
	} else {
		q.Change = 0
		q.ChangePercent = 0
	}
	if q.Timestamp.IsZero() {
		q.Timestamp = time.Now()
	}
}

// sortCandles orders a series ascending by timestamp and drops duplicate
// buckets, keeping the first occurrence.
func sortCandles(candles []Candle) []Candle {
	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})
	out := candles[:0]
	var last time.Time
	for _, c := range candles {
		if len(out) > 0 && c.Timestamp.Equal(last) {
			continue
		}
		out = append(out, c)
		last = c.Timestamp
	}
	return out
}

// timeframeDuration maps a bar timeframe to its bucket width. Unknown
// timeframes fall back to daily bars.
func timeframeDuration(timeframe string) time.Duration {
	switch strings.ToUpper(strings.TrimSpace(timeframe)) {
	case "1MIN", "1":
		return time.Minute
	case "5MIN", "5":
		return 5 * time.Minute
	case "15MIN", "15":
		return 15 * time.Minute
	case "30MIN", "30":
		return 30 * time.Minute
	case "1H", "60":
		return time.Hour
	case "1W", "W":
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}
