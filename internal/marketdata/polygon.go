package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// Polygon adapts the Polygon.io REST API for quotes, candles and symbol
// search. The free tier signals exhaustion both with HTTP 429 and with an
// error message embedded in a 200 body, so both paths are checked.
type Polygon struct {
	apiKey  string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

func NewPolygon(baseURL, apiKey string, client *http.Client, perMinute int) *Polygon {
	return &Polygon{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		limiter: newPacer(perMinute),
	}
}

func (p *Polygon) Name() string { return "polygon" }

func (p *Polygon) FetchQuote(ctx context.Context, symbol string) (*Quote, error) {
	u := fmt.Sprintf("%s/v2/aggs/ticker/%s/prev?adjusted=true&apiKey=%s",
		p.baseURL, url.PathEscape(symbol), p.apiKey)

	body, err := p.get(ctx, symbol, u)
	if err != nil {
		return nil, err
	}

	results := gjson.GetBytes(body, "results")
	if !results.Exists() || len(results.Array()) == 0 {
		return nil, newNoDataError(p.Name(), symbol, "no previous-day aggregate")
	}
	bar := results.Array()[0]

	q := &Quote{
		Symbol: symbol,
		Price:  bar.Get("c").Float(),
		Open:   bar.Get("o").Float(),
		High:   bar.Get("h").Float(),
		Low:    bar.Get("l").Float(),
		// The prev-day aggregate carries no earlier close, so the day
		// change is measured from the open.
		PreviousClose: bar.Get("o").Float(),
		Volume:        bar.Get("v").Int(),
		Timestamp:     time.UnixMilli(bar.Get("t").Int()),
		Source:        p.Name(),
	}
	if q.Price == 0 {
		return nil, newNoDataError(p.Name(), symbol, "zero close in aggregate")
	}
	finishQuote(q)
	return q, nil
}

func (p *Polygon) FetchCandles(ctx context.Context, symbol, timeframe string, start, end time.Time, limit int) ([]Candle, error) {
	mult, span := polygonRange(timeframe)
	u := fmt.Sprintf("%s/v2/aggs/ticker/%s/range/%d/%s/%d/%d?adjusted=true&sort=asc&limit=%d&apiKey=%s",
		p.baseURL, url.PathEscape(symbol), mult, span, start.UnixMilli(), end.UnixMilli(), limit, p.apiKey)

	body, err := p.get(ctx, symbol, u)
	if err != nil {
		return nil, err
	}

	results := gjson.GetBytes(body, "results")
	if !results.Exists() || len(results.Array()) == 0 {
		return nil, newNoDataError(p.Name(), symbol, "no aggregates in range")
	}

	candles := make([]Candle, 0, len(results.Array()))
	for _, bar := range results.Array() {
		candles = append(candles, Candle{
			Timestamp: time.UnixMilli(bar.Get("t").Int()),
			Open:      bar.Get("o").Float(),
			High:      bar.Get("h").Float(),
			Low:       bar.Get("l").Float(),
			Close:     bar.Get("c").Float(),
			Volume:    bar.Get("v").Int(),
		})
	}
	return candles, nil
}

func (p *Polygon) SearchSymbols(ctx context.Context, query string) ([]SearchResult, error) {
	u := fmt.Sprintf("%s/v3/reference/tickers?search=%s&active=true&sort=ticker&order=asc&limit=10&apiKey=%s",
		p.baseURL, url.QueryEscape(query), p.apiKey)

	body, err := p.get(ctx, query, u)
	if err != nil {
		return nil, err
	}

	results := gjson.GetBytes(body, "results")
	if !results.Exists() || len(results.Array()) == 0 {
		return nil, newNoDataError(p.Name(), query, "no tickers matched")
	}

	out := make([]SearchResult, 0, len(results.Array()))
	for _, item := range results.Array() {
		out = append(out, SearchResult{
			Symbol:         item.Get("ticker").String(),
			Name:           item.Get("name").String(),
			Type:           strings.ToLower(item.Get("type").String()),
			Market:         item.Get("market").String(),
			CurrencySymbol: "$",
		})
	}
	return out, nil
}

// get wraps httpGet with Polygon's body-level error conventions.
func (p *Polygon) get(ctx context.Context, symbol, u string) ([]byte, error) {
	status, body, err := httpGet(ctx, p.client, p.limiter, p.Name(), symbol, u, nil)
	if err != nil {
		return nil, err
	}

	// Free-tier quota messages arrive with assorted statuses; the text is
	// the reliable signal.
	if msg := gjson.GetBytes(body, "error").String(); strings.Contains(msg, "exceeded the maximum requests") {
		return nil, newRateLimitError(p.Name(), symbol, msg, 0)
	}
	if status != http.StatusOK {
		return nil, newProviderError(p.Name(), symbol, fmt.Sprintf("HTTP %d", status), nil)
	}
	if s := gjson.GetBytes(body, "status").String(); s == "ERROR" {
		return nil, newProviderError(p.Name(), symbol, gjson.GetBytes(body, "error").String(), nil)
	}
	return body, nil
}

func polygonRange(timeframe string) (int, string) {
	switch strings.ToUpper(strings.TrimSpace(timeframe)) {
	case "1MIN", "1":
		return 1, "minute"
	case "5MIN", "5":
		return 5, "minute"
	case "15MIN", "15":
		return 15, "minute"
	case "30MIN", "30":
		return 30, "minute"
	case "1H", "60":
		return 1, "hour"
	case "1W", "W":
		return 1, "week"
	default:
		return 1, "day"
	}
}
