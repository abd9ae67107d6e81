package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Finnhub adapts the Finnhub REST API for quotes, candles, search and
// company news.
type Finnhub struct {
	token   string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

func NewFinnhub(baseURL, token string, client *http.Client, perMinute int) *Finnhub {
	return &Finnhub{
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		limiter: newPacer(perMinute),
	}
}

func (f *Finnhub) Name() string { return "finnhub" }

func (f *Finnhub) FetchQuote(ctx context.Context, symbol string) (*Quote, error) {
	u := fmt.Sprintf("%s/quote?symbol=%s&token=%s", f.baseURL, url.QueryEscape(symbol), f.token)

	body, err := f.get(ctx, symbol, u)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Current       float64 `json:"c"`
		High          float64 `json:"h"`
		Low           float64 `json:"l"`
		Open          float64 `json:"o"`
		PreviousClose float64 `json:"pc"`
		Volume        int64   `json:"v"`
		Timestamp     int64   `json:"t"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, newProviderError(f.Name(), symbol, "failed to parse quote", err)
	}

	// Finnhub answers unknown symbols with an all-zero quote body.
	if resp.Current == 0 && resp.PreviousClose == 0 {
		return nil, newNoDataError(f.Name(), symbol, "no quote data returned")
	}

	q := &Quote{
		Symbol:        symbol,
		Price:         resp.Current,
		High:          resp.High,
		Low:           resp.Low,
		Open:          resp.Open,
		PreviousClose: resp.PreviousClose,
		Volume:        resp.Volume,
		Timestamp:     time.Unix(resp.Timestamp, 0),
		Source:        f.Name(),
	}
	finishQuote(q)
	return q, nil
}

func (f *Finnhub) FetchCandles(ctx context.Context, symbol, timeframe string, start, end time.Time, limit int) ([]Candle, error) {
	u := fmt.Sprintf("%s/stock/candle?symbol=%s&resolution=%s&from=%d&to=%d&token=%s",
		f.baseURL, url.QueryEscape(symbol), finnhubResolution(timeframe), start.Unix(), end.Unix(), f.token)

	body, err := f.get(ctx, symbol, u)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Status     string    `json:"s"`
		Timestamps []int64   `json:"t"`
		Opens      []float64 `json:"o"`
		Highs      []float64 `json:"h"`
		Lows       []float64 `json:"l"`
		Closes     []float64 `json:"c"`
		Volumes    []int64   `json:"v"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, newProviderError(f.Name(), symbol, "failed to parse candles", err)
	}
	if resp.Status == "no_data" || len(resp.Timestamps) == 0 {
		return nil, newNoDataError(f.Name(), symbol, "no candles in range")
	}
	if resp.Status != "ok" {
		return nil, newProviderError(f.Name(), symbol, "candle status "+resp.Status, nil)
	}

	candles := make([]Candle, 0, len(resp.Timestamps))
	for i, ts := range resp.Timestamps {
		if i >= len(resp.Opens) || i >= len(resp.Highs) || i >= len(resp.Lows) || i >= len(resp.Closes) {
			break
		}
		var vol int64
		if i < len(resp.Volumes) {
			vol = resp.Volumes[i]
		}
		candles = append(candles, Candle{
			Timestamp: time.Unix(ts, 0),
			Open:      resp.Opens[i],
			High:      resp.Highs[i],
			Low:       resp.Lows[i],
			Close:     resp.Closes[i],
			Volume:    vol,
		})
		if limit > 0 && len(candles) >= limit {
			break
		}
	}
	return candles, nil
}

func (f *Finnhub) SearchSymbols(ctx context.Context, query string) ([]SearchResult, error) {
	u := fmt.Sprintf("%s/search?q=%s&token=%s", f.baseURL, url.QueryEscape(query), f.token)

	body, err := f.get(ctx, query, u)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Count  int `json:"count"`
		Result []struct {
			Symbol      string `json:"symbol"`
			Description string `json:"description"`
			Type        string `json:"type"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, newProviderError(f.Name(), query, "failed to parse search response", err)
	}
	if resp.Count == 0 || len(resp.Result) == 0 {
		return nil, newNoDataError(f.Name(), query, "no symbols matched")
	}

	out := make([]SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		out = append(out, SearchResult{
			Symbol:         r.Symbol,
			Name:           r.Description,
			Type:           strings.ToLower(r.Type),
			CurrencySymbol: "$",
		})
		if len(out) >= 15 {
			break
		}
	}
	return out, nil
}

func (f *Finnhub) FetchNews(ctx context.Context, symbol string) ([]NewsItem, error) {
	to := time.Now()
	from := to.AddDate(0, 0, -7)
	u := fmt.Sprintf("%s/company-news?symbol=%s&from=%s&to=%s&token=%s",
		f.baseURL, url.QueryEscape(symbol), from.Format("2006-01-02"), to.Format("2006-01-02"), f.token)

	body, err := f.get(ctx, symbol, u)
	if err != nil {
		return nil, err
	}

	var items []struct {
		Datetime int64  `json:"datetime"`
		Headline string `json:"headline"`
		Summary  string `json:"summary"`
		URL      string `json:"url"`
		Source   string `json:"source"`
	}
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, newProviderError(f.Name(), symbol, "failed to parse news", err)
	}
	if len(items) == 0 {
		return nil, newNoDataError(f.Name(), symbol, "no recent news")
	}

	out := make([]NewsItem, 0, len(items))
	for _, item := range items {
		out = append(out, NewsItem{
			Symbol:      symbol,
			Headline:    item.Headline,
			Summary:     item.Summary,
			URL:         item.URL,
			Source:      item.Source,
			PublishedAt: time.Unix(item.Datetime, 0),
		})
		if len(out) >= 20 {
			break
		}
	}
	return out, nil
}

func (f *Finnhub) get(ctx context.Context, symbol, u string) ([]byte, error) {
	status, body, err := httpGet(ctx, f.client, f.limiter, f.Name(), symbol, u, nil)
	if err != nil {
		return nil, err
	}
	// The free tier occasionally reports exhaustion in a 200 body.
	if strings.Contains(string(body), "API limit reached") {
		return nil, newRateLimitError(f.Name(), symbol, "API limit reached", 0)
	}
	if status != http.StatusOK {
		return nil, newProviderError(f.Name(), symbol, fmt.Sprintf("HTTP %d", status), nil)
	}
	return body, nil
}

func finnhubResolution(timeframe string) string {
	switch strings.ToUpper(strings.TrimSpace(timeframe)) {
	case "1MIN", "1":
		return "1"
	case "5MIN", "5":
		return "5"
	case "15MIN", "15":
		return "15"
	case "30MIN", "30":
		return "30"
	case "1H", "60":
		return "60"
	case "1W", "W":
		return "W"
	default:
		return "D"
	}
}
