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

// Alpaca adapts the Alpaca Market Data API for quotes and candles. Auth is
// header-based rather than a query token.
type Alpaca struct {
	apiKey    string
	apiSecret string
	dataURL   string
	client    *http.Client
	limiter   *rate.Limiter
}

func NewAlpaca(dataURL, apiKey, apiSecret string, client *http.Client, perMinute int) *Alpaca {
	return &Alpaca{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		dataURL:   strings.TrimRight(dataURL, "/"),
		client:    client,
		limiter:   newPacer(perMinute),
	}
}

func (al *Alpaca) Name() string { return "alpaca" }

func (al *Alpaca) headers() map[string]string {
	return map[string]string{
		"APCA-API-KEY-ID":     al.apiKey,
		"APCA-API-SECRET-KEY": al.apiSecret,
	}
}

func (al *Alpaca) FetchQuote(ctx context.Context, symbol string) (*Quote, error) {
	// The snapshot endpoint bundles latest trade, today's bar and the prior
	// close, saving the second request the quotes/latest endpoint needs.
	u := fmt.Sprintf("%s/stocks/%s/snapshot", al.dataURL, url.PathEscape(symbol))

	body, err := al.get(ctx, symbol, u)
	if err != nil {
		return nil, err
	}

	var resp struct {
		LatestTrade struct {
			Price     float64   `json:"p"`
			Timestamp time.Time `json:"t"`
		} `json:"latestTrade"`
		DailyBar struct {
			Open   float64 `json:"o"`
			High   float64 `json:"h"`
			Low    float64 `json:"l"`
			Close  float64 `json:"c"`
			Volume int64   `json:"v"`
		} `json:"dailyBar"`
		PrevDailyBar struct {
			Close float64 `json:"c"`
		} `json:"prevDailyBar"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, newProviderError(al.Name(), symbol, "failed to parse snapshot", err)
	}

	price := resp.LatestTrade.Price
	if price == 0 {
		price = resp.DailyBar.Close
	}
	if price == 0 {
		return nil, newNoDataError(al.Name(), symbol, "empty snapshot")
	}

	q := &Quote{
		Symbol:        symbol,
		Price:         price,
		Open:          resp.DailyBar.Open,
		High:          resp.DailyBar.High,
		Low:           resp.DailyBar.Low,
		PreviousClose: resp.PrevDailyBar.Close,
		Volume:        resp.DailyBar.Volume,
		Timestamp:     resp.LatestTrade.Timestamp,
		Source:        al.Name(),
	}
	finishQuote(q)
	return q, nil
}

func (al *Alpaca) FetchCandles(ctx context.Context, symbol, timeframe string, start, end time.Time, limit int) ([]Candle, error) {
	u := fmt.Sprintf("%s/stocks/%s/bars?timeframe=%s&start=%s&end=%s&limit=%d",
		al.dataURL, url.PathEscape(symbol), alpacaTimeframe(timeframe),
		url.QueryEscape(start.UTC().Format(time.RFC3339)),
		url.QueryEscape(end.UTC().Format(time.RFC3339)), limit)

	body, err := al.get(ctx, symbol, u)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Bars []struct {
			Timestamp time.Time `json:"t"`
			Open      float64   `json:"o"`
			High      float64   `json:"h"`
			Low       float64   `json:"l"`
			Close     float64   `json:"c"`
			Volume    int64     `json:"v"`
		} `json:"bars"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, newProviderError(al.Name(), symbol, "failed to parse bars", err)
	}
	if len(resp.Bars) == 0 {
		return nil, newNoDataError(al.Name(), symbol, "no bars in range")
	}

	candles := make([]Candle, 0, len(resp.Bars))
	for _, b := range resp.Bars {
		candles = append(candles, Candle{
			Timestamp: b.Timestamp,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}
	return candles, nil
}

func (al *Alpaca) get(ctx context.Context, symbol, u string) ([]byte, error) {
	status, body, err := httpGet(ctx, al.client, al.limiter, al.Name(), symbol, u, al.headers())
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusOK:
		return body, nil
	case status == http.StatusNotFound:
		return nil, newNoDataError(al.Name(), symbol, "symbol not found")
	case status == http.StatusForbidden && strings.Contains(string(body), "subscription does not permit"):
		// SIP data gate on the free tier; usable for other symbols, so
		// this is a plain provider failure rather than a cooldown.
		return nil, newProviderError(al.Name(), symbol, "subscription does not permit", nil)
	default:
		return nil, newProviderError(al.Name(), symbol, fmt.Sprintf("HTTP %d", status), nil)
	}
}

func alpacaTimeframe(timeframe string) string {
	switch strings.ToUpper(strings.TrimSpace(timeframe)) {
	case "1MIN", "1":
		return "1Min"
	case "5MIN", "5":
		return "5Min"
	case "15MIN", "15":
		return "15Min"
	case "30MIN", "30":
		return "30Min"
	case "1H", "60":
		return "1Hour"
	case "1W", "W":
		return "1Week"
	default:
		return "1Day"
	}
}
