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

// AlphaVantage adapts the Alpha Vantage REST API for quotes, symbol search
// and news sentiment. Responses use numbered keys ("05. price") and free-tier
// quota messages arrive as "Note"/"Information" fields in 200 bodies, which
// is why parsing goes through gjson rather than struct tags.
type AlphaVantage struct {
	apiKey  string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

func NewAlphaVantage(baseURL, apiKey string, client *http.Client, perMinute int) *AlphaVantage {
	return &AlphaVantage{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		limiter: newPacer(perMinute),
	}
}

func (a *AlphaVantage) Name() string { return "alphavantage" }

func (a *AlphaVantage) FetchQuote(ctx context.Context, symbol string) (*Quote, error) {
	u := fmt.Sprintf("%s/query?function=GLOBAL_QUOTE&symbol=%s&apikey=%s",
		a.baseURL, url.QueryEscape(symbol), a.apiKey)

	body, err := a.get(ctx, symbol, u)
	if err != nil {
		return nil, err
	}

	gq := gjson.GetBytes(body, "Global Quote")
	if !gq.Exists() || len(gq.Map()) == 0 {
		return nil, newNoDataError(a.Name(), symbol, "empty Global Quote")
	}

	q := &Quote{
		Symbol:        symbol,
		Price:         gq.Get("05\\. price").Float(),
		Open:          gq.Get("02\\. open").Float(),
		High:          gq.Get("03\\. high").Float(),
		Low:           gq.Get("04\\. low").Float(),
		Volume:        gq.Get("06\\. volume").Int(),
		PreviousClose: gq.Get("08\\. previous close").Float(),
		Timestamp:     time.Now(),
		Source:        a.Name(),
	}
	if q.Price == 0 {
		return nil, newNoDataError(a.Name(), symbol, "zero price in Global Quote")
	}
	finishQuote(q)
	return q, nil
}

func (a *AlphaVantage) SearchSymbols(ctx context.Context, query string) ([]SearchResult, error) {
	u := fmt.Sprintf("%s/query?function=SYMBOL_SEARCH&keywords=%s&apikey=%s",
		a.baseURL, url.QueryEscape(query), a.apiKey)

	body, err := a.get(ctx, query, u)
	if err != nil {
		return nil, err
	}

	matches := gjson.GetBytes(body, "bestMatches")
	if !matches.Exists() || len(matches.Array()) == 0 {
		return nil, newNoDataError(a.Name(), query, "no matches")
	}

	out := make([]SearchResult, 0, len(matches.Array()))
	for _, m := range matches.Array() {
		out = append(out, SearchResult{
			Symbol:         m.Get("1\\. symbol").String(),
			Name:           m.Get("2\\. name").String(),
			Type:           strings.ToLower(m.Get("3\\. type").String()),
			Market:         m.Get("4\\. region").String(),
			CurrencySymbol: "$",
		})
	}
	return out, nil
}

func (a *AlphaVantage) FetchNews(ctx context.Context, symbol string) ([]NewsItem, error) {
	u := fmt.Sprintf("%s/query?function=NEWS_SENTIMENT&tickers=%s&apikey=%s",
		a.baseURL, url.QueryEscape(symbol), a.apiKey)

	body, err := a.get(ctx, symbol, u)
	if err != nil {
		return nil, err
	}

	feed := gjson.GetBytes(body, "feed")
	if !feed.Exists() || len(feed.Array()) == 0 {
		return nil, newNoDataError(a.Name(), symbol, "empty news feed")
	}

	out := make([]NewsItem, 0, len(feed.Array()))
	for _, item := range feed.Array() {
		published, _ := time.Parse("20060102T150405", item.Get("time_published").String())
		out = append(out, NewsItem{
			Symbol:      symbol,
			Headline:    item.Get("title").String(),
			Summary:     item.Get("summary").String(),
			URL:         item.Get("url").String(),
			Source:      item.Get("source").String(),
			PublishedAt: published,
		})
		if len(out) >= 20 {
			break
		}
	}
	return out, nil
}

func (a *AlphaVantage) get(ctx context.Context, symbol, u string) ([]byte, error) {
	status, body, err := httpGet(ctx, a.client, a.limiter, a.Name(), symbol, u, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, newProviderError(a.Name(), symbol, fmt.Sprintf("HTTP %d", status), nil)
	}
	// "Note" and "Information" are how the free tier says "slow down".
	if note := gjson.GetBytes(body, "Note").String(); note != "" {
		return nil, newRateLimitError(a.Name(), symbol, note, 0)
	}
	if info := gjson.GetBytes(body, "Information").String(); info != "" {
		return nil, newRateLimitError(a.Name(), symbol, info, 0)
	}
	if msg := gjson.GetBytes(body, "Error Message").String(); msg != "" {
		return nil, newProviderError(a.Name(), symbol, msg, nil)
	}
	return body, nil
}
