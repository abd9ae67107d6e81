package marketdata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAlphaVantageTest(t *testing.T, handler http.HandlerFunc) *AlphaVantage {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAlphaVantage(srv.URL, "test-key", srv.Client(), 600)
}

func TestAlphaVantageFetchQuote_ParsesNumberedKeys(t *testing.T) {
	a := newAlphaVantageTest(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GLOBAL_QUOTE", r.URL.Query().Get("function"))
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
		w.Write([]byte(`{
			"Global Quote": {
				"01. symbol": "AAPL",
				"02. open": "187.0000",
				"03. high": "189.2000",
				"04. low": "186.1000",
				"05. price": "188.5000",
				"06. volume": "52000000",
				"08. previous close": "186.0000"
			}
		}`))
	})

	q, err := a.FetchQuote(context.Background(), "AAPL")
	require.NoError(t, err)

	assert.Equal(t, "alphavantage", q.Source)
	assert.InDelta(t, 188.5, q.Price, 1e-9)
	assert.InDelta(t, 186.0, q.PreviousClose, 1e-9)
	assert.InDelta(t, 2.5, q.Change, 1e-9)
	assert.InDelta(t, 2.5/186*100, q.ChangePercent, 1e-9)
	assert.Equal(t, int64(52000000), q.Volume)
}

func TestAlphaVantageFetchQuote_EmptyGlobalQuoteIsNoData(t *testing.T) {
	a := newAlphaVantageTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Global Quote": {}}`))
	})

	_, err := a.FetchQuote(context.Background(), "NOPE")
	require.Error(t, err)

	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, errNoData, pe.Kind)
}

func TestAlphaVantageGet_NoteAndInformationAreRateLimits(t *testing.T) {
	bodies := []string{
		`{"Note": "Thank you for using Alpha Vantage! Our standard API call frequency is 5 calls per minute."}`,
		`{"Information": "API rate limit exceeded."}`,
	}
	for _, body := range bodies {
		a := newAlphaVantageTest(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		})
		_, err := a.FetchQuote(context.Background(), "AAPL")
		require.Error(t, err)
		_, ok := asRateLimit(err)
		assert.True(t, ok, "body %s must classify as rate limit", body)
	}
}

func TestAlphaVantageGet_ErrorMessageIsProviderError(t *testing.T) {
	a := newAlphaVantageTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Error Message": "Invalid API call."}`))
	})

	_, err := a.FetchQuote(context.Background(), "AAPL")
	require.Error(t, err)

	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, errProvider, pe.Kind)
}

func TestAlphaVantageSearchSymbols_ParsesBestMatches(t *testing.T) {
	a := newAlphaVantageTest(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "SYMBOL_SEARCH", r.URL.Query().Get("function"))
		w.Write([]byte(`{
			"bestMatches": [
				{"1. symbol": "AAPL", "2. name": "Apple Inc", "3. type": "Equity", "4. region": "United States"}
			]
		}`))
	})

	results, err := a.SearchSymbols(context.Background(), "apple")
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "AAPL", results[0].Symbol)
	assert.Equal(t, "Apple Inc", results[0].Name)
	assert.Equal(t, "equity", results[0].Type)
	assert.Equal(t, "United States", results[0].Market)
}

func TestAlphaVantageFetchNews_ParsesFeed(t *testing.T) {
	a := newAlphaVantageTest(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "NEWS_SENTIMENT", r.URL.Query().Get("function"))
		w.Write([]byte(`{
			"feed": [
				{"title": "Apple ships results", "summary": "Quarterly numbers.", "url": "https://example.com/1", "source": "Reuters", "time_published": "20250602T143000"}
			]
		}`))
	})

	items, err := a.FetchNews(context.Background(), "AAPL")
	require.NoError(t, err)

	require.Len(t, items, 1)
	assert.Equal(t, "Apple ships results", items[0].Headline)
	assert.Equal(t, 2025, items[0].PublishedAt.Year())
	assert.Equal(t, 14, items[0].PublishedAt.Hour())
}
