package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"stockboard/internal/cache"
	"stockboard/internal/config"
	"stockboard/internal/marketdata"
	"stockboard/internal/observ"
	"stockboard/internal/ratelimit"
	"stockboard/internal/server"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		observ.Log("config_load_error", map[string]any{"path": *configPath, "error": err.Error()})
		os.Exit(1)
	}

	store, sqliteStore := buildCache(cfg)
	if sqliteStore != nil {
		defer sqliteStore.Close()
	}

	tracker := ratelimit.NewTracker(time.Duration(cfg.CooldownSeconds) * time.Second)
	svc := buildService(cfg, store, tracker)

	c := cron.New()
	if len(cfg.Watchlist) > 0 {
		_, err := c.AddFunc(cfg.Refresh.WatchlistCron, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			quotes := svc.GetQuotes(ctx, cfg.Watchlist)
			fresh := 0
			for _, q := range quotes {
				if q != nil && q.Source != "mock" {
					fresh++
				}
			}
			observ.SetGauge("watchlist_fresh_quotes", float64(fresh), nil)
			observ.Log("watchlist_refreshed", map[string]any{
				"symbols": len(cfg.Watchlist), "fresh": fresh,
			})
		})
		if err != nil {
			observ.Log("cron_schedule_error", map[string]any{"job": "watchlist", "error": err.Error()})
			os.Exit(1)
		}
	}
	if sqliteStore != nil {
		if _, err := c.AddFunc(cfg.Refresh.CleanupCron, sqliteStore.Cleanup); err != nil {
			observ.Log("cron_schedule_error", map[string]any{"job": "cache_cleanup", "error": err.Error()})
			os.Exit(1)
		}
	}
	c.Start()
	defer c.Stop()

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server.New(svc),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		observ.Log("server_listening", map[string]any{"addr": cfg.ListenAddr})
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		observ.Log("server_shutdown", map[string]any{"signal": sig.String()})
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			observ.Log("server_shutdown_error", map[string]any{"error": err.Error()})
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			observ.Log("server_error", map[string]any{"error": err.Error()})
			os.Exit(1)
		}
	}
}

// buildCache selects the configured backend, falling back to memory when the
// SQLite store cannot be opened.
func buildCache(cfg config.Root) (cache.Store, *cache.SQLite) {
	if cfg.Cache.Backend != "sqlite" {
		return cache.NewMemory(), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Cache.SQLitePath), 0o755); err != nil {
		observ.Log("cache_dir_error", map[string]any{"error": err.Error()})
		return cache.NewMemory(), nil
	}
	s, err := cache.NewSQLite(cfg.Cache.SQLitePath)
	if err != nil {
		observ.Log("cache_sqlite_open_error", map[string]any{
			"path": cfg.Cache.SQLitePath, "error": err.Error(),
		})
		return cache.NewMemory(), nil
	}
	observ.Log("cache_backend", map[string]any{"backend": "sqlite", "path": cfg.Cache.SQLitePath})
	return s, s
}

// buildService constructs adapters for every provider with credentials and
// assembles the per-operation chains in configured priority order. Providers
// without keys are skipped with a log line; with no providers at all the
// facade still works, serving mock data.
func buildService(cfg config.Root, store cache.Store, tracker *ratelimit.Tracker) *marketdata.Service {
	client := &http.Client{Timeout: time.Duration(cfg.HTTPTimeoutSeconds) * time.Second}
	perMin := cfg.RateLimitPerMinute

	var polygon *marketdata.Polygon
	if cfg.Keys.PolygonAPIKey != "" {
		polygon = marketdata.NewPolygon(cfg.URLs.PolygonBaseURL, cfg.Keys.PolygonAPIKey, client, perMin)
	} else {
		observ.Log("provider_disabled", map[string]any{"provider": "polygon", "reason": "no API key"})
	}
	var finnhub *marketdata.Finnhub
	if cfg.Keys.FinnhubAPIKey != "" {
		finnhub = marketdata.NewFinnhub(cfg.URLs.FinnhubBaseURL, cfg.Keys.FinnhubAPIKey, client, perMin)
	} else {
		observ.Log("provider_disabled", map[string]any{"provider": "finnhub", "reason": "no API key"})
	}
	var alphavantage *marketdata.AlphaVantage
	if cfg.Keys.AlphaVantageAPIKey != "" {
		alphavantage = marketdata.NewAlphaVantage(cfg.URLs.AlphaVantageBaseURL, cfg.Keys.AlphaVantageAPIKey, client, perMin)
	} else {
		observ.Log("provider_disabled", map[string]any{"provider": "alphavantage", "reason": "no API key"})
	}
	var alpaca *marketdata.Alpaca
	if cfg.Keys.AlpacaAPIKey != "" && cfg.Keys.AlpacaAPISecret != "" {
		alpaca = marketdata.NewAlpaca(cfg.URLs.AlpacaDataURL, cfg.Keys.AlpacaAPIKey, cfg.Keys.AlpacaAPISecret, client, perMin)
	} else {
		observ.Log("provider_disabled", map[string]any{"provider": "alpaca", "reason": "no API key"})
	}

	opts := marketdata.Options{
		Cache:   store,
		Tracker: tracker,
		TTL: marketdata.TTL{
			Quote:       time.Duration(cfg.Cache.TTL.QuoteSeconds) * time.Second,
			Candles:     time.Duration(cfg.Cache.TTL.CandlesSeconds) * time.Second,
			Search:      time.Duration(cfg.Cache.TTL.SearchSeconds) * time.Second,
			News:        time.Duration(cfg.Cache.TTL.NewsSeconds) * time.Second,
			Performance: time.Duration(cfg.Cache.TTL.PerformanceSeconds) * time.Second,
		},
		BatchSize:  cfg.Batch.Size,
		BatchDelay: time.Duration(cfg.Batch.DelayMs) * time.Millisecond,
	}

	for _, name := range cfg.QuoteOrder {
		switch {
		case name == "polygon" && polygon != nil:
			opts.QuoteProviders = append(opts.QuoteProviders, polygon)
		case name == "finnhub" && finnhub != nil:
			opts.QuoteProviders = append(opts.QuoteProviders, finnhub)
		case name == "alphavantage" && alphavantage != nil:
			opts.QuoteProviders = append(opts.QuoteProviders, alphavantage)
		case name == "alpaca" && alpaca != nil:
			opts.QuoteProviders = append(opts.QuoteProviders, alpaca)
		}
	}
	for _, name := range cfg.CandleOrder {
		switch {
		case name == "alpaca" && alpaca != nil:
			opts.CandleProviders = append(opts.CandleProviders, alpaca)
		case name == "finnhub" && finnhub != nil:
			opts.CandleProviders = append(opts.CandleProviders, finnhub)
		case name == "polygon" && polygon != nil:
			opts.CandleProviders = append(opts.CandleProviders, polygon)
		}
	}
	for _, name := range cfg.SearchOrder {
		switch {
		case name == "polygon" && polygon != nil:
			opts.SearchProviders = append(opts.SearchProviders, polygon)
		case name == "finnhub" && finnhub != nil:
			opts.SearchProviders = append(opts.SearchProviders, finnhub)
		case name == "alphavantage" && alphavantage != nil:
			opts.SearchProviders = append(opts.SearchProviders, alphavantage)
		}
	}
	for _, name := range cfg.NewsOrder {
		switch {
		case name == "alphavantage" && alphavantage != nil:
			opts.NewsProviders = append(opts.NewsProviders, alphavantage)
		case name == "finnhub" && finnhub != nil:
			opts.NewsProviders = append(opts.NewsProviders, finnhub)
		}
	}

	observ.Log("service_ready", map[string]any{
		"quote_providers":  len(opts.QuoteProviders),
		"candle_providers": len(opts.CandleProviders),
		"search_providers": len(opts.SearchProviders),
		"news_providers":   len(opts.NewsProviders),
	})
	return marketdata.NewService(opts)
}
