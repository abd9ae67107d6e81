package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type ProviderKeys struct {
	PolygonAPIKey      string `yaml:"polygon_api_key"`
	FinnhubAPIKey      string `yaml:"finnhub_api_key"`
	AlphaVantageAPIKey string `yaml:"alphavantage_api_key"`
	AlpacaAPIKey       string `yaml:"alpaca_api_key"`
	AlpacaAPISecret    string `yaml:"alpaca_api_secret"`
}

type ProviderURLs struct {
	PolygonBaseURL      string `yaml:"polygon_base_url"`
	FinnhubBaseURL      string `yaml:"finnhub_base_url"`
	AlphaVantageBaseURL string `yaml:"alphavantage_base_url"`
	AlpacaDataURL       string `yaml:"alpaca_data_url"`
}

type CacheTTL struct {
	QuoteSeconds       int `yaml:"quote_seconds"`
	CandlesSeconds     int `yaml:"candles_seconds"`
	SearchSeconds      int `yaml:"search_seconds"`
	NewsSeconds        int `yaml:"news_seconds"`
	PerformanceSeconds int `yaml:"performance_seconds"`
}

type Cache struct {
	Backend    string   `yaml:"backend"` // memory | sqlite
	SQLitePath string   `yaml:"sqlite_path"`
	TTL        CacheTTL `yaml:"ttl"`
}

type Batch struct {
	Size    int `yaml:"size"`
	DelayMs int `yaml:"delay_ms"`
}

type Refresh struct {
	WatchlistCron string `yaml:"watchlist_cron"`
	CleanupCron   string `yaml:"cleanup_cron"`
}

type Root struct {
	ListenAddr         string       `yaml:"listen_addr"`
	HTTPTimeoutSeconds int          `yaml:"http_timeout_seconds"`
	CooldownSeconds    int          `yaml:"cooldown_seconds"`
	RateLimitPerMinute int          `yaml:"rate_limit_per_minute"`
	Keys               ProviderKeys `yaml:"keys"`
	URLs               ProviderURLs `yaml:"urls"`
	Cache              Cache        `yaml:"cache"`
	Batch              Batch        `yaml:"batch"`
	QuoteOrder         []string     `yaml:"quote_order"`
	CandleOrder        []string     `yaml:"candle_order"`
	SearchOrder        []string     `yaml:"search_order"`
	NewsOrder          []string     `yaml:"news_order"`
	Watchlist          []string     `yaml:"watchlist"`
	Refresh            Refresh      `yaml:"refresh"`
}

// Load reads config from a YAML file, applies environment variable overrides
// for credentials, then fills in defaults for anything left unset.
func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return c, err
	}
	if len(b) > 0 {
		if err := yaml.Unmarshal(b, &c); err != nil {
			return c, err
		}
	}

	if v := os.Getenv("POLYGON_API_KEY"); v != "" {
		c.Keys.PolygonAPIKey = v
	}
	if v := os.Getenv("FINNHUB_API_KEY"); v != "" {
		c.Keys.FinnhubAPIKey = v
	}
	if v := os.Getenv("ALPHA_VANTAGE_API_KEY"); v != "" {
		c.Keys.AlphaVantageAPIKey = v
	}
	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		c.Keys.AlpacaAPIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		c.Keys.AlpacaAPISecret = v
	}

	applyDefaults(&c)
	return c, nil
}

func applyDefaults(c *Root) {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.HTTPTimeoutSeconds == 0 {
		c.HTTPTimeoutSeconds = 8
	}
	if c.CooldownSeconds == 0 {
		c.CooldownSeconds = 60
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 60
	}

	if c.URLs.PolygonBaseURL == "" {
		c.URLs.PolygonBaseURL = "https://api.polygon.io"
	}
	if c.URLs.FinnhubBaseURL == "" {
		c.URLs.FinnhubBaseURL = "https://finnhub.io/api/v1"
	}
	if c.URLs.AlphaVantageBaseURL == "" {
		c.URLs.AlphaVantageBaseURL = "https://www.alphavantage.co"
	}
	if c.URLs.AlpacaDataURL == "" {
		c.URLs.AlpacaDataURL = "https://data.alpaca.markets/v2"
	}

	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Cache.SQLitePath == "" {
		c.Cache.SQLitePath = "data/cache.db"
	}
	if c.Cache.TTL.QuoteSeconds == 0 {
		c.Cache.TTL.QuoteSeconds = 60
	}
	if c.Cache.TTL.CandlesSeconds == 0 {
		c.Cache.TTL.CandlesSeconds = 300
	}
	if c.Cache.TTL.SearchSeconds == 0 {
		c.Cache.TTL.SearchSeconds = 3600
	}
	if c.Cache.TTL.NewsSeconds == 0 {
		c.Cache.TTL.NewsSeconds = 900
	}
	if c.Cache.TTL.PerformanceSeconds == 0 {
		c.Cache.TTL.PerformanceSeconds = 300
	}

	if c.Batch.Size == 0 {
		c.Batch.Size = 5
	}
	if c.Batch.DelayMs == 0 {
		c.Batch.DelayMs = 250
	}

	if len(c.QuoteOrder) == 0 {
		c.QuoteOrder = []string{"polygon", "finnhub", "alphavantage", "alpaca"}
	}
	if len(c.CandleOrder) == 0 {
		c.CandleOrder = []string{"alpaca", "finnhub", "polygon"}
	}
	if len(c.SearchOrder) == 0 {
		c.SearchOrder = []string{"polygon", "finnhub", "alphavantage"}
	}
	if len(c.NewsOrder) == 0 {
		c.NewsOrder = []string{"alphavantage", "finnhub"}
	}

	if c.Refresh.WatchlistCron == "" {
		c.Refresh.WatchlistCron = "@every 2m"
	}
	if c.Refresh.CleanupCron == "" {
		c.Refresh.CleanupCron = "@every 10m"
	}
}
