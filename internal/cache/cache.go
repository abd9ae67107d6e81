// Package cache provides the key-value cache behind the market data layer.
// Two backends exist: an in-process map for development and a durable SQLite
// store. Backend failures degrade to cache misses, never to request failures.
package cache

import (
	"sort"
	"strings"
	"time"
)

// Store is the cache contract consumed by the market data service.
type Store interface {
	// Get returns the cached value for key, or ok=false if the key is
	// absent, expired, or the backend failed.
	Get(key string) (value []byte, ok bool)
	// Set stores value under key with the given TTL, overwriting any
	// existing entry.
	Set(key string, value []byte, ttl time.Duration)
	Delete(key string)
}

// Key builds a deterministic cache key from an operation name and its
// parameters: "stock_api:quote:symbol=AAPL". Parameters are sorted so the
// same request always maps to the same key.
func Key(op string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("stock_api:")
	b.WriteString(op)
	b.WriteString(":")
	for i, k := range keys {
		if i > 0 {
			b.WriteString("&")
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(params[k])
	}
	return b.String()
}
