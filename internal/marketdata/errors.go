package marketdata

import (
	"errors"
	"fmt"
	"time"
)

// Failure classes the orchestrator cares about. Rate limits update the
// cooldown tracker; everything else just advances to the next provider.
const (
	errNetwork   = "network"
	errRateLimit = "rate_limit"
	errProvider  = "provider_error"
	errNoData    = "no_data"
	errBadSymbol = "bad_symbol"
)

// ProviderError is the typed error returned by all provider adapters.
type ProviderError struct {
	Kind     string
	Provider string
	Symbol   string
	Message  string
	// RetryAfter carries an upstream Retry-After hint on rate-limit
	// errors; zero means no hint.
	RetryAfter time.Duration
	Cause      error
}

func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s error for %q: %s (%v)", e.Provider, e.Kind, e.Symbol, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s error for %q: %s", e.Provider, e.Kind, e.Symbol, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

func newNetworkError(provider, symbol, message string, cause error) *ProviderError {
	return &ProviderError{Kind: errNetwork, Provider: provider, Symbol: symbol, Message: message, Cause: cause}
}

func newRateLimitError(provider, symbol, message string, retryAfter time.Duration) *ProviderError {
	return &ProviderError{Kind: errRateLimit, Provider: provider, Symbol: symbol, Message: message, RetryAfter: retryAfter}
}

func newProviderError(provider, symbol, message string, cause error) *ProviderError {
	return &ProviderError{Kind: errProvider, Provider: provider, Symbol: symbol, Message: message, Cause: cause}
}

func newNoDataError(provider, symbol, message string) *ProviderError {
	return &ProviderError{Kind: errNoData, Provider: provider, Symbol: symbol, Message: message}
}

// asRateLimit reports whether err is a rate-limit signal and the Retry-After
// hint carried with it, if any.
func asRateLimit(err error) (time.Duration, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Kind == errRateLimit {
		return pe.RetryAfter, true
	}
	return 0, false
}
