// Package ratelimit tracks per-provider cooldown windows. When an upstream
// signals exhaustion the provider is marked limited for a cooldown period and
// every caller skips it until the window passes. The state is advisory: a
// wasted call against a limited provider is harmless, so there is no attempt
// to confirm recovery before the window expires.
package ratelimit

import (
	"sync"
	"time"

	"stockboard/internal/observ"
)

// State is a snapshot of one provider's cooldown status.
type State struct {
	Limited   bool      `json:"limited"`
	ResetTime time.Time `json:"reset_time,omitzero"`
}

// Tracker is a process-wide registry of provider cooldowns. Construct one at
// startup and inject it; tests build isolated instances.
type Tracker struct {
	mu       sync.Mutex
	states   map[string]State
	cooldown time.Duration
	now      func() time.Time
}

// NewTracker creates a tracker with the default cooldown applied when the
// upstream gives no Retry-After hint.
func NewTracker(cooldown time.Duration) *Tracker {
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	return &Tracker{
		states:   make(map[string]State),
		cooldown: cooldown,
		now:      time.Now,
	}
}

// IsLimited reports whether provider is cooling down, clearing the flag
// lazily once the reset time has passed.
func (t *Tracker) IsLimited(provider string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.states[provider]
	if !ok || !s.Limited {
		return false
	}
	if t.now().After(s.ResetTime) {
		delete(t.states, provider)
		return false
	}
	return true
}

// MarkLimited puts provider on cooldown. retryAfter is honored when the
// upstream supplied one; otherwise the default cooldown applies.
func (t *Tracker) MarkLimited(provider string, retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = t.cooldown
	}
	t.mu.Lock()
	reset := t.now().Add(retryAfter)
	t.states[provider] = State{Limited: true, ResetTime: reset}
	t.mu.Unlock()

	observ.IncCounter("ratelimit_marked_total", map[string]string{"provider": provider})
	observ.Log("provider_rate_limited", map[string]any{
		"provider":    provider,
		"cooldown_ms": retryAfter.Milliseconds(),
		"reset_time":  reset.UTC().Format(time.RFC3339),
	})
}

// Snapshot returns the current cooldown state of every tracked provider.
func (t *Tracker) Snapshot() map[string]State {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]State, len(t.states))
	for name, s := range t.states {
		out[name] = s
	}
	return out
}
