// Package breaker implements the per-provider circuit breaker that guards
// upstream forwarding. Each provider of each app gets one Breaker; a shared
// Registry hands them out and applies config updates.
package breaker

import (
	"log"
	"sync"
	"time"
)

// State is the breaker position.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config holds the thresholds driving state transitions. Zero values are
// replaced with safe defaults by Normalize.
type Config struct {
	FailureThreshold   int           // consecutive failures to trip
	SuccessThreshold   int           // half-open successes to close
	OpenTimeout        time.Duration // cooldown before probing
	ErrorRateThreshold float64       // 0 < rate <= 1
	MinRequests        int           // samples before the rate trigger arms
}

// Normalize clamps the config into workable ranges.
func (c *Config) Normalize() {
	if c.FailureThreshold < 1 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold < 1 {
		c.SuccessThreshold = 2
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 60 * time.Second
	}
	if c.ErrorRateThreshold <= 0 || c.ErrorRateThreshold > 1 {
		c.ErrorRateThreshold = 0.5
	}
	if c.MinRequests < 1 {
		c.MinRequests = 10
	}
}

// Breaker is a three-state circuit breaker for one provider. All methods are
// safe for concurrent use.
type Breaker struct {
	name string // "app/provider" label used in logs

	mu     sync.RWMutex
	config Config
	state  State

	consecutiveFailures int
	halfOpenSuccesses   int
	halfOpenInflight    int
	totalRequests       int64 // window counters, reset on state change
	totalFailures       int64
	openedAt            time.Time
	lastFailureReason   string
	lastFailureAt       time.Time
}

// New builds a Closed breaker with the given thresholds.
func New(name string, config Config) *Breaker {
	config.Normalize()
	return &Breaker{
		name:   name,
		config: config,
		state:  StateClosed,
	}
}

// AllowRequest reports whether one forwarding attempt may proceed, and
// reserves the half-open probe slot when it grants one. Callers that get
// true must follow up with exactly one RecordSuccess or RecordFailure.
func (b *Breaker) AllowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.openedAt) < b.config.OpenTimeout {
			return false
		}
		b.transitionLocked(StateHalfOpen)
		b.halfOpenInflight = 1
		return true
	case StateHalfOpen:
		if b.halfOpenInflight > 0 {
			return false
		}
		b.halfOpenInflight = 1
		return true
	}
	return false
}

// RecordSuccess notes a successful attempt.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.consecutiveFailures = 0
		b.totalRequests++
	case StateHalfOpen:
		if b.halfOpenInflight > 0 {
			b.halfOpenInflight--
		}
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.config.SuccessThreshold {
			b.transitionLocked(StateClosed)
			log.Printf("✅ Circuit breaker closed for %s after %d probe successes", b.name, b.config.SuccessThreshold)
		}
	case StateOpen:
		// Late result from before the trip. Ignore.
	}
}

// RecordFailure notes a failed attempt with a short reason for the status
// endpoint.
func (b *Breaker) RecordFailure(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureReason = reason
	b.lastFailureAt = time.Now()

	switch b.state {
	case StateClosed:
		b.consecutiveFailures++
		b.totalRequests++
		b.totalFailures++
		if b.shouldTripLocked() {
			fails := b.consecutiveFailures
			b.transitionLocked(StateOpen)
			log.Printf("⚠️ Circuit breaker opened for %s (consecutive=%d, cooldown=%s): %s",
				b.name, fails, b.config.OpenTimeout, reason)
		}
	case StateHalfOpen:
		if b.halfOpenInflight > 0 {
			b.halfOpenInflight--
		}
		b.transitionLocked(StateOpen)
		log.Printf("⚠️ Circuit breaker reopened for %s after failed probe: %s", b.name, reason)
	case StateOpen:
		// Late result, breaker already open.
	}
}

// Release returns an admitted permit without recording an outcome. Used for
// client aborts, which count as neither success nor provider failure; the
// half-open probe slot must still come back.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen && b.halfOpenInflight > 0 {
		b.halfOpenInflight--
	}
}

// shouldTripLocked checks the Closed-state trip conditions.
func (b *Breaker) shouldTripLocked() bool {
	if b.consecutiveFailures >= b.config.FailureThreshold {
		return true
	}
	if b.totalRequests >= int64(b.config.MinRequests) {
		rate := float64(b.totalFailures) / float64(b.totalRequests)
		if rate >= b.config.ErrorRateThreshold {
			return true
		}
	}
	return false
}

// transitionLocked moves to a new state and resets the window counters.
// consecutiveFailures survives into Open so status can show the trip depth,
// and clears everywhere else.
func (b *Breaker) transitionLocked(next State) {
	b.state = next
	b.totalRequests = 0
	b.totalFailures = 0
	b.halfOpenSuccesses = 0
	b.halfOpenInflight = 0
	switch next {
	case StateOpen:
		b.openedAt = time.Now()
	case StateClosed, StateHalfOpen:
		b.consecutiveFailures = 0
	}
}

// Reset forces the breaker back to Closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(StateClosed)
	b.consecutiveFailures = 0
	b.lastFailureReason = ""
	log.Printf("🔄 Circuit breaker reset for %s", b.name)
}

// UpdateConfig swaps the thresholds without touching counters or state.
func (b *Breaker) UpdateConfig(config Config) {
	config.Normalize()
	b.mu.Lock()
	b.config = config
	b.mu.Unlock()
}

// State returns the current position without side effects.
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// IsAvailable reports whether a selection pass should offer this provider.
// Open counts as available once the cooldown elapsed, because the next
// AllowRequest would admit a probe; no probe slot is consumed here.
func (b *Breaker) IsAvailable() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.state != StateOpen {
		return true
	}
	return time.Since(b.openedAt) >= b.config.OpenTimeout
}

// Snapshot is a point-in-time view for the status endpoint.
type Snapshot struct {
	Name                string    `json:"name"`
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalRequests       int64     `json:"total_requests"`
	TotalFailures       int64     `json:"total_failures"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
	OpenRemainingSec    int       `json:"open_remaining_sec,omitempty"`
	LastFailureReason   string    `json:"last_failure_reason,omitempty"`
	LastFailureAt       time.Time `json:"last_failure_at,omitempty"`
}

// Snapshot captures the current state for reporting.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap := Snapshot{
		Name:                b.name,
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		TotalRequests:       b.totalRequests,
		TotalFailures:       b.totalFailures,
		LastFailureReason:   b.lastFailureReason,
		LastFailureAt:       b.lastFailureAt,
	}
	if b.state == StateOpen {
		snap.OpenedAt = b.openedAt
		remaining := b.config.OpenTimeout - time.Since(b.openedAt)
		if remaining > 0 {
			snap.OpenRemainingSec = int(remaining.Seconds() + 0.5)
		}
	}
	return snap
}
