// Package resilience provides the circuit breaker and retry policy that wrap
// every transport call.
package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is the fail-fast signal returned while a breaker is open.
// It is never retried and propagates to the caller unchanged.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState is the breaker's position.
type CircuitState int

const (
	// StateClosed passes calls through and counts outcomes.
	StateClosed CircuitState = iota
	// StateOpen rejects calls until the recovery timeout elapses.
	StateOpen
	// StateHalfOpen lets a single probe through to test recovery.
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures a breaker.
type CircuitBreakerConfig struct {
	// Name identifies the breaker in logs and the registry.
	Name string
	// FailureThreshold is the failure count within the window that opens
	// the circuit.
	FailureThreshold int
	// RecoveryTimeout is the cooldown after the last failure before a
	// half-open probe is allowed.
	RecoveryTimeout time.Duration
	// SlidingWindow is the decay period for the failure counters.
	SlidingWindow time.Duration
}

// Validate checks the configuration.
func (c *CircuitBreakerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("circuit breaker name is required")
	}
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure threshold must be at least 1, got %d", c.FailureThreshold)
	}
	if c.RecoveryTimeout <= 0 {
		return fmt.Errorf("recovery timeout must be positive, got %v", c.RecoveryTimeout)
	}
	if c.SlidingWindow <= 0 {
		return fmt.Errorf("sliding window must be positive, got %v", c.SlidingWindow)
	}
	return nil
}

// Preset configurations.

// DefaultConfig trips after 5 failures, cools down 30s, decays over 2min.
func DefaultConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{Name: name, FailureThreshold: 5, RecoveryTimeout: 30 * time.Second, SlidingWindow: 2 * time.Minute}
}

// SensitiveConfig trips early for fragile dependencies.
func SensitiveConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{Name: name, FailureThreshold: 3, RecoveryTimeout: 60 * time.Second, SlidingWindow: time.Minute}
}

// TolerantConfig absorbs flappy dependencies.
func TolerantConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{Name: name, FailureThreshold: 10, RecoveryTimeout: 15 * time.Second, SlidingWindow: 5 * time.Minute}
}

// CircuitBreaker fails fast when a call site keeps failing. State and
// counters are guarded by one mutex; safe for concurrent use.
//
// The sliding window decays rather than resets: on expiry both counters are
// halved, which damps oscillation around the threshold.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu           sync.Mutex
	state        CircuitState
	failureCount int
	successCount int
	windowStart  time.Time
	lastFailure  time.Time

	// now is replaceable in tests.
	now func() time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) (*CircuitBreaker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid circuit breaker config: %w", err)
	}
	return &CircuitBreaker{
		config:      config,
		state:       StateClosed,
		windowStart: time.Now(),
		now:         time.Now,
	}, nil
}

// Execute runs fn under the breaker. While open it returns ErrCircuitOpen
// (wrapped with the breaker name) without invoking fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}
	err := fn()
	cb.afterCall(err)
	return err
}

// State returns the current state, applying any pending open→half-open
// transition.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpenLocked()
	return cb.state
}

// Counts returns the current windowed success and failure counts.
func (cb *CircuitBreaker) Counts() (successes, failures int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.successCount, cb.failureCount
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.decayWindowLocked()
	cb.maybeHalfOpenLocked()

	if cb.state == StateOpen {
		return fmt.Errorf("circuit breaker %q: %w", cb.config.Name, ErrCircuitOpen)
	}
	return nil
}

func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.successCount++
		if cb.state == StateHalfOpen {
			cb.transitionLocked(StateClosed)
			cb.failureCount = 0
		}
		return
	}

	cb.failureCount++
	cb.lastFailure = cb.now()

	switch cb.state {
	case StateHalfOpen:
		// Probe failed: back to open, cooldown restarts.
		cb.transitionLocked(StateOpen)
	case StateClosed:
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.transitionLocked(StateOpen)
		}
	}
}

// maybeHalfOpenLocked moves open → half-open once the cooldown has elapsed.
func (cb *CircuitBreaker) maybeHalfOpenLocked() {
	if cb.state == StateOpen && cb.now().Sub(cb.lastFailure) >= cb.config.RecoveryTimeout {
		cb.transitionLocked(StateHalfOpen)
	}
}

// decayWindowLocked halves both counters when the window has expired.
func (cb *CircuitBreaker) decayWindowLocked() {
	if cb.now().Sub(cb.windowStart) >= cb.config.SlidingWindow {
		cb.failureCount /= 2
		cb.successCount /= 2
		cb.windowStart = cb.now()
	}
}

func (cb *CircuitBreaker) transitionLocked(to CircuitState) {
	if cb.state == to {
		return
	}
	slog.Info("Circuit breaker state changed",
		"name", cb.config.Name,
		"from", cb.state.String(),
		"to", to.String(),
		"failures", cb.failureCount,
		"successes", cb.successCount)
	cb.state = to
}

// Registry holds process-wide named breakers. Breakers are registered
// explicitly; there is no ambient singleton.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*CircuitBreaker)}
}

// GetOrCreate returns the named breaker, creating it from config on first
// use. The config of an existing breaker is not changed.
func (r *Registry) GetOrCreate(config CircuitBreakerConfig) (*CircuitBreaker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[config.Name]; ok {
		return cb, nil
	}
	cb, err := NewCircuitBreaker(config)
	if err != nil {
		return nil, err
	}
	r.breakers[config.Name] = cb
	return cb, nil
}

// Get returns the named breaker, if registered.
func (r *Registry) Get(name string) (*CircuitBreaker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[name]
	return cb, ok
}
