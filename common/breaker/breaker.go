// Package breaker maintains the process-global map of named circuit breakers
// protecting shared remote resources. Breakers are created lazily on first
// use; names are stable strings chosen by the caller ("chat-api", "chat-cli").
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/flowpilot/flowpilot/common/logger"
)

// ErrCircuitOpen is returned while a breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit-open")

// Settings configures newly created breakers.
type Settings struct {
	FailureThreshold uint32
	RecoveryTimeout  time.Duration
	HalfOpenRequests uint32
}

// DefaultSettings returns the defaults used for executor-facing breakers.
func DefaultSettings() Settings {
	return Settings{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenRequests: 1,
	}
}

// Registry is a lock-guarded map from breaker name to breaker.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	settings Settings
	log      *logger.Logger
}

// NewRegistry creates a breaker registry with the given defaults
func NewRegistry(settings Settings, log *logger.Logger) *Registry {
	return &Registry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		settings: settings,
		log:      log,
	}
}

// Execute runs fn through the named breaker. While the breaker is open the
// call is rejected with ErrCircuitOpen without invoking fn.
func (r *Registry) Execute(name string, fn func() (any, error)) (any, error) {
	cb := r.get(name)
	out, err := cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: breaker %q rejecting calls", ErrCircuitOpen, name)
		}
		return out, err
	}
	return out, nil
}

// State reports the named breaker's state, "closed" when it does not exist yet.
func (r *Registry) State(name string) string {
	r.mu.Lock()
	cb, exists := r.breakers[name]
	r.mu.Unlock()
	if !exists {
		return "closed"
	}
	switch cb.State() {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

func (r *Registry) get(name string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, exists := r.breakers[name]; exists {
		return cb
	}

	threshold := r.settings.FailureThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: r.settings.HalfOpenRequests,
		Timeout:     r.settings.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.log.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	r.breakers[name] = cb
	return cb
}
