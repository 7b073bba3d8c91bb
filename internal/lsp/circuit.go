package lsp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker open")

type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

// CircuitConfig decides when a language server is taken out of rotation
// and how it is probed before coming back.
type CircuitConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold" json:"success_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout" json:"open_timeout"`
	HalfOpenProbes   int           `yaml:"half_open_probes" json:"half_open_probes"`
}

func DefaultCircuitConfig() CircuitConfig {
	return CircuitConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		HalfOpenProbes:   1,
	}
}

// CircuitBreaker guards one language server. While open, symbol and
// highlight requests fail fast and the fader degrades to whatever the
// other source returns.
type CircuitBreaker struct {
	name   string
	config CircuitConfig
	now    func() time.Time

	mu       sync.Mutex
	state    CircuitState
	failures int
	probes   int
	passed   int
	openedAt time.Time
}

func NewCircuitBreaker(name string, config CircuitConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:   name,
		config: config,
		now:    time.Now,
		state:  CircuitClosed,
	}
}

// Do runs fn unless the circuit is open and records the outcome. A
// cancelled context says nothing about the server and is not counted.
func (cb *CircuitBreaker) Do(fn func() error) error {
	if !cb.allow() {
		return fmt.Errorf("%w: %s", ErrCircuitOpen, cb.name)
	}
	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen {
		if cb.now().Sub(cb.openedAt) < cb.config.OpenTimeout {
			return false
		}
		cb.state = CircuitHalfOpen
		cb.probes = 0
		cb.passed = 0
		log.Debug("probing language server", "server", cb.name)
	}

	if cb.state == CircuitHalfOpen {
		if cb.probes >= cb.config.HalfOpenProbes {
			return false
		}
		cb.probes++
	}
	return true
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	probing := cb.state == CircuitHalfOpen
	if probing && cb.probes > 0 {
		cb.probes--
	}

	switch {
	case errors.Is(err, context.Canceled):
		return

	case err == nil:
		if !probing {
			cb.failures = 0
			return
		}
		cb.passed++
		if cb.passed >= cb.config.SuccessThreshold {
			cb.state = CircuitClosed
			cb.failures = 0
			log.Info("language server recovered", "server", cb.name)
		}

	case probing:
		cb.trip(err)

	case cb.state == CircuitClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.trip(err)
		}
	}
}

func (cb *CircuitBreaker) trip(err error) {
	cb.state = CircuitOpen
	cb.openedAt = cb.now()
	log.Warn("language server circuit opened",
		"server", cb.name,
		"failures", cb.failures,
		"retry_in", cb.config.OpenTimeout,
		"error", err)
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
