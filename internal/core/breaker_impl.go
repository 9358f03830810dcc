package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitBreakerOpen is returned by Execute when the circuit is open.
var ErrCircuitBreakerOpen = errors.New("circuit breaker open")

// CircuitState enumerates the three breaker states.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
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

// ErrorClassifier decides whether an error counts toward the failure
// threshold. Validation-style errors (bad parameters, unreachable targets)
// are caller mistakes, not infrastructure failures, and must not trip the
// breaker — ported from the teacher's DefaultErrorClassifier.
type ErrorClassifier func(error) bool

// DefaultErrorClassifier only counts errors that are not part of the
// validation taxonomy in errors.go.
func DefaultErrorClassifier(err error) bool {
	if err == nil {
		return false
	}
	if IsValidationError(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrContextCanceled) {
		return false
	}
	return true
}

// ThresholdBreaker is a concrete, in-process CircuitBreaker implementation
// ported from the teacher's resilience.CircuitBreaker: a closed-state
// consecutive-failure counter, a timed open state, and a half-open probe
// budget.
type ThresholdBreaker struct {
	name       string
	cfg        CircuitBreakerConfig
	classifier ErrorClassifier
	logger     Logger

	mu              sync.Mutex
	state           CircuitState
	consecutiveFail int
	openedAt        time.Time
	halfOpenUsed    int
	totalSuccess    int64
	totalFailure    int64
	totalRejected   int64
}

// NewThresholdBreaker builds a breaker named for logging/metrics purposes.
func NewThresholdBreaker(name string, cfg CircuitBreakerConfig, logger Logger) *ThresholdBreaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultCircuitBreakerConfig().Threshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCircuitBreakerConfig().Timeout
	}
	if cfg.HalfOpenRequests <= 0 {
		cfg.HalfOpenRequests = DefaultCircuitBreakerConfig().HalfOpenRequests
	}
	if logger == nil {
		logger = NoOpLogger{}
	}
	return &ThresholdBreaker{
		name:       name,
		cfg:        cfg,
		classifier: DefaultErrorClassifier,
		logger:     logger,
		state:      StateClosed,
	}
}

// SetClassifier overrides which errors count toward the failure threshold.
func (b *ThresholdBreaker) SetClassifier(c ErrorClassifier) {
	if c != nil {
		b.classifier = c
	}
}

func (b *ThresholdBreaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.canExecuteLocked()
}

func (b *ThresholdBreaker) canExecuteLocked() bool {
	if !b.cfg.Enabled {
		return true
	}
	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.openedAt) >= b.cfg.Timeout {
			b.transitionLocked(StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		return b.halfOpenUsed < b.cfg.HalfOpenRequests
	default:
		return true
	}
}

func (b *ThresholdBreaker) transitionLocked(to CircuitState) {
	from := b.state
	b.state = to
	switch to {
	case StateOpen:
		b.openedAt = time.Now()
		b.halfOpenUsed = 0
	case StateHalfOpen:
		b.halfOpenUsed = 0
	case StateClosed:
		b.consecutiveFail = 0
		b.halfOpenUsed = 0
	}
	if from != to {
		b.logger.Info("circuit breaker state change", map[string]interface{}{
			"breaker": b.name, "from": from.String(), "to": to.String(),
		})
	}
}

func (b *ThresholdBreaker) Execute(ctx context.Context, fn func() error) error {
	b.mu.Lock()
	if !b.canExecuteLocked() {
		b.totalRejected++
		b.mu.Unlock()
		return fmt.Errorf("%s: %w", b.name, ErrCircuitBreakerOpen)
	}
	if b.state == StateHalfOpen {
		b.halfOpenUsed++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.classifier(err) {
		b.totalFailure++
		b.consecutiveFail++
		if b.state == StateHalfOpen {
			b.transitionLocked(StateOpen)
		} else if b.consecutiveFail >= b.cfg.Threshold {
			b.transitionLocked(StateOpen)
		}
		return err
	}

	b.totalSuccess++
	if b.state == StateHalfOpen {
		b.transitionLocked(StateClosed)
	} else {
		b.consecutiveFail = 0
	}
	return err
}

func (b *ThresholdBreaker) ExecuteWithTimeout(ctx context.Context, timeout time.Duration, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return b.Execute(ctx, func() error {
		done := make(chan error, 1)
		go func() {
			done <- fn()
		}()
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

func (b *ThresholdBreaker) GetState() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}

func (b *ThresholdBreaker) GetMetrics() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return map[string]interface{}{
		"state":            b.state.String(),
		"consecutive_fail": b.consecutiveFail,
		"total_success":    b.totalSuccess,
		"total_failure":    b.totalFailure,
		"total_rejected":   b.totalRejected,
	}
}

func (b *ThresholdBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(StateClosed)
	b.totalSuccess, b.totalFailure, b.totalRejected = 0, 0, 0
}
