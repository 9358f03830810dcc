package core

import (
	"context"
	"time"
)

// CircuitBreaker protects calls into external collaborators (the RCON
// connection; the snapshot DB handle does not use one) from cascading
// failure. Interface ported
// verbatim in shape from the teacher's core.CircuitBreaker.
type CircuitBreaker interface {
	Execute(ctx context.Context, fn func() error) error
	ExecuteWithTimeout(ctx context.Context, timeout time.Duration, fn func() error) error
	GetState() string
	GetMetrics() map[string]interface{}
	Reset()
	CanExecute() bool
}

// CircuitBreakerConfig configures threshold-based circuit breaking.
type CircuitBreakerConfig struct {
	Enabled          bool
	Threshold        int
	Timeout          time.Duration
	HalfOpenRequests int
}

// DefaultCircuitBreakerConfig mirrors the teacher's defaults: five
// consecutive failures opens the circuit for thirty seconds, then up to
// three half-open probe calls are admitted; the first probe to finish closes
// the circuit on success or reopens it on failure.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Enabled:          true,
		Threshold:        5,
		Timeout:          30 * time.Second,
		HalfOpenRequests: 3,
	}
}
