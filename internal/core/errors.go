// Package core provides the ambient stack shared by every package in the
// runtime: configuration, logging, error taxonomy, circuit breaking, and ID
// generation. Domain packages (agentrt, activity, queue, reach, ...) depend
// on core; core depends on nothing else in this module.
package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for the taxonomy in spec.md §7. Domain code wraps these
// with RuntimeError for context; callers compare with errors.Is.
var (
	// InvalidParameter
	ErrInvalidParameter = errors.New("invalid parameter")

	// Unreachable
	ErrUnreachable = errors.New("target outside reach distance")

	// EntityInvalid
	ErrEntityInvalid = errors.New("entity not found or no longer valid")

	// InsufficientInventory
	ErrInsufficientInventory = errors.New("insufficient inventory")

	// ExclusivityConflict
	ErrExclusivityConflict = errors.New("activity slot conflict")

	// RecipeUnavailable
	ErrRecipeUnavailable = errors.New("recipe unavailable for team")

	// PathUnreachable
	ErrPathUnreachable = errors.New("no path to goal")

	// PathStuck
	ErrPathStuck = errors.New("walking progress stalled")

	// EntityAtGoal
	ErrEntityAtGoal = errors.New("goal occupied by entity with strict_goal set")

	// ErrQueueFull is raised by the action queue when set_max_queue_size(n)
	// would be exceeded by an enqueue. Added by SPEC_FULL.md §C.3.
	ErrQueueFull = errors.New("action queue at capacity")

	// ErrAgentNotFound is returned when an RPC targets an unregistered agent.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrNotQueued is returned by stop/dequeue operations when there is no
	// matching in-flight activity. These operations are idempotent, so
	// callers usually treat this as success, not failure.
	ErrNotQueued = errors.New("no matching in-flight activity")

	ErrTimeout         = errors.New("operation timeout")
	ErrContextCanceled = errors.New("context canceled")
)

// RuntimeError carries structured context about a failed operation, mirroring
// the {kind, message, details} contract in spec.md §7.
type RuntimeError struct {
	Op      string // operation that failed, e.g. "agent.walk_to"
	Kind    string // taxonomy member, e.g. "Unreachable"
	ID      string // agent_id or action_id involved, if any
	Message string
	Err     error
}

func (e *RuntimeError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// NewRuntimeError builds a RuntimeError wrapping a sentinel from the taxonomy.
func NewRuntimeError(op, kind string, err error) *RuntimeError {
	return &RuntimeError{Op: op, Kind: kind, Err: err}
}

// WithID attaches the entity/agent/action id responsible for the error.
func (e *RuntimeError) WithID(id string) *RuntimeError {
	e.ID = id
	return e
}

// WithMessage attaches a human-readable message.
func (e *RuntimeError) WithMessage(msg string) *RuntimeError {
	e.Message = msg
	return e
}

// IsRetryable reports whether an error represents a transient condition a
// caller may usefully retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrContextCanceled)
}

// IsValidationError reports whether err is one of the pre-condition checks
// that must never trip the circuit breaker (it is a caller mistake, not an
// infrastructure failure).
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidParameter) ||
		errors.Is(err, ErrUnreachable) ||
		errors.Is(err, ErrEntityInvalid) ||
		errors.Is(err, ErrInsufficientInventory) ||
		errors.Is(err, ErrExclusivityConflict) ||
		errors.Is(err, ErrRecipeUnavailable) ||
		errors.Is(err, ErrEntityAtGoal)
}

// IsNotFound reports whether err represents a missing-entity condition.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAgentNotFound) || errors.Is(err, ErrEntityInvalid)
}
