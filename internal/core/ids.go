package core

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// NewActionID generates a globally unique action_id (spec.md §3 invariant 3).
func NewActionID() string {
	return "act_" + uuid.New().String()
}

// NewCorrelationID generates a globally unique correlation_id.
func NewCorrelationID() string {
	return "corr_" + uuid.New().String()
}

// SeqCounter produces the action queue's monotonically increasing seq
// (spec.md §3 invariant 3, §5 tie-break order). Safe for concurrent use.
type SeqCounter struct {
	n int64
}

// Next returns the next sequence number, starting at 1.
func (c *SeqCounter) Next() int64 {
	return atomic.AddInt64(&c.n, 1)
}

// Load returns the current value without advancing it, for snapshotting.
func (c *SeqCounter) Load() int64 {
	return atomic.LoadInt64(&c.n)
}

// Restore resets the counter to at least n, used when resuming from a
// persisted queue snapshot so seq never goes backwards.
func (c *SeqCounter) Restore(n int64) {
	for {
		cur := atomic.LoadInt64(&c.n)
		if n <= cur {
			return
		}
		if atomic.CompareAndSwapInt64(&c.n, cur, n) {
			return
		}
	}
}
