// Package queue implements the Action Queue from spec.md §4.7: a single
// FIFO with optional per-key sub-queues, fairness-scheduled batch dispatch,
// idempotency dedup, and correlation-id result retrieval. Persistence is
// grounded on the teacher's orchestration.RedisTaskQueue — generalized from
// a list-based reliable queue to a whole-snapshot store, since fairness and
// priority ordering here require structure a plain Redis list cannot hold
// (SPEC_FULL.md §C.2 "QueueSnapshot persistence envelope").
package queue

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	agcore "github.com/hrshtt/factorio-agent-runtime/internal/core"
)

// Entry is one pending action dispatch (spec.md §4.7).
type Entry struct {
	Seq           int64          `json:"seq"`
	ActionName    string         `json:"action_name"`
	Params        map[string]any `json:"params"`
	Key           string         `json:"key,omitempty"`
	Priority      int            `json:"priority"`
	Timestamp     int64          `json:"timestamp"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// Dispatcher executes one queue entry and returns its result. The runtime
// supplies the real RPC dispatch table; tests supply a fake.
type Dispatcher func(ctx context.Context, e Entry) (map[string]any, error)

// Snapshot is the whole-queue persistence envelope (SPEC_FULL.md §C.2),
// written on every mutation so a process restart resumes without loss
// (spec.md §4.7 "Persistence").
type Snapshot struct {
	Entries          []Entry                   `json:"entries"`
	KeyOrder         []string                  `json:"key_order"`
	NextKeyIndex     int                       `json:"next_key_index"`
	SeqCounter       int64                     `json:"seq_counter"`
	IdempotencySeen  map[string]bool           `json:"idempotency_seen"`
	ResultsByCorr    map[string]map[string]any `json:"results_by_correlation"`
	ImmediateMode    bool                      `json:"immediate_mode"`
	MaxQueueSize     int                       `json:"max_queue_size"`
}

// Store persists and restores a Snapshot. The runtime wires a Redis-backed
// implementation (see redis_store.go); tests use an in-memory one.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context) (Snapshot, bool, error)
}

// Queue is the in-process action queue described in spec.md §4.7.
type Queue struct {
	mu sync.Mutex

	entries      []Entry
	keyOrder     []string
	keyIndexSet  map[string]bool
	nextKeyIdx   int
	seq          agcore.SeqCounter
	idempSeen    map[string]bool
	results      map[string]map[string]any
	immediate    bool
	maxSize      int

	dispatch Dispatcher
	store    Store
	logger   agcore.Logger
}

// New builds an empty, unbounded queue; SetMaxQueueSize sets a cap.
func New(dispatch Dispatcher, store Store, logger agcore.Logger) *Queue {
	if logger == nil {
		logger = agcore.NoOpLogger{}
	}
	return &Queue{
		keyIndexSet: make(map[string]bool),
		idempSeen:   make(map[string]bool),
		results:     make(map[string]map[string]any),
		dispatch:    dispatch,
		store:       store,
		logger:      logger,
	}
}

// Restore loads persisted state from the store, if any, resuming seq
// counters and key ordering without loss (spec.md §4.7 "Persistence").
func (q *Queue) Restore(ctx context.Context) error {
	if q.store == nil {
		return nil
	}
	snap, ok, err := q.store.Load(ctx)
	if err != nil || !ok {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = snap.Entries
	q.keyOrder = snap.KeyOrder
	q.keyIndexSet = make(map[string]bool, len(snap.KeyOrder))
	for _, k := range snap.KeyOrder {
		q.keyIndexSet[k] = true
	}
	q.nextKeyIdx = snap.NextKeyIndex
	q.seq.Restore(snap.SeqCounter)
	if snap.IdempotencySeen != nil {
		q.idempSeen = snap.IdempotencySeen
	}
	if snap.ResultsByCorr != nil {
		q.results = snap.ResultsByCorr
	}
	q.immediate = snap.ImmediateMode
	q.maxSize = snap.MaxQueueSize
	return nil
}

// persistLocked serializes and saves current state. Caller must hold mu.
func (q *Queue) persistLocked(ctx context.Context) {
	if q.store == nil {
		return
	}
	snap := Snapshot{
		Entries:         append([]Entry(nil), q.entries...),
		KeyOrder:        append([]string(nil), q.keyOrder...),
		NextKeyIndex:    q.nextKeyIdx,
		SeqCounter:      q.seq.Load(),
		IdempotencySeen: q.idempSeen,
		ResultsByCorr:   q.results,
		ImmediateMode:   q.immediate,
		MaxQueueSize:    q.maxSize,
	}
	if err := q.store.Save(ctx, snap); err != nil {
		q.logger.Warn("queue: snapshot persist failed", map[string]interface{}{"error": err.Error()})
	}
}

// SetImmediateMode implements set_immediate_mode(b).
func (q *Queue) SetImmediateMode(ctx context.Context, on bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.immediate = on
	q.persistLocked(ctx)
}

// SetMaxQueueSize implements set_max_queue_size(n) (SPEC_FULL.md §C.3).
// n <= 0 means unbounded.
func (q *Queue) SetMaxQueueSize(ctx context.Context, n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.maxSize = n
	q.persistLocked(ctx)
}

// EnqueueResult is the synchronous response from Enqueue.
type EnqueueResult struct {
	Queued    bool
	Immediate bool
	Result    map[string]any
	Err       error
}

// Enqueue implements spec.md §4.7 "Enqueue". If immediate mode is on and no
// key was given, the action dispatches inline. A repeated idempotency_key
// is silently discarded (invariant 4).
func (q *Queue) Enqueue(ctx context.Context, actionName string, params map[string]any, key string, priority int, timestamp int64, idempotencyKey, correlationID string) EnqueueResult {
	q.mu.Lock()

	if idempotencyKey != "" && q.idempSeen[idempotencyKey] {
		q.mu.Unlock()
		return EnqueueResult{Queued: true}
	}

	if q.maxSize > 0 && len(q.entries) >= q.maxSize {
		q.mu.Unlock()
		return EnqueueResult{Err: agcore.NewRuntimeError("enqueue", "QueueFull", agcore.ErrQueueFull)}
	}

	immediate := q.immediate && key == ""
	entry := Entry{
		Seq:            q.seq.Next(),
		ActionName:     actionName,
		Params:         params,
		Key:            key,
		Priority:       priority,
		Timestamp:      timestamp,
		IdempotencyKey: idempotencyKey,
		CorrelationID:  correlationID,
	}
	if idempotencyKey != "" {
		q.idempSeen[idempotencyKey] = true
	}

	if immediate {
		q.mu.Unlock()
		result, err := q.dispatch(ctx, entry)
		if err != nil {
			return EnqueueResult{Immediate: true, Err: err}
		}
		if correlationID != "" {
			q.mu.Lock()
			q.results[correlationID] = result
			q.persistLocked(ctx)
			q.mu.Unlock()
		}
		return EnqueueResult{Queued: true, Immediate: true, Result: result}
	}

	q.entries = append(q.entries, entry)
	if key != "" && !q.keyIndexSet[key] {
		q.keyIndexSet[key] = true
		q.keyOrder = append(q.keyOrder, key)
	}
	q.persistLocked(ctx)
	q.mu.Unlock()
	return EnqueueResult{Queued: true}
}

// removeEntryLocked removes and returns the entry at idx. Caller holds mu.
func (q *Queue) removeEntryLocked(idx int) Entry {
	e := q.entries[idx]
	q.entries = append(q.entries[:idx], q.entries[idx+1:]...)
	return e
}

func (q *Queue) dispatchEntryLocked(ctx context.Context, idx int) {
	e := q.removeEntryLocked(idx)
	q.mu.Unlock()
	result, err := q.dispatch(ctx, e)
	q.mu.Lock()
	if err != nil {
		q.logger.Warn("queue: dispatch failed", map[string]interface{}{"action": e.ActionName, "error": err.Error()})
	}
	if e.CorrelationID != "" {
		q.results[e.CorrelationID] = result
	}
}

// ProcessAll implements process_all(): sort by (priority desc, timestamp
// asc, seq asc) and dispatch each in turn.
func (q *Queue) ProcessAll(ctx context.Context) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for len(q.entries) > 0 {
		q.sortLocked()
		q.dispatchEntryLocked(ctx, 0)
		n++
	}
	q.persistLocked(ctx)
	return n
}

func (q *Queue) sortLocked() {
	sort.SliceStable(q.entries, func(i, j int) bool {
		a, b := q.entries[i], q.entries[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		return a.Seq < b.Seq
	})
}

// ProcessSome implements process_some(n) — the fairness path (spec.md
// §4.7). It rotates through key_order starting at next_key_index, taking
// one entry per key per round, interleaving un-keyed entries one per
// round, guaranteeing no single key can starve others.
func (q *Queue) ProcessSome(ctx context.Context, n int) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	dispatched := 0
	for dispatched < n && len(q.entries) > 0 {
		q.sortLocked()

		if idx := q.firstUnkeyedLocked(); idx >= 0 {
			q.dispatchEntryLocked(ctx, idx)
			dispatched++
			if dispatched >= n {
				break
			}
		}

		if len(q.keyOrder) == 0 {
			if q.firstUnkeyedLocked() < 0 {
				break
			}
			continue
		}

		progressed := false
		for i := 0; i < len(q.keyOrder); i++ {
			ki := (q.nextKeyIdx + i) % len(q.keyOrder)
			key := q.keyOrder[ki]
			idx := q.firstWithKeyLocked(key)
			if idx >= 0 {
				q.dispatchEntryLocked(ctx, idx)
				dispatched++
				progressed = true
				q.nextKeyIdx = (ki + 1) % len(q.keyOrder)
				break
			}
		}
		if !progressed && q.firstUnkeyedLocked() < 0 {
			break
		}
	}
	q.persistLocked(ctx)
	return dispatched
}

// ProcessKey dispatches every currently queued entry for one key, in
// priority/timestamp/seq order.
func (q *Queue) ProcessKey(ctx context.Context, key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for {
		q.sortLocked()
		idx := q.firstWithKeyLocked(key)
		if idx < 0 {
			break
		}
		q.dispatchEntryLocked(ctx, idx)
		n++
	}
	q.persistLocked(ctx)
	return n
}

func (q *Queue) firstUnkeyedLocked() int {
	for i, e := range q.entries {
		if e.Key == "" {
			return i
		}
	}
	return -1
}

func (q *Queue) firstWithKeyLocked(key string) int {
	for i, e := range q.entries {
		if e.Key == key {
			return i
		}
	}
	return -1
}

// Status is the get_status() response.
type Status struct {
	Length        int      `json:"length"`
	KeyOrder      []string `json:"key_order"`
	ImmediateMode bool     `json:"immediate_mode"`
	MaxQueueSize  int      `json:"max_queue_size"`
}

// GetStatus implements get_status().
func (q *Queue) GetStatus() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Status{
		Length:        len(q.entries),
		KeyOrder:      append([]string(nil), q.keyOrder...),
		ImmediateMode: q.immediate,
		MaxQueueSize:  q.maxSize,
	}
}

// GetResult implements get_result(id) — non-destructive read.
func (q *Queue) GetResult(id string) (map[string]any, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.results[id]
	return r, ok
}

// GetAndClearResult implements get_and_clear_result(id) — consuming read.
func (q *Queue) GetAndClearResult(ctx context.Context, id string) (map[string]any, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.results[id]
	if ok {
		delete(q.results, id)
		q.persistLocked(ctx)
	}
	return r, ok
}

// Clear implements clear(key?): with a key, drops only that key's entries;
// without one, drops everything.
func (q *Queue) Clear(ctx context.Context, key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if key == "" {
		n := len(q.entries)
		q.entries = nil
		q.keyOrder = nil
		q.keyIndexSet = make(map[string]bool)
		q.nextKeyIdx = 0
		q.persistLocked(ctx)
		return n
	}
	n := 0
	remaining := q.entries[:0]
	for _, e := range q.entries {
		if e.Key == key {
			n++
			continue
		}
		remaining = append(remaining, e)
	}
	q.entries = remaining
	q.persistLocked(ctx)
	return n
}

// MarshalSnapshotJSON is a convenience for callers that want the raw
// envelope without a Store (e.g. debug endpoints).
func (q *Queue) MarshalSnapshotJSON() ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	snap := Snapshot{
		Entries:         q.entries,
		KeyOrder:        q.keyOrder,
		NextKeyIndex:    q.nextKeyIdx,
		SeqCounter:      q.seq.Load(),
		IdempotencySeen: q.idempSeen,
		ResultsByCorr:   q.results,
		ImmediateMode:   q.immediate,
		MaxQueueSize:    q.maxSize,
	}
	return json.Marshal(snap)
}
