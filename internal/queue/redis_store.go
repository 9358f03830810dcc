package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	agcore "github.com/hrshtt/factorio-agent-runtime/internal/core"
)

// RedisStore persists the queue's Snapshot envelope as a single JSON blob
// under one key. This generalizes the teacher's RedisTaskQueue (LPUSH/
// BRPOP per-task list) to whole-snapshot persistence: spec.md §4.7 requires
// fairness/priority structure a plain list cannot represent, so the whole
// queue is re-serialized on every mutation instead (spec.md §4.7
// "Persistence").
type RedisStore struct {
	client *redis.Client
	key    string
	logger agcore.Logger
}

// NewRedisStore wires a connected redis.Client to the given snapshot key.
func NewRedisStore(client *redis.Client, key string, logger agcore.Logger) *RedisStore {
	if logger == nil {
		logger = agcore.NoOpLogger{}
	}
	if key == "" {
		key = "agentrt:queue:snapshot"
	}
	return &RedisStore{client: client, key: key, logger: logger}
}

// Save writes the snapshot with SET, overwriting any prior value.
func (s *RedisStore) Save(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("queue: marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("queue: redis set: %w", err)
	}
	return nil
}

// Load reads back the last saved snapshot. ok=false means no snapshot has
// ever been saved under this key (fresh start, not an error).
func (s *RedisStore) Load(ctx context.Context) (Snapshot, bool, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("queue: redis get: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("queue: unmarshal snapshot: %w", err)
	}
	return snap, true, nil
}
