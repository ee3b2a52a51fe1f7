package runstate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type hashStore interface {
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RedisMirror stores each run as a hash of job id -> JSON state.
type RedisMirror struct {
	rdb    hashStore
	prefix string
	ttl    time.Duration
}

// NewRedisMirror writes under "<prefix>:run:<id>:jobs" and expires runs after ttl.
func NewRedisMirror(rdb redis.Cmdable, prefix string, ttl time.Duration) *RedisMirror {
	return newRedisMirror(rdb, prefix, ttl)
}

func newRedisMirror(rdb hashStore, prefix string, ttl time.Duration) *RedisMirror {
	if prefix == "" {
		prefix = "harvester"
	}
	return &RedisMirror{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Key returns the hash key for runID.
func (m *RedisMirror) Key(runID string) string {
	return fmt.Sprintf("%s:run:%s:jobs", m.prefix, runID)
}

// Save implements Mirror.
func (m *RedisMirror) Save(ctx context.Context, runID string, state JobState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode job state: %w", err)
	}
	key := m.Key(runID)
	if err := m.rdb.HSet(ctx, key, state.JobID, data).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}
	if m.ttl > 0 {
		if err := m.rdb.Expire(ctx, key, m.ttl).Err(); err != nil {
			return fmt.Errorf("expire %s: %w", key, err)
		}
	}
	return nil
}
