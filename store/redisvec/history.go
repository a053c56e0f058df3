package redisvec

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultHistoryKey is the sorted set holding metrics snapshots.
const DefaultHistoryKey = "metrics:history"

// History is a capped time-ordered ring of JSON snapshots in a Redis
// sorted set, scored by unix timestamp. Oldest entries are evicted when
// the cap is exceeded.
type History struct {
	rdb *redis.Client
	key string
	cap int64
}

// NewHistory creates a History. An empty key uses the default; cap <= 0
// defaults to 1000.
func NewHistory(rdb *redis.Client, key string, cap int64) *History {
	if key == "" {
		key = DefaultHistoryKey
	}
	if cap <= 0 {
		cap = 1000
	}
	return &History{rdb: rdb, key: key, cap: cap}
}

// Append stores one snapshot at the given unix timestamp and trims the
// set to the cap.
func (h *History) Append(ctx context.Context, unixTS int64, snapshot any) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("redisvec: marshal snapshot: %w", err)
	}
	pipe := h.rdb.TxPipeline()
	pipe.ZAdd(ctx, h.key, redis.Z{Score: float64(unixTS), Member: string(raw)})
	pipe.ZRemRangeByRank(ctx, h.key, 0, -(h.cap + 1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisvec: append history: %w", err)
	}
	return nil
}

// Since returns snapshots whose timestamp falls in [from, to], oldest
// first, as raw JSON.
func (h *History) Since(ctx context.Context, from, to int64) ([]json.RawMessage, error) {
	members, err := h.rdb.ZRangeByScore(ctx, h.key, &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", from),
		Max: fmt.Sprintf("%d", to),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redisvec: read history: %w", err)
	}
	out := make([]json.RawMessage, len(members))
	for i, m := range members {
		out[i] = json.RawMessage(m)
	}
	return out, nil
}

// Recent returns up to n snapshots, oldest first, as raw JSON.
func (h *History) Recent(ctx context.Context, n int64) ([]json.RawMessage, error) {
	members, err := h.rdb.ZRange(ctx, h.key, -n, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redisvec: read history: %w", err)
	}
	out := make([]json.RawMessage, len(members))
	for i, m := range members {
		out[i] = json.RawMessage(m)
	}
	return out, nil
}
