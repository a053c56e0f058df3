package redisvec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	cortex "github.com/nevindra/cortex"
)

// Default keys, matching the deployed data layout.
const (
	DefaultStreamKey     = "session:input_stream"
	DefaultCheckpointKey = "memory_worker:last_id"
	DefaultStreamMaxLen  = 10000
)

// Stream implements cortex.CaptureStream on a Redis Stream capped with
// approximate MAXLEN trimming.
type Stream struct {
	rdb    *redis.Client
	key    string
	maxLen int64
}

var _ cortex.CaptureStream = (*Stream)(nil)

// StreamOption configures a Stream.
type StreamOption func(*Stream)

// WithStreamKey overrides the stream key (default: session:input_stream).
func WithStreamKey(key string) StreamOption {
	return func(s *Stream) { s.key = key }
}

// WithStreamMaxLen caps the stream length; oldest entries are trimmed
// (default: 10000, 0 disables trimming).
func WithStreamMaxLen(n int64) StreamOption {
	return func(s *Stream) { s.maxLen = n }
}

// NewStream creates a Stream on an existing Redis client.
func NewStream(rdb *redis.Client, opts ...StreamOption) *Stream {
	s := &Stream{rdb: rdb, key: DefaultStreamKey, maxLen: DefaultStreamMaxLen}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Stream entry field names.
const (
	entryMessage   = "message"
	entrySessionID = "session_id"
	entryTimestamp = "timestamp"
	entryMeta      = "meta"
)

// Append adds a turn and trims the stream to its cap.
func (s *Stream) Append(ctx context.Context, t cortex.Turn) error {
	values := map[string]any{
		entryMessage:   t.Message,
		entrySessionID: t.SessionID,
		entryTimestamp: t.Timestamp,
	}
	if len(t.Meta) > 0 {
		meta, _ := json.Marshal(t.Meta)
		values[entryMeta] = string(meta)
	}
	err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.key,
		MaxLen: s.maxLen,
		Approx: s.maxLen > 0,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("redisvec: append turn: %w", err)
	}
	return nil
}

// Read returns up to count entries strictly after afterID, blocking up to
// block when none are available. A timeout returns an empty batch, not an
// error.
func (s *Stream) Read(ctx context.Context, afterID string, count int, block time.Duration) ([]cortex.Entry, error) {
	streams, err := s.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{s.key, afterID},
		Count:   int64(count),
		Block:   block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redisvec: read stream: %w", err)
	}

	var entries []cortex.Entry
	for _, str := range streams {
		for _, msg := range str.Messages {
			entries = append(entries, cortex.Entry{ID: msg.ID, Turn: turnFromValues(msg.Values)})
		}
	}
	return entries, nil
}

func turnFromValues(values map[string]any) cortex.Turn {
	t := cortex.Turn{
		Message:   asString(values[entryMessage]),
		SessionID: asString(values[entrySessionID]),
	}
	t.Timestamp, _ = strconv.ParseInt(asString(values[entryTimestamp]), 10, 64)
	if raw := asString(values[entryMeta]); raw != "" {
		meta := map[string]string{}
		if err := json.Unmarshal([]byte(raw), &meta); err == nil {
			t.Meta = meta
		}
	}
	return t
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// Checkpoint implements cortex.CheckpointStore on a single Redis key.
type Checkpoint struct {
	rdb *redis.Client
	key string
}

var _ cortex.CheckpointStore = (*Checkpoint)(nil)

// NewCheckpoint creates a Checkpoint. An empty key uses the default.
func NewCheckpoint(rdb *redis.Client, key string) *Checkpoint {
	if key == "" {
		key = DefaultCheckpointKey
	}
	return &Checkpoint{rdb: rdb, key: key}
}

// LoadCheckpoint returns the stored id, or "" when none exists.
func (c *Checkpoint) LoadCheckpoint(ctx context.Context) (string, error) {
	id, err := c.rdb.Get(ctx, c.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redisvec: load checkpoint: %w", err)
	}
	return id, nil
}

// SaveCheckpoint persists the id.
func (c *Checkpoint) SaveCheckpoint(ctx context.Context, id string) error {
	if err := c.rdb.Set(ctx, c.key, id, 0).Err(); err != nil {
		return fmt.Errorf("redisvec: save checkpoint: %w", err)
	}
	return nil
}
