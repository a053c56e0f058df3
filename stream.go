package cortex

import (
	"context"
	"time"
)

// CaptureStream is the append-only bounded log of user turns. Many writers,
// one reader (the scoring worker). The stream is trimmed to a configured
// maximum length; oldest entries are silently dropped, which is the
// pipeline's only backpressure mechanism.
type CaptureStream interface {
	// Append adds a turn to the stream. Implementations may fail; callers
	// on the request path must treat failures as best-effort (log and
	// move on — see pipeline.Capture).
	Append(ctx context.Context, t Turn) error
	// Read returns up to count entries strictly after afterID, blocking up
	// to block when the stream is empty. afterID "0" reads from the
	// earliest retained entry; "$" reads only entries appended after the
	// call starts.
	Read(ctx context.Context, afterID string, count int, block time.Duration) ([]Entry, error)
}

// StreamStart values for the scoring worker's no-checkpoint policy.
const (
	StreamEarliest = "0"
	StreamLatest   = "$"
)

// CheckpointStore persists the scoring worker's progress. Written only by
// the worker; read at startup. The checkpoint advances monotonically.
type CheckpointStore interface {
	// LoadCheckpoint returns the stored id, or "" when none exists.
	LoadCheckpoint(ctx context.Context) (string, error)
	SaveCheckpoint(ctx context.Context, id string) error
}
