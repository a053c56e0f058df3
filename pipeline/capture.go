package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	cortex "github.com/nevindra/cortex"
)

// Capture is the fire-and-forget entry point of the memory pipeline.
// Turns go into a bounded channel and a background goroutine appends them
// to the capture stream; when the channel is full the turn is dropped and
// counted. The request path never blocks on Redis.
type Capture struct {
	stream  cortex.CaptureStream
	ch      chan cortex.Turn
	timeout time.Duration
	logger  *slog.Logger

	wg      sync.WaitGroup
	closed  atomic.Bool
	dropped atomic.Int64
}

// CaptureOption configures a Capture.
type CaptureOption func(*Capture)

// WithCaptureBuffer sets the channel capacity (default: 256).
func WithCaptureBuffer(n int) CaptureOption {
	return func(c *Capture) {
		if n > 0 {
			c.ch = make(chan cortex.Turn, n)
		}
	}
}

// WithCaptureTimeout bounds each append to the stream (default: 5s).
func WithCaptureTimeout(d time.Duration) CaptureOption {
	return func(c *Capture) { c.timeout = d }
}

// WithCaptureLogger sets a structured logger.
func WithCaptureLogger(l *slog.Logger) CaptureOption {
	return func(c *Capture) { c.logger = l }
}

// NewCapture creates a Capture and starts its background appender.
func NewCapture(stream cortex.CaptureStream, opts ...CaptureOption) *Capture {
	c := &Capture{
		stream:  stream,
		ch:      make(chan cortex.Turn, 256),
		timeout: 5 * time.Second,
		logger:  cortex.NopLogger(),
	}
	for _, o := range opts {
		o(c)
	}
	c.wg.Add(1)
	go c.drain()
	return c
}

// Capture enqueues a turn. Never blocks; a full buffer drops the turn.
// Empty messages are ignored.
func (c *Capture) Capture(message, sessionID string) {
	if message == "" || c.closed.Load() {
		return
	}
	t := cortex.Turn{
		Message:   message,
		SessionID: sessionID,
		Timestamp: cortex.NowUnixMilli(),
	}
	select {
	case c.ch <- t:
	default:
		n := c.dropped.Add(1)
		c.logger.Warn("capture buffer full, turn dropped", "total_dropped", n)
	}
}

// CaptureTurn enqueues a fully-built turn, preserving its metadata.
func (c *Capture) CaptureTurn(t cortex.Turn) {
	if t.Message == "" || c.closed.Load() {
		return
	}
	if t.Timestamp == 0 {
		t.Timestamp = cortex.NowUnixMilli()
	}
	select {
	case c.ch <- t:
	default:
		n := c.dropped.Add(1)
		c.logger.Warn("capture buffer full, turn dropped", "total_dropped", n)
	}
}

// Dropped reports how many turns were discarded on a full buffer.
func (c *Capture) Dropped() int64 { return c.dropped.Load() }

// Close stops accepting turns, flushes the buffer, and waits for the
// appender to exit.
func (c *Capture) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.ch)
	c.wg.Wait()
	return nil
}

func (c *Capture) drain() {
	defer c.wg.Done()
	for t := range c.ch {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		if err := c.stream.Append(ctx, t); err != nil {
			c.logger.Warn("capture append failed", "error", err)
		}
		cancel()
	}
}
