// Package failover chains multiple inference backends into a single
// cortex.Engine. Requests go to the first backend; on a transport error,
// a 5xx response or a per-attempt timeout the chain advances to the next
// backend. Client errors (4xx) fail immediately since retrying a request
// the backend rejected as malformed cannot succeed elsewhere.
package failover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	cortex "github.com/nevindra/cortex"
)

// Chain is an ordered list of backends tried in sequence.
type Chain struct {
	backends       []cortex.Engine
	attemptTimeout time.Duration
	logger         *slog.Logger
}

var _ cortex.Engine = (*Chain)(nil)

// Option configures a Chain.
type Option func(*Chain)

// WithAttemptTimeout bounds each backend attempt so a hung primary
// cannot consume the whole request deadline (default: 60s).
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Chain) { c.attemptTimeout = d }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Chain) { c.logger = l }
}

// New creates a Chain over the given backends, tried in argument order.
func New(backends []cortex.Engine, opts ...Option) (*Chain, error) {
	if len(backends) == 0 {
		return nil, errors.New("failover: at least one backend required")
	}
	c := &Chain{
		backends:       backends,
		attemptTimeout: 60 * time.Second,
		logger:         cortex.NopLogger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Name lists the chained backend names.
func (c *Chain) Name() string {
	names := make([]string, len(c.backends))
	for i, b := range c.backends {
		names[i] = b.Name()
	}
	return "failover(" + strings.Join(names, ",") + ")"
}

// Complete tries each backend until one succeeds.
func (c *Chain) Complete(ctx context.Context, req cortex.CompletionRequest) (cortex.CompletionResult, error) {
	var result cortex.CompletionResult
	err := c.attempt(ctx, "complete", func(ctx context.Context, b cortex.Engine) error {
		var err error
		result, err = b.Complete(ctx, req)
		return err
	})
	return result, err
}

// Chat tries each backend until one succeeds.
func (c *Chain) Chat(ctx context.Context, req cortex.ChatRequest) (cortex.ChatResult, error) {
	var result cortex.ChatResult
	err := c.attempt(ctx, "chat", func(ctx context.Context, b cortex.Engine) error {
		var err error
		result, err = b.Chat(ctx, req)
		return err
	})
	return result, err
}

// Health reports nil when at least one backend is reachable.
func (c *Chain) Health(ctx context.Context) error {
	var last error
	for _, b := range c.backends {
		if err := b.Health(ctx); err == nil {
			return nil
		} else {
			last = err
		}
	}
	return fmt.Errorf("all backends unhealthy: %w", last)
}

func (c *Chain) attempt(ctx context.Context, op string, call func(context.Context, cortex.Engine) error) error {
	var last error
	for i, b := range c.backends {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
		err := call(attemptCtx, b)
		cancel()
		if err == nil {
			if i > 0 {
				c.logger.Info("backend failover succeeded",
					"op", op, "backend", b.Name(), "attempts", i+1)
			}
			return nil
		}
		if !advance(err) {
			return err
		}
		c.logger.Warn("backend failed, advancing",
			"op", op, "backend", b.Name(), "error", err)
		last = err
	}
	return cortex.NewModelError(c.Name(), fmt.Errorf("all %d backends failed: %w", len(c.backends), last))
}

// advance reports whether the chain should try the next backend after err.
// Timeouts and server-side or transport failures advance; anything the
// backend classified as a client error does not.
func advance(err error) bool {
	var he *cortex.ErrHTTP
	if errors.As(err, &he) {
		return he.Status >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	// Transport-level failure: connection refused, DNS, reset.
	return true
}
