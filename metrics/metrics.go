// Package metrics collects periodic performance snapshots: process CPU
// and memory from procfs, per-collaborator health, request counters fed
// by server middleware, and per-backend token throughput scraped from the
// backends' own Prometheus endpoints. Snapshots land in a capped history
// (a Redis sorted set in production) and are read back by time range.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/procfs"

	cortex "github.com/nevindra/cortex"
)

// Snapshot is one collection cycle's worth of metrics.
type Snapshot struct {
	Timestamp    int64              `json:"timestamp"` // unix seconds
	CPUPercent   float64            `json:"cpu_percent"`
	MemoryMB     float64            `json:"memory_mb"`
	RequestCount int64              `json:"request_count"`
	AvgLatencyMS float64            `json:"avg_latency_ms"`
	ErrorRatePct float64            `json:"error_rate_pct"`
	Services     map[string]string  `json:"services,omitempty"`
	TokensPerSec map[string]float64 `json:"tokens_per_sec,omitempty"`
}

// Summary aggregates a range of snapshots for the metrics endpoint.
type Summary struct {
	AvgCPU        float64 `json:"avg_cpu"`
	MaxCPU        float64 `json:"max_cpu"`
	AvgMemoryMB   float64 `json:"avg_memory"`
	MaxMemoryMB   float64 `json:"max_memory"`
	TotalRequests int64   `json:"total_requests"`
	AvgLatencyMS  float64 `json:"avg_latency"`
	ErrorRatePct  float64 `json:"error_rate"`
}

// RequestStats accumulates request counters. Safe for concurrent use;
// the server middleware calls Record on every response.
type RequestStats struct {
	requests  atomic.Int64
	errors    atomic.Int64
	latencyUS atomic.Int64
}

// Record adds one request outcome.
func (s *RequestStats) Record(latency time.Duration, success bool) {
	s.requests.Add(1)
	s.latencyUS.Add(latency.Microseconds())
	if !success {
		s.errors.Add(1)
	}
}

// snapshot reads the running totals.
func (s *RequestStats) snapshot() (requests int64, avgLatencyMS, errorRatePct float64) {
	requests = s.requests.Load()
	if requests == 0 {
		return 0, 0, 0
	}
	avgLatencyMS = float64(s.latencyUS.Load()) / float64(requests) / 1000
	errorRatePct = float64(s.errors.Load()) / float64(requests) * 100
	return requests, avgLatencyMS, errorRatePct
}

// Probe is a named health check for a collaborator or backend.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// HistoryStore persists snapshots keyed by unix timestamp.
// *redisvec.History implements it.
type HistoryStore interface {
	Append(ctx context.Context, unixTS int64, snapshot any) error
	Since(ctx context.Context, from, to int64) ([]json.RawMessage, error)
}

// Collector gathers snapshots on a fixed interval.
type Collector struct {
	history HistoryStore
	stats   *RequestStats
	probes  []Probe
	scraper *TokenScraper

	interval     time.Duration
	probeTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time

	// readProc returns cumulative process CPU seconds and resident
	// memory; stubbed in tests.
	readProc func() (cpuSeconds float64, rssBytes uint64, err error)

	mu          sync.Mutex
	prevCPUSecs float64
	prevCPUAt   time.Time
}

// Option configures a Collector.
type Option func(*Collector)

// WithInterval sets the collection period.
func WithInterval(d time.Duration) Option {
	return func(c *Collector) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithProbeTimeout bounds each health check.
func WithProbeTimeout(d time.Duration) Option {
	return func(c *Collector) {
		if d > 0 {
			c.probeTimeout = d
		}
	}
}

// WithProbes registers health checks included in every snapshot.
func WithProbes(probes ...Probe) Option {
	return func(c *Collector) { c.probes = append(c.probes, probes...) }
}

// WithTokenScraper enables per-backend tokens/sec sampling.
func WithTokenScraper(s *TokenScraper) Option {
	return func(c *Collector) { c.scraper = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Collector) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCollector creates a Collector writing to history. stats may be shared
// with the server middleware.
func NewCollector(history HistoryStore, stats *RequestStats, opts ...Option) *Collector {
	if stats == nil {
		stats = &RequestStats{}
	}
	c := &Collector{
		history:      history,
		stats:        stats,
		interval:     30 * time.Second,
		probeTimeout: 2 * time.Second,
		logger:       cortex.NopLogger(),
		now:          time.Now,
		readProc:     readSelfProc,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Stats returns the request counter sink for middleware wiring.
func (c *Collector) Stats() *RequestStats { return c.stats }

// Snapshot collects one snapshot without storing it.
func (c *Collector) Snapshot(ctx context.Context) Snapshot {
	now := c.now()
	snap := Snapshot{Timestamp: now.Unix()}

	if cpuSecs, rss, err := c.readProc(); err != nil {
		c.logger.Warn("process stats unavailable", "error", err)
	} else {
		snap.MemoryMB = float64(rss) / (1 << 20)
		snap.CPUPercent = c.cpuPercent(cpuSecs, now)
	}

	snap.RequestCount, snap.AvgLatencyMS, snap.ErrorRatePct = c.stats.snapshot()

	if len(c.probes) > 0 {
		snap.Services = make(map[string]string, len(c.probes))
		for _, p := range c.probes {
			snap.Services[p.Name] = c.probeStatus(ctx, p)
		}
	}

	if c.scraper != nil {
		snap.TokensPerSec = c.scraper.Sample(ctx, now)
	}
	return snap
}

// cpuPercent differences cumulative CPU seconds against the previous
// sample. The first call has no baseline and reports zero.
func (c *Collector) cpuPercent(cpuSecs float64, now time.Time) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() {
		c.prevCPUSecs = cpuSecs
		c.prevCPUAt = now
	}()
	if c.prevCPUAt.IsZero() {
		return 0
	}
	wall := now.Sub(c.prevCPUAt).Seconds()
	if wall <= 0 {
		return 0
	}
	pct := (cpuSecs - c.prevCPUSecs) / wall * 100
	if pct < 0 {
		return 0
	}
	return pct
}

func (c *Collector) probeStatus(ctx context.Context, p Probe) string {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()
	if err := p.Check(ctx); err != nil {
		return "unhealthy"
	}
	return "healthy"
}

// Run collects and stores a snapshot every interval until ctx ends.
func (c *Collector) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snap := c.Snapshot(ctx)
			if c.history == nil {
				continue
			}
			if err := c.history.Append(ctx, snap.Timestamp, snap); err != nil {
				c.logger.Warn("store snapshot failed", "error", err)
			}
		}
	}
}

// Window reads back the last hours of snapshots with a summary. hours is
// clamped to [1, 24].
func (c *Collector) Window(ctx context.Context, hours int) ([]Snapshot, Summary, error) {
	if hours < 1 {
		hours = 1
	}
	if hours > 24 {
		hours = 24
	}
	if c.history == nil {
		return nil, Summary{}, nil
	}
	to := c.now().Unix()
	from := to - int64(hours)*3600
	raw, err := c.history.Since(ctx, from, to)
	if err != nil {
		return nil, Summary{}, err
	}
	snaps := make([]Snapshot, 0, len(raw))
	for _, r := range raw {
		var s Snapshot
		if err := json.Unmarshal(r, &s); err != nil {
			c.logger.Warn("skipping malformed snapshot", "error", err)
			continue
		}
		snaps = append(snaps, s)
	}
	return snaps, Summarize(snaps), nil
}

// Summarize aggregates snapshots; counters report the latest value since
// they are cumulative.
func Summarize(snaps []Snapshot) Summary {
	var sum Summary
	if len(snaps) == 0 {
		return sum
	}
	for _, s := range snaps {
		sum.AvgCPU += s.CPUPercent
		sum.AvgMemoryMB += s.MemoryMB
		if s.CPUPercent > sum.MaxCPU {
			sum.MaxCPU = s.CPUPercent
		}
		if s.MemoryMB > sum.MaxMemoryMB {
			sum.MaxMemoryMB = s.MemoryMB
		}
	}
	n := float64(len(snaps))
	sum.AvgCPU /= n
	sum.AvgMemoryMB /= n
	last := snaps[len(snaps)-1]
	sum.TotalRequests = last.RequestCount
	sum.AvgLatencyMS = last.AvgLatencyMS
	sum.ErrorRatePct = last.ErrorRatePct
	return sum
}

// readSelfProc reads cumulative CPU seconds and RSS for this process.
func readSelfProc() (float64, uint64, error) {
	p, err := procfs.Self()
	if err != nil {
		return 0, 0, fmt.Errorf("metrics: open procfs: %w", err)
	}
	st, err := p.Stat()
	if err != nil {
		return 0, 0, fmt.Errorf("metrics: read proc stat: %w", err)
	}
	return st.CPUTime(), uint64(st.ResidentMemory()), nil
}
