package metrics

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/common/expfmt"

	cortex "github.com/nevindra/cortex"
)

// TokenScraper estimates per-backend token throughput by scraping each
// backend's Prometheus text endpoint and differencing its cumulative
// *_tokens_total counters between samples.
type TokenScraper struct {
	targets map[string]string // backend name -> metrics URL
	client  *http.Client
	logger  *slog.Logger

	mu   sync.Mutex
	prev map[string]tokenSample
}

type tokenSample struct {
	total float64
	at    time.Time
}

// ScraperOption configures a TokenScraper.
type ScraperOption func(*TokenScraper)

// WithScraperHTTPClient replaces the HTTP client.
func WithScraperHTTPClient(c *http.Client) ScraperOption {
	return func(s *TokenScraper) { s.client = c }
}

// WithScraperLogger sets the logger.
func WithScraperLogger(l *slog.Logger) ScraperOption {
	return func(s *TokenScraper) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewTokenScraper creates a scraper for the named metrics URLs.
func NewTokenScraper(targets map[string]string, opts ...ScraperOption) *TokenScraper {
	s := &TokenScraper{
		targets: targets,
		client:  &http.Client{Timeout: 2 * time.Second},
		logger:  cortex.NopLogger(),
		prev:    make(map[string]tokenSample),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Sample scrapes every target and returns tokens/sec per backend. A
// backend's first sample establishes its baseline and reports nothing;
// unreachable backends are skipped.
func (s *TokenScraper) Sample(ctx context.Context, now time.Time) map[string]float64 {
	out := make(map[string]float64)
	for name, url := range s.targets {
		total, err := s.scrape(ctx, url)
		if err != nil {
			s.logger.Debug("token scrape failed", "backend", name, "error", err)
			continue
		}
		s.mu.Lock()
		prev, ok := s.prev[name]
		s.prev[name] = tokenSample{total: total, at: now}
		s.mu.Unlock()
		if !ok {
			continue
		}
		wall := now.Sub(prev.at).Seconds()
		if wall <= 0 || total < prev.total {
			// Counter reset (backend restarted): re-baseline.
			continue
		}
		out[name] = (total - prev.total) / wall
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// scrape fetches one Prometheus text endpoint and sums every counter
// family whose name ends in _tokens_total.
func (s *TokenScraper) scrape(ctx context.Context, url string) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return 0, &cortex.ErrHTTP{Status: resp.StatusCode}
	}
	return SumTokenCounters(io.LimitReader(resp.Body, 4<<20))
}

// SumTokenCounters parses Prometheus text format and sums all samples of
// families named *_tokens_total. Counter and untyped families both count;
// llama.cpp-style servers expose these as untyped.
func SumTokenCounters(r io.Reader) (float64, error) {
	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(r)
	if err != nil {
		return 0, err
	}
	var total float64
	for name, mf := range families {
		if !strings.HasSuffix(name, "_tokens_total") {
			continue
		}
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				total += c.GetValue()
			} else if u := m.GetUntyped(); u != nil {
				total += u.GetValue()
			}
		}
	}
	return total, nil
}
