package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

type memHistory struct {
	entries []json.RawMessage
	scores  []int64
	err     error
}

func (h *memHistory) Append(ctx context.Context, ts int64, snapshot any) error {
	if h.err != nil {
		return h.err
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	h.entries = append(h.entries, raw)
	h.scores = append(h.scores, ts)
	return nil
}

func (h *memHistory) Since(ctx context.Context, from, to int64) ([]json.RawMessage, error) {
	if h.err != nil {
		return nil, h.err
	}
	var out []json.RawMessage
	for i, s := range h.scores {
		if s >= from && s <= to {
			out = append(out, h.entries[i])
		}
	}
	return out, nil
}

func TestRequestStats(t *testing.T) {
	var s RequestStats
	s.Record(100*time.Millisecond, true)
	s.Record(300*time.Millisecond, false)

	n, lat, errPct := s.snapshot()
	if n != 2 {
		t.Errorf("requests = %d", n)
	}
	if math.Abs(lat-200) > 0.001 {
		t.Errorf("avg latency = %v ms", lat)
	}
	if errPct != 50 {
		t.Errorf("error rate = %v", errPct)
	}
}

func TestSnapshot_CPUAndMemory(t *testing.T) {
	cpuSecs := 10.0
	c := NewCollector(nil, nil)
	c.readProc = func() (float64, uint64, error) { return cpuSecs, 512 << 20, nil }

	base := time.Unix(1000, 0)
	c.now = func() time.Time { return base }
	first := c.Snapshot(context.Background())
	if first.CPUPercent != 0 {
		t.Errorf("first cpu = %v, want 0 (no baseline)", first.CPUPercent)
	}
	if first.MemoryMB != 512 {
		t.Errorf("memory = %v MB", first.MemoryMB)
	}

	// 5 CPU-seconds over 10 wall-seconds = 50%.
	cpuSecs = 15.0
	c.now = func() time.Time { return base.Add(10 * time.Second) }
	second := c.Snapshot(context.Background())
	if math.Abs(second.CPUPercent-50) > 0.001 {
		t.Errorf("cpu = %v, want 50", second.CPUPercent)
	}
}

func TestSnapshot_Probes(t *testing.T) {
	c := NewCollector(nil, nil, WithProbes(
		Probe{Name: "vorpal", Check: func(ctx context.Context) error { return nil }},
		Probe{Name: "sandbox", Check: func(ctx context.Context) error { return errors.New("down") }},
	))
	c.readProc = func() (float64, uint64, error) { return 0, 0, nil }

	snap := c.Snapshot(context.Background())
	if snap.Services["vorpal"] != "healthy" || snap.Services["sandbox"] != "unhealthy" {
		t.Errorf("services = %v", snap.Services)
	}
}

func TestWindow_FiltersAndSummarizes(t *testing.T) {
	hist := &memHistory{}
	now := time.Unix(100000, 0)
	c := NewCollector(hist, nil)
	c.now = func() time.Time { return now }

	old := Snapshot{Timestamp: now.Unix() - 7200, CPUPercent: 90}
	in1 := Snapshot{Timestamp: now.Unix() - 1800, CPUPercent: 10, MemoryMB: 100, RequestCount: 5}
	in2 := Snapshot{Timestamp: now.Unix() - 60, CPUPercent: 30, MemoryMB: 300, RequestCount: 9, AvgLatencyMS: 12, ErrorRatePct: 25}
	for _, s := range []Snapshot{old, in1, in2} {
		hist.Append(context.Background(), s.Timestamp, s)
	}

	snaps, sum, err := c.Window(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 2 {
		t.Fatalf("snaps = %d, want 2 (old one excluded)", len(snaps))
	}
	if sum.AvgCPU != 20 || sum.MaxCPU != 30 {
		t.Errorf("cpu summary = %+v", sum)
	}
	if sum.AvgMemoryMB != 200 || sum.MaxMemoryMB != 300 {
		t.Errorf("memory summary = %+v", sum)
	}
	if sum.TotalRequests != 9 || sum.AvgLatencyMS != 12 || sum.ErrorRatePct != 25 {
		t.Errorf("counter summary = %+v", sum)
	}
}

func TestWindow_ClampsHours(t *testing.T) {
	hist := &memHistory{}
	now := time.Unix(200000, 0)
	c := NewCollector(hist, nil)
	c.now = func() time.Time { return now }

	edge := Snapshot{Timestamp: now.Unix() - 24*3600}
	hist.Append(context.Background(), edge.Timestamp, edge)

	snaps, _, err := c.Window(context.Background(), 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 1 {
		t.Errorf("snaps = %d, want the 24h-old edge snapshot", len(snaps))
	}
}

const promText = `# HELP llamacpp_prompt_tokens_total Number of prompt tokens processed.
# TYPE llamacpp_prompt_tokens_total counter
llamacpp_prompt_tokens_total 1500
# TYPE llamacpp_tokens_predicted_total counter
llamacpp_tokens_predicted_total 300
# TYPE some_gauge gauge
some_gauge 42
untyped_tokens_total 200
`

func TestSumTokenCounters(t *testing.T) {
	got, err := SumTokenCounters(strings.NewReader(promText))
	if err != nil {
		t.Fatal(err)
	}
	// prompt_tokens_total + untyped_tokens_total; tokens_predicted_total
	// does not match the suffix and the gauge is ignored.
	if got != 1700 {
		t.Errorf("sum = %v, want 1700", got)
	}
}

func TestTokenScraper_Differences(t *testing.T) {
	total := 1000
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("server_tokens_total " + strconv.Itoa(total) + "\n"))
	}))
	defer srv.Close()

	s := NewTokenScraper(map[string]string{"vorpal": srv.URL})
	base := time.Unix(5000, 0)

	if got := s.Sample(context.Background(), base); got != nil {
		t.Errorf("first sample = %v, want nil baseline", got)
	}

	total = 1250
	got := s.Sample(context.Background(), base.Add(10*time.Second))
	if math.Abs(got["vorpal"]-25) > 0.001 {
		t.Errorf("tokens/sec = %v, want 25", got["vorpal"])
	}
}

func TestTokenScraper_CounterReset(t *testing.T) {
	total := 1000
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("server_tokens_total " + strconv.Itoa(total) + "\n"))
	}))
	defer srv.Close()

	s := NewTokenScraper(map[string]string{"vorpal": srv.URL})
	base := time.Unix(5000, 0)
	s.Sample(context.Background(), base)

	total = 10 // backend restarted
	if got := s.Sample(context.Background(), base.Add(10*time.Second)); got != nil {
		t.Errorf("sample after reset = %v, want re-baseline", got)
	}

	total = 110
	got := s.Sample(context.Background(), base.Add(20*time.Second))
	if math.Abs(got["vorpal"]-10) > 0.001 {
		t.Errorf("tokens/sec = %v, want 10", got["vorpal"])
	}
}

func TestTokenScraper_UnreachableSkipped(t *testing.T) {
	s := NewTokenScraper(map[string]string{"gone": "http://127.0.0.1:1/metrics"})
	if got := s.Sample(context.Background(), time.Now()); got != nil {
		t.Errorf("sample = %v", got)
	}
}

