package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	cortex "github.com/nevindra/cortex"
)

// --- fakes ---

type fakeStream struct {
	mu      sync.Mutex
	entries []cortex.Entry
	appends int
	err     error
}

func (f *fakeStream) Append(_ context.Context, t cortex.Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.appends++
	f.entries = append(f.entries, cortex.Entry{
		ID:   fmt.Sprintf("%d-0", len(f.entries)+1),
		Turn: t,
	})
	return nil
}

func (f *fakeStream) Read(_ context.Context, afterID string, count int, _ time.Duration) ([]cortex.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	start := 0
	if afterID != cortex.StreamEarliest && afterID != cortex.StreamLatest {
		for i, e := range f.entries {
			if e.ID == afterID {
				start = i + 1
			}
		}
	}
	if afterID == cortex.StreamLatest {
		start = len(f.entries)
	}
	end := start + count
	if end > len(f.entries) {
		end = len(f.entries)
	}
	return f.entries[start:end], nil
}

type fakeCheckpoint struct {
	mu    sync.Mutex
	id    string
	saves []string
}

func (f *fakeCheckpoint) LoadCheckpoint(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.id, nil
}

func (f *fakeCheckpoint) SaveCheckpoint(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.id = id
	f.saves = append(f.saves, id)
	return nil
}

type fakeStore struct {
	mu        sync.Mutex
	records   map[string]cortex.Record
	nearest   []cortex.Match
	searchErr error
	putErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[string]cortex.Record{}}
}

func (f *fakeStore) Put(_ context.Context, ns string, rec cortex.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.records[ns+":"+rec.ID] = rec
	return nil
}

func (f *fakeStore) Get(_ context.Context, ns, id string) (cortex.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[ns+":"+id]
	if !ok {
		return cortex.Record{}, cortex.ErrNotFound
	}
	return rec, nil
}

func (f *fakeStore) Delete(_ context.Context, ns, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, ns+":"+id)
	return nil
}

func (f *fakeStore) Search(context.Context, string, string, int, *cortex.Filter) ([]cortex.Match, error) {
	return f.nearest, f.searchErr
}

func (f *fakeStore) SearchVector(context.Context, string, []float32, int, *cortex.Filter) ([]cortex.Match, error) {
	return f.nearest, f.searchErr
}

func (f *fakeStore) Count(_ context.Context, ns string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k := range f.records {
		if strings.HasPrefix(k, ns+":") {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) Scan(_ context.Context, ns string, fn func(string) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k := range f.records {
		if strings.HasPrefix(k, ns+":") {
			if err := fn(strings.TrimPrefix(k, ns+":")); err != nil {
				return err
			}
		}
	}
	return nil
}

type fakeEmbedder struct{ err error }

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return 3 }
func (f *fakeEmbedder) Name() string    { return "fake" }

type scoringEngine struct {
	meanLogProb float64
	hasLogProb  bool
	err         error
	healthErr   error
	calls       int
}

func (s *scoringEngine) Complete(context.Context, cortex.CompletionRequest) (cortex.CompletionResult, error) {
	s.calls++
	if s.err != nil {
		return cortex.CompletionResult{}, s.err
	}
	return cortex.CompletionResult{MeanLogProb: s.meanLogProb, HasLogProb: s.hasLogProb, Backend: "fake"}, nil
}

func (s *scoringEngine) Chat(context.Context, cortex.ChatRequest) (cortex.ChatResult, error) {
	return cortex.ChatResult{}, nil
}

func (s *scoringEngine) Health(context.Context) error { return s.healthErr }
func (s *scoringEngine) Name() string                 { return "fake" }

func newTestWorker(stream cortex.CaptureStream, cp cortex.CheckpointStore, store *fakeStore, eng cortex.Engine, opts ...WorkerOption) *Worker {
	base := []WorkerOption{WithPerplexityRetries(0), WithBlock(0)}
	w := NewWorker(stream, cp, store, &fakeEmbedder{}, eng, append(base, opts...)...)
	w.retryBackoff = 0
	w.errBackoff = 0
	return w
}

func entry(id, msg string) cortex.Entry {
	return cortex.Entry{ID: id, Turn: cortex.Turn{Message: msg, SessionID: "default", Timestamp: 1700000000000}}
}

// --- scoring math ---

func TestNormalizePerplexity(t *testing.T) {
	if got := NormalizePerplexity(0); got != 0 {
		t.Errorf("NormalizePerplexity(0) = %v", got)
	}
	// ln(147.41+1)/5 ≈ 1, the saturation point.
	if got := NormalizePerplexity(math.Exp(5) - 1); math.Abs(got-1) > 1e-9 {
		t.Errorf("saturation point = %v, want 1", got)
	}
	if got := NormalizePerplexity(1e9); got != 1 {
		t.Errorf("huge perplexity = %v, want clamped to 1", got)
	}
	if got := NormalizePerplexity(-5); got != 0 {
		t.Errorf("negative perplexity = %v, want 0", got)
	}
}

func TestSurpriseScore(t *testing.T) {
	if got := SurpriseScore(1, 1, 0.6, 0.4); math.Abs(got-1) > 1e-9 {
		t.Errorf("max inputs = %v, want 1", got)
	}
	if got := SurpriseScore(0.5, 0.5, 0.6, 0.4); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("midpoint = %v, want 0.5", got)
	}
	// Cosine distance past 1 clamps.
	if got := SurpriseScore(0, 2, 0.6, 0.4); math.Abs(got-0.4) > 1e-9 {
		t.Errorf("clamped distance = %v, want 0.4", got)
	}
}

// --- worker ---

func TestProcess_SurprisingTurnStored(t *testing.T) {
	store := newFakeStore() // empty memory → distance 1.0
	eng := &scoringEngine{meanLogProb: -4, hasLogProb: true}
	w := newTestWorker(&fakeStream{}, &fakeCheckpoint{}, store, eng)

	if err := w.process(context.Background(), entry("1-0", "the reactor shut down")); err != nil {
		t.Fatal(err)
	}
	if len(store.records) != 1 {
		t.Fatalf("stored %d records", len(store.records))
	}
	for _, rec := range store.records {
		m := cortex.MemoryFromRecord(rec)
		if m.Surprise < w.threshold {
			t.Errorf("stored surprise %v below threshold", m.Surprise)
		}
		if m.Meta["entry_id"] != "1-0" {
			t.Errorf("meta = %v", m.Meta)
		}
		if m.Meta["perplexity_fallback"] != "" {
			t.Error("fallback flag set on a successful perplexity call")
		}
		if m.Timestamp != 1700000000000 {
			t.Errorf("timestamp = %d", m.Timestamp)
		}
	}
}

func TestProcess_BoringTurnSkipped(t *testing.T) {
	store := newFakeStore()
	// A very close neighbor and near-zero perplexity: nothing new here.
	store.nearest = []cortex.Match{{Distance: 0.05}}
	eng := &scoringEngine{meanLogProb: 0, hasLogProb: true} // perplexity 1
	w := newTestWorker(&fakeStream{}, &fakeCheckpoint{}, store, eng)

	if err := w.process(context.Background(), entry("1-0", "hello again")); err != nil {
		t.Fatal(err)
	}
	if len(store.records) != 0 {
		t.Errorf("boring turn was stored: %v", store.records)
	}
}

func TestProcess_EmptyMessageSkipped(t *testing.T) {
	store := newFakeStore()
	eng := &scoringEngine{}
	w := newTestWorker(&fakeStream{}, &fakeCheckpoint{}, store, eng)
	if err := w.process(context.Background(), entry("1-0", "")); err != nil {
		t.Fatal(err)
	}
	if eng.calls != 0 {
		t.Error("empty message reached the engine")
	}
}

func TestProcess_PerplexityFallback(t *testing.T) {
	store := newFakeStore()
	eng := &scoringEngine{err: errors.New("backend down")}
	w := newTestWorker(&fakeStream{}, &fakeCheckpoint{}, store, eng, WithPerplexityRetries(2))

	if err := w.process(context.Background(), entry("1-0", "novel message")); err != nil {
		t.Fatal(err)
	}
	if eng.calls != 3 {
		t.Errorf("engine called %d times, want 1 + 2 retries", eng.calls)
	}
	// Neutral perplexity (0.5 normalized) + empty memory distance (1.0)
	// scores 0.7, exactly at the threshold → stored with the flag.
	if len(store.records) != 1 {
		t.Fatalf("stored %d records", len(store.records))
	}
	for _, rec := range store.records {
		m := cortex.MemoryFromRecord(rec)
		if m.Meta["perplexity_fallback"] != "true" {
			t.Errorf("fallback flag missing: %v", m.Meta)
		}
	}
}

func TestProcess_SearchErrorNeutralDistance(t *testing.T) {
	store := newFakeStore()
	store.searchErr = errors.New("index rebuilding")
	eng := &scoringEngine{meanLogProb: -1, hasLogProb: true}
	w := newTestWorker(&fakeStream{}, &fakeCheckpoint{}, store, eng)

	// Must not fail the entry; the distance is just scored neutrally.
	if err := w.process(context.Background(), entry("1-0", "msg")); err != nil {
		t.Fatal(err)
	}
}

func TestProcess_StoreErrorPropagates(t *testing.T) {
	store := newFakeStore()
	store.putErr = errors.New("redis down")
	eng := &scoringEngine{meanLogProb: -5, hasLogProb: true}
	w := newTestWorker(&fakeStream{}, &fakeCheckpoint{}, store, eng)

	if err := w.process(context.Background(), entry("1-0", "important")); err == nil {
		t.Fatal("store failure must propagate so the checkpoint does not advance")
	}
}

func TestRun_CheckpointAdvances(t *testing.T) {
	stream := &fakeStream{}
	for i := 1; i <= 3; i++ {
		stream.Append(context.Background(), cortex.Turn{Message: fmt.Sprintf("turn %d", i), Timestamp: 1})
	}
	cp := &fakeCheckpoint{}
	store := newFakeStore()
	eng := &scoringEngine{meanLogProb: -5, hasLogProb: true}
	w := newTestWorker(stream, cp, store, eng, WithStartFromEarliest())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := w.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run = %v", err)
	}
	if cp.id != "3-0" {
		t.Errorf("checkpoint = %q, want 3-0", cp.id)
	}
	if len(cp.saves) != 3 {
		t.Errorf("saves = %v, want one per entry", cp.saves)
	}
}

func TestRun_StartsDespiteUnhealthyEngine(t *testing.T) {
	stream := &fakeStream{}
	stream.Append(context.Background(), cortex.Turn{Message: "scored without a gateway", Timestamp: 1})
	cp := &fakeCheckpoint{}
	store := newFakeStore()
	eng := &scoringEngine{err: errors.New("backend down"), healthErr: errors.New("backend down")}
	w := newTestWorker(stream, cp, store, eng, WithStartFromEarliest(), WithHealthWait(0))
	w.healthInterval = 0

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := w.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run = %v", err)
	}
	// The bounded wait expired, the entry was scored through the neutral
	// fallback, and the checkpoint advanced.
	if cp.id != "1-0" {
		t.Errorf("checkpoint = %q, want 1-0", cp.id)
	}
}

func TestRun_StartFromLatestIgnoresBacklog(t *testing.T) {
	stream := &fakeStream{}
	stream.Append(context.Background(), cortex.Turn{Message: "old backlog", Timestamp: 1})
	cp := &fakeCheckpoint{}
	store := newFakeStore()
	eng := &scoringEngine{meanLogProb: -5, hasLogProb: true}
	w := newTestWorker(stream, cp, store, eng) // default: latest

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	w.Run(ctx)
	if len(store.records) != 0 {
		t.Errorf("backlog was scored under the latest policy: %v", store.records)
	}
}

func TestRun_ResumesFromCheckpoint(t *testing.T) {
	stream := &fakeStream{}
	for i := 1; i <= 3; i++ {
		stream.Append(context.Background(), cortex.Turn{Message: fmt.Sprintf("turn %d", i), Timestamp: 1})
	}
	cp := &fakeCheckpoint{id: "2-0"}
	store := newFakeStore()
	eng := &scoringEngine{meanLogProb: -5, hasLogProb: true}
	w := newTestWorker(stream, cp, store, eng)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	w.Run(ctx)
	if len(store.records) != 1 {
		t.Errorf("stored %d records, want only the entry after the checkpoint", len(store.records))
	}
}

// --- capture ---

func TestCapture_AppendsInBackground(t *testing.T) {
	stream := &fakeStream{}
	c := NewCapture(stream)
	c.Capture("remember me", "default")
	c.Capture("", "default") // ignored
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if stream.appends != 1 {
		t.Errorf("appends = %d, want 1", stream.appends)
	}
	if stream.entries[0].Turn.Timestamp == 0 {
		t.Error("timestamp not assigned")
	}
}

// slowStream holds the drain goroutine on its first append until released,
// so the capture buffer demonstrably fills up.
type slowStream struct {
	fakeStream
	gate chan struct{}
}

func (s *slowStream) Append(ctx context.Context, t cortex.Turn) error {
	<-s.gate
	return s.fakeStream.Append(ctx, t)
}

func TestCapture_DropsWhenFull(t *testing.T) {
	stream := &slowStream{gate: make(chan struct{})}
	c := NewCapture(stream, WithCaptureBuffer(1))
	for i := 0; i < 10; i++ {
		c.Capture(fmt.Sprintf("turn %d", i), "default")
	}
	if c.Dropped() == 0 {
		t.Error("no turns dropped despite tiny buffer")
	}
	close(stream.gate)
	c.Close()
}

func TestCapture_CloseIsIdempotent(t *testing.T) {
	c := NewCapture(&fakeStream{})
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	// After close, Capture must not panic on the closed channel.
	c.Capture("late", "default")
}
