package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	cortex "github.com/nevindra/cortex"
)

// VectorSearcher is a cortex.Store that can also search with a
// pre-computed vector. All three store backends implement it; the worker
// needs it to reuse the candidate's own embedding for the novelty check.
type VectorSearcher interface {
	cortex.Store
	SearchVector(ctx context.Context, namespace string, vec []float32, k int, filter *cortex.Filter) ([]cortex.Match, error)
}

// Worker consumes the capture stream, scores each turn for surprise, and
// stores the surprising ones as long-term memories. One worker per stream;
// progress is checkpointed after every processed entry, so delivery is
// at-least-once and a crash re-processes at most the entry in flight.
type Worker struct {
	stream     cortex.CaptureStream
	checkpoint cortex.CheckpointStore
	store      VectorSearcher
	embedder   cortex.EmbeddingProvider
	engine     cortex.Engine

	perplexityWeight float64
	distanceWeight   float64
	threshold        float64
	startFrom        string
	batchSize        int
	block            time.Duration
	retries          int
	retryBackoff     time.Duration
	errBackoff       time.Duration
	healthInterval   time.Duration
	healthWait       time.Duration
	logger           *slog.Logger
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithWeights sets the perplexity and distance weights of the surprise
// score. They should sum to 1.
func WithWeights(perplexity, distance float64) WorkerOption {
	return func(w *Worker) {
		w.perplexityWeight = perplexity
		w.distanceWeight = distance
	}
}

// WithThreshold sets the minimum surprise score a turn needs to become a
// memory (default: 0.7).
func WithThreshold(t float64) WorkerOption {
	return func(w *Worker) { w.threshold = t }
}

// WithStartFromEarliest makes a worker with no checkpoint begin at the
// oldest retained entry instead of only scoring new arrivals.
func WithStartFromEarliest() WorkerOption {
	return func(w *Worker) { w.startFrom = cortex.StreamEarliest }
}

// WithBatchSize sets how many entries one stream read returns (default: 10).
func WithBatchSize(n int) WorkerOption {
	return func(w *Worker) { w.batchSize = n }
}

// WithBlock sets how long an empty stream read blocks (default: 5s).
func WithBlock(d time.Duration) WorkerOption {
	return func(w *Worker) { w.block = d }
}

// WithPerplexityRetries sets how many times a failed perplexity call is
// retried before falling back to a neutral score (default: 2).
func WithPerplexityRetries(n int) WorkerOption {
	return func(w *Worker) { w.retries = n }
}

// WithHealthWait bounds how long a starting worker waits for a healthy
// inference engine before scoring anyway (default: 2m). Entries scored
// against a down engine fall back to neutral perplexity.
func WithHealthWait(d time.Duration) WorkerOption {
	return func(w *Worker) { w.healthWait = d }
}

// WithWorkerLogger sets a structured logger.
func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) { w.logger = l }
}

// NewWorker wires a Worker. Scoring starts when Run is called.
func NewWorker(stream cortex.CaptureStream, checkpoint cortex.CheckpointStore, store VectorSearcher,
	embedder cortex.EmbeddingProvider, engine cortex.Engine, opts ...WorkerOption) *Worker {
	w := &Worker{
		stream:           stream,
		checkpoint:       checkpoint,
		store:            store,
		embedder:         embedder,
		engine:           engine,
		perplexityWeight: DefaultPerplexityWeight,
		distanceWeight:   DefaultDistanceWeight,
		threshold:        DefaultThreshold,
		startFrom:        cortex.StreamLatest,
		batchSize:        10,
		block:            5 * time.Second,
		retries:          2,
		retryBackoff:     time.Second,
		errBackoff:       2 * time.Second,
		healthInterval:   3 * time.Second,
		healthWait:       2 * time.Minute,
		logger:           cortex.NopLogger(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Run scores the stream until ctx is cancelled. Returns ctx.Err() on
// cancellation; any other error is fatal wiring (checkpoint store down at
// startup).
func (w *Worker) Run(ctx context.Context) error {
	last, err := w.checkpoint.LoadCheckpoint(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: load checkpoint: %w", err)
	}
	if last == "" {
		last = w.startFrom
		w.logger.Info("no checkpoint, applying start policy", "start_from", last)
	} else {
		w.logger.Info("resuming from checkpoint", "checkpoint", last)
	}

	w.waitHealthy(ctx)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		entries, err := w.stream.Read(ctx, last, w.batchSize, w.block)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Warn("stream read failed", "error", err)
			sleep(ctx, w.errBackoff)
			continue
		}
		for _, e := range entries {
			if err := w.process(ctx, e); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				// Checkpoint not advanced: the entry is re-read and
				// re-scored on the next pass.
				w.logger.Warn("entry processing failed, will retry",
					"entry_id", e.ID, "error", err)
				sleep(ctx, w.errBackoff)
				break
			}
			last = e.ID
			if err := w.checkpoint.SaveCheckpoint(ctx, e.ID); err != nil {
				w.logger.Warn("checkpoint save failed", "entry_id", e.ID, "error", err)
			}
		}
	}
}

// waitHealthy blocks until the inference engine answers a health probe,
// so a cold-started backend does not burn the retry budget of the first
// real entries. The wait is bounded: past the deadline the worker starts
// anyway and perplexity falls back to neutral, rather than letting the
// bounded stream trim away unscored turns.
func (w *Worker) waitHealthy(ctx context.Context) {
	deadline := time.Now().Add(w.healthWait)
	for {
		if ctx.Err() != nil {
			return
		}
		err := w.engine.Health(ctx)
		if err == nil {
			w.logger.Info("inference engine healthy, scoring started")
			return
		}
		if time.Now().After(deadline) {
			w.logger.Warn("inference engine still unhealthy, scoring anyway",
				"waited", w.healthWait, "error", err)
			return
		}
		w.logger.Info("waiting for inference engine", "error", err)
		sleep(ctx, w.healthInterval)
	}
}

// process scores one entry and stores it when surprising. A nil return
// advances the checkpoint; storage and embedding errors do not.
func (w *Worker) process(ctx context.Context, e cortex.Entry) error {
	msg := e.Turn.Message
	if msg == "" {
		return nil
	}

	perplexity, fallback := w.perplexity(ctx, msg)
	normPerp := NormalizePerplexity(perplexity)

	vecs, err := w.embedder.Embed(ctx, []string{msg})
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	vec := vecs[0]

	distance := w.noveltyDistance(ctx, vec)
	score := SurpriseScore(normPerp, distance, w.perplexityWeight, w.distanceWeight)

	if score < w.threshold {
		w.logger.Debug("turn not surprising, skipped",
			"entry_id", e.ID, "surprise", score,
			"perplexity", perplexity, "distance", distance)
		return nil
	}

	ts := e.Turn.Timestamp
	if ts == 0 {
		ts = cortex.NowUnixMilli()
	}
	meta := map[string]string{"entry_id": e.ID}
	for k, v := range e.Turn.Meta {
		meta[k] = v
	}
	if fallback {
		meta["perplexity_fallback"] = "true"
	}
	m := cortex.Memory{
		ID:         cortex.NewMemoryID(ts),
		Message:    msg,
		Embedding:  vec,
		Perplexity: perplexity,
		Surprise:   score,
		SessionID:  e.Turn.SessionID,
		Timestamp:  ts,
		Meta:       meta,
	}
	if err := w.store.Put(ctx, cortex.NamespaceMemory, m.ToRecord()); err != nil {
		return fmt.Errorf("store memory: %w", err)
	}
	w.logger.Info("memory stored",
		"memory_id", m.ID, "surprise", score,
		"perplexity", perplexity, "distance", distance, "fallback", fallback)
	return nil
}

// neutralPerplexity normalizes to exactly 0.5, the midpoint of the scale.
var neutralPerplexity = math.Exp(perplexityNormDivisor/2) - 1

// perplexity scores the message by echoing it through the engine with
// logprobs and averaging. After the retry budget is spent it falls back
// to a neutral value so a flaky backend degrades scoring instead of
// stalling the stream.
func (w *Worker) perplexity(ctx context.Context, msg string) (value float64, fallback bool) {
	var lastErr error
	for attempt := 0; attempt <= w.retries; attempt++ {
		if attempt > 0 {
			sleep(ctx, w.retryBackoff)
		}
		if ctx.Err() != nil {
			break
		}
		res, err := w.engine.Complete(ctx, cortex.CompletionRequest{
			Prompt:    msg,
			MaxTokens: 1,
			Echo:      true,
			LogProbs:  1,
		})
		if err != nil {
			lastErr = err
			continue
		}
		if !res.HasLogProb {
			lastErr = fmt.Errorf("backend %s returned no logprobs", res.Backend)
			continue
		}
		return cortex.Perplexity(res.MeanLogProb), false
	}
	w.logger.Warn("perplexity unavailable, using neutral fallback", "error", lastErr)
	return neutralPerplexity, true
}

// noveltyDistance returns the cosine distance to the nearest stored
// memory. An empty memory is maximally novel (1.0); a search failure is
// scored neutrally (0.5) rather than blocking the entry.
func (w *Worker) noveltyDistance(ctx context.Context, vec []float32) float64 {
	matches, err := w.store.SearchVector(ctx, cortex.NamespaceMemory, vec, 1, nil)
	if err != nil {
		w.logger.Warn("novelty search failed, using neutral distance", "error", err)
		return 0.5
	}
	if len(matches) == 0 {
		return 1.0
	}
	return matches[0].Distance
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
