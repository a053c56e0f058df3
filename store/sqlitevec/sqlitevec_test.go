package sqlitevec

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	cortex "github.com/nevindra/cortex"
	"github.com/nevindra/cortex/provider/hashembed"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "test.db"), hashembed.New(64))
	t.Cleanup(func() { s.Close() })
	if err := s.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestPutGetDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := cortex.Memory{
		ID:         "1700000000000",
		Message:    "the deploy is at noon",
		Embedding:  []float32{1, 0, 0, 0},
		Perplexity: 8.5,
		Surprise:   0.72,
		SessionID:  "default",
		Timestamp:  1700000000000,
	}.ToRecord()
	if err := s.Put(ctx, cortex.NamespaceMemory, rec); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, cortex.NamespaceMemory, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	m := cortex.MemoryFromRecord(got)
	if m.Message != "the deploy is at noon" || m.Surprise != 0.72 {
		t.Errorf("round trip lost data: %+v", m)
	}
	if len(got.Embedding) != 4 || got.Embedding[0] != 1 {
		t.Errorf("embedding = %v", got.Embedding)
	}

	if err := s.Delete(ctx, cortex.NamespaceMemory, rec.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, cortex.NamespaceMemory, rec.ID); !errors.Is(err, cortex.ErrNotFound) {
		t.Errorf("after delete: err = %v, want ErrNotFound", err)
	}
	// Idempotent.
	if err := s.Delete(ctx, cortex.NamespaceMemory, rec.ID); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestGet_Missing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(context.Background(), cortex.NamespaceMemory, "nope"); !errors.Is(err, cortex.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSearchVector_OrderAndFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	put := func(id, session string, emb []float32) {
		t.Helper()
		rec := cortex.Memory{ID: id, Message: id, Embedding: emb, SessionID: session}.ToRecord()
		if err := s.Put(ctx, cortex.NamespaceMemory, rec); err != nil {
			t.Fatal(err)
		}
	}
	put("exact", "a", []float32{1, 0})
	put("near", "a", []float32{0.9, 0.1})
	put("far", "a", []float32{0, 1})
	put("other-session", "b", []float32{1, 0})

	matches, err := s.SearchVector(ctx, cortex.NamespaceMemory, []float32{1, 0}, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches", len(matches))
	}
	if matches[0].Distance > matches[1].Distance {
		t.Error("matches not in ascending distance order")
	}
	if matches[0].Record.ID != "exact" && matches[0].Record.ID != "other-session" {
		t.Errorf("nearest = %q", matches[0].Record.ID)
	}

	filtered, err := s.SearchVector(ctx, cortex.NamespaceMemory, []float32{1, 0}, 10,
		&cortex.Filter{Field: cortex.FieldSessionID, Value: "b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(filtered) != 1 || filtered[0].Record.ID != "other-session" {
		t.Errorf("filtered = %+v", filtered)
	}
}

func TestSearch_EmptyNamespace(t *testing.T) {
	s := newTestStore(t)
	matches, err := s.Search(context.Background(), cortex.NamespaceLibrary, "anything", 5, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 {
		t.Errorf("matches = %v", matches)
	}
}

func TestCountAndScan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		rec := cortex.Record{ID: id, Text: id, Embedding: []float32{1}}
		if err := s.Put(ctx, cortex.NamespaceMemory, rec); err != nil {
			t.Fatal(err)
		}
	}
	n, err := s.Count(ctx, cortex.NamespaceMemory)
	if err != nil || n != 3 {
		t.Errorf("Count = %d, %v", n, err)
	}
	if n, _ := s.Count(ctx, cortex.NamespaceLibrary); n != 0 {
		t.Errorf("library Count = %d", n)
	}

	var seen []string
	if err := s.Scan(ctx, cortex.NamespaceMemory, func(id string) error {
		seen = append(seen, id)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 3 {
		t.Errorf("scanned %v", seen)
	}

	stop := errors.New("stop")
	count := 0
	err = s.Scan(ctx, cortex.NamespaceMemory, func(string) error {
		count++
		return stop
	})
	if !errors.Is(err, stop) || count != 1 {
		t.Errorf("scan stop: err=%v count=%d", err, count)
	}
}

func TestCosineDistance(t *testing.T) {
	if d := CosineDistance([]float32{1, 0}, []float32{1, 0}); math.Abs(d) > 1e-9 {
		t.Errorf("identical vectors: %v", d)
	}
	if d := CosineDistance([]float32{1, 0}, []float32{0, 1}); math.Abs(d-1) > 1e-9 {
		t.Errorf("orthogonal vectors: %v", d)
	}
	if d := CosineDistance([]float32{1, 0}, []float32{-1, 0}); math.Abs(d-2) > 1e-9 {
		t.Errorf("opposite vectors: %v", d)
	}
	if d := CosineDistance([]float32{1}, []float32{1, 2}); d != 2 {
		t.Errorf("mismatched lengths: %v", d)
	}
	if d := CosineDistance([]float32{0, 0}, []float32{1, 0}); d != 2 {
		t.Errorf("zero vector: %v", d)
	}
}

func TestUpdateOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec := cortex.Record{ID: "x", Text: "v1", Embedding: []float32{1}}
	if err := s.Put(ctx, cortex.NamespaceMemory, rec); err != nil {
		t.Fatal(err)
	}
	rec.Text = "v2"
	if err := s.Put(ctx, cortex.NamespaceMemory, rec); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, cortex.NamespaceMemory, "x")
	if err != nil || got.Text != "v2" {
		t.Errorf("got %+v, %v", got, err)
	}
	if n, _ := s.Count(ctx, cortex.NamespaceMemory); n != 1 {
		t.Errorf("Count = %d after overwrite", n)
	}
}
