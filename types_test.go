package cortex

import (
	"math"
	"reflect"
	"testing"
)

func TestEncodeDecodeVector_RoundTrip(t *testing.T) {
	v := []float32{0, 1, -1, 0.5, float32(math.Pi), math.MaxFloat32, math.SmallestNonzeroFloat32}
	got := DecodeVector(EncodeVector(v))
	if len(got) != len(v) {
		t.Fatalf("length = %d, want %d", len(got), len(v))
	}
	for i := range v {
		if math.Float32bits(got[i]) != math.Float32bits(v[i]) {
			t.Errorf("index %d: got %v, want %v (bit-exact)", i, got[i], v[i])
		}
	}
}

func TestDecodeVector_IgnoresTrailingBytes(t *testing.T) {
	buf := append(EncodeVector([]float32{1, 2}), 0xFF, 0x01)
	got := DecodeVector(buf)
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("got %v, want [1 2]", got)
	}
}

func TestMemoryRecord_RoundTrip(t *testing.T) {
	m := Memory{
		ID:         "1700000000000",
		Message:    "the quarterly sales data is in",
		Embedding:  []float32{0.25, -0.5},
		Perplexity: 12.75,
		Surprise:   0.83,
		SessionID:  "default",
		Timestamp:  1700000000000,
		Meta:       map[string]string{"entry_id": "17-0", "perplexity_fallback": "true"},
	}
	got := MemoryFromRecord(m.ToRecord())
	if got.ID != m.ID || got.Message != m.Message || got.SessionID != m.SessionID {
		t.Errorf("identity fields differ: %+v", got)
	}
	if got.Perplexity != m.Perplexity || got.Surprise != m.Surprise || got.Timestamp != m.Timestamp {
		t.Errorf("numeric fields differ: %+v", got)
	}
	if got.Meta["perplexity_fallback"] != "true" {
		t.Errorf("metadata lost: %+v", got.Meta)
	}
}

func TestChunkRecord_RoundTrip(t *testing.T) {
	c := Chunk{
		ID:          "library:abc",
		Text:        "chapter one",
		Filename:    "book.pdf",
		FileType:    "pdf",
		ChunkIndex:  3,
		TotalChunks: 10,
		Tokens:      128,
		Timestamp:   1700000000,
	}
	got := ChunkFromRecord(c.ToRecord())
	if !reflect.DeepEqual(got, withoutEmbedding(c)) {
		t.Errorf("got %+v, want %+v", got, c)
	}
}

func withoutEmbedding(c Chunk) Chunk {
	c.Embedding = nil
	return c
}

func TestNewMemoryID_MonotonicWithinMillisecond(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewMemoryID(1700000000000)
		if seen[id] {
			t.Fatalf("duplicate id %q on iteration %d", id, i)
		}
		seen[id] = true
		if MemoryIDTimestamp(id) != 1700000000000 {
			t.Fatalf("id %q does not encode its timestamp", id)
		}
	}
}

func TestMemoryIDTimestamp_Malformed(t *testing.T) {
	if got := MemoryIDTimestamp("not-a-number"); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}

func TestPerplexity(t *testing.T) {
	if got := Perplexity(0); got != 1 {
		t.Errorf("Perplexity(0) = %v, want 1", got)
	}
	got := Perplexity(-math.Log(20))
	if math.Abs(got-20) > 1e-9 {
		t.Errorf("Perplexity(-ln 20) = %v, want 20", got)
	}
}
