package redisvec

import (
	"strings"
	"testing"

	cortex "github.com/nevindra/cortex"
)

func TestKeyLayout(t *testing.T) {
	if got := Key("memory", "1700000000000"); got != "memory:1700000000000" {
		t.Errorf("Key = %q", got)
	}
	if got := KeyPrefix("library"); got != "library:" {
		t.Errorf("KeyPrefix = %q", got)
	}
	if got := IndexName("memory"); got != "idx:memory" {
		t.Errorf("IndexName = %q", got)
	}
}

func TestEscapeTag(t *testing.T) {
	cases := map[string]string{
		"default":          "default",
		"user@example.com": `user\@example\.com`,
		"a b":              `a\ b`,
		"x{y}":             `x\{y\}`,
		"dash-ed":          `dash\-ed`,
	}
	for in, want := range cases {
		if got := EscapeTag(in); got != want {
			t.Errorf("EscapeTag(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestKNNQuery(t *testing.T) {
	if got := KNNQuery(5, nil); got != "(*)=>[KNN 5 @embedding $vec AS __dist]" {
		t.Errorf("unfiltered query = %q", got)
	}
	got := KNNQuery(3, &cortex.Filter{Field: "session_id", Value: "team chat"})
	if !strings.HasPrefix(got, `(@session_id:{team\ chat})`) {
		t.Errorf("filtered query = %q, filter value not escaped", got)
	}
	if !strings.Contains(got, "KNN 3") {
		t.Errorf("filtered query = %q, k lost", got)
	}
}

func TestRecordFromHash(t *testing.T) {
	emb := cortex.EncodeVector([]float32{0.5, -0.25})
	rec := recordFromHash("1700-0", map[string]string{
		fieldContent:           "hello world",
		fieldEmbedding:         string(emb),
		cortex.FieldSessionID:  "default",
		cortex.FieldPerplexity: "12.5",
	})
	if rec.ID != "1700-0" || rec.Text != "hello world" {
		t.Errorf("identity fields: %+v", rec)
	}
	if len(rec.Embedding) != 2 || rec.Embedding[0] != 0.5 {
		t.Errorf("embedding = %v", rec.Embedding)
	}
	if rec.Fields[cortex.FieldSessionID] != "default" {
		t.Errorf("fields = %v", rec.Fields)
	}
	if _, ok := rec.Fields[fieldContent]; ok {
		t.Error("content leaked into Fields")
	}
	if _, ok := rec.Fields[fieldEmbedding]; ok {
		t.Error("embedding leaked into Fields")
	}
}

func TestTurnFromValues(t *testing.T) {
	turn := turnFromValues(map[string]any{
		entryMessage:   "remember this",
		entrySessionID: "default",
		entryTimestamp: "1700000000000",
		entryMeta:      `{"source":"chat"}`,
	})
	if turn.Message != "remember this" || turn.SessionID != "default" {
		t.Errorf("turn = %+v", turn)
	}
	if turn.Timestamp != 1700000000000 {
		t.Errorf("Timestamp = %d", turn.Timestamp)
	}
	if turn.Meta["source"] != "chat" {
		t.Errorf("Meta = %v", turn.Meta)
	}
}

func TestTurnFromValues_Partial(t *testing.T) {
	turn := turnFromValues(map[string]any{entryMessage: "bare"})
	if turn.Message != "bare" || turn.Timestamp != 0 || turn.Meta != nil {
		t.Errorf("turn = %+v", turn)
	}
}
