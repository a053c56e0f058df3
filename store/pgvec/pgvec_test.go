package pgvec

import "testing"

func TestIndexParams(t *testing.T) {
	if got := (&Store{}).indexParams(); got != "" {
		t.Errorf("defaults should emit no WITH clause, got %q", got)
	}
	s := &Store{cfg: pgConfig{hnswM: 32}}
	if got := s.indexParams(); got != " WITH (m = 32, ef_construction = 64)" {
		t.Errorf("indexParams = %q", got)
	}
	s = &Store{cfg: pgConfig{hnswM: 32, hnswEFConstruction: 128}}
	if got := s.indexParams(); got != " WITH (m = 32, ef_construction = 128)" {
		t.Errorf("indexParams = %q", got)
	}
}
