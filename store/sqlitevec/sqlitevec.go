// Package sqlitevec implements cortex.Store using pure-Go SQLite with
// in-process brute-force cosine search. Zero CGO, zero external services;
// the embedded fallback when Redis Stack is not available.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	cortex "github.com/nevindra/cortex"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a structured logger for the store.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements cortex.Store backed by a local SQLite file. Embeddings
// are stored as binary blobs and search scans the namespace in-process.
type Store struct {
	db       *sql.DB
	embedder cortex.EmbeddingProvider
	logger   *slog.Logger
}

var _ cortex.Store = (*Store)(nil)

// New creates a Store at dbPath. A single shared connection serializes all
// goroutines through one writer, eliminating SQLITE_BUSY errors from
// concurrent independent connections.
func New(dbPath string, embedder cortex.EmbeddingProvider, opts ...Option) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlitevec: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, embedder: embedder, logger: cortex.NopLogger()}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlitevec: store opened", "path", dbPath)
	return s
}

// Init creates the records table.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS records (
		namespace TEXT NOT NULL,
		id TEXT NOT NULL,
		content TEXT NOT NULL,
		embedding BLOB,
		fields TEXT NOT NULL DEFAULT '{}',
		PRIMARY KEY (namespace, id)
	)`)
	if err != nil {
		return fmt.Errorf("sqlitevec: create table: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Put inserts or replaces the record.
func (s *Store) Put(ctx context.Context, namespace string, rec cortex.Record) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("sqlitevec: marshal fields: %w", err)
	}
	var emb []byte
	if len(rec.Embedding) > 0 {
		emb = cortex.EncodeVector(rec.Embedding)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO records (namespace, id, content, embedding, fields) VALUES (?, ?, ?, ?, ?)`,
		namespace, rec.ID, rec.Text, emb, string(fields))
	if err != nil {
		return fmt.Errorf("sqlitevec: put %s:%s: %w", namespace, rec.ID, err)
	}
	return nil
}

// Get returns the record, or an error wrapping cortex.ErrNotFound.
func (s *Store) Get(ctx context.Context, namespace, id string) (cortex.Record, error) {
	var (
		rec       = cortex.Record{ID: id}
		emb       []byte
		rawFields string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT content, embedding, fields FROM records WHERE namespace = ? AND id = ?`,
		namespace, id).Scan(&rec.Text, &emb, &rawFields)
	if err == sql.ErrNoRows {
		return cortex.Record{}, fmt.Errorf("sqlitevec: %s:%s: %w", namespace, id, cortex.ErrNotFound)
	}
	if err != nil {
		return cortex.Record{}, fmt.Errorf("sqlitevec: get %s:%s: %w", namespace, id, err)
	}
	if len(emb) > 0 {
		rec.Embedding = cortex.DecodeVector(emb)
	}
	if err := json.Unmarshal([]byte(rawFields), &rec.Fields); err != nil {
		return cortex.Record{}, fmt.Errorf("sqlitevec: decode fields %s:%s: %w", namespace, id, err)
	}
	return rec, nil
}

// Delete removes the record. Deleting a missing record is not an error.
func (s *Store) Delete(ctx context.Context, namespace, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE namespace = ? AND id = ?`, namespace, id)
	if err != nil {
		return fmt.Errorf("sqlitevec: delete %s:%s: %w", namespace, id, err)
	}
	return nil
}

// Search embeds the query and scans the namespace, scoring every record by
// cosine distance. Brute force; fine for the tens of thousands of records
// an embedded deployment holds.
func (s *Store) Search(ctx context.Context, namespace, query string, k int, filter *cortex.Filter) ([]cortex.Match, error) {
	if k <= 0 {
		return nil, nil
	}
	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("sqlitevec: embed query: %w", err)
	}
	return s.SearchVector(ctx, namespace, vecs[0], k, filter)
}

// SearchVector scores the namespace against an already-computed vector.
func (s *Store) SearchVector(ctx context.Context, namespace string, vec []float32, k int, filter *cortex.Filter) ([]cortex.Match, error) {
	if k <= 0 {
		return nil, nil
	}
	start := time.Now()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, embedding, fields FROM records WHERE namespace = ? AND embedding IS NOT NULL`,
		namespace)
	if err != nil {
		return nil, fmt.Errorf("sqlitevec: search %s: %w", namespace, err)
	}
	defer rows.Close()

	var matches []cortex.Match
	scanned := 0
	for rows.Next() {
		var (
			rec       cortex.Record
			emb       []byte
			rawFields string
		)
		if err := rows.Scan(&rec.ID, &rec.Text, &emb, &rawFields); err != nil {
			return nil, fmt.Errorf("sqlitevec: scan row: %w", err)
		}
		scanned++
		if err := json.Unmarshal([]byte(rawFields), &rec.Fields); err != nil {
			continue
		}
		if filter != nil && rec.Fields[filter.Field] != filter.Value {
			continue
		}
		rec.Embedding = cortex.DecodeVector(emb)
		matches = append(matches, cortex.Match{
			Record:   rec,
			Distance: CosineDistance(vec, rec.Embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitevec: search %s: %w", namespace, err)
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if len(matches) > k {
		matches = matches[:k]
	}
	s.logger.Debug("sqlitevec: search",
		"namespace", namespace, "scanned", scanned,
		"matches", len(matches), "duration", time.Since(start))
	return matches, nil
}

// Count returns the number of records in the namespace.
func (s *Store) Count(ctx context.Context, namespace string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE namespace = ?`, namespace).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlitevec: count %s: %w", namespace, err)
	}
	return n, nil
}

// Scan streams every record id in the namespace to fn.
func (s *Store) Scan(ctx context.Context, namespace string, fn func(id string) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM records WHERE namespace = ?`, namespace)
	if err != nil {
		return fmt.Errorf("sqlitevec: scan %s: %w", namespace, err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("sqlitevec: scan row: %w", err)
		}
		if err := fn(id); err != nil {
			return err
		}
	}
	return rows.Err()
}

// CosineDistance returns 1 - cosine similarity. Mismatched lengths or a
// zero vector yield the maximum distance so bad data sorts last.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
