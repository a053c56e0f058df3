// Package pgvec implements cortex.Store using PostgreSQL with pgvector
// for native HNSW cosine search. The backend of choice when memory must
// outlive a single machine.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package pgvec

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	cortex "github.com/nevindra/cortex"
)

// Store implements cortex.Store backed by PostgreSQL with pgvector.
type Store struct {
	pool     *pgxpool.Pool
	embedder cortex.EmbeddingProvider
	cfg      pgConfig
}

type pgConfig struct {
	hnswM              int // 0 = pgvector default (16)
	hnswEFConstruction int // 0 = pgvector default (64)
}

// Option configures a Store.
type Option func(*pgConfig)

// WithHNSWM sets the HNSW m parameter (max connections per node). Higher
// values improve recall at the cost of memory. Only affects index creation.
func WithHNSWM(m int) Option {
	return func(c *pgConfig) { c.hnswM = m }
}

// WithEFConstruction sets the HNSW ef_construction parameter (build-time
// candidate list size). Only affects index creation.
func WithEFConstruction(ef int) Option {
	return func(c *pgConfig) { c.hnswEFConstruction = ef }
}

var _ cortex.Store = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool and the embedding
// provider used to vectorize search queries.
func New(pool *pgxpool.Pool, embedder cortex.EmbeddingProvider, opts ...Option) *Store {
	var cfg pgConfig
	for _, o := range opts {
		o(&cfg)
	}
	return &Store{pool: pool, embedder: embedder, cfg: cfg}
}

// Init creates the extension, table and HNSW index. The embedding column
// is typed to the provider's dimensionality so mismatched vectors fail at
// insert time rather than poisoning search.
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS records (
			namespace TEXT NOT NULL,
			id TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d),
			fields JSONB NOT NULL DEFAULT '{}',
			PRIMARY KEY (namespace, id)
		)`, s.embedder.Dimensions()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS records_embedding_idx
			ON records USING hnsw (embedding vector_cosine_ops)%s`, s.indexParams()),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pgvec: init: %w", err)
		}
	}
	return nil
}

func (s *Store) indexParams() string {
	if s.cfg.hnswM == 0 && s.cfg.hnswEFConstruction == 0 {
		return ""
	}
	m, ef := s.cfg.hnswM, s.cfg.hnswEFConstruction
	if m == 0 {
		m = 16
	}
	if ef == 0 {
		ef = 64
	}
	return fmt.Sprintf(" WITH (m = %d, ef_construction = %d)", m, ef)
}

// Put inserts or updates the record.
func (s *Store) Put(ctx context.Context, namespace string, rec cortex.Record) error {
	var emb any
	if len(rec.Embedding) > 0 {
		emb = pgvector.NewVector(rec.Embedding)
	}
	fields := rec.Fields
	if fields == nil {
		fields = map[string]string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO records (namespace, id, content, embedding, fields)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (namespace, id) DO UPDATE
		SET content = EXCLUDED.content, embedding = EXCLUDED.embedding, fields = EXCLUDED.fields`,
		namespace, rec.ID, rec.Text, emb, fields)
	if err != nil {
		return fmt.Errorf("pgvec: put %s:%s: %w", namespace, rec.ID, err)
	}
	return nil
}

// Get returns the record, or an error wrapping cortex.ErrNotFound.
func (s *Store) Get(ctx context.Context, namespace, id string) (cortex.Record, error) {
	rec := cortex.Record{ID: id}
	var emb *pgvector.Vector
	err := s.pool.QueryRow(ctx,
		`SELECT content, embedding, fields FROM records WHERE namespace = $1 AND id = $2`,
		namespace, id).Scan(&rec.Text, &emb, &rec.Fields)
	if errors.Is(err, pgx.ErrNoRows) {
		return cortex.Record{}, fmt.Errorf("pgvec: %s:%s: %w", namespace, id, cortex.ErrNotFound)
	}
	if err != nil {
		return cortex.Record{}, fmt.Errorf("pgvec: get %s:%s: %w", namespace, id, err)
	}
	if emb != nil {
		rec.Embedding = emb.Slice()
	}
	return rec, nil
}

// Delete removes the record. Deleting a missing record is not an error.
func (s *Store) Delete(ctx context.Context, namespace, id string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM records WHERE namespace = $1 AND id = $2`, namespace, id)
	if err != nil {
		return fmt.Errorf("pgvec: delete %s:%s: %w", namespace, id, err)
	}
	return nil
}

// Search embeds the query and runs an HNSW cosine search.
func (s *Store) Search(ctx context.Context, namespace, query string, k int, filter *cortex.Filter) ([]cortex.Match, error) {
	if k <= 0 {
		return nil, nil
	}
	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("pgvec: embed query: %w", err)
	}
	return s.SearchVector(ctx, namespace, vecs[0], k, filter)
}

// SearchVector runs an HNSW cosine search with an already-computed vector.
func (s *Store) SearchVector(ctx context.Context, namespace string, vec []float32, k int, filter *cortex.Filter) ([]cortex.Match, error) {
	if k <= 0 {
		return nil, nil
	}
	qvec := pgvector.NewVector(vec)
	var (
		rows pgx.Rows
		err  error
	)
	if filter != nil {
		rows, err = s.pool.Query(ctx, `
			SELECT id, content, embedding, fields, embedding <=> $2 AS distance
			FROM records
			WHERE namespace = $1 AND embedding IS NOT NULL AND fields->>$3 = $4
			ORDER BY distance LIMIT $5`,
			namespace, qvec, filter.Field, filter.Value, k)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT id, content, embedding, fields, embedding <=> $2 AS distance
			FROM records
			WHERE namespace = $1 AND embedding IS NOT NULL
			ORDER BY distance LIMIT $3`,
			namespace, qvec, k)
	}
	if err != nil {
		return nil, fmt.Errorf("pgvec: search %s: %w", namespace, err)
	}
	defer rows.Close()

	var matches []cortex.Match
	for rows.Next() {
		var (
			rec cortex.Record
			emb pgvector.Vector
			m   cortex.Match
		)
		if err := rows.Scan(&rec.ID, &rec.Text, &emb, &rec.Fields, &m.Distance); err != nil {
			return nil, fmt.Errorf("pgvec: scan row: %w", err)
		}
		rec.Embedding = emb.Slice()
		m.Record = rec
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvec: search %s: %w", namespace, err)
	}
	return matches, nil
}

// Count returns the number of records in the namespace.
func (s *Store) Count(ctx context.Context, namespace string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM records WHERE namespace = $1`, namespace).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("pgvec: count %s: %w", namespace, err)
	}
	return n, nil
}

// Scan streams every record id in the namespace to fn.
func (s *Store) Scan(ctx context.Context, namespace string, fn func(id string) error) error {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM records WHERE namespace = $1`, namespace)
	if err != nil {
		return fmt.Errorf("pgvec: scan %s: %w", namespace, err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("pgvec: scan row: %w", err)
		}
		if err := fn(id); err != nil {
			return err
		}
	}
	return rows.Err()
}
