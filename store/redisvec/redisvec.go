// Package redisvec implements cortex.Store, cortex.CaptureStream and
// cortex.CheckpointStore on Redis Stack: records live in hashes under
// {namespace}:{id}, each namespace carries a RediSearch HNSW index with
// cosine distance over the binary embedding field, and turns flow through
// a capped Redis Stream.
//
// The client is injected; the caller owns its lifecycle. All three pieces
// can share one *redis.Client.
package redisvec

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	cortex "github.com/nevindra/cortex"
)

// Hash field names. The index schemas below refer to these.
const (
	fieldContent   = "content"
	fieldEmbedding = "embedding"
	distanceAlias  = "__dist"
)

// indexSpec describes one namespace's RediSearch index.
type indexSpec struct {
	tags     []string
	numerics []string
}

var indexSpecs = map[string]indexSpec{
	cortex.NamespaceMemory: {
		tags:     []string{cortex.FieldSessionID},
		numerics: []string{cortex.FieldPerplexity, cortex.FieldSurprise, cortex.FieldTimestamp},
	},
	cortex.NamespaceLibrary: {
		tags:     []string{cortex.FieldFilename, cortex.FieldFileType},
		numerics: []string{cortex.FieldChunkIndex, cortex.FieldTotalChunks, cortex.FieldTokens, cortex.FieldTimestamp},
	},
}

// Store implements cortex.Store on Redis Stack.
type Store struct {
	rdb      *redis.Client
	embedder cortex.EmbeddingProvider
	logger   *slog.Logger
}

var _ cortex.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a structured logger for the store.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a Store using an existing Redis client and the embedding
// provider used to vectorize search queries. The caller owns the client.
func New(rdb *redis.Client, embedder cortex.EmbeddingProvider, opts ...Option) *Store {
	s := &Store{rdb: rdb, embedder: embedder, logger: cortex.NopLogger()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init creates the HNSW index for each known namespace. Safe to call on
// every startup; existing indexes are left untouched.
func (s *Store) Init(ctx context.Context) error {
	for ns, spec := range indexSpecs {
		if err := s.createIndex(ctx, ns, spec); err != nil {
			return fmt.Errorf("redisvec: init %s index: %w", ns, err)
		}
	}
	return nil
}

func (s *Store) createIndex(ctx context.Context, namespace string, spec indexSpec) error {
	schema := []*redis.FieldSchema{
		{FieldName: fieldContent, FieldType: redis.SearchFieldTypeText},
		{
			FieldName: fieldEmbedding,
			FieldType: redis.SearchFieldTypeVector,
			VectorArgs: &redis.FTVectorArgs{
				HNSWOptions: &redis.FTHNSWOptions{
					Type:           "FLOAT32",
					Dim:            s.embedder.Dimensions(),
					DistanceMetric: "COSINE",
				},
			},
		},
	}
	for _, f := range spec.tags {
		schema = append(schema, &redis.FieldSchema{FieldName: f, FieldType: redis.SearchFieldTypeTag})
	}
	for _, f := range spec.numerics {
		schema = append(schema, &redis.FieldSchema{FieldName: f, FieldType: redis.SearchFieldTypeNumeric})
	}

	err := s.rdb.FTCreate(ctx, IndexName(namespace), &redis.FTCreateOptions{
		OnHash: true,
		Prefix: []any{KeyPrefix(namespace)},
	}, schema...).Err()
	if err != nil && strings.Contains(err.Error(), "Index already exists") {
		return nil
	}
	if err == nil {
		s.logger.Info("redisvec: index created",
			"namespace", namespace, "dimensions", s.embedder.Dimensions())
	}
	return err
}

// IndexName returns the RediSearch index name for a namespace.
func IndexName(namespace string) string { return "idx:" + namespace }

// KeyPrefix returns the hash key prefix for a namespace.
func KeyPrefix(namespace string) string { return namespace + ":" }

// Key returns the hash key of a record.
func Key(namespace, id string) string { return namespace + ":" + id }

// Put writes the record hash. The embedding is stored as raw little-endian
// float32 bytes, the layout HNSW indexes directly.
func (s *Store) Put(ctx context.Context, namespace string, rec cortex.Record) error {
	values := map[string]any{fieldContent: rec.Text}
	if len(rec.Embedding) > 0 {
		values[fieldEmbedding] = string(cortex.EncodeVector(rec.Embedding))
	}
	for k, v := range rec.Fields {
		values[k] = v
	}
	if err := s.rdb.HSet(ctx, Key(namespace, rec.ID), values).Err(); err != nil {
		return fmt.Errorf("redisvec: put %s: %w", Key(namespace, rec.ID), err)
	}
	s.logger.Debug("redisvec: put", "namespace", namespace, "id", rec.ID)
	return nil
}

// Get returns the record, or an error wrapping cortex.ErrNotFound.
func (s *Store) Get(ctx context.Context, namespace, id string) (cortex.Record, error) {
	fields, err := s.rdb.HGetAll(ctx, Key(namespace, id)).Result()
	if err != nil {
		return cortex.Record{}, fmt.Errorf("redisvec: get %s: %w", Key(namespace, id), err)
	}
	if len(fields) == 0 {
		return cortex.Record{}, fmt.Errorf("redisvec: %s: %w", Key(namespace, id), cortex.ErrNotFound)
	}
	return recordFromHash(id, fields), nil
}

// recordFromHash rebuilds a Record from hash fields, splitting the content
// and embedding out of the generic field map.
func recordFromHash(id string, hash map[string]string) cortex.Record {
	rec := cortex.Record{ID: id, Fields: make(map[string]string, len(hash))}
	for k, v := range hash {
		switch k {
		case fieldContent:
			rec.Text = v
		case fieldEmbedding:
			rec.Embedding = cortex.DecodeVector([]byte(v))
		default:
			rec.Fields[k] = v
		}
	}
	return rec
}

// Delete removes the record. Deleting a missing record is not an error.
func (s *Store) Delete(ctx context.Context, namespace, id string) error {
	if err := s.rdb.Del(ctx, Key(namespace, id)).Err(); err != nil {
		return fmt.Errorf("redisvec: delete %s: %w", Key(namespace, id), err)
	}
	return nil
}

// Search embeds the query and runs a KNN search, optionally pre-filtered
// by a tag field. Results come back in ascending cosine distance.
func (s *Store) Search(ctx context.Context, namespace, query string, k int, filter *cortex.Filter) ([]cortex.Match, error) {
	if k <= 0 {
		return nil, nil
	}
	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("redisvec: embed query: %w", err)
	}
	return s.SearchVector(ctx, namespace, vecs[0], k, filter)
}

// SearchVector runs a KNN search with an already-computed query vector.
// The scoring worker uses it to avoid re-embedding the candidate message.
func (s *Store) SearchVector(ctx context.Context, namespace string, vec []float32, k int, filter *cortex.Filter) ([]cortex.Match, error) {
	if k <= 0 {
		return nil, nil
	}
	res, err := s.rdb.FTSearchWithArgs(ctx, IndexName(namespace), KNNQuery(k, filter), &redis.FTSearchOptions{
		SortBy:         []redis.FTSearchSortBy{{FieldName: distanceAlias, Asc: true}},
		LimitOffset:    0,
		Limit:          k,
		DialectVersion: 2,
		Params:         map[string]any{"vec": string(cortex.EncodeVector(vec))},
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redisvec: search %s: %w", namespace, err)
	}

	matches := make([]cortex.Match, 0, len(res.Docs))
	prefix := KeyPrefix(namespace)
	for _, doc := range res.Docs {
		fields := make(map[string]string, len(doc.Fields))
		for k, v := range doc.Fields {
			fields[k] = v
		}
		dist, _ := strconv.ParseFloat(fields[distanceAlias], 64)
		delete(fields, distanceAlias)
		rec := recordFromHash(strings.TrimPrefix(doc.ID, prefix), fields)
		matches = append(matches, cortex.Match{Record: rec, Distance: dist})
	}
	return matches, nil
}

// KNNQuery builds the RediSearch KNN query string. The filter value is
// escaped, never interpolated raw.
func KNNQuery(k int, filter *cortex.Filter) string {
	pre := "*"
	if filter != nil {
		pre = fmt.Sprintf("@%s:{%s}", filter.Field, EscapeTag(filter.Value))
	}
	return fmt.Sprintf("(%s)=>[KNN %d @%s $vec AS %s]", pre, k, fieldEmbedding, distanceAlias)
}

// tagSpecials are the characters RediSearch treats as syntax inside a tag
// filter. Each is backslash-escaped so filter values stay opaque data.
const tagSpecials = ",.<>{}[]\"':;!@#$%^&*()-+=~|/\\ "

// EscapeTag escapes a value for use inside a RediSearch tag filter.
func EscapeTag(v string) string {
	var b strings.Builder
	b.Grow(len(v))
	for _, r := range v {
		if r < 128 && strings.ContainsRune(tagSpecials, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Count returns the number of records in the namespace's index.
func (s *Store) Count(ctx context.Context, namespace string) (int64, error) {
	res, err := s.rdb.FTSearchWithArgs(ctx, IndexName(namespace), "*", &redis.FTSearchOptions{
		NoContent:   true,
		LimitOffset: 0,
		Limit:       0,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("redisvec: count %s: %w", namespace, err)
	}
	return int64(res.Total), nil
}

// Scan streams every record id in the namespace to fn via SCAN, so large
// namespaces never materialize in memory.
func (s *Store) Scan(ctx context.Context, namespace string, fn func(id string) error) error {
	prefix := KeyPrefix(namespace)
	iter := s.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := fn(strings.TrimPrefix(iter.Val(), prefix)); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redisvec: scan %s: %w", namespace, err)
	}
	return nil
}
