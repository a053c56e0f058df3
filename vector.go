package cortex

import "context"

// Namespaces of the vector memory. Each namespace has its own ANN index.
const (
	NamespaceMemory  = "memory"
	NamespaceLibrary = "library"
)

// Store is the vector memory: records keyed by {namespace}:{id} with an
// approximate-nearest-neighbor index per namespace over the embedding field
// (cosine distance). Writers and readers may be concurrent; a Put is atomic
// at the record level and visible to readers once it returns.
type Store interface {
	// Put writes all fields of the record, including the binary embedding.
	Put(ctx context.Context, namespace string, rec Record) error
	// Get returns the record or an error wrapping ErrNotFound.
	Get(ctx context.Context, namespace, id string) (Record, error)
	Delete(ctx context.Context, namespace, id string) error
	// Search embeds query with the store's embedding provider and returns
	// at most k matches sorted by ascending cosine distance. filter, when
	// non-nil, restricts results to records whose tag field matches; the
	// filter value is treated as opaque data.
	Search(ctx context.Context, namespace, query string, k int, filter *Filter) ([]Match, error)
	Count(ctx context.Context, namespace string) (int64, error)
	// Scan streams every record id in the namespace to fn. Returning a
	// non-nil error from fn stops the scan.
	Scan(ctx context.Context, namespace string, fn func(id string) error) error
}

// --- Memory / Record conversion ---

// Field names used in Record.Fields. The archive persists these verbatim,
// so renaming any of them is a data-format change.
const (
	FieldPerplexity  = "perplexity"
	FieldSurprise    = "surprise_score"
	FieldSessionID   = "session_id"
	FieldTimestamp   = "timestamp"
	FieldMetadata    = "metadata"
	FieldFilename    = "filename"
	FieldFileType    = "file_type"
	FieldChunkIndex  = "chunk_index"
	FieldTotalChunks = "total_chunks"
	FieldTokens      = "token_count"
)
