package toolkit

import (
	"context"
	"fmt"
	"strings"
	"time"

	cortex "github.com/nevindra/cortex"
)

// MemorySearch returns a tool that searches long-term memories by
// semantic similarity.
func MemorySearch(store cortex.Store, k int) cortex.Tool {
	if k <= 0 {
		k = 5
	}
	return cortex.Tool{
		Name:        "MemorySearch",
		Description: "Search long-term memories semantically. Input is the search query.",
		Invoke: func(ctx context.Context, input string) (string, error) {
			query := strings.TrimSpace(input)
			if query == "" {
				return "", fmt.Errorf("empty query")
			}
			matches, err := store.Search(ctx, cortex.NamespaceMemory, query, k, nil)
			if err != nil {
				return "", fmt.Errorf("memory search: %w", err)
			}
			if len(matches) == 0 {
				return "No relevant memories found.", nil
			}
			var b strings.Builder
			for i, m := range matches {
				mem := cortex.MemoryFromRecord(m.Record)
				when := ""
				if mem.Timestamp > 0 {
					when = time.UnixMilli(mem.Timestamp).UTC().Format("2006-01-02")
				}
				fmt.Fprintf(&b, "%d. [%s, surprise %.2f, distance %.3f] %s\n",
					i+1, when, mem.Surprise, m.Distance, mem.Message)
			}
			return strings.TrimRight(b.String(), "\n"), nil
		},
	}
}

// LibrarySearch returns a tool that searches ingested documents.
func LibrarySearch(store cortex.Store, k int) cortex.Tool {
	if k <= 0 {
		k = 5
	}
	return cortex.Tool{
		Name:        "LibrarySearch",
		Description: "Search the document library semantically. Input is the search query.",
		Invoke: func(ctx context.Context, input string) (string, error) {
			query := strings.TrimSpace(input)
			if query == "" {
				return "", fmt.Errorf("empty query")
			}
			matches, err := store.Search(ctx, cortex.NamespaceLibrary, query, k, nil)
			if err != nil {
				return "", fmt.Errorf("library search: %w", err)
			}
			if len(matches) == 0 {
				return "No matching documents found.", nil
			}
			var b strings.Builder
			for i, m := range matches {
				ch := cortex.ChunkFromRecord(m.Record)
				fmt.Fprintf(&b, "%d. [%s, chunk %d/%d, distance %.3f] %s\n",
					i+1, ch.Filename, ch.ChunkIndex+1, ch.TotalChunks, m.Distance, ch.Text)
			}
			return strings.TrimRight(b.String(), "\n"), nil
		},
	}
}
