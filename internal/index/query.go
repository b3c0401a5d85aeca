package index

import (
	"context"
	"fmt"
	"strings"

	"github.com/dreamerlzl/markdown-qa/internal/embed"
	"github.com/dreamerlzl/markdown-qa/internal/errs"
)

// DefaultK is the number of neighbours requested when a caller does not
// specify one.
const DefaultK = 5

// RetrievedChunk is one piece of context surfaced to a caller of Retrieve.
type RetrievedChunk struct {
	Text     string
	FilePath string
	Distance float32
}

// QueryPath embeds a question and searches the manager's live store for
// it, optionally filtering by distance. Grounded on
// RetrievalEngine.retrieve and the teacher's VectorSearcher for the shape
// of a thin query-side wrapper over a store's Search.
type QueryPath struct {
	manager  *Manager
	embedder embed.Embedder
	cache    *embed.EmbeddingCache
}

// NewQueryPath builds a QueryPath over manager, embedding queries with
// embedder and consulting cache first (queries repeat often enough that
// the durable embedding cache pays for itself here too).
func NewQueryPath(manager *Manager, embedder embed.Embedder, cache *embed.EmbeddingCache) *QueryPath {
	return &QueryPath{manager: manager, embedder: embedder, cache: cache}
}

// Retrieve embeds question, searches for the k nearest chunks, and drops
// any whose distance exceeds threshold (threshold <= 0 disables
// filtering). Returns errs.NoRelevantContent if nothing survives.
func (q *QueryPath) Retrieve(ctx context.Context, question string, k int, threshold float32) ([]RetrievedChunk, error) {
	if k <= 0 {
		k = DefaultK
	}

	vectors, err := embed.EmbedWithCache(ctx, q.embedder, q.cache, []string{question})
	if err != nil {
		return nil, errs.EmbeddingFailure("failed to embed query", err)
	}

	handle, err := q.manager.QueryInterface()
	if err != nil {
		return nil, err
	}

	results, err := handle.Search(ctx, vectors[0], k)
	if err != nil {
		return nil, errs.InternalError("vector search failed", err)
	}

	chunks := make([]RetrievedChunk, 0, len(results))
	for _, r := range results {
		if threshold > 0 && r.Distance > threshold {
			continue
		}
		chunks = append(chunks, RetrievedChunk{
			Text:     r.Text,
			FilePath: r.Metadata["file_path"],
			Distance: r.Distance,
		})
	}

	if len(chunks) == 0 {
		return nil, errs.NoRelevantContent(fmt.Sprintf("no chunks within threshold for query %q", question))
	}

	return chunks, nil
}

// RetrieveContext is Retrieve followed by assembling a single context
// string and the deduplicated list of source paths it was drawn from, the
// shape the external transport layer's QueryInterface.retrieve exposes.
func (q *QueryPath) RetrieveContext(ctx context.Context, question string, k int, threshold float32) (string, []string, error) {
	chunks, err := q.Retrieve(ctx, question, k, threshold)
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	seen := make(map[string]bool, len(chunks))
	paths := make([]string, 0, len(chunks))
	for i, c := range chunks {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(c.Text)
		if !seen[c.FilePath] {
			seen[c.FilePath] = true
			paths = append(paths, c.FilePath)
		}
	}

	return sb.String(), paths, nil
}
