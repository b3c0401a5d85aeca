package embed

import (
	"context"
	"fmt"
)

// DefaultBatchSize bounds how many texts are sent to the embedder in one
// call. Some embedding backends cap batch size; 10 matches what the
// reference Ollama and OpenAI-compatible backends accept comfortably.
const DefaultBatchSize = 10

// EmbedWithCache resolves an embedding for every text in texts, preferring
// cache and falling back to embedder for misses. Misses are grouped into
// batches of at most DefaultBatchSize and each batch call is retried with
// DefaultBatchRetryConfig; a batch that still fails after retries is a
// fatal error for the whole call, since partial results are not useful to
// the index builder. Successful misses are written back to cache before
// returning.
func EmbedWithCache(ctx context.Context, embedder Embedder, cache *EmbeddingCache, texts []string) ([][]float32, error) {
	return embedWithCacheAndRetry(ctx, embedder, cache, texts, DefaultBatchRetryConfig())
}

func embedWithCacheAndRetry(ctx context.Context, embedder Embedder, cache *EmbeddingCache, texts []string, retryCfg RetryConfig) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		if cache != nil {
			if vec, ok := cache.Get(text); ok {
				results[i] = vec
				continue
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	for start := 0; start < len(missTexts); start += DefaultBatchSize {
		end := start + DefaultBatchSize
		if end > len(missTexts) {
			end = len(missTexts)
		}
		batchTexts := missTexts[start:end]
		batchIdx := missIdx[start:end]

		var batchResult [][]float32
		err := WithRetry(ctx, retryCfg, func() error {
			var embedErr error
			batchResult, embedErr = embedder.EmbedBatch(ctx, batchTexts)
			return embedErr
		})
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		if len(batchResult) != len(batchTexts) {
			return nil, fmt.Errorf("embedder returned %d embeddings for %d inputs", len(batchResult), len(batchTexts))
		}

		for i, idx := range batchIdx {
			results[idx] = batchResult[i]
			if cache != nil {
				cache.Put(batchTexts[i], batchResult[i])
			}
		}
	}

	return results, nil
}
