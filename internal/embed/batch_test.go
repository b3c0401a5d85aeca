package embed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2.0}
}

// batchingMockEmbedder records the batches it was asked to embed.
type batchingMockEmbedder struct {
	dims      int
	batches   [][]string
	failTimes int // number of calls that should fail before succeeding
	callCount int
}

func (m *batchingMockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (m *batchingMockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.callCount++
	m.batches = append(m.batches, append([]string{}, texts...))
	if m.callCount <= m.failTimes {
		return nil, errors.New("simulated failure")
	}
	result := make([][]float32, len(texts))
	for i, t := range texts {
		result[i] = []float32{float32(len(t))}
	}
	return result, nil
}

func (m *batchingMockEmbedder) Dimensions() int                  { return m.dims }
func (m *batchingMockEmbedder) ModelName() string                { return "batching-mock" }
func (m *batchingMockEmbedder) Available(_ context.Context) bool { return true }
func (m *batchingMockEmbedder) Close() error                     { return nil }

func TestEmbedWithCache_EmptyInput(t *testing.T) {
	results, err := EmbedWithCache(context.Background(), &batchingMockEmbedder{}, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestEmbedWithCache_AllCacheHits_NoEmbedderCalls(t *testing.T) {
	cache, err := NewEmbeddingCache(t.TempDir(), nil)
	require.NoError(t, err)
	cache.Put("a", []float32{1})
	cache.Put("b", []float32{2})

	mock := &batchingMockEmbedder{}
	results, err := EmbedWithCache(context.Background(), mock, cache, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1}, {2}}, results)
	assert.Zero(t, mock.callCount)
}

func TestEmbedWithCache_MixedHitsAndMisses_PreservesOrder(t *testing.T) {
	cache, err := NewEmbeddingCache(t.TempDir(), nil)
	require.NoError(t, err)
	cache.Put("cached", []float32{9})

	mock := &batchingMockEmbedder{}
	results, err := EmbedWithCache(context.Background(), mock, cache, []string{"miss1", "cached", "miss2"})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []float32{9}, results[1])
	assert.NotNil(t, results[0])
	assert.NotNil(t, results[2])
}

func TestEmbedWithCache_MissesArePopulatedIntoCache(t *testing.T) {
	cache, err := NewEmbeddingCache(t.TempDir(), nil)
	require.NoError(t, err)

	mock := &batchingMockEmbedder{}
	_, err = EmbedWithCache(context.Background(), mock, cache, []string{"new text"})
	require.NoError(t, err)

	_, ok := cache.Get("new text")
	assert.True(t, ok)
}

func TestEmbedWithCache_SplitsIntoBatchesOfDefaultSize(t *testing.T) {
	texts := make([]string, DefaultBatchSize*2+3)
	for i := range texts {
		texts[i] = string(rune('a' + i%26))
	}

	mock := &batchingMockEmbedder{}
	_, err := EmbedWithCache(context.Background(), mock, nil, texts)
	require.NoError(t, err)

	require.Len(t, mock.batches, 3)
	assert.Len(t, mock.batches[0], DefaultBatchSize)
	assert.Len(t, mock.batches[1], DefaultBatchSize)
	assert.Len(t, mock.batches[2], 3)
}

func TestEmbedWithCache_RetriesFailedBatch(t *testing.T) {
	mock := &batchingMockEmbedder{failTimes: 2}
	results, err := embedWithCacheAndRetry(context.Background(), mock, nil, []string{"x"}, fastRetryConfig())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 3, mock.callCount)
}

func TestEmbedWithCache_FatalAfterExhaustingRetries(t *testing.T) {
	mock := &batchingMockEmbedder{failTimes: 99}
	_, err := embedWithCacheAndRetry(context.Background(), mock, nil, []string{"x"}, fastRetryConfig())
	require.Error(t, err)
}

func TestEmbedWithCache_NilCacheSkipsCaching(t *testing.T) {
	mock := &batchingMockEmbedder{}
	results, err := EmbedWithCache(context.Background(), mock, nil, []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

var _ Embedder = (*batchingMockEmbedder)(nil)
