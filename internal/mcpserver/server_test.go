package mcpserver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamerlzl/markdown-qa/internal/chunk"
	"github.com/dreamerlzl/markdown-qa/internal/embed"
	"github.com/dreamerlzl/markdown-qa/internal/index"
	"github.com/dreamerlzl/markdown-qa/internal/llm"
	"github.com/dreamerlzl/markdown-qa/internal/loader"
	"github.com/dreamerlzl/markdown-qa/internal/manifest"
	"github.com/dreamerlzl/markdown-qa/internal/store"
)

func writeMD(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestServer(t *testing.T, response string) (*Server, *index.Manager) {
	t.Helper()

	cacheRoot := t.TempDir()
	corpus := t.TempDir()
	writeMD(t, filepath.Join(corpus, "a.md"), "# Hello\n\nWorld.")

	m, err := manifest.Load(filepath.Join(cacheRoot, "indexes.json"))
	require.NoError(t, err)

	cache, err := embed.NewEmbeddingCache(filepath.Join(cacheRoot, "embeddings"), nil)
	require.NoError(t, err)

	manager := index.NewManager(index.ManagerConfig{
		IndexName:   "docs",
		Directories: []string{corpus},
		CacheRoot:   cacheRoot,
		Manifest:    m,
		NewStore:    func() store.VectorStore { return store.NewHNSWStore(store.DefaultConfig(embed.StaticDimensions)) },
		Loader:      loader.New(nil),
		Chunker:     chunk.NewMarkdownChunker(),
		Embedder:    embed.NewStaticEmbedder(),
		Cache:       cache,
	})
	require.NoError(t, manager.LoadOrBuild(context.Background()))

	queryCache, err := embed.NewEmbeddingCache(filepath.Join(cacheRoot, "query-embeddings"), nil)
	require.NoError(t, err)
	queryPath := index.NewQueryPath(manager, embed.NewStaticEmbedder(), queryCache)

	provider := llm.NewStaticProvider(response)
	return NewServer(manager, queryPath, provider, nil), manager
}

func TestHandleQueryDocs_ReturnsAnswerAndSources(t *testing.T) {
	s, _ := newTestServer(t, "the answer")

	_, out, err := s.handleQueryDocs(context.Background(), nil, QueryDocsInput{Question: "Hello"})
	require.NoError(t, err)
	assert.Equal(t, "the answer", out.Answer)
	require.Len(t, out.Sources, 1)
}

func TestHandleQueryDocs_RejectsEmptyQuestion(t *testing.T) {
	s, _ := newTestServer(t, "the answer")

	_, _, err := s.handleQueryDocs(context.Background(), nil, QueryDocsInput{Question: "   "})
	assert.Error(t, err)
}

func TestHandleQueryDocs_NoRelevantContentYieldsFriendlyAnswer(t *testing.T) {
	s, _ := newTestServer(t, "the answer")

	_, out, err := s.handleQueryDocs(context.Background(), nil, QueryDocsInput{Question: "Hello", Threshold: 0.0001})
	require.NoError(t, err)
	assert.Empty(t, out.Sources)
	assert.Contains(t, out.Answer, "No relevant documentation")
}

func TestHandleCorpusStatus_ReportsManagerState(t *testing.T) {
	s, _ := newTestServer(t, "the answer")

	_, out, err := s.handleCorpusStatus(context.Background(), nil, CorpusStatusInput{})
	require.NoError(t, err)
	assert.Equal(t, "ready", out.State)
	assert.Equal(t, 1, out.Count)
	assert.False(t, out.IsUpdating)
}
