package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamerlzl/markdown-qa/internal/chunk"
	"github.com/dreamerlzl/markdown-qa/internal/embed"
	"github.com/dreamerlzl/markdown-qa/internal/loader"
	"github.com/dreamerlzl/markdown-qa/internal/manifest"
	"github.com/dreamerlzl/markdown-qa/internal/store"
)

func newTestManager(t *testing.T, cacheRoot string, directories []string) *Manager {
	t.Helper()

	m, err := manifest.Load(filepath.Join(cacheRoot, "indexes.json"))
	require.NoError(t, err)

	cache, err := embed.NewEmbeddingCache(filepath.Join(cacheRoot, "embeddings"), nil)
	require.NoError(t, err)

	return NewManager(ManagerConfig{
		IndexName:   "docs",
		Directories: directories,
		CacheRoot:   cacheRoot,
		Manifest:    m,
		NewStore:    func() store.VectorStore { return store.NewHNSWStore(store.DefaultConfig(embed.StaticDimensions)) },
		Loader:      loader.New(nil),
		Chunker:     chunk.NewMarkdownChunker(),
		Embedder:    embed.NewStaticEmbedder(),
		Cache:       cache,
	})
}

func TestLoadOrBuild_BuildsFreshWhenNothingOnDisk(t *testing.T) {
	cacheRoot := t.TempDir()
	corpus := t.TempDir()
	writeMD(t, filepath.Join(corpus, "a.md"), "# Hello\n\nWorld.")

	m := newTestManager(t, cacheRoot, []string{corpus})
	require.NoError(t, m.LoadOrBuild(context.Background()))

	status := m.StatusReport()
	assert.Equal(t, "ready", status.State)
	assert.Equal(t, 1, status.Count)
}

func TestLoadOrBuild_CorpusEmptyFails(t *testing.T) {
	cacheRoot := t.TempDir()
	corpus := t.TempDir()

	m := newTestManager(t, cacheRoot, []string{corpus})
	err := m.LoadOrBuild(context.Background())
	assert.Error(t, err)
}

func TestRefresh_IncrementalAfterLoadOrBuild(t *testing.T) {
	cacheRoot := t.TempDir()
	corpus := t.TempDir()
	writeMD(t, filepath.Join(corpus, "a.md"), "# Hello\n\nWorld.")

	m := newTestManager(t, cacheRoot, []string{corpus})
	require.NoError(t, m.LoadOrBuild(context.Background()))

	writeMD(t, filepath.Join(corpus, "b.md"), "# Second\n\nDoc.")

	result, err := m.Refresh(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result.Incremental)
	assert.Len(t, result.Incremental.Added, 1)
}

func TestRefresh_NoChangeWhenCorpusUnchanged(t *testing.T) {
	cacheRoot := t.TempDir()
	corpus := t.TempDir()
	writeMD(t, filepath.Join(corpus, "a.md"), "# Hello\n\nWorld.")

	m := newTestManager(t, cacheRoot, []string{corpus})
	require.NoError(t, m.LoadOrBuild(context.Background()))

	result, err := m.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, result.NoChange)
}

func TestRefresh_FallsBackToFullRebuildWhenManifestMetadataMissing(t *testing.T) {
	cacheRoot := t.TempDir()
	corpus := t.TempDir()
	writeMD(t, filepath.Join(corpus, "a.md"), "# Hello\n\nWorld.")

	m := newTestManager(t, cacheRoot, []string{corpus})
	require.NoError(t, m.LoadOrBuild(context.Background()))

	// Simulate a manifest that lost its per-file metadata sub-object.
	entry, _ := m.manifest.Entry("docs")
	for path := range entry.Files {
		m.manifest.RemoveFileRecord("docs", path)
	}

	result, err := m.Refresh(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result.FullRebuild)
	assert.Equal(t, ReasonMissingPerFileMetadata, *result.FullRebuild)
	assert.Equal(t, 1, m.StatusReport().Count)
}

func TestRefresh_EmptiedCorpusIsNoChangeNotFailedStartup(t *testing.T) {
	cacheRoot := t.TempDir()
	corpus := t.TempDir()
	path := filepath.Join(corpus, "a.md")
	writeMD(t, path, "# Hello\n\nWorld.")

	m := newTestManager(t, cacheRoot, []string{corpus})
	require.NoError(t, m.LoadOrBuild(context.Background()))

	require.NoError(t, os.Remove(path))

	// First refresh detects the deletion incrementally; the manifest's
	// per-file metadata for "docs" is now empty.
	result, err := m.Refresh(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result.Incremental)
	assert.Equal(t, []string{path}, result.Incremental.Deleted)

	// The next refresh's needsFullRebuild sees the now-empty per-file
	// metadata and falls back to buildFresh, which hits an empty corpus.
	// This must surface as a no-op, not a FailedStartup error, so the
	// manager doesn't get stuck re-erroring on every subsequent tick.
	result, err = m.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, result.NoChange)
	assert.Equal(t, "ready", m.StatusReport().State)
}

func TestQueryInterface_SearchesLiveStore(t *testing.T) {
	cacheRoot := t.TempDir()
	corpus := t.TempDir()
	writeMD(t, filepath.Join(corpus, "a.md"), "# Hello\n\nWorld.")

	m := newTestManager(t, cacheRoot, []string{corpus})
	require.NoError(t, m.LoadOrBuild(context.Background()))

	handle, err := m.QueryInterface()
	require.NoError(t, err)

	embedder := embed.NewStaticEmbedder()
	vec, err := embedder.Embed(context.Background(), "Hello")
	require.NoError(t, err)

	results, err := handle.Search(context.Background(), vec, 5)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestLoadOrBuild_LoadsExistingValidIndex(t *testing.T) {
	cacheRoot := t.TempDir()
	corpus := t.TempDir()
	writeMD(t, filepath.Join(corpus, "a.md"), "# Hello\n\nWorld.")

	first := newTestManager(t, cacheRoot, []string{corpus})
	require.NoError(t, first.LoadOrBuild(context.Background()))

	second := newTestManager(t, cacheRoot, []string{corpus})
	require.NoError(t, second.LoadOrBuild(context.Background()))

	assert.Equal(t, 1, second.StatusReport().Count)
}

func TestLoadOrBuild_FailsWhenOnlyDirectoryIsMissing(t *testing.T) {
	cacheRoot := t.TempDir()
	m := newTestManager(t, cacheRoot, []string{filepath.Join(cacheRoot, "does-not-exist")})
	err := m.LoadOrBuild(context.Background())
	assert.Error(t, err)
}

func TestStatusReport_ReflectsDimension(t *testing.T) {
	cacheRoot := t.TempDir()
	corpus := t.TempDir()
	writeMD(t, filepath.Join(corpus, "a.md"), "# Hello\n\nWorld.")

	m := newTestManager(t, cacheRoot, []string{corpus})
	require.NoError(t, m.LoadOrBuild(context.Background()))

	assert.Equal(t, embed.StaticDimensions, m.StatusReport().Dimension)
}

// TestRefresh_IncrementalMatchesFullRebuild checks Testable Property 3:
// the VectorStore produced by incremental application of a sequence of
// filesystem mutations has the same chunk ID set as a full rebuild run
// directly against the mutated corpus's final state.
func TestRefresh_IncrementalMatchesFullRebuild(t *testing.T) {
	corpus := t.TempDir()
	writeMD(t, filepath.Join(corpus, "a.md"), "# Hello\n\nWorld.")

	incremental := newTestManager(t, t.TempDir(), []string{corpus})
	require.NoError(t, incremental.LoadOrBuild(context.Background()))

	writeMD(t, filepath.Join(corpus, "b.md"), "# Second\n\nDoc.")
	_, err := incremental.Refresh(context.Background())
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	writeMD(t, filepath.Join(corpus, "a.md"), "# Hello\n\nNew text.")
	future := time.Now().Add(time.Second)
	require.NoError(t, os.Chtimes(filepath.Join(corpus, "a.md"), future, future))
	_, err = incremental.Refresh(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(corpus, "b.md")))
	_, err = incremental.Refresh(context.Background())
	require.NoError(t, err)

	writeMD(t, filepath.Join(corpus, "c.md"), "# Third\n\nFile.")
	future2 := time.Now().Add(time.Second)
	require.NoError(t, os.Chtimes(filepath.Join(corpus, "c.md"), future2, future2))
	_, err = incremental.Refresh(context.Background())
	require.NoError(t, err)

	rebuilt := newTestManager(t, t.TempDir(), []string{corpus})
	require.NoError(t, rebuilt.LoadOrBuild(context.Background()))

	incrementalIDs := incremental.live.IDs()
	rebuiltIDs := rebuilt.live.IDs()
	sort.Slice(incrementalIDs, func(i, j int) bool { return incrementalIDs[i] < incrementalIDs[j] })
	sort.Slice(rebuiltIDs, func(i, j int) bool { return rebuiltIDs[i] < rebuiltIDs[j] })

	assert.Equal(t, rebuiltIDs, incrementalIDs)
}

// TestQueryInterface_NeverMixesPreAndPostRefreshIDs checks Testable
// Property 4: a search concurrent with a refresh returns IDs drawn
// entirely from the pre-refresh set or entirely from the post-refresh
// set, never a mix of a deleted ID with a newly-added one.
func TestQueryInterface_NeverMixesPreAndPostRefreshIDs(t *testing.T) {
	cacheRoot := t.TempDir()
	corpus := t.TempDir()
	for i := 0; i < 6; i++ {
		content := fmt.Sprintf("# Section %d\n\nBody %d.\n\n## Sub %d\n\nMore text %d.", i, i, i, i)
		writeMD(t, filepath.Join(corpus, fmt.Sprintf("doc%d.md", i)), content)
	}

	m := newTestManager(t, cacheRoot, []string{corpus})
	require.NoError(t, m.LoadOrBuild(context.Background()))
	preIDs := idSet(m.live.IDs())
	require.NotEmpty(t, preIDs)

	for i := 0; i < 3; i++ {
		require.NoError(t, os.Remove(filepath.Join(corpus, fmt.Sprintf("doc%d.md", i))))
	}
	for i := 6; i < 9; i++ {
		content := fmt.Sprintf("# New %d\n\nFresh body %d.", i, i)
		path := filepath.Join(corpus, fmt.Sprintf("new%d.md", i))
		writeMD(t, path, content)
		future := time.Now().Add(time.Second)
		require.NoError(t, os.Chtimes(path, future, future))
	}

	embedder := embed.NewStaticEmbedder()
	vec, err := embedder.Embed(context.Background(), "Body")
	require.NoError(t, err)

	var wg sync.WaitGroup
	resultSets := make([][]int64, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handle, err := m.QueryInterface()
			if err != nil {
				return
			}
			results, err := handle.Search(context.Background(), vec, 100)
			if err != nil {
				return
			}
			ids := make([]int64, len(results))
			for j, r := range results {
				ids[j] = r.ID
			}
			resultSets[i] = ids
		}(i)
	}

	_, err = m.Refresh(context.Background())
	require.NoError(t, err)
	wg.Wait()

	postIDs := idSet(m.live.IDs())

	for _, ids := range resultSets {
		allPre := true
		allPost := true
		for _, id := range ids {
			if !preIDs[id] {
				allPre = false
			}
			if !postIDs[id] {
				allPost = false
			}
		}
		assert.True(t, allPre || allPost, "search returned a mix of pre- and post-refresh IDs: %v", ids)
	}
}

func idSet(ids []int64) map[int64]bool {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func TestMain(m *testing.M) {
	code := m.Run()
	os.Exit(code)
}
