package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vec(vals ...float32) []float32 { return vals }

func TestHNSWStore_AddAndSearch(t *testing.T) {
	s := NewHNSWStore(DefaultConfig(2))
	ctx := context.Background()

	err := s.Add(ctx, []Entry{
		{ID: 1, Vector: vec(0, 0), Text: "origin", Metadata: map[string]string{"file_path": "a.md"}},
		{ID: 2, Vector: vec(10, 10), Text: "far", Metadata: map[string]string{"file_path": "b.md"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Size())

	results, err := s.Search(ctx, vec(0, 0.1), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].ID)
	assert.Equal(t, "origin", results[0].Text)
}

func TestHNSWStore_Add_RejectsDuplicateID(t *testing.T) {
	s := NewHNSWStore(DefaultConfig(2))
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, []Entry{{ID: 1, Vector: vec(0, 0), Text: "a"}}))

	err := s.Add(ctx, []Entry{{ID: 1, Vector: vec(1, 1), Text: "dup"}})
	assert.Error(t, err)
	assert.Equal(t, 1, s.Size(), "failed add must not mutate the store")
}

func TestHNSWStore_Add_RejectsDimensionMismatch(t *testing.T) {
	s := NewHNSWStore(DefaultConfig(3))
	ctx := context.Background()

	err := s.Add(ctx, []Entry{{ID: 1, Vector: vec(1, 2)}})
	assert.Error(t, err)
	assert.Equal(t, 0, s.Size())
}

func TestHNSWStore_Remove(t *testing.T) {
	s := NewHNSWStore(DefaultConfig(2))
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, []Entry{
		{ID: 1, Vector: vec(0, 0)},
		{ID: 2, Vector: vec(1, 1)},
	}))

	n, err := s.Remove(ctx, []int64{1, 99})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only id 1 was present; id 99 is ignored")
	assert.Equal(t, 1, s.Size())
}

func TestHNSWStore_Remove_CompactsPastOrphanThreshold(t *testing.T) {
	s := NewHNSWStore(DefaultConfig(2))
	ctx := context.Background()

	entries := make([]Entry, 0, 10)
	for i := int64(1); i <= 10; i++ {
		entries = append(entries, Entry{ID: i, Vector: vec(float32(i), float32(i)), Text: "e"})
	}
	require.NoError(t, s.Add(ctx, entries))
	require.Equal(t, 10, s.graph.Len())

	// Removing 3 of 10 crosses the 0.2 orphan ratio and should trigger a
	// rebuild, so the graph shrinks back down to the 7 surviving entries
	// instead of accumulating orphaned nodes.
	n, err := s.Remove(ctx, []int64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 7, s.Size())
	assert.Equal(t, 7, s.graph.Len(), "compaction should rebuild the graph to only the live entries")

	results, err := s.Search(ctx, vec(10, 10), 7)
	require.NoError(t, err)
	assert.Len(t, results, 7)
}

func TestHNSWStore_BuildFrom_ReplacesPriorState(t *testing.T) {
	s := NewHNSWStore(DefaultConfig(2))
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, []Entry{{ID: 1, Vector: vec(0, 0)}}))
	require.NoError(t, s.BuildFrom(ctx, []Entry{
		{ID: 10, Vector: vec(1, 1), Text: "fresh"},
	}))

	assert.Equal(t, 1, s.Size())
	results, err := s.Search(ctx, vec(1, 1), 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(10), results[0].ID)
}

func TestHNSWStore_PersistAndLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "myindex")

	s := NewHNSWStore(DefaultConfig(2))
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, []Entry{
		{ID: 1, Vector: vec(0, 0), Text: "one", Metadata: map[string]string{"file_path": "a.md"}},
		{ID: 2, Vector: vec(5, 5), Text: "two", Metadata: map[string]string{"file_path": "b.md"}},
	}))

	require.NoError(t, s.Persist(prefix))
	assert.FileExists(t, prefix+".ann")
	assert.FileExists(t, prefix+".meta")

	loaded := NewHNSWStore(DefaultConfig(2))
	require.NoError(t, loaded.Load(prefix))

	assert.Equal(t, 2, loaded.Size())
	assert.True(t, loaded.IsValid())

	results, err := loaded.Search(ctx, vec(0, 0.5), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].ID)
	assert.Equal(t, "one", results[0].Text)
}

func TestHNSWStore_IsValid_EmptyStoreIsInvalid(t *testing.T) {
	s := NewHNSWStore(DefaultConfig(2))
	assert.False(t, s.IsValid(), "an empty store is not valid per spec (must be non-zero)")
}

func TestHNSWStore_Search_FewerThanKReturnsAll(t *testing.T) {
	s := NewHNSWStore(DefaultConfig(2))
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, []Entry{{ID: 1, Vector: vec(0, 0)}}))

	results, err := s.Search(ctx, vec(0, 0), 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestHNSWStore_Search_EmptyStore(t *testing.T) {
	s := NewHNSWStore(DefaultConfig(2))
	results, err := s.Search(context.Background(), vec(0, 0), 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHNSWStore_Close_RejectsFurtherUse(t *testing.T) {
	s := NewHNSWStore(DefaultConfig(2))
	require.NoError(t, s.Close())

	err := s.Add(context.Background(), []Entry{{ID: 1, Vector: vec(0, 0)}})
	assert.Error(t, err)
}

func TestHNSWStore_Load_MissingFile(t *testing.T) {
	s := NewHNSWStore(DefaultConfig(2))
	err := s.Load(filepath.Join(t.TempDir(), "nonexistent"))
	assert.Error(t, err)
}

func TestHNSWStore_Persist_CreatesParentDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "indexes")
	prefix := filepath.Join(dir, "idx")

	s := NewHNSWStore(DefaultConfig(2))
	require.NoError(t, s.Add(context.Background(), []Entry{{ID: 1, Vector: vec(0, 0)}}))
	require.NoError(t, s.Persist(prefix))

	_, err := os.Stat(dir)
	assert.NoError(t, err)
}
