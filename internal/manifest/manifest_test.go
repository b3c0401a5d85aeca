package manifest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsEmptyManifest(t *testing.T) {
	dir := t.TempDir()
	m, err := Load(filepath.Join(dir, "indexes.json"))
	require.NoError(t, err)
	assert.Empty(t, m.Names())
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "indexes.json")

	m, err := Load(path)
	require.NoError(t, err)

	m.EnsureEntry("docs", []string{"/corpus/docs"})
	m.SetFileRecord("docs", "/corpus/docs/a.md", FileRecord{Mtime: 100.0, ChunkIDs: []int64{1, 2}})
	m.SetChecksum("docs", "abc123")
	require.NoError(t, m.Save())

	loaded, err := Load(path)
	require.NoError(t, err)

	entry, ok := loaded.Entry("docs")
	require.True(t, ok)
	assert.Equal(t, []string{"/corpus/docs"}, entry.Directories)
	assert.Equal(t, "abc123", entry.Checksum)
	assert.Equal(t, FileRecord{Mtime: 100.0, ChunkIDs: []int64{1, 2}}, entry.Files["/corpus/docs/a.md"])
}

func TestRemoveFileRecord_DeletesEntry(t *testing.T) {
	dir := t.TempDir()
	m, err := Load(filepath.Join(dir, "indexes.json"))
	require.NoError(t, err)

	m.EnsureEntry("docs", nil)
	m.SetFileRecord("docs", "a.md", FileRecord{Mtime: 1, ChunkIDs: []int64{1}})
	m.RemoveFileRecord("docs", "a.md")

	records := m.FileRecords("docs")
	assert.Empty(t, records)
}

func TestHasPerFileMetadata_FalseWhenNoFiles(t *testing.T) {
	dir := t.TempDir()
	m, err := Load(filepath.Join(dir, "indexes.json"))
	require.NoError(t, err)

	m.EnsureEntry("docs", nil)
	assert.False(t, m.HasPerFileMetadata("docs"))

	m.SetFileRecord("docs", "a.md", FileRecord{Mtime: 1, ChunkIDs: []int64{1}})
	assert.True(t, m.HasPerFileMetadata("docs"))
}

func TestHasPerFileMetadata_FalseForUnknownIndex(t *testing.T) {
	dir := t.TempDir()
	m, err := Load(filepath.Join(dir, "indexes.json"))
	require.NoError(t, err)
	assert.False(t, m.HasPerFileMetadata("nope"))
}

func TestComputeChecksum_IsOrderIndependent(t *testing.T) {
	a := ComputeChecksum(map[string]float64{"b.md": 2, "a.md": 1})
	b := ComputeChecksum(map[string]float64{"a.md": 1, "b.md": 2})
	assert.Equal(t, a, b)
}

func TestComputeChecksum_ChangesWithMtime(t *testing.T) {
	a := ComputeChecksum(map[string]float64{"a.md": 1})
	b := ComputeChecksum(map[string]float64{"a.md": 2})
	assert.NotEqual(t, a, b)
}

func TestNames_SortedAndMultiIndex(t *testing.T) {
	dir := t.TempDir()
	m, err := Load(filepath.Join(dir, "indexes.json"))
	require.NoError(t, err)

	m.EnsureEntry("zeta", nil)
	m.EnsureEntry("alpha", nil)

	assert.Equal(t, []string{"alpha", "zeta"}, m.Names())
}

func TestSetDirectories_Updates(t *testing.T) {
	dir := t.TempDir()
	m, err := Load(filepath.Join(dir, "indexes.json"))
	require.NoError(t, err)

	m.EnsureEntry("docs", []string{"/a"})
	m.SetDirectories("docs", []string{"/a", "/b"})

	entry, _ := m.Entry("docs")
	assert.Equal(t, []string{"/a", "/b"}, entry.Directories)
}
