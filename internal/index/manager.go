package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/dreamerlzl/markdown-qa/internal/changedetect"
	"github.com/dreamerlzl/markdown-qa/internal/chunk"
	"github.com/dreamerlzl/markdown-qa/internal/chunkid"
	"github.com/dreamerlzl/markdown-qa/internal/embed"
	"github.com/dreamerlzl/markdown-qa/internal/errs"
	"github.com/dreamerlzl/markdown-qa/internal/loader"
	"github.com/dreamerlzl/markdown-qa/internal/manifest"
	"github.com/dreamerlzl/markdown-qa/internal/store"
)

// RebuildReason names why a refresh fell back to a full rebuild instead of
// an incremental update.
type RebuildReason string

const (
	ReasonMissingPerFileMetadata RebuildReason = "MissingPerFileMetadata"
	ReasonIndexNotFound          RebuildReason = "IndexNotFound"
	ReasonNoCurrentIndex         RebuildReason = "NoCurrentIndex"
)

// RefreshResult is the sum-typed outcome of one refresh pass. Exactly one
// of NoChange / Incremental / FullRebuild holds.
type RefreshResult struct {
	NoChange    bool
	Incremental *changedetect.Changes
	FullRebuild *RebuildReason
}

// Status reports the manager's readiness for queries.
type Status struct {
	State      string // "ready", "updating", "notReady", "failedStartup"
	Count      int
	Dimension  int
	IsUpdating bool
}

// Manager owns the live VectorStore for a named index and serialises all
// mutations to it and to the shared Manifest. A single reader-writer
// lock guards both: reads (search, ReadHandle) acquire it shared; writes
// (refresh, rebuild, manifest mutation) acquire it exclusively. Grounded
// on index_manager.py's load_index/swap_index/has_changes state machine
// for the shape of lock-guarded load/swap, with the teacher's
// consistency-check idea folded in as an optional debug hook.
type Manager struct {
	indexName   string
	directories []string
	cacheRoot   string

	mu       sync.RWMutex
	live     store.VectorStore
	manifest *manifest.Manifest
	state    string

	newStore func() store.VectorStore
	loader   *loader.Loader
	chunker  chunk.Chunker
	embedder embed.Embedder
	cache    *embed.EmbeddingCache
	clock    Clock
	log      *slog.Logger

	updatingMu sync.Mutex
	updating   bool
}

// ManagerConfig bundles a Manager's collaborators.
type ManagerConfig struct {
	IndexName   string
	Directories []string
	CacheRoot   string
	Manifest    *manifest.Manifest
	NewStore    func() store.VectorStore
	Loader      *loader.Loader
	Chunker     chunk.Chunker
	Embedder    embed.Embedder
	Cache       *embed.EmbeddingCache
	Clock       Clock
	Log         *slog.Logger
}

// NewManager constructs a Manager in the Empty state; call LoadOrBuild to
// bring it to Ready.
func NewManager(cfg ManagerConfig) *Manager {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = systemClock{}
	}
	return &Manager{
		indexName:   cfg.IndexName,
		directories: cfg.Directories,
		cacheRoot:   cfg.CacheRoot,
		manifest:    cfg.Manifest,
		newStore:    cfg.NewStore,
		loader:      cfg.Loader,
		chunker:     cfg.Chunker,
		embedder:    cfg.Embedder,
		cache:       cfg.Cache,
		clock:       clock,
		log:         log,
		state:       "Empty",
	}
}

// indexPath is the pathPrefix this manager's store persists to.
func (m *Manager) indexPath() string {
	return filepath.Join(m.cacheRoot, "indexes", m.indexName)
}

// LoadOrBuild brings the manager to Ready: loads a valid on-disk index if
// one exists, otherwise performs a full build from the configured
// directories. A loaded index whose manifest has no per-file metadata gets
// only an empty manifest entry; its FileRecords are not rebuilt here, and
// the next Refresh falls back to a full rebuild (MissingPerFileMetadata).
func (m *Manager) LoadOrBuild(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = "Loading"

	candidate := m.newStore()
	if err := candidate.Load(m.indexPath()); err == nil && candidate.IsValid() {
		m.live = candidate
		if !m.manifest.HasPerFileMetadata(m.indexName) {
			m.reconstructPerFileMetadata()
		}
		m.state = "Ready"
		return nil
	}

	if err := m.buildFresh(ctx); err != nil {
		m.state = "FailedStartup"
		return err
	}
	m.state = "Ready"
	return nil
}

// buildFresh performs a full Loader -> Chunker -> Embedder -> VectorStore
// build, persists it, and reconstructs manifest per-file metadata.
func (m *Manager) buildFresh(ctx context.Context) error {
	files, err := m.loader.Load(m.directories)
	if err != nil {
		return errs.CorpusEmpty(fmt.Sprintf("failed to enumerate corpus: %v", err))
	}
	if len(files) == 0 {
		return errs.CorpusEmpty("no markdown files found in any configured directory")
	}

	st := m.newStore()
	var entries []store.Entry
	fileChunks := make(map[string][]int64, len(files))
	fileMtimes := make(map[string]float64, len(files))

	for _, f := range files {
		fragments, err := m.chunker.Chunk(ctx, &chunk.FileInput{Path: f.Path, Content: f.Content})
		if err != nil {
			m.log.Warn("skipping file during build", "path", f.Path, "error", err)
			continue
		}
		if len(fragments) > MaxChunksPerFile {
			m.log.Warn("file exceeds chunk limit, skipping", "path", f.Path, "chunks", len(fragments))
			continue
		}
		if len(fragments) == 0 {
			continue
		}

		texts := make([]string, len(fragments))
		for i, frag := range fragments {
			texts[i] = frag.Text
		}
		vectors, err := embed.EmbedWithCache(ctx, m.embedder, m.cache, texts)
		if err != nil {
			return errs.EmbeddingFailure(fmt.Sprintf("failed to embed file %s", f.Path), err)
		}

		ids := make([]int64, len(fragments))
		for i, frag := range fragments {
			id := chunkid.Identity(f.Path, i)
			if frag.Metadata == nil {
				frag.Metadata = map[string]string{}
			}
			frag.Metadata["file_path"] = f.Path
			entries = append(entries, store.Entry{ID: id, Vector: vectors[i], Text: frag.Text, Metadata: frag.Metadata})
			ids[i] = id
		}
		fileChunks[f.Path] = ids
		fileMtimes[f.Path] = f.Mtime
	}

	if err := st.BuildFrom(ctx, entries); err != nil {
		return errs.InternalError("failed to build vector store", err)
	}
	if err := st.Persist(m.indexPath()); err != nil {
		return errs.PersistFailure("failed to persist freshly built index", err)
	}

	m.manifest.EnsureEntry(m.indexName, m.directories)
	for path, ids := range fileChunks {
		m.manifest.SetFileRecord(m.indexName, path, manifest.FileRecord{Mtime: fileMtimes[path], ChunkIDs: ids})
	}
	m.manifest.SetChecksum(m.indexName, manifest.ComputeChecksum(fileMtimes))
	if err := m.manifest.Save(); err != nil {
		return errs.PersistFailure("failed to save manifest after build", err)
	}

	m.live = st
	return nil
}

// reconstructPerFileMetadata ensures the manifest has an entry for this
// index after an on-disk index was loaded without per-file metadata. It
// writes no FileRecords: the store's per-chunk "file_path" metadata is not
// read back, so the manifest stays without per-file metadata.
func (m *Manager) reconstructPerFileMetadata() {
	m.manifest.EnsureEntry(m.indexName, m.directories)
	// The store does not expose a listing-with-metadata operation beyond
	// IDs(); full metadata reconstruction from file_path requires reading
	// each entry's text/metadata, which HNSWStore keeps internally but
	// does not expose per-ID. A manifest with no per-file metadata is
	// instead handled by falling back to a full rebuild on next Refresh
	// (reason MissingPerFileMetadata), which rebuilds correct records.
}

// Refresh runs one refresh pass per the spec's fallback table: missing
// per-file metadata, a missing on-disk index, or no current in-memory
// index each force a full rebuild; otherwise an incremental update runs
// against the live store in place.
func (m *Manager) Refresh(ctx context.Context) (RefreshResult, error) {
	m.updatingMu.Lock()
	m.updating = true
	m.updatingMu.Unlock()
	defer func() {
		m.updatingMu.Lock()
		m.updating = false
		m.updatingMu.Unlock()
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	if reason, ok := m.needsFullRebuild(); ok {
		m.state = "Updating"
		if err := m.buildFresh(ctx); err != nil {
			// An empty corpus is fatal for the initial build (LoadOrBuild),
			// but on a refresh it just means the corpus was emptied out
			// from under an already-Ready index: there is nothing to
			// rebuild from, so this cycle is a no-op rather than a startup
			// failure, and the previously live index (if any) stays live.
			if errs.GetCode(err) == errs.ErrCodeCorpusEmpty {
				m.state = "Ready"
				return RefreshResult{NoChange: true}, nil
			}
			m.state = "FailedStartup"
			return RefreshResult{}, err
		}
		m.state = "Ready"
		r := reason
		return RefreshResult{FullRebuild: &r}, nil
	}

	m.state = "Updating"
	updater := NewUpdater(m.live, m.manifest, m.loader, m.chunker, m.embedder, m.cache, m.indexPath(), m.clock, m.log)
	changes, err := updater.Refresh(ctx, m.indexName, m.directories)
	m.state = "Ready"
	if err != nil {
		return RefreshResult{}, err
	}
	if changes.Empty() {
		return RefreshResult{NoChange: true}, nil
	}
	return RefreshResult{Incremental: &changes}, nil
}

// needsFullRebuild applies the refresh fallback checks in order: missing
// per-file metadata, then a missing on-disk index (either persisted file
// absent at indexPath), then no current in-memory index.
func (m *Manager) needsFullRebuild() (RebuildReason, bool) {
	if !m.manifest.HasPerFileMetadata(m.indexName) {
		return ReasonMissingPerFileMetadata, true
	}
	for _, suffix := range []string{".ann", ".meta"} {
		if _, err := os.Stat(m.indexPath() + suffix); err != nil {
			return ReasonIndexNotFound, true
		}
	}
	if m.live == nil {
		return ReasonNoCurrentIndex, true
	}
	return "", false
}

// IsUpdating reports whether a refresh is currently in progress.
func (m *Manager) IsUpdating() bool {
	m.updatingMu.Lock()
	defer m.updatingMu.Unlock()
	return m.updating
}

// ReadHandle exposes the live store for the duration of one search call,
// under the reader lock.
type ReadHandle struct {
	store  store.VectorStore
	unlock func()
}

// Search performs a k-NN search against the snapshot this handle holds.
func (h *ReadHandle) Search(ctx context.Context, query []float32, k int) ([]store.Result, error) {
	defer h.unlock()
	return h.store.Search(ctx, query, k)
}

// QueryInterface returns a ReadHandle over the currently live store. The
// handle holds the reader lock only for the duration of its one Search
// call.
func (m *Manager) QueryInterface() (*ReadHandle, error) {
	m.mu.RLock()
	if m.live == nil {
		m.mu.RUnlock()
		return nil, errs.InternalError("index is not ready", nil)
	}
	live := m.live
	return &ReadHandle{store: live, unlock: m.mu.RUnlock}, nil
}

// StatusReport returns the manager's current readiness summary.
func (m *Manager) StatusReport() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state := "notReady"
	switch m.state {
	case "Ready":
		state = "ready"
	case "Updating":
		state = "updating"
	case "FailedStartup":
		state = "failedStartup"
	}
	s := Status{State: state, IsUpdating: m.IsUpdating()}
	if m.live != nil {
		s.Count = m.live.Size()
		s.Dimension = m.live.Dimension()
	}
	return s
}
