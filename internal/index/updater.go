package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dreamerlzl/markdown-qa/internal/changedetect"
	"github.com/dreamerlzl/markdown-qa/internal/chunk"
	"github.com/dreamerlzl/markdown-qa/internal/chunkid"
	"github.com/dreamerlzl/markdown-qa/internal/embed"
	"github.com/dreamerlzl/markdown-qa/internal/errs"
	"github.com/dreamerlzl/markdown-qa/internal/loader"
	"github.com/dreamerlzl/markdown-qa/internal/manifest"
	"github.com/dreamerlzl/markdown-qa/internal/store"
)

// MaxChunksPerFile bounds how many chunks a single file may contribute;
// a chunk index beyond this would collide in ChunkIdentity's 16-bit
// low field.
const MaxChunksPerFile = 65536

// editWindow is how recently a file's mtime must be, relative to now, for
// it to be treated as still being written and skipped this cycle.
const editWindow = 2 * time.Second

// Clock abstracts time.Now so FileBeingEdited detection is testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Updater applies one incremental refresh pass: change detection, stale
// chunk removal, and re-embedding/insertion of added or modified files.
// Generalizes the teacher's per-file indexFile/removeFile operations (its
// BM25+vector+SQLite triple write collapses here to a single
// vector-store+manifest pair) and follows vector_store.py's
// embed-then-insert sequencing.
type Updater struct {
	Store     store.VectorStore
	Manifest  *manifest.Manifest
	Loader    *loader.Loader
	Chunker   chunk.Chunker
	Embedder  embed.Embedder
	Cache     *embed.EmbeddingCache
	IndexPath string // pathPrefix passed to Store.Persist
	Clock     Clock
	Log       *slog.Logger
}

// NewUpdater builds an Updater from its collaborators. indexPath is the
// pathPrefix the store persists to (without ".ann"/".meta"). A nil clock
// or logger falls back to the real clock / slog.Default.
func NewUpdater(st store.VectorStore, m *manifest.Manifest, l *loader.Loader, c chunk.Chunker, e embed.Embedder, cache *embed.EmbeddingCache, indexPath string, clock Clock, log *slog.Logger) *Updater {
	if clock == nil {
		clock = systemClock{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Updater{Store: st, Manifest: m, Loader: l, Chunker: c, Embedder: e, Cache: cache, IndexPath: indexPath, Clock: clock, Log: log}
}

// Refresh runs change detection followed by an incremental update against
// the live store. Returns the detected Changes (empty if nothing
// changed).
//
// Every added-or-modified file is chunked and embedded before anything is
// mutated. A per-file read/chunk failure is recoverable — that file is
// skipped and the pass continues — but an embedding-provider failure that
// survives retries is fatal and aborts the whole pass before any stale
// chunks are removed or any new ones inserted, so the live store and the
// manifest both remain exactly as they were before this Refresh call.
// Only once every file has a verdict are stale chunks removed and fresh
// ones inserted, so a modified file whose re-embed was skipped keeps its
// prior indexed chunks rather than being dropped from the index.
func (u *Updater) Refresh(ctx context.Context, indexName string, directories []string) (changedetect.Changes, error) {
	current, err := u.Loader.Load(directories)
	if err != nil {
		return changedetect.Changes{}, fmt.Errorf("enumerate corpus: %w", err)
	}

	stored := u.Manifest.FileRecords(indexName)
	changes := changedetect.Detect(stored, current)
	if changes.Empty() {
		return changes, nil
	}

	currentByPath := make(map[string]loader.File, len(current))
	for _, f := range current {
		currentByPath[f.Path] = f
	}

	toProcess := append(append([]string{}, changes.Added...), changes.Modified...)
	prepared := make(map[string]*preparedFile, len(toProcess))
	for _, path := range toProcess {
		file, ok := currentByPath[path]
		if !ok {
			continue
		}
		pf, err := u.prepareFile(ctx, file)
		if err != nil {
			if errs.IsFatal(err) {
				return changes, err
			}
			u.Log.Warn("skipping file during refresh", "path", path, "error", err)
			continue
		}
		prepared[path] = pf
	}

	if err := u.removeStale(ctx, indexName, stored, changes, prepared); err != nil {
		return changes, err
	}

	for _, path := range toProcess {
		pf, ok := prepared[path]
		if !ok {
			continue
		}
		if err := u.applyPrepared(ctx, indexName, path, pf); err != nil {
			return changes, err
		}
	}

	if err := u.Store.Persist(u.IndexPath); err != nil {
		return changes, errs.PersistFailure("failed to persist vector store", err)
	}

	mtimes := make(map[string]float64, len(current))
	for _, f := range current {
		mtimes[f.Path] = f.Mtime
	}
	u.Manifest.SetChecksum(indexName, manifest.ComputeChecksum(mtimes))

	if err := u.Manifest.Save(); err != nil {
		return changes, errs.PersistFailure("failed to save manifest", err)
	}

	return changes, nil
}

// removeStale drops the old chunks for every deleted path, and for every
// modified path whose replacement was successfully prepared. A modified
// path whose prepare step was skipped (non-fatal error) keeps its prior
// chunks and FileRecord so the index still reflects the last version that
// was actually indexed; a modified file that now yields no chunks loses
// its prior chunks and FileRecord.
func (u *Updater) removeStale(ctx context.Context, indexName string, stored map[string]manifest.FileRecord, changes changedetect.Changes, prepared map[string]*preparedFile) error {
	var toRemove []int64
	for _, path := range changes.Deleted {
		if rec, ok := stored[path]; ok {
			toRemove = append(toRemove, rec.ChunkIDs...)
		}
	}
	for _, path := range changes.Modified {
		if _, ok := prepared[path]; !ok {
			continue
		}
		if rec, ok := stored[path]; ok {
			toRemove = append(toRemove, rec.ChunkIDs...)
		}
	}

	if len(toRemove) > 0 {
		if _, err := u.Store.Remove(ctx, toRemove); err != nil {
			return errs.InternalError("failed to remove stale chunks", err)
		}
	}

	for _, path := range changes.Deleted {
		u.Manifest.RemoveFileRecord(indexName, path)
	}
	for _, path := range changes.Modified {
		if _, ok := prepared[path]; ok {
			u.Manifest.RemoveFileRecord(indexName, path)
		}
	}
	return nil
}

// preparedFile holds the result of chunking and embedding one file, ready
// to be inserted once the refresh pass knows no fatal error remains.
type preparedFile struct {
	entries  []store.Entry
	chunkIDs []int64
	mtime    float64
	empty    bool // file produced zero chunks; prior record should be dropped, nothing inserted
}

// prepareFile chunks and embeds one added-or-modified file without
// touching the store or manifest. A file that yields no chunks returns a
// non-nil preparedFile with empty set: the caller still drops any prior
// chunks for this path and inserts nothing.
func (u *Updater) prepareFile(ctx context.Context, file loader.File) (*preparedFile, error) {
	if u.beingEdited(file) {
		return nil, errs.FileBeingEdited(fmt.Sprintf("file %s was modified within the edit window, deferring to next cycle", file.Path))
	}

	fragments, err := u.Chunker.Chunk(ctx, &chunk.FileInput{Path: file.Path, Content: file.Content})
	if err != nil {
		return nil, errs.ValidationError("failed to chunk file", err)
	}
	if len(fragments) > MaxChunksPerFile {
		return nil, errs.ChunkLimitExceeded(fmt.Sprintf("file %s produced %d chunks, exceeding the %d limit", file.Path, len(fragments), MaxChunksPerFile), nil)
	}
	if len(fragments) == 0 {
		return &preparedFile{mtime: file.Mtime, empty: true}, nil
	}

	texts := make([]string, len(fragments))
	for i, frag := range fragments {
		texts[i] = frag.Text
	}

	vectors, err := embed.EmbedWithCache(ctx, u.Embedder, u.Cache, texts)
	if err != nil {
		return nil, errs.EmbeddingFailure(fmt.Sprintf("failed to embed file %s", file.Path), err)
	}

	entries := make([]store.Entry, len(fragments))
	chunkIDs := make([]int64, len(fragments))
	for i, frag := range fragments {
		id := chunkid.Identity(file.Path, i)
		if frag.Metadata == nil {
			frag.Metadata = map[string]string{}
		}
		frag.Metadata["file_path"] = file.Path
		entries[i] = store.Entry{ID: id, Vector: vectors[i], Text: frag.Text, Metadata: frag.Metadata}
		chunkIDs[i] = id
	}

	return &preparedFile{entries: entries, chunkIDs: chunkIDs, mtime: file.Mtime}, nil
}

// applyPrepared inserts a prepared file's chunks and writes its fresh
// FileRecord. Called only after removeStale has cleared the path's prior
// chunks, so Store.Add never collides with them.
func (u *Updater) applyPrepared(ctx context.Context, indexName, path string, pf *preparedFile) error {
	if pf.empty {
		return nil
	}

	if err := u.Store.Add(ctx, pf.entries); err != nil {
		return errs.InternalError(fmt.Sprintf("failed to insert chunks for %s", path), err)
	}

	u.Manifest.SetFileRecord(indexName, path, manifest.FileRecord{Mtime: pf.mtime, ChunkIDs: pf.chunkIDs})
	return nil
}

// beingEdited reports whether a file's mtime is recent enough that it may
// still be mid-write.
func (u *Updater) beingEdited(file loader.File) bool {
	now := float64(u.Clock.Now().UnixNano()) / 1e9
	return now-file.Mtime < editWindow.Seconds() && now >= file.Mtime
}
