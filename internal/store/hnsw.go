package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// metaVersion is written into every companion record. Bumped when the
// on-disk shape changes; absent fields on load are treated as empty so
// older companion records still load.
const metaVersion = 2

// orphanCompactionThreshold is the tombstone ratio (orphaned graph nodes
// over total graph nodes) past which Remove rebuilds the graph from its
// live entries instead of continuing to accumulate lazily-deleted nodes,
// per spec's ANN capability note (§9, example threshold 0.2).
const orphanCompactionThreshold = 0.2

// HNSWStore implements VectorStore on top of coder/hnsw's pure-Go graph,
// keyed externally by the int64 chunk IDs assigned by ChunkIdentity.
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config Config

	idMap   map[int64]uint64 // chunk id -> internal graph key
	keyMap  map[uint64]int64 // internal graph key -> chunk id
	texts   map[int64]string
	metas   map[int64]map[string]string
	// vectors mirrors every live entry's vector outside the graph, purely
	// so compact can rebuild a fresh graph from idMap without a way to
	// read a node's vector back out of the coder/hnsw graph by key.
	vectors map[int64][]float32
	nextKey uint64

	closed bool
}

// companion is the on-disk shape of the ".meta" file written alongside the
// serialised ANN graph.
type companion struct {
	Version   int
	IDMap     map[int64]uint64
	NextKey   uint64
	Config    Config
	Metadatas map[int64]map[string]string
	Texts     map[int64]string
	Vectors   map[int64][]float32
}

// NewHNSWStore creates an empty vector store with the given configuration.
func NewHNSWStore(cfg Config) *HNSWStore {
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.EuclideanDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &HNSWStore{
		graph:   graph,
		config:  cfg,
		idMap:   make(map[int64]uint64),
		keyMap:  make(map[uint64]int64),
		texts:   make(map[int64]string),
		metas:   make(map[int64]map[string]string),
		vectors: make(map[int64][]float32),
	}
}

// BuildFrom replaces any prior state with entries in one shot.
func (s *HNSWStore) BuildFrom(ctx context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for _, e := range entries {
		if len(e.Vector) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(e.Vector)}
		}
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.EuclideanDistance
	graph.M = s.config.M
	graph.EfSearch = s.config.EfSearch
	graph.Ml = 0.25

	idMap := make(map[int64]uint64, len(entries))
	keyMap := make(map[uint64]int64, len(entries))
	texts := make(map[int64]string, len(entries))
	metas := make(map[int64]map[string]string, len(entries))
	vectors := make(map[int64][]float32, len(entries))

	var nextKey uint64
	for _, e := range entries {
		key := nextKey
		nextKey++
		graph.Add(hnsw.MakeNode(key, e.Vector))
		idMap[e.ID] = key
		keyMap[key] = e.ID
		texts[e.ID] = e.Text
		metas[e.ID] = e.Metadata
		vectors[e.ID] = e.Vector
	}

	s.graph = graph
	s.idMap = idMap
	s.keyMap = keyMap
	s.texts = texts
	s.metas = metas
	s.vectors = vectors
	s.nextKey = nextKey

	return nil
}

// Add inserts entries, asserting all IDs are currently absent. Any IDs
// inserted during a call that later fails are rolled back.
func (s *HNSWStore) Add(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for _, e := range entries {
		if _, exists := s.idMap[e.ID]; exists {
			return ErrIDExists{ID: e.ID}
		}
		if len(e.Vector) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(e.Vector)}
		}
	}

	inserted := make([]int64, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			s.rollback(inserted)
			return err
		}

		key := s.nextKey
		s.nextKey++

		s.graph.Add(hnsw.MakeNode(key, e.Vector))
		s.idMap[e.ID] = key
		s.keyMap[key] = e.ID
		s.texts[e.ID] = e.Text
		s.metas[e.ID] = e.Metadata
		s.vectors[e.ID] = e.Vector
		inserted = append(inserted, e.ID)
	}

	return nil
}

// rollback undoes an Add call's effect for the given IDs by orphaning
// their graph nodes, the same way Remove does.
func (s *HNSWStore) rollback(ids []int64) {
	for _, id := range ids {
		if key, exists := s.idMap[id]; exists {
			delete(s.idMap, id)
			delete(s.keyMap, key)
			delete(s.texts, id)
			delete(s.metas, id)
			delete(s.vectors, id)
		}
	}
	s.compactIfNeeded()
}

// Remove deletes entries by ID via lazy deletion (orphaning the graph
// node), avoiding a coder/hnsw bug where deleting the last node in the
// graph breaks it. Orphaned nodes stay in the graph but are unreachable
// through idMap/keyMap and are filtered out of search results. Once the
// orphan ratio crosses orphanCompactionThreshold, the graph is rebuilt
// from the surviving live entries so orphans don't accumulate without
// bound over a long-running incremental service's lifetime.
func (s *HNSWStore) Remove(ctx context.Context, ids []int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, fmt.Errorf("store is closed")
	}

	removed := 0
	for _, id := range ids {
		key, exists := s.idMap[id]
		if !exists {
			continue
		}
		delete(s.idMap, id)
		delete(s.keyMap, key)
		delete(s.texts, id)
		delete(s.metas, id)
		delete(s.vectors, id)
		removed++
	}

	s.compactIfNeeded()

	return removed, nil
}

// orphanRatio reports the fraction of graph nodes that are no longer
// reachable through idMap (lazily deleted by Remove or rollback).
func (s *HNSWStore) orphanRatio() float64 {
	total := s.graph.Len()
	if total == 0 {
		return 0
	}
	orphans := total - len(s.idMap)
	return float64(orphans) / float64(total)
}

// compactIfNeeded rebuilds the graph from the live idMap entries once the
// orphan ratio crosses orphanCompactionThreshold. Caller must hold s.mu.
func (s *HNSWStore) compactIfNeeded() {
	if s.orphanRatio() < orphanCompactionThreshold {
		return
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.EuclideanDistance
	graph.M = s.config.M
	graph.EfSearch = s.config.EfSearch
	graph.Ml = 0.25

	idMap := make(map[int64]uint64, len(s.idMap))
	keyMap := make(map[uint64]int64, len(s.idMap))

	var nextKey uint64
	for id := range s.idMap {
		key := nextKey
		nextKey++
		graph.Add(hnsw.MakeNode(key, s.vectors[id]))
		idMap[id] = key
		keyMap[key] = id
	}

	s.graph = graph
	s.idMap = idMap
	s.keyMap = keyMap
	s.nextKey = nextKey
}

// Search returns up to k nearest neighbours ascending by L2 distance.
// Sentinel not-found keys from the underlying graph (no keyMap entry,
// e.g. orphaned nodes) are dropped.
func (s *HNSWStore) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}

	if s.graph.Len() == 0 {
		return nil, nil
	}

	nodes := s.graph.Search(query, k)

	results := make([]Result, 0, len(nodes))
	for _, node := range nodes {
		id, exists := s.keyMap[node.Key]
		if !exists {
			continue
		}
		distance := s.graph.Distance(query, node.Value)
		results = append(results, Result{
			ID:       id,
			Text:     s.texts[id],
			Metadata: s.metas[id],
			Distance: distance,
		})
	}

	return results, nil
}

func (s *HNSWStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idMap)
}

func (s *HNSWStore) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.Dimensions
}

// IDs returns every chunk ID currently present, in no particular order.
func (s *HNSWStore) IDs() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.idMap))
	for id := range s.idMap {
		ids = append(ids, id)
	}
	return ids
}

// IsValid reports whether the ANN size equals the companion-array length
// and is non-zero.
func (s *HNSWStore) IsValid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.idMap)
	return n > 0 && n == len(s.texts) && n == len(s.metas)
}

// Persist writes the serialised ANN graph to pathPrefix+".ann" and the
// companion record to pathPrefix+".meta", each via temp-file-then-rename.
func (s *HNSWStore) Persist(pathPrefix string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	if dir := filepath.Dir(pathPrefix); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create index directory: %w", err)
		}
	}

	annPath := pathPrefix + ".ann"
	if err := writeAtomic(annPath, s.graph.Export); err != nil {
		return fmt.Errorf("persist ann graph: %w", err)
	}

	meta := companion{
		Version:   metaVersion,
		IDMap:     s.idMap,
		NextKey:   s.nextKey,
		Config:    s.config,
		Metadatas: s.metas,
		Texts:     s.texts,
		Vectors:   s.vectors,
	}

	metaPath := pathPrefix + ".meta"
	if err := writeAtomic(metaPath, func(f *os.File) error {
		return gob.NewEncoder(f).Encode(meta)
	}); err != nil {
		return fmt.Errorf("persist companion record: %w", err)
	}

	return nil
}

// writeAtomic writes via a temp file in the same directory, then renames
// it into place, so readers never observe a partially-written file.
func writeAtomic(path string, write func(*os.File) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads back what Persist wrote, rebuilding the id->position map. A
// companion record with a version tag older than what this build expects
// is tolerated by assuming absent fields are empty.
func (s *HNSWStore) Load(pathPrefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	metaPath := pathPrefix + ".meta"
	metaFile, err := os.Open(metaPath)
	if err != nil {
		return fmt.Errorf("open companion record: %w", err)
	}
	defer metaFile.Close()

	var meta companion
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return fmt.Errorf("decode companion record: %w", err)
	}

	s.idMap = meta.IDMap
	if s.idMap == nil {
		s.idMap = make(map[int64]uint64)
	}
	s.nextKey = meta.NextKey
	if meta.Config.Dimensions != 0 {
		s.config = meta.Config
	}
	s.metas = meta.Metadatas
	if s.metas == nil {
		s.metas = make(map[int64]map[string]string)
	}
	s.texts = meta.Texts
	if s.texts == nil {
		s.texts = make(map[int64]string)
	}
	s.vectors = meta.Vectors
	if s.vectors == nil {
		s.vectors = make(map[int64][]float32)
	}

	s.keyMap = make(map[uint64]int64, len(s.idMap))
	for id, key := range s.idMap {
		s.keyMap[key] = id
	}

	annPath := pathPrefix + ".ann"
	annFile, err := os.Open(annPath)
	if err != nil {
		return fmt.Errorf("open ann graph: %w", err)
	}
	defer annFile.Close()

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.EuclideanDistance
	graph.M = s.config.M
	graph.EfSearch = s.config.EfSearch
	graph.Ml = 0.25

	// coder/hnsw's Import requires an io.ByteReader.
	if err := graph.Import(bufio.NewReader(annFile)); err != nil {
		return fmt.Errorf("import ann graph: %w", err)
	}
	s.graph = graph

	return nil
}

func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

var _ VectorStore = (*HNSWStore)(nil)
