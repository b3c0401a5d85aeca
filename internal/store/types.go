// Package store holds the fixed-dimension vector index with attached text
// and metadata: a content-addressed, incrementally-updatable ANN structure
// over int64 chunk IDs.
package store

import (
	"context"
	"fmt"
)

// Entry is one chunk as seen by the vector store: an externally-assigned
// ID, its embedding, the retrievable text, and free-form metadata (at
// minimum "file_path", optionally "section").
type Entry struct {
	ID       int64
	Vector   []float32
	Text     string
	Metadata map[string]string
}

// Result is a single nearest-neighbour hit, ordered by ascending distance.
type Result struct {
	ID       int64
	Text     string
	Metadata map[string]string
	Distance float32
}

// Config configures the HNSW graph underlying a VectorStore.
type Config struct {
	Dimensions     int
	M              int // max connections per layer
	EfConstruction int // build-time search width
	EfSearch       int // query-time search width
}

// DefaultConfig returns sensible defaults for the given dimensionality.
func DefaultConfig(dimensions int) Config {
	return Config{
		Dimensions:     dimensions,
		M:              16,
		EfConstruction: 128,
		EfSearch:       20,
	}
}

// VectorStore holds a fixed-dimension vector set with content attached,
// addressed by externally-assigned int64 chunk IDs.
type VectorStore interface {
	// BuildFrom replaces any prior state with entries, in one atomic swap.
	BuildFrom(ctx context.Context, entries []Entry) error

	// Add inserts entries. All IDs must be currently absent; if any ID is
	// already present, or insertion fails partway through, every ID
	// inserted during this call is rolled back and an error is returned.
	Add(ctx context.Context, entries []Entry) error

	// Remove deletes entries by ID, returning the count actually removed.
	// IDs that are not present are silently ignored.
	Remove(ctx context.Context, ids []int64) (int, error)

	// Search returns up to k nearest neighbours to query, ascending by L2
	// distance. Returns fewer than k if the store holds fewer entries.
	Search(ctx context.Context, query []float32, k int) ([]Result, error)

	// Persist writes the serialised ANN structure and a companion record
	// to pathPrefix+".ann" and pathPrefix+".meta".
	Persist(pathPrefix string) error

	// Load reads back what Persist wrote, rebuilding the id->position map.
	Load(pathPrefix string) error

	Size() int
	Dimension() int

	// IDs returns every chunk ID currently present. Used by consistency
	// tooling, not the query or write paths.
	IDs() []int64

	// IsValid reports whether the ANN size matches the companion-array
	// length and is non-zero.
	IsValid() bool

	Close() error
}

// ErrDimensionMismatch indicates a vector of the wrong dimensionality was
// supplied to a store configured for a different dimension.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// ErrIDExists indicates Add was called with an ID already present in the store.
type ErrIDExists struct {
	ID int64
}

func (e ErrIDExists) Error() string {
	return fmt.Sprintf("chunk id %d already present in vector store", e.ID)
}
