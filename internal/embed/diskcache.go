package embed

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
)

// cacheEntry is the on-disk shape of one cached embedding.
type cacheEntry struct {
	Embedding []float32 `json:"embedding"`
	Text      string    `json:"text"`
}

// EmbeddingCache is a disk-backed, content-addressed store of chunk
// embeddings: one JSON file per sha256(text) under dir/<hex>.json. Unlike
// CachedEmbedder's in-memory LRU, entries here never expire, since the
// same chunk text re-embeds to the same vector regardless of how long ago
// it was last seen.
type EmbeddingCache struct {
	dir string
	log *slog.Logger
}

// NewEmbeddingCache creates a cache rooted at dir, creating it if absent.
func NewEmbeddingCache(dir string, log *slog.Logger) (*EmbeddingCache, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &EmbeddingCache{dir: dir, log: log}, nil
}

func (c *EmbeddingCache) keyFor(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (c *EmbeddingCache) pathFor(key string) string {
	return filepath.Join(c.dir, key+".json")
}

// Get returns the cached embedding for text, or ok=false on a miss. A
// corrupted or unreadable cache file is treated as a miss rather than an
// error, matching the tolerant read the index rebuild depends on.
func (c *EmbeddingCache) Get(text string) (vector []float32, ok bool) {
	path := c.pathFor(c.keyFor(text))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.log.Debug("embedding cache entry corrupted, treating as miss", "path", path, "error", err)
		return nil, false
	}
	if len(entry.Embedding) == 0 {
		return nil, false
	}
	return entry.Embedding, true
}

// Put stores vector under text's content key. Writes are best-effort: a
// failure here must not block indexing, so it is logged and swallowed.
func (c *EmbeddingCache) Put(text string, vector []float32) {
	preview := text
	if len(preview) > 100 {
		preview = preview[:100]
	}

	data, err := json.Marshal(cacheEntry{Embedding: vector, Text: preview})
	if err != nil {
		c.log.Warn("failed to marshal embedding cache entry", "error", err)
		return
	}

	path := c.pathFor(c.keyFor(text))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		c.log.Warn("failed to write embedding cache entry", "path", path, "error", err)
	}
}
