package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dreamerlzl/markdown-qa/internal/chunk"
	"github.com/dreamerlzl/markdown-qa/internal/config"
	"github.com/dreamerlzl/markdown-qa/internal/embed"
	"github.com/dreamerlzl/markdown-qa/internal/index"
	"github.com/dreamerlzl/markdown-qa/internal/loader"
	"github.com/dreamerlzl/markdown-qa/internal/manifest"
	"github.com/dreamerlzl/markdown-qa/internal/store"
)

// loadConfig resolves the project root from path and loads its config.
func loadConfig(path string) (*config.Config, string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, "", fmt.Errorf("resolve path: %w", err)
	}

	root, err := config.FindProjectRoot(absPath)
	if err != nil {
		root = absPath
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}
	if len(cfg.Directories) == 0 {
		cfg.Directories = []string{root}
	}

	return cfg, root, nil
}

// newIndexingEmbedder builds the embedder used to embed corpus chunks,
// per cfg.Embeddings.
func newIndexingEmbedder(ctx context.Context, cfg config.EmbeddingsConfig) (embed.Embedder, error) {
	switch cfg.Provider {
	case "static":
		return embed.NewStaticEmbedder(), nil
	case "ollama", "":
		return embed.NewOllamaEmbedder(ctx, embed.OllamaConfig{
			Host:  cfg.OllamaHost,
			Model: cfg.Model,
		})
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Provider)
	}
}

// newManager builds an IndexManager wired to cfg.
func newManager(ctx context.Context, cfg *config.Config, log *slog.Logger) (*index.Manager, error) {
	if err := os.MkdirAll(cfg.CacheRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}

	m, err := manifest.Load(filepath.Join(cfg.CacheRoot, "indexes.json"))
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}

	cache, err := embed.NewEmbeddingCache(filepath.Join(cfg.CacheRoot, "embeddings"), log)
	if err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}

	embedder, err := newIndexingEmbedder(ctx, cfg.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	return index.NewManager(index.ManagerConfig{
		IndexName:   cfg.IndexName,
		Directories: cfg.Directories,
		CacheRoot:   cfg.CacheRoot,
		Manifest:    m,
		NewStore:    func() store.VectorStore { return store.NewHNSWStore(store.DefaultConfig(embedder.Dimensions())) },
		Loader:      loader.New(log),
		Chunker:     chunk.NewMarkdownChunker(),
		Embedder:    embedder,
		Cache:       cache,
		Log:         log,
	}), nil
}
