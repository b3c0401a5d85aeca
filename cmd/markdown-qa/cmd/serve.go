package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamerlzl/markdown-qa/internal/config"
	"github.com/dreamerlzl/markdown-qa/internal/embed"
	"github.com/dreamerlzl/markdown-qa/internal/index"
	"github.com/dreamerlzl/markdown-qa/internal/llm"
	"github.com/dreamerlzl/markdown-qa/internal/logging"
	"github.com/dreamerlzl/markdown-qa/internal/mcpserver"
	"github.com/dreamerlzl/markdown-qa/internal/watcher"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [path]",
		Short: "Run the MCP stdio server, indexing path on first start",
		Long: `Run the MCP stdio server. On first start it builds the vector index
for the Markdown files under path (or the current project root), then
serves the query_docs and corpus_status tools over stdio until
interrupted.

The MCP protocol reserves stdout exclusively for the JSON-RPC stream:
this command never writes anything to stdout or stderr on its own,
logging to ~/.markdown-qa/logs/ instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runServe(cmd.Context(), path)
		},
	}
	return cmd
}

func runServe(parent context.Context, path string) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cleanup, err := logging.SetupMCPMode()
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer cleanup()
	log := slog.Default()

	cfg, root, err := loadConfig(path)
	if err != nil {
		return err
	}
	log.Info("resolved project", "root", root, "directories", cfg.Directories)

	manager, err := newManager(ctx, cfg, log)
	if err != nil {
		return err
	}

	if err := manager.LoadOrBuild(ctx); err != nil {
		return fmt.Errorf("build index: %w", err)
	}
	log.Info("index ready", "status", manager.StatusReport())

	scheduler := index.NewReloadScheduler(manager, time.Duration(cfg.ReloadIntervalSeconds)*time.Second, cfg.CacheRoot, log)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	configWatcher, err := watcher.NewConfigWatcher(config.ConfigPath(root), func() {
		log.Info("config file changed, triggering refresh")
		if _, err := manager.Refresh(ctx); err != nil {
			log.Error("refresh after config change failed", "error", err)
		}
	}, log)
	if err != nil {
		return fmt.Errorf("watch config file: %w", err)
	}
	go configWatcher.Run(ctx)
	defer configWatcher.Stop()

	queryCache, err := embed.NewEmbeddingCache(filepath.Join(cfg.CacheRoot, "query-embeddings"), log)
	if err != nil {
		return fmt.Errorf("open query embedding cache: %w", err)
	}
	indexingEmbedder, err := newIndexingEmbedder(ctx, cfg.Embeddings)
	if err != nil {
		return fmt.Errorf("create query embedder: %w", err)
	}
	queryEmbedder := embed.NewCachedEmbedderWithDefaults(indexingEmbedder)
	queryPath := index.NewQueryPath(manager, queryEmbedder, queryCache)

	provider, err := llm.NewOllamaProvider(ctx, llm.Config{
		Host:  cfg.LLM.OllamaHost,
		Model: cfg.LLM.Model,
	})
	if err != nil {
		return fmt.Errorf("connect to language model: %w", err)
	}
	defer provider.Close()

	server := mcpserver.NewServer(manager, queryPath, provider, log)
	return server.Serve(ctx)
}
