package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dreamerlzl/markdown-qa/internal/config"
	"github.com/dreamerlzl/markdown-qa/internal/output"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Inspect the vector index",
	}
	cmd.AddCommand(newIndexInfoCmd())
	return cmd
}

type indexInfo struct {
	Root        string   `json:"root"`
	IndexName   string   `json:"index_name"`
	Directories []string `json:"directories"`
	CacheRoot   string   `json:"cache_root"`
	State       string   `json:"state"`
	Count       int      `json:"count"`
	Dimension   int      `json:"dimension"`
	IsUpdating  bool     `json:"is_updating"`
}

func newIndexInfoCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "info [path]",
		Short: "Show index configuration and statistics",
		Long: `Display the index's location, directories, chunk count, dimension,
and readiness state. Useful for debugging dimension mismatches or
verifying an index was built correctly after a reindex.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runIndexInfo(cmd, path, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	return cmd
}

func runIndexInfo(cmd *cobra.Command, path string, jsonOutput bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, root, err := loadConfig(path)
	if err != nil {
		return err
	}

	info, err := buildIndexInfo(ctx, cfg, root)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	out := output.New(cmd.OutOrStdout())
	out.Statusf("", "Root:        %s", info.Root)
	out.Statusf("", "Index name:  %s", info.IndexName)
	out.Statusf("", "Directories: %v", info.Directories)
	out.Statusf("", "Cache root:  %s", info.CacheRoot)
	out.Statusf("", "State:       %s", info.State)
	out.Statusf("", "Chunks:      %d", info.Count)
	out.Statusf("", "Dimension:   %d", info.Dimension)
	out.Statusf("", "Updating:    %v", info.IsUpdating)
	return nil
}

func buildIndexInfo(ctx context.Context, cfg *config.Config, root string) (*indexInfo, error) {
	manager, err := newManager(ctx, cfg, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	if err := manager.LoadOrBuild(ctx); err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}

	status := manager.StatusReport()
	return &indexInfo{
		Root:        root,
		IndexName:   cfg.IndexName,
		Directories: cfg.Directories,
		CacheRoot:   cfg.CacheRoot,
		State:       status.State,
		Count:       status.Count,
		Dimension:   status.Dimension,
		IsUpdating:  status.IsUpdating,
	}, nil
}
