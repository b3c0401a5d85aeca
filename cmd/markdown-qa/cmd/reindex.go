package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dreamerlzl/markdown-qa/internal/output"
)

func newReindexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reindex [path]",
		Short: "Rebuild the vector index for a directory of Markdown files",
		Long: `Load or build the vector index for path (or the current project root)
and report what changed. Unlike serve, this runs once and exits; it is
useful for warming the index ahead of time or after pulling changes.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := output.New(cmd.OutOrStdout())
			log := slog.Default()

			cfg, root, err := loadConfig(path)
			if err != nil {
				return err
			}
			out.Statusf("", "Indexing %s", root)

			manager, err := newManager(ctx, cfg, log)
			if err != nil {
				return err
			}

			if err := manager.LoadOrBuild(ctx); err != nil {
				return fmt.Errorf("build index: %w", err)
			}

			result, err := manager.Refresh(ctx)
			if err != nil {
				return fmt.Errorf("refresh index: %w", err)
			}

			switch {
			case result.NoChange:
				out.Success("No changes since last index")
			case result.Incremental != nil:
				out.Success(fmt.Sprintf("Indexed %d added, %d modified, %d removed",
					len(result.Incremental.Added), len(result.Incremental.Modified), len(result.Incremental.Deleted)))
			case result.FullRebuild != nil:
				out.Success(fmt.Sprintf("Full rebuild (%s)", *result.FullRebuild))
			}

			status := manager.StatusReport()
			out.Statusf("", "%d chunks indexed, dimension %d", status.Count, status.Dimension)
			return nil
		},
	}
	return cmd
}
