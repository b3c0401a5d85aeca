// Package cmd provides the CLI commands for markdown-qa.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dreamerlzl/markdown-qa/internal/logging"
	"github.com/dreamerlzl/markdown-qa/pkg/version"
)

var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the markdown-qa CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "markdown-qa",
		Short:   "Retrieval-augmented Q&A over a Markdown corpus",
		Version: version.Version,
		Long: `markdown-qa indexes a directory of Markdown files into a local vector
store and answers questions against it, either as a one-off MCP tool
call or as a long-running stdio server for an AI coding assistant.`,
	}

	cmd.SetVersionTemplate("markdown-qa version {{.Version}}\n")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.markdown-qa/logs/")
	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newReindexCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func startLogging(cmd *cobra.Command, _ []string) error {
	if !debugMode {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return err
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Debug("debug logging enabled", "log_file", logging.DefaultLogPath())
	return nil
}

func stopLogging(cmd *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
