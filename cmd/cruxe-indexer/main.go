// Command cruxe-indexer is the indexer subprocess the server spawns for
// index_repo/sync_repo: one sync pass for one (workspace, ref), reporting
// through the shared state.db rather than its own stdout. The job id to
// write arrives via CRUXE_JOB_ID.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/signalridge/cruxe/internal/indexer"
	"github.com/signalridge/cruxe/internal/logging"
)

func main() {
	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	var workspacePath, ref, configPath string
	var force bool

	cmd := &cobra.Command{
		Use:           "cruxe-indexer",
		Short:         "index one workspace ref and exit",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if workspacePath == "" {
				wd, err := os.Getwd()
				if err != nil {
					return err
				}
				workspacePath = wd
			}
			logger := logging.New(logging.Options{Level: "info", JSON: true})

			result, err := indexer.Run(cmd.Context(), workspacePath, ref, configPath, force, os.Getenv("CRUXE_JOB_ID"))
			if err != nil {
				logger.Error("index run failed", "workspace", workspacePath, "ref", ref, "error", err)
				return err
			}
			logger.Info("index run published",
				"workspace", workspacePath, "ref", ref, "job_id", result.JobID,
				"mode", result.Mode, "changed_files", result.ChangedFiles,
				"symbols_extracted", result.SymbolsExtracted, "duration_ms", result.DurationMs)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspacePath, "path", "", "workspace to index")
	cmd.Flags().StringVar(&ref, "ref", "", "ref to index")
	cmd.Flags().StringVar(&configPath, "config", "", "explicit config file path")
	cmd.Flags().BoolVar(&force, "force", false, "rebuild from scratch")

	if err := cmd.ExecuteContext(rootCtx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
