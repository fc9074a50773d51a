package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/audiolibrelab/interviewcapture/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a local answer collection backend",
	Long: `Start a web server implementing the answer upload and analysis endpoints.

Answers are stored under server.storage_directory, one directory per session.
Requesting analysis writes an analysis.yaml manifest listing the stored answers.
Point backend.base_url at this server to run interviews fully offline.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if port, _ := cmd.Flags().GetString("port"); port != "" {
			cfg.Server.Port = port
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		slog.Info("InterviewCapture backend starting", "port", cfg.Server.Port, "storage", cfg.Server.StorageDirectory)

		// Start blocks until ctx is cancelled
		if err := server.New(cfg).Start(ctx); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("port", "", "port for the web server (overrides config)")
}
