package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/taskforge/internal/telemetry"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the queue worker loop",
	Long: `worker polls the store for QUEUED tasks and runs them one at a
time. Stop with SIGINT or SIGTERM; the task in flight finishes first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		otelShutdown, err := telemetry.SetupOTelSDK(context.Background())
		if err != nil {
			return fmt.Errorf("setup telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := otelShutdown(shutdownCtx); err != nil {
				fmt.Fprintf(os.Stderr, "telemetry shutdown error: %v\n", err)
			}
		}()

		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		interval := time.Duration(rt.cfg.PollInterval) * time.Second
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		fmt.Printf("worker polling every %s\n", interval)
		for {
			select {
			case <-ctx.Done():
				fmt.Println("\nworker stopping")
				return nil
			case <-ticker.C:
				id, err := rt.store.NextQueued()
				if err != nil {
					telemetry.Log("poll queue: "+err.Error(), slog.LevelError)
					continue
				}
				if id == "" {
					continue
				}
				if err := rt.orch.Run(ctx, id); err != nil {
					telemetry.Log("run task "+id+": "+err.Error(), slog.LevelError)
				}
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
