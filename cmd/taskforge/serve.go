package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/taskforge/internal/api"
	"github.com/example/taskforge/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
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

		srv := &http.Server{
			Addr:    rt.cfg.ListenAddr,
			Handler: api.NewServer(rt.store).Router(),
		}

		serverErr := make(chan error, 1)
		go func() {
			fmt.Printf("API server listening on %s\n", rt.cfg.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()

		select {
		case err := <-serverErr:
			return fmt.Errorf("server startup failed: %w", err)
		case <-ctx.Done():
			fmt.Println("\nshutdown signal received, closing server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("graceful shutdown failed: %w", err)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
