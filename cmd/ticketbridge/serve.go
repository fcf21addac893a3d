package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/syncfork/ticketbridge/internal/engine"
	"github.com/syncfork/ticketbridge/internal/store/sqlite"
	"github.com/syncfork/ticketbridge/internal/telemetry"
	"github.com/syncfork/ticketbridge/internal/webhook"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server",
	Long: `Runs the HTTP server that receives Linear and GitHub webhook
deliveries and applies them to the counterpart tracker.

Routes:
  POST /webhooks/linear   Linear deliveries (source-IP verified)
  POST /webhooks/github   GitHub deliveries (HMAC signature verified)
  GET  /health            Load balancer health check`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	st, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	creds := cfg.Credentials()

	var counters *telemetry.Counters
	if telemetry.Enabled() {
		counters, err = telemetry.NewCounters()
		if err != nil {
			fmt.Printf("Warning: metric setup failed: %v\n", err)
		}
	}

	server := webhook.NewServer(webhook.ServerConfig{
		Store:            st,
		Engine:           engine.New(st, creds),
		Secrets:          creds,
		LinearAllowedIPs: cfg.LinearAllowedIPs,
		Metrics:          counters,
	})

	addr := serveAddr
	if addr == "" {
		addr = cfg.ListenAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		fmt.Println("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	fmt.Printf("Listening on %s\n", addr)
	if err := server.Start(addr); err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
