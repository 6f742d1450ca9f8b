package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the attendance API server",
	Long: `Start the HTTP API used by attendance clients.

Every route is served under /api/v1 and /api/v_1. All routes except /health
require the X-Token header; the IP whitelist and the analysis thresholds can
be changed at runtime through /config/update or by editing the config file.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides server.port)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides server.host)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	host, port := mustGetString(cmd, "host"), mustGetInt(cmd, "port")
	a, err := openApp(ctx, func(cfg *config.Config) {
		if host != "" {
			cfg.Server.Host = host
		}
		if port > 0 {
			cfg.Server.Port = port
		}
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Printf("Warning: %v\n", err)
		}
	}()

	cfg := a.holder.Current()
	if cfg.Auth.Token == "" {
		color.Yellow("Warning: auth.token is empty, every authenticated route will answer 500")
	}
	if len(cfg.Auth.IPWhitelist) == 0 {
		color.Yellow("Warning: ip whitelist is empty, any client with the token is accepted")
	}

	if err := config.Watch(ctx, a.holder); err != nil {
		fmt.Printf("Warning: config file changes will not be picked up: %v\n", err)
	}

	count, err := a.store.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Vector store %q ready with %d records\n", cfg.Database.Driver, count)
	if err := a.client.Health(ctx); err != nil {
		color.Yellow("Warning: embedding server at %s is not reachable: %v", cfg.Embedding.URL, err)
	}

	server := web.NewServer(web.Deps{
		Config:    a.holder,
		Store:     a.store,
		Resolver:  a.resolver,
		Registry:  a.registry,
		Storage:   a.storage,
		Embedding: a.client,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Face Attendance API on http://%s:%d/api/v1\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	// in-flight requests finish before the store is closed
	<-stopped
	return nil
}
