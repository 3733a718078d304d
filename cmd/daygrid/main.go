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

	"daygrid/internal/agenda"
	"daygrid/internal/config"
	"daygrid/internal/ics"
	appLog "daygrid/internal/log"
	"daygrid/internal/metrics"
	"daygrid/internal/web"
)

const version = "0.1.0"

var (
	configPath string
	listenFlag string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "daygrid",
	Short:         "Calendar day/week grid layout service",
	Long:          "daygrid subscribes to ICS feeds and lays out overlapping events as side-by-side columns for day and week views.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the refresh scheduler",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./config.yaml", "Path to YAML config file")
	serveCmd.Flags().StringVar(&listenFlag, "listen", "", "Override listen address (e.g. 127.0.0.1:8080)")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration and sets up logging (called by commands
// that need it).
func loadConfig() error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	appLog.Setup(appLog.Level(cfg.LogLevel), cfg.LogFormat)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if listenFlag != "" {
		cfg.Listen = listenFlag
	}

	appLog.Info("daygrid starting",
		"version", version,
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"refresh", cfg.RefreshCron,
		"horizon_days", cfg.HorizonDays,
		"ics_count", len(cfg.ICS),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	svc := agenda.New(cfg, ics.NewFetcher(cfg.CacheDir, nil), agenda.WithMetrics(m))

	refresher, err := agenda.NewRefresher(svc, cfg.RefreshCron)
	if err != nil {
		return err
	}
	if err := refresher.Start(ctx); err != nil {
		return err
	}
	defer refresher.Stop()

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           web.NewServer(cfg, svc, m).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("HTTP server listening", "addr", "http://"+cfg.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		appLog.Error("graceful shutdown failed", err)
	}

	appLog.Info("daygrid stopped")
	return nil
}
