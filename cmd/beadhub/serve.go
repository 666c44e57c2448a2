package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/beadhub/beadhub/internal/config"
	"github.com/beadhub/beadhub/internal/httpapi"
	"github.com/beadhub/beadhub/internal/sqlstore"
	"github.com/beadhub/beadhub/internal/telemetry"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the BeadHub coordination server",
	Long: `Start the HTTP server exposing BeadHub's REST API: agent init,
workspace registration and heartbeat, bead claims, issue sync, status,
escalations, and subscriptions (see spec.md for the full endpoint
table).`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "path to an optional TOML config overlay")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// telemetry.Init reads its URLs straight from the environment; bridge
	// the config overlay's values through so a TOML-only setup still
	// enables telemetry.
	if cfg.OTelMetricsURL != "" {
		os.Setenv(telemetry.EnvMetricsURL, cfg.OTelMetricsURL)
	}
	if cfg.OTelLogsURL != "" {
		os.Setenv(telemetry.EnvLogsURL, cfg.OTelLogsURL)
	}

	provider, err := telemetry.Init(ctx, "beadhub", version)
	if err != nil {
		log.Printf("telemetry init failed, continuing without it: %v", err)
	}
	if provider != nil {
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				log.Printf("telemetry shutdown: %v", err)
			}
		}()
	}

	pool, err := sqlstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	srv := httpapi.NewServer(httpapi.Deps{
		Pool:               pool,
		Redis:              rdb,
		PresenceTTL:        time.Duration(cfg.PresenceTTLSeconds) * time.Second,
		OutboxMaxAttempts:  cfg.OutboxMaxAttempts,
		InternalAuthSecret: cfg.InternalAuthSecret,
	})

	go srv.RunOutboxWorker(ctx, 5*time.Second, "system", "beadhub")
	go srv.RunEscalationSweeper(ctx, 30*time.Second)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutting down")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("server shutdown: %v", err)
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	log.Printf("beadhub listening on %s", addr)
	if err := srv.Start(addr); err != nil && ctx.Err() == nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
