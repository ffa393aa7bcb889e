// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lodge-codevault/internal/application"
	"lodge-codevault/internal/config"
	"lodge-codevault/internal/infra/api"
	pg "lodge-codevault/internal/infra/db/postgres"
	"lodge-codevault/internal/infra/logging"
	"lodge-codevault/internal/infra/metrics"
	"lodge-codevault/internal/infra/sched"
)

// set with -ldflags "-X main.version=... -X main.commit=..."
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "developer mode: console logs, in-memory store without database.url")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}

	// ---- Metrics ----
	metrics.MustRegister(nil)
	metrics.SetBuildInfo(version, commit)

	// ---- Vault (storage, cipher, alerts, use case) ----
	vault, err := application.Build(ctx, cfg, logger, application.Options{AlertWorkers: 2})
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer vault.Close()

	if vault.Pool != nil {
		go pg.ReportPoolStats(ctx, vault.Pool, 15*time.Second)
	}

	// ---- Stock worker ----
	stock := sched.NewStockWorker(cfg.Stock.Interval, cfg.Stock.LowStockThreshold, vault.UseCase, vault.Alerter, logger)
	go func() { _ = stock.Run(ctx) }()

	// ---- HTTP ----
	opts := api.Options{
		InternalToken:  cfg.Auth.InternalToken,
		RequestTimeout: cfg.HTTP.RequestTimeout,
	}
	if cfg.Auth.JWTSecret != "" {
		opts.Admin = api.NewAdminAuth(cfg.Auth.JWTSecret, 0)
	} else {
		logger.Warn().Msg("[DEV MODE] auth.jwt_secret not set; admin routes are unauthenticated")
	}
	if cfg.Auth.InternalToken == "" {
		logger.Warn().Msg("[DEV MODE] auth.internal_token not set; claim routes are unauthenticated")
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           api.NewServer(vault.UseCase, logger).Router(opts),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	// ---- Graceful shutdown ----
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case err := <-errc:
		logger.Error().Err(err).Msg("http server error")
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
}
