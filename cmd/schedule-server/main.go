package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
	"github.com/hackgods/clinic-scheduling/internal/server"
	"github.com/hackgods/clinic-scheduling/internal/timezone"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		log.Fatalf("schedule-server: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}

	logger := logging.New(cfg.LogLevel).With("service", "schedule-server")
	loc := timezone.Location(cfg.ClinicTimezone)
	logger.Info("starting", "env", cfg.Env, "store", cfg.StoreDriver, "timezone", loc.String())

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		repo   schedule.Repository
		checks []api.HealthCheck
	)
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pgCtx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
		cancel()
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		logger.Info("connected to postgres")

		repo = schedule.NewPgRepository(pool, loc)
		checks = append(checks, api.HealthCheck{Name: "postgres", Pinger: pool, Critical: true})
	default:
		logger.Warn("using in-memory schedule store; data is lost on restart")
		repo = schedule.NewMemoryRepository()
	}

	manager := schedule.NewService(repo, loc, logger)

	handler := api.NewRouter(api.RouterConfig{
		Schedules: manager,
		Checks:    checks,
		Logger:    logger,
		Env:       cfg.Env,
		Version:   version,
	})

	return server.Run(rootCtx, logger, cfg.Addr(), handler, cfg.ShutdownTimeout)
}
