package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/booking"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/observability/metrics"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/remote"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
	"github.com/hackgods/clinic-scheduling/internal/server"
	"github.com/hackgods/clinic-scheduling/internal/timezone"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		log.Fatalf("appointment-server: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}

	logger := logging.New(cfg.LogLevel).With("service", "appointment-server")
	loc := timezone.Location(cfg.ClinicTimezone)
	logger.Info("starting", "env", cfg.Env, "store", cfg.StoreDriver, "timezone", loc.String())

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		pool   *pgxpool.Pool
		checks []api.HealthCheck
	)
	if cfg.StoreDriver == config.StorePostgres {
		pgCtx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
		pool, err = db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
		cancel()
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		logger.Info("connected to postgres")
		checks = append(checks, api.HealthCheck{Name: "postgres", Pinger: pool, Critical: true})
	}

	var appointments appointment.Repository = appointment.NewMemoryRepository()
	if pool != nil {
		appointments = appointment.NewPgRepository(pool)
	}

	remoteOpts := remote.Options{
		Timeout:            cfg.RemoteTimeout,
		BreakerFailures:    cfg.BreakerFailures,
		BreakerOpenTimeout: cfg.BreakerOpenTimeout,
		Metrics:            metrics.NewRemoteMetrics(nil),
		Logger:             logger,
	}

	// Without SCHEDULE_SERVICE_URL the schedule manager runs in this process
	// and its routes are served here too.
	var (
		slots     booking.SlotGateway
		schedules api.ScheduleService
	)
	if cfg.ScheduleServiceURL != "" {
		slots = remote.NewScheduleClient(cfg.ScheduleServiceURL, remoteOpts)
		logger.Info("using remote schedule service", "url", cfg.ScheduleServiceURL)
	} else {
		var repo schedule.Repository = schedule.NewMemoryRepository()
		if pool != nil {
			repo = schedule.NewPgRepository(pool, loc)
		}
		manager := schedule.NewService(repo, loc, logger)
		slots = booking.LocalSlots{Manager: manager}
		schedules = manager
		logger.Info("running schedule manager in-process")
	}

	var specialties booking.SpecialtyCatalog = booking.FixedPriceCatalog{CostCents: cfg.DefaultCostCents}
	if cfg.SpecialtyServiceURL != "" {
		specialties = remote.NewSpecialtyClient(cfg.SpecialtyServiceURL, remoteOpts)
	} else {
		logger.Warn("SPECIALTY_SERVICE_URL not set; every booking uses DEFAULT_COST_CENTS", "cost_cents", cfg.DefaultCostCents)
	}

	var patients booking.PatientDirectory
	if cfg.PatientServiceURL != "" {
		patients = remote.NewPatientClient(cfg.PatientServiceURL, remoteOpts)
	}

	var payments booking.PaymentRegistrar
	if cfg.PaymentServiceURL != "" {
		payments = remote.NewPaymentClient(cfg.PaymentServiceURL, remoteOpts)
	}

	var locker redisclient.Locker = redisclient.NoopLocker{}
	if cfg.RedisAddr != "" {
		rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("error closing redis", "error", err)
			}
		}()
		logger.Info("connected to redis", "lock_ttl", cfg.LockTTL.String())

		locker = redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL, logger)
		checks = append(checks, api.HealthCheck{Name: "redis", Pinger: redisclient.Pinger{Client: rdb}})
	}

	bookings := booking.NewService(booking.Deps{
		Appointments: appointments,
		Slots:        slots,
		Specialties:  specialties,
		Patients:     patients,
		Payments:     payments,
		Locker:       locker,
		Metrics:      metrics.NewBookingMetrics(nil),
		Logger:       logger,
	})

	handler := api.NewRouter(api.RouterConfig{
		Schedules: schedules,
		Bookings:  bookings,
		Checks:    checks,
		Logger:    logger,
		Env:       cfg.Env,
		Version:   version,
	})

	return server.Run(rootCtx, logger, cfg.Addr(), handler, cfg.ShutdownTimeout)
}
