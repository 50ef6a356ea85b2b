// Command server runs the applicability and obligation derivation engine:
// the HTTP API, the deadline sweep, and the event pipeline.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	cataloghandler "conformo/internal/catalog/handler"
	catalogseed "conformo/internal/catalog/seed"
	catalogservice "conformo/internal/catalog/service"
	catalogstore "conformo/internal/catalog/store"
	"conformo/internal/company"
	"conformo/internal/derivation"
	derivationhandler "conformo/internal/derivation/handler"
	"conformo/internal/derivation/lock"
	derivationmetrics "conformo/internal/derivation/metrics"
	"conformo/internal/events"
	httpapi "conformo/internal/http"
	obligationhandler "conformo/internal/obligation/handler"
	obligationmetrics "conformo/internal/obligation/metrics"
	obligationservice "conformo/internal/obligation/service"
	obligationstore "conformo/internal/obligation/store"
	obligationworker "conformo/internal/obligation/worker"
	"conformo/internal/platform/config"
	"conformo/internal/platform/httpserver"
	"conformo/internal/platform/logger"
	platformredis "conformo/internal/platform/redis"
	"conformo/internal/platform/token"
	dErrors "conformo/pkg/domain-errors"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	// Stores: postgres when configured, in-memory otherwise.
	var (
		catalogStore    catalogservice.Store
		obligationStore obligationservice.Store
		profiles        derivation.ProfileReader
		checks          = make(map[string]httpapi.HealthChecker)
	)
	if cfg.PostgresURL != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		pgCatalog := catalogstore.NewPostgres(pool)
		if err := pgCatalog.EnsureSchema(ctx); err != nil {
			return err
		}
		catalogStore = pgCatalog

		registry, err := company.NewPostgresRegistry(ctx, pool)
		if err != nil {
			return err
		}
		profiles = registry

		db, err := sql.Open("postgres", cfg.PostgresURL)
		if err != nil {
			return err
		}
		defer db.Close()
		pgObligations := obligationstore.NewPostgres(db)
		if err := pgObligations.EnsureSchema(ctx); err != nil {
			return err
		}
		obligationStore = pgObligations

		checks["postgres"] = poolHealth{pool}
	} else {
		log.Warn("no postgres configured, using in-memory stores")
		catalogStore = catalogstore.NewInMemory()
		obligationStore = obligationstore.NewInMemory()
		profiles = company.NewInMemoryRegistry()
	}

	// Run lock: redis when configured, in-process otherwise.
	runLock := lock.RunLock(lock.NewMemory())
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		runLock = lock.NewRedis(redisClient.Client, lock.DefaultTTL)
		checks["redis"] = redisClient
	}

	// Events: kafka when configured, channel worker into a memory sink
	// otherwise.
	var publisher events.Publisher
	if len(cfg.Kafka.Seeds) > 0 {
		kafka, err := events.NewKafkaPublisher(ctx, cfg.Kafka.Seeds, cfg.Kafka.Topic, log)
		if err != nil {
			return err
		}
		defer func() {
			if err := kafka.Close(context.Background()); err != nil {
				log.Error("close kafka publisher", slog.String("error", err.Error()))
			}
		}()
		publisher = kafka
	} else {
		channel := events.NewChannelPublisher(0, log)
		worker := events.NewWorker(events.NewMemorySink(), channel.Inbox())
		go func() {
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("event worker stopped", slog.String("error", err.Error()))
			}
		}()
		publisher = channel
	}

	// Services.
	catalogService, err := catalogservice.New(catalogStore, catalogservice.WithLogger(log))
	if err != nil {
		return err
	}

	oblMetrics := obligationmetrics.New()
	obligations, err := obligationservice.New(obligationStore, catalogService,
		obligationservice.WithLogger(log),
		obligationservice.WithPublisher(publisher),
		obligationservice.WithMetrics(oblMetrics),
	)
	if err != nil {
		return err
	}

	derMetrics := derivationmetrics.New()
	derivationService, err := derivation.New(catalogService, profiles, obligations,
		derivation.WithLogger(log),
		derivation.WithMetrics(derMetrics),
		derivation.WithLock(runLock),
	)
	if err != nil {
		return err
	}
	scheduler := derivation.NewScheduler(derivationService, profiles,
		derivation.WithSchedulerLogger(log),
		derivation.WithSchedulerMetrics(derMetrics),
	)

	// Development bootstrap: load the seed corpus when no catalog exists.
	if _, err := catalogService.Current(ctx); dErrors.Is(err, dErrors.CodeNotFound) {
		if _, err := catalogService.Load(ctx, catalogseed.Requirements()); err != nil {
			return err
		}
		log.Info("seed catalog loaded")
	}

	// Deadline sweep.
	sweeper := obligationworker.New(obligations,
		obligationworker.WithHorizon(cfg.SweepHorizon),
		obligationworker.WithInterval(cfg.SweepInterval),
		obligationworker.WithMetrics(oblMetrics),
		obligationworker.WithLogger(log),
	)
	go sweeper.Run(ctx)

	router := httpapi.NewRouter(httpapi.Deps{
		Catalog:        cataloghandler.New(catalogService, scheduler, log),
		Obligation:     obligationhandler.New(obligations, log),
		Derivation:     derivationhandler.New(derivationService, log),
		TokenValidator: token.New(cfg.JWTSigningKey),
		AdminKeyHash:   cfg.AdminKeyHash,
		Logger:         log,
		Checks:         checks,
	})

	srv := httpserver.New(cfg.Addr, router)
	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", slog.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	log.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

// poolHealth adapts a pgx pool to the router's health check.
type poolHealth struct {
	pool *pgxpool.Pool
}

func (p poolHealth) Health(ctx context.Context) error {
	return p.pool.Ping(ctx)
}
