package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gymtrack/internal/api"
	"gymtrack/internal/config"
	"gymtrack/internal/connectivity"
	"gymtrack/internal/database"
	"gymtrack/internal/domain"
	"gymtrack/internal/events"
	"gymtrack/internal/export"
	"gymtrack/internal/logging"
	"gymtrack/internal/metrics"
	"gymtrack/internal/models"
	"gymtrack/internal/queue"
	"gymtrack/internal/repository"
	"gymtrack/internal/service"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	db, err := database.NewDB(cfg.Storage.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Storage.Path).Msg("init database")
		return err
	}
	defer db.Close()

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}
	stores := initStores(cfg, db, redisClient, &logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewEventBus()
	monitor := connectivity.New(cfg.Connectivity, logging.Component(&logger, "connectivity"))
	monitor.SetPublisher(bus)
	defer monitor.Close()

	members := service.NewMemberService(stores, monitor, bus, &logger)
	payments := service.NewPaymentService(stores, members, cfg.Pricing, monitor, bus, &logger)
	defer bus.Subscribe(events.EventAttendanceMarked, payments.AttendanceHandler(ctx))()

	offlineQueue, err := initQueue(ctx, cfg, stores, members, payments, bus, &logger)
	if err != nil {
		return err
	}
	defer offlineQueue.Close()

	defer monitor.Subscribe(func(online bool) {
		if online {
			go offlineQueue.ReplayAll(ctx)
		}
	})()
	if monitor.IsOnline() && offlineQueue.Status().Count > 0 {
		go offlineQueue.ReplayAll(ctx)
	}

	httpServer := api.NewHTTPServer(cfg.API, api.Deps{
		Queue:        offlineQueue,
		Connectivity: monitor,
		Members:      members,
		Payments:     payments,
		Exporter:     export.NewExporter(stores, payments, cfg.Exports.Path, logging.Component(&logger, "export")),
		Ready:        db.PingContext,
	}, &logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		monitor.Run(gctx)
		return nil
	})
	if cfg.Backup.Enabled {
		backups := database.NewBackupService(db, cfg.Backup, &logger)
		g.Go(func() error {
			backups.Start(gctx)
			return nil
		})
	}
	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		g.Go(func() error {
			return serveMetrics(gctx, cfg.Monitoring.PrometheusPort, &logger)
		})
	}
	if cfg.API.Enabled {
		g.Go(httpServer.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	} else {
		logger.Warn().Msg("admin API is disabled")
	}

	logger.Info().Bool("api", cfg.API.Enabled).Int("http_port", cfg.API.Port).Msg("gymtrack started")
	err = g.Wait()
	logger.Info().Msg("gymtrack stopped")
	return err
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "gymtrack").Logger()

	return cfg, logger, closer, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// initStores layers SQLite over Redis (when available) over memory.
func initStores(cfg *config.Config, db *database.DB, redisClient *redis.Client, logger *zerolog.Logger) domain.StoreFactory {
	var fallback domain.StoreFactory = repository.NewMemoryStores()
	if redisClient != nil {
		fallback = repository.NewFailoverStores(repository.NewRedisStores(redisClient, cfg.App.Name), fallback, cfg.Storage.RecoveryInterval, logger)
	}
	return repository.NewFailoverStores(db, fallback, cfg.Storage.RecoveryInterval, logger)
}

func initQueue(
	ctx context.Context,
	cfg *config.Config,
	stores domain.StoreFactory,
	members *service.MemberService,
	payments *service.PaymentService,
	bus *events.EventBus,
	logger *zerolog.Logger,
) (*queue.Queue, error) {
	qlog := logging.Component(logger, "offline-queue")
	q := queue.New(
		stores.Namespace(models.NamespaceOfflineQueue),
		service.NewReplayer(members, payments),
		queue.Config{
			Retry: queue.RetryPolicy{
				MaxAttempts:   cfg.Queue.MaxAttempts,
				InitialDelay:  cfg.Queue.InitialDelay,
				MaxDelay:      cfg.Queue.MaxDelay,
				BackoffFactor: cfg.Queue.BackoffFactor,
			},
			ReplayTimeout: cfg.Queue.ReplayTimeout,
			ReplayRPS:     cfg.Queue.ReplayRPS,
		},
		qlog,
		queue.WithPublisher(bus),
		queue.OnReplayed(func(applied int) {
			qlog.Info().Int("applied", applied).Msg("offline actions synced")
		}),
	)

	if err := q.Load(ctx); err != nil {
		if !errors.Is(err, queue.ErrUnsupportedVersion) {
			return nil, fmt.Errorf("load offline queue: %w", err)
		}
		// snapshot written by a newer build; left untouched
		qlog.Error().Err(err).Msg("offline queue frozen, offline mutations will be rejected")
	}

	members.SetDeferrer(q)
	payments.SetDeferrer(q)
	return q, nil
}

func serveMetrics(ctx context.Context, port int, logger *zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	logger.Info().Int("port", port).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
