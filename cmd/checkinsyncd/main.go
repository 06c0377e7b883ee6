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

	"checkinsync/internal/api"
	"checkinsync/internal/config"
	"checkinsync/internal/database"
	"checkinsync/internal/events"
	"checkinsync/internal/logging"
	"checkinsync/internal/metrics"
	"checkinsync/internal/models"
	"checkinsync/internal/network"
	"checkinsync/internal/queue"
	"checkinsync/internal/remote"
	"checkinsync/internal/repository"
	"checkinsync/internal/service"
	"checkinsync/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
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

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startMetrics(ctx, cfg, &logger)

	svc, monitor := buildService(cfg, db, redisClient, &logger)
	svc.Start(ctx)

	go monitor.Watch(ctx, network.NewHTTPProber(cfg.Network.ProbeURL, cfg.Network.ProbeTimeout), cfg.Network.ProbeInterval, cfg.Network.ProbeTimeout)

	if cfg.Backup.Enabled {
		go database.NewBackupService(db, cfg.Backup, &logger).Start(ctx)
	}

	var httpServer *api.HTTPServer
	if cfg.API.Enabled {
		httpServer = api.NewHTTPServer(cfg.API, svc, &logger)
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("http server stopped")
			}
		}()
	}

	logger.Info().
		Str("remote", cfg.Remote.BaseURL).
		Dur("sync_interval", cfg.Sync.Interval).
		Bool("api", cfg.API.Enabled).
		Msg("check-in sync agent started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}
	// Waits for an in-flight pass; passes are never interrupted.
	svc.Stop()

	logger.Info().Msg("check-in sync agent stopped")
	return nil
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
	logger := baseLogger.With().Str("component", "checkinsyncd").Logger()

	return cfg, logger, closer, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func buildService(cfg *config.Config, db *database.DB, redisClient *redis.Client, logger *zerolog.Logger) (*service.CheckInService, *network.Monitor) {
	store := queue.NewStore(db, logger)

	client := remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.APIKey, cfg.Remote.Timeout)
	if redisClient != nil {
		client.UseRedisCache(redisClient, cfg.Remote.StateCacheTTL)
	} else {
		client.UseMemoryCache(cfg.Remote.StateCacheTTL)
	}

	notifier := events.NewNotifier(logger)
	if redisClient != nil && cfg.Redis.EventsChannel != "" {
		events.NewRedisForwarder(redisClient, cfg.Redis.EventsChannel).Attach(notifier.Bus())
		logger.Info().Str("channel", cfg.Redis.EventsChannel).Msg("forwarding sync events to redis")
	}

	monitor := network.NewMonitor(cfg.Network.AssumeOnline, logger)

	orch := worker.NewOrchestrator(store, client, notifier, worker.RetryPolicy{
		MaxAttempts:    cfg.Sync.MaxAttempts,
		SubmitDelay:    cfg.Sync.SubmitDelay,
		InitialBackoff: cfg.Sync.InitialBackoff,
		MaxBackoff:     cfg.Sync.MaxBackoff,
		BackoffFactor:  cfg.Sync.BackoffFactor,
	}, logger)
	orch.UseDiagnostics(db)
	orch.UseMonitor(monitor)
	if cfg.Remote.PreflightLookup {
		orch.UsePreflight(client)
	}
	if redisClient != nil {
		shared := repository.NewRedisRunLock(redisClient, cfg.Sync.LockKey, cfg.Sync.LockTTL)
		orch.UseLock(repository.NewFailoverRunLock(shared, repository.NewMemoryRunLock(), logger))
	}

	svc := service.NewCheckInService(store, orch, notifier, monitor, worker.TickerScheduler{}, service.Options{
		SyncInterval:  cfg.Sync.Interval,
		SyncOnEnqueue: cfg.Sync.SyncOnEnqueueEnabled(),
	}, logger)
	svc.UseDiagnostics(db)

	svc.OnIntentSynced(func(o models.SyncOutcome) {
		if !o.Success {
			return
		}
		logger.Debug().Str("intent_id", o.ID).Str("resolution", string(o.Resolution)).Msg("check-in delivered")
	})

	return svc, monitor
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
