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

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"retailpos/backend/internal/cache"
	"retailpos/backend/internal/config"
	"retailpos/backend/internal/httpapi"
	"retailpos/backend/internal/loyalty"
	"retailpos/backend/internal/sequence"
	"retailpos/backend/internal/service"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/store/memory"
	pgstore "retailpos/backend/internal/store/postgres"
	"retailpos/backend/internal/worker"
)

func main() {
	cfg := config.Load()
	setupLogger(cfg)

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid security configuration")
	}
	if err := validateBusinessConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid business configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server stopped with error")
	}
	log.Info().Msg("server stopped")
}

func setupLogger(cfg config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	// Pretty output for local development, JSON lines everywhere else.
	if !cfg.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func run(ctx context.Context, cfg config.Config) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)
	defer func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				log.Warn().Err(err).Msg("close error")
			}
		}
	}()

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(startCtx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres unavailable and DATABASE_URL is set, refusing to start with in-memory fallback: %w", err)
		}
		closers = append(closers, pg.Close)
		if err := pg.Migrate(startCtx); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
		repo = pg
		log.Info().Msg("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Info().Msg("repository: in-memory")
	}

	rdb := connectRedis(startCtx, cfg)
	if rdb != nil {
		closers = append(closers, rdb.Close)
	}

	deps := service.Deps{
		Loyalty:     loyalty.NewLedger(repo),
		ReportCache: cache.NoopReportCache{},
	}

	var (
		queue       worker.Queue
		queueStats  httpapi.QueueStats
		redisHealth httpapi.HealthCheck
	)
	if rdb != nil {
		reportCache := cache.NewRedisReportCache(rdb)
		redisQueue := worker.NewRedisQueue(rdb)
		deps.ReportCache = reportCache
		queue, queueStats, redisHealth = redisQueue, redisQueue, reportCache.Ping
		log.Info().Msg("cache: redis, accrual queue: redis")
	} else {
		memQueue := worker.NewMemoryQueue(1024)
		queue, queueStats = memQueue, memQueue
		log.Info().Msg("cache: noop, accrual queue: in-process")
	}
	deps.AccrualQueue = queue

	switch cfg.SequenceBackend {
	case config.SequenceBackendRedis:
		if rdb == nil {
			return errors.New("SEQUENCE_BACKEND=redis requires a reachable REDIS_ADDR")
		}
		deps.Sequences = sequence.NewGenerator(sequence.NewRedisCounter(rdb), loc)
		log.Info().Msg("sequences: redis")
	default:
		deps.Sequences = sequence.NewGenerator(sequence.NewStoreCounter(repo), loc)
		log.Info().Msg("sequences: store")
	}

	svc := service.New(repo, deps, service.Config{
		TaxRate:  cfg.TaxRate,
		Location: loc,
		TopN:     cfg.ReportTopN,
		CacheTTL: cfg.ReportCacheTTL(),
	})
	auth := httpapi.NewAuthManager(startCtx, cfg.AuthSecret, cfg.TokenTTL(), repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin).WithQueueStats(queueStats)
	if redisHealth != nil {
		api.WithHealthCheck("redis", redisHealth)
	}

	pool := worker.NewPool(queue, deps.Loyalty, repo, worker.PoolConfig{
		Workers:     cfg.AccrualWorkers,
		MaxAttempts: cfg.AccrualMaxAttempts,
		Backoff:     cfg.AccrualBackoff(),
	})
	sweeper := worker.NewSweeper(repo, queue, cfg.SweepInterval())

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error {
		log.Info().Str("addr", cfg.Address()).Str("timezone", loc.String()).Msg("POS backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// connectRedis returns nil when Redis is not configured or not reachable.
func connectRedis(ctx context.Context, cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	rdb := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable, continuing without it")
		_ = rdb.Close()
		return nil
	}
	return rdb
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AllowedOrigin == "*" && cfg.IsProduction() {
		return fmt.Errorf("ALLOWED_ORIGIN must name an origin in production")
	}
	return nil
}

func validateBusinessConfig(cfg config.Config) error {
	if cfg.TaxRate.IsNegative() || cfg.TaxRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("TAX_RATE must be a decimal between 0 and 1")
	}
	if _, err := cfg.Location(); err != nil {
		return err
	}
	switch cfg.SequenceBackend {
	case config.SequenceBackendStore, config.SequenceBackendRedis:
	default:
		return fmt.Errorf("SEQUENCE_BACKEND must be %q or %q", config.SequenceBackendStore, config.SequenceBackendRedis)
	}
	return nil
}
