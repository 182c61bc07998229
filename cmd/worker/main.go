// Package main is the entry point of the mastery engine worker.
//
// The worker periodically re-evaluates achievements for users with recent
// learning activity, publishes unlock notifications and keeps the
// standardized score cache fresh.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edumastery/mastery-engine/config"
	"github.com/edumastery/mastery-engine/internal/application/engine"
	"github.com/edumastery/mastery-engine/internal/application/eventhandler"
	"github.com/edumastery/mastery-engine/internal/application/query"
	"github.com/edumastery/mastery-engine/internal/application/saga"
	"github.com/edumastery/mastery-engine/internal/domain/shared"
	"github.com/edumastery/mastery-engine/internal/infrastructure/messaging"
	"github.com/edumastery/mastery-engine/internal/infrastructure/persistence/postgres"
	"github.com/edumastery/mastery-engine/internal/infrastructure/persistence/redis"
	"github.com/edumastery/mastery-engine/internal/infrastructure/scheduler"
	"github.com/edumastery/mastery-engine/internal/infrastructure/scheduler/jobs"
	"github.com/edumastery/mastery-engine/internal/infrastructure/service"
	"github.com/edumastery/mastery-engine/pkg/circuitbreaker"
	"github.com/edumastery/mastery-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION & LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	defer func() { _ = log.Sync() }()

	log.Info("starting mastery engine worker",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("timezone", cfg.App.Timezone),
		logger.Strings("features", cfg.Features.Enabled()),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. DATABASE
	// ─────────────────────────────────────────────────────────────────────────
	dbCfg := postgres.DefaultConfig()
	dbCfg.URL = cfg.Database.URL
	dbCfg.MaxConns = int32(cfg.Database.MaxConns)
	dbCfg.MinConns = int32(cfg.Database.MinConns)
	dbCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	dbCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime

	dbConn, err := postgres.NewConnection(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbConn.Close()
	log.Info("database connection established")

	if cfg.Database.AutoMigrate {
		applied, err := postgres.NewMigrator(dbConn.Pool()).Migrate(ctx)
		if err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database schema is up to date", logger.Int("applied", applied))
	}

	onStateChange := func(name string, from, to circuitbreaker.State) {
		log.Warn("circuit breaker state changed",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
	}
	activityReader := postgres.NewActivityReader(dbConn.Pool(),
		circuitbreaker.DatabaseBreaker(postgres.IsTransient, onStateChange), log)
	achievementRepo := postgres.NewAchievementRepository(dbConn.Pool())

	// ─────────────────────────────────────────────────────────────────────────
	// 3. REDIS (optional): score cache and cross-instance event bus
	// ─────────────────────────────────────────────────────────────────────────
	var (
		redisCache *redis.Cache
		scoreCache *redis.ScoreCache
	)
	if !cfg.Redis.Disabled {
		redisCache, err = redis.NewCache(redisConfig(cfg.Redis))
		if err != nil {
			log.Warn("failed to connect to Redis, running without cache and pub/sub", logger.Err(err))
		} else {
			defer redisCache.Close()
			log.Info("Redis connection established")
			if cfg.Features.IsEnabled(config.FeatureScoreCache) {
				scoreCache = redis.NewScoreCache(redisCache, cfg.Scoring.CacheTTL, circuitbreaker.CacheBreaker(onStateChange))
			}
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. EVENT BUS & HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	eventBus, err := newEventBus(cfg, redisCache, log)
	if err != nil {
		return fmt.Errorf("failed to create event bus: %w", err)
	}
	defer func() {
		if err := eventBus.Close(); err != nil {
			log.Warn("event bus close failed", logger.Err(err))
		}
	}()

	unlockHandler := eventhandler.NewOnAchievementUnlockedHandler(nil, log, eventhandler.AchievementUnlockedConfig{
		SendTimeout: cfg.Notifications.SendTimeout,
		MaxAttempts: cfg.Notifications.MaxAttempts,
	})
	if err := unlockHandler.Register(eventBus); err != nil {
		return fmt.Errorf("failed to register unlock handler: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ENGINE
	// ─────────────────────────────────────────────────────────────────────────
	ids := service.NewIDGenerator()
	var notifier saga.Notifier
	if cfg.Features.IsEnabled(config.FeatureNotifications) {
		notifier = service.NewNotificationPublisher(eventBus, ids, log)
	}
	var cache query.ScoreCache
	if scoreCache != nil {
		cache = scoreCache
	}

	eng, err := engine.New(engine.Options{
		WeightsFile:           cfg.Scoring.WeightsFile,
		Location:              cfg.App.Location,
		ParallelEvaluation:    cfg.Features.IsEnabled(config.FeatureParallelEvaluation),
		DefinitionConcurrency: cfg.Worker.DefinitionConcurrency,
		PublishSummary:        cfg.Features.IsEnabled(config.FeatureRunSummary),
	}, engine.Deps{
		Activity:     activityReader,
		Achievements: achievementRepo,
		Notifier:     notifier,
		Publisher:    eventBus,
		ScoreCache:   cache,
		IDs:          ids,
		Logger:       log,
	})
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}

	if _, err := eng.CheckCatalogue(ctx); err != nil {
		log.Warn("catalogue check failed", logger.Err(err))
	}

	if !cfg.Worker.Enabled {
		log.Info("worker sweep disabled, exiting")
		return nil
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	schedule, err := scheduler.ParseSchedule(cfg.Worker.ScheduleSpec(), cfg.App.Location)
	if err != nil {
		return fmt.Errorf("invalid worker schedule: %w", err)
	}

	var invalidator jobs.ScoreInvalidator
	if scoreCache != nil {
		invalidator = scoreCache
	}
	sweep := jobs.NewEvaluateActiveUsersJob(activityReader, eng.Flow, invalidator, nil, log,
		jobs.EvaluateActiveUsersConfig{
			Lookback:    cfg.Worker.Lookback,
			Concurrency: cfg.Worker.Concurrency,
			BatchLimit:  cfg.Worker.BatchLimit,
		})

	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:     log,
		Timezone:   cfg.App.Location,
		JobTimeout: cfg.Worker.JobTimeout,
		RunOnStart: cfg.Worker.RunOnStart,
	})
	if err := sched.Register(sweep, schedule); err != nil {
		return fmt.Errorf("failed to register job: %w", err)
	}
	sched.OnJobComplete(func(result scheduler.JobResult) {
		if stats := sweep.LastStats(); stats != nil && result.JobName == sweep.Name() {
			log.Info("sweep summary",
				logger.Int("users", stats.Users),
				logger.Int("unlocked", stats.Unlocked),
				logger.Int("failed", stats.Failed),
				logger.Int("invalidated", stats.Invalidated),
				logger.Bool("success", result.Success),
			)
		}
	})
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	for _, job := range sched.ListJobs() {
		log.Info("job scheduled",
			logger.String("job", job.Name),
			logger.String("description", job.Description),
			logger.String("schedule", job.Schedule),
			logger.Time("next_run", job.NextRun),
		)
	}
	log.Info("mastery engine worker is running")

	// ─────────────────────────────────────────────────────────────────────────
	// 7. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	<-ctx.Done()
	log.Info("received shutdown signal", logger.Duration("timeout", cfg.App.ShutdownTimeout))

	stopped := make(chan error, 1)
	go func() { stopped <- sched.Stop() }()

	select {
	case err := <-stopped:
		if err != nil {
			log.Warn("scheduler stop failed", logger.Err(err))
		}
		snap := sched.GetMetrics().Snapshot()
		fields := []logger.Field{
			logger.Int64("runs", snap.TotalExecutions),
			logger.Int64("failures", snap.TotalFailures),
		}
		if last := sched.GetHistory(1); len(last) == 1 {
			fields = append(fields, logger.Time("last_run", last[0].CompletedAt), logger.Bool("last_success", last[0].Success))
		}
		log.Info("shutdown completed", fields...)
		return nil
	case <-time.After(cfg.App.ShutdownTimeout):
		return fmt.Errorf("shutdown timed out after %s", cfg.App.ShutdownTimeout)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func setupLogger(cfg *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	opts.Format = cfg.Observability.LogFormat
	return logger.New(opts).With(logger.String("app", cfg.App.Name))
}

func redisConfig(c config.RedisConfig) redis.Config {
	rc := redis.DefaultConfig()
	rc.URL = c.URL
	rc.Host = c.Host
	rc.Port = c.Port
	rc.Password = c.Password
	rc.DB = c.DB
	rc.PoolSize = c.PoolSize
	rc.DialTimeout = c.DialTimeout
	rc.ReadTimeout = c.ReadTimeout
	rc.WriteTimeout = c.WriteTimeout
	return rc
}

// eventBus is what the worker needs from either bus implementation.
type eventBus interface {
	shared.EventBus
	Close() error
}

// newEventBus fans events out over Redis when it is available so every
// worker instance sees every unlock; otherwise events stay in-process.
func newEventBus(cfg *config.Config, cache *redis.Cache, log *logger.Logger) (eventBus, error) {
	local := messaging.DefaultInMemoryEventBusConfig()
	local.Logger = log

	if cache == nil {
		return messaging.NewInMemoryEventBus(local), nil
	}
	return messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
		Client:         messaging.NewGoRedisClient(cache.Client(), false),
		ChannelName:    cfg.Redis.EventChannel,
		LocalBusConfig: local,
		Logger:         log,
	})
}
