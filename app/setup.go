package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sahilchouksey/search-gateway/api"
	"github.com/sahilchouksey/search-gateway/config"
	"github.com/sahilchouksey/search-gateway/database"
	"github.com/sahilchouksey/search-gateway/handlers"
	"github.com/sahilchouksey/search-gateway/router"
	"github.com/sahilchouksey/search-gateway/services"
	"github.com/sahilchouksey/search-gateway/services/archive"
	"github.com/sahilchouksey/search-gateway/services/cron"
	"github.com/sahilchouksey/search-gateway/services/pipeline"
	"github.com/sahilchouksey/search-gateway/services/queue"
	"github.com/sahilchouksey/search-gateway/services/typesense"
	"github.com/sahilchouksey/search-gateway/utils/cache"
	"github.com/sahilchouksey/search-gateway/utils/logger"
	"github.com/sahilchouksey/search-gateway/utils/middleware"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func SetupAndRunServer() error {

	// Load ENV
	if err := config.LoadENV(); err != nil {
		return err
	}

	env, err := config.Get()
	if err != nil {
		return err
	}

	log, err := logger.New(env.GO_ENV)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	// Relational store
	store, err := database.StartGORM(env)
	if err != nil {
		log.Error("failed to connect to the database, is it running?",
			zap.String("driver", env.DB_DRIVER), zap.Error(err))
		return err
	}
	defer store.Close()

	if err := store.Init(); err != nil {
		log.Error("failed to run migrations", zap.Error(err))
		return err
	}
	db := store.GetDB()

	// Redis backs the job queue and key invalidation; development may run without it
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		redisCache *cache.RedisCache
		redisQueue *queue.RedisQueue
		jobQueue   queue.Queue
		publisher  services.Publisher
	)
	redisCache, err = cache.NewRedisCache(env.REDIS_URL)
	switch {
	case err == nil:
		defer redisCache.Close()
		redisQueue = queue.NewRedisQueue(redisCache.GetClient(), env.QUEUE_PREFIX, log)
		jobQueue = redisQueue
		publisher = redisCache
	case env.IsProduction():
		log.Error("failed to connect to redis", zap.Error(err))
		return err
	default:
		log.Warn("redis unavailable, falling back to the in-process queue; accepted jobs will not survive a restart",
			zap.Error(err))
		jobQueue = queue.NewMemoryQueue()
	}
	defer jobQueue.Close()

	// Search engine
	engine := typesense.NewClient(typesense.Config{
		Host:     env.TYPESENSE_HOST,
		Port:     env.TYPESENSE_PORT,
		Protocol: env.TYPESENSE_PROTOCOL,
		APIKey:   env.TYPESENSE_ADMIN_KEY,
		Timeout:  env.TYPESENSE_CONNECTION_TIMEOUT,
		MaxRPS:   env.TYPESENSE_MAX_RPS,
		Logger:   log,
	})
	if err := engine.HealthCheck(rootCtx); err != nil {
		log.Warn("search engine is not healthy yet", zap.Error(err))
	}

	usage := services.NewUsageService(db, log)
	collections := services.NewCollectionService(db, engine, publisher, log)
	apiKeys := services.NewAPIKeyService(db, services.APIKeyConfig{
		DefaultRateLimit: env.DEFAULT_RATE_LIMIT,
		AdminRateLimit:   env.ADMIN_RATE_LIMIT,
		Window:           env.RATE_LIMIT_WINDOW,
		CacheTTL:         env.API_KEY_CACHE_TTL,
		CacheSize:        env.API_KEY_CACHE_SIZE,
	}, publisher, log)

	var archiver pipeline.Archiver
	if env.ArchiveEnabled() {
		s3, err := archive.NewS3Archive(archive.S3Config{
			AccessKey: env.ARCHIVE_S3_ACCESS_KEY,
			SecretKey: env.ARCHIVE_S3_SECRET_KEY,
			Bucket:    env.ARCHIVE_S3_BUCKET,
			Region:    env.ARCHIVE_S3_REGION,
			Endpoint:  env.ARCHIVE_S3_ENDPOINT,
			PathStyle: env.ARCHIVE_S3_ENDPOINT != "",
			Logger:    log,
		})
		if err != nil {
			return fmt.Errorf("failed to configure failed batch archive: %w", err)
		}
		archiver = s3
	}

	indexer := pipeline.New(jobQueue, collections, engine, usage, archiver, pipeline.Config{
		BatchSize:        env.INDEX_BATCH_SIZE,
		BatchDelay:       env.INDEX_BATCH_DELAY,
		BatchConcurrency: env.BATCH_WORKER_CONCURRENCY,
	}, log)

	healthChecks := map[string]handlers.Pinger{
		"search_engine": handlers.PingFunc(engine.HealthCheck),
	}
	var authGuard *middleware.BruteForceGuard

	heartbeatCtx, stopHeartbeat := context.WithCancel(context.Background())
	defer stopHeartbeat()

	if redisQueue != nil {
		if err := redisQueue.Register(rootCtx); err != nil {
			return err
		}
		go redisQueue.Heartbeat(heartbeatCtx)

		requeued, err := redisQueue.Recover(rootCtx, pipeline.GroupQueue, pipeline.BatchQueue)
		if err != nil {
			return fmt.Errorf("failed to recover stale jobs: %w", err)
		}
		if requeued > 0 {
			log.Info("requeued unacknowledged jobs", zap.Int("count", requeued))
		}

		if err := redisCache.Subscribe(rootCtx, services.KeyInvalidationChannel, apiKeys.Invalidate); err != nil {
			return fmt.Errorf("failed to subscribe to key invalidations: %w", err)
		}
		if err := redisCache.Subscribe(rootCtx, services.CollectionInvalidationChannel, collections.Invalidate); err != nil {
			return fmt.Errorf("failed to subscribe to collection invalidations: %w", err)
		}

		healthChecks["redis"] = redisCache
		authGuard = middleware.NewBruteForceGuard(redisCache, log)
	}

	// Cron jobs (only if enabled via environment variable)
	if env.CRON_ENABLED {
		cronCfg := cron.Config{
			Usage:         usage,
			Collections:   collections,
			Queues:        []string{pipeline.GroupQueue, pipeline.BatchQueue},
			RetentionDays: env.USAGE_LOG_RETENTION_DAYS,
		}
		if redisQueue != nil {
			cronCfg.Queue = redisQueue
			cronCfg.Recoverer = redisQueue
		}
		cronManager := cron.NewCronManager(db, cronCfg, log)
		if err := cronManager.Start(); err != nil {
			// Don't fail the app, just log the warning
			log.Warn("failed to start cron jobs", zap.Error(err))
		} else {
			defer cronManager.Stop()
		}
	}

	// Background workers
	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		if err := indexer.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("indexing pipeline stopped", zap.Error(err))
		}
	}()

	// Init API
	server := api.NewAPIServer(api.Config{
		ListenAddress:  fmt.Sprintf(":%d", env.PORT),
		BodyLimit:      env.BODY_LIMIT_BYTES,
		AllowedOrigins: env.ALLOWED_ORIGINS,
		AccessLog:      !env.IsProduction(),
		Logger:         log,
	})

	router.SetupRoutes(server.GetEngine(), router.Services{
		Store:       store,
		APIKeys:     apiKeys,
		Indexing: services.NewIndexingService(usage, indexer, services.IndexingConfig{
			MaxDocumentSizeBytes:   env.MAX_DOCUMENT_SIZE_BYTES,
			MaxDocumentsPerRequest: env.MAX_DOCUMENTS_PER_REQUEST,
		}, log),
		Search: services.NewSearchService(engine, usage, services.SearchConfig{
			MaxHits:        env.SEARCH_MAX_HITS,
			DefaultQueryBy: env.SEARCH_DEFAULT_QUERY_BY,
		}, log),
		Documents:      services.NewDocumentService(engine, usage, log),
		Collections:    collections,
		Usage:          usage,
		HealthChecks:   healthChecks,
		RequestTimeout: env.REQUEST_TIMEOUT,
		AuthGuard:      authGuard,
	})

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Run() }()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	select {
	case err := <-serveErr:
		cancel()
		workers.Wait()
		stopHeartbeat()
		return err
	case sig := <-signals:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to shut down API server", zap.Error(err))
	}

	// In-flight batches finish or stay un-acked for redelivery
	cancel()
	workers.Wait()
	// Peers may recover this consumer's lists only once its workers are done
	stopHeartbeat()

	log.Info("shutdown complete")
	return nil
}
