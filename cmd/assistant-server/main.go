// cmd/assistant-server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	builddraft "sprint-assistant/internal/assistant/build-draft"
	"sprint-assistant/internal/assistant/disambiguate"
	executeaction "sprint-assistant/internal/assistant/execute-action"
	parseintent "sprint-assistant/internal/assistant/parse-intent"
	resolveentities "sprint-assistant/internal/assistant/resolve-entities"
	"sprint-assistant/internal/common/aws"
	"sprint-assistant/internal/common/config"
	"sprint-assistant/internal/common/database"
	"sprint-assistant/internal/common/logger"
	"sprint-assistant/internal/common/observability"
	"sprint-assistant/internal/history"
	"sprint-assistant/internal/ports"
	"sprint-assistant/internal/ratelimit"
	"sprint-assistant/internal/search"
	"sprint-assistant/internal/server"
	"sprint-assistant/pkg/catalog"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting assistant server...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx := context.Background()
	memoryMode := cfg.Ports.Mode == "memory"

	// --- Stores ---
	var (
		pg        *database.PostgresClient
		esClient  *database.ElasticsearchClient
		redis     *database.RedisClient
		histStore history.Store
		rlStore   ratelimit.Store
	)

	if memoryMode {
		histStore = history.NewMemoryStore()
		rlStore = ratelimit.NewMemoryStore()
		zapLog.Info("Running with in-memory stores")
	} else {
		err = retryWithBackoff(func() error {
			var err error
			pg, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			return pg.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		defer pg.Close()
		zapLog.Info("PostgreSQL connected successfully")

		pgHistory := history.NewPostgresStore(pg)
		if err := pgHistory.EnsureSchema(ctx); err != nil {
			zapLog.Fatal("audit schema setup failed", zap.Error(err))
		}
		histStore = pgHistory

		pgBuckets := ratelimit.NewPostgresStore(pg)
		if err := pgBuckets.EnsureSchema(ctx); err != nil {
			zapLog.Fatal("rate limit schema setup failed", zap.Error(err))
		}
		rlStore = pgBuckets

		err = retryWithBackoff(func() error {
			var err error
			redis, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			return redis.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer redis.Close()
		zapLog.Info("Redis connected successfully")
	}

	// --- Retrieval ---
	var embedder search.Embedder = search.NewOpenAIEmbedder(cfg.APIs.OpenAI)
	if redis != nil {
		embedder = search.NewCachedEmbedder(embedder, redis, cfg.Resolver.CacheExpiry(), log)
	}

	var index search.Index
	if memoryMode {
		index = search.NewMemoryIndex()
		zapLog.Info("Running with in-memory entity index")
	} else {
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping()
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		zapLog.Info("Elasticsearch connected successfully")

		esIndex := search.NewElasticIndex(esClient, cfg.Database.Elasticsearch.EntityIndex, log)
		if err := esIndex.EnsureIndex(ctx, cfg.APIs.OpenAI.EmbeddingDimensions); err != nil {
			zapLog.Fatal("entity index setup failed", zap.Error(err))
		}
		index = esIndex
	}

	// --- Platform ports ---
	var platform *ports.Platform
	if memoryMode {
		platform = ports.NewMemoryPlatform().Wire()
	} else {
		var notifier ports.Notifier
		if cfg.Notifications.Mode == "sns" {
			snsClient, err := aws.NewSNSClient(ctx, cfg.Notifications.AWS.Region)
			if err != nil {
				zapLog.Fatal("sns client failed", zap.Error(err))
			}
			var sesClient *aws.SESClient
			if cfg.Notifications.Email.Enabled {
				sesClient, err = aws.NewSESClient(ctx, cfg.Notifications.AWS.Region)
				if err != nil {
					zapLog.Fatal("ses client failed", zap.Error(err))
				}
			}
			notifier = ports.NewSNSNotifier(snsClient, sesClient, cfg.Notifications, log)
		} else {
			notifier = ports.NewMemoryPlatform().Wire().Notifier
			zapLog.Info("Notifications running in memory mode")
		}
		platform = ports.NewHTTPPlatform(cfg.Ports, notifier)
	}

	// --- Action catalog ---
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		zapLog.Fatal("action catalog load failed", zap.Error(err))
	}
	zapLog.Info("Action catalog loaded", zap.Int("actions", len(cat.Actions)))

	// --- Pipeline stages ---
	parser := parseintent.NewParser(cfg.APIs.OpenAI, cfg.Intent, log)
	resolver := resolveentities.NewResolver(embedder, index, cfg.Resolver, log)
	policy := disambiguate.NewPolicy(cfg.Policy)
	builder := builddraft.NewBuilder(cat, platform, log)
	executor := executeaction.NewOrchestrator(ports.NewDispatcher(platform), histStore, cfg.Orchestrator, obs, log)
	limiter := ratelimit.NewLimiter(rlStore, cfg.Limits, log)

	srv := server.New(server.Options{
		Config:   cfg.Server,
		Parser:   parser,
		Resolver: resolver,
		Policy:   policy,
		Builder:  builder,
		Executor: executor,
		Limiter:  limiter,
		History:  histStore,
		Catalog:  cat,
		Obs:      obs,
		Logger:   log,
		Ready: func(ctx context.Context) error {
			if pg != nil {
				if err := pg.Ping(ctx); err != nil {
					return err
				}
			}
			if redis != nil {
				if err := redis.Ping(ctx); err != nil {
					return err
				}
			}
			if esClient != nil {
				if err := esClient.Ping(); err != nil {
					return err
				}
			}
			return nil
		},
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Millisecond,
	}

	go func() {
		zapLog.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Fatal("http server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, draining...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("http server shutdown failed", zap.Error(err))
	}

	zapLog.Info("Assistant server stopped")
}
