// Package main is the entry point for crawlworker, the multi-tenant
// crawl-and-ingest worker core.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	goredisv8 "github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/ragforge/crawlmesh/apps/crawlworker/internal/concurrency"
	"github.com/ragforge/crawlmesh/apps/crawlworker/internal/config"
	"github.com/ragforge/crawlmesh/apps/crawlworker/internal/cron"
	"github.com/ragforge/crawlmesh/apps/crawlworker/internal/embedding"
	"github.com/ragforge/crawlmesh/apps/crawlworker/internal/feeder"
	"github.com/ragforge/crawlmesh/apps/crawlworker/internal/fetcher"
	"github.com/ragforge/crawlmesh/apps/crawlworker/internal/httpapi"
	"github.com/ragforge/crawlmesh/apps/crawlworker/internal/models"
	"github.com/ragforge/crawlmesh/apps/crawlworker/internal/persist"
	"github.com/ragforge/crawlmesh/apps/crawlworker/internal/queue"
	"github.com/ragforge/crawlmesh/apps/crawlworker/internal/runner"
	"github.com/ragforge/crawlmesh/apps/crawlworker/internal/subscription"
	"github.com/ragforge/crawlmesh/pkg/database"
	crawlmeshredis "github.com/ragforge/crawlmesh/pkg/redis"

	"github.com/ragforge/crawlmesh/pkg/observability"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("crawlworker\nVersion: %s\nBuild Time: %s\nGit Commit: %s\n", version, buildTime, gitCommit)
		os.Exit(0)
	}

	logger := observability.NewStandardLogger("crawlworker")
	logger.Info("starting crawlworker", map[string]interface{}{
		"version":    version,
		"build_time": buildTime,
		"git_commit": gitCommit,
	})

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	db, err := connectDatabase(ctx, cfg.Database, logger)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("failed to close database connection", map[string]interface{}{"error": err.Error()})
		}
	}()

	redisV8 := goredisv8.NewClient(&goredisv8.Options{
		Addr:        cfg.Redis.Address,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.Database,
		MaxRetries:  cfg.Redis.MaxRetries,
		DialTimeout: cfg.Redis.DialTimeout,
		PoolSize:    cfg.Redis.PoolSize,
	})
	defer func() {
		if err := redisV8.Close(); err != nil {
			logger.Error("failed to close redis client", map[string]interface{}{"error": err.Error()})
		}
	}()

	if err := redisV8.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to reach redis: %v", err)
	}

	sqlxDB := db.GetDB()

	metrics := observability.NewNoOpMetricsClient()
	uow := database.NewUnitOfWork(sqlxDB, logger, metrics)

	limiter := concurrency.New(redisV8, concurrency.Config{
		BreakerFailThreshold: cfg.Limiter.BreakerFailThresh,
		BreakerResetTimeout:  cfg.Limiter.BreakerResetTimeout,
		BreakerHalfOpenMax:   cfg.Limiter.BreakerHalfOpenMax,
		SlotKeyTTL:           5 * time.Minute,
	}, logger)

	jobQueue, err := buildJobQueue(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to build job queue: %v", err)
	}

	// Per-tenant/per-website capacity config lives in the website catalog
	// service, outside crawlworker's own schema (same gap internal/cron's
	// WebsiteQueuer seam documents) -- fall back to a single configured
	// default until that lookup is wired.
	capacityLookup := func(ctx context.Context, tenantID, websiteID uuid.UUID) (int, error) {
		return cfg.Limiter.DefaultCapacity, nil
	}

	crawlFeeder := feeder.New(redisV8, jobQueue, capacityLookup, feeder.Config{
		LeaderKey:         "crawl_feeder:leader",
		LeaderLockTTL:     cfg.Feeder.LeaderLockTTL,
		LeaderRefreshEach: cfg.Feeder.LeaderRefreshEach,
		DrainInterval:     cfg.Feeder.DrainInterval,
		DrainBatchSize:    cfg.Feeder.DrainBatchSize,
	}, logger)

	embeddingProvider, err := buildEmbeddingProvider(ctx, logger)
	if err != nil {
		log.Fatalf("failed to build embedding provider: %v", err)
	}

	persister, err := persist.New(sqlxDB, uow, embeddingProvider, persist.Config{
		ChunkSizeTokens:      cfg.Processing.ChunkSizeTokens,
		ChunkOverlapTokens:   cfg.Processing.ChunkOverlapTokens,
		EmbeddingConcurrency: cfg.Processing.EmbeddingConcurrency,
		EmbeddingTimeout:     cfg.Processing.EmbeddingTimeout,
		EmbeddingModel:       "amazon.titan-embed-text-v2:0",
		DedupCacheSize:       10_000,
	}, logger)
	if err != nil {
		log.Fatalf("failed to build persister: %v", err)
	}

	crawlRunner := runner.New(limiter, fetcher.NewRateLimited(fetcher.Unconfigured{}, 2, 4), persister, capacityLookup, runner.Config{
		BaseBackoff: cfg.Runner.BaseBackoff,
		MaxBackoff:  cfg.Runner.MaxBackoff,
		MaxRetries:  cfg.Runner.MaxRetries,
		MaxAge:      cfg.Runner.MaxAge,
	}, logger)

	graphClient := subscription.NewHTTPGraphClient(
		cfg.Subscription.GraphBaseURL,
		cfg.Subscription.NotificationWebhookURL,
		cfg.Subscription.ClientState,
	)
	subMgr := subscription.New(sqlxDB, uow, graphClient, subscription.Config{
		NotificationWebhookURL: cfg.Subscription.NotificationWebhookURL,
		SubscriptionTTL:        cfg.Subscription.TTL,
		RenewalThreshold:       cfg.Subscription.RenewalThreshold,
		PatchMaxElapsed:        subscription.DefaultConfig().PatchMaxElapsed,
	}, logger)

	// AuditLogPurger/ConversationPurger/ExportCleaner/WebsiteQueuer all
	// live in systems outside crawlworker's own schema (audit log store,
	// conversation hierarchy, export file store, website catalog) -- this
	// process only owns the subscription-renewal loop until those
	// repositories are wired from elsewhere in the platform.
	scheduler := cron.NewScheduler(cron.DefaultConfig(), nil, subMgr, subscriptionRenewalResolver{}, nil, nil, nil, logger)
	scheduler.Start()

	runnerCtx, runnerCancel := context.WithCancel(ctx)
	var runnerWG sync.WaitGroup
	runnerWG.Add(1)
	go func() {
		defer runnerWG.Done()
		consumeLoop(runnerCtx, crawlRunner, jobQueue, logger)
	}()

	crawlFeeder.Start(ctx)

	health := workerHealthChecker{db: db, redis: redisV8}
	apiServer := httpapi.New(httpapi.Config{
		Addr:            fmt.Sprintf(":%d", cfg.Service.Port),
		JWTSecret:       []byte(cfg.Auth.JWTSecret),
		JWTIssuer:       cfg.Auth.JWTIssuer,
		DefaultCapacity: cfg.Limiter.DefaultCapacity,
	}, limiter, health, logger)
	apiServer.Start()

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", map[string]interface{}{"signal": sig.String()})
	case <-ctx.Done():
	}

	logger.Info("starting graceful shutdown", nil)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer shutdownCancel()

	scheduler.Stop()
	crawlFeeder.Stop()
	runnerCancel()
	runnerWG.Wait()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error("failed to shut down api server", map[string]interface{}{"error": err.Error()})
	}

	cancel()
	logger.Info("shutdown complete", nil)
}

// consumeLoop repeatedly drains jobQueue through crawlRunner until ctx is
// cancelled, pausing briefly between empty polls.
func consumeLoop(ctx context.Context, r *runner.Runner, q queue.JobQueue, logger observability.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := r.Consume(ctx, q, decodeCrawlJob); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("consume pass failed", map[string]interface{}{"error": err.Error()})
			time.Sleep(time.Second)
		}
	}
}

// pendingEntry mirrors feeder.pendingEntry's wire shape: the feeder
// enqueues this, not a full CrawlJob, so the runner's decode step
// reconstructs the job record the state machine needs.
type pendingEntry struct {
	TenantID  uuid.UUID `json:"tenant_id"`
	WebsiteID uuid.UUID `json:"website_id"`
	RunID     uuid.UUID `json:"run_id"`
	URL       string    `json:"url"`
}

func decodeCrawlJob(payload []byte) (*models.CrawlJob, error) {
	var entry pendingEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil, err
	}
	return &models.CrawlJob{
		RunID:     entry.RunID,
		TenantID:  entry.TenantID,
		WebsiteID: entry.WebsiteID,
		URL:       entry.URL,
		State:     models.CrawlJobReceived,
	}, nil
}

// subscriptionRenewalResolver is a placeholder RenewalParamsResolver: the
// OAuth token, source integration ID and site ID needed to renew a
// subscription come from the tenant's stored integration credentials,
// which live outside crawlworker's own schema. Wiring a concrete resolver
// is the same kind of caller-supplied dependency as cron's other seams.
type subscriptionRenewalResolver struct{}

func (subscriptionRenewalResolver) ResolveRenewalParams(ctx context.Context, sub models.Subscription) (token, userIntegrationID, siteID string, isOneDrive bool, err error) {
	return "", "", "", false, fmt.Errorf("no integration-credential resolver configured for subscription %s", sub.ID)
}

// workerHealthChecker reports whether crawlworker's own dependencies
// (Postgres, Redis) are reachable, grounded on
// pkg/database/readiness.go's ping-first HealthCheck shape, trimmed to
// connectivity only since crawlworker's schema is fixed by its own
// migrations rather than checked at runtime.
type workerHealthChecker struct {
	db    *database.Database
	redis goredisv8.Cmdable
}

func (h workerHealthChecker) CheckHealth(ctx context.Context) error {
	if err := h.db.GetDB().PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := h.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// connectDatabase establishes a database connection with retry logic,
// grounded on apps/rag-loader/cmd/loader/main.go's connectDatabase.
func connectDatabase(ctx context.Context, cfg config.DatabaseConfig, logger observability.Logger) (*database.Database, error) {
	dbConfig := database.Config{
		Driver:       "postgres",
		Host:         cfg.Host,
		Port:         cfg.Port,
		Database:     cfg.Database,
		Username:     cfg.Username,
		Password:     cfg.Password,
		SSLMode:      cfg.SSLMode,
		MaxOpenConns: cfg.MaxConns,
		MaxIdleConns: cfg.MaxIdleConns,
	}

	maxRetries := 10
	baseDelay := time.Second

	logger.Info("connecting to database", map[string]interface{}{"host": cfg.Host, "database": cfg.Database})

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		db, err := database.NewDatabase(ctx, dbConfig)
		if err == nil {
			if pingErr := db.Ping(); pingErr == nil {
				logger.Info("database connection established", nil)
				return db, nil
			} else {
				_ = db.Close()
				err = fmt.Errorf("failed to ping database: %w", pingErr)
			}
		}
		lastErr = err

		if i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<uint(i))
			if delay > 30*time.Second {
				delay = 30 * time.Second
			}
			logger.Warn("database connection failed, retrying", map[string]interface{}{
				"attempt": i + 1, "max_attempts": maxRetries, "delay": delay.String(), "error": err.Error(),
			})

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", maxRetries, lastErr)
}

// buildJobQueue selects the JobQueue backend per config.QueueConfig.Backend.
func buildJobQueue(ctx context.Context, cfg *config.Config, logger observability.Logger) (queue.JobQueue, error) {
	switch cfg.Queue.Backend {
	case "sqs":
		return queue.NewSQSQueue(ctx, cfg.Queue.SQSRegion, cfg.Queue.SQSQueueURL, logger)
	default:
		streamsCfg := crawlmeshredis.DefaultConfig()
		streamsCfg.Addresses = []string{cfg.Redis.Address}
		streamsCfg.Password = cfg.Redis.Password
		streamsCfg.DB = cfg.Redis.Database
		streamsCfg.PoolSize = cfg.Redis.PoolSize
		streamsCfg.DialTimeout = cfg.Redis.DialTimeout
		return queue.NewRedisQueue(ctx, streamsCfg, "crawlworker:jobs", "crawlworker:runners", logger)
	}
}

// buildEmbeddingProvider selects BatchPersister's embedding collaborator.
// Only Bedrock has a concrete, self-contained constructor in this build --
// GRPCProvider needs a generated protobuf client stub this repo doesn't
// vendor (see internal/embedding/grpc.go), so selecting it here without
// one would just trade a clear startup error for an opaque one later.
func buildEmbeddingProvider(ctx context.Context, logger observability.Logger) (embedding.Provider, error) {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = os.Getenv("CRAWLWORKER_EMBEDDING_BEDROCK_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	provider, err := embedding.NewBedrockProvider(ctx, region)
	if err != nil {
		return nil, fmt.Errorf("build bedrock embedding provider: %w", err)
	}
	logger.Info("bedrock embedding provider configured", map[string]interface{}{"region": region})
	return provider, nil
}
