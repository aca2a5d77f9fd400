package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"edu-data-console/internal/config"
	"edu-data-console/internal/docstore"
	"edu-data-console/internal/embedding"
	"edu-data-console/internal/graph"
	"edu-data-console/internal/importer"
	"edu-data-console/internal/logger"
	"edu-data-console/internal/objectstore"
	"edu-data-console/internal/queue"
	"edu-data-console/internal/relational"
	"edu-data-console/internal/scheduler"
	"edu-data-console/internal/telemetry"
	"edu-data-console/middleware"
	"edu-data-console/models"
	"edu-data-console/routes"
	"edu-data-console/services"
)

const backfillBatch = 500

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.InitLogger(cfg)

	shutdownTracer, err := telemetry.InitTracer(telemetry.TracerConfig{
		ServiceName: "edu-data-console",
		Endpoint:    cfg.OTLPEndpoint,
		SampleRatio: cfg.OTelSampleRate,
		Environment: cfg.GinMode,
	})
	if err != nil {
		log.Fatal("Failed to init tracer:", err)
	}
	defer shutdownTracer()

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		log.Fatal("Failed to init metrics:", err)
	}

	// Connect to MongoDB
	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mongoClient.Disconnect(ctx)
	}()
	db := mongoClient.Database(cfg.DBName)
	{
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := config.EnsureIndexes(ctx, db); err != nil {
			logger.Warn("failed to ensure Mongo indexes", "error", err)
		}
		cancel()
	}
	docs := docstore.New(db)

	deps := routes.Deps{
		Docs:   docs,
		Health: map[string]routes.Pinger{"mongo": docs},
	}

	// Optional stores. A typed nil must never reach an interface field.
	var (
		relStore    *relational.Store
		graphStore  *graph.Client
		relMirror   importer.RelationalMirror
		graphMirror importer.GraphMirror
	)

	pg, err := config.OpenPostgres(cfg)
	switch {
	case err != nil:
		logger.Warn("relational store unavailable, /admin/postgre and search answer 503", "error", err)
	case pg == nil:
		logger.Warn("relational store not configured")
	default:
		if relStore, err = relational.New(pg); err != nil {
			log.Fatal("Failed to build relational store:", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		if err := relStore.Migrate(ctx); err != nil {
			logger.Warn("relational migration failed", "error", err)
		}
		cancel()
		relMirror = importer.WithRelationalBreaker(relStore, metrics)
		deps.Relational = relStore
		deps.Health["postgres"] = relStore
	}

	neoDriver, err := config.ConnectNeo4j(cfg)
	switch {
	case err != nil:
		logger.Warn("graph store unavailable, /admin/neo answers 503", "error", err)
	case neoDriver == nil:
		logger.Warn("graph store not configured")
	default:
		defer neoDriver.Close(context.Background())
		graphStore = graph.New(neoDriver, cfg.Neo4jDatabase)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := graphStore.EnsureConstraints(ctx); err != nil {
			logger.Warn("graph constraints failed", "error", err)
		}
		cancel()
		graphMirror = importer.WithGraphBreaker(graphStore, metrics)
		deps.Graph = graphStore
		deps.Health["neo4j"] = graphStore
	}

	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		logger.Warn("redis unavailable, running without cache, rate limiting or async imports", "error", err)
		rdb = nil
	}
	var asynqClient *asynq.Client
	if rdb != nil {
		defer rdb.Close()
		deps.Jobs = queue.NewRedisJobStore(rdb, 24*time.Hour)
		deps.Health["redis"] = redisPinger{rdb}
		if opt, err := config.AsynqRedisOpt(cfg); err != nil {
			logger.Warn("async imports disabled", "error", err)
		} else {
			asynqClient = asynq.NewClient(opt)
			defer asynqClient.Close()
			deps.Queue = asynqClient
		}
	}

	objects, err := objectstore.New(context.Background(), objectstore.Config{
		Endpoint:      cfg.MinioEndpoint,
		AccessKey:     cfg.MinioAccessKey,
		SecretKey:     cfg.MinioSecretKey,
		Region:        cfg.MinioRegion,
		Bucket:        cfg.MinioBucket,
		PublicBaseURL: cfg.MinioPublicBaseURL,
	})
	if err != nil {
		logger.Warn("object store unavailable, /admin/minio and previews answer 503", "error", err)
	} else {
		deps.Objects = objects
		deps.Preview = services.NewPreviewService(objects, &services.SofficeConverter{Path: cfg.SofficePath})
	}

	embedder := embedding.NewCachedEmbedder(embedding.NewHashEmbedder(cfg.KeywordEmbedDim), rdb, cfg.EmbedCacheTTL)
	deps.Importer = importer.New(docs, relMirror, graphMirror,
		importer.WithEmbedder(embedder),
		importer.WithRecorder(metrics),
	)

	library := services.NewLibraryService(db)
	deps.Library = library
	if relStore != nil {
		deps.Search = services.NewSearchService(relStore, library, embedder, metrics)
	}

	auditLogger := models.NewAuditLogger(db, metrics)
	deps.Audit = auditLogger

	// Keyword embedding backfill: queued for the worker when asynq is
	// available, otherwise run in-process.
	sched := scheduler.New()
	if relStore != nil {
		if asynqClient != nil && cfg.EmbedBackfillInterval > 0 {
			err = sched.Every(scheduler.TagEmbeddingBackfill, cfg.EmbedBackfillInterval, 30*time.Second, func(ctx context.Context) error {
				task, err := queue.NewBackfillTask(backfillBatch)
				if err != nil {
					return err
				}
				_, err = asynqClient.EnqueueContext(ctx, task)
				if errors.Is(err, asynq.ErrDuplicateTask) || errors.Is(err, asynq.ErrTaskIDConflict) {
					return nil
				}
				return err
			})
		} else if asynqClient == nil {
			err = scheduler.ScheduleBackfill(sched,
				scheduler.NewBackfill(relStore, embedder, cfg.EmbedBackfillRPS),
				cfg.EmbedBackfillInterval, backfillBatch)
		}
		if err != nil {
			logger.Warn("failed to schedule embedding backfill", "error", err)
		}
	}
	sched.Start()
	defer sched.Stop()

	// Initialize Gin router
	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.TracingMiddleware("edu-data-console"))
	router.Use(middleware.MetricsMiddleware(metrics))
	router.Use(middleware.CORSMiddlewareWithOrigins(cfg.CORSOrigins))
	router.Use(middleware.RequestSizeLimit(cfg.MaxFileSize))
	if rdb != nil {
		router.Use(middleware.RateLimitMiddleware(rdb, cfg.RateLimitReqs, cfg.RateLimitWindow))
	}

	routes.Setup(router, deps)

	// Create HTTP server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server exited")
}

type redisPinger struct{ rdb *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.rdb.Ping(ctx).Err() }
