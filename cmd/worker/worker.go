package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

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
)

const concurrency = 10

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.InitLogger(cfg)

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		log.Fatal("Failed to init metrics:", err)
	}

	// Connect to MongoDB
	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer mongoClient.Disconnect(context.Background())
	docs := docstore.New(mongoClient.Database(cfg.DBName))

	rdb, err := config.NewRedisClient(cfg)
	if err != nil || rdb == nil {
		log.Fatal("Worker requires Redis: ", err)
	}
	defer rdb.Close()

	objects, err := objectstore.New(context.Background(), objectstore.Config{
		Endpoint:      cfg.MinioEndpoint,
		AccessKey:     cfg.MinioAccessKey,
		SecretKey:     cfg.MinioSecretKey,
		Region:        cfg.MinioRegion,
		Bucket:        cfg.MinioBucket,
		PublicBaseURL: cfg.MinioPublicBaseURL,
	})
	if err != nil {
		log.Fatal("Worker requires the object store: ", err)
	}

	var (
		relMirror   importer.RelationalMirror
		graphMirror importer.GraphMirror
		backfill    queue.Backfiller
	)
	embedder := embedding.NewCachedEmbedder(embedding.NewHashEmbedder(cfg.KeywordEmbedDim), rdb, cfg.EmbedCacheTTL)

	if pg, err := config.OpenPostgres(cfg); err != nil {
		logger.Warn("relational mirror disabled", "error", err)
	} else if pg != nil {
		relStore, err := relational.New(pg)
		if err != nil {
			log.Fatal("Failed to build relational store:", err)
		}
		relMirror = importer.WithRelationalBreaker(relStore, metrics)
		backfill = scheduler.NewBackfill(relStore, embedder, cfg.EmbedBackfillRPS)
	}

	if driver, err := config.ConnectNeo4j(cfg); err != nil {
		logger.Warn("graph mirror disabled", "error", err)
	} else if driver != nil {
		defer driver.Close(context.Background())
		graphMirror = importer.WithGraphBreaker(graph.New(driver, cfg.Neo4jDatabase), metrics)
	}

	engine := importer.New(docs, relMirror, graphMirror,
		importer.WithEmbedder(embedder),
		importer.WithRecorder(metrics),
	)

	redisOpt, err := config.AsynqRedisOpt(cfg)
	if err != nil {
		log.Fatal("Invalid Redis settings:", err)
	}

	// Create Asynq server
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"critical": 6, // imports
				"default":  3,
				"low":      1, // embedding backfill
			},
			StrictPriority:  true,
			ShutdownTimeout: 30 * time.Second,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("task failed", "type", task.Type(), "error", err)
			}),
		},
	)

	processor := queue.NewTaskProcessor(engine, objects, queue.NewRedisJobStore(rdb, 24*time.Hour), backfill)
	mux := asynq.NewServeMux()
	processor.Register(mux)

	logger.Info("starting asynq worker",
		"concurrency", concurrency,
		"backfill", backfill != nil,
	)
	if err := server.Start(mux); err != nil {
		log.Fatalf("Failed to start worker: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down worker")
	server.Shutdown()
}
