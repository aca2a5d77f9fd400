package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"edu-data-console/internal/config"
	"edu-data-console/internal/embedding"
	"edu-data-console/internal/graph"
	"edu-data-console/internal/logger"
	"edu-data-console/internal/relational"
	"edu-data-console/internal/scheduler"
	"edu-data-console/models"
)

func usage() {
	fmt.Println("Usage: go run ./cmd/migrate <command>")
	fmt.Println("Commands:")
	fmt.Println("  schema               - Create Mongo indexes, relational tables and graph constraints")
	fmt.Println("  backfill [limit]     - Fill missing keyword embeddings once")
	fmt.Println("  verify-audit <actor> - Recompute the audit hash chain of one actor")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	command := os.Args[1]

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.InitLogger(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	switch command {
	case "schema":
		err = migrateSchema(ctx, cfg)
	case "backfill":
		limit := 1000
		if len(os.Args) > 2 {
			if limit, err = strconv.Atoi(os.Args[2]); err != nil || limit < 1 {
				log.Fatalf("Invalid limit: %s", os.Args[2])
			}
		}
		err = runBackfill(ctx, cfg, limit)
	case "verify-audit":
		if len(os.Args) < 3 {
			usage()
			os.Exit(1)
		}
		err = verifyAudit(ctx, cfg, os.Args[2])
	default:
		fmt.Printf("Unknown command: %s\n", command)
		usage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", command, err)
	}
	fmt.Printf("%s completed successfully!\n", command)
}

func migrateSchema(ctx context.Context, cfg *config.Config) error {
	client, err := config.ConnectMongoDB(cfg)
	if err != nil {
		return err
	}
	defer client.Disconnect(context.Background())
	if err := config.EnsureIndexes(ctx, client.Database(cfg.DBName)); err != nil {
		return err
	}
	fmt.Println("Mongo indexes ensured")

	store, err := openRelational(cfg)
	if err != nil {
		return err
	}
	if store != nil {
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		fmt.Println("Relational schema migrated")
	}

	driver, err := config.ConnectNeo4j(cfg)
	if err != nil {
		return err
	}
	if driver != nil {
		defer driver.Close(context.Background())
		if err := graph.New(driver, cfg.Neo4jDatabase).EnsureConstraints(ctx); err != nil {
			return err
		}
		fmt.Println("Graph constraints ensured")
	}
	return nil
}

func runBackfill(ctx context.Context, cfg *config.Config, limit int) error {
	store, err := openRelational(cfg)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("relational store is not configured")
	}
	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		logger.Warn("embedding cache disabled", "error", err)
		rdb = nil
	}
	if rdb != nil {
		defer rdb.Close()
	}
	embedder := embedding.NewCachedEmbedder(embedding.NewHashEmbedder(cfg.KeywordEmbedDim), rdb, cfg.EmbedCacheTTL)

	written, err := scheduler.NewBackfill(store, embedder, cfg.EmbedBackfillRPS).Run(ctx, limit)
	fmt.Printf("Wrote %d keyword embeddings\n", written)
	return err
}

func verifyAudit(ctx context.Context, cfg *config.Config, actor string) error {
	client, err := config.ConnectMongoDB(cfg)
	if err != nil {
		return err
	}
	defer client.Disconnect(context.Background())

	report, err := models.NewAuditLogger(client.Database(cfg.DBName), nil).VerifyChain(ctx, actor)
	if err != nil {
		return err
	}
	fmt.Printf("Actor %s: %d events, valid=%v\n", report.Actor, report.Events, report.Valid)
	if !report.Valid {
		return fmt.Errorf("audit chain broken")
	}
	return nil
}

func openRelational(cfg *config.Config) (*relational.Store, error) {
	db, err := config.OpenPostgres(cfg)
	if err != nil || db == nil {
		return nil, err
	}
	return relational.New(db)
}
