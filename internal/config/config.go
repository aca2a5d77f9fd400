package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port            string
	GinMode         string
	CORSOrigins     []string
	MaxFileSize     int64
	RateLimitReqs   int
	RateLimitWindow int

	// MongoDB (document store)
	MongoURI string
	DBName   string

	// PostgreSQL (relational mirror)
	PostgresDSN      string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Neo4j (graph mirror)
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string

	// MinIO / S3 (object store)
	MinioEndpoint      string
	MinioAccessKey     string
	MinioSecretKey     string
	MinioRegion        string
	MinioBucket        string
	MinioPublicBaseURL string

	// Redis Configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Keyword embeddings
	KeywordEmbedDim       int
	EmbedCacheTTL         time.Duration
	EmbedBackfillInterval time.Duration
	EmbedBackfillRPS      int

	// Tracing
	OTLPEndpoint   string
	OTelSampleRate float64

	// Preview conversion
	SofficePath string
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		GinMode:         getEnv("GIN_MODE", "debug"),
		CORSOrigins:     strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173"), ","),
		MaxFileSize:     getEnvInt64("MAX_FILE_SIZE", 104857600), // 100MB
		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 300),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),

		MongoURI: getEnv("MONGO_URI", "mongodb://localhost:27017"),
		DBName:   getEnv("DB_NAME", "edu_data"),

		PostgresDSN:      getEnv("POSTGRES_DSN", ""),
		PostgresHost:     getEnv("POSTGRES_HOST", ""),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresDB:       getEnv("POSTGRES_DB", "edu_data"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		Neo4jURI:      getEnv("NEO4J_URI", ""),
		Neo4jUser:     getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword: getEnv("NEO4J_PASSWORD", ""),
		Neo4jDatabase: getEnv("NEO4J_DATABASE", "neo4j"),

		MinioEndpoint:      getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey:     getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:     getEnv("MINIO_SECRET_KEY", ""),
		MinioRegion:        getEnv("MINIO_REGION", "us-east-1"),
		MinioBucket:        getEnv("MINIO_BUCKET", ""),
		MinioPublicBaseURL: getEnv("MINIO_PUBLIC_BASE_URL", ""),

		RedisURL:      getEnv("REDIS_URL", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		KeywordEmbedDim:       getEnvInt("KEYWORD_EMBED_DIM", 256),
		EmbedCacheTTL:         getEnvDuration("EMBED_CACHE_TTL", 24*time.Hour),
		EmbedBackfillInterval: getEnvDuration("EMBED_BACKFILL_INTERVAL", 15*time.Minute),
		EmbedBackfillRPS:      getEnvInt("EMBED_BACKFILL_RPS", 50),

		OTLPEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTelSampleRate: getEnvFloat64("OTEL_SAMPLE_RATIO", 0.1),

		SofficePath: getEnv("SOFFICE_PATH", "soffice"),
	}

	// Validate required fields
	if cfg.MongoURI == "" {
		return nil, fmt.Errorf("MONGO_URI is required - set it in .env file")
	}
	if cfg.MinioBucket == "" {
		return nil, fmt.Errorf("MINIO_BUCKET is required - set it in .env file")
	}
	if cfg.KeywordEmbedDim <= 0 {
		cfg.KeywordEmbedDim = 256
	}

	return cfg, nil
}

// PostgresConnString returns POSTGRES_DSN or builds one from the discrete
// settings. Empty means the relational mirror is not configured.
func (c *Config) PostgresConnString() string {
	if c.PostgresDSN != "" {
		return c.PostgresDSN
	}
	if c.PostgresHost == "" {
		return ""
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresSSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
