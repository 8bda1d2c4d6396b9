package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// This function will Load the ENVIRONMENT VARIABLES from .env if GO_ENV variable is not set
func LoadENV() error {
	goEnv := os.Getenv("GO_ENV")

	if goEnv == "" || goEnv == "development" {
		// A missing .env is fine in development, real env vars still apply
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	return nil
}

type EnvironmentVariable struct {
	GO_ENV string
	PORT   int

	// Relational store
	DB_DRIVER    string
	DATABASE_URL string
	DB_USER_NAME string
	DB_PASSWORD  string
	DB_NAME      string
	DB_HOST      string
	DB_PORT      string
	DB_SSL_MODE  string

	// Redis (queue broker + cross-instance cache invalidation)
	REDIS_URL    string
	QUEUE_PREFIX string

	// Search engine
	TYPESENSE_HOST               string
	TYPESENSE_PORT               int
	TYPESENSE_PROTOCOL           string
	TYPESENSE_ADMIN_KEY          string
	TYPESENSE_CONNECTION_TIMEOUT time.Duration
	TYPESENSE_MAX_RPS            float64

	// Ingestion
	MAX_DOCUMENT_SIZE_BYTES   int
	MAX_DOCUMENTS_PER_REQUEST int
	BODY_LIMIT_BYTES          int
	INDEX_BATCH_SIZE          int
	INDEX_BATCH_DELAY         time.Duration
	BATCH_WORKER_CONCURRENCY  int

	// API keys
	DEFAULT_RATE_LIMIT int
	ADMIN_RATE_LIMIT   int
	RATE_LIMIT_WINDOW  time.Duration
	API_KEY_CACHE_TTL  time.Duration
	API_KEY_CACHE_SIZE int
	REQUEST_TIMEOUT    time.Duration

	// Quotas
	DEFAULT_DOCUMENT_LIMIT      int64
	DEFAULT_STORAGE_LIMIT_BYTES int64
	DEFAULT_COLLECTION_LIMIT    int64

	// Search
	SEARCH_MAX_HITS         int
	SEARCH_DEFAULT_QUERY_BY string

	// Housekeeping
	USAGE_LOG_RETENTION_DAYS int
	CRON_ENABLED             bool
	ALLOWED_ORIGINS          string

	// Failed batch archive (S3 compatible, optional)
	ARCHIVE_S3_BUCKET     string
	ARCHIVE_S3_REGION     string
	ARCHIVE_S3_ENDPOINT   string
	ARCHIVE_S3_ACCESS_KEY string
	ARCHIVE_S3_SECRET_KEY string
}

func Get() (*EnvironmentVariable, error) {
	envVariables := &EnvironmentVariable{
		GO_ENV: os.Getenv("GO_ENV"),
		PORT:   getEnvInt("PORT", 8080),

		DB_DRIVER:    getEnv("DB_DRIVER", "postgres"),
		DATABASE_URL: os.Getenv("DATABASE_URL"),
		DB_USER_NAME: os.Getenv("DB_USER_NAME"),
		DB_PASSWORD:  os.Getenv("DB_PASSWORD"),
		DB_NAME:      os.Getenv("DB_NAME"),
		DB_HOST:      getEnv("DB_HOST", "localhost"),
		DB_PORT:      getEnv("DB_PORT", "5432"),
		DB_SSL_MODE:  getEnv("DB_SSL_MODE", "disable"),

		REDIS_URL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),
		QUEUE_PREFIX: getEnv("QUEUE_PREFIX", "gateway:queue"),

		TYPESENSE_HOST:               getEnv("TYPESENSE_HOST", "localhost"),
		TYPESENSE_PORT:               getEnvInt("TYPESENSE_PORT", 8108),
		TYPESENSE_PROTOCOL:           getEnv("TYPESENSE_PROTOCOL", "http"),
		TYPESENSE_ADMIN_KEY:          os.Getenv("TYPESENSE_ADMIN_KEY"),
		TYPESENSE_CONNECTION_TIMEOUT: getEnvDuration("TYPESENSE_CONNECTION_TIMEOUT", 2*time.Second),
		TYPESENSE_MAX_RPS:            getEnvFloat("TYPESENSE_MAX_RPS", 20),

		MAX_DOCUMENT_SIZE_BYTES:   getEnvInt("MAX_DOCUMENT_SIZE_BYTES", 100*1024),
		MAX_DOCUMENTS_PER_REQUEST: getEnvInt("MAX_DOCUMENTS_PER_REQUEST", 10000),
		BODY_LIMIT_BYTES:          getEnvInt("BODY_LIMIT_BYTES", 32*1024*1024),
		INDEX_BATCH_SIZE:          getEnvInt("INDEX_BATCH_SIZE", 40),
		INDEX_BATCH_DELAY:         getEnvDuration("INDEX_BATCH_DELAY", 10*time.Second),
		BATCH_WORKER_CONCURRENCY:  getEnvInt("BATCH_WORKER_CONCURRENCY", 5),

		DEFAULT_RATE_LIMIT: getEnvInt("DEFAULT_RATE_LIMIT", 100),
		ADMIN_RATE_LIMIT:   getEnvInt("ADMIN_RATE_LIMIT", 1000),
		RATE_LIMIT_WINDOW:  getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		API_KEY_CACHE_TTL:  getEnvDuration("API_KEY_CACHE_TTL", 60*time.Second),
		API_KEY_CACHE_SIZE: getEnvInt("API_KEY_CACHE_SIZE", 10000),
		REQUEST_TIMEOUT:    getEnvDuration("REQUEST_TIMEOUT", 5*time.Second),

		DEFAULT_DOCUMENT_LIMIT:      getEnvInt64("DEFAULT_DOCUMENT_LIMIT", 10000),
		DEFAULT_STORAGE_LIMIT_BYTES: getEnvInt64("DEFAULT_STORAGE_LIMIT_BYTES", 100*1024*1024),
		DEFAULT_COLLECTION_LIMIT:    getEnvInt64("DEFAULT_COLLECTION_LIMIT", 10),

		SEARCH_MAX_HITS:         getEnvInt("SEARCH_MAX_HITS", 10000),
		SEARCH_DEFAULT_QUERY_BY: getEnv("SEARCH_DEFAULT_QUERY_BY", "content"),

		USAGE_LOG_RETENTION_DAYS: getEnvInt("USAGE_LOG_RETENTION_DAYS", 90),
		CRON_ENABLED:             os.Getenv("CRON_ENABLED") != "false", // Default to enabled
		ALLOWED_ORIGINS:          getEnv("ALLOWED_ORIGINS", "*"),

		ARCHIVE_S3_BUCKET:     os.Getenv("ARCHIVE_S3_BUCKET"),
		ARCHIVE_S3_REGION:     os.Getenv("ARCHIVE_S3_REGION"),
		ARCHIVE_S3_ENDPOINT:   os.Getenv("ARCHIVE_S3_ENDPOINT"),
		ARCHIVE_S3_ACCESS_KEY: os.Getenv("ARCHIVE_S3_ACCESS_KEY"),
		ARCHIVE_S3_SECRET_KEY: os.Getenv("ARCHIVE_S3_SECRET_KEY"),
	}

	if envVariables.INDEX_BATCH_SIZE < 1 {
		return nil, fmt.Errorf("INDEX_BATCH_SIZE must be positive, got %d", envVariables.INDEX_BATCH_SIZE)
	}
	if envVariables.BATCH_WORKER_CONCURRENCY < 1 {
		return nil, fmt.Errorf("BATCH_WORKER_CONCURRENCY must be positive, got %d", envVariables.BATCH_WORKER_CONCURRENCY)
	}

	return envVariables, nil
}

// DSN returns the relational store connection string
func (e *EnvironmentVariable) DSN() string {
	if e.DATABASE_URL != "" {
		return e.DATABASE_URL
	}
	if e.DB_DRIVER == "sqlite" {
		return "gateway.db"
	}

	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		e.DB_HOST,
		e.DB_USER_NAME,
		e.DB_PASSWORD,
		e.DB_NAME,
		e.DB_PORT,
		e.DB_SSL_MODE,
	)
}

// IsProduction reports whether GO_ENV is production
func (e *EnvironmentVariable) IsProduction() bool {
	return strings.EqualFold(e.GO_ENV, "production")
}

// ArchiveEnabled reports whether a failed batch archive bucket is configured
func (e *EnvironmentVariable) ArchiveEnabled() bool {
	return e.ARCHIVE_S3_BUCKET != "" && e.ARCHIVE_S3_REGION != ""
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return value
}

func getEnvInt64(key string, fallback int64) int64 {
	value, err := strconv.ParseInt(os.Getenv(key), 10, 64)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvFloat(key string, fallback float64) float64 {
	value, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
