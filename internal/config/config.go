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
	MongoURI    string
	DBName      string
	Port        string
	GinMode     string
	CORSOrigins []string
	MaxBodySize int64

	// MaxUploadSize bounds multipart material uploads
	MaxUploadSize int64

	// Redis Configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Object storage
	StorageDriver      string // "local" (default) or "gcs"
	FileStorageDir     string
	GCSBucket          string
	GCSCredentialsFile string

	// Extraction
	ScratchDir        string
	ExtractionTimeout time.Duration
	PdftotextPath     string
	PdfinfoPath       string
	SofficePath       string

	// Chunk cache
	ChunkCacheEnabled bool
	ChunkCacheTTL     time.Duration

	// Worker
	WorkerConcurrency int
	ReprocessCron     string

	// Rate limiting
	RateLimitReqs   int
	RateLimitWindow int

	// Telemetry
	OTelEnabled  bool
	OTelEndpoint string
	ServiceName  string
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017/materials"),
		DBName:      getEnv("DB_NAME", "materials"),
		Port:        getEnv("PORT", "8080"),
		GinMode:     getEnv("GIN_MODE", "debug"),
		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:8080"), ","),
		MaxBodySize: getEnvInt64("MAX_BODY_SIZE", 1048576), // 1MB of JSON is plenty for metadata

		MaxUploadSize: getEnvInt64("MAX_UPLOAD_SIZE", 50<<20),

		// Redis Configuration
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		// Object storage
		StorageDriver:      strings.ToLower(getEnv("STORAGE_DRIVER", "local")),
		FileStorageDir:     getEnv("FILE_STORAGE_DIR", "./storage"),
		GCSBucket:          getEnv("GCS_BUCKET", ""),
		GCSCredentialsFile: getEnv("GCS_CREDENTIALS_FILE", ""),

		// Extraction
		ScratchDir:        getEnv("SCRATCH_DIR", os.TempDir()),
		ExtractionTimeout: getEnvDuration("EXTRACTION_TIMEOUT", 5*time.Minute),
		PdftotextPath:     getEnv("PDFTOTEXT_PATH", "pdftotext"),
		PdfinfoPath:       getEnv("PDFINFO_PATH", "pdfinfo"),
		SofficePath:       getEnv("SOFFICE_PATH", "soffice"),

		// Chunk cache
		ChunkCacheEnabled: getEnvBool("CHUNK_CACHE_ENABLED", false),
		ChunkCacheTTL:     getEnvDuration("CHUNK_CACHE_TTL", time.Hour),

		// Worker
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 2),
		ReprocessCron:     getEnv("REPROCESS_CRON", ""),

		// Rate limiting
		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),

		// Telemetry
		OTelEnabled:  getEnvBool("OTEL_ENABLED", false),
		OTelEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
		ServiceName:  getEnv("SERVICE_NAME", "material-indexing"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks combinations the env helpers cannot
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case "local":
		if c.FileStorageDir == "" {
			return fmt.Errorf("FILE_STORAGE_DIR is required for the local storage driver")
		}
	case "gcs":
		if c.GCSBucket == "" {
			return fmt.Errorf("GCS_BUCKET is required for the gcs storage driver")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q (expected local or gcs)", c.StorageDriver)
	}

	if c.ExtractionTimeout <= 0 {
		return fmt.Errorf("EXTRACTION_TIMEOUT must be positive")
	}

	if c.WorkerConcurrency <= 0 {
		c.WorkerConcurrency = 1
	}

	return nil
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
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
