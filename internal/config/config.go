// Package config loads process configuration from environment variables.
// Callers load a `.env` file first (godotenv) when one is present.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultStorageDriver  = "sqlite"
	defaultSQLitePath     = "familytree.db"
	defaultRelationalPath = "familytree-relational.db"
	defaultBlobDriver     = "fs"
	defaultBlobRoot       = "./exports"
	defaultS3Region       = "us-east-1"
	defaultHTTPAddr       = ":8080"
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
	defaultRequestTimeout = 30 * time.Second
	defaultPresignExpiry  = 15 * time.Minute
)

// StorageConfig selects and tunes the persistence backend.
type StorageConfig struct {
	Driver         string // memory|sqlite|postgres|relational
	SQLitePath     string
	PostgresDSN    string
	RelationalPath string
	GormLogLevel   string
	GormSlowQuery  time.Duration
}

// S3Config holds the S3-compatible blob settings.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string // optional, e.g. MinIO
	PathStyle bool
}

// BlobConfig selects where tree exports are written.
type BlobConfig struct {
	Driver        string // fs|memory|s3
	Root          string
	S3            S3Config
	PresignExpiry time.Duration
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr           string
	CORSOrigins    []string
	RequestTimeout time.Duration
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string
	Format string // text|json
}

type Config struct {
	Storage StorageConfig
	Blob    BlobConfig
	HTTP    HTTPConfig
	Log     LogConfig
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultVal
	}
	val, err := time.ParseDuration(valStr)
	if err != nil || val <= 0 {
		log.Printf("Warning: Invalid %s '%s'. Using default %s. Error: %v", key, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func getEnvBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Load reads the FAMILYTREE_* environment.
func Load() (Config, error) {
	cfg := Config{
		Storage: StorageConfig{
			Driver:         strings.ToLower(getEnvOrDefault("FAMILYTREE_STORAGE_DRIVER", defaultStorageDriver)),
			SQLitePath:     getEnvOrDefault("FAMILYTREE_SQLITE_PATH", defaultSQLitePath),
			PostgresDSN:    os.Getenv("FAMILYTREE_POSTGRES_DSN"),
			RelationalPath: getEnvOrDefault("FAMILYTREE_RELATIONAL_PATH", defaultRelationalPath),
			GormLogLevel:   getEnvOrDefault("FAMILYTREE_GORM_LOG_LEVEL", "warn"),
			GormSlowQuery:  getEnvDurationOrDefault("FAMILYTREE_GORM_SLOW_QUERY", time.Second),
		},
		Blob: BlobConfig{
			Driver: strings.ToLower(getEnvOrDefault("FAMILYTREE_BLOB_DRIVER", defaultBlobDriver)),
			Root:   getEnvOrDefault("FAMILYTREE_BLOB_FS_ROOT", defaultBlobRoot),
			S3: S3Config{
				Bucket:    os.Getenv("FAMILYTREE_BLOB_S3_BUCKET"),
				Region:    getEnvOrDefault("FAMILYTREE_BLOB_S3_REGION", defaultS3Region),
				Endpoint:  os.Getenv("FAMILYTREE_BLOB_S3_ENDPOINT"),
				PathStyle: getEnvBool("FAMILYTREE_BLOB_S3_PATH_STYLE"),
			},
			PresignExpiry: getEnvDurationOrDefault("FAMILYTREE_BLOB_PRESIGN_EXPIRY", defaultPresignExpiry),
		},
		HTTP: HTTPConfig{
			Addr:           getEnvOrDefault("FAMILYTREE_HTTP_ADDR", defaultHTTPAddr),
			CORSOrigins:    splitList(getEnvOrDefault("FAMILYTREE_CORS_ORIGINS", "*")),
			RequestTimeout: getEnvDurationOrDefault("FAMILYTREE_REQUEST_TIMEOUT", defaultRequestTimeout),
		},
		Log: LogConfig{
			Level:  strings.ToLower(getEnvOrDefault("FAMILYTREE_LOG_LEVEL", defaultLogLevel)),
			Format: strings.ToLower(getEnvOrDefault("FAMILYTREE_LOG_FORMAT", defaultLogFormat)),
		},
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects unknown drivers and missing required settings.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite", "relational":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("FAMILYTREE_POSTGRES_DSN required for postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Blob.Driver {
	case "fs", "memory":
	case "s3":
		if c.Blob.S3.Bucket == "" {
			return fmt.Errorf("FAMILYTREE_BLOB_S3_BUCKET required for s3 driver")
		}
	default:
		return fmt.Errorf("unknown blob driver %q", c.Blob.Driver)
	}
	return nil
}
