package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds balancecore's application configuration, populated from
// environment variables (and an optional .env file) the same way the
// original trader service loads its own config.
type Config struct {
	// Server
	Port    int
	DevMode bool

	// Storage
	StorePath string // warm-restart balances snapshot (modernc.org/sqlite)
	AuditPath string // append-only reservation audit log (mattn/go-sqlite3)
	InstanceKey string // identifies this process's snapshot row in StorePath

	// Cold backup (S3-compatible: AWS S3, Cloudflare R2, MinIO, ...)
	BackupEnabled      bool
	BackupEndpoint     string
	BackupRegion       string
	BackupBucket       string
	BackupAccessKey    string
	BackupSecretKey    string
	BackupPrefix       string
	BackupRetentionDays int
	BackupMinKeep      int
	BackupSchedule     string // cron expression

	// Periodic jobs
	HealthCheckSchedule string // cron expression
	SnapshotSchedule    string // cron expression, persists to StorePath

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnvAsInt("PORT", 8090),
		DevMode:     getEnvAsBool("DEV_MODE", false),
		StorePath:   getEnv("STORE_PATH", "./data/balances.db"),
		AuditPath:   getEnv("AUDIT_PATH", "./data/audit.db"),
		InstanceKey: getEnv("INSTANCE_KEY", "default"),

		BackupEnabled:       getEnvAsBool("BACKUP_ENABLED", false),
		BackupEndpoint:      getEnv("BACKUP_S3_ENDPOINT", ""),
		BackupRegion:        getEnv("BACKUP_S3_REGION", "auto"),
		BackupBucket:        getEnv("BACKUP_S3_BUCKET", ""),
		BackupAccessKey:     getEnv("BACKUP_S3_ACCESS_KEY", ""),
		BackupSecretKey:     getEnv("BACKUP_S3_SECRET_KEY", ""),
		BackupPrefix:        getEnv("BACKUP_PREFIX", "balancecore"),
		BackupRetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		BackupMinKeep:       getEnvAsInt("BACKUP_MIN_KEEP", 3),
		BackupSchedule:      getEnv("BACKUP_SCHEDULE", "0 0 */6 * * *"),

		HealthCheckSchedule: getEnv("HEALTH_CHECK_SCHEDULE", "0 0 */6 * * *"),
		SnapshotSchedule:    getEnv("SNAPSHOT_SCHEDULE", "0 * * * * *"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present.
func (c *Config) Validate() error {
	if c.StorePath == "" {
		return fmt.Errorf("STORE_PATH is required")
	}
	if c.AuditPath == "" {
		return fmt.Errorf("AUDIT_PATH is required")
	}
	if c.BackupEnabled {
		if c.BackupBucket == "" {
			return fmt.Errorf("BACKUP_S3_BUCKET is required when BACKUP_ENABLED is set")
		}
		if c.BackupAccessKey == "" || c.BackupSecretKey == "" {
			return fmt.Errorf("BACKUP_S3_ACCESS_KEY and BACKUP_S3_SECRET_KEY are required when BACKUP_ENABLED is set")
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
