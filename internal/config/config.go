package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Backup Configuration
	Backup BackupConfig

	// Catalog Configuration
	Catalog CatalogConfig

	// Logging Configuration
	Logging LoggingConfig
}

// BackupConfig holds the tooling and policy settings of a backup run
type BackupConfig struct {
	DatabaseConfigPath string `validate:"required"` // database.yml style file
	CompressCmd        string `validate:"required"`
	DecompressCmd      string `validate:"required"`
	RestoreCmd         string `validate:"required"`
	PgSchema           string   // empty = dump every schema
	ExtraSchemas       []string // dumped alongside PgSchema
	RestoreDelay       time.Duration
	Schedule           string // cron expression for `schedule`
	MinFreeSpace       uint64 // bytes required on the dump filesystem, 0 = unchecked
	ShowProgress       bool
	NoColor            bool
}

// CatalogConfig holds run catalog configuration
type CatalogConfig struct {
	Path string // empty disables the catalog
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string `validate:"omitempty,oneof=debug info warn warning error fatal panic disabled off"`
	Format string `validate:"omitempty,oneof=json console"`
}

const (
	DefaultCompressCmd   = "gzip -c -1"
	DefaultDecompressCmd = "gzip -cd"
	DefaultRestoreCmd    = "psql"
	DefaultRestoreDelay  = 5 * time.Second
)

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env files (fails silently if files don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	restoreDelay := DefaultRestoreDelay
	if v := os.Getenv("BACKUP_RESTORE_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid BACKUP_RESTORE_DELAY %q: %w", v, err)
		}
		restoreDelay = d
	}

	showProgress := false
	if v := os.Getenv("BACKUP_PROGRESS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid BACKUP_PROGRESS %q: %w", v, err)
		}
		showProgress = b
	}

	var minFreeSpace uint64
	if v := os.Getenv("BACKUP_MIN_FREE_SPACE"); v != "" {
		n, err := humanize.ParseBytes(v)
		if err != nil {
			return nil, fmt.Errorf("invalid BACKUP_MIN_FREE_SPACE %q: %w", v, err)
		}
		minFreeSpace = n
	}

	cfg := &Config{
		Backup: BackupConfig{
			DatabaseConfigPath: getEnv("BACKUP_DATABASE_CONFIG", "config/database.yml"),
			CompressCmd:        getEnv("BACKUP_COMPRESS_CMD", DefaultCompressCmd),
			DecompressCmd:      getEnv("BACKUP_DECOMPRESS_CMD", DefaultDecompressCmd),
			RestoreCmd:         getEnv("BACKUP_RESTORE_CMD", DefaultRestoreCmd),
			PgSchema:           os.Getenv("BACKUP_PG_SCHEMA"),
			ExtraSchemas:       splitList(os.Getenv("BACKUP_EXTRA_SCHEMAS")),
			RestoreDelay:       restoreDelay,
			Schedule:           os.Getenv("BACKUP_SCHEDULE"),
			MinFreeSpace:       minFreeSpace,
			ShowProgress:       showProgress,
			NoColor:            os.Getenv("NO_COLOR") != "",
		},
		Catalog: CatalogConfig{
			Path: os.Getenv("BACKUP_CATALOG_PATH"),
		},
		Logging: LoggingConfig{
			// Defaults suitable for an interactive operator
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c.Backup); err != nil {
		return fmt.Errorf("invalid backup configuration: %w", err)
	}
	if err := validate.Struct(c.Logging); err != nil {
		return fmt.Errorf("invalid logging configuration: %w", err)
	}
	return nil
}

// Schemas returns the schema list handed to pg_dump
func (b BackupConfig) Schemas() []string {
	if b.PgSchema == "" {
		return nil
	}
	return append([]string{b.PgSchema}, b.ExtraSchemas...)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
