// Package config loads clinicctl settings from the environment and an optional
// .env file.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"cliniccore/internal/blob"
	"cliniccore/internal/logging"
)

// Config carries every runtime setting.
type Config struct {
	BlobDriver        string `mapstructure:"CLINIC_BLOB_DRIVER"`
	FSRoot            string `mapstructure:"CLINIC_BLOB_FS_ROOT"`
	S3Bucket          string `mapstructure:"CLINIC_BLOB_S3_BUCKET"`
	S3Region          string `mapstructure:"CLINIC_BLOB_S3_REGION"`
	S3Endpoint        string `mapstructure:"CLINIC_BLOB_S3_ENDPOINT"`
	S3PathStyle       bool   `mapstructure:"CLINIC_BLOB_S3_PATH_STYLE"`
	SQLitePath        string `mapstructure:"CLINIC_SQLITE_PATH"`
	PostgresDSN       string `mapstructure:"CLINIC_POSTGRES_DSN"`
	LogLevel          string `mapstructure:"CLINIC_LOG_LEVEL"`
	LogFormat         string `mapstructure:"CLINIC_LOG_FORMAT"`
	MetricsAddr       string `mapstructure:"CLINIC_METRICS_ADDR"`
	StrictLoad        bool   `mapstructure:"CLINIC_STRICT_LOAD"`
	EnforceReferences bool   `mapstructure:"CLINIC_ENFORCE_REFERENCES"`
}

var keys = []string{
	"CLINIC_BLOB_DRIVER",
	"CLINIC_BLOB_FS_ROOT",
	"CLINIC_BLOB_S3_BUCKET",
	"CLINIC_BLOB_S3_REGION",
	"CLINIC_BLOB_S3_ENDPOINT",
	"CLINIC_BLOB_S3_PATH_STYLE",
	"CLINIC_SQLITE_PATH",
	"CLINIC_POSTGRES_DSN",
	"CLINIC_LOG_LEVEL",
	"CLINIC_LOG_FORMAT",
	"CLINIC_METRICS_ADDR",
	"CLINIC_STRICT_LOAD",
	"CLINIC_ENFORCE_REFERENCES",
}

// Load reads .env from the working directory when present, then overlays the
// process environment.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit env file path. A missing file is ignored.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("CLINIC_BLOB_DRIVER", string(blob.DriverFilesystem))
	v.SetDefault("CLINIC_BLOB_FS_ROOT", "./data")
	v.SetDefault("CLINIC_BLOB_S3_REGION", "us-east-1")
	v.SetDefault("CLINIC_SQLITE_PATH", "clinic.db")
	v.SetDefault("CLINIC_LOG_LEVEL", "info")
	v.SetDefault("CLINIC_LOG_FORMAT", logging.FormatJSON)
	v.SetDefault("CLINIC_METRICS_ADDR", ":9090")

	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	// Missing .env is fine; rely on the environment.
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the selected driver has what it needs.
func (c *Config) Validate() error {
	var errs []error
	switch blob.Driver(strings.ToLower(c.BlobDriver)) {
	case blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("CLINIC_BLOB_S3_BUCKET is required for the s3 driver"))
		}
	case blob.DriverSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("CLINIC_SQLITE_PATH is required for the sqlite driver"))
		}
	case blob.DriverPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("CLINIC_POSTGRES_DSN is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown CLINIC_BLOB_DRIVER %q", c.BlobDriver))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", logging.FormatJSON, logging.FormatConsole:
	default:
		errs = append(errs, fmt.Errorf("unknown CLINIC_LOG_FORMAT %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// BlobConfig returns the blob.Open settings.
func (c *Config) BlobConfig() blob.Config {
	return blob.Config{
		Driver: blob.Driver(strings.ToLower(c.BlobDriver)),
		FSRoot: c.FSRoot,
		S3: blob.S3Config{
			Region:    c.S3Region,
			Bucket:    c.S3Bucket,
			Endpoint:  c.S3Endpoint,
			PathStyle: c.S3PathStyle,
		},
		SQLitePath:  c.SQLitePath,
		PostgresDSN: c.PostgresDSN,
	}
}

// LogConfig returns the logger settings.
func (c *Config) LogConfig() logging.Config {
	return logging.Config{Level: c.LogLevel, Format: c.LogFormat}
}
