// Package config holds the runtime settings of the station daemon,
// read from the environment with sane production defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full runtime configuration. Zero-valued fields are
// filled in by FromEnv; Validate rejects combinations that would make
// the task loops misbehave.
type Config struct {
	// DBPath is the SQLite database file.
	DBPath string

	// Listen is the address of the admin/metrics HTTP server. Empty
	// disables the server.
	Listen string

	// S3Bucket is the archive bucket. Empty disables the archival
	// writer and reaper; planning still runs.
	S3Bucket string

	// ArchiveBatchSize is the number of measurement rows per archival
	// block.
	ArchiveBatchSize int64

	// UpdateInterval, TrimInterval and ArchiveInterval set the cadence
	// of the three task loops.
	UpdateInterval  time.Duration
	TrimInterval    time.Duration
	ArchiveInterval time.Duration

	// MinNewMeasures and MaxNewMeasures bound the pending backlog a
	// station must have to be picked up by an update run.
	MinNewMeasures int64
	MaxNewMeasures int64

	// UpdateBatch caps stations per update run, LACBatch LACs per scan.
	UpdateBatch int
	LACBatch    int

	// TrimMaxMeasures is the per-station retention quota,
	// TrimMinAgeDays the age below which rows are never trimmed, and
	// TrimBatch the stations examined per trim run.
	TrimMaxMeasures int64
	TrimMinAgeDays  int
	TrimBatch       int
}

// Default returns the production defaults.
func Default() Config {
	return Config{
		DBPath:           "station_data.db",
		Listen:           ":8080",
		ArchiveBatchSize: 100000,
		UpdateInterval:   time.Minute,
		TrimInterval:     time.Hour,
		ArchiveInterval:  6 * time.Hour,
		MinNewMeasures:   1,
		MaxNewMeasures:   1000,
		UpdateBatch:      1000,
		LACBatch:         100,
		TrimMaxMeasures:  10000,
		TrimMinAgeDays:   7,
		TrimBatch:        100,
	}
}

// FromEnv builds a Config from STATIOND_* environment variables laid
// over the defaults.
func FromEnv() (Config, error) {
	cfg := Default()
	var err error

	cfg.DBPath = envString("STATIOND_DB", cfg.DBPath)
	cfg.Listen = envString("STATIOND_LISTEN", cfg.Listen)
	cfg.S3Bucket = envString("STATIOND_S3_BUCKET", cfg.S3Bucket)

	if cfg.ArchiveBatchSize, err = envInt64("STATIOND_ARCHIVE_BATCH_SIZE", cfg.ArchiveBatchSize); err != nil {
		return cfg, err
	}
	if cfg.UpdateInterval, err = envDuration("STATIOND_UPDATE_INTERVAL", cfg.UpdateInterval); err != nil {
		return cfg, err
	}
	if cfg.TrimInterval, err = envDuration("STATIOND_TRIM_INTERVAL", cfg.TrimInterval); err != nil {
		return cfg, err
	}
	if cfg.ArchiveInterval, err = envDuration("STATIOND_ARCHIVE_INTERVAL", cfg.ArchiveInterval); err != nil {
		return cfg, err
	}
	if cfg.MinNewMeasures, err = envInt64("STATIOND_MIN_NEW_MEASURES", cfg.MinNewMeasures); err != nil {
		return cfg, err
	}
	if cfg.MaxNewMeasures, err = envInt64("STATIOND_MAX_NEW_MEASURES", cfg.MaxNewMeasures); err != nil {
		return cfg, err
	}
	if cfg.UpdateBatch, err = envInt("STATIOND_UPDATE_BATCH", cfg.UpdateBatch); err != nil {
		return cfg, err
	}
	if cfg.LACBatch, err = envInt("STATIOND_LAC_BATCH", cfg.LACBatch); err != nil {
		return cfg, err
	}
	if cfg.TrimMaxMeasures, err = envInt64("STATIOND_TRIM_MAX_MEASURES", cfg.TrimMaxMeasures); err != nil {
		return cfg, err
	}
	if cfg.TrimMinAgeDays, err = envInt("STATIOND_TRIM_MIN_AGE_DAYS", cfg.TrimMinAgeDays); err != nil {
		return cfg, err
	}
	if cfg.TrimBatch, err = envInt("STATIOND_TRIM_BATCH", cfg.TrimBatch); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("database path must not be empty")
	}
	if c.ArchiveBatchSize <= 0 {
		return fmt.Errorf("archive batch size must be positive, got %d", c.ArchiveBatchSize)
	}
	if c.MinNewMeasures < 0 || c.MaxNewMeasures <= c.MinNewMeasures {
		return fmt.Errorf("new-measure bounds must satisfy 0 <= min < max, got [%d, %d)",
			c.MinNewMeasures, c.MaxNewMeasures)
	}
	if c.UpdateBatch <= 0 || c.LACBatch <= 0 || c.TrimBatch <= 0 {
		return fmt.Errorf("batch sizes must be positive")
	}
	if c.TrimMaxMeasures <= 0 {
		return fmt.Errorf("trim quota must be positive, got %d", c.TrimMaxMeasures)
	}
	if c.TrimMinAgeDays < 0 {
		return fmt.Errorf("trim minimum age must be non-negative, got %d", c.TrimMinAgeDays)
	}
	return nil
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func envInt64(key string, fallback int64) (int64, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}
