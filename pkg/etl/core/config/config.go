// Package config provides structures and utilities for loading the pipeline
// configuration from an embedded YAML document, a .env file, and environment
// variable expansion.
package config

import "time"

// EmbeddedConfig holds the content of the configuration file, typically
// embedded into the binary and passed from main.
type EmbeddedConfig []byte

// SourceKind selects the concrete source adapter.
type SourceKind string

const (
	SourceKindCSV SourceKind = "csv"
	SourceKindAPI SourceKind = "api"
	SourceKindGCS SourceKind = "gcs"
)

// SinkKind selects the concrete storage sink adapter.
type SinkKind string

const (
	SinkKindPostgres SinkKind = "postgres"
	SinkKindMySQL    SinkKind = "mysql"
	SinkKindSQLite   SinkKind = "sqlite"
	SinkKindMongo    SinkKind = "mongo"
)

// SourceConfig locates the raw dataset.
type SourceConfig struct {
	// Kind is the source adapter: "csv", "api", or "gcs".
	Kind SourceKind `yaml:"kind"`
	// Locator is the source address: a file path for csv, an endpoint URL
	// for api, or unused for gcs (see Bucket/Object).
	Locator string `yaml:"locator"`
	// Bucket and Object locate a CSV object for the gcs source.
	Bucket string `yaml:"bucket"`
	Object string `yaml:"object"`
	// RequestTimeoutMillis bounds API requests and GCS object opens.
	RequestTimeoutMillis int `yaml:"request_timeout_millis"`
}

// BatchLimits bounds accumulated batches; a batch is flushed eagerly when
// either limit is reached.
type BatchLimits struct {
	// MaxRows is the maximum row count per batch.
	MaxRows int `yaml:"max_rows"`
	// MaxBytes is the maximum batch byte-size estimate.
	MaxBytes int `yaml:"max_bytes"`
	// PartitionBuckets is the number of hash buckets partition keys are
	// spread over.
	PartitionBuckets int `yaml:"partition_buckets"`
}

// RetryConfig configures the loader's bounded retry with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the total number of delivery attempts per batch.
	MaxAttempts int `yaml:"max_attempts"`
	// BackoffBaseMillis is the first backoff interval.
	BackoffBaseMillis int `yaml:"backoff_base_millis"`
	// BackoffCapMillis caps the backoff interval growth.
	BackoffCapMillis int `yaml:"backoff_cap_millis"`
	// Factor is the multiplier applied per attempt (2.0 for doubling).
	Factor float64 `yaml:"factor"`
}

// WriteConfig configures storage writes.
type WriteConfig struct {
	// TimeoutMillis is the per-write deadline; exceeding it counts as a
	// transient failure subject to retry.
	TimeoutMillis int `yaml:"timeout_millis"`
	// Consistency is the tunable consistency level passed to the storage
	// collaborator (e.g., "LOCAL_QUORUM"). Sinks without tunable consistency
	// record and ignore it.
	Consistency string `yaml:"consistency"`
}

// PipelineConfig holds the execution plan parameters.
type PipelineConfig struct {
	// Workers is the number of parallel worker lanes; 0 means one lane per
	// available CPU.
	Workers int `yaml:"workers"`
	// TargetTable is the storage table batches are addressed to.
	TargetTable string `yaml:"target_table"`
	Batch       BatchLimits `yaml:"batch"`
	Retry       RetryConfig `yaml:"retry"`
	Write       WriteConfig `yaml:"write"`
}

// SinkConfig selects and parameterizes the storage sink. Adapter-specific
// options live in Options and are decoded by the chosen adapter.
type SinkConfig struct {
	Kind SinkKind `yaml:"kind"`
	// DSN is the connection string for SQL sinks, or the URI for mongo.
	DSN string `yaml:"dsn"`
	// Options carries adapter-specific settings (database name, collection,
	// pool sizes), decoded with mapstructure by the adapter.
	Options map[string]interface{} `yaml:"options"`
}

// RejectionConfig configures the rejection and dead-letter sinks.
type RejectionConfig struct {
	// Path is the JSONL rejection log file.
	Path string `yaml:"path"`
	// DeadLetterPath is the JSONL dead-letter log file for failed batches.
	DeadLetterPath string `yaml:"dead_letter_path"`
	// ParquetDir, when set, additionally archives rejected records as
	// parquet files under this directory.
	ParquetDir string `yaml:"parquet_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	Timezone string        `yaml:"timezone"`
	Logging  LoggingConfig `yaml:"logging"`
}

// MetricsConfig holds metrics exposition settings.
type MetricsConfig struct {
	// Enabled toggles the Prometheus recorder; tests use the noop recorder.
	Enabled bool `yaml:"enabled"`
}

// FlightETLConfig holds all configuration under the "flightetl" top-level key.
type FlightETLConfig struct {
	System    SystemConfig    `yaml:"system"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Source    SourceConfig    `yaml:"source"`
	Sink      SinkConfig      `yaml:"sink"`
	Rejection RejectionConfig `yaml:"rejection"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	FlightETL FlightETLConfig `yaml:"flightetl"`
}

// NewConfig returns a new Config populated with defaults. Values from the
// YAML document are merged over these.
func NewConfig() *Config {
	return &Config{
		FlightETL: FlightETLConfig{
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO"},
			},
			Pipeline: PipelineConfig{
				Workers:     0,
				TargetTable: "flights",
				Batch: BatchLimits{
					MaxRows:          500,
					MaxBytes:         512 * 1024,
					PartitionBuckets: 16,
				},
				Retry: RetryConfig{
					MaxAttempts:       3,
					BackoffBaseMillis: 200,
					BackoffCapMillis:  5000,
					Factor:            2.0,
				},
				Write: WriteConfig{
					TimeoutMillis: 10000,
					Consistency:   "LOCAL_QUORUM",
				},
			},
			Source: SourceConfig{
				Kind:                 SourceKindCSV,
				RequestTimeoutMillis: 10000,
			},
			Sink: SinkConfig{
				Kind:    SinkKindSQLite,
				DSN:     "flightetl.db",
				Options: map[string]interface{}{},
			},
			Rejection: RejectionConfig{
				Path:           "rejections.jsonl",
				DeadLetterPath: "deadletter.jsonl",
			},
			Metrics: MetricsConfig{Enabled: true},
		},
	}
}

// WriteTimeout returns the per-write deadline as a duration.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.FlightETL.Pipeline.Write.TimeoutMillis) * time.Millisecond
}

// BackoffBase returns the initial backoff interval as a duration.
func (c *RetryConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMillis) * time.Millisecond
}

// BackoffCap returns the backoff interval cap as a duration.
func (c *RetryConfig) BackoffCap() time.Duration {
	return time.Duration(c.BackoffCapMillis) * time.Millisecond
}
