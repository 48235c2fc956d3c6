package config

import (
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tailfin/flightetl/pkg/etl/support/exception"
	"github.com/tailfin/flightetl/pkg/etl/support/logger"
)

const moduleName = "config"

// LoadConfig loads configuration in three layers: coded defaults, the
// embedded YAML document with ${VAR} environment expansion applied, and the
// .env file loaded beforehand so its variables participate in expansion.
// It is intended to be called once during application startup.
func LoadConfig(envFilePath string, embedded EmbeddedConfig) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else {
		if err := godotenv.Load(); err != nil {
			logger.Debugf(".env file not found or could not be loaded: %v", err)
		}
	}

	cfg := NewConfig()

	if len(embedded) > 0 {
		expanded := []byte(os.ExpandEnv(string(embedded)))
		// Unmarshal over the defaults; keys absent from the YAML keep their
		// default values.
		if err := yaml.Unmarshal(expanded, cfg); err != nil {
			return nil, exception.New(moduleName, "failed to unmarshal embedded config", err, false)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration surface for values the pipeline cannot
// run with.
func (c *Config) Validate() error {
	p := c.FlightETL.Pipeline
	if p.Workers < 0 {
		return exception.Newf(moduleName, nil, "pipeline.workers must be >= 0, got %d", p.Workers)
	}
	if p.Batch.MaxRows <= 0 {
		return exception.Newf(moduleName, nil, "pipeline.batch.max_rows must be positive, got %d", p.Batch.MaxRows)
	}
	if p.Batch.MaxBytes <= 0 {
		return exception.Newf(moduleName, nil, "pipeline.batch.max_bytes must be positive, got %d", p.Batch.MaxBytes)
	}
	if p.Batch.PartitionBuckets <= 0 {
		return exception.Newf(moduleName, nil, "pipeline.batch.partition_buckets must be positive, got %d", p.Batch.PartitionBuckets)
	}
	if p.Retry.MaxAttempts < 1 {
		return exception.Newf(moduleName, nil, "pipeline.retry.max_attempts must be >= 1, got %d", p.Retry.MaxAttempts)
	}
	if p.Retry.Factor < 1.0 {
		return exception.Newf(moduleName, nil, "pipeline.retry.factor must be >= 1.0, got %v", p.Retry.Factor)
	}
	if p.Write.TimeoutMillis <= 0 {
		return exception.Newf(moduleName, nil, "pipeline.write.timeout_millis must be positive, got %d", p.Write.TimeoutMillis)
	}

	s := c.FlightETL.Source
	switch s.Kind {
	case SourceKindCSV, SourceKindAPI:
		if s.Locator == "" {
			return exception.Newf(moduleName, nil, "source.locator is required for kind %q", s.Kind)
		}
	case SourceKindGCS:
		if s.Bucket == "" || s.Object == "" {
			return exception.Newf(moduleName, nil, "source.bucket and source.object are required for kind %q", s.Kind)
		}
	default:
		return exception.Newf(moduleName, nil, "unknown source.kind %q", s.Kind)
	}

	switch c.FlightETL.Sink.Kind {
	case SinkKindPostgres, SinkKindMySQL, SinkKindSQLite, SinkKindMongo:
	default:
		return exception.Newf(moduleName, nil, "unknown sink.kind %q", c.FlightETL.Sink.Kind)
	}
	return nil
}
