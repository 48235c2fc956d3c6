package gormsink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tailfin/flightetl/pkg/etl/core/config"
	"github.com/tailfin/flightetl/pkg/etl/core/model"
	"github.com/tailfin/flightetl/pkg/etl/core/port"
	"github.com/tailfin/flightetl/pkg/etl/support/exception"
	"github.com/tailfin/flightetl/pkg/etl/support/logger"
)

const moduleSink = "gormsink"

// PoolOptions tunes the underlying sql.DB connection pool. Decoded from the
// sink's free-form options map.
type PoolOptions struct {
	MaxOpenConns           int `mapstructure:"max_open_conns"`
	MaxIdleConns           int `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeMinutes int `mapstructure:"conn_max_lifetime_minutes"`
}

// Sink writes normalized flight rows to a relational database. Write is an
// idempotent upsert on (flight_id, scheduled_departure_date): redelivery of a
// batch rewrites the same rows, so at-least-once delivery is safe. Safe for
// concurrent use; GORM serializes over the shared pool.
type Sink struct {
	kind config.SinkKind
	db   *gorm.DB
}

var _ port.Sink = (*Sink)(nil)

// NewSink opens a connection for the configured sink kind. The kind's
// dialector must have been registered by importing its subpackage.
func NewSink(cfg config.SinkConfig) (*Sink, error) {
	factory, err := GetDialectorFactory(cfg.Kind)
	if err != nil {
		return nil, exception.New(moduleSink, "unsupported sink kind", err, false)
	}
	dialector, err := factory(cfg.DSN)
	if err != nil {
		return nil, exception.New(moduleSink, "failed to build dialector", err, false)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, exception.New(moduleSink, "failed to open database connection",
			errors.Join(exception.ErrStorageUnavailable, err), true)
	}

	var pool PoolOptions
	if len(cfg.Options) > 0 {
		if err := mapstructure.Decode(cfg.Options, &pool); err != nil {
			return nil, exception.New(moduleSink, "failed to decode sink options", err, false)
		}
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, exception.New(moduleSink, "failed to access underlying sql.DB", err, false)
	}
	if pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(pool.ConnMaxLifetimeMinutes) * time.Minute)
	}

	logger.Infof("Opened %s sink connection.", cfg.Kind)
	return &Sink{kind: cfg.Kind, db: db}, nil
}

// NewSinkWithDB wraps an existing GORM handle. Used by tests.
func NewSinkWithDB(kind config.SinkKind, db *gorm.DB) *Sink {
	return &Sink{kind: kind, db: db}
}

// Name identifies the sink in logs, metrics, and dead-letter entries.
func (s *Sink) Name() string {
	return string(s.kind)
}

// Setup applies the flights table migrations before the first write.
func (s *Sink) Setup(ctx context.Context) error {
	if err := MigrateUp(ctx, s.kind, s.db); err != nil {
		return exception.New(moduleSink, "schema migration failed", err, false)
	}
	return nil
}

// Write upserts every row of the batch in one statement. All batch rows
// target the same table; conflicting rows are fully overwritten so the most
// recently ingested extraction wins.
func (s *Sink) Write(ctx context.Context, batch *model.Batch) error {
	err := s.db.WithContext(ctx).
		Table(batch.TargetTable).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "flight_id"},
				{Name: "scheduled_departure_date"},
			},
			UpdateAll: true,
		}).
		Create(batch.Records).Error
	if err != nil {
		return s.classify(err, batch)
	}
	return nil
}

// Close releases the connection pool.
func (s *Sink) Close(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// classify maps a driver error onto the transient/permanent taxonomy so the
// retry policy can act on it. Constraint and syntax errors will fail the same
// way on redelivery and are permanent; connectivity and timeout errors are
// transient.
func (s *Sink) classify(err error, batch *model.Batch) error {
	msg := fmt.Sprintf("batch write failed (%s)", batch.Ref())
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return exception.New(moduleSink, msg, errors.Join(exception.ErrWriteTimeout, err), true)
	case isPermanentSQLError(err):
		return exception.New(moduleSink, msg, errors.Join(exception.ErrMalformedWrite, err), false)
	default:
		return exception.New(moduleSink, msg, errors.Join(exception.ErrStorageUnavailable, err), true)
	}
}

func isPermanentSQLError(err error) bool {
	if errors.Is(err, gorm.ErrInvalidData) || errors.Is(err, gorm.ErrInvalidValue) {
		return true
	}
	text := strings.ToLower(err.Error())
	for _, marker := range []string{"syntax", "constraint", "violates", "duplicate key", "invalid input", "data too long", "no such table", "undefined column"} {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
