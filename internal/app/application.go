// Package app assembles the pipeline from configuration and runs it inside
// an fx container. The container owns collaborator lifecycles: sinks are
// closed in reverse order after the run finishes, even on abort.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"

	"github.com/tailfin/flightetl/pkg/etl/core/config"
	"github.com/tailfin/flightetl/pkg/etl/core/model"
	"github.com/tailfin/flightetl/pkg/etl/core/port"
	"github.com/tailfin/flightetl/pkg/etl/engine"
	"github.com/tailfin/flightetl/pkg/etl/extract"
	"github.com/tailfin/flightetl/pkg/etl/metrics"
	"github.com/tailfin/flightetl/pkg/etl/sink/deadletter"
	"github.com/tailfin/flightetl/pkg/etl/sink/gormsink"
	"github.com/tailfin/flightetl/pkg/etl/sink/mongosink"
	"github.com/tailfin/flightetl/pkg/etl/support/exception"
	"github.com/tailfin/flightetl/pkg/etl/support/logger"
)

// RunApplication loads configuration and executes one pipeline run using
// uber-fx. It blocks until the run completes or a shutdown signal arrives via
// appCtx.
func RunApplication(appCtx context.Context, envFilePath string, embeddedConfig config.EmbeddedConfig) {
	cfg, err := config.LoadConfig(envFilePath, embeddedConfig)
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	logger.SetLogLevel(cfg.FlightETL.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.FlightETL.System.Logging.Level)

	app := fx.New(
		fx.Supply(
			cfg,
			fx.Annotate(
				appCtx,
				fx.As(new(context.Context)),
				fx.ResultTags(`name:"appCtx"`),
			),
		),
		fx.Provide(
			NewMetricRecorder,
			NewSource,
			NewSink,
			NewRejectionSink,
			NewDeadLetterSink,
			engine.NewCoordinator,
		),
		fx.Invoke(fx.Annotate(startPipeline, fx.ParamTags(
			"",              // lc fx.Lifecycle
			"",              // shutdowner fx.Shutdowner
			"",              // coordinator *engine.Coordinator
			`name:"appCtx"`, // appCtx context.Context
		))),
		fx.NopLogger,
	)

	app.Run()

	if err := app.Err(); err != nil {
		logger.Fatalf("Application run failed: %v", err)
	}
}

// NewMetricRecorder selects the Prometheus recorder or the noop recorder
// according to configuration.
func NewMetricRecorder(cfg *config.Config) metrics.MetricRecorder {
	if cfg.FlightETL.Metrics.Enabled {
		return metrics.NewPrometheusRecorder()
	}
	return metrics.NewNoopRecorder()
}

// NewSource builds the configured source adapter. Sources holding external
// clients are closed on shutdown.
func NewSource(lc fx.Lifecycle, cfg *config.Config) (port.Source, error) {
	src := cfg.FlightETL.Source
	timeout := time.Duration(src.RequestTimeoutMillis) * time.Millisecond

	var source port.Source
	switch src.Kind {
	case config.SourceKindCSV:
		source = extract.NewCSVSource(src.Locator)
	case config.SourceKindAPI:
		source = extract.NewAPISource(src.Locator, timeout)
	case config.SourceKindGCS:
		source = extract.NewGCSSource(src.Bucket, src.Object, timeout)
	default:
		return nil, fmt.Errorf("unsupported source kind: %s", src.Kind)
	}

	if closer, ok := source.(interface{ Close() error }); ok {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return closer.Close()
			},
		})
	}
	return source, nil
}

// NewSink builds the configured storage sink. Relational kinds require their
// dialect subpackage to be linked in; main does that with blank imports.
func NewSink(lc fx.Lifecycle, cfg *config.Config) (port.Sink, error) {
	var (
		sink port.Sink
		err  error
	)
	switch cfg.FlightETL.Sink.Kind {
	case config.SinkKindPostgres, config.SinkKindMySQL, config.SinkKindSQLite:
		sink, err = gormsink.NewSink(cfg.FlightETL.Sink)
	case config.SinkKindMongo:
		sink, err = mongosink.NewSink(context.Background(), cfg.FlightETL.Sink)
	default:
		err = fmt.Errorf("unsupported sink kind: %s", cfg.FlightETL.Sink.Kind)
	}
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return sink.Close(ctx)
		},
	})
	return sink, nil
}

// NewRejectionSink builds the rejection retention chain: the JSONL operator
// log, plus the Parquet archive when a directory is configured.
func NewRejectionSink(lc fx.Lifecycle, cfg *config.Config) port.RejectionSink {
	rej := cfg.FlightETL.Rejection
	var sink port.RejectionSink = deadletter.NewJSONLRejectionSink(rej.Path)
	if rej.ParquetDir != "" {
		sink = deadletter.NewFanOutRejectionSink(sink, deadletter.NewParquetRejectionArchive(rej.ParquetDir))
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return sink.Close(ctx)
		},
	})
	return sink
}

// NewDeadLetterSink builds the JSONL dead-letter log for failed batches.
func NewDeadLetterSink(lc fx.Lifecycle, cfg *config.Config) port.DeadLetterSink {
	sink := deadletter.NewJSONLDeadLetterSink(cfg.FlightETL.Rejection.DeadLetterPath)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return sink.Close(ctx)
		},
	})
	return sink
}

// startPipeline launches the run on startup and requests shutdown when it
// finishes. The exit code reflects the run outcome so schedulers can alert
// on anything but a clean SUCCESS.
func startPipeline(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	coordinator *engine.Coordinator,
	appCtx context.Context,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				defer func() {
					if r := recover(); r != nil {
						logger.Errorf("Panic recovered in pipeline execution: %v", r)
						_ = shutdowner.Shutdown(fx.ExitCode(1))
					}
				}()

				report, err := coordinator.Run(appCtx)
				if err != nil && !(exception.IsCancellation(err) && appCtx.Err() != nil) {
					logger.Errorf("Pipeline run failed: %v", err)
				}
				_ = shutdowner.Shutdown(fx.ExitCode(exitCodeFor(report)))
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Infof("Application stopping.")
			return nil
		},
	})
}

func exitCodeFor(report *model.RunReport) int {
	switch report.Status {
	case model.RunStatusSuccess:
		return 0
	case model.RunStatusPartial:
		return 2
	default:
		return 1
	}
}
