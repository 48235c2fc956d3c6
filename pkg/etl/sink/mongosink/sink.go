// Package mongosink implements the storage sink on MongoDB. Batches are
// delivered as bulk upserts keyed by (flight_id, scheduled_departure_date),
// which gives the same at-least-once redelivery safety as the relational
// sink.
package mongosink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/tailfin/flightetl/pkg/etl/core/config"
	"github.com/tailfin/flightetl/pkg/etl/core/model"
	"github.com/tailfin/flightetl/pkg/etl/core/port"
	"github.com/tailfin/flightetl/pkg/etl/support/exception"
	"github.com/tailfin/flightetl/pkg/etl/support/logger"
)

const moduleSink = "mongosink"

const defaultDatabase = "flightetl"

// Options is decoded from the sink's free-form options map.
type Options struct {
	Database             string `mapstructure:"database"`
	ConnectTimeoutMillis int    `mapstructure:"connect_timeout_millis"`
}

// Sink writes normalized flight rows to a MongoDB collection.
type Sink struct {
	client   *mongo.Client
	database string
}

var _ port.Sink = (*Sink)(nil)

// NewSink connects to MongoDB and verifies the connection with a ping.
func NewSink(ctx context.Context, cfg config.SinkConfig) (*Sink, error) {
	opts := Options{Database: defaultDatabase, ConnectTimeoutMillis: 10000}
	if len(cfg.Options) > 0 {
		if err := mapstructure.Decode(cfg.Options, &opts); err != nil {
			return nil, exception.New(moduleSink, "failed to decode sink options", err, false)
		}
	}

	connectCtx, cancel := context.WithTimeout(ctx, time.Duration(opts.ConnectTimeoutMillis)*time.Millisecond)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.DSN))
	if err != nil {
		return nil, exception.New(moduleSink, "failed to create MongoDB client",
			errors.Join(exception.ErrStorageUnavailable, err), true)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, exception.New(moduleSink, "MongoDB ping failed",
			errors.Join(exception.ErrStorageUnavailable, err), true)
	}

	logger.Infof("Opened mongo sink connection (database %s).", opts.Database)
	return &Sink{client: client, database: opts.Database}, nil
}

// NewSinkWithClient wraps an existing client. Used by tests.
func NewSinkWithClient(client *mongo.Client, database string) *Sink {
	return &Sink{client: client, database: database}
}

// Name identifies the sink in logs, metrics, and dead-letter entries.
func (s *Sink) Name() string {
	return "mongo"
}

// Setup creates the unique natural-key index backing idempotent upserts.
func (s *Sink) Setup(ctx context.Context) error {
	coll := s.client.Database(s.database).Collection(model.NormalizedFlightRecord{}.TableName())
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "flight_id", Value: 1},
			{Key: "scheduled_departure_date", Value: 1},
		},
		Options: options.Index().SetUnique(true).SetName("flights_natural_key"),
	})
	if err != nil {
		return exception.New(moduleSink, "failed to create natural key index",
			errors.Join(exception.ErrStorageUnavailable, err), true)
	}
	return nil
}

// Write bulk-upserts every row of the batch. Each document is fully replaced
// on conflict so the most recently ingested extraction wins.
func (s *Sink) Write(ctx context.Context, batch *model.Batch) error {
	writes := make([]mongo.WriteModel, 0, len(batch.Records))
	for i := range batch.Records {
		rec := &batch.Records[i]
		filter := bson.M{
			"flight_id":                rec.FlightID,
			"scheduled_departure_date": rec.ScheduledDepartureDate,
		}
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(filter).
			SetUpdate(bson.M{"$set": rec}).
			SetUpsert(true))
	}

	coll := s.client.Database(s.database).Collection(batch.TargetTable)
	res, err := coll.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return s.classify(err, batch)
	}
	logger.Debugf("Mongo BulkWrite (%s): matched=%d modified=%d upserted=%d",
		batch.Ref(), res.MatchedCount, res.ModifiedCount, res.UpsertedCount)
	return nil
}

// Close disconnects the client.
func (s *Sink) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// classify maps a driver error onto the transient/permanent taxonomy.
// Network and timeout errors are worth retrying; write errors (index
// violations, invalid documents) will fail identically on redelivery.
func (s *Sink) classify(err error, batch *model.Batch) error {
	msg := fmt.Sprintf("batch write failed (%s)", batch.Ref())

	var bulkErr mongo.BulkWriteException
	if errors.As(err, &bulkErr) && len(bulkErr.WriteErrors) > 0 {
		return exception.New(moduleSink, msg, errors.Join(exception.ErrMalformedWrite, err), false)
	}
	if mongo.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return exception.New(moduleSink, msg, errors.Join(exception.ErrWriteTimeout, err), true)
	}
	if mongo.IsNetworkError(err) {
		return exception.New(moduleSink, msg, errors.Join(exception.ErrStorageUnavailable, err), true)
	}
	return exception.New(moduleSink, msg, errors.Join(exception.ErrStorageUnavailable, err), true)
}
