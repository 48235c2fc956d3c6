package extract

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/tailfin/flightetl/pkg/etl/core/port"
	"github.com/tailfin/flightetl/pkg/etl/support/exception"
)

const moduleGCSSource = "gcs_source"

// GCSSource reads a header-mapped delimited object from a Google Cloud
// Storage bucket. Each cursor opens its own object reader, so lanes stream
// independently.
type GCSSource struct {
	bucket      string
	object      string
	openTimeout time.Duration
	opts        []option.ClientOption

	clientOnce sync.Once
	client     *storage.Client
	clientErr  error
}

// NewGCSSource creates a GCSSource for gs://bucket/object. Client options
// (credentials, endpoint overrides) are passed through to the storage client.
func NewGCSSource(bucket, object string, openTimeout time.Duration, opts ...option.ClientOption) *GCSSource {
	if openTimeout <= 0 {
		openTimeout = 10 * time.Second
	}
	return &GCSSource{
		bucket:      bucket,
		object:      object,
		openTimeout: openTimeout,
		opts:        opts,
	}
}

// Name returns the gs:// locator.
func (s *GCSSource) Name() string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, s.object)
}

// NewCursor opens the object and positions a cursor after the header row.
// The open timeout bounds reader creation only; the download itself stays
// tied to the caller's context and is released by the cursor's Close.
func (s *GCSSource) NewCursor(ctx context.Context) (port.Cursor, error) {
	client, err := s.storageClient(ctx)
	if err != nil {
		return nil, exception.New(moduleGCSSource, "failed to create storage client",
			errors.Join(exception.ErrSourceUnavailable, err), false)
	}

	readCtx, cancel := context.WithCancel(ctx)
	openTimer := time.AfterFunc(s.openTimeout, cancel)
	reader, err := client.Bucket(s.bucket).Object(s.object).NewReader(readCtx)
	openTimer.Stop()
	if err != nil {
		cancel()
		return nil, exception.New(moduleGCSSource, fmt.Sprintf("cannot open %s", s.Name()),
			errors.Join(exception.ErrSourceUnavailable, err), false)
	}

	obj := &gcsObject{reader: reader, cancel: cancel}
	cursor, err := newCSVCursor(reader, obj)
	if err != nil {
		obj.Close()
		return nil, exception.New(moduleGCSSource, fmt.Sprintf("cannot read header of %s", s.Name()),
			errors.Join(exception.ErrSourceUnavailable, err), false)
	}
	return cursor, nil
}

// storageClient creates the shared client on first use. Cursors are opened
// concurrently, one per lane, and all share the single client.
func (s *GCSSource) storageClient(ctx context.Context) (*storage.Client, error) {
	s.clientOnce.Do(func() {
		s.client, s.clientErr = storage.NewClient(ctx, s.opts...)
	})
	return s.client, s.clientErr
}

// Close releases the shared storage client.
func (s *GCSSource) Close() error {
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

var _ port.Source = (*GCSSource)(nil)

// gcsObject couples an object reader with the context that keeps its
// download alive; Close releases both.
type gcsObject struct {
	reader *storage.Reader
	cancel context.CancelFunc
}

func (o *gcsObject) Close() error {
	err := o.reader.Close()
	o.cancel()
	return err
}
