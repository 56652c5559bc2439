// Package gcs implements a record sink that uploads each batch as one CSV
// object to Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/hash/sha256"
	"github.com/JakeFAU/listing-crawler/internal/sink"
)

// Name identifies this sink in logs and metrics.
const Name = "gcs"

// Config captures the destination bucket and object prefix.
type Config struct {
	Bucket string
	Prefix string
}

// Sink writes immutable CSV objects named <prefix>/<yyyy>/<mm>/<dd>/<uuid>.csv.
type Sink struct {
	client *storage.Client
	bucket string
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

// New creates a GCS-backed sink. The client is owned by the sink and closed
// by Close.
func New(client *storage.Client, cfg Config, logger *zap.Logger) (*Sink, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger,
		now:    time.Now,
	}, nil
}

// Write uploads records as a single CSV object with a header row. The object
// metadata carries the record count and the payload digest.
func (s *Sink) Write(ctx context.Context, records []*crawler.Record) (int, error) {
	records = sink.NonNil(records, Name, s.logger)
	if len(records) == 0 {
		return 0, nil
	}
	data, err := sink.EncodeCSV(records, true)
	if err != nil {
		return 0, err
	}
	name, err := s.objectName()
	if err != nil {
		return 0, err
	}

	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = "text/csv"
	writer.Metadata = map[string]string{
		"records": strconv.Itoa(len(records)),
		"sha256":  sha256.Hex(data),
	}
	if _, err := writer.Write(data); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return 0, fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return 0, fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return 0, fmt.Errorf("close writer: %w", err)
	}
	s.logger.Info("object uploaded", zap.String("uri", fmt.Sprintf("gs://%s/%s", s.bucket, name)), zap.Int("records", len(records)))
	return len(records), nil
}

func (s *Sink) objectName() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate object id: %w", err)
	}
	return path.Join(s.prefix, s.now().UTC().Format("2006/01/02"), id.String()+".csv"), nil
}

// Close releases the storage client.
func (s *Sink) Close(context.Context) error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close storage client: %w", err)
	}
	return nil
}
