// Package local implements an append-only CSV file sink.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/sink"
)

// Name identifies this sink in logs and metrics.
const Name = "csv"

// Config captures the output file location.
type Config struct {
	Path string `mapstructure:"path"`
}

// CSVSink appends one row per record to a CSV file.
type CSVSink struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

// New creates the parent directory of cfg.Path when needed.
func New(cfg Config, logger *zap.Logger) (*CSVSink, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("csv path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}
	if info, err := os.Stat(cfg.Path); err == nil && info.IsDir() {
		return nil, fmt.Errorf("csv path %q is a directory", cfg.Path)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CSVSink{path: cfg.Path, logger: logger}, nil
}

// Write appends records. The header row is written only while the file is
// empty.
func (s *CSVSink) Write(_ context.Context, records []*crawler.Record) (int, error) {
	records = sink.NonNil(records, Name, s.logger)
	if len(records) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, fmt.Errorf("open csv: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			s.logger.Warn("close csv failed", zap.String("path", s.path), zap.Error(cerr))
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat csv: %w", err)
	}
	data, err := sink.EncodeCSV(records, info.Size() == 0)
	if err != nil {
		return 0, err
	}
	if _, err := f.Write(data); err != nil {
		return 0, fmt.Errorf("append csv: %w", err)
	}
	return len(records), nil
}

// Close is a no-op; the file is reopened per write.
func (s *CSVSink) Close(context.Context) error {
	return nil
}
