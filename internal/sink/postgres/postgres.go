// Package postgres implements an append-only Postgres record sink.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/sink"
)

// Name identifies this sink in logs and metrics.
const Name = "postgres"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Sink inserts one row per record.
type Sink struct {
	pool   execCloser
	table  string
	logger *zap.Logger
}

// New connects a pool for cfg.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, errors.New("sink.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewWithPool(pool, cfg.Table, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a sink from an existing pool.
func NewWithPool(pool execCloser, table string, logger *zap.Logger) (*Sink, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = "businesses"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{pool: pool, table: table, logger: logger}, nil
}

// EnsureTable creates the target table when it does not exist.
func (s *Sink) EnsureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	source_url TEXT NOT NULL,
	name TEXT,
	street TEXT,
	city TEXT,
	state TEXT,
	zip_code TEXT,
	phone TEXT,
	email TEXT,
	website TEXT,
	categories TEXT[],
	written_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Write inserts records in order and stops at the first failed insert.
func (s *Sink) Write(ctx context.Context, records []*crawler.Record) (int, error) {
	records = sink.NonNil(records, Name, s.logger)
	query := fmt.Sprintf(`
INSERT INTO %s (
	source_url,
	name,
	street,
	city,
	state,
	zip_code,
	phone,
	email,
	website,
	categories
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)`, s.table)

	for i, rec := range records {
		args := []any{
			rec.SourceURL,
			rec.Name,
			rec.Street,
			rec.City,
			rec.State,
			rec.ZipCode,
			rec.Phone,
			rec.Email,
			rec.Website,
			rec.Categories,
		}
		if _, err := s.pool.Exec(ctx, query, args...); err != nil {
			return i, fmt.Errorf("insert record %s: %w", rec.SourceURL, err)
		}
	}
	return len(records), nil
}

// Close releases the underlying pool resources.
func (s *Sink) Close(context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
