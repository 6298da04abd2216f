// Package store loads projected health records into PostgreSQL.
//
// Rows go through the COPY protocol in batches inside a single transaction,
// so an import either lands completely or not at all. Every row carries the
// run ID of the conversion that produced it.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/healthexport/internal/config"
	"github.com/JonMunkholm/healthexport/internal/logging"
	"github.com/JonMunkholm/healthexport/internal/schema"
)

// RunIDColumn is the leading column of the destination table.
const RunIDColumn = "run_id"

// DefaultBatchSize is used when the configured batch size is not positive.
const DefaultBatchSize = 5000

// DB is the subset of *pgxpool.Pool the store needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store writes records to one table.
type Store struct {
	db        DB
	table     pgx.Identifier
	batchSize int
}

// New creates a Store writing to table.
func New(db DB, table string, batchSize int) *Store {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Store{
		db:        db,
		table:     pgx.Identifier{table},
		batchSize: batchSize,
	}
}

// Connect opens and pings a pool configured from cfg.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Columns returns the destination column names in COPY order.
func Columns() []string {
	return append([]string{RunIDColumn}, schema.Columns()...)
}

// CreateTableSQL returns the DDL for the destination table.
func (s *Store) CreateTableSQL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", s.table.Sanitize())
	fmt.Fprintf(&b, "\t%s uuid NOT NULL", RunIDColumn)
	for _, spec := range schema.HealthRecordFieldSpecs {
		b.WriteString(",\n\t")
		b.WriteString(pgx.Identifier{spec.Name}.Sanitize())
		b.WriteString(" text")
		if spec.Required {
			b.WriteString(" NOT NULL")
		}
	}
	b.WriteString("\n)")
	return b.String()
}

// EnsureTable creates the destination table if it does not exist.
func (s *Store) EnsureTable(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, s.CreateTableSQL()); err != nil {
		return fmt.Errorf("create table %s: %w", s.table.Sanitize(), err)
	}
	return nil
}

// Import copies records under runID and returns the number of rows copied.
// The context is checked between batches.
func (s *Store) Import(ctx context.Context, runID uuid.UUID, records []schema.Record) (int64, error) {
	log := logging.WithFields(ctx, "table", s.table.Sanitize())
	start := time.Now()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // No-op if already committed

	var copied int64
	columns := Columns()
	for offset := 0; offset < len(records); offset += s.batchSize {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("import cancelled after %d rows: %w", copied, err)
		}

		end := min(offset+s.batchSize, len(records))
		n, err := tx.CopyFrom(ctx, s.table, columns, newRecordSource(runID, records[offset:end]))
		if err != nil {
			return 0, fmt.Errorf("copy rows %d-%d: %w", offset, end-1, err)
		}
		copied += n
		log.Debug("copied batch", "rows", n, "total", copied)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}

	log.Info("import complete",
		"rows", copied,
		"elapsed", time.Since(start),
	)
	return copied, nil
}

// recordSource adapts a batch of records to pgx.CopyFromSource.
type recordSource struct {
	runID   pgtype.UUID
	records []schema.Record
	idx     int
}

func newRecordSource(runID uuid.UUID, records []schema.Record) *recordSource {
	return &recordSource{
		runID:   pgtype.UUID{Bytes: runID, Valid: true},
		records: records,
		idx:     -1,
	}
}

func (s *recordSource) Next() bool {
	s.idx++
	return s.idx < len(s.records)
}

func (s *recordSource) Values() ([]any, error) {
	r := s.records[s.idx]
	return []any{
		s.runID,
		r.DataType,
		r.Unit,
		r.Value,
		r.SourceName,
		r.SourceVersion,
		r.Device,
		r.CreationDate,
		r.StartDate,
		r.EndDate,
	}, nil
}

func (s *recordSource) Err() error {
	return nil
}

var _ pgx.CopyFromSource = (*recordSource)(nil)
