// Package db provides PostgreSQL access for the load stage.
package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/rmacedo/reportflow/internal/config"
	"github.com/rmacedo/reportflow/internal/transform"
)

// Handler wraps a PostgreSQL connection pool for one load. Acquire with
// Connect, release with Close; the load stage defers Close so the pool
// never leaks across retries.
type Handler struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Connect establishes and verifies a connection pool.
func Connect(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (*Handler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := pgxpool.New(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Handler{pool: pool, logger: logger}, nil
}

// Close releases the pool. Safe on a nil handler and safe to call twice.
func (h *Handler) Close() {
	if h != nil && h.pool != nil {
		h.pool.Close()
	}
}

// TableExists reports whether table is present in the public schema.
func (h *Handler) TableExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	err := h.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = $1
		)`, table,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking table %s: %w", table, err)
	}
	return exists, nil
}

// CreateTableFromDataset creates table with columns inferred from the
// dataset's column kinds.
func (h *Handler) CreateTableFromDataset(ctx context.Context, ds *transform.Dataset, table string) error {
	stmt := createTableSQL(ds, table)
	if _, err := h.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("creating table %s: %w", table, err)
	}
	h.logger.Info("table created from dataset schema",
		zap.String("table", table),
		zap.Int("columns", len(ds.Columns)))
	return nil
}

// BulkInsert loads every dataset row into table using the COPY protocol.
// Returns the number of rows written.
func (h *Handler) BulkInsert(ctx context.Context, ds *transform.Dataset, table string) (int64, error) {
	names := ds.ColumnNames()
	copied, err := h.pool.CopyFrom(ctx,
		pgx.Identifier{table},
		names,
		pgx.CopyFromRows(ds.Rows),
	)
	if err != nil {
		return 0, fmt.Errorf("bulk insert into %s: %w", table, err)
	}
	if copied != int64(len(ds.Rows)) {
		return copied, fmt.Errorf("bulk insert into %s: wrote %d of %d rows", table, copied, len(ds.Rows))
	}
	return copied, nil
}

// createTableSQL renders the CREATE TABLE statement for a dataset.
func createTableSQL(ds *transform.Dataset, table string) string {
	cols := make([]string, len(ds.Columns))
	for i, c := range ds.Columns {
		cols[i] = fmt.Sprintf("%s %s", pgx.Identifier{c.Name}.Sanitize(), sqlType(c.Kind))
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)",
		pgx.Identifier{table}.Sanitize(), strings.Join(cols, ", "))
}

func sqlType(kind transform.ColumnKind) string {
	switch kind {
	case transform.KindTimestamp:
		return "TIMESTAMP"
	case transform.KindDate:
		return "DATE"
	default:
		return "TEXT"
	}
}
