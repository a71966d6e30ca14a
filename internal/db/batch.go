package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

// CopyBuffer accumulates rows destined for one table and flushes them with
// COPY inside the transaction it was built for. Archive ingestion inserts
// hundreds of thousands of rows; row-at-a-time INSERTs were an order of
// magnitude slower in practice.
type CopyBuffer struct {
	tx        pgx.Tx
	table     string
	columns   []string
	rows      [][]any
	flushSize int
	logger    *slog.Logger
	copied    int64
}

// NewCopyBuffer returns a buffer that flushes automatically every flushSize
// rows. Flush must still be called once at the end to drain the remainder.
func NewCopyBuffer(tx pgx.Tx, table string, columns []string, flushSize int, logger *slog.Logger) *CopyBuffer {
	return &CopyBuffer{
		tx:        tx,
		table:     table,
		columns:   columns,
		flushSize: flushSize,
		logger:    logger,
	}
}

// Add queues one row, flushing if the buffer is full.
func (b *CopyBuffer) Add(ctx context.Context, values ...any) error {
	if len(values) != len(b.columns) {
		return fmt.Errorf("copy %s: got %d values for %d columns", b.table, len(values), len(b.columns))
	}
	b.rows = append(b.rows, values)
	if len(b.rows) >= b.flushSize {
		return b.Flush(ctx)
	}
	return nil
}

// Flush drains the buffered rows with a single COPY.
func (b *CopyBuffer) Flush(ctx context.Context) error {
	if len(b.rows) == 0 {
		return nil
	}

	start := time.Now()
	n, err := b.tx.CopyFrom(ctx, pgx.Identifier{b.table}, b.columns, pgx.CopyFromRows(b.rows))
	if err != nil {
		return fmt.Errorf("copy %s: %w", b.table, err)
	}
	b.copied += n
	b.rows = b.rows[:0]

	b.logger.Debug("copy_flush",
		"table", b.table,
		"rows", n,
		"total", b.copied,
		"elapsed", time.Since(start).String(),
	)
	return nil
}

// Copied reports the number of rows written so far.
func (b *CopyBuffer) Copied() int64 { return b.copied }
