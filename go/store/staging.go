package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/extsync/core/go/signal"
)

// MaxSQLiteVariableNumber is SQLite's compiled-in default for
// SQLITE_MAX_VARIABLE_NUMBER. Batches are chunked so that
// rows_per_chunk * bindParamsPerRow never exceeds it.
const MaxSQLiteVariableNumber = 999

const stageBindParamsPerRow = 3

// StagingRow is one row to insert into staging. Data is nil for a deletion
// delivered by the server.
type StagingRow struct {
	Guid  string
	ExtID string
	Data  *string
}

// Stage inserts-or-replaces rows into staging by guid, chunked to respect
// the driver's bind-variable limit. The signal is checked once per row,
// before binding, so a cancellation never leaves a statement mid-execution.
func (t *Tx) Stage(ctx context.Context, rows []StagingRow, sig signal.Signal) error {
	const rowsPerChunk = MaxSQLiteVariableNumber / stageBindParamsPerRow

	for len(rows) > 0 {
		var n = len(rows)
		if n > rowsPerChunk {
			n = rowsPerChunk
		}
		var chunk = rows[:n]
		rows = rows[n:]

		if err := t.stageChunk(ctx, chunk, sig); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tx) stageChunk(ctx context.Context, chunk []StagingRow, sig signal.Signal) error {
	var placeholders = make([]string, 0, len(chunk))
	var args = make([]interface{}, 0, len(chunk)*stageBindParamsPerRow)

	for _, row := range chunk {
		if err := sig.Check(); err != nil {
			return err
		}
		placeholders = append(placeholders, "(?, ?, ?)")
		args = append(args, row.Guid, row.ExtID, row.Data)
	}

	var query = fmt.Sprintf(
		"INSERT OR REPLACE INTO staging (guid, ext_id, data) VALUES %s;",
		strings.Join(placeholders, ", "),
	)
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("staging %d rows: %w", len(chunk), err)
	}
	return nil
}

// ClearStaging deletes every row from staging. Called at the start of each
// incoming reconciliation, and again once a reconciliation cycle's outgoing
// upload has been confirmed.
func (t *Tx) ClearStaging(ctx context.Context) error {
	if _, err := t.tx.ExecContext(ctx, "DELETE FROM staging;"); err != nil {
		return fmt.Errorf("clearing staging: %w", err)
	}
	return nil
}
