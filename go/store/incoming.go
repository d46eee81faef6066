package store

import (
	"context"
	"fmt"
)

// IncomingJoinRow is one row of the staging ⋈ mirror ⋈ local join that
// drives classification in the reconcile package. MirrorExists/LocalExists
// reflect row presence; *Data is nil when the row is absent or its data
// column is NULL.
type IncomingJoinRow struct {
	Guid  string
	ExtID string

	IncomingData *string

	MirrorExists bool
	MirrorData   *string

	LocalExists bool
	LocalData   *string
}

// FetchIncomingJoin joins staging (by guid) against mirror and (by ext_id)
// against local, returning one row per staged item. It must be called
// after Stage within the same transaction.
func (t *Tx) FetchIncomingJoin(ctx context.Context) ([]IncomingJoinRow, error) {
	const query = `
		SELECT
			s.guid,
			s.ext_id,
			s.data,
			m.guid IS NOT NULL,
			m.data,
			l.ext_id IS NOT NULL,
			l.data
		FROM staging s
		LEFT JOIN mirror m ON m.guid = s.guid
		LEFT JOIN local l ON l.ext_id = s.ext_id;`

	rows, err := t.tx.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying incoming join: %w", err)
	}
	defer rows.Close()

	var out []IncomingJoinRow
	for rows.Next() {
		var r IncomingJoinRow
		if err := rows.Scan(
			&r.Guid, &r.ExtID, &r.IncomingData,
			&r.MirrorExists, &r.MirrorData,
			&r.LocalExists, &r.LocalData,
		); err != nil {
			return nil, fmt.Errorf("scanning incoming join row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating incoming join: %w", err)
	}
	return out, nil
}

// DeleteLocal deletes the local row for extID, if any. Idempotent.
func (t *Tx) DeleteLocal(ctx context.Context, extID string) error {
	if _, err := t.tx.ExecContext(ctx, "DELETE FROM local WHERE ext_id = ?;", extID); err != nil {
		return fmt.Errorf("deleting local row %q: %w", extID, err)
	}
	return nil
}

// UpsertLocalTakeRemote sets local's data to data and clears its change
// counter, inserting the row if it doesn't already exist (the IncomingOnly
// and NotLocal states both reach TakeRemote with no pre-existing local
// row).
func (t *Tx) UpsertLocalTakeRemote(ctx context.Context, extID string, data *string) error {
	const query = `
		INSERT INTO local (ext_id, data, sync_change_counter) VALUES (?, ?, 0)
		ON CONFLICT(ext_id) DO UPDATE SET data = excluded.data, sync_change_counter = 0;`
	if _, err := t.tx.ExecContext(ctx, query, extID, data); err != nil {
		return fmt.Errorf("taking remote for %q: %w", extID, err)
	}
	return nil
}

// SetLocalMerge sets local's data to the merged value and increments its
// change counter, since the merged value must be uploaded.
func (t *Tx) SetLocalMerge(ctx context.Context, extID string, data *string) error {
	const query = `
		UPDATE local SET data = ?, sync_change_counter = sync_change_counter + 1
		WHERE ext_id = ?;`
	if _, err := t.tx.ExecContext(ctx, query, data, extID); err != nil {
		return fmt.Errorf("merging %q: %w", extID, err)
	}
	return nil
}

// SetLocalSame clears local's change counter without touching its data:
// incoming and local already agree.
func (t *Tx) SetLocalSame(ctx context.Context, extID string) error {
	const query = `UPDATE local SET sync_change_counter = 0 WHERE ext_id = ?;`
	if _, err := t.tx.ExecContext(ctx, query, extID); err != nil {
		return fmt.Errorf("clearing change counter for %q: %w", extID, err)
	}
	return nil
}
