package store

import (
	"context"
	"fmt"
)

// OutgoingRow is one locally-dirty row eligible for upload.
type OutgoingRow struct {
	ExtID         string
	Data          *string
	ChangeCounter int64
	// MirrorGuid is nil when the row has never been uploaded and needs a
	// freshly generated guid.
	MirrorGuid *string
}

// FetchOutgoing returns every local row with a non-zero change counter,
// joined against mirror for its guid (if any).
func (t *Tx) FetchOutgoing(ctx context.Context) ([]OutgoingRow, error) {
	const query = `
		SELECT l.ext_id, l.data, l.sync_change_counter, m.guid
		FROM local l
		LEFT JOIN mirror m ON m.ext_id = l.ext_id
		WHERE l.sync_change_counter > 0;`

	rows, err := t.tx.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying outgoing rows: %w", err)
	}
	defer rows.Close()

	var out []OutgoingRow
	for rows.Next() {
		var r OutgoingRow
		if err := rows.Scan(&r.ExtID, &r.Data, &r.ChangeCounter, &r.MirrorGuid); err != nil {
			return nil, fmt.Errorf("scanning outgoing row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating outgoing rows: %w", err)
	}
	return out, nil
}

// DecrementCounter subtracts snapshot (the change counter observed at emit
// time) from the row's current counter. This is the snapshot+delta update:
// any local writes that landed while the upload was in flight survive as a
// positive remainder, triggering a follow-up cycle.
func (t *Tx) DecrementCounter(ctx context.Context, extID string, snapshot int64) error {
	const query = `
		UPDATE local SET sync_change_counter = sync_change_counter - ?
		WHERE ext_id = ?;`
	if _, err := t.tx.ExecContext(ctx, query, snapshot, extID); err != nil {
		return fmt.Errorf("decrementing change counter for %q: %w", extID, err)
	}
	return nil
}

// PromoteStagingToMirror upserts every row currently in staging into
// mirror, stamped with serverModified. This promotes whatever the Incoming
// Pipeline decided to take or merge into the authoritative baseline.
func (t *Tx) PromoteStagingToMirror(ctx context.Context, serverModified float64) error {
	const query = `
		INSERT INTO mirror (guid, ext_id, data, server_modified)
		SELECT guid, ext_id, data, ? FROM staging
		ON CONFLICT(guid) DO UPDATE SET
			ext_id = excluded.ext_id,
			data = excluded.data,
			server_modified = excluded.server_modified;`
	if _, err := t.tx.ExecContext(ctx, query, serverModified); err != nil {
		return fmt.Errorf("promoting staging to mirror: %w", err)
	}
	return nil
}

// DeleteConfirmedTombstones deletes local rows whose data is NULL and whose
// change counter has reached zero: deletions the server has now confirmed.
func (t *Tx) DeleteConfirmedTombstones(ctx context.Context) error {
	const query = `DELETE FROM local WHERE data IS NULL AND sync_change_counter = 0;`
	if _, err := t.tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("deleting confirmed tombstones: %w", err)
	}
	return nil
}

// UpsertMirror writes (or replaces) a single mirror row for an uploaded
// item.
func (t *Tx) UpsertMirror(ctx context.Context, guid, extID string, data *string, serverModified float64) error {
	const query = `
		INSERT INTO mirror (guid, ext_id, data, server_modified) VALUES (?, ?, ?, ?)
		ON CONFLICT(guid) DO UPDATE SET
			ext_id = excluded.ext_id,
			data = excluded.data,
			server_modified = excluded.server_modified;`
	if _, err := t.tx.ExecContext(ctx, query, guid, extID, data, serverModified); err != nil {
		return fmt.Errorf("upserting mirror row for %q: %w", extID, err)
	}
	return nil
}
