package reconcile

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/extsync/core/go/store"
	"github.com/minio/highwayhash"
	"github.com/sirupsen/logrus"
)

// highwayhashKey is a fixed key for the diagnostic content hash logged
// alongside each outgoing payload. It has no security role: the hash only
// exists so two log lines can be compared to tell whether a payload's
// content changed between sync cycles without printing the payload itself.
var highwayhashKey = make([]byte, 32)

// GetOutgoing returns every locally-dirty row ready for upload, assigning a
// fresh guid to any row that has never been uploaded before (MirrorGuid
// nil). It does not mutate anything; the returned OutgoingInfo must be
// passed back to RecordUploaded once the caller's transport confirms the
// upload succeeded.
func GetOutgoing(ctx context.Context, db *store.Store, signal Signal) ([]OutgoingInfo, error) {
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: begin outgoing tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.FetchOutgoing(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: fetch outgoing: %w", err)
	}

	var out = make([]OutgoingInfo, 0, len(rows))
	for _, r := range rows {
		if err := signal.Check(); err != nil {
			return nil, err
		}

		var guid string
		if r.MirrorGuid != nil {
			guid = *r.MirrorGuid
		} else {
			guid = NewGUID()
		}

		var raw *json.RawMessage
		if r.Data != nil {
			var bytes = json.RawMessage(*r.Data)
			raw = &bytes
			logrus.WithFields(logrus.Fields{
				"ext_id":       r.ExtID,
				"content_hash": contentHash(*r.Data),
			}).Debug("reconcile: outgoing payload content hash")
		}

		out = append(out, OutgoingInfo{
			State: OutgoingStateHolder{ExtID: r.ExtID, ChangeCounterSnapshot: r.ChangeCounter},
			Payload: ServerPayload{
				Guid:  guid,
				ExtID: r.ExtID,
				Data:  raw,
			},
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("reconcile: commit outgoing tx: %w", err)
	}
	return out, nil
}

func contentHash(data string) string {
	var sum = highwayhash.Sum64([]byte(data), highwayhashKey)
	return fmt.Sprintf("%016x", sum)
}

// RecordUploaded updates local DB state to reflect that items were
// successfully uploaded to the server at serverModified: each row's change
// counter is decremented by the snapshot GetOutgoing observed (so a write
// racing the upload survives as a positive remainder), staging is promoted
// into mirror and cleared, confirmed tombstones are dropped, and each
// uploaded item gets its own mirror row.
func RecordUploaded(ctx context.Context, db *store.Store, items []OutgoingInfo, serverModified float64, signal Signal) error {
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: begin record-uploaded tx: %w", err)
	}
	defer tx.Rollback()

	for _, item := range items {
		if err := signal.Check(); err != nil {
			return err
		}
		if err := tx.DecrementCounter(ctx, item.State.ExtID, item.State.ChangeCounterSnapshot); err != nil {
			return fmt.Errorf("reconcile: decrement counter for %q: %w", item.State.ExtID, err)
		}
	}

	if err := tx.PromoteStagingToMirror(ctx, serverModified); err != nil {
		return fmt.Errorf("reconcile: promote staging to mirror: %w", err)
	}
	if err := tx.ClearStaging(ctx); err != nil {
		return fmt.Errorf("reconcile: clear staging: %w", err)
	}
	if err := tx.DeleteConfirmedTombstones(ctx); err != nil {
		return fmt.Errorf("reconcile: delete confirmed tombstones: %w", err)
	}

	for _, item := range items {
		if err := signal.Check(); err != nil {
			return err
		}
		var data *string
		if item.Payload.Data != nil {
			var s = string(*item.Payload.Data)
			data = &s
		}
		if err := tx.UpsertMirror(ctx, item.Payload.Guid, item.State.ExtID, data, serverModified); err != nil {
			return fmt.Errorf("reconcile: upsert mirror for %q: %w", item.State.ExtID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("reconcile: commit record-uploaded tx: %w", err)
	}
	return nil
}
