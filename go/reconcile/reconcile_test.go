package reconcile

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/extsync/core/go/store"
	"github.com/stretchr/testify/require"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	return context.Background()
}

func rawMsg(s string) *json.RawMessage {
	var m = json.RawMessage(s)
	return &m
}

func TestReconcileIncomingFirstSeenExtension(t *testing.T) {
	ctx := testContext(t)
	db, err := store.OpenMemory(ctx)
	require.NoError(t, err)
	defer db.Close()

	err = ReconcileIncoming(ctx, db, []ServerPayload{
		{Guid: "g1", ExtID: "ext1", Data: rawMsg(`{"a":1}`)},
	}, NeverCancel{})
	require.NoError(t, err)

	out, err := GetOutgoing(ctx, db, NeverCancel{})
	require.NoError(t, err)
	require.Empty(t, out) // TakeRemote clears the change counter
}

func TestReconcileIncomingDeletionWithNoLocalRow(t *testing.T) {
	ctx := testContext(t)
	db, err := store.OpenMemory(ctx)
	require.NoError(t, err)
	defer db.Close()

	err = ReconcileIncoming(ctx, db, []ServerPayload{
		{Guid: "g1", ExtID: "ext1", Data: nil},
	}, NeverCancel{})
	require.NoError(t, err)

	out, err := GetOutgoing(ctx, db, NeverCancel{})
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestReconcileIncomingTwoWayMergeWhenNeverSynced(t *testing.T) {
	ctx := testContext(t)
	db, err := store.OpenMemory(ctx)
	require.NoError(t, err)
	defer db.Close()

	// First sync puts ext1 into local, clean, with no mirror row; the local
	// write below then dirties it.
	err = ReconcileIncoming(ctx, db, []ServerPayload{
		{Guid: "g1", ExtID: "ext1", Data: rawMsg(`{"a":1}`)},
	}, NeverCancel{})
	require.NoError(t, err)

	tx, err := db.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SetLocalMerge(ctx, "ext1", strPtr(`{"a":1,"b":"local"}`)))
	require.NoError(t, tx.Commit())

	// A second incoming delivery for the same guid, still with no mirror
	// row, now sees HasLocal{Some,Some} and must 2-way merge.
	err = ReconcileIncoming(ctx, db, []ServerPayload{
		{Guid: "g1", ExtID: "ext1", Data: rawMsg(`{"a":1,"c":"incoming"}`)},
	}, NeverCancel{})
	require.NoError(t, err)

	out, err := GetOutgoing(ctx, db, NeverCancel{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.JSONEq(t, `{"a":1,"b":"local","c":"incoming"}`, string(*out[0].Payload.Data))
}

func TestFullRoundTripUploadAndConfirm(t *testing.T) {
	ctx := testContext(t)
	db, err := store.OpenMemory(ctx)
	require.NoError(t, err)
	defer db.Close()

	// A fresh local write with no prior sync: dirty, no mirror row.
	tx, err := db.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertLocalTakeRemote(ctx, "ext1", strPtr(`{"a":1}`)))
	require.NoError(t, tx.SetLocalMerge(ctx, "ext1", strPtr(`{"a":1}`)))
	require.NoError(t, tx.Commit())

	out, err := GetOutgoing(ctx, db, NeverCancel{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.NotEmpty(t, out[0].Payload.Guid)

	require.NoError(t, RecordUploaded(ctx, db, out, 1000, NeverCancel{}))

	// The row is no longer dirty, and is now its own mirror baseline.
	out, err = GetOutgoing(ctx, db, NeverCancel{})
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestRecordUploadedSurvivesLocalWriteDuringUpload(t *testing.T) {
	ctx := testContext(t)
	db, err := store.OpenMemory(ctx)
	require.NoError(t, err)
	defer db.Close()

	// A fresh local write with no prior sync: dirty, no mirror row.
	tx, err := db.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertLocalTakeRemote(ctx, "ext1", strPtr(`{"a":1}`)))
	require.NoError(t, tx.SetLocalMerge(ctx, "ext1", strPtr(`{"a":1}`)))
	require.NoError(t, tx.Commit())

	// GetOutgoing snapshots the change counter at 1 and hands the payload
	// off for upload.
	out, err := GetOutgoing(ctx, db, NeverCancel{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.EqualValues(t, 1, out[0].State.ChangeCounterSnapshot)

	// While that upload is still in flight, a second local write lands and
	// bumps the counter again, to 2.
	tx, err = db.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SetLocalMerge(ctx, "ext1", strPtr(`{"a":2}`)))
	require.NoError(t, tx.Commit())

	// RecordUploaded only subtracts the snapshotted delta (1), so the
	// write that raced the upload survives as a positive remainder (1)
	// instead of being silently dropped.
	require.NoError(t, RecordUploaded(ctx, db, out, 1000, NeverCancel{}))

	tx, err = db.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()
	rows, err := tx.FetchOutgoing(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.EqualValues(t, 1, rows[0].ChangeCounter)
	require.Equal(t, `{"a":2}`, *rows[0].Data)
}

func TestRecordUploadedDropsConfirmedTombstone(t *testing.T) {
	ctx := testContext(t)
	db, err := store.OpenMemory(ctx)
	require.NoError(t, err)
	defer db.Close()

	tx, err := db.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertLocalTakeRemote(ctx, "ext1", strPtr(`{"a":1}`)))
	require.NoError(t, tx.Commit())

	out, err := GetOutgoing(ctx, db, NeverCancel{})
	require.NoError(t, err)
	require.Empty(t, out)

	tx, err = db.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SetLocalMerge(ctx, "ext1", nil)) // local deletion
	require.NoError(t, tx.Commit())

	out, err = GetOutgoing(ctx, db, NeverCancel{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.True(t, out[0].Payload.Deleted())

	require.NoError(t, RecordUploaded(ctx, db, out, 2000, NeverCancel{}))

	tx, err = db.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()
	joined, err := tx.FetchIncomingJoin(ctx)
	require.NoError(t, err)
	require.Empty(t, joined)

	// Probe the join with a staged row for ext1: the local tombstone is
	// gone, and the mirror row records the deletion as NULL data.
	require.NoError(t, tx.Stage(ctx, []store.StagingRow{
		{Guid: out[0].Payload.Guid, ExtID: "ext1"},
	}, NeverCancel{}))
	joined, err = tx.FetchIncomingJoin(ctx)
	require.NoError(t, err)
	require.Len(t, joined, 1)
	require.False(t, joined[0].LocalExists)
	require.True(t, joined[0].MirrorExists)
	require.Nil(t, joined[0].MirrorData)
}

func TestReconcileIncomingHonorsCancellation(t *testing.T) {
	ctx := testContext(t)
	db, err := store.OpenMemory(ctx)
	require.NoError(t, err)
	defer db.Close()

	var sig = FuncSignal(func() error { return ErrInterrupted })
	err = ReconcileIncoming(ctx, db, []ServerPayload{
		{Guid: "g1", ExtID: "ext1", Data: rawMsg(`{"a":1}`)},
	}, sig)
	require.ErrorIs(t, err, ErrInterrupted)

	// The transaction was rolled back: nothing was applied.
	out, err := GetOutgoing(ctx, db, NeverCancel{})
	require.NoError(t, err)
	require.Empty(t, out)
}
