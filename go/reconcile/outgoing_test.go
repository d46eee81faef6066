package reconcile

import (
	"testing"

	"github.com/extsync/core/go/store"
	"github.com/stretchr/testify/require"
)

func TestGetOutgoingAssignsFreshGuidOnlyWhenNeverUploaded(t *testing.T) {
	ctx := testContext(t)
	db, err := store.OpenMemory(ctx)
	require.NoError(t, err)
	defer db.Close()

	tx, err := db.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertLocalTakeRemote(ctx, "ext1", strPtr(`{"a":1}`)))
	require.NoError(t, tx.SetLocalMerge(ctx, "ext1", strPtr(`{"a":2}`)))
	require.NoError(t, tx.Commit())

	out, err := GetOutgoing(ctx, db, NeverCancel{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	var firstGuid = out[0].Payload.Guid
	require.NotEmpty(t, firstGuid)

	require.NoError(t, RecordUploaded(ctx, db, out, 1, NeverCancel{}))

	// Dirty it again; this time a mirror row already exists, so the same
	// guid must be reused rather than minting a new one.
	tx, err = db.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SetLocalMerge(ctx, "ext1", strPtr(`{"a":3}`)))
	require.NoError(t, tx.Commit())

	out, err = GetOutgoing(ctx, db, NeverCancel{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, firstGuid, out[0].Payload.Guid)
}

func TestGetOutgoingHonorsCancellation(t *testing.T) {
	ctx := testContext(t)
	db, err := store.OpenMemory(ctx)
	require.NoError(t, err)
	defer db.Close()

	tx, err := db.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertLocalTakeRemote(ctx, "ext1", strPtr(`{"a":1}`)))
	require.NoError(t, tx.SetLocalMerge(ctx, "ext1", strPtr(`{"a":1}`)))
	require.NoError(t, tx.Commit())

	var sig = FuncSignal(func() error { return ErrInterrupted })
	_, err = GetOutgoing(ctx, db, sig)
	require.ErrorIs(t, err, ErrInterrupted)
}

func TestContentHashIsStableAndDistinguishesPayloads(t *testing.T) {
	var h1 = contentHash(`{"a":1}`)
	var h2 = contentHash(`{"a":1}`)
	var h3 = contentHash(`{"a":2}`)
	require.Equal(t, h1, h2)
	require.NotEqual(t, h1, h3)
}
