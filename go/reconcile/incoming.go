package reconcile

import (
	"context"
	"fmt"

	"github.com/extsync/core/go/merge"
	"github.com/extsync/core/go/store"
	"github.com/sirupsen/logrus"
)

// classify turns the staging/mirror/local join into one IncomingState per
// item, decoding each side's data column and coercing corrupt or
// non-object JSON to absent rather than failing the cycle.
func classify(rows []store.IncomingJoinRow) []IncomingState {
	var states = make([]IncomingState, 0, len(rows))
	for _, r := range rows {
		incoming, incomingRaw := decodeField(r.IncomingData)
		local, localRaw := decodeField(r.LocalData)
		mirror, _ := decodeField(r.MirrorData)

		var kind StateKind
		switch {
		case !r.LocalExists && !r.MirrorExists:
			kind = StateIncomingOnly
		case r.LocalExists && !r.MirrorExists:
			kind = StateHasLocal
		case !r.LocalExists && r.MirrorExists:
			kind = StateNotLocal
		default:
			kind = StateEverywhere
		}

		states = append(states, IncomingState{
			Item:        Item{Guid: r.Guid, ExtID: r.ExtID},
			Kind:        kind,
			Incoming:    incoming,
			Local:       local,
			Mirror:      mirror,
			IncomingRaw: incomingRaw,
			LocalRaw:    localRaw,
		})
	}
	return states
}

// decodeField decodes a nullable data column into a merge.Object. A NULL
// column is a legitimate absence and returns (nil, nil) quietly; a
// non-NULL column that fails to decode as a JSON object is corruption and
// bumps CorruptRows before being coerced to the same (nil, nil) result.
func decodeField(raw *string) (merge.Object, []byte) {
	if raw == nil {
		return nil, nil
	}
	var rawBytes = []byte(*raw)
	var obj = merge.Decode(rawBytes)
	if obj == nil {
		CorruptRows.Inc()
		return nil, nil
	}
	return obj, rawBytes
}

// PlanIncoming decides the action for one classified item. It's pure: no
// I/O, no side effects, safe to call independently of ApplyIncomingAction
// for testing.
func PlanIncoming(s IncomingState) IncomingAction {
	switch s.Kind {
	case StateIncomingOnly:
		if s.Incoming != nil {
			return IncomingAction{Kind: ActionTakeRemote, Data: s.Incoming}
		}
		return IncomingAction{Kind: ActionDeleteLocally}

	case StateNotLocal:
		if s.Incoming != nil {
			return IncomingAction{Kind: ActionTakeRemote, Data: s.Incoming}
		}
		return IncomingAction{Kind: ActionSame}

	case StateHasLocal:
		switch {
		case s.Incoming != nil && s.Local != nil:
			return fromMergeResult(merge.Merge(s.Incoming, s.Local, nil, s.IncomingRaw, s.LocalRaw))
		case s.Incoming != nil && s.Local == nil:
			// Incoming carries data, but the local row is already a
			// tombstone with no mirror ever recorded. DeleteLocally is
			// the chosen policy here; preserved as-is.
			return IncomingAction{Kind: ActionDeleteLocally}
		case s.Incoming == nil && s.Local != nil:
			return IncomingAction{Kind: ActionTakeRemote, Data: s.Local}
		default:
			return IncomingAction{Kind: ActionSame}
		}

	case StateEverywhere:
		switch {
		case s.Incoming != nil && s.Local != nil && s.Mirror != nil:
			return fromMergeResult(merge.Merge(s.Incoming, s.Local, s.Mirror, s.IncomingRaw, s.LocalRaw))
		case s.Incoming != nil && s.Local != nil && s.Mirror == nil:
			return fromMergeResult(merge.Merge(s.Incoming, s.Local, nil, s.IncomingRaw, s.LocalRaw))
		case s.Incoming != nil && s.Local == nil:
			return IncomingAction{Kind: ActionTakeRemote, Data: s.Incoming}
		default:
			// s.Incoming == nil: deleted remotely, server wins. Known to
			// discard any local-only change instead of three-way merging
			// against the deletion; preserved rather than fixed (Open
			// Question, see SPEC_FULL.md §9).
			return IncomingAction{Kind: ActionDeleteLocally}
		}

	default:
		panic(fmt.Sprintf("reconcile: unhandled StateKind %v", s.Kind))
	}
}

func fromMergeResult(r merge.Result) IncomingAction {
	switch r.Kind {
	case merge.KindTakeRemote:
		return IncomingAction{Kind: ActionTakeRemote, Data: r.Data}
	case merge.KindSame:
		return IncomingAction{Kind: ActionSame}
	default:
		return IncomingAction{Kind: ActionMerge, Data: r.Data}
	}
}

// ApplyIncomingAction performs the store mutation an action calls for.
func ApplyIncomingAction(ctx context.Context, tx *store.Tx, item Item, action IncomingAction) error {
	switch action.Kind {
	case ActionDeleteLocally:
		return tx.DeleteLocal(ctx, item.ExtID)
	case ActionTakeRemote:
		return tx.UpsertLocalTakeRemote(ctx, item.ExtID, encodeOrNil(action.Data))
	case ActionMerge:
		return tx.SetLocalMerge(ctx, item.ExtID, encodeOrNil(action.Data))
	case ActionSame:
		return tx.SetLocalSame(ctx, item.ExtID)
	default:
		return fmt.Errorf("reconcile: unhandled ActionKind %v", action.Kind)
	}
}

func encodeOrNil(o merge.Object) *string {
	if o == nil {
		return nil
	}
	var s = string(merge.Encode(o))
	return &s
}

// ReconcileIncoming is the Incoming Pipeline's single exported entry
// point. It stages the server's payloads, classifies each against the
// mirror and local tables, plans and applies an action per item, and
// commits, all inside one transaction. Any error, including
// ErrInterrupted from signal, rolls the transaction back.
func ReconcileIncoming(ctx context.Context, db *store.Store, payloads []ServerPayload, signal Signal) error {
	var rows = make([]store.StagingRow, 0, len(payloads))
	for _, p := range payloads {
		var row = store.StagingRow{Guid: p.Guid, ExtID: p.ExtID}
		if p.Data != nil {
			var s = string(*p.Data)
			row.Data = &s
		}
		rows = append(rows, row)
	}

	tx, err := db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: begin incoming tx: %w", err)
	}
	defer tx.Rollback()

	if err := tx.ClearStaging(ctx); err != nil {
		return fmt.Errorf("reconcile: clear staging: %w", err)
	}
	if err := tx.Stage(ctx, rows, signal); err != nil {
		return fmt.Errorf("reconcile: stage incoming: %w", err)
	}

	joined, err := tx.FetchIncomingJoin(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: fetch incoming join: %w", err)
	}

	var states = classify(joined)
	for _, s := range states {
		if err := signal.Check(); err != nil {
			return err
		}
		var action = PlanIncoming(s)
		logrus.WithFields(logrus.Fields{
			"ext_id": s.Item.ExtID,
			"state":  s.Kind.String(),
			"action": action.Kind.String(),
		}).Trace("reconcile: incoming action planned")
		if err := ApplyIncomingAction(ctx, tx, s.Item, action); err != nil {
			return fmt.Errorf("reconcile: apply action for %q: %w", s.Item.ExtID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("reconcile: commit incoming tx: %w", err)
	}
	return nil
}
