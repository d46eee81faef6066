// Package reconcile implements the Incoming and Outgoing Pipelines: the
// tri-source (incoming × mirror × local) reconciliation state machine, its
// planning and apply steps, and the outgoing payload / upload bookkeeping
// that keeps the mirror aligned with the server.
package reconcile

import (
	"encoding/json"

	"github.com/extsync/core/go/merge"
)

// ServerPayload is the wire shape exchanged with the transport layer: one
// extension's object, or a deletion when Data is nil.
type ServerPayload struct {
	Guid         string           `json:"guid"`
	ExtID        string           `json:"ext_id"`
	LastModified float64          `json:"last_modified"`
	Data         *json.RawMessage `json:"data"`
}

// Deleted reports whether this payload represents a deletion.
func (p ServerPayload) Deleted() bool { return p.Data == nil }

// Item identifies one staged record across the staging/mirror/local join.
type Item struct {
	Guid  string
	ExtID string
}

// StateKind is which of the four incoming states an item classified into,
// based purely on row presence in mirror and local (independent of whether
// their data columns are NULL).
type StateKind int

const (
	// StateIncomingOnly: no local row, no mirror row. First time we've
	// ever seen this extension's object.
	StateIncomingOnly StateKind = iota
	// StateHasLocal: a local row exists, but no mirror row. Some other
	// device synced this first; we haven't yet.
	StateHasLocal
	// StateNotLocal: a mirror row exists, but no local row. A local
	// deletion is being reconsidered against an incoming record.
	StateNotLocal
	// StateEverywhere: both a local and a mirror row exist.
	StateEverywhere
)

func (k StateKind) String() string {
	switch k {
	case StateIncomingOnly:
		return "IncomingOnly"
	case StateHasLocal:
		return "HasLocal"
	case StateNotLocal:
		return "NotLocal"
	case StateEverywhere:
		return "Everywhere"
	default:
		return "Unknown"
	}
}

// IncomingState is the input to planning: an item's classified state, plus
// the decoded (never raw) JSON object on each side. A nil merge.Object
// means "absent", whether because the row doesn't exist or its data
// column is NULL.
type IncomingState struct {
	Item Item
	Kind StateKind

	Incoming merge.Object
	Local    merge.Object
	Mirror   merge.Object

	// Raw bytes incoming/local were decoded from, nil if absent. Only
	// Merge needs these; see merge.Merge's doc comment.
	IncomingRaw []byte
	LocalRaw    []byte
}

// ActionKind is which action planning decided to take for one item.
type ActionKind int

const (
	// ActionDeleteLocally deletes the local row. Idempotent if it's
	// already gone.
	ActionDeleteLocally ActionKind = iota
	// ActionTakeRemote replaces local's data with Data and clears its
	// change counter.
	ActionTakeRemote
	// ActionMerge replaces local's data with Data and increments its
	// change counter, since Data must be uploaded.
	ActionMerge
	// ActionSame clears local's change counter only; incoming and local
	// already agree.
	ActionSame
)

func (k ActionKind) String() string {
	switch k {
	case ActionDeleteLocally:
		return "DeleteLocally"
	case ActionTakeRemote:
		return "TakeRemote"
	case ActionMerge:
		return "Merge"
	case ActionSame:
		return "Same"
	default:
		return "Unknown"
	}
}

// IncomingAction is what PlanIncoming decided for one item.
type IncomingAction struct {
	Kind ActionKind
	Data merge.Object // meaningful only for ActionTakeRemote / ActionMerge
}

// OutgoingStateHolder is the metadata RecordUploaded's bookkeeping needs to
// recognize which local row an uploaded payload came from, and what its
// change counter was snapshotted at.
type OutgoingStateHolder struct {
	ExtID                string
	ChangeCounterSnapshot int64
}

// OutgoingInfo pairs a payload to upload with the local metadata needed to
// reconcile its confirmation.
type OutgoingInfo struct {
	State   OutgoingStateHolder
	Payload ServerPayload
}
