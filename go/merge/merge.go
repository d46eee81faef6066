package merge

import (
	"reflect"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/nsf/jsondiff"
	log "github.com/sirupsen/logrus"
)

// Kind is the outcome of a Merge call.
type Kind int

const (
	// KindTakeRemote means the merged value is byte-equal to incoming: local
	// is replaced by Data, and nothing needs to be re-uploaded.
	KindTakeRemote Kind = iota
	// KindSame means the merged value is byte-equal to local: local is
	// already correct, and nothing needs to change or be re-uploaded.
	KindSame
	// KindMerge means the merged value differs from both incoming and
	// local: local must be updated to Data, and Data must be uploaded.
	KindMerge
)

func (k Kind) String() string {
	switch k {
	case KindTakeRemote:
		return "TakeRemote"
	case KindSame:
		return "Same"
	case KindMerge:
		return "Merge"
	default:
		return "Unknown"
	}
}

// Result is the outcome of a Merge call. Data is only meaningful for
// KindTakeRemote and KindMerge; for KindSame the caller already has the
// right value (local, unchanged).
type Result struct {
	Kind Kind
	Data Object
}

// Merge reconciles incoming against local, using mirror as the last common
// parent (nil for a two-way merge, when no mirror row exists yet).
//
// incomingRaw and localRaw are the original, undecoded bytes incoming and
// local were parsed from. They're used only for the closing equality
// checks below: "merged == incoming" / "merged == local" need to match the
// literal wire/DB representation, which isn't the same question as whether
// the decoded Go values are deeply equal (two byte-identical-in-effect
// JSON documents can differ in key order or number formatting).
// jsondiff.Compare answers that question without requiring a normalized
// byte-for-byte match.
func Merge(incoming, local, mirror Object, incomingRaw, localRaw []byte) Result {
	var merged = make(Object, len(incoming)+len(local))

	for k := range unionKeys(incoming, local, mirror) {
		iv, iOk := incoming[k]
		lv, lOk := local[k]
		mv, mOk := mirror[k]

		if optionEqual(iOk, iv, lOk, lv) {
			// Both sides agree (including agreeing the key is absent).
			if iOk {
				merged[k] = iv
			}
			continue
		}

		var localDiverged = !optionEqual(lOk, lv, mOk, mv)
		var incomingDiverged = !optionEqual(iOk, iv, mOk, mv)

		if localDiverged && !incomingDiverged {
			// Only local changed this key since the parent: local wins.
			if lOk {
				merged[k] = lv
			}
		} else {
			// Only incoming changed, or both changed: server wins on a
			// mutual per-key conflict. (The case where neither side
			// diverged from the parent can't reach here: that would mean
			// incoming == mirror == local, contradicting the optionEqual
			// check above.)
			if iOk {
				merged[k] = iv
			}
		}
	}

	var mergedRaw = Encode(merged)

	logDiagnosticPatch(mirror, merged, mergedRaw)

	if incomingRaw != nil && jsonEqual(mergedRaw, incomingRaw) {
		return Result{Kind: KindTakeRemote, Data: merged}
	}
	if localRaw != nil && jsonEqual(mergedRaw, localRaw) {
		return Result{Kind: KindSame}
	}
	return Result{Kind: KindMerge, Data: merged}
}

// unionKeys returns the set of keys present in any of a, b, c.
func unionKeys(a, b, c Object) map[string]struct{} {
	var keys = make(map[string]struct{}, len(a)+len(b)+len(c))
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}
	for k := range c {
		keys[k] = struct{}{}
	}
	return keys
}

// optionEqual compares two optional values (as decoded from JSON): equal if
// both are absent, or both present with deeply-equal decoded values.
func optionEqual(aOk bool, a interface{}, bOk bool, b interface{}) bool {
	if aOk != bOk {
		return false
	}
	if !aOk {
		return true
	}
	return reflect.DeepEqual(a, b)
}

func jsonEqual(a, b []byte) bool {
	diff, _ := jsondiff.Compare(a, b, &jsondiff.Options{})
	return diff == jsondiff.FullMatch
}

// logDiagnosticPatch logs, at trace level only, the RFC 7396 merge patch
// that would carry mirror to merged. It's purely a debugging aid for
// understanding what a Merge outcome actually changed relative to the last
// known server state; it's never applied to any data.
func logDiagnosticPatch(mirror Object, merged Object, mergedRaw []byte) {
	if mirror == nil || !log.IsLevelEnabled(log.TraceLevel) {
		return
	}
	patch, err := jsonpatch.CreateMergePatch(Encode(mirror), mergedRaw)
	if err != nil {
		return
	}
	log.WithField("patch", string(patch)).Trace("merge: computed diagnostic patch from mirror")
}
