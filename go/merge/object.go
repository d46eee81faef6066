// Package merge implements the pure three-way (or two-way) JSON object
// merge at the heart of reconciliation: given an incoming server value, a
// local value, and an optional last-known-server (mirror) value, it decides
// whether the incoming value should simply be taken, whether local already
// matches, or whether a key-level merge must be computed and re-uploaded.
package merge

import (
	"encoding/json"
	"fmt"
)

// Object is a decoded JSON object. A nil Object represents "absent",
// either because the row doesn't exist or its data column is NULL (a tombstone).
// An empty, non-nil Object is a legitimate value (`{}`) and must never be
// confused with absence.
type Object map[string]interface{}

// Decode parses raw as a JSON object. Invalid JSON, and JSON that parses
// but isn't an object (an array, a string, a number...), both coerce to a
// nil Object rather than an error: corrupt or mistyped rows must never
// poison a sync cycle: a data column only ever holds a JSON object or NULL.
func Decode(raw []byte) Object {
	if len(raw) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	return Object(m)
}

// Encode serializes o as canonical JSON. A nil Object encodes to the JSON
// literal null (a tombstone); a non-nil, empty Object encodes to "{}".
func Encode(o Object) []byte {
	if o == nil {
		return []byte("null")
	}
	b, err := json.Marshal(map[string]interface{}(o))
	if err != nil {
		// o is built exclusively from values json.Unmarshal already
		// accepted, so every value here is necessarily marshalable.
		panic(fmt.Sprintf("merge: re-encoding a previously-decoded object: %v", err))
	}
	return b
}
