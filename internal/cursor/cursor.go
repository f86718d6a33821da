// Package cursor implements the daemon cursor: the state threaded from one
// scheduling tick to the next. A cursor carries the evaluation-id high-water
// mark plus, per asset, everything the next evaluation needs to know about
// the previous one (the full evaluation tree, the materialization-log
// high-water mark, the tick instant, and opaque per-condition extras).
//
// Cursors are immutable value objects: every mutation returns a new cursor,
// which is what makes the persist-records-then-persist-cursor ordering in the
// tick loop safe to retry. Exactly one daemon instance owns the live cursor
// at a time; this package only models the value, not the locking.
package cursor

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/solatis/freshkeeper/internal/conditions"
	"github.com/solatis/freshkeeper/internal/types"
)

// AssetState is one asset's slice of the cursor.
type AssetState struct {
	AssetKey types.AssetKey `json:"asset_key"`

	// PreviousEvaluation is the full tree from the last tick that evaluated
	// this asset, nil before the first one. Conditions thread it through
	// evaluation to answer "was this node true last time".
	PreviousEvaluation *conditions.Evaluation `json:"previous_evaluation,omitempty"`

	// PreviousMaxStorageID is the materialization-log high-water mark as of
	// the previous tick; only log entries beyond it count as new.
	PreviousMaxStorageID types.StorageID `json:"previous_max_storage_id"`

	// PreviousTimestamp is when the previous tick evaluated this asset.
	PreviousTimestamp *time.Time `json:"previous_timestamp,omitempty"`

	// Extras holds opaque per-condition state keyed by condition unique id.
	// A changed tree shape changes the ids, which silently retires stale
	// entries.
	Extras map[string]json.RawMessage `json:"extras,omitempty"`
}

// EmptyAssetState is the before-first-tick state of an asset.
func EmptyAssetState(key types.AssetKey) AssetState {
	return AssetState{AssetKey: key}
}

// ExtraFor returns the stored extra for a condition unique id.
func (s AssetState) ExtraFor(uniqueID string) (json.RawMessage, bool) {
	v, ok := s.Extras[uniqueID]
	return v, ok
}

// WithExtra returns a copy of the state with one extra replaced. A nil value
// deletes the entry.
func (s AssetState) WithExtra(uniqueID string, value json.RawMessage) AssetState {
	extras := make(map[string]json.RawMessage, len(s.Extras)+1)
	for k, v := range s.Extras {
		extras[k] = v
	}
	if value == nil {
		delete(extras, uniqueID)
	} else {
		extras[uniqueID] = value
	}
	if len(extras) == 0 {
		extras = nil
	}
	s.Extras = extras
	return s
}

// Cursor is the daemon's inter-tick state. The zero value is the empty
// cursor at evaluation id 0.
type Cursor struct {
	evaluationID types.EvaluationID
	states       map[string]AssetState
}

// Empty returns a cursor with no asset state at the given evaluation id.
func Empty(evaluationID types.EvaluationID) Cursor {
	return Cursor{evaluationID: evaluationID}
}

// EvaluationID is the id of the last completed tick, 0 before the first.
func (c Cursor) EvaluationID() types.EvaluationID {
	return c.evaluationID
}

// NextEvaluationID is the id the next tick must use. Fixed before any
// per-asset evaluation begins.
func (c Cursor) NextEvaluationID() types.EvaluationID {
	return c.evaluationID + 1
}

// StateFor returns the stored state for an asset, or the empty state when
// the cursor has never seen it.
func (c Cursor) StateFor(key types.AssetKey) AssetState {
	if s, ok := c.states[key.String()]; ok {
		return s
	}
	return EmptyAssetState(key)
}

// PreviousEvaluation is shorthand for StateFor(key).PreviousEvaluation.
func (c Cursor) PreviousEvaluation(key types.AssetKey) *conditions.Evaluation {
	return c.StateFor(key).PreviousEvaluation
}

// AssetStates lists every stored state, sorted by asset key so serialization
// is deterministic.
func (c Cursor) AssetStates() []AssetState {
	out := make([]AssetState, 0, len(c.states))
	for _, s := range c.states {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AssetKey.String() < out[j].AssetKey.String()
	})
	return out
}

// WithUpdates returns the cursor for a completed tick: the new evaluation id
// and the full replacement set of asset states. States replace the previous
// set wholesale; the caller carries forward the prior state of any asset the
// tick did not successfully evaluate, and assets absent from states drop out
// of the cursor.
func (c Cursor) WithUpdates(evaluationID types.EvaluationID, states []AssetState) Cursor {
	next := make(map[string]AssetState, len(states))
	for _, s := range states {
		next[s.AssetKey.String()] = s
	}
	return Cursor{evaluationID: evaluationID, states: next}
}
