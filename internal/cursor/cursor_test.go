package cursor

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/solatis/freshkeeper/internal/conditions"
	"github.com/solatis/freshkeeper/internal/partitions"
	"github.com/solatis/freshkeeper/internal/types"
)

func testState(key types.AssetKey, storageID int64) AssetState {
	ts := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	return AssetState{
		AssetKey: key,
		PreviousEvaluation: &conditions.Evaluation{
			ConditionSnapshot: conditions.Snapshot{
				ClassName:   "RuleCondition",
				Description: "materialization is missing",
				UniqueID:    "abc123",
			},
			TrueSubset: partitions.NewUnpartitionedSubset(key, true),
		},
		PreviousMaxStorageID: types.StorageID(storageID),
		PreviousTimestamp:    &ts,
		Extras: map[string]json.RawMessage{
			"abc123": json.RawMessage(`{"consecutive_failures":2}`),
		},
	}
}

// Test the empty cursor and unknown-asset lookups
func TestEmpty(t *testing.T) {
	c := Empty(0)
	if c.EvaluationID() != 0 {
		t.Errorf("EvaluationID() = %d, want 0", c.EvaluationID())
	}
	if c.NextEvaluationID() != 1 {
		t.Errorf("NextEvaluationID() = %d, want 1", c.NextEvaluationID())
	}

	key := types.NewAssetKey("analytics", "events")
	state := c.StateFor(key)
	if !state.AssetKey.Equal(key) {
		t.Errorf("StateFor() key = %v, want %v", state.AssetKey, key)
	}
	if state.PreviousEvaluation != nil || state.PreviousMaxStorageID != 0 || state.PreviousTimestamp != nil {
		t.Errorf("StateFor() unknown asset = %+v, want empty", state)
	}
	if c.PreviousEvaluation(key) != nil {
		t.Error("PreviousEvaluation() for unknown asset should be nil")
	}

	// Zero value behaves like Empty(0).
	var zero Cursor
	if zero.EvaluationID() != 0 || zero.PreviousEvaluation(key) != nil {
		t.Error("zero-value cursor should be empty")
	}
}

// Test that updates replace state wholesale and never mutate the receiver
func TestWithUpdates(t *testing.T) {
	keyA := types.NewAssetKey("analytics", "events")
	keyB := types.NewAssetKey("analytics", "sessions")

	first := Empty(0).WithUpdates(1, []AssetState{testState(keyA, 10)})
	if first.EvaluationID() != 1 {
		t.Errorf("EvaluationID() = %d, want 1", first.EvaluationID())
	}
	if first.StateFor(keyA).PreviousMaxStorageID != 10 {
		t.Errorf("storage id = %d, want 10", first.StateFor(keyA).PreviousMaxStorageID)
	}

	// The next tick only carried keyB, so keyA drops out.
	second := first.WithUpdates(2, []AssetState{testState(keyB, 20)})
	if second.StateFor(keyA).PreviousEvaluation != nil {
		t.Error("asset absent from the update should drop out")
	}
	if second.StateFor(keyB).PreviousMaxStorageID != 20 {
		t.Errorf("storage id = %d, want 20", second.StateFor(keyB).PreviousMaxStorageID)
	}

	// first is unchanged.
	if first.EvaluationID() != 1 || first.StateFor(keyA).PreviousEvaluation == nil {
		t.Error("WithUpdates() mutated its receiver")
	}
}

// Test copy-on-write extras
func TestAssetState_WithExtra(t *testing.T) {
	key := types.NewAssetKey("analytics", "events")
	base := EmptyAssetState(key)

	withOne := base.WithExtra("node-1", json.RawMessage(`1`))
	if _, ok := base.ExtraFor("node-1"); ok {
		t.Error("WithExtra() mutated its receiver")
	}
	if v, ok := withOne.ExtraFor("node-1"); !ok || string(v) != "1" {
		t.Errorf("ExtraFor() = %s, %v; want 1, true", v, ok)
	}

	overwritten := withOne.WithExtra("node-1", json.RawMessage(`2`))
	if v, _ := overwritten.ExtraFor("node-1"); string(v) != "2" {
		t.Errorf("overwritten extra = %s, want 2", v)
	}

	cleared := overwritten.WithExtra("node-1", nil)
	if _, ok := cleared.ExtraFor("node-1"); ok {
		t.Error("nil value should delete the extra")
	}
	if cleared.Extras != nil {
		t.Error("empty extras should normalize to nil")
	}
}

// Test the full encode/decode round trip
func TestEncodeDecode(t *testing.T) {
	keyA := types.NewAssetKey("analytics", "events")
	keyB := types.NewAssetKey("analytics", "sessions")
	c := Empty(0).WithUpdates(9, []AssetState{
		testState(keyA, 17),
		{AssetKey: keyB},
	})

	encoded, err := c.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	again, err := c.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if encoded != again {
		t.Error("Encode() is not deterministic")
	}

	decoded := Decode(encoded)
	if decoded.EvaluationID() != 9 {
		t.Errorf("EvaluationID() = %d, want 9", decoded.EvaluationID())
	}
	if got := len(decoded.AssetStates()); got != 2 {
		t.Fatalf("asset states = %d, want 2", got)
	}

	state := decoded.StateFor(keyA)
	if !state.PreviousEvaluation.EquivalentTo(c.StateFor(keyA).PreviousEvaluation) {
		t.Error("previous evaluation did not survive the round trip")
	}
	if state.PreviousMaxStorageID != 17 {
		t.Errorf("storage id = %d, want 17", state.PreviousMaxStorageID)
	}
	if state.PreviousTimestamp == nil || !state.PreviousTimestamp.Equal(*c.StateFor(keyA).PreviousTimestamp) {
		t.Errorf("timestamp = %v, want %v", state.PreviousTimestamp, c.StateFor(keyA).PreviousTimestamp)
	}
	if v, ok := state.ExtraFor("abc123"); !ok || string(v) != `{"consecutive_failures":2}` {
		t.Errorf("extra = %s, %v; want preserved", v, ok)
	}

	empty := decoded.StateFor(keyB)
	if empty.PreviousEvaluation != nil || empty.PreviousTimestamp != nil {
		t.Errorf("keyB state = %+v, want empty", empty)
	}
}

// Test recovering the evaluation id from retired cursor blobs
func TestDecode_Legacy(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want types.EvaluationID
	}{
		{"array with leading id", `[25, {"handled_root_asset_keys": []}, null]`, 25},
		{"bare id", `42`, 42},
		{"array without leading id", `["foo", 3]`, 0},
		{"negative id", `-4`, 0},
		{"object", `{"latest_storage_id": 12}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Decode(tt.raw)
			if c.EvaluationID() != tt.want {
				t.Errorf("Decode(%q).EvaluationID() = %d, want %d", tt.raw, c.EvaluationID(), tt.want)
			}
			if len(c.AssetStates()) != 0 {
				t.Errorf("legacy decode carried %d states, want 0", len(c.AssetStates()))
			}
		})
	}
}

// Test that garbage always decodes to the empty cursor
func TestDecode_Garbage(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"not base64", "!!!definitely not a cursor!!!"},
		{"base64 but not gzip", base64.StdEncoding.EncodeToString([]byte("hello"))},
		{"gzip but not json", gzipB64(t, "not json at all")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Decode(tt.raw)
			if c.EvaluationID() != 0 || len(c.AssetStates()) != 0 {
				t.Errorf("Decode(%q) = id %d with %d states, want empty", tt.raw, c.EvaluationID(), len(c.AssetStates()))
			}
		})
	}
}

// Test that a foreign envelope version keeps only the high-water mark
func TestDecode_ForeignVersion(t *testing.T) {
	c := Decode(gzipB64(t, `{"version": 99, "evaluation_id": 7, "asset_states": [{"asset_key": ["a"]}]}`))
	if c.EvaluationID() != 7 {
		t.Errorf("EvaluationID() = %d, want 7", c.EvaluationID())
	}
	if len(c.AssetStates()) != 0 {
		t.Errorf("foreign version carried %d states, want 0", len(c.AssetStates()))
	}
}

func gzipB64(t *testing.T, s string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		t.Fatalf("gzip: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}
