package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/solatis/freshkeeper/internal/conditions"
	"github.com/solatis/freshkeeper/internal/core/db"
	"github.com/solatis/freshkeeper/internal/partitions"
	"github.com/solatis/freshkeeper/internal/types"
)

// newTestStorage opens a fresh sqlite-backed schedule store in a temp
// directory, running migrations so tests exercise the real schema.
func newTestStorage(t *testing.T) *ScheduleStorage {
	t.Helper()

	path := filepath.Join(t.TempDir(), "freshkeeper.db")
	sqlDB, err := db.Open("sqlite://" + path)
	if err != nil {
		t.Fatalf("db.Open() error = %v, want nil", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.MigrateUp(sqlDB); err != nil {
		t.Fatalf("db.MigrateUp() error = %v, want nil", err)
	}

	queries, err := db.LoadQueries(sqlDB)
	if err != nil {
		t.Fatalf("db.LoadQueries() error = %v, want nil", err)
	}

	return NewScheduleStorage(queries)
}

// testEvaluation builds a minimal single-node evaluation for an
// unpartitioned asset.
func testEvaluation(key types.AssetKey, requested bool, runIDs ...types.RunID) *conditions.EvaluationWithRunIDs {
	evaluation := &conditions.Evaluation{
		ConditionSnapshot: conditions.RuleCondition{Rule: conditions.MaterializeOnMissingRule{}}.Snapshot(),
		TrueSubset:        partitions.NewUnpartitionedSubset(key, requested),
	}
	return evaluation.WithRunIDs(runIDs)
}

func TestAddAssetEvaluations_Replay(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	key := types.NewAssetKey("raw", "events")

	evaluations := []*conditions.EvaluationWithRunIDs{
		testEvaluation(key, true, "run-1"),
		testEvaluation(types.NewAssetKey("raw", "users"), false),
	}

	if err := store.AddAssetEvaluations(ctx, 1, evaluations); err != nil {
		t.Fatalf("AddAssetEvaluations() error = %v, want nil", err)
	}

	// Replaying the same tick inserts nothing new.
	if err := store.AddAssetEvaluations(ctx, 1, evaluations); err != nil {
		t.Fatalf("AddAssetEvaluations() replay error = %v, want nil", err)
	}

	records, err := store.EvaluationsForEvaluationID(ctx, 1)
	if err != nil {
		t.Fatalf("EvaluationsForEvaluationID() error = %v, want nil", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
	// Ordered by asset key.
	if got := records[0].AssetKey.String(); got != "raw/events" {
		t.Errorf("records[0].AssetKey = %s, want raw/events", got)
	}
	if got := records[1].AssetKey.String(); got != "raw/users" {
		t.Errorf("records[1].AssetKey = %s, want raw/users", got)
	}

	if !records[0].Evaluation.Evaluation.EquivalentTo(evaluations[0].Evaluation) {
		t.Errorf("decoded evaluation not equivalent to stored one")
	}
	if got := records[0].Evaluation.RunIDs; len(got) != 1 || got[0] != "run-1" {
		t.Errorf("RunIDs = %v, want [run-1]", got)
	}
	if records[0].Timestamp.IsZero() {
		t.Errorf("Timestamp is zero, want insert time")
	}
}

func TestEvaluationRecordsForAsset_Pagination(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	key := types.NewAssetKey("raw", "events")

	for id := types.EvaluationID(1); id <= 3; id++ {
		err := store.AddAssetEvaluations(ctx, id, []*conditions.EvaluationWithRunIDs{
			testEvaluation(key, id%2 == 1),
		})
		if err != nil {
			t.Fatalf("AddAssetEvaluations(%d) error = %v, want nil", id, err)
		}
	}

	records, err := store.EvaluationRecordsForAsset(ctx, key, 2, 0)
	if err != nil {
		t.Fatalf("EvaluationRecordsForAsset() error = %v, want nil", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
	if records[0].EvaluationID != 3 || records[1].EvaluationID != 2 {
		t.Errorf("evaluation ids = %d, %d, want 3, 2", records[0].EvaluationID, records[1].EvaluationID)
	}

	// Cursor resumes strictly below the last seen id.
	records, err = store.EvaluationRecordsForAsset(ctx, key, 2, records[1].EvaluationID)
	if err != nil {
		t.Fatalf("EvaluationRecordsForAsset() cursor error = %v, want nil", err)
	}
	if len(records) != 1 || records[0].EvaluationID != 1 {
		t.Fatalf("cursor page = %v, want single record with evaluation id 1", records)
	}

	// Unknown asset yields an empty page, not an error.
	records, err = store.EvaluationRecordsForAsset(ctx, types.NewAssetKey("nope"), 10, 0)
	if err != nil {
		t.Fatalf("EvaluationRecordsForAsset() unknown asset error = %v, want nil", err)
	}
	if len(records) != 0 {
		t.Errorf("len(records) = %d, want 0", len(records))
	}
}

func TestEvaluationRecord_NotFound(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	key := types.NewAssetKey("raw", "events")

	_, err := store.EvaluationRecord(ctx, key, 42)
	if !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("EvaluationRecord() error = %v, want ErrNotFound", err)
	}

	if err := store.AddAssetEvaluations(ctx, 42, []*conditions.EvaluationWithRunIDs{testEvaluation(key, true)}); err != nil {
		t.Fatalf("AddAssetEvaluations() error = %v, want nil", err)
	}

	record, err := store.EvaluationRecord(ctx, key, 42)
	if err != nil {
		t.Fatalf("EvaluationRecord() error = %v, want nil", err)
	}
	if record.EvaluationID != 42 {
		t.Errorf("EvaluationID = %d, want 42", record.EvaluationID)
	}
	if record.Evaluation.NumRequested() != 1 {
		t.Errorf("NumRequested() = %d, want 1", record.Evaluation.NumRequested())
	}
}

func TestMaxEvaluationID(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	maxID, err := store.MaxEvaluationID(ctx)
	if err != nil {
		t.Fatalf("MaxEvaluationID() error = %v, want nil", err)
	}
	if maxID != 0 {
		t.Errorf("MaxEvaluationID() = %d, want 0", maxID)
	}

	key := types.NewAssetKey("raw", "events")
	if err := store.AddAssetEvaluations(ctx, 7, []*conditions.EvaluationWithRunIDs{testEvaluation(key, false)}); err != nil {
		t.Fatalf("AddAssetEvaluations() error = %v, want nil", err)
	}

	maxID, err = store.MaxEvaluationID(ctx)
	if err != nil {
		t.Fatalf("MaxEvaluationID() error = %v, want nil", err)
	}
	if maxID != 7 {
		t.Errorf("MaxEvaluationID() = %d, want 7", maxID)
	}
}

func TestConditionSnapshots(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	snapshot := conditions.RuleCondition{Rule: conditions.MaterializeOnMissingRule{}}.Snapshot()

	ok, err := store.HasConditionSnapshot(ctx, snapshot.UniqueID)
	if err != nil {
		t.Fatalf("HasConditionSnapshot() error = %v, want nil", err)
	}
	if ok {
		t.Fatalf("HasConditionSnapshot() = true before registration, want false")
	}

	if _, err := store.GetConditionSnapshot(ctx, snapshot.UniqueID); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("GetConditionSnapshot() error = %v, want ErrNotFound", err)
	}

	if err := store.AddConditionSnapshots(ctx, []conditions.Snapshot{snapshot}); err != nil {
		t.Fatalf("AddConditionSnapshots() error = %v, want nil", err)
	}
	// Content-addressed: registering twice is a no-op.
	if err := store.AddConditionSnapshots(ctx, []conditions.Snapshot{snapshot}); err != nil {
		t.Fatalf("AddConditionSnapshots() repeat error = %v, want nil", err)
	}

	ok, err = store.HasConditionSnapshot(ctx, snapshot.UniqueID)
	if err != nil {
		t.Fatalf("HasConditionSnapshot() error = %v, want nil", err)
	}
	if !ok {
		t.Errorf("HasConditionSnapshot() = false after registration, want true")
	}

	got, err := store.GetConditionSnapshot(ctx, snapshot.UniqueID)
	if err != nil {
		t.Fatalf("GetConditionSnapshot() error = %v, want nil", err)
	}
	if got != snapshot {
		t.Errorf("GetConditionSnapshot() = %+v, want %+v", got, snapshot)
	}
}
