package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/solatis/freshkeeper/internal/conditions"
	"github.com/solatis/freshkeeper/internal/core/db"
	"github.com/solatis/freshkeeper/internal/core/storage"
	"github.com/solatis/freshkeeper/internal/cursor"
	"github.com/solatis/freshkeeper/internal/partitions"
	"github.com/solatis/freshkeeper/internal/types"
)

func newTestService(t *testing.T) (*Service, *storage.ScheduleStorage, *storage.CursorStore) {
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
	schedule := storage.NewScheduleStorage(queries)

	cursors, err := storage.OpenCursorStore("", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("OpenCursorStore() error = %v, want nil", err)
	}
	t.Cleanup(func() { cursors.Close() })

	service, err := NewService(schedule, cursors)
	if err != nil {
		t.Fatalf("NewService() error = %v, want nil", err)
	}
	return service, schedule, cursors
}

func staticSubset(t *testing.T, key types.AssetKey, def *partitions.StaticPartitionsDefinition, keys ...string) partitions.AssetSubset {
	t.Helper()
	subset, err := def.Subset(context.Background(), nil, time.Time{}, keys...)
	if err != nil {
		t.Fatalf("Subset(%v) error = %v, want nil", keys, err)
	}
	return partitions.NewPartitionedSubset(key, subset)
}

// scenarioEvaluation builds a partitioned evaluation over keys a..f: the
// root accepts {a, b}, its Not child accepted {a, b} out of candidates
// {a, b, c}, and the inner Any of accepted {c} from the same candidates.
func scenarioEvaluation(t *testing.T, key types.AssetKey) *conditions.EvaluationWithRunIDs {
	t.Helper()
	def := partitions.MustStaticPartitions("a", "b", "c", "d", "e", "f")

	missing := conditions.RuleCondition{Rule: conditions.MaterializeOnMissingRule{}}
	waiting := conditions.RuleCondition{Rule: conditions.SkipOnParentMissingRule{}}
	inner := conditions.NewOr(waiting)
	not := conditions.Not(inner)
	root := conditions.NewAnd(missing, not)

	innerCandidate := staticSubset(t, key, def, "a", "b", "c")
	evaluation := &conditions.Evaluation{
		ConditionSnapshot: root.Snapshot(),
		TrueSubset:        staticSubset(t, key, def, "a", "b"),
		ChildEvaluations: []*conditions.Evaluation{
			{
				ConditionSnapshot: missing.Snapshot(),
				TrueSubset:        staticSubset(t, key, def, "a", "b", "c"),
			},
			{
				ConditionSnapshot: not.Snapshot(),
				TrueSubset:        staticSubset(t, key, def, "a", "b"),
				CandidateSubset:   &innerCandidate,
				ChildEvaluations: []*conditions.Evaluation{
					{
						ConditionSnapshot: inner.Snapshot(),
						TrueSubset:        staticSubset(t, key, def, "c"),
						CandidateSubset:   &innerCandidate,
						ChildEvaluations: []*conditions.Evaluation{
							{
								ConditionSnapshot: waiting.Snapshot(),
								TrueSubset:        staticSubset(t, key, def, "c"),
								CandidateSubset:   &innerCandidate,
							},
						},
					},
				},
			},
		},
	}
	return evaluation.WithRunIDs([]types.RunID{"run-b", "run-a", "run-b"})
}

func TestEvaluationForPartition(t *testing.T) {
	service, schedule, _ := newTestService(t)
	ctx := context.Background()
	key := types.NewAssetKey("raw", "events")

	evaluation := scenarioEvaluation(t, key)
	if err := schedule.AddAssetEvaluations(ctx, 7, []*conditions.EvaluationWithRunIDs{evaluation}); err != nil {
		t.Fatalf("AddAssetEvaluations() error = %v, want nil", err)
	}

	node, found, err := service.EvaluationForPartition(ctx, key, "b", 7)
	if err != nil {
		t.Fatalf("EvaluationForPartition(b) error = %v, want nil", err)
	}
	if !found {
		t.Fatalf("EvaluationForPartition(b) found = false, want true")
	}
	if node.Description != "All of" || node.Status != conditions.StatusTrue {
		t.Errorf("root = %s %s, want All of TRUE", node.Description, node.Status)
	}
	if len(node.Children) != 2 {
		t.Fatalf("len(root.Children) = %d, want 2", len(node.Children))
	}

	node, found, err = service.EvaluationForPartition(ctx, key, "d", 7)
	if err != nil || !found {
		t.Fatalf("EvaluationForPartition(d) = found %v, error %v, want found", found, err)
	}
	if node.Status != conditions.StatusFalse {
		t.Errorf("root status for d = %s, want FALSE", node.Status)
	}
	// d never became a candidate below the root's Not child.
	if got := node.Children[1].Status; got != conditions.StatusSkipped {
		t.Errorf("Not child status for d = %s, want SKIPPED", got)
	}

	// Identical output across calls for the same coordinates.
	again, _, err := service.EvaluationForPartition(ctx, key, "d", 7)
	if err != nil {
		t.Fatalf("EvaluationForPartition(d) repeat error = %v, want nil", err)
	}
	first, _ := json.Marshal(node)
	second, _ := json.Marshal(again)
	if !bytes.Equal(first, second) {
		t.Errorf("repeated projections differ:\n%s\n%s", first, second)
	}

	_, found, err = service.EvaluationForPartition(ctx, key, "b", 99)
	if err != nil {
		t.Fatalf("EvaluationForPartition(unknown) error = %v, want nil", err)
	}
	if found {
		t.Errorf("EvaluationForPartition(unknown) found = true, want false")
	}
}

func TestCurrentEvaluationID(t *testing.T) {
	service, _, cursors := newTestService(t)
	ctx := context.Background()

	id, err := service.CurrentEvaluationID(ctx)
	if err != nil {
		t.Fatalf("CurrentEvaluationID() error = %v, want nil", err)
	}
	if id != nil {
		t.Fatalf("CurrentEvaluationID() = %d before first tick, want nil", *id)
	}

	blob, err := cursor.Empty(0).WithUpdates(12, nil).Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v, want nil", err)
	}
	if err := cursors.Set(ctx, map[string]string{storage.CursorKey: blob}); err != nil {
		t.Fatalf("Set() error = %v, want nil", err)
	}

	id, err = service.CurrentEvaluationID(ctx)
	if err != nil {
		t.Fatalf("CurrentEvaluationID() error = %v, want nil", err)
	}
	if id == nil || *id != 12 {
		t.Fatalf("CurrentEvaluationID() = %v, want 12", id)
	}
}

func TestRequestedAggregation(t *testing.T) {
	partition := "p1"
	assetA := types.NewAssetKey("raw", "a")
	assetB := types.NewAssetKey("raw", "b")

	tick := storage.Tick{
		RunRequests: []types.RunRequest{
			{AssetKeys: []types.AssetKey{assetA, assetB}, PartitionKey: &partition},
			{AssetKeys: []types.AssetKey{assetA}, PartitionKey: &partition},
			{AssetKeys: []types.AssetKey{assetA}},
		},
	}

	// Three distinct pairs: (a, p1), (b, p1), (a, whole asset).
	if got := RequestedMaterializationCount(tick); got != 3 {
		t.Errorf("RequestedMaterializationCount() = %d, want 3", got)
	}

	if got := RequestedPartitionsForAsset(tick, assetA); len(got) != 1 || got[0] != "p1" {
		t.Errorf("RequestedPartitionsForAsset(a) = %v, want [p1]", got)
	}
	if got := RequestedPartitionsForAsset(tick, types.NewAssetKey("raw", "c")); len(got) != 0 {
		t.Errorf("RequestedPartitionsForAsset(c) = %v, want none", got)
	}
}
