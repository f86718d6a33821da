package storage

import (
	"context"
	"testing"
	"time"

	"github.com/solatis/freshkeeper/internal/types"
)

func TestMaterializationLog(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	key := types.NewAssetKey("raw", "events")
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	ok, err := store.HasMaterialization(ctx, key)
	if err != nil {
		t.Fatalf("HasMaterialization() error = %v, want nil", err)
	}
	if ok {
		t.Fatalf("HasMaterialization() = true on empty log, want false")
	}

	latest, err := store.LatestMaterialization(ctx, key, nil)
	if err != nil {
		t.Fatalf("LatestMaterialization() error = %v, want nil", err)
	}
	if latest != nil {
		t.Fatalf("LatestMaterialization() = %+v on empty log, want nil", latest)
	}

	partitionA, partitionB := "a", "b"
	entries := []types.Materialization{
		{AssetKey: key, PartitionKey: &partitionA, RunID: "run-1", Timestamp: base},
		{AssetKey: key, PartitionKey: &partitionB, RunID: "run-2", Timestamp: base.Add(time.Minute)},
		{AssetKey: key, PartitionKey: &partitionA, RunID: "run-3", Timestamp: base.Add(2 * time.Minute)},
		{AssetKey: types.NewAssetKey("raw", "users"), RunID: "run-4", Timestamp: base.Add(3 * time.Minute)},
	}

	var lastID types.StorageID
	for i, m := range entries {
		id, err := store.RecordMaterialization(ctx, m)
		if err != nil {
			t.Fatalf("RecordMaterialization(%d) error = %v, want nil", i, err)
		}
		if id <= lastID {
			t.Fatalf("storage id %d not monotonic after %d", id, lastID)
		}
		lastID = id
	}

	ok, err = store.HasMaterialization(ctx, key)
	if err != nil {
		t.Fatalf("HasMaterialization() error = %v, want nil", err)
	}
	if !ok {
		t.Errorf("HasMaterialization() = false, want true")
	}

	keys, err := store.MaterializedPartitionKeys(ctx, key)
	if err != nil {
		t.Fatalf("MaterializedPartitionKeys() error = %v, want nil", err)
	}
	if len(keys) != 2 {
		t.Errorf("MaterializedPartitionKeys() = %v, want 2 distinct keys", keys)
	}

	latest, err = store.LatestMaterialization(ctx, key, nil)
	if err != nil {
		t.Fatalf("LatestMaterialization() error = %v, want nil", err)
	}
	if latest == nil || latest.RunID != "run-3" {
		t.Fatalf("LatestMaterialization() = %+v, want run-3", latest)
	}
	if !latest.Timestamp.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("Timestamp = %v, want %v", latest.Timestamp, base.Add(2*time.Minute))
	}

	latest, err = store.LatestMaterialization(ctx, key, &partitionB)
	if err != nil {
		t.Fatalf("LatestMaterialization(partition) error = %v, want nil", err)
	}
	if latest == nil || latest.RunID != "run-2" {
		t.Fatalf("LatestMaterialization(partition) = %+v, want run-2", latest)
	}

	since, err := store.MaterializationsSince(ctx, key, 1)
	if err != nil {
		t.Fatalf("MaterializationsSince() error = %v, want nil", err)
	}
	if len(since) != 2 {
		t.Fatalf("MaterializationsSince() returned %d entries, want 2", len(since))
	}
	if since[0].RunID != "run-2" || since[1].RunID != "run-3" {
		t.Errorf("MaterializationsSince() order = %s, %s, want run-2, run-3", since[0].RunID, since[1].RunID)
	}

	maxID, err := store.MaxStorageID(ctx)
	if err != nil {
		t.Fatalf("MaxStorageID() error = %v, want nil", err)
	}
	if maxID != lastID {
		t.Errorf("MaxStorageID() = %d, want %d", maxID, lastID)
	}
}

func TestRecordMaterialization_DefaultTimestamp(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	key := types.NewAssetKey("raw", "events")

	before := time.Now().UTC().Add(-time.Second)
	if _, err := store.RecordMaterialization(ctx, types.Materialization{AssetKey: key, RunID: "run-1"}); err != nil {
		t.Fatalf("RecordMaterialization() error = %v, want nil", err)
	}

	latest, err := store.LatestMaterialization(ctx, key, nil)
	if err != nil {
		t.Fatalf("LatestMaterialization() error = %v, want nil", err)
	}
	if latest == nil || latest.Timestamp.Before(before) {
		t.Errorf("Timestamp = %+v, want defaulted to now", latest)
	}
	if latest.PartitionKey != nil {
		t.Errorf("PartitionKey = %v, want nil for whole-asset entry", *latest.PartitionKey)
	}
}

func TestDynamicPartitions(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	keys, err := store.DynamicPartitions(ctx, "regions")
	if err != nil {
		t.Fatalf("DynamicPartitions() error = %v, want nil", err)
	}
	if len(keys) != 0 {
		t.Fatalf("DynamicPartitions() = %v on empty set, want none", keys)
	}

	if err := store.AddDynamicPartitions(ctx, "regions", []string{"eu", "us"}); err != nil {
		t.Fatalf("AddDynamicPartitions() error = %v, want nil", err)
	}
	// Re-adding an existing key leaves it in place.
	if err := store.AddDynamicPartitions(ctx, "regions", []string{"us", "za"}); err != nil {
		t.Fatalf("AddDynamicPartitions() repeat error = %v, want nil", err)
	}

	keys, err = store.DynamicPartitions(ctx, "regions")
	if err != nil {
		t.Fatalf("DynamicPartitions() error = %v, want nil", err)
	}
	if len(keys) != 3 || keys[0] != "eu" || keys[1] != "us" || keys[2] != "za" {
		t.Errorf("DynamicPartitions() = %v, want [eu us za]", keys)
	}

	ok, err := store.HasDynamicPartition(ctx, "regions", "us")
	if err != nil {
		t.Fatalf("HasDynamicPartition() error = %v, want nil", err)
	}
	if !ok {
		t.Errorf("HasDynamicPartition(us) = false, want true")
	}

	ok, err = store.HasDynamicPartition(ctx, "markets", "us")
	if err != nil {
		t.Fatalf("HasDynamicPartition() error = %v, want nil", err)
	}
	if ok {
		t.Errorf("HasDynamicPartition() = true for other set, want false")
	}

	if err := store.DeleteDynamicPartition(ctx, "regions", "us"); err != nil {
		t.Fatalf("DeleteDynamicPartition() error = %v, want nil", err)
	}
	// Deleting an absent key is a no-op.
	if err := store.DeleteDynamicPartition(ctx, "regions", "us"); err != nil {
		t.Fatalf("DeleteDynamicPartition() repeat error = %v, want nil", err)
	}

	keys, err = store.DynamicPartitions(ctx, "regions")
	if err != nil {
		t.Fatalf("DynamicPartitions() error = %v, want nil", err)
	}
	if len(keys) != 2 || keys[0] != "eu" || keys[1] != "za" {
		t.Errorf("DynamicPartitions() = %v after delete, want [eu za]", keys)
	}
}
