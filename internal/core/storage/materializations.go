package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/solatis/freshkeeper/internal/types"
)

type materializationRow struct {
	ID           int64          `db:"id"`
	AssetKey     string         `db:"asset_key"`
	PartitionKey sql.NullString `db:"partition_key"`
	RunID        string         `db:"run_id"`
	Timestamp    int64          `db:"timestamp"`
}

func (r materializationRow) toMaterialization() types.Materialization {
	m := types.Materialization{
		StorageID: types.StorageID(r.ID),
		AssetKey:  types.AssetKeyFromString(r.AssetKey),
		RunID:     types.RunID(r.RunID),
		Timestamp: time.UnixMicro(r.Timestamp).UTC(),
	}
	if r.PartitionKey.Valid {
		key := r.PartitionKey.String
		m.PartitionKey = &key
	}
	return m
}

// RecordMaterialization appends one entry to the materialization log and
// returns its storage id. The StorageID field of m is ignored; a zero
// Timestamp defaults to now.
func (s *ScheduleStorage) RecordMaterialization(ctx context.Context, m types.Materialization) (types.StorageID, error) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	var partitionKey sql.NullString
	if m.PartitionKey != nil {
		partitionKey = sql.NullString{String: *m.PartitionKey, Valid: true}
	}

	args := []interface{}{
		m.AssetKey.String(),
		partitionKey,
		string(m.RunID),
		m.Timestamp.UnixMicro(),
	}

	if s.usesReturning() {
		var id int64
		if err := s.queries.Get(ctx, "record-materialization-postgres", &id, args...); err != nil {
			return 0, wrapStore("record materialization", err)
		}
		return types.StorageID(id), nil
	}

	result, err := s.queries.Exec(ctx, "record-materialization", args...)
	if err != nil {
		return 0, wrapStore("record materialization", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, wrapStore("record materialization", err)
	}
	return types.StorageID(id), nil
}

// HasMaterialization reports whether the asset has ever materialized.
// Implements conditions.StateReader.
func (s *ScheduleStorage) HasMaterialization(ctx context.Context, key types.AssetKey) (bool, error) {
	var count int
	if err := s.queries.Get(ctx, "has-materialization", &count, key.String()); err != nil {
		return false, wrapStore("has materialization", err)
	}
	return count > 0, nil
}

// MaterializedPartitionKeys returns every partition key the asset has ever
// materialized, unordered. Implements conditions.StateReader.
func (s *ScheduleStorage) MaterializedPartitionKeys(ctx context.Context, key types.AssetKey) ([]string, error) {
	var keys []string
	if err := s.queries.Select(ctx, "materialized-partition-keys", &keys, key.String()); err != nil {
		return nil, wrapStore("materialized partition keys", err)
	}
	return keys, nil
}

// LatestMaterialization returns the most recent materialization of the
// asset, scoped to one partition when partitionKey is non-nil. Nil when the
// asset (or that partition) never materialized. Implements
// conditions.StateReader.
func (s *ScheduleStorage) LatestMaterialization(ctx context.Context, key types.AssetKey, partitionKey *string) (*types.Materialization, error) {
	var row materializationRow
	var err error
	if partitionKey == nil {
		err = s.queries.Get(ctx, "latest-materialization", &row, key.String())
	} else {
		err = s.queries.Get(ctx, "latest-materialization-for-partition", &row, key.String(), *partitionKey)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStore("latest materialization", err)
	}
	m := row.toMaterialization()
	return &m, nil
}

// MaterializationsSince returns the asset's materializations with storage id
// greater than after, ascending. Implements conditions.StateReader.
func (s *ScheduleStorage) MaterializationsSince(ctx context.Context, key types.AssetKey, after types.StorageID) ([]types.Materialization, error) {
	var rows []materializationRow
	err := s.queries.Select(ctx, "materializations-since", &rows, key.String(), int64(after))
	if err != nil {
		return nil, wrapStore("materializations since", err)
	}
	out := make([]types.Materialization, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toMaterialization())
	}
	return out, nil
}

// MaxStorageID returns the materialization log's high-water mark, 0 when the
// log is empty.
func (s *ScheduleStorage) MaxStorageID(ctx context.Context) (types.StorageID, error) {
	var maxID int64
	if err := s.queries.Get(ctx, "max-storage-id", &maxID); err != nil {
		return 0, wrapStore("max storage id", err)
	}
	return types.StorageID(maxID), nil
}
