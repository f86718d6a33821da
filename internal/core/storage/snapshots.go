package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/solatis/freshkeeper/internal/conditions"
	"github.com/solatis/freshkeeper/internal/types"
)

type snapshotRow struct {
	UniqueID    string `db:"unique_id"`
	ClassName   string `db:"class_name"`
	Description string `db:"description"`
}

// AddConditionSnapshots registers condition snapshots by unique id. Snapshots
// are content-addressed, so re-registering an existing id is a no-op.
func (s *ScheduleStorage) AddConditionSnapshots(ctx context.Context, snapshots []conditions.Snapshot) error {
	now := time.Now().UTC().UnixMicro()
	for _, snapshot := range snapshots {
		_, err := s.queries.Exec(ctx, "add-condition-snapshot",
			snapshot.UniqueID,
			snapshot.ClassName,
			snapshot.Description,
			now,
		)
		if err != nil {
			return wrapStore("add condition snapshots", err)
		}
	}
	return nil
}

// HasConditionSnapshot reports whether a snapshot with the given unique id
// has been registered.
func (s *ScheduleStorage) HasConditionSnapshot(ctx context.Context, uniqueID string) (bool, error) {
	var count int
	if err := s.queries.Get(ctx, "has-condition-snapshot", &count, uniqueID); err != nil {
		return false, wrapStore("has condition snapshot", err)
	}
	return count > 0, nil
}

// GetConditionSnapshot returns the registered snapshot for a unique id, or
// ErrNotFound.
func (s *ScheduleStorage) GetConditionSnapshot(ctx context.Context, uniqueID string) (conditions.Snapshot, error) {
	var row snapshotRow
	err := s.queries.Get(ctx, "get-condition-snapshot", &row, uniqueID)
	if errors.Is(err, sql.ErrNoRows) {
		return conditions.Snapshot{}, fmt.Errorf("condition snapshot %s: %w", uniqueID, types.ErrNotFound)
	}
	if err != nil {
		return conditions.Snapshot{}, wrapStore("get condition snapshot", err)
	}
	return conditions.Snapshot{
		ClassName:   row.ClassName,
		Description: row.Description,
		UniqueID:    row.UniqueID,
	}, nil
}
