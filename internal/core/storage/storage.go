// Package storage implements the persistence collaborators of the scheduler:
// the SQL-backed schedule store (evaluation records, ticks, condition
// snapshots, dynamic partitions, the materialization log) and the badger
// cursor store. The schedule store satisfies conditions.StateReader and
// partitions.DynamicPartitionsStore, so rule evaluation reads through the
// same component the daemon writes to.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/solatis/freshkeeper/internal/conditions"
	"github.com/solatis/freshkeeper/internal/partitions"
	"github.com/solatis/freshkeeper/internal/types"
)

// Queries interface defines the database operations the schedule store needs.
// Implemented by *db.Queries to allow query loading via LoadQueries().
type Queries interface {
	DriverName() string
	Exec(ctx context.Context, name string, args ...interface{}) (sql.Result, error)
	Get(ctx context.Context, name string, dest interface{}, args ...interface{}) error
	Select(ctx context.Context, name string, dest interface{}, args ...interface{}) error
}

// ScheduleStorage is the SQL schedule store. All writes are append-only
// except tick updates and purges; every table keys rows so that replaying a
// tick inserts nothing new.
type ScheduleStorage struct {
	queries Queries
}

// NewScheduleStorage creates a schedule store on top of loaded queries.
func NewScheduleStorage(queries Queries) *ScheduleStorage {
	return &ScheduleStorage{queries: queries}
}

var (
	_ conditions.StateReader            = (*ScheduleStorage)(nil)
	_ partitions.DynamicPartitionsStore = (*ScheduleStorage)(nil)
)

// wrapStore tags a driver failure as ErrStoreUnavailable; the daemon retries
// those at the tick boundary, never mid-evaluation.
func wrapStore(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, types.ErrStoreUnavailable, err)
}

// usesReturning reports whether the driver needs a RETURNING clause to learn
// inserted ids. lib/pq does not implement Result.LastInsertId.
func (s *ScheduleStorage) usesReturning() bool {
	return s.queries.DriverName() == "postgres"
}
