package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/solatis/freshkeeper/internal/types"
)

// Tick is one scheduling pass through the asset graph: its lifecycle status,
// the shared evaluation id assigned before any per-asset work, and the runs
// it requested. Error holds the failure message for FAILURE ticks.
type Tick struct {
	ID              int64
	Status          types.TickStatus
	EvaluationID    types.EvaluationID
	StartedAt       time.Time
	EndedAt         *time.Time
	RunIDs          []types.RunID
	RunRequests     []types.RunRequest
	RequestedAssets []types.AssetKey
	Error           string
}

// TickFilter selects and paginates ticks. Day windows are whole days
// relative to now: DayRange N with DayOffset M keeps ticks started in the
// half-open window [now-(N+M) days, now-M days). Explicit Before/After
// bounds override the day computation and keep the same [After, Before)
// shape, so adjacent windows never share a boundary tick. Statuses filters
// after the window; Limit truncates after all filtering; Cursor resumes
// strictly before that tick id.
type TickFilter struct {
	DayRange  int
	DayOffset int
	Before    *time.Time
	After     *time.Time
	Statuses  []types.TickStatus
	Limit     int
	Cursor    int64
}

func (f TickFilter) window(now time.Time) (afterMicros, beforeMicros int64) {
	afterMicros, beforeMicros = math.MinInt64, math.MaxInt64
	if f.DayRange > 0 {
		afterMicros = now.AddDate(0, 0, -(f.DayRange + f.DayOffset)).UnixMicro()
		beforeMicros = now.AddDate(0, 0, -f.DayOffset).UnixMicro()
	}
	if f.After != nil {
		afterMicros = f.After.UnixMicro()
	}
	if f.Before != nil {
		beforeMicros = f.Before.UnixMicro()
	}
	return afterMicros, beforeMicros
}

func (f TickFilter) matchesStatus(status types.TickStatus) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if s == status {
			return true
		}
	}
	return false
}

type tickRow struct {
	ID              int64         `db:"id"`
	Status          string        `db:"status"`
	EvaluationID    int64         `db:"evaluation_id"`
	StartedAt       int64         `db:"started_at"`
	EndedAt         sql.NullInt64 `db:"ended_at"`
	RunIDs          string        `db:"run_ids"`
	RunRequests     string        `db:"run_requests"`
	RequestedAssets string        `db:"requested_assets"`
	Error           string        `db:"error"`
}

func (r tickRow) toTick() (Tick, error) {
	tick := Tick{
		ID:           r.ID,
		Status:       types.TickStatus(r.Status),
		EvaluationID: types.EvaluationID(r.EvaluationID),
		StartedAt:    time.UnixMicro(r.StartedAt).UTC(),
		Error:        r.Error,
	}
	if r.EndedAt.Valid {
		ended := time.UnixMicro(r.EndedAt.Int64).UTC()
		tick.EndedAt = &ended
	}
	if err := json.Unmarshal([]byte(r.RunIDs), &tick.RunIDs); err != nil {
		return Tick{}, fmt.Errorf("tick %d run ids: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.RunRequests), &tick.RunRequests); err != nil {
		return Tick{}, fmt.Errorf("tick %d run requests: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.RequestedAssets), &tick.RequestedAssets); err != nil {
		return Tick{}, fmt.Errorf("tick %d requested assets: %w", r.ID, err)
	}
	return tick, nil
}

// encodeList marshals a slice column, normalizing nil to the empty JSON list
// so stored columns are always valid arrays.
func encodeList[T any](list []T) (string, error) {
	if list == nil {
		list = []T{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (t Tick) listColumns() (runIDs, runRequests, requestedAssets string, err error) {
	if runIDs, err = encodeList(t.RunIDs); err != nil {
		return "", "", "", fmt.Errorf("encode run ids: %w", err)
	}
	if runRequests, err = encodeList(t.RunRequests); err != nil {
		return "", "", "", fmt.Errorf("encode run requests: %w", err)
	}
	if requestedAssets, err = encodeList(t.RequestedAssets); err != nil {
		return "", "", "", fmt.Errorf("encode requested assets: %w", err)
	}
	return runIDs, runRequests, requestedAssets, nil
}

// CreateTick persists a new tick and returns it with its assigned id. A zero
// StartedAt defaults to now; an empty Status defaults to STARTED.
func (s *ScheduleStorage) CreateTick(ctx context.Context, data Tick) (Tick, error) {
	if data.Status == "" {
		data.Status = types.TickStatusStarted
	}
	if !data.Status.Valid() {
		return Tick{}, fmt.Errorf("create tick: unknown status %q", data.Status)
	}
	if data.StartedAt.IsZero() {
		data.StartedAt = time.Now().UTC()
	}

	runIDs, runRequests, requestedAssets, err := data.listColumns()
	if err != nil {
		return Tick{}, fmt.Errorf("create tick: %w", err)
	}

	args := []interface{}{
		string(data.Status),
		int64(data.EvaluationID),
		data.StartedAt.UnixMicro(),
		runIDs,
		runRequests,
		requestedAssets,
		data.Error,
	}

	if s.usesReturning() {
		var id int64
		if err := s.queries.Get(ctx, "create-tick-postgres", &id, args...); err != nil {
			return Tick{}, wrapStore("create tick", err)
		}
		data.ID = id
		return data, nil
	}

	result, err := s.queries.Exec(ctx, "create-tick", args...)
	if err != nil {
		return Tick{}, wrapStore("create tick", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return Tick{}, wrapStore("create tick", err)
	}
	data.ID = id
	return data, nil
}

// UpdateTick overwrites the mutable fields of an existing tick: status, end
// timestamp, run ids, run requests, requested assets, and error. ErrNotFound
// when the id is unknown.
func (s *ScheduleStorage) UpdateTick(ctx context.Context, tick Tick) error {
	if !tick.Status.Valid() {
		return fmt.Errorf("update tick: unknown status %q", tick.Status)
	}

	runIDs, runRequests, requestedAssets, err := tick.listColumns()
	if err != nil {
		return fmt.Errorf("update tick: %w", err)
	}

	var ended sql.NullInt64
	if tick.EndedAt != nil {
		ended = sql.NullInt64{Int64: tick.EndedAt.UnixMicro(), Valid: true}
	}

	result, err := s.queries.Exec(ctx, "update-tick",
		string(tick.Status),
		ended,
		runIDs,
		runRequests,
		requestedAssets,
		tick.Error,
		tick.ID,
	)
	if err != nil {
		return wrapStore("update tick", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return wrapStore("update tick", err)
	}
	if affected == 0 {
		return fmt.Errorf("tick %d: %w", tick.ID, types.ErrNotFound)
	}
	return nil
}

// GetTick returns one tick by id, or ErrNotFound.
func (s *ScheduleStorage) GetTick(ctx context.Context, id int64) (Tick, error) {
	var row tickRow
	err := s.queries.Get(ctx, "get-tick", &row, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Tick{}, fmt.Errorf("tick %d: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return Tick{}, wrapStore("get tick", err)
	}
	return row.toTick()
}

// Ticks returns ticks matching the filter, newest first. The time window is
// applied in SQL; status filtering and the limit apply afterwards, so a
// limited page always holds matching ticks.
func (s *ScheduleStorage) Ticks(ctx context.Context, filter TickFilter) ([]Tick, error) {
	afterMicros, beforeMicros := filter.window(time.Now().UTC())
	cursor := int64(math.MaxInt64)
	if filter.Cursor > 0 {
		cursor = filter.Cursor
	}

	var rows []tickRow
	err := s.queries.Select(ctx, "list-ticks", &rows, afterMicros, beforeMicros, cursor)
	if err != nil {
		return nil, wrapStore("list ticks", err)
	}

	ticks := make([]Tick, 0, len(rows))
	for _, row := range rows {
		tick, err := row.toTick()
		if err != nil {
			return nil, err
		}
		if !filter.matchesStatus(tick.Status) {
			continue
		}
		ticks = append(ticks, tick)
		if filter.Limit > 0 && len(ticks) == filter.Limit {
			break
		}
	}
	return ticks, nil
}

// PurgeTicks deletes ticks started before the given time, optionally
// restricted to a status set. Returns the number of deleted ticks.
func (s *ScheduleStorage) PurgeTicks(ctx context.Context, before time.Time, statuses []types.TickStatus) (int64, error) {
	beforeMicros := before.UnixMicro()

	if len(statuses) == 0 {
		result, err := s.queries.Exec(ctx, "purge-ticks-before", beforeMicros)
		if err != nil {
			return 0, wrapStore("purge ticks", err)
		}
		deleted, err := result.RowsAffected()
		if err != nil {
			return 0, wrapStore("purge ticks", err)
		}
		return deleted, nil
	}

	var total int64
	for _, status := range statuses {
		if !status.Valid() {
			return total, fmt.Errorf("purge ticks: unknown status %q", status)
		}
		result, err := s.queries.Exec(ctx, "purge-ticks-before-status", beforeMicros, string(status))
		if err != nil {
			return total, wrapStore("purge ticks", err)
		}
		deleted, err := result.RowsAffected()
		if err != nil {
			return total, wrapStore("purge ticks", err)
		}
		total += deleted
	}
	return total, nil
}
