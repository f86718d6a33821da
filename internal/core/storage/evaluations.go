package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/solatis/freshkeeper/internal/conditions"
	"github.com/solatis/freshkeeper/internal/types"
)

// EvaluationRecord is the persisted envelope around one asset's evaluation
// for one tick: a storage-assigned row id, the tick's shared evaluation id,
// and the decoded evaluation tree with its run ids. Created once per
// (asset, tick) and never modified, only superseded by later records.
type EvaluationRecord struct {
	ID           int64
	EvaluationID types.EvaluationID
	AssetKey     types.AssetKey
	Timestamp    time.Time
	Evaluation   *conditions.EvaluationWithRunIDs
}

type evaluationRow struct {
	ID           int64  `db:"id"`
	EvaluationID int64  `db:"evaluation_id"`
	AssetKey     string `db:"asset_key"`
	Record       []byte `db:"record"`
	NumRequested int    `db:"num_requested"`
	CreatedAt    int64  `db:"created_at"`
}

func (r evaluationRow) toRecord() (EvaluationRecord, error) {
	evaluation, err := conditions.DecodeRecord(r.Record)
	if err != nil {
		return EvaluationRecord{}, fmt.Errorf("evaluation record %d: %w", r.ID, err)
	}
	return EvaluationRecord{
		ID:           r.ID,
		EvaluationID: types.EvaluationID(r.EvaluationID),
		AssetKey:     types.AssetKeyFromString(r.AssetKey),
		Timestamp:    time.UnixMicro(r.CreatedAt).UTC(),
		Evaluation:   evaluation,
	}, nil
}

// AddAssetEvaluations persists one record per evaluated asset under the
// tick's shared evaluation id. Each insert is independently atomic, and the
// (evaluation_id, asset_key) constraint makes replays insert nothing, so a
// crashed tick can be retried with the same id.
func (s *ScheduleStorage) AddAssetEvaluations(ctx context.Context, evaluationID types.EvaluationID, evaluations []*conditions.EvaluationWithRunIDs) error {
	now := time.Now().UTC().UnixMicro()
	for _, evaluation := range evaluations {
		record, err := conditions.EncodeRecord(evaluation)
		if err != nil {
			return fmt.Errorf("add asset evaluations: %w", err)
		}
		_, err = s.queries.Exec(ctx, "add-asset-evaluation",
			int64(evaluationID),
			evaluation.AssetKey().String(),
			record,
			evaluation.NumRequested(),
			now,
		)
		if err != nil {
			return wrapStore("add asset evaluations", err)
		}
	}
	return nil
}

// EvaluationRecordsForAsset returns the asset's records descending by
// evaluation id. A non-zero cursor resumes strictly below that evaluation
// id; a non-positive limit means no cap.
func (s *ScheduleStorage) EvaluationRecordsForAsset(ctx context.Context, key types.AssetKey, limit int, cursor types.EvaluationID) ([]EvaluationRecord, error) {
	before := int64(math.MaxInt64)
	if cursor > 0 {
		before = int64(cursor)
	}
	if limit <= 0 {
		limit = math.MaxInt32
	}

	var rows []evaluationRow
	err := s.queries.Select(ctx, "evaluation-records-for-asset", &rows, key.String(), before, limit)
	if err != nil {
		return nil, wrapStore("evaluation records for asset", err)
	}

	records := make([]EvaluationRecord, 0, len(rows))
	for _, row := range rows {
		record, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// EvaluationRecord returns the asset's record for one evaluation id, or
// ErrNotFound when that (asset, evaluation id) pair was never persisted.
func (s *ScheduleStorage) EvaluationRecord(ctx context.Context, key types.AssetKey, evaluationID types.EvaluationID) (EvaluationRecord, error) {
	var row evaluationRow
	err := s.queries.Get(ctx, "evaluation-record", &row, key.String(), int64(evaluationID))
	if errors.Is(err, sql.ErrNoRows) {
		return EvaluationRecord{}, fmt.Errorf("evaluation %d for asset %s: %w", evaluationID, key, types.ErrNotFound)
	}
	if err != nil {
		return EvaluationRecord{}, wrapStore("evaluation record", err)
	}
	return row.toRecord()
}

// EvaluationsForEvaluationID returns every asset's record for one tick,
// ordered by asset key. Empty result when the id is unknown.
func (s *ScheduleStorage) EvaluationsForEvaluationID(ctx context.Context, evaluationID types.EvaluationID) ([]EvaluationRecord, error) {
	var rows []evaluationRow
	err := s.queries.Select(ctx, "evaluations-for-evaluation-id", &rows, int64(evaluationID))
	if err != nil {
		return nil, wrapStore("evaluations for evaluation id", err)
	}

	records := make([]EvaluationRecord, 0, len(rows))
	for _, row := range rows {
		record, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// MaxEvaluationID returns the highest persisted evaluation id, 0 when no
// record exists yet.
func (s *ScheduleStorage) MaxEvaluationID(ctx context.Context) (types.EvaluationID, error) {
	var maxID int64
	if err := s.queries.Get(ctx, "max-evaluation-id", &maxID); err != nil {
		return 0, wrapStore("max evaluation id", err)
	}
	return types.EvaluationID(maxID), nil
}
