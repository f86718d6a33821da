// Package api is the in-process query layer over the schedule store and the
// cursor store: per-asset evaluation history, per-partition status trees,
// filtered ticks, and the live evaluation id. Read-only; safe to call while
// a tick is in progress, tolerating partial record sets for the tick's
// evaluation id.
//
// Unknown (asset, evaluation id) pairs surface as a not-found result, not an
// error; storage failures arrive pre-tagged as ErrStoreUnavailable by the
// storage package, and cursor decoding never fails.
package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/solatis/freshkeeper/internal/conditions"
	"github.com/solatis/freshkeeper/internal/core/storage"
	"github.com/solatis/freshkeeper/internal/cursor"
	"github.com/solatis/freshkeeper/internal/types"
)

// Service answers projection queries. Thin orchestration layer delegating to
// the storage package; owns no state of its own.
type Service struct {
	schedule *storage.ScheduleStorage
	cursors  *storage.CursorStore
}

// NewService creates a projection service over the given stores.
func NewService(schedule *storage.ScheduleStorage, cursors *storage.CursorStore) (*Service, error) {
	if schedule == nil {
		return nil, fmt.Errorf("schedule storage cannot be nil")
	}
	if cursors == nil {
		return nil, fmt.Errorf("cursor store cannot be nil")
	}
	return &Service{schedule: schedule, cursors: cursors}, nil
}

// EvaluationRecordsForAsset returns the asset's evaluation records, newest
// first. A non-zero cursor resumes strictly below that evaluation id.
func (s *Service) EvaluationRecordsForAsset(ctx context.Context, key types.AssetKey, limit int, cursor types.EvaluationID) ([]storage.EvaluationRecord, error) {
	return s.schedule.EvaluationRecordsForAsset(ctx, key, limit, cursor)
}

// Ticks returns ticks matching the filter, newest first.
func (s *Service) Ticks(ctx context.Context, filter storage.TickFilter) ([]storage.Tick, error) {
	return s.schedule.Ticks(ctx, filter)
}

// PartitionStatusNode is one evaluation node specialized to a single
// partition key: the node's identity plus its verdict for just that key.
// Building the tree is a pure function of the stored record, so repeated
// calls for the same (asset, partition, evaluation id) are identical.
type PartitionStatusNode struct {
	Description string                `json:"description"`
	UniqueID    string                `json:"unique_id"`
	Status      conditions.Status     `json:"status"`
	Children    []PartitionStatusNode `json:"children,omitempty"`
}

// EvaluationForPartition specializes the asset's evaluation tree for one
// evaluation id to a single partition key. The second return reports whether
// the (asset, evaluation id) pair exists; an unknown pair is a result, not
// an error. For unpartitioned assets pass the empty partition key.
func (s *Service) EvaluationForPartition(ctx context.Context, key types.AssetKey, partitionKey string, evaluationID types.EvaluationID) (PartitionStatusNode, bool, error) {
	record, err := s.schedule.EvaluationRecord(ctx, key, evaluationID)
	if errors.Is(err, types.ErrNotFound) {
		return PartitionStatusNode{}, false, nil
	}
	if err != nil {
		return PartitionStatusNode{}, false, err
	}
	return PartitionStatusTree(record.Evaluation.Evaluation, partitionKey), true, nil
}

// PartitionStatusTree specializes an evaluation tree to a single partition
// key. Pure function of the tree; callers holding a record already do not
// need a Service.
func PartitionStatusTree(e *conditions.Evaluation, partitionKey string) PartitionStatusNode {
	node := PartitionStatusNode{
		Description: e.ConditionSnapshot.DisplayDescription(),
		UniqueID:    e.ConditionSnapshot.UniqueID,
		Status:      e.StatusForKey(partitionKey),
	}
	for _, child := range e.ChildEvaluations {
		node.Children = append(node.Children, PartitionStatusTree(child, partitionKey))
	}
	return node
}

// CurrentEvaluationID reads the evaluation id out of the live cursor blob.
// Nil until the first tick has completed.
func (s *Service) CurrentEvaluationID(ctx context.Context) (*types.EvaluationID, error) {
	values, err := s.cursors.Get(ctx, []string{storage.CursorKey})
	if err != nil {
		return nil, err
	}
	blob, ok := values[storage.CursorKey]
	if !ok {
		return nil, nil
	}
	id := cursor.Decode(blob).EvaluationID()
	if id == 0 {
		return nil, nil
	}
	return &id, nil
}
