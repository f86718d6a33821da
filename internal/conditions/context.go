package conditions

import (
	"context"
	"time"

	"github.com/solatis/freshkeeper/internal/partitions"
	"github.com/solatis/freshkeeper/internal/types"
)

// StateReader is the slice of storage the rules read during evaluation: the
// materialization log, queried per call and never cached across ticks.
// Implemented by core/storage.
type StateReader interface {
	// HasMaterialization reports whether the asset has ever materialized.
	HasMaterialization(ctx context.Context, key types.AssetKey) (bool, error)

	// MaterializedPartitionKeys returns every partition key the asset has
	// ever materialized, unordered.
	MaterializedPartitionKeys(ctx context.Context, key types.AssetKey) ([]string, error)

	// LatestMaterialization returns the most recent materialization of the
	// asset, scoped to one partition when partitionKey is non-nil. Nil result
	// when none exists.
	LatestMaterialization(ctx context.Context, key types.AssetKey, partitionKey *string) (*types.Materialization, error)

	// MaterializationsSince returns materializations with storage id greater
	// than after, ascending.
	MaterializationsSince(ctx context.Context, key types.AssetKey, after types.StorageID) ([]types.Materialization, error)
}

// Parent names one upstream dependency of the asset under evaluation.
type Parent struct {
	Key types.AssetKey
	Def partitions.PartitionsDefinition
}

// Context carries the per-node evaluation state threaded through one walk of
// a condition tree. The asset-level fields are fixed for the whole walk;
// Candidate and Previous specialize per node via ForChild.
type Context struct {
	// Key and Def identify the asset and its partition space; Def is nil for
	// unpartitioned assets.
	Key types.AssetKey
	Def partitions.PartitionsDefinition

	// Store resolves dynamic partition membership; State reads the
	// materialization log.
	Store partitions.DynamicPartitionsStore
	State StateReader

	// Parents are the direct upstream dependencies.
	Parents []Parent

	// Now is the tick instant every time-dependent check evaluates against.
	Now time.Time

	// Candidate is the portion of the asset this node should consider.
	Candidate partitions.AssetSubset

	// Previous is the prior tick's evaluation of this same node, nil when
	// there is none or the tree shape changed.
	Previous *Evaluation

	// PreviousMaxStorageID is the materialization-log high-water mark from
	// the prior tick; "new parent updates" means storage ids beyond it.
	PreviousMaxStorageID types.StorageID
}

// ForChild derives the context for evaluating child with the given candidate
// subset, carrying the matching slice of the previous evaluation along.
func (ec *Context) ForChild(child Condition, candidate partitions.AssetSubset) *Context {
	out := *ec
	out.Candidate = candidate
	out.Previous = ec.Previous.ForChild(child)
	return &out
}

// EmptySubset is the none-of-this-asset value matching the asset's
// partitionedness.
func (ec *Context) EmptySubset() partitions.AssetSubset {
	return partitions.EmptySubset(ec.Key, ec.Def)
}

// AllSubset resolves the asset's full currently-valid subset at the tick
// instant.
func (ec *Context) AllSubset(ctx context.Context) (partitions.AssetSubset, error) {
	return partitions.AllSubset(ctx, ec.Key, ec.Def, ec.Store, ec.Now)
}

// SubsetOf builds a validated partitioned subset of this asset from keys.
func (ec *Context) SubsetOf(ctx context.Context, keys []string) (partitions.AssetSubset, error) {
	if ec.Def == nil {
		return partitions.NewUnpartitionedSubset(ec.Key, len(keys) > 0), nil
	}
	subset, err := ec.Def.Subset(ctx, ec.Store, ec.Now, keys...)
	if err != nil {
		return partitions.AssetSubset{}, err
	}
	return partitions.NewPartitionedSubset(ec.Key, subset), nil
}
