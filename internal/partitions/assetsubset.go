package partitions

/*
 * AssetSubset pairs an asset key with either a bool (unpartitioned assets)
 * or a partition Subset, giving partitioned and unpartitioned assets one
 * uniform value type for condition evaluation.
 *
 * A given asset is consistently one or the other across its lifetime;
 * arithmetic between mismatched subsets (different asset, or bool vs
 * partitioned) is a programming error surfaced as types.ErrSubsetMismatch,
 * never coerced.
 */

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/solatis/freshkeeper/internal/types"
)

// AssetSubset is "some portion of an asset": all of it, none of it, or a
// specific set of partitions. Immutable.
type AssetSubset struct {
	key        types.AssetKey
	boolValue  bool
	partitions Subset // nil means unpartitioned
}

// NewUnpartitionedSubset builds a bool-valued subset for an unpartitioned
// asset: true is the whole asset, false is none of it.
func NewUnpartitionedSubset(key types.AssetKey, value bool) AssetSubset {
	return AssetSubset{key: key, boolValue: value}
}

// NewPartitionedSubset builds a subset-valued AssetSubset.
func NewPartitionedSubset(key types.AssetKey, subset Subset) AssetSubset {
	return AssetSubset{key: key, partitions: subset}
}

// AllSubset resolves "the whole asset right now": bool true if def is nil
// (unpartitioned), else every currently valid partition key, resolving
// dynamic definitions against the store at now.
func AllSubset(ctx context.Context, key types.AssetKey, def PartitionsDefinition, store DynamicPartitionsStore, now time.Time) (AssetSubset, error) {
	if def == nil {
		return NewUnpartitionedSubset(key, true), nil
	}
	keys, err := def.Keys(ctx, store, now)
	if err != nil {
		return AssetSubset{}, err
	}
	subset, err := def.Subset(ctx, store, now, keys...)
	if err != nil {
		return AssetSubset{}, err
	}
	return NewPartitionedSubset(key, subset), nil
}

// EmptySubset is the none-of-the-asset value for either kind.
func EmptySubset(key types.AssetKey, def PartitionsDefinition) AssetSubset {
	if def == nil {
		return NewUnpartitionedSubset(key, false)
	}
	return NewPartitionedSubset(key, def.Empty())
}

// Key returns the asset this subset belongs to.
func (s AssetSubset) Key() types.AssetKey { return s.key }

// IsPartitioned reports whether the subset is partition-valued.
func (s AssetSubset) IsPartitioned() bool { return s.partitions != nil }

// BoolValue returns the unpartitioned value; false for partitioned subsets.
func (s AssetSubset) BoolValue() bool { return !s.IsPartitioned() && s.boolValue }

// Partitions returns the backing subset, nil when unpartitioned.
func (s AssetSubset) Partitions() Subset { return s.partitions }

// Size is 1/0 for bool subsets and the key count for partitioned ones.
func (s AssetSubset) Size() int {
	if s.IsPartitioned() {
		return s.partitions.Len()
	}
	if s.boolValue {
		return 1
	}
	return 0
}

// IsEmpty reports a zero-size subset.
func (s AssetSubset) IsEmpty() bool { return s.Size() == 0 }

// ContainsKey reports membership of a partition key; for unpartitioned
// subsets the empty key stands for the whole asset.
func (s AssetSubset) ContainsKey(partitionKey string) bool {
	if s.IsPartitioned() {
		return s.partitions.Contains(partitionKey)
	}
	return partitionKey == "" && s.boolValue
}

// Minus removes other's partitions (or clears the bool). Both subsets must
// share the asset key and partitionedness.
func (s AssetSubset) Minus(other AssetSubset) (AssetSubset, error) {
	if err := s.checkCompatible(other); err != nil {
		return AssetSubset{}, err
	}
	if !s.IsPartitioned() {
		return NewUnpartitionedSubset(s.key, s.boolValue && !other.boolValue), nil
	}
	diff, err := s.partitions.Difference(other.partitions)
	if err != nil {
		return AssetSubset{}, err
	}
	return NewPartitionedSubset(s.key, diff), nil
}

// Union combines two subsets of the same asset.
func (s AssetSubset) Union(other AssetSubset) (AssetSubset, error) {
	if err := s.checkCompatible(other); err != nil {
		return AssetSubset{}, err
	}
	if !s.IsPartitioned() {
		return NewUnpartitionedSubset(s.key, s.boolValue || other.boolValue), nil
	}
	merged, err := s.partitions.Union(other.partitions)
	if err != nil {
		return AssetSubset{}, err
	}
	return NewPartitionedSubset(s.key, merged), nil
}

// Intersect keeps only partitions present in both subsets.
func (s AssetSubset) Intersect(other AssetSubset) (AssetSubset, error) {
	if err := s.checkCompatible(other); err != nil {
		return AssetSubset{}, err
	}
	if !s.IsPartitioned() {
		return NewUnpartitionedSubset(s.key, s.boolValue && other.boolValue), nil
	}
	// a ∩ b == a − (a − b); avoids a third set primitive on Subset.
	diff, err := s.partitions.Difference(other.partitions)
	if err != nil {
		return AssetSubset{}, err
	}
	inter, err := s.partitions.Difference(diff)
	if err != nil {
		return AssetSubset{}, err
	}
	return NewPartitionedSubset(s.key, inter), nil
}

// Equal compares asset key and key-set content.
func (s AssetSubset) Equal(other AssetSubset) bool {
	if !s.key.Equal(other.key) || s.IsPartitioned() != other.IsPartitioned() {
		return false
	}
	if !s.IsPartitioned() {
		return s.boolValue == other.boolValue
	}
	return s.partitions.Equal(other.partitions)
}

func (s AssetSubset) checkCompatible(other AssetSubset) error {
	if !s.key.Equal(other.key) {
		return fmt.Errorf("%w: %s vs %s", types.ErrSubsetMismatch, s.key, other.key)
	}
	if s.IsPartitioned() != other.IsPartitioned() {
		return fmt.Errorf("%w: asset %s mixes partitioned and unpartitioned values", types.ErrSubsetMismatch, s.key)
	}
	return nil
}

// assetSubsetJSON is the wire shape: value is either a bool or a serialized
// partition subset object.
type assetSubsetJSON struct {
	AssetKey types.AssetKey  `json:"asset_key"`
	Value    json.RawMessage `json:"value"`
}

// MarshalJSON implements json.Marshaler.
func (s AssetSubset) MarshalJSON() ([]byte, error) {
	var value json.RawMessage
	var err error
	if s.IsPartitioned() {
		value, err = MarshalSubset(s.partitions)
		if err != nil {
			return nil, err
		}
	} else {
		value, err = json.Marshal(s.boolValue)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(assetSubsetJSON{AssetKey: s.key, Value: value})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *AssetSubset) UnmarshalJSON(data []byte) error {
	var raw assetSubsetJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var boolValue bool
	if err := json.Unmarshal(raw.Value, &boolValue); err == nil {
		*s = NewUnpartitionedSubset(raw.AssetKey, boolValue)
		return nil
	}
	subset, err := UnmarshalSubset(raw.Value)
	if err != nil {
		return err
	}
	*s = NewPartitionedSubset(raw.AssetKey, subset)
	return nil
}
