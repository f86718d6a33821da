// Package partitions models the legal partition space of an asset and
// immutable subsets of that space.
//
// A PartitionsDefinition describes which keys exist (a fixed list, aligned
// time windows, or a named dynamic set resolved against storage at call time).
// A Subset is an immutable value over one definition supporting union,
// difference, containment, iteration and size; two subsets are equal iff
// their key sets are equal, regardless of internal representation.
package partitions

/*
 * Definition kinds and their construction/validation rules.
 *
 * Static definitions carry their key list inline. Time-window definitions
 * derive keys from [start + i*interval, start + (i+1)*interval) windows; a
 * window becomes a valid partition only once it has fully elapsed. Dynamic
 * definitions hold only a name; membership is resolved against an injected
 * DynamicPartitionsStore at call time, never cached, so "current" membership
 * cannot go stale inside the subset model.
 *
 * All constructors validate keys against the definition and fail with
 * types.ErrInvalidPartitionKey naming the offending keys.
 */

import (
	"context"
	"fmt"
	"time"

	"github.com/solatis/freshkeeper/internal/types"
)

// DynamicPartitionsStore resolves the current membership of named dynamic
// partition sets. Implemented by the schedule storage; injected per call.
type DynamicPartitionsStore interface {
	DynamicPartitions(ctx context.Context, name string) ([]string, error)
	HasDynamicPartition(ctx context.Context, name, key string) (bool, error)
}

// PartitionsDefinition describes the legal space of partition keys for an
// asset. Immutable once defined for a given asset version.
//
// Keys returns the ordered currently-valid key sequence; the inverse of
// KeyIndex is positional lookup in that sequence.
type PartitionsDefinition interface {
	Keys(ctx context.Context, store DynamicPartitionsStore, now time.Time) ([]string, error)
	Contains(ctx context.Context, store DynamicPartitionsStore, now time.Time, key string) (bool, error)
	KeyIndex(ctx context.Context, store DynamicPartitionsStore, now time.Time, key string) (int, error)

	// Subset builds a validated subset from keys; Empty is the zero subset.
	Subset(ctx context.Context, store DynamicPartitionsStore, now time.Time, keys ...string) (Subset, error)
	Empty() Subset
}

// StaticPartitionsDefinition is a fixed, ordered key list.
type StaticPartitionsDefinition struct {
	keys  []string
	index map[string]int
}

// NewStaticPartitions builds a static definition. Duplicate keys and key
// spaces beyond types.MaxPartitionKeys are rejected.
func NewStaticPartitions(keys ...string) (*StaticPartitionsDefinition, error) {
	if len(keys) > types.MaxPartitionKeys {
		return nil, fmt.Errorf("%w: %d keys", types.ErrTooManyPartitions, len(keys))
	}
	index := make(map[string]int, len(keys))
	for i, k := range keys {
		if _, ok := index[k]; ok {
			return nil, fmt.Errorf("%w: duplicate key %q", types.ErrInvalidPartitionKey, k)
		}
		index[k] = i
	}
	return &StaticPartitionsDefinition{keys: keys, index: index}, nil
}

// MustStaticPartitions is NewStaticPartitions that panics on error, for
// declaring fixed partition spaces in tests and manifests already validated.
func MustStaticPartitions(keys ...string) *StaticPartitionsDefinition {
	def, err := NewStaticPartitions(keys...)
	if err != nil {
		panic(err)
	}
	return def
}

func (d *StaticPartitionsDefinition) Keys(context.Context, DynamicPartitionsStore, time.Time) ([]string, error) {
	out := make([]string, len(d.keys))
	copy(out, d.keys)
	return out, nil
}

func (d *StaticPartitionsDefinition) Contains(_ context.Context, _ DynamicPartitionsStore, _ time.Time, key string) (bool, error) {
	_, ok := d.index[key]
	return ok, nil
}

func (d *StaticPartitionsDefinition) KeyIndex(_ context.Context, _ DynamicPartitionsStore, _ time.Time, key string) (int, error) {
	i, ok := d.index[key]
	if !ok {
		return 0, fmt.Errorf("%w: %q", types.ErrInvalidPartitionKey, key)
	}
	return i, nil
}

func (d *StaticPartitionsDefinition) Subset(_ context.Context, _ DynamicPartitionsStore, _ time.Time, keys ...string) (Subset, error) {
	for _, k := range keys {
		if _, ok := d.index[k]; !ok {
			return nil, fmt.Errorf("%w: %q", types.ErrInvalidPartitionKey, k)
		}
	}
	return newKeysSubset(keys), nil
}

func (d *StaticPartitionsDefinition) Empty() Subset {
	return newKeysSubset(nil)
}

// DynamicPartitionsDefinition is a named key set whose membership lives in
// storage and changes at runtime. All queries resolve against the injected
// store; a nil store is a programming error surfaced as such.
type DynamicPartitionsDefinition struct {
	Name string
}

// NewDynamicPartitions builds a dynamic definition over a named key set.
func NewDynamicPartitions(name string) *DynamicPartitionsDefinition {
	return &DynamicPartitionsDefinition{Name: name}
}

func (d *DynamicPartitionsDefinition) Keys(ctx context.Context, store DynamicPartitionsStore, _ time.Time) ([]string, error) {
	if store == nil {
		return nil, fmt.Errorf("dynamic partitions %q: no store provided", d.Name)
	}
	return store.DynamicPartitions(ctx, d.Name)
}

func (d *DynamicPartitionsDefinition) Contains(ctx context.Context, store DynamicPartitionsStore, _ time.Time, key string) (bool, error) {
	if store == nil {
		return false, fmt.Errorf("dynamic partitions %q: no store provided", d.Name)
	}
	return store.HasDynamicPartition(ctx, d.Name, key)
}

// KeyIndex returns the key's position in the current key sequence. The index
// is only stable until the dynamic set next changes.
func (d *DynamicPartitionsDefinition) KeyIndex(ctx context.Context, store DynamicPartitionsStore, now time.Time, key string) (int, error) {
	keys, err := d.Keys(ctx, store, now)
	if err != nil {
		return 0, err
	}
	for i, k := range keys {
		if k == key {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", types.ErrInvalidPartitionKey, key)
}

func (d *DynamicPartitionsDefinition) Subset(ctx context.Context, store DynamicPartitionsStore, now time.Time, keys ...string) (Subset, error) {
	for _, k := range keys {
		ok, err := d.Contains(ctx, store, now, k)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %q", types.ErrInvalidPartitionKey, k)
		}
	}
	return newKeysSubset(keys), nil
}

func (d *DynamicPartitionsDefinition) Empty() Subset {
	return newKeysSubset(nil)
}
