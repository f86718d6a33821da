package partitions

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/solatis/freshkeeper/internal/types"
)

// Subset is an immutable subset of a PartitionsDefinition's key space.
// Operations never mutate; union and difference return fresh values.
// Combining subsets of different kinds or definitions fails with
// types.ErrSubsetMismatch.
type Subset interface {
	Len() int
	IsEmpty() bool
	Contains(key string) bool

	// Keys returns the subset's keys in a deterministic order: lexicographic
	// for key-set subsets, window order for time-window subsets. Use
	// SortedKeys when lexicographic order is required regardless of kind.
	Keys() []string

	Union(other Subset) (Subset, error)
	Difference(other Subset) (Subset, error)

	// Equal compares by key-set content, regardless of representation.
	Equal(other Subset) bool

	// KeyRanges coalesces the subset into contiguous runs of the definition's
	// ordered key sequence, one entry per run rather than per key. Only
	// meaningful for ordered (static, time-window) definitions.
	KeyRanges(ctx context.Context, def PartitionsDefinition, store DynamicPartitionsStore, now time.Time) ([]PartitionKeyRange, error)
}

// PartitionKeyRange is an inclusive [Start, End] run of partition keys in
// definition order.
type PartitionKeyRange struct {
	Start string
	End   string
}

// KeySet builds a key-set subset directly, bypassing definition validation.
// For reconstructing subsets from stored data whose definition may no longer
// exist; live evaluation paths should go through PartitionsDefinition.Subset.
func KeySet(keys ...string) Subset {
	return newKeysSubset(keys)
}

// keysSubset is the hash-set-backed subset used by static and dynamic
// definitions.
type keysSubset struct {
	keys map[string]struct{}
}

func newKeysSubset(keys []string) *keysSubset {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return &keysSubset{keys: set}
}

func (s *keysSubset) Len() int      { return len(s.keys) }
func (s *keysSubset) IsEmpty() bool { return len(s.keys) == 0 }

func (s *keysSubset) Contains(key string) bool {
	_, ok := s.keys[key]
	return ok
}

func (s *keysSubset) Keys() []string {
	out := make([]string, 0, len(s.keys))
	for k := range s.keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *keysSubset) Union(other Subset) (Subset, error) {
	o, ok := other.(*keysSubset)
	if !ok {
		return nil, fmt.Errorf("%w: key subset combined with %T", types.ErrSubsetMismatch, other)
	}
	merged := make(map[string]struct{}, len(s.keys)+len(o.keys))
	for k := range s.keys {
		merged[k] = struct{}{}
	}
	for k := range o.keys {
		merged[k] = struct{}{}
	}
	return &keysSubset{keys: merged}, nil
}

func (s *keysSubset) Difference(other Subset) (Subset, error) {
	o, ok := other.(*keysSubset)
	if !ok {
		return nil, fmt.Errorf("%w: key subset combined with %T", types.ErrSubsetMismatch, other)
	}
	remaining := make(map[string]struct{}, len(s.keys))
	for k := range s.keys {
		if _, drop := o.keys[k]; !drop {
			remaining[k] = struct{}{}
		}
	}
	return &keysSubset{keys: remaining}, nil
}

func (s *keysSubset) Equal(other Subset) bool {
	if o, ok := other.(*keysSubset); ok {
		if len(s.keys) != len(o.keys) {
			return false
		}
		for k := range s.keys {
			if _, ok := o.keys[k]; !ok {
				return false
			}
		}
		return true
	}
	return keySetsEqual(s, other)
}

// KeyRanges scans the definition's ordered key sequence and merges adjacent
// runs of present keys. O(n) over the definition size.
func (s *keysSubset) KeyRanges(ctx context.Context, def PartitionsDefinition, store DynamicPartitionsStore, now time.Time) ([]PartitionKeyRange, error) {
	if def == nil {
		return nil, fmt.Errorf("key ranges require a partitions definition")
	}
	ordered, err := def.Keys(ctx, store, now)
	if err != nil {
		return nil, err
	}
	var ranges []PartitionKeyRange
	open := false
	for _, k := range ordered {
		if _, present := s.keys[k]; present {
			if !open {
				ranges = append(ranges, PartitionKeyRange{Start: k, End: k})
				open = true
			} else {
				ranges[len(ranges)-1].End = k
			}
		} else {
			open = false
		}
	}
	return ranges, nil
}

// keySetsEqual is the representation-independent equality fallback.
func keySetsEqual(a, b Subset) bool {
	if b == nil || a.Len() != b.Len() {
		return false
	}
	for _, k := range a.Keys() {
		if !b.Contains(k) {
			return false
		}
	}
	return true
}
