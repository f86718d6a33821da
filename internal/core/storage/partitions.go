package storage

import (
	"context"
	"time"
)

// AddDynamicPartitions adds keys to a named dynamic partition set. Keys
// already in the set are left untouched, so insertion order (and with it the
// reported key order) is stable across re-registration.
func (s *ScheduleStorage) AddDynamicPartitions(ctx context.Context, name string, keys []string) error {
	now := time.Now().UTC().UnixMicro()
	for _, key := range keys {
		if _, err := s.queries.Exec(ctx, "add-dynamic-partition", name, key, now); err != nil {
			return wrapStore("add dynamic partitions", err)
		}
	}
	return nil
}

// DeleteDynamicPartition removes one key from a named set. Removing an
// absent key is a no-op.
func (s *ScheduleStorage) DeleteDynamicPartition(ctx context.Context, name, key string) error {
	if _, err := s.queries.Exec(ctx, "delete-dynamic-partition", name, key); err != nil {
		return wrapStore("delete dynamic partition", err)
	}
	return nil
}

// DynamicPartitions returns the current keys of a named set in insertion
// order. Implements partitions.DynamicPartitionsStore.
func (s *ScheduleStorage) DynamicPartitions(ctx context.Context, name string) ([]string, error) {
	var keys []string
	if err := s.queries.Select(ctx, "list-dynamic-partitions", &keys, name); err != nil {
		return nil, wrapStore("list dynamic partitions", err)
	}
	return keys, nil
}

// HasDynamicPartition reports whether a key is currently in a named set.
// Implements partitions.DynamicPartitionsStore.
func (s *ScheduleStorage) HasDynamicPartition(ctx context.Context, name, key string) (bool, error) {
	var count int
	if err := s.queries.Get(ctx, "has-dynamic-partition", &count, name, key); err != nil {
		return false, wrapStore("has dynamic partition", err)
	}
	return count > 0, nil
}
