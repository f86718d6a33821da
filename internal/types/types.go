// Package types provides domain models shared across FreshKeeper components.
//
// Zero-dependency design: types.go and errors.go use only encoding/json so the
// evaluator packages stay free of storage and transport concerns. ID utilities
// in ids.go import uuid but are isolated for selective inclusion.
package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AssetKey identifies a trackable data asset as an ordered sequence of path
// segments. Keys are compared by full path equality; the canonical string form
// joins segments with "/" and is what map-keyed structures should use, since
// the struct itself is not comparable.
type AssetKey struct {
	Path []string
}

// NewAssetKey builds an AssetKey from path segments.
func NewAssetKey(segments ...string) AssetKey {
	return AssetKey{Path: segments}
}

// AssetKeyFromString parses the canonical "/"-joined form.
func AssetKeyFromString(s string) AssetKey {
	if s == "" {
		return AssetKey{}
	}
	return AssetKey{Path: strings.Split(s, "/")}
}

// String returns the canonical "/"-joined form.
func (k AssetKey) String() string {
	return strings.Join(k.Path, "/")
}

// Equal reports whether two keys have identical paths.
func (k AssetKey) Equal(other AssetKey) bool {
	if len(k.Path) != len(other.Path) {
		return false
	}
	for i := range k.Path {
		if k.Path[i] != other.Path[i] {
			return false
		}
	}
	return true
}

// IsZero reports whether the key has no segments.
func (k AssetKey) IsZero() bool {
	return len(k.Path) == 0
}

// MarshalJSON serializes the key as a bare JSON array of segments.
func (k AssetKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.Path)
}

// UnmarshalJSON accepts a JSON array of segments.
func (k *AssetKey) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &k.Path)
}

// EvaluationID is the monotonic identifier assigned per scheduling tick and
// shared by every asset evaluated in that tick.
type EvaluationID int64

// StorageID is the monotonic identifier over the materialization log. Cursors
// carry a per-asset StorageID high-water mark so each tick only considers
// materializations it has not seen before.
type StorageID int64

// RunID represents a UUIDv7 run identifier assigned when a run request is
// handed to the launcher. String alias enables type safety while maintaining
// JSON string serialization.
type RunID string

// RunRequest asks the execution engine to materialize one or more assets,
// optionally scoped to a single partition key. One request may name multiple
// assets, so aggregation over requests must deduplicate by (asset, partition)
// pair rather than count requests.
type RunRequest struct {
	AssetKeys    []AssetKey        `json:"asset_keys"`
	PartitionKey *string           `json:"partition_key,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
}

// Materialization is one entry in the append-only materialization log. A nil
// PartitionKey means the whole (unpartitioned) asset was materialized.
type Materialization struct {
	StorageID    StorageID `json:"storage_id" db:"id"`
	AssetKey     AssetKey  `json:"asset_key" db:"asset_key"`
	PartitionKey *string   `json:"partition_key,omitempty" db:"partition_key"`
	RunID        RunID     `json:"run_id" db:"run_id"`
	Timestamp    time.Time `json:"timestamp" db:"timestamp"`
}

// TickStatus is the lifecycle state of one scheduling tick.
type TickStatus string

const (
	TickStatusStarted TickStatus = "STARTED"
	TickStatusSuccess TickStatus = "SUCCESS"
	TickStatusFailure TickStatus = "FAILURE"
	TickStatusSkipped TickStatus = "SKIPPED"
)

// Valid reports whether s is one of the known tick statuses.
func (s TickStatus) Valid() bool {
	switch s {
	case TickStatusStarted, TickStatusSuccess, TickStatusFailure, TickStatusSkipped:
		return true
	}
	return false
}

// ParseTickStatus converts a string to a TickStatus, rejecting unknown values
// so malformed filters fail loudly instead of silently matching nothing.
func ParseTickStatus(s string) (TickStatus, error) {
	status := TickStatus(strings.ToUpper(s))
	if !status.Valid() {
		return "", fmt.Errorf("unknown tick status %q", s)
	}
	return status, nil
}

// Resource limits enforced by the evaluation engine to keep a single tick's
// memory and latency bounded.
const (
	// MaxPartitionKeys limits the key space of a single partitions definition.
	// 100k keys keeps full-subset iteration and serialization tractable;
	// larger spaces should use time-window definitions.
	MaxPartitionKeys = 100_000

	// MaxConditionDepth prevents stack overflow during recursive evaluation.
	// 24 levels is far beyond any policy the compiler produces (depth 4).
	MaxConditionDepth = 24

	// MaxAssetKeySegments bounds key path length; deep hierarchies beyond 16
	// segments indicate a runaway key generator, not a real asset catalog.
	MaxAssetKeySegments = 16

	// MaxManifestAssets caps assets per manifest so one daemon instance has a
	// bounded tick working set. Shard across daemons beyond this.
	MaxManifestAssets = 4096

	// MaxRunRequestsPerTick caps the requests a single tick may emit; the
	// discard rule should fire long before this backstop.
	MaxRunRequestsPerTick = 10_000
)
