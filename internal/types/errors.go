package types

import "errors"

// Sentinel errors for FreshKeeper operations.
var (
	// ErrInvalidPartitionKey indicates a partition key outside its definition's
	// key space. Always surfaced to the caller, never silently dropped.
	ErrInvalidPartitionKey = errors.New("partition key not in partitions definition")

	// ErrSubsetMismatch indicates arithmetic between asset subsets with
	// different asset keys or mixed partitioned/unpartitioned values.
	ErrSubsetMismatch = errors.New("asset subsets are not compatible")

	// ErrNotFound indicates an unknown evaluation id, snapshot id, or tick.
	// The projection layer returns this as an explicit result, not a panic.
	ErrNotFound = errors.New("not found")

	// ErrStoreUnavailable indicates a transient storage I/O failure. Retried
	// at the tick boundary only, never mid-evaluation.
	ErrStoreUnavailable = errors.New("storage unavailable")

	// ErrConditionTooDeep indicates a condition tree exceeds MaxConditionDepth.
	ErrConditionTooDeep = errors.New("condition tree exceeds maximum depth")

	// ErrTooManyPartitions indicates a definition exceeds MaxPartitionKeys.
	ErrTooManyPartitions = errors.New("partitions definition has too many keys")

	// ErrInvalidManifest indicates a malformed or cyclic asset manifest.
	ErrInvalidManifest = errors.New("invalid asset manifest")

	// ErrEmptyPolicy indicates an automation policy with no materialize rules;
	// such a policy can never request anything and is a configuration mistake.
	ErrEmptyPolicy = errors.New("automation policy has no materialize rules")
)
