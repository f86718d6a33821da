package conditions

/*
 * Built-in schedule rules. Each rule owns one narrow question about asset
 * state ("has this partition ever materialized", "did a parent change") and
 * answers it for the candidate subset only. Rules never look outside their
 * candidate and never mutate state; everything they learn that a human would
 * want to see goes into SubsetsWithMetadata.
 *
 * Rule descriptions are wire-stable: they feed the rule condition's unique
 * id, so rewording a description re-identifies every stored node built on it.
 */

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/solatis/freshkeeper/internal/partitions"
	"github.com/solatis/freshkeeper/internal/types"
)

// DecisionType classifies what a true rule result means for scheduling.
type DecisionType string

const (
	// DecisionMaterialize marks partitions that should be materialized now.
	DecisionMaterialize DecisionType = "MATERIALIZE"
	// DecisionSkip marks partitions to hold back this tick; a later tick is
	// expected to materialize them.
	DecisionSkip DecisionType = "SKIP"
	// DecisionDiscard marks partitions dropped outright; no later tick will
	// pick them up.
	DecisionDiscard DecisionType = "DISCARD"
)

// RuleSnapshot is the serializable identity of a schedule rule.
type RuleSnapshot struct {
	ClassName    string       `json:"class_name"`
	Description  string       `json:"description"`
	DecisionType DecisionType `json:"decision_type"`
}

// ScheduleRule is a leaf predicate over asset state.
type ScheduleRule interface {
	ClassName() string
	Description() string
	DecisionType() DecisionType

	// EvaluateForAsset returns the candidate partitions the rule is true for
	// plus display metadata explaining why.
	EvaluateForAsset(ctx context.Context, ec *Context) (partitions.AssetSubset, []SubsetWithMetadata, error)
}

// SnapshotOfRule builds the rule's serializable identity.
func SnapshotOfRule(r ScheduleRule) RuleSnapshot {
	return RuleSnapshot{
		ClassName:    r.ClassName(),
		Description:  r.Description(),
		DecisionType: r.DecisionType(),
	}
}

// RuleCondition is the leaf node wrapping a ScheduleRule into the condition
// tree.
type RuleCondition struct {
	Rule ScheduleRule
}

func (c RuleCondition) Snapshot() Snapshot {
	return Snapshot{
		ClassName:   classRuleCondition,
		Description: c.Rule.Description(),
		UniqueID:    uniqueID(c.Rule.ClassName(), c.Rule.Description()),
	}
}

func (c RuleCondition) Children() []Condition { return nil }

func (c RuleCondition) Evaluate(ctx context.Context, ec *Context) (*Evaluation, error) {
	start := time.Now().UTC()
	trueSubset, swm, err := c.Rule.EvaluateForAsset(ctx, ec)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", c.Rule.ClassName(), err)
	}
	end := time.Now().UTC()
	candidate := ec.Candidate
	return &Evaluation{
		ConditionSnapshot:   c.Snapshot(),
		TrueSubset:          trueSubset,
		CandidateSubset:     &candidate,
		StartTimestamp:      &start,
		EndTimestamp:        &end,
		SubsetsWithMetadata: swm,
	}, nil
}

// MaterializeOnMissingRule requests partitions that have never materialized.
type MaterializeOnMissingRule struct{}

func (MaterializeOnMissingRule) ClassName() string         { return "MaterializeOnMissingRule" }
func (MaterializeOnMissingRule) Description() string       { return "materialization is missing" }
func (MaterializeOnMissingRule) DecisionType() DecisionType { return DecisionMaterialize }

func (r MaterializeOnMissingRule) EvaluateForAsset(ctx context.Context, ec *Context) (partitions.AssetSubset, []SubsetWithMetadata, error) {
	if !ec.Candidate.IsPartitioned() {
		if !ec.Candidate.BoolValue() {
			return ec.EmptySubset(), nil, nil
		}
		has, err := ec.State.HasMaterialization(ctx, ec.Key)
		if err != nil {
			return partitions.AssetSubset{}, nil, err
		}
		return partitions.NewUnpartitionedSubset(ec.Key, !has), nil, nil
	}

	materialized, err := ec.State.MaterializedPartitionKeys(ctx, ec.Key)
	if err != nil {
		return partitions.AssetSubset{}, nil, err
	}
	seen := make(map[string]struct{}, len(materialized))
	for _, k := range materialized {
		seen[k] = struct{}{}
	}
	var missing []string
	for _, k := range ec.Candidate.Partitions().Keys() {
		if _, ok := seen[k]; !ok {
			missing = append(missing, k)
		}
	}
	trueSubset, err := ec.SubsetOf(ctx, missing)
	if err != nil {
		return partitions.AssetSubset{}, nil, err
	}
	return trueSubset, nil, nil
}

// MaterializeOnParentUpdatedRule requests partitions whose parents have
// materialized since the previous tick's storage high-water mark.
type MaterializeOnParentUpdatedRule struct{}

func (MaterializeOnParentUpdatedRule) ClassName() string { return "MaterializeOnParentUpdatedRule" }
func (MaterializeOnParentUpdatedRule) Description() string {
	return "upstream data has changed since latest materialization"
}
func (MaterializeOnParentUpdatedRule) DecisionType() DecisionType { return DecisionMaterialize }

func (r MaterializeOnParentUpdatedRule) EvaluateForAsset(ctx context.Context, ec *Context) (partitions.AssetSubset, []SubsetWithMetadata, error) {
	if ec.Candidate.IsEmpty() {
		return ec.EmptySubset(), nil, nil
	}

	// Which parents updated which candidate partitions. The empty key stands
	// for the whole asset when unpartitioned.
	updatedBy := make(map[string][]types.AssetKey)
	candidateKeys := candidatePartitionKeys(ec)
	for _, parent := range ec.Parents {
		records, err := ec.State.MaterializationsSince(ctx, parent.Key, ec.PreviousMaxStorageID)
		if err != nil {
			return partitions.AssetSubset{}, nil, err
		}
		touched := make(map[string]struct{})
		for _, m := range records {
			switch {
			case !ec.Candidate.IsPartitioned():
				touched[""] = struct{}{}
			case m.PartitionKey == nil:
				// A whole-asset parent update touches every candidate.
				for _, k := range candidateKeys {
					touched[k] = struct{}{}
				}
			case ec.Candidate.ContainsKey(*m.PartitionKey):
				touched[*m.PartitionKey] = struct{}{}
			}
		}
		for k := range touched {
			updatedBy[k] = append(updatedBy[k], parent.Key)
		}
	}
	return ec.groupByCause(ctx, updatedBy, "updated_parent")
}

// MaterializeOnIntervalRule requests partitions whose latest materialization
// is older than a fixed interval, or that never materialized.
type MaterializeOnIntervalRule struct {
	Every time.Duration
}

// NewMaterializeOnInterval validates the interval.
func NewMaterializeOnInterval(every time.Duration) (MaterializeOnIntervalRule, error) {
	if every <= 0 {
		return MaterializeOnIntervalRule{}, fmt.Errorf("materialize interval must be positive, got %s", every)
	}
	return MaterializeOnIntervalRule{Every: every}, nil
}

func (MaterializeOnIntervalRule) ClassName() string { return "MaterializeOnIntervalRule" }
func (r MaterializeOnIntervalRule) Description() string {
	return fmt.Sprintf("not materialized within the last %s", r.Every)
}
func (MaterializeOnIntervalRule) DecisionType() DecisionType { return DecisionMaterialize }

func (r MaterializeOnIntervalRule) EvaluateForAsset(ctx context.Context, ec *Context) (partitions.AssetSubset, []SubsetWithMetadata, error) {
	stale := func(partitionKey *string) (bool, error) {
		latest, err := ec.State.LatestMaterialization(ctx, ec.Key, partitionKey)
		if err != nil {
			return false, err
		}
		return latest == nil || ec.Now.Sub(latest.Timestamp) >= r.Every, nil
	}

	if !ec.Candidate.IsPartitioned() {
		if !ec.Candidate.BoolValue() {
			return ec.EmptySubset(), nil, nil
		}
		due, err := stale(nil)
		if err != nil {
			return partitions.AssetSubset{}, nil, err
		}
		return partitions.NewUnpartitionedSubset(ec.Key, due), nil, nil
	}

	var dueKeys []string
	for _, k := range ec.Candidate.Partitions().Keys() {
		k := k
		due, err := stale(&k)
		if err != nil {
			return partitions.AssetSubset{}, nil, err
		}
		if due {
			dueKeys = append(dueKeys, k)
		}
	}
	trueSubset, err := ec.SubsetOf(ctx, dueKeys)
	if err != nil {
		return partitions.AssetSubset{}, nil, err
	}
	return trueSubset, nil, nil
}

// SkipOnParentMissingRule holds back partitions with a parent that has never
// materialized the corresponding data.
type SkipOnParentMissingRule struct{}

func (SkipOnParentMissingRule) ClassName() string { return "SkipOnParentMissingRule" }
func (SkipOnParentMissingRule) Description() string {
	return "waiting on upstream data to be present"
}
func (SkipOnParentMissingRule) DecisionType() DecisionType { return DecisionSkip }

func (r SkipOnParentMissingRule) EvaluateForAsset(ctx context.Context, ec *Context) (partitions.AssetSubset, []SubsetWithMetadata, error) {
	if ec.Candidate.IsEmpty() {
		return ec.EmptySubset(), nil, nil
	}

	type parentState struct {
		has  bool
		keys map[string]struct{}
	}
	states := make([]parentState, len(ec.Parents))
	for i, parent := range ec.Parents {
		if parent.Def == nil {
			has, err := ec.State.HasMaterialization(ctx, parent.Key)
			if err != nil {
				return partitions.AssetSubset{}, nil, err
			}
			states[i] = parentState{has: has}
			continue
		}
		keys, err := ec.State.MaterializedPartitionKeys(ctx, parent.Key)
		if err != nil {
			return partitions.AssetSubset{}, nil, err
		}
		set := make(map[string]struct{}, len(keys))
		for _, k := range keys {
			set[k] = struct{}{}
		}
		states[i] = parentState{has: len(keys) > 0, keys: set}
	}

	// A partitioned parent blocks the matching partition key; an
	// unpartitioned parent blocks everything until it materializes once.
	waitingBy := make(map[string][]types.AssetKey)
	mark := func(partitionKey string, parent types.AssetKey) {
		waitingBy[partitionKey] = append(waitingBy[partitionKey], parent)
	}
	if !ec.Candidate.IsPartitioned() {
		for i, parent := range ec.Parents {
			if !states[i].has {
				mark("", parent.Key)
			}
		}
	} else {
		for _, k := range ec.Candidate.Partitions().Keys() {
			for i, parent := range ec.Parents {
				if states[i].keys != nil {
					if _, ok := states[i].keys[k]; !ok {
						mark(k, parent.Key)
					}
				} else if !states[i].has {
					mark(k, parent.Key)
				}
			}
		}
	}
	return ec.groupByCause(ctx, waitingBy, "waiting_on_ancestor")
}

// DiscardOnExceedingLimitRule drops candidates beyond a per-tick request
// budget, keeping the earliest partitions in definition order.
type DiscardOnExceedingLimitRule struct {
	Limit int
}

// NewDiscardOnExceedingLimit validates the budget.
func NewDiscardOnExceedingLimit(limit int) (DiscardOnExceedingLimitRule, error) {
	if limit < 1 {
		return DiscardOnExceedingLimitRule{}, fmt.Errorf("discard limit must be at least 1, got %d", limit)
	}
	return DiscardOnExceedingLimitRule{Limit: limit}, nil
}

func (DiscardOnExceedingLimitRule) ClassName() string { return "DiscardOnExceedingLimitRule" }
func (r DiscardOnExceedingLimitRule) Description() string {
	return fmt.Sprintf("exceeds %d requested materialization(s) per evaluation", r.Limit)
}
func (DiscardOnExceedingLimitRule) DecisionType() DecisionType { return DecisionDiscard }

func (r DiscardOnExceedingLimitRule) EvaluateForAsset(ctx context.Context, ec *Context) (partitions.AssetSubset, []SubsetWithMetadata, error) {
	if !ec.Candidate.IsPartitioned() {
		return partitions.NewUnpartitionedSubset(ec.Key, ec.Candidate.BoolValue() && r.Limit < 1), nil, nil
	}
	if ec.Candidate.Size() <= r.Limit {
		return ec.EmptySubset(), nil, nil
	}
	ordered, err := ec.Def.Keys(ctx, ec.Store, ec.Now)
	if err != nil {
		return partitions.AssetSubset{}, nil, err
	}
	kept := 0
	var discard []string
	for _, k := range ordered {
		if !ec.Candidate.ContainsKey(k) {
			continue
		}
		kept++
		if kept > r.Limit {
			discard = append(discard, k)
		}
	}
	trueSubset, err := ec.SubsetOf(ctx, discard)
	if err != nil {
		return partitions.AssetSubset{}, nil, err
	}
	return trueSubset, nil, nil
}

func candidatePartitionKeys(ec *Context) []string {
	if !ec.Candidate.IsPartitioned() {
		return nil
	}
	return ec.Candidate.Partitions().Keys()
}

// groupByCause folds a partition-key -> causing-parents mapping into a true
// subset plus one SubsetWithMetadata per distinct parent set, metadata keyed
// prefix_1..prefix_n over the sorted parents.
func (ec *Context) groupByCause(ctx context.Context, causes map[string][]types.AssetKey, prefix string) (partitions.AssetSubset, []SubsetWithMetadata, error) {
	if len(causes) == 0 {
		return ec.EmptySubset(), nil, nil
	}

	groups := make(map[string][]string)
	parentsByGroup := make(map[string][]types.AssetKey)
	for partitionKey, parents := range causes {
		sorted := sortedUniqueKeys(parents)
		id := groupID(sorted)
		groups[id] = append(groups[id], partitionKey)
		parentsByGroup[id] = sorted
	}

	groupIDs := make([]string, 0, len(groups))
	for id := range groups {
		groupIDs = append(groupIDs, id)
	}
	sort.Strings(groupIDs)

	trueSubset := ec.EmptySubset()
	swm := make([]SubsetWithMetadata, 0, len(groupIDs))
	for _, id := range groupIDs {
		var subset partitions.AssetSubset
		var err error
		if ec.Candidate.IsPartitioned() {
			subset, err = ec.SubsetOf(ctx, groups[id])
		} else {
			subset = partitions.NewUnpartitionedSubset(ec.Key, true)
		}
		if err != nil {
			return partitions.AssetSubset{}, nil, err
		}
		swm = append(swm, SubsetWithMetadata{
			Subset:   subset,
			Metadata: assetListMetadata(prefix, parentsByGroup[id]),
		})
		trueSubset, err = trueSubset.Union(subset)
		if err != nil {
			return partitions.AssetSubset{}, nil, err
		}
	}
	return trueSubset, swm, nil
}

func sortedUniqueKeys(keys []types.AssetKey) []types.AssetKey {
	seen := make(map[string]struct{}, len(keys))
	out := make([]types.AssetKey, 0, len(keys))
	for _, k := range keys {
		s := k.String()
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return slices.Compare(out[i].Path, out[j].Path) < 0 })
	return out
}

func groupID(sorted []types.AssetKey) string {
	parts := make([]string, len(sorted))
	for i, k := range sorted {
		parts[i] = k.String()
	}
	return strings.Join(parts, "\x00")
}
