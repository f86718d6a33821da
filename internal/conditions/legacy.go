package conditions

/*
 * Legacy evaluation records. Before evaluations were stored as full trees,
 * one record held a flat list of (rule evaluation, serialized subset) pairs
 * plus an optional list of the rule snapshots in force, all in a tagged-JSON
 * envelope ("__class__" discriminators, "__set__"/"__frozenset__" wrappers,
 * dotted "__enum__" values).
 *
 * decodeLegacyRecord rebuilds the tree shape the modern evaluator produces:
 * one leaf per rule snapshot, materialize leaves under an or-node, skip
 * leaves under an inverted or-node, a lone discard leaf inverted directly
 * (omitted unless exactly one), all under a root and-node. The tree is
 * synthetic, so every candidate subset is nil and composite descriptions are
 * empty; reads fall back to DisplayDescription.
 *
 * Old partitioned subsets were serialized against partition definitions we
 * no longer have, so they rebuild as empty; unpartitioned truth is recovered
 * from pair presence. Null or missing optional fields degrade to empty,
 * never to an error.
 */

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/solatis/freshkeeper/internal/partitions"
	"github.com/solatis/freshkeeper/internal/types"
)

// Wire discriminators of the legacy envelope.
const (
	legacyEvaluationClass = "AutoMaterializeAssetEvaluation"

	legacyTextDataClass          = "TextRuleEvaluationData"
	legacyParentUpdatedDataClass = "ParentUpdatedRuleEvaluationData"
	legacyWaitingOnDataClass     = "WaitingOnAssetsRuleEvaluationData"
)

type legacyAssetKey struct {
	Path []string `json:"path"`
}

type legacyEnum struct {
	Value string `json:"__enum__"`
}

// decisionType strips the enum-class prefix, "AutoMaterializeDecisionType.SKIP" -> "SKIP".
func (e legacyEnum) decisionType() DecisionType {
	s := e.Value
	if i := strings.LastIndex(s, "."); i >= 0 {
		s = s[i+1:]
	}
	return DecisionType(s)
}

type legacyFrozenSet struct {
	Items []legacyAssetKey `json:"__frozenset__"`
}

type legacyStringSet struct {
	Items []string `json:"__set__"`
}

type legacyRuleSnapshot struct {
	ClassName    string     `json:"class_name"`
	Description  string     `json:"description"`
	DecisionType legacyEnum `json:"decision_type"`
}

// groupKey identifies a rule snapshot by content for pair grouping.
func (s legacyRuleSnapshot) groupKey() string {
	return strings.Join([]string{s.ClassName, s.Description, string(s.DecisionType.decisionType())}, "\x00")
}

type legacyEvaluationData struct {
	Class               string          `json:"__class__"`
	Text                string          `json:"text"`
	UpdatedAssetKeys    legacyFrozenSet `json:"updated_asset_keys"`
	WillUpdateAssetKeys legacyFrozenSet `json:"will_update_asset_keys"`
	WaitingOnAssetKeys  legacyFrozenSet `json:"waiting_on_asset_keys"`
}

type legacyRuleEvaluation struct {
	EvaluationData *legacyEvaluationData `json:"evaluation_data"`
	RuleSnapshot   legacyRuleSnapshot    `json:"rule_snapshot"`
}

type legacyRecord struct {
	AssetKey legacyAssetKey `json:"asset_key"`

	// Pairs of [rule evaluation, serialized subset or null]; heterogeneous,
	// so decoded in two steps.
	PartitionSubsetsByCondition []json.RawMessage `json:"partition_subsets_by_condition"`

	RuleSnapshots []legacyRuleSnapshot `json:"rule_snapshots"`
	RunIDs        legacyStringSet      `json:"run_ids"`
}

// legacyPair is one decoded flat-list entry. Partitioned subsets cannot be
// rebuilt without their original definition; only presence is retained.
type legacyPair struct {
	rule        legacyRuleEvaluation
	partitioned bool
}

func decodeLegacyRecord(data []byte) (*EvaluationWithRunIDs, error) {
	var raw legacyRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode legacy evaluation record: %w", err)
	}

	assetKey := types.AssetKey{Path: raw.AssetKey.Path}

	pairs := make([]legacyPair, 0, len(raw.PartitionSubsetsByCondition))
	isPartitioned := false
	for _, rawPair := range raw.PartitionSubsetsByCondition {
		var elems []json.RawMessage
		if err := json.Unmarshal(rawPair, &elems); err != nil || len(elems) == 0 {
			continue
		}
		var pair legacyPair
		if err := json.Unmarshal(elems[0], &pair.rule); err != nil {
			continue
		}
		pair.partitioned = len(elems) > 1 && !isJSONNull(elems[1])
		isPartitioned = isPartitioned || pair.partitioned
		pairs = append(pairs, pair)
	}

	pairsByRule := make(map[string][]legacyPair)
	for _, pair := range pairs {
		k := pair.rule.RuleSnapshot.groupKey()
		pairsByRule[k] = append(pairsByRule[k], pair)
	}

	materialize := legacyDecisionEvaluation(assetKey, pairsByRule, raw.RuleSnapshots, isPartitioned, DecisionMaterialize)
	notSkip := legacyDecisionEvaluation(assetKey, pairsByRule, raw.RuleSnapshots, isPartitioned, DecisionSkip)
	notDiscard := legacyDecisionEvaluation(assetKey, pairsByRule, raw.RuleSnapshots, isPartitioned, DecisionDiscard)

	children := make([]*Evaluation, 0, 3)
	for _, c := range []*Evaluation{materialize, notSkip, notDiscard} {
		if c != nil {
			children = append(children, c)
		}
	}

	value := true
	ids := make([]string, 0, len(children)+1)
	ids = append(ids, classAndCondition)
	for _, c := range children {
		value = value && c.TrueSubset.BoolValue()
		ids = append(ids, c.ConditionSnapshot.UniqueID)
	}

	root := &Evaluation{
		ConditionSnapshot: Snapshot{
			ClassName: classAndCondition,
			UniqueID:  uniqueID(ids...),
		},
		TrueSubset:       legacySubset(assetKey, isPartitioned, value),
		ChildEvaluations: children,
	}

	runIDs := make([]types.RunID, 0, len(raw.RunIDs.Items))
	for _, id := range raw.RunIDs.Items {
		runIDs = append(runIDs, types.RunID(id))
	}
	return root.WithRunIDs(runIDs), nil
}

// legacyDecisionEvaluation builds the reconstructed child for one decision
// type: leaves for the matching rule snapshots, or-wrapped except for
// discard, inverted except for materialize. Nil only for a discard rule
// count other than one.
func legacyDecisionEvaluation(
	assetKey types.AssetKey,
	pairsByRule map[string][]legacyPair,
	ruleSnapshots []legacyRuleSnapshot,
	isPartitioned bool,
	decision DecisionType,
) *Evaluation {
	var leaves []*Evaluation
	for _, snapshot := range ruleSnapshots {
		if snapshot.DecisionType.decisionType() != decision {
			continue
		}
		leaves = append(leaves, legacyLeaf(assetKey, pairsByRule[snapshot.groupKey()], isPartitioned, snapshot))
	}

	var inner *Evaluation
	if decision == DecisionDiscard {
		// No or-wrapper for discard; anything but exactly one rule is
		// unrepresentable and drops the whole child.
		if len(leaves) != 1 {
			return nil
		}
		inner = leaves[0]
	} else {
		value := false
		ids := make([]string, 0, len(leaves)+1)
		ids = append(ids, classOrCondition)
		for _, leaf := range leaves {
			value = value || leaf.TrueSubset.BoolValue()
			ids = append(ids, leaf.ConditionSnapshot.UniqueID)
		}
		inner = &Evaluation{
			ConditionSnapshot: Snapshot{
				ClassName: classOrCondition,
				UniqueID:  uniqueID(ids...),
			},
			TrueSubset:       legacySubset(assetKey, isPartitioned, value),
			ChildEvaluations: leaves,
		}
	}

	if decision == DecisionMaterialize {
		return inner
	}

	// Inverting a partitioned subset needs the candidate space, which legacy
	// records never carried; the inner (empty) subset passes through.
	trueSubset := inner.TrueSubset
	if !isPartitioned {
		trueSubset = partitions.NewUnpartitionedSubset(assetKey, !inner.TrueSubset.BoolValue())
	}
	return &Evaluation{
		ConditionSnapshot: Snapshot{
			ClassName: classNotCondition,
			UniqueID:  uniqueID(classNotCondition, inner.ConditionSnapshot.UniqueID),
		},
		TrueSubset:       trueSubset,
		ChildEvaluations: []*Evaluation{inner},
	}
}

func legacyLeaf(assetKey types.AssetKey, pairs []legacyPair, isPartitioned bool, rule legacyRuleSnapshot) *Evaluation {
	trueSubset := legacySubset(assetKey, isPartitioned, len(pairs) > 0)

	var swm []SubsetWithMetadata
	if !isPartitioned {
		for _, pair := range pairs {
			if pair.rule.EvaluationData == nil {
				continue
			}
			swm = append(swm, SubsetWithMetadata{
				Subset:   trueSubset,
				Metadata: legacyMetadata(*pair.rule.EvaluationData),
			})
		}
	}

	return &Evaluation{
		ConditionSnapshot: Snapshot{
			ClassName:   classRuleCondition,
			Description: rule.Description,
			UniqueID:    uniqueID(rule.ClassName, rule.Description),
		},
		TrueSubset:          trueSubset,
		SubsetsWithMetadata: swm,
	}
}

// legacySubset is the only subset shape legacy reconstruction can produce:
// an empty key set when partitioned, a bool otherwise.
func legacySubset(assetKey types.AssetKey, isPartitioned, value bool) partitions.AssetSubset {
	if isPartitioned {
		return partitions.NewPartitionedSubset(assetKey, partitions.KeySet())
	}
	return partitions.NewUnpartitionedSubset(assetKey, value)
}

func legacyMetadata(data legacyEvaluationData) Metadata {
	switch data.Class {
	case legacyTextDataClass:
		return Metadata{"text": TextValue(data.Text)}
	case legacyParentUpdatedDataClass:
		out := assetListMetadata("updated_parent", legacyKeys(data.UpdatedAssetKeys))
		for k, v := range assetListMetadata("will_update_parent", legacyKeys(data.WillUpdateAssetKeys)) {
			out[k] = v
		}
		return out
	case legacyWaitingOnDataClass:
		return assetListMetadata("waiting_on_ancestor", legacyKeys(data.WaitingOnAssetKeys))
	}
	return nil
}

func legacyKeys(fs legacyFrozenSet) []types.AssetKey {
	keys := make([]types.AssetKey, 0, len(fs.Items))
	for _, k := range fs.Items {
		keys = append(keys, types.AssetKey{Path: k.Path})
	}
	return sortedUniqueKeys(keys)
}

func isJSONNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
