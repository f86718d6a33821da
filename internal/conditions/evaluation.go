package conditions

import (
	"sort"
	"time"

	"github.com/solatis/freshkeeper/internal/partitions"
	"github.com/solatis/freshkeeper/internal/types"
)

// SubsetWithMetadata annotates a portion of an asset with the display
// metadata explaining why a rule matched it.
type SubsetWithMetadata struct {
	Subset   partitions.AssetSubset `json:"subset"`
	Metadata Metadata               `json:"metadata"`
}

// Equal compares by content.
func (s SubsetWithMetadata) Equal(other SubsetWithMetadata) bool {
	return s.Subset.Equal(other.Subset) && s.Metadata.Equal(other.Metadata)
}

// Evaluation is the result of evaluating one condition node: which portion of
// the asset the node was asked about (candidate), which portion it accepted
// (true subset), rule metadata, and the child results underneath. The tree
// mirrors the condition tree exactly and is immutable once produced.
//
// A nil CandidateSubset means "was not tracked": reads treat it as the full
// currently-valid partition space. Reconstructed legacy nodes and the root of
// fresh evaluations before any narrowing both use nil.
//
// Timestamps bracket the wall-clock evaluation of the node (children
// included) and are display-only: nil on reconstructed legacy nodes, never
// part of equivalence.
type Evaluation struct {
	ConditionSnapshot   Snapshot                `json:"condition_snapshot"`
	TrueSubset          partitions.AssetSubset  `json:"true_subset"`
	CandidateSubset     *partitions.AssetSubset `json:"candidate_subset"`
	StartTimestamp      *time.Time              `json:"start_timestamp,omitempty"`
	EndTimestamp        *time.Time              `json:"end_timestamp,omitempty"`
	SubsetsWithMetadata []SubsetWithMetadata    `json:"subsets_with_metadata,omitempty"`
	ChildEvaluations    []*Evaluation           `json:"child_evaluations,omitempty"`
}

// AssetKey returns the asset this evaluation describes.
func (e *Evaluation) AssetKey() types.AssetKey {
	return e.TrueSubset.Key()
}

// ForChild finds the child evaluation produced by the given condition,
// matching by snapshot unique id. Nil when absent or when e is nil, so prior
// evaluations thread through contexts without presence checks.
func (e *Evaluation) ForChild(child Condition) *Evaluation {
	if e == nil {
		return nil
	}
	childID := child.Snapshot().UniqueID
	for _, ce := range e.ChildEvaluations {
		if ce.ConditionSnapshot.UniqueID == childID {
			return ce
		}
	}
	return nil
}

// DiscardSubset returns the inner discard rule's true subset when cond is in
// the compiler's shape and carries a discard child, nil otherwise.
func (e *Evaluation) DiscardSubset(cond Condition) *partitions.AssetSubset {
	if NotDiscardCondition(cond) == nil || len(e.ChildEvaluations) != 3 {
		return nil
	}
	notDiscard := e.ChildEvaluations[2]
	if len(notDiscard.ChildEvaluations) != 1 {
		return nil
	}
	subset := notDiscard.ChildEvaluations[0].TrueSubset
	return &subset
}

// EquivalentTo reports whether two evaluations carry identical results over
// the whole tree. Run ids are not part of an Evaluation and never considered.
func (e *Evaluation) EquivalentTo(other *Evaluation) bool {
	if e == nil || other == nil {
		return e == other
	}
	if e.ConditionSnapshot != other.ConditionSnapshot {
		return false
	}
	if !e.TrueSubset.Equal(other.TrueSubset) {
		return false
	}
	if (e.CandidateSubset == nil) != (other.CandidateSubset == nil) {
		return false
	}
	if e.CandidateSubset != nil && !e.CandidateSubset.Equal(*other.CandidateSubset) {
		return false
	}
	if len(e.SubsetsWithMetadata) != len(other.SubsetsWithMetadata) {
		return false
	}
	for i := range e.SubsetsWithMetadata {
		if !e.SubsetsWithMetadata[i].Equal(other.SubsetsWithMetadata[i]) {
			return false
		}
	}
	if len(e.ChildEvaluations) != len(other.ChildEvaluations) {
		return false
	}
	for i := range e.ChildEvaluations {
		if !e.ChildEvaluations[i].EquivalentTo(other.ChildEvaluations[i]) {
			return false
		}
	}
	return true
}

// WithRunIDs pairs the evaluation with the runs launched in response to it.
func (e *Evaluation) WithRunIDs(runIDs []types.RunID) *EvaluationWithRunIDs {
	return &EvaluationWithRunIDs{Evaluation: e, RunIDs: normalizeRunIDs(runIDs)}
}

// EvaluationWithRunIDs is the persisted union of an evaluation tree and the
// set of run ids launched for it. RunIDs are sorted and deduplicated.
type EvaluationWithRunIDs struct {
	Evaluation *Evaluation   `json:"evaluation"`
	RunIDs     []types.RunID `json:"run_ids"`
}

// AssetKey returns the asset the wrapped evaluation describes.
func (e *EvaluationWithRunIDs) AssetKey() types.AssetKey {
	return e.Evaluation.AssetKey()
}

// NumRequested is how many asset partitions the evaluation asked to
// materialize: the size of the root true subset.
func (e *EvaluationWithRunIDs) NumRequested() int {
	return e.Evaluation.TrueSubset.Size()
}

func normalizeRunIDs(runIDs []types.RunID) []types.RunID {
	seen := make(map[types.RunID]struct{}, len(runIDs))
	out := make([]types.RunID, 0, len(runIDs))
	for _, id := range runIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
