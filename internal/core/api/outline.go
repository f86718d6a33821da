package api

import (
	"fmt"
	"strings"

	"github.com/solatis/freshkeeper/internal/conditions"
	"github.com/solatis/freshkeeper/internal/core/storage"
)

// Outline renders an evaluation record as an indented plain-text tree for
// CLI display. The output is a pure function of the record: timestamps are
// omitted, so the same record always renders identically.
func Outline(record storage.EvaluationRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "asset %s evaluation %d requested %d\n",
		record.AssetKey, record.EvaluationID, record.Evaluation.NumRequested())
	if runIDs := record.Evaluation.RunIDs; len(runIDs) > 0 {
		parts := make([]string, 0, len(runIDs))
		for _, id := range runIDs {
			parts = append(parts, string(id))
		}
		fmt.Fprintf(&b, "runs %s\n", strings.Join(parts, ", "))
	}
	outlineNode(&b, record.Evaluation.Evaluation, 0)
	return b.String()
}

func outlineNode(b *strings.Builder, e *conditions.Evaluation, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(b, "%s%s [%s]\n", indent, e.ConditionSnapshot.DisplayDescription(), outlineVerdict(e))
	for _, child := range e.ChildEvaluations {
		outlineNode(b, child, depth+1)
	}
}

// outlineVerdict is the bracketed summary per node: the three-way status for
// unpartitioned assets, a true-count for partitioned ones (with the
// candidate count when the node tracked one).
func outlineVerdict(e *conditions.Evaluation) string {
	if !e.TrueSubset.IsPartitioned() {
		return string(e.Status())
	}
	if e.CandidateSubset != nil {
		return fmt.Sprintf("%d of %d true", e.TrueSubset.Size(), e.CandidateSubset.Size())
	}
	return fmt.Sprintf("%d true", e.TrueSubset.Size())
}
