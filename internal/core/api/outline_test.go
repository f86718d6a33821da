package api

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/solatis/freshkeeper/internal/conditions"
	"github.com/solatis/freshkeeper/internal/core/storage"
	"github.com/solatis/freshkeeper/internal/partitions"
	"github.com/solatis/freshkeeper/internal/types"
)

func TestOutline_Partitioned(t *testing.T) {
	key := types.NewAssetKey("raw", "events")
	record := storage.EvaluationRecord{
		EvaluationID: 7,
		AssetKey:     key,
		Evaluation:   scenarioEvaluation(t, key),
	}

	g := goldie.New(t)
	g.Assert(t, "outline_partitioned", []byte(Outline(record)))
}

func TestOutline_Unpartitioned(t *testing.T) {
	key := types.NewAssetKey("raw", "users")

	missing := conditions.RuleCondition{Rule: conditions.MaterializeOnMissingRule{}}
	waiting := conditions.RuleCondition{Rule: conditions.SkipOnParentMissingRule{}}
	not := conditions.Not(waiting)
	root := conditions.NewAnd(missing, not)

	all := partitions.NewUnpartitionedSubset(key, true)
	evaluation := &conditions.Evaluation{
		ConditionSnapshot: root.Snapshot(),
		TrueSubset:        partitions.NewUnpartitionedSubset(key, false),
		CandidateSubset:   &all,
		ChildEvaluations: []*conditions.Evaluation{
			{
				ConditionSnapshot: missing.Snapshot(),
				TrueSubset:        partitions.NewUnpartitionedSubset(key, true),
			},
			{
				ConditionSnapshot: not.Snapshot(),
				TrueSubset:        partitions.NewUnpartitionedSubset(key, false),
				CandidateSubset:   &all,
				ChildEvaluations: []*conditions.Evaluation{
					{
						ConditionSnapshot: waiting.Snapshot(),
						TrueSubset:        partitions.NewUnpartitionedSubset(key, true),
						CandidateSubset:   &all,
					},
				},
			},
		},
	}

	record := storage.EvaluationRecord{
		EvaluationID: 3,
		AssetKey:     key,
		Evaluation:   evaluation.WithRunIDs(nil),
	}

	g := goldie.New(t)
	g.Assert(t, "outline_unpartitioned", []byte(Outline(record)))
}
