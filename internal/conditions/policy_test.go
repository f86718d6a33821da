package conditions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/solatis/freshkeeper/internal/types"
)

// Test policy validation failure modes
func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  AutomationPolicy
		wantErr error
	}{
		{
			name:    "no materialize rules",
			policy:  AutomationPolicy{SkipRules: []ScheduleRule{SkipOnParentMissingRule{}}},
			wantErr: types.ErrEmptyPolicy,
		},
		{
			name: "skip rule filed as materialize",
			policy: AutomationPolicy{
				MaterializeRules: []ScheduleRule{SkipOnParentMissingRule{}},
			},
		},
		{
			name: "materialize rule filed as skip",
			policy: AutomationPolicy{
				MaterializeRules: []ScheduleRule{MaterializeOnMissingRule{}},
				SkipRules:        []ScheduleRule{MaterializeOnMissingRule{}},
			},
		},
		{
			name: "negative budget",
			policy: AutomationPolicy{
				MaterializeRules: []ScheduleRule{MaterializeOnMissingRule{}},
				MaxPerTick:       -1,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if err := EagerPolicy(0).Validate(); err != nil {
		t.Errorf("EagerPolicy(0).Validate() = %v, want nil", err)
	}
	if _, err := PeriodicPolicy(0, 0); err == nil {
		t.Error("PeriodicPolicy(0, 0) should reject the interval")
	}
}

// Test that compilation produces the canonical and(or, not(or)[, not]) shape
func TestPolicy_Compile(t *testing.T) {
	cond, err := EagerPolicy(0).Compile()
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if !IsLegacyShape(cond) {
		t.Error("compiled eager policy is not legacy-shaped")
	}
	if got := len(cond.Children()); got != 2 {
		t.Errorf("children without budget = %d, want 2", got)
	}
	if NotDiscardCondition(cond) != nil {
		t.Error("NotDiscardCondition() != nil without a budget")
	}
	if snap := cond.Snapshot(); snap.ClassName != classAndCondition {
		t.Errorf("root class = %s, want %s", snap.ClassName, classAndCondition)
	}

	budgeted, err := EagerPolicy(3).Compile()
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if got := len(budgeted.Children()); got != 3 {
		t.Errorf("children with budget = %d, want 3", got)
	}
	discard := NotDiscardCondition(budgeted)
	if discard == nil {
		t.Fatal("NotDiscardCondition() = nil with a budget")
	}
	not, ok := discard.(*NotCondition)
	if !ok {
		t.Fatalf("discard child is %T, want *NotCondition", discard)
	}
	leaf, ok := not.Child().(RuleCondition)
	if !ok {
		t.Fatalf("inverted discard child is %T, want RuleCondition", not.Child())
	}
	if leaf.Rule.DecisionType() != DecisionDiscard {
		t.Errorf("discard leaf decision = %s, want %s", leaf.Rule.DecisionType(), DecisionDiscard)
	}

	if _, err := (AutomationPolicy{}).Compile(); !errors.Is(err, types.ErrEmptyPolicy) {
		t.Errorf("Compile() on empty policy = %v, want %v", err, types.ErrEmptyPolicy)
	}
}

// Test a full eager-policy evaluation against a fake materialization log
func TestPolicy_Evaluate(t *testing.T) {
	key := testKey()
	parent := parentKey()
	def := sixPartitions()
	at := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)

	// The asset never materialized; its parent only covered a and b.
	state := &fakeState{records: []types.Materialization{
		mat(parent, 1, "a", at),
		mat(parent, 2, "b", at),
	}}
	newContext := func() *Context {
		ec := evalContext(t, key, def, state)
		ec.Parents = []Parent{{Key: parent, Def: def}}
		return ec
	}

	cond, err := EagerPolicy(0).Compile()
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	eval, err := cond.Evaluate(context.Background(), newContext())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	// Everything is missing, but only a and b have upstream data.
	if eval.TrueSubset.Size() != 2 || !eval.TrueSubset.ContainsKey("a") || !eval.TrueSubset.ContainsKey("b") {
		t.Errorf("requested = %v, want {a b}", eval.TrueSubset.Partitions().Keys())
	}
	counts := eval.Counts(6)
	if counts.NumTrue != 2 || counts.NumFalse != 4 || counts.NumSkipped != 0 {
		t.Errorf("root counts = %+v, want {2 4 0}", counts)
	}
	if got := eval.WithRunIDs(nil).NumRequested(); got != 2 {
		t.Errorf("NumRequested() = %d, want 2", got)
	}

	// A budget of one discards b, the later key in definition order.
	budgeted, err := EagerPolicy(1).Compile()
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	eval, err = budgeted.Evaluate(context.Background(), newContext())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if eval.TrueSubset.Size() != 1 || !eval.TrueSubset.ContainsKey("a") {
		t.Errorf("budgeted requested = %v, want {a}", eval.TrueSubset.Partitions().Keys())
	}
	discarded := eval.DiscardSubset(budgeted)
	if discarded == nil || discarded.Size() != 1 || !discarded.ContainsKey("b") {
		t.Errorf("discard subset = %v, want {b}", discarded)
	}
}

// Test rule snapshots follow compile order
func TestPolicy_RuleSnapshots(t *testing.T) {
	snaps := EagerPolicy(5).RuleSnapshots()
	want := []struct {
		class    string
		decision DecisionType
	}{
		{"MaterializeOnMissingRule", DecisionMaterialize},
		{"MaterializeOnParentUpdatedRule", DecisionMaterialize},
		{"SkipOnParentMissingRule", DecisionSkip},
		{"DiscardOnExceedingLimitRule", DecisionDiscard},
	}
	if len(snaps) != len(want) {
		t.Fatalf("snapshots = %d, want %d", len(snaps), len(want))
	}
	for i, w := range want {
		if snaps[i].ClassName != w.class || snaps[i].DecisionType != w.decision {
			t.Errorf("snapshot[%d] = %+v, want %s/%s", i, snaps[i], w.class, w.decision)
		}
	}

	if got := len(EagerPolicy(0).RuleSnapshots()); got != 3 {
		t.Errorf("snapshots without budget = %d, want 3", got)
	}
}
