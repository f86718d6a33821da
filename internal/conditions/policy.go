package conditions

import (
	"fmt"
	"time"

	"github.com/solatis/freshkeeper/internal/types"
)

// AutomationPolicy is the per-asset scheduling policy: which rules may
// request materializations, which rules hold requests back, and an optional
// per-tick request budget. Policies are declarative; Compile turns one into
// the condition tree the evaluator runs.
type AutomationPolicy struct {
	// MaterializeRules propose partitions; at least one is required.
	MaterializeRules []ScheduleRule

	// SkipRules veto proposed partitions for this tick.
	SkipRules []ScheduleRule

	// MaxPerTick discards proposals beyond this budget when positive; zero
	// disables the discard rule entirely.
	MaxPerTick int
}

// EagerPolicy materializes assets as soon as they are missing or stale
// behind a parent, waiting only for parents that have never materialized.
func EagerPolicy(maxPerTick int) AutomationPolicy {
	return AutomationPolicy{
		MaterializeRules: []ScheduleRule{
			MaterializeOnMissingRule{},
			MaterializeOnParentUpdatedRule{},
		},
		SkipRules: []ScheduleRule{
			SkipOnParentMissingRule{},
		},
		MaxPerTick: maxPerTick,
	}
}

// PeriodicPolicy rematerializes on a fixed interval, holding back while any
// parent is still missing.
func PeriodicPolicy(every time.Duration, maxPerTick int) (AutomationPolicy, error) {
	interval, err := NewMaterializeOnInterval(every)
	if err != nil {
		return AutomationPolicy{}, err
	}
	return AutomationPolicy{
		MaterializeRules: []ScheduleRule{
			MaterializeOnMissingRule{},
			interval,
		},
		SkipRules: []ScheduleRule{
			SkipOnParentMissingRule{},
		},
		MaxPerTick: maxPerTick,
	}, nil
}

// Validate checks the policy is compilable: at least one materialize rule,
// every rule filed under its own decision type, and a sane budget.
func (p AutomationPolicy) Validate() error {
	if len(p.MaterializeRules) == 0 {
		return types.ErrEmptyPolicy
	}
	for _, r := range p.MaterializeRules {
		if r.DecisionType() != DecisionMaterialize {
			return fmt.Errorf("rule %s has decision type %s, want %s", r.ClassName(), r.DecisionType(), DecisionMaterialize)
		}
	}
	for _, r := range p.SkipRules {
		if r.DecisionType() != DecisionSkip {
			return fmt.Errorf("rule %s has decision type %s, want %s", r.ClassName(), r.DecisionType(), DecisionSkip)
		}
	}
	if p.MaxPerTick < 0 {
		return fmt.Errorf("max per tick must not be negative, got %d", p.MaxPerTick)
	}
	return nil
}

// Compile builds the canonical condition tree
//
//	and(or(materialize...), not(or(skip...))[, not(discard)])
//
// matching the shape reconstructed legacy records present in, so old and new
// evaluations read identically. The discard child only exists when MaxPerTick
// is positive.
func (p AutomationPolicy) Compile() (Condition, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	materialize := make([]Condition, 0, len(p.MaterializeRules))
	for _, r := range p.MaterializeRules {
		materialize = append(materialize, RuleCondition{Rule: r})
	}
	skip := make([]Condition, 0, len(p.SkipRules))
	for _, r := range p.SkipRules {
		skip = append(skip, RuleCondition{Rule: r})
	}

	children := []Condition{
		NewOr(materialize...),
		Not(NewOr(skip...)),
	}
	if p.MaxPerTick > 0 {
		discard, err := NewDiscardOnExceedingLimit(p.MaxPerTick)
		if err != nil {
			return nil, err
		}
		children = append(children, Not(RuleCondition{Rule: discard}))
	}

	cond := NewAnd(children...)
	if err := ValidateDepth(cond); err != nil {
		return nil, err
	}
	return cond, nil
}

// RuleSnapshots lists the policy's rules in compile order, materialize rules
// first. Persisted alongside evaluations for the legacy read path.
func (p AutomationPolicy) RuleSnapshots() []RuleSnapshot {
	out := make([]RuleSnapshot, 0, len(p.MaterializeRules)+len(p.SkipRules)+1)
	for _, r := range p.MaterializeRules {
		out = append(out, SnapshotOfRule(r))
	}
	for _, r := range p.SkipRules {
		out = append(out, SnapshotOfRule(r))
	}
	if p.MaxPerTick > 0 {
		discard, err := NewDiscardOnExceedingLimit(p.MaxPerTick)
		if err == nil {
			out = append(out, SnapshotOfRule(discard))
		}
	}
	return out
}
