// Package conditions implements the asset-condition evaluation tree: the
// composable boolean conditions (and/or/not over schedule rules) that decide
// which portions of an asset should be materialized, the evaluation results
// they produce, and the serialized record formats those results live in.
//
// A Condition is a pure description; evaluating it against a Context walks
// the tree once, threading candidate subsets down and true subsets up, and
// yields an Evaluation mirroring the tree shape for auditing.
package conditions

/*
 * Tree semantics:
 *
 *   and:  children see a progressively narrowed candidate (each child only
 *         considers what all previous children accepted); result is the
 *         running intersection.
 *   or:   children all see the parent candidate; result is the union.
 *   not:  single child, same candidate; result is candidate minus the
 *         child's true subset. Partitions outside the child's candidate stay
 *         outside the result, which is why evaluations record the candidate
 *         alongside the true subset.
 *   rule: leaf; delegates to a ScheduleRule against asset state.
 *
 * Node identity is a content hash over class names and child identities, so
 * structurally identical conditions share snapshots across evaluations.
 */

import (
	"context"
	"fmt"
	"time"

	"github.com/solatis/freshkeeper/internal/types"
)

// Condition is one node of a condition tree.
type Condition interface {
	// Snapshot returns the serializable identity of this node.
	Snapshot() Snapshot

	// Children returns the child conditions, empty for leaves.
	Children() []Condition

	// Evaluate produces this node's Evaluation for the candidate subset
	// carried by ec.
	Evaluate(ctx context.Context, ec *Context) (*Evaluation, error)
}

// AndCondition is true for the partitions every child is true for.
type AndCondition struct {
	children []Condition
}

// OrCondition is true for the partitions any child is true for.
type OrCondition struct {
	children []Condition
}

// NotCondition inverts its single child within the candidate subset.
type NotCondition struct {
	child Condition
}

// NewAnd builds an and-node, flattening any top-level and-children into one
// level so a & b & c yields a single three-child node.
func NewAnd(children ...Condition) *AndCondition {
	flat := make([]Condition, 0, len(children))
	for _, c := range children {
		if and, ok := c.(*AndCondition); ok {
			flat = append(flat, and.children...)
			continue
		}
		flat = append(flat, c)
	}
	return &AndCondition{children: flat}
}

// NewOr builds an or-node, flattening top-level or-children.
func NewOr(children ...Condition) *OrCondition {
	flat := make([]Condition, 0, len(children))
	for _, c := range children {
		if or, ok := c.(*OrCondition); ok {
			flat = append(flat, or.children...)
			continue
		}
		flat = append(flat, c)
	}
	return &OrCondition{children: flat}
}

// Not wraps a condition in a not-node.
func Not(child Condition) *NotCondition {
	return &NotCondition{child: child}
}

func (c *AndCondition) Snapshot() Snapshot {
	return compositeSnapshot(classAndCondition, descriptionAllOf, c.children)
}

func (c *AndCondition) Children() []Condition { return c.children }

func (c *AndCondition) Evaluate(ctx context.Context, ec *Context) (*Evaluation, error) {
	start := time.Now().UTC()
	children := make([]*Evaluation, 0, len(c.children))
	trueSubset := ec.Candidate
	for _, child := range c.children {
		result, err := child.Evaluate(ctx, ec.ForChild(child, trueSubset))
		if err != nil {
			return nil, err
		}
		children = append(children, result)
		trueSubset, err = trueSubset.Intersect(result.TrueSubset)
		if err != nil {
			return nil, err
		}
	}
	end := time.Now().UTC()
	candidate := ec.Candidate
	return &Evaluation{
		ConditionSnapshot: c.Snapshot(),
		TrueSubset:        trueSubset,
		CandidateSubset:   &candidate,
		StartTimestamp:    &start,
		EndTimestamp:      &end,
		ChildEvaluations:  children,
	}, nil
}

func (c *OrCondition) Snapshot() Snapshot {
	return compositeSnapshot(classOrCondition, descriptionAnyOf, c.children)
}

func (c *OrCondition) Children() []Condition { return c.children }

func (c *OrCondition) Evaluate(ctx context.Context, ec *Context) (*Evaluation, error) {
	start := time.Now().UTC()
	children := make([]*Evaluation, 0, len(c.children))
	trueSubset := ec.EmptySubset()
	for _, child := range c.children {
		result, err := child.Evaluate(ctx, ec.ForChild(child, ec.Candidate))
		if err != nil {
			return nil, err
		}
		children = append(children, result)
		trueSubset, err = trueSubset.Union(result.TrueSubset)
		if err != nil {
			return nil, err
		}
	}
	end := time.Now().UTC()
	candidate := ec.Candidate
	return &Evaluation{
		ConditionSnapshot: c.Snapshot(),
		TrueSubset:        trueSubset,
		CandidateSubset:   &candidate,
		StartTimestamp:    &start,
		EndTimestamp:      &end,
		ChildEvaluations:  children,
	}, nil
}

func (c *NotCondition) Snapshot() Snapshot {
	return compositeSnapshot(classNotCondition, descriptionNot, []Condition{c.child})
}

func (c *NotCondition) Children() []Condition { return []Condition{c.child} }

// Child returns the single inverted condition.
func (c *NotCondition) Child() Condition { return c.child }

func (c *NotCondition) Evaluate(ctx context.Context, ec *Context) (*Evaluation, error) {
	start := time.Now().UTC()
	result, err := c.child.Evaluate(ctx, ec.ForChild(c.child, ec.Candidate))
	if err != nil {
		return nil, err
	}
	trueSubset, err := ec.Candidate.Minus(result.TrueSubset)
	if err != nil {
		return nil, err
	}
	end := time.Now().UTC()
	candidate := ec.Candidate
	return &Evaluation{
		ConditionSnapshot: c.Snapshot(),
		TrueSubset:        trueSubset,
		CandidateSubset:   &candidate,
		StartTimestamp:    &start,
		EndTimestamp:      &end,
		ChildEvaluations:  []*Evaluation{result},
	}, nil
}

// IsLegacyShape reports whether cond has the shape the policy compiler
// produces: and(or(materialize...), not(or(skip...))) with an optional third
// not(discard) child. Read paths use this to locate the discard node.
func IsLegacyShape(cond Condition) bool {
	and, ok := cond.(*AndCondition)
	if !ok || len(and.children) < 2 || len(and.children) > 3 {
		return false
	}
	if _, ok := and.children[0].(*OrCondition); !ok {
		return false
	}
	if _, ok := and.children[1].(*NotCondition); !ok {
		return false
	}
	if len(and.children) == 3 {
		if _, ok := and.children[2].(*NotCondition); !ok {
			return false
		}
	}
	return true
}

// NotDiscardCondition returns the third (inverted discard) child of a
// legacy-shaped condition, nil when absent.
func NotDiscardCondition(cond Condition) Condition {
	if !IsLegacyShape(cond) {
		return nil
	}
	children := cond.Children()
	if len(children) != 3 {
		return nil
	}
	return children[2]
}

// Depth returns the height of the condition tree, 1 for a leaf.
func Depth(cond Condition) int {
	max := 0
	for _, child := range cond.Children() {
		if d := Depth(child); d > max {
			max = d
		}
	}
	return max + 1
}

// ValidateDepth rejects trees deeper than types.MaxConditionDepth before any
// recursive evaluation happens.
func ValidateDepth(cond Condition) error {
	if d := Depth(cond); d > types.MaxConditionDepth {
		return fmt.Errorf("%w: depth %d exceeds %d", types.ErrConditionTooDeep, d, types.MaxConditionDepth)
	}
	return nil
}
