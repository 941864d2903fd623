package gating

import (
	"fmt"

	"github.com/flowkit/journey/internal/domain"
)

// MatchedLeaf is one leaf that satisfied (or is still pending on) the
// expression, paired with the upstream row the evaluator used as proof.
type MatchedLeaf struct {
	Name string
	Row  domain.Value
}

// Result is the outcome of one evaluation: ready-flag plus the evaluator's
// proof. For :or/:and, ConditionsMet includes every satisfied leaf, not
// just a minimal witness — this is what lets a second OR branch becoming
// satisfied later trigger a correct recompute (spec §4.1).
type Result struct {
	Ready             bool
	ConditionsMet     []MatchedLeaf
	ConditionsNotMet  []MatchedLeaf
}

// Evaluate walks expr against snapshot (current value rows keyed by node
// name) and reports readiness plus the full set of matched/unmatched
// leaves.
func Evaluate(expr Expr, snapshot map[string]domain.Value) (Result, error) {
	var met, notMet []MatchedLeaf

	var walk func(Expr) (bool, error)
	walk = func(e Expr) (bool, error) {
		switch t := e.(type) {
		case AndExpr:
			ok := true
			for _, c := range t.Clauses {
				r, err := walk(c)
				if err != nil {
					return false, err
				}
				if !r {
					ok = false
				}
			}
			return ok, nil

		case OrExpr:
			ok := false
			for _, c := range t.Clauses {
				r, err := walk(c)
				if err != nil {
					return false, err
				}
				if r {
					ok = true
				}
			}
			return ok, nil

		case NotExpr:
			r, err := walk(t.Clause)
			if err != nil {
				return false, err
			}
			return !r, nil

		case LeafExpr:
			row := snapshot[t.Name]
			matched := t.Predicate(row)
			leaf := MatchedLeaf{Name: t.Name, Row: row}
			if matched {
				met = append(met, leaf)
			} else {
				notMet = append(notMet, leaf)
			}
			return matched, nil

		default:
			return false, fmt.Errorf("%w: unknown expression node %T", domain.ErrInvalidGatingExpression, e)
		}
	}

	ready, err := walk(expr)
	if err != nil {
		return Result{}, err
	}
	return Result{Ready: ready, ConditionsMet: met, ConditionsNotMet: notMet}, nil
}
