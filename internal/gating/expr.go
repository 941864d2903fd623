// Package gating evaluates a node's readiness against a snapshot of
// upstream value rows.
package gating

import "github.com/flowkit/journey/internal/domain"

// Predicate receives the whole upstream value row — not just the raw
// value — so it can distinguish "set to nil" from "never set".
type Predicate func(domain.Value) bool

// Provided is the default predicate used for bare node-name sugar.
func Provided(v domain.Value) bool { return v.Provided() }

// True matches a row that is set and whose value is the boolean true.
func True(v domain.Value) bool {
	b, ok := v.NodeValue.(bool)
	return ok && b
}

// False matches a row that is set and whose value is the boolean false.
func False(v domain.Value) bool {
	b, ok := v.NodeValue.(bool)
	return ok && !b
}

// Expr is a tagged tree: AndExpr / OrExpr / NotExpr / LeafExpr.
type Expr interface {
	isExpr()
}

type AndExpr struct{ Clauses []Expr }

type OrExpr struct{ Clauses []Expr }

type NotExpr struct{ Clause Expr }

// LeafExpr evaluates Predicate against the upstream row named Name.
type LeafExpr struct {
	Name      string
	Predicate Predicate
}

func (AndExpr) isExpr()  {}
func (OrExpr) isExpr()   {}
func (NotExpr) isExpr()  {}
func (LeafExpr) isExpr() {}

// And/Or/Not/Leaf are small constructors for readability at call sites.
func And(clauses ...Expr) Expr { return AndExpr{Clauses: clauses} }
func Or(clauses ...Expr) Expr  { return OrExpr{Clauses: clauses} }
func Not(clause Expr) Expr     { return NotExpr{Clause: clause} }
func Leaf(name string, pred Predicate) Expr {
	if pred == nil {
		pred = Provided
	}
	return LeafExpr{Name: name, Predicate: pred}
}

// Names is the common-case sugar: a flat list of names becomes an And
// of Provided leaves, one per name.
func Names(names ...string) Expr {
	clauses := make([]Expr, 0, len(names))
	for _, n := range names {
		clauses = append(clauses, Leaf(n, Provided))
	}
	return And(clauses...)
}

// LeafNames walks expr and returns every node name referenced by a leaf,
// including names nested under Not/Or — used by the recompute detector
// to find every upstream whose revision can gate this node (spec §4.4).
func LeafNames(expr Expr) []string {
	seen := map[string]struct{}{}
	var walk func(Expr)
	walk = func(e Expr) {
		switch t := e.(type) {
		case AndExpr:
			for _, c := range t.Clauses {
				walk(c)
			}
		case OrExpr:
			for _, c := range t.Clauses {
				walk(c)
			}
		case NotExpr:
			walk(t.Clause)
		case LeafExpr:
			seen[t.Name] = struct{}{}
		}
	}
	walk(expr)
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	return names
}
