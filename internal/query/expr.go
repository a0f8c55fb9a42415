package query

import "strings"

// Expr is a node of a search-engine query.
type Expr interface {
	// Render returns the expression in the engine's syntax.
	Render() string
}

// Term is a field="value" clause.
type Term struct {
	Field string
	Value string
}

// Render implements Expr.
func (t Term) Render() string {
	return t.Field + `="` + Escape(t.Value) + `"`
}

// And is a conjunction. It binds tighter than Or.
type And []Expr

// Render implements Expr.
func (a And) Render() string {
	return join(a, " && ", func(e Expr) bool {
		or, ok := e.(Or)
		return ok && len(or) > 1
	})
}

// Or is a disjunction.
type Or []Expr

// Render implements Expr.
func (o Or) Render() string {
	return join(o, " || ", func(Expr) bool { return false })
}

func join(children []Expr, op string, needParens func(Expr) bool) string {
	parts := make([]string, 0, len(children))
	for _, c := range children {
		s := c.Render()
		if s == "" {
			continue
		}
		if needParens(c) {
			s = "(" + s + ")"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, op)
}

var escaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// Escape quotes a value for use inside a double-quoted clause.
func Escape(v string) string {
	return escaper.Replace(v)
}
