// Package refs resolves operand references appearing in formulas to
// concrete locations in the model: a column in the referencing formula's own
// table, a column in another table, a single indexed element, or a scalar
// found by walking the scope chain innermost to outermost.
package refs

import (
	"fmt"
	"strings"
)

// Kind classifies what a reference points at.
type Kind int

const (
	// ColumnRef points at a whole column, same-table or cross-table.
	ColumnRef Kind = iota + 1
	// ElementRef points at a single element of a column by position.
	ElementRef
	// ScalarRef points at a named scalar.
	ScalarRef
)

// Ref is a fully resolved operand location.
type Ref struct {
	Kind Kind

	// Table and Column are set for ColumnRef and ElementRef.
	Table  string
	Column string
	// Index is the zero-based element position for ElementRef, -1 otherwise.
	Index int

	// Scope and Name are set for ScalarRef. Scope is "" for global scalars.
	Scope string
	Name  string
}

// String serializes the reference into its canonical address form.
func (r Ref) String() string {
	var sb strings.Builder
	switch r.Kind {
	case ColumnRef:
		sb.WriteString(r.Table)
		sb.WriteByte('.')
		sb.WriteString(r.Column)
	case ElementRef:
		sb.WriteString(r.Table)
		sb.WriteByte('.')
		sb.WriteString(r.Column)
		fmt.Fprintf(&sb, "[%d]", r.Index)
	case ScalarRef:
		if r.Scope != "" {
			sb.WriteString(r.Scope)
			sb.WriteByte('.')
		}
		sb.WriteString(r.Name)
	}
	return sb.String()
}

// ScalarQualified returns the qualified scalar name for ScalarRef values.
func (r Ref) ScalarQualified() string {
	if r.Scope == "" {
		return r.Name
	}
	return r.Scope + "." + r.Name
}
