package refs

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/royalbit/forge/fault"
	"github.com/royalbit/forge/model"
)

// Scope is the context a formula's references resolve within: the model, the
// enclosing table for row formulas, and the enclosing scalar scope for
// scoped scalar formulas.
type Scope struct {
	Model *model.Model
	// Table is non-nil when the formula belongs to a column of a table.
	Table *model.Table
	// ScalarScope names the formula's enclosing scalar scope, "" for the
	// global namespace.
	ScalarScope string
}

// Resolve maps one variable traversal from a parsed formula to a concrete
// operand location. Resolution is explicit and scope-chained: a bare name
// inside a row formula is a column of the same table, never of a sibling
// table; a bare name otherwise is a scalar in the nearest enclosing scope,
// falling back to the global namespace; a dotted name is either a
// cross-table column or a scoped scalar. A dotted root naming both a table
// and a scalar scope is an ambiguity error, never resolved by insertion
// order.
func (sc Scope) Resolve(formula string, traversal hcl.Traversal) (Ref, error) {
	root, ok := traversal[0].(hcl.TraverseRoot)
	if !ok {
		return Ref{}, fault.New(fault.UnknownReference, "", formula, "reference has no root name")
	}

	rest := traversal[1:]
	switch {
	case len(rest) == 0:
		return sc.resolveBare(formula, root.Name, -1)

	case len(rest) == 1:
		if idx, ok := rest[0].(hcl.TraverseIndex); ok {
			i, err := indexOf(formula, root.Name, idx)
			if err != nil {
				return Ref{}, err
			}
			return sc.resolveBare(formula, root.Name, i)
		}
		attr, ok := rest[0].(hcl.TraverseAttr)
		if !ok {
			return Ref{}, fault.New(fault.UnknownReference, root.Name, formula, "unsupported reference form")
		}
		return sc.resolveDotted(formula, root.Name, attr.Name, -1)

	case len(rest) == 2:
		attr, attrOK := rest[0].(hcl.TraverseAttr)
		idx, idxOK := rest[1].(hcl.TraverseIndex)
		if !attrOK || !idxOK {
			return Ref{}, fault.New(fault.UnknownReference, root.Name, formula, "unsupported reference form")
		}
		i, err := indexOf(formula, root.Name+"."+attr.Name, idx)
		if err != nil {
			return Ref{}, err
		}
		return sc.resolveDotted(formula, root.Name, attr.Name, i)

	default:
		return Ref{}, fault.New(fault.UnknownReference, root.Name, formula,
			"reference has too many parts")
	}
}

// resolveBare handles an unqualified name, with an optional element index.
func (sc Scope) resolveBare(formula, name string, index int) (Ref, error) {
	if sc.Table != nil {
		if col := sc.Table.Column(name); col != nil {
			if index >= 0 {
				return sc.element(formula, sc.Table, name, index)
			}
			return Ref{Kind: ColumnRef, Table: sc.Table.Name, Column: name, Index: -1}, nil
		}
	}

	// Scope chain: nearest enclosing scalar scope, then the global namespace.
	if sc.ScalarScope != "" {
		if s := sc.Model.Scalar(sc.ScalarScope + "." + name); s != nil {
			if index >= 0 {
				return Ref{}, fault.New(fault.TypeMismatch, s.QualifiedName(), formula,
					"cannot index scalar %q", name)
			}
			return Ref{Kind: ScalarRef, Scope: sc.ScalarScope, Name: name, Index: -1}, nil
		}
	}
	if s := sc.Model.Scalar(name); s != nil {
		if index >= 0 {
			return Ref{}, fault.New(fault.TypeMismatch, name, formula,
				"cannot index scalar %q", name)
		}
		return Ref{Kind: ScalarRef, Name: name, Index: -1}, nil
	}

	return Ref{}, fault.New(fault.UnknownReference, name, formula,
		"%q matches no column or scalar in any searched scope", name)
}

// resolveDotted handles a `root.attr` name, with an optional element index.
func (sc Scope) resolveDotted(formula, rootName, attrName string, index int) (Ref, error) {
	table := sc.Model.Table(rootName)
	var colRef *Ref
	if table != nil {
		if col := table.Column(attrName); col != nil {
			colRef = &Ref{Kind: ColumnRef, Table: rootName, Column: attrName, Index: -1}
		}
	}

	var scalarRef *Ref
	if sc.Model.HasScope(rootName) {
		if s := sc.Model.Scalar(rootName + "." + attrName); s != nil {
			scalarRef = &Ref{Kind: ScalarRef, Scope: rootName, Name: attrName, Index: -1}
		}
	}

	switch {
	case colRef != nil && scalarRef != nil:
		return Ref{}, fault.New(fault.AmbiguousReference, rootName+"."+attrName, formula,
			"%q names both a table column and a scoped scalar", rootName+"."+attrName)
	case colRef != nil:
		if index >= 0 {
			return sc.element(formula, table, attrName, index)
		}
		return *colRef, nil
	case scalarRef != nil:
		if index >= 0 {
			return Ref{}, fault.New(fault.TypeMismatch, scalarRef.ScalarQualified(), formula,
				"cannot index scalar %q", scalarRef.ScalarQualified())
		}
		return *scalarRef, nil
	case table != nil:
		return Ref{}, fault.New(fault.UnknownReference, rootName+"."+attrName, formula,
			"table %q has no column %q", rootName, attrName)
	default:
		return Ref{}, fault.New(fault.UnknownReference, rootName+"."+attrName, formula,
			"%q matches no table or scalar scope", rootName)
	}
}

// element builds an ElementRef with its bounds check. An index outside
// [0, rows) is an error, never a clamp.
func (sc Scope) element(formula string, table *model.Table, column string, index int) (Ref, error) {
	if index < 0 || index >= table.Rows() {
		return Ref{}, fault.New(fault.IndexOutOfRange, table.Name+"."+column, formula,
			"index %d outside [0, %d)", index, table.Rows())
	}
	return Ref{Kind: ElementRef, Table: table.Name, Column: column, Index: index}, nil
}

// indexOf extracts a zero-based integer position from a traversal index key.
func indexOf(formula, subject string, idx hcl.TraverseIndex) (int, error) {
	i, ok := model.IntFromVal(idx.Key)
	if !ok {
		return 0, fault.New(fault.IndexOutOfRange, subject, formula,
			"element index must be an integer")
	}
	return i, nil
}
