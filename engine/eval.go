package engine

import (
	"errors"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/royalbit/forge/fault"
	"github.com/royalbit/forge/internal/funcs"
	"github.com/royalbit/forge/internal/refs"
	"github.com/royalbit/forge/model"
	"github.com/zclconf/go-cty/cty"
)

// scratchCol holds a derived column's freshly computed values before they
// are committed to the table. Nothing is committed while any column of the
// table can still fail.
type scratchCol struct {
	typ  model.Type
	vals []cty.Value
}

// evaluator walks a compiled expression AST and produces a single value.
// Evaluation is strict about types: arithmetic wants numbers, logic wants
// booleans, and comparisons never coerce across types. A ColumnRef read in
// row context yields the element at the current row; outside row context a
// whole-column reference is only legal as a column-function argument.
type evaluator struct {
	m       *model.Model
	reg     *funcs.Registry
	scope   refs.Scope
	scratch map[string]scratchCol
	row     int    // current row, -1 outside row context
	subject string // owner address for fault annotation
	formula string // formula text for fault annotation
}

func (ev *evaluator) eval(expr hclsyntax.Expression) (cty.Value, error) {
	switch e := expr.(type) {
	case *hclsyntax.LiteralValueExpr:
		return e.Val, nil
	case *hclsyntax.ParenthesesExpr:
		return ev.eval(e.Expression)
	case *hclsyntax.ScopeTraversalExpr:
		ref, err := ev.scope.Resolve(ev.formula, e.Traversal)
		if err != nil {
			return cty.NilVal, ev.annotate(err)
		}
		return ev.evalRef(ref)
	case *hclsyntax.UnaryOpExpr:
		return ev.evalUnary(e)
	case *hclsyntax.BinaryOpExpr:
		return ev.evalBinary(e)
	case *hclsyntax.ConditionalExpr:
		return ev.evalConditional(e)
	case *hclsyntax.FunctionCallExpr:
		return ev.evalCall(e)
	case *hclsyntax.TemplateExpr:
		return ev.evalTemplate(e)
	case *hclsyntax.TemplateWrapExpr:
		return ev.eval(e.Wrapped)
	case *hclsyntax.IndexExpr:
		return ev.evalIndex(e)
	default:
		return cty.NilVal, ev.fail(fault.DomainError, "unsupported expression form")
	}
}

// evalRef reads one resolved operand reference.
func (ev *evaluator) evalRef(ref refs.Ref) (cty.Value, error) {
	switch ref.Kind {
	case refs.ScalarRef:
		s := ev.m.Scalar(ref.ScalarQualified())
		if s.Value.IsNull() || s.Value == cty.NilVal {
			return cty.NilVal, ev.fail(fault.DomainError, "scalar %q has no value", ref.ScalarQualified())
		}
		return s.Value, nil

	case refs.ElementRef:
		vals, _, err := ev.columnValues(ref.Table, ref.Column)
		if err != nil {
			return cty.NilVal, err
		}
		if ref.Index < 0 || ref.Index >= len(vals) {
			return cty.NilVal, ev.fail(fault.IndexOutOfRange,
				"%s: index %d outside [0, %d)", ref.String(), ref.Index, len(vals))
		}
		return vals[ref.Index], nil

	case refs.ColumnRef:
		if ev.row < 0 {
			return cty.NilVal, ev.fail(fault.TypeMismatch,
				"whole-column reference %q needs an aggregation function or an element index", ref.String())
		}
		vals, _, err := ev.columnValues(ref.Table, ref.Column)
		if err != nil {
			return cty.NilVal, err
		}
		if ev.row >= len(vals) {
			return cty.NilVal, ev.fail(fault.IndexOutOfRange,
				"%s has %d rows, row %d requested", ref.Table+"."+ref.Column, len(vals), ev.row)
		}
		return vals[ev.row], nil

	default:
		return cty.NilVal, ev.fail(fault.DomainError, "unresolvable reference")
	}
}

// columnValues reads a column's values, preferring the in-progress scratch
// copy for columns of the table currently being evaluated.
func (ev *evaluator) columnValues(tableName, columnName string) ([]cty.Value, model.Type, error) {
	if ev.scope.Table != nil && tableName == ev.scope.Table.Name {
		if sc, ok := ev.scratch[columnName]; ok {
			return sc.vals, sc.typ, nil
		}
	}
	t := ev.m.Table(tableName)
	col := t.Column(columnName)
	if col.Derived() && len(col.Values) == 0 && t.Rows() > 0 {
		return nil, 0, ev.fail(fault.DomainError,
			"column %s.%s has not been calculated", tableName, columnName)
	}
	return col.Values, col.Type, nil
}

func (ev *evaluator) evalUnary(e *hclsyntax.UnaryOpExpr) (cty.Value, error) {
	v, err := ev.eval(e.Val)
	if err != nil {
		return cty.NilVal, err
	}
	switch e.Op {
	case hclsyntax.OpNegate:
		if !isNumber(v) {
			return cty.NilVal, ev.fail(fault.TypeMismatch, "negation needs a number, got %s", typeName(v))
		}
	case hclsyntax.OpLogicalNot:
		if !isBool(v) {
			return cty.NilVal, ev.fail(fault.TypeMismatch, "logical not needs a boolean, got %s", typeName(v))
		}
	}
	out, err := e.Op.Impl.Call([]cty.Value{v})
	if err != nil {
		return cty.NilVal, ev.fail(fault.TypeMismatch, "%s", err.Error())
	}
	return out, nil
}

func (ev *evaluator) evalBinary(e *hclsyntax.BinaryOpExpr) (cty.Value, error) {
	lhs, err := ev.eval(e.LHS)
	if err != nil {
		return cty.NilVal, err
	}
	rhs, err := ev.eval(e.RHS)
	if err != nil {
		return cty.NilVal, err
	}

	switch e.Op {
	case hclsyntax.OpAdd, hclsyntax.OpSubtract, hclsyntax.OpMultiply, hclsyntax.OpDivide, hclsyntax.OpModulo:
		if !isNumber(lhs) || !isNumber(rhs) {
			return cty.NilVal, ev.fail(fault.TypeMismatch,
				"arithmetic needs numbers, got %s and %s", typeName(lhs), typeName(rhs))
		}
		if e.Op == hclsyntax.OpDivide || e.Op == hclsyntax.OpModulo {
			if f, _ := model.Float(rhs); f == 0 {
				return cty.NilVal, ev.fail(fault.DomainError, "division by zero")
			}
		}

	case hclsyntax.OpEqual, hclsyntax.OpNotEqual:
		if !lhs.Type().Equals(rhs.Type()) {
			return cty.NilVal, ev.fail(fault.TypeMismatch,
				"cannot compare %s with %s", typeName(lhs), typeName(rhs))
		}
		eq := lhs.Equals(rhs).True()
		if e.Op == hclsyntax.OpNotEqual {
			eq = !eq
		}
		return cty.BoolVal(eq), nil

	case hclsyntax.OpLessThan, hclsyntax.OpLessThanOrEqual, hclsyntax.OpGreaterThan, hclsyntax.OpGreaterThanOrEqual:
		if ld, lok := model.DateOf(lhs); lok {
			rd, rok := model.DateOf(rhs)
			if !rok {
				return cty.NilVal, ev.fail(fault.TypeMismatch,
					"cannot compare date with %s", typeName(rhs))
			}
			return orderedDates(e.Op, ld, rd), nil
		}
		if !isNumber(lhs) || !isNumber(rhs) {
			return cty.NilVal, ev.fail(fault.TypeMismatch,
				"ordering needs two numbers or two dates, got %s and %s", typeName(lhs), typeName(rhs))
		}

	case hclsyntax.OpLogicalAnd, hclsyntax.OpLogicalOr:
		if !isBool(lhs) || !isBool(rhs) {
			return cty.NilVal, ev.fail(fault.TypeMismatch,
				"logic needs booleans, got %s and %s", typeName(lhs), typeName(rhs))
		}
	}

	out, err := e.Op.Impl.Call([]cty.Value{lhs, rhs})
	if err != nil {
		return cty.NilVal, ev.fail(fault.TypeMismatch, "%s", err.Error())
	}
	return out, nil
}

// orderedDates applies an ordering operator to two calendar dates.
func orderedDates(op *hclsyntax.Operation, a, b time.Time) cty.Value {
	switch op {
	case hclsyntax.OpLessThan:
		return cty.BoolVal(a.Before(b))
	case hclsyntax.OpLessThanOrEqual:
		return cty.BoolVal(!a.After(b))
	case hclsyntax.OpGreaterThan:
		return cty.BoolVal(a.After(b))
	default:
		return cty.BoolVal(!a.Before(b))
	}
}

// evalConditional evaluates `cond ? then : else` with a strictly boolean
// condition and lazy branch evaluation, so the untaken branch can neither
// fault nor cost anything.
func (ev *evaluator) evalConditional(e *hclsyntax.ConditionalExpr) (cty.Value, error) {
	cond, err := ev.eval(e.Condition)
	if err != nil {
		return cty.NilVal, err
	}
	if !isBool(cond) {
		return cty.NilVal, ev.fail(fault.TypeMismatch,
			"condition needs a boolean, got %s", typeName(cond))
	}
	if cond.True() {
		return ev.eval(e.TrueResult)
	}
	return ev.eval(e.FalseResult)
}

// evalCall dispatches a function call to the column or scalar namespace.
// Column functions receive whole columns for column-reference arguments;
// every other argument is evaluated to a single value first.
func (ev *evaluator) evalCall(e *hclsyntax.FunctionCallExpr) (cty.Value, error) {
	name := strings.ToUpper(e.Name)
	cf, isColumn := ev.reg.ColumnFunc(name)
	sf, isScalar := ev.reg.ScalarFunc(name)

	if isColumn {
		args, err := ev.columnArgs(e)
		if err != nil {
			return cty.NilVal, err
		}
		// Names like MIN live in both namespaces; without a column
		// argument the call belongs to the scalar library.
		route := !isScalar
		for _, a := range args {
			if a.IsColumn() {
				route = true
				break
			}
		}
		if route {
			v, err := cf(args)
			if err != nil {
				return cty.NilVal, ev.annotate(err)
			}
			return v, nil
		}
	}

	if isScalar {
		vals := make([]cty.Value, len(e.Args))
		for i, argExpr := range e.Args {
			v, err := ev.eval(argExpr)
			if err != nil {
				return cty.NilVal, err
			}
			vals[i] = v
		}
		v, err := sf.Call(vals)
		if err != nil {
			var f *fault.Fault
			if errors.As(err, &f) {
				return cty.NilVal, ev.annotate(f)
			}
			return cty.NilVal, ev.fail(fault.TypeMismatch, "%s: %s", name, err.Error())
		}
		return v, nil
	}

	return cty.NilVal, ev.fail(fault.UnknownReference, "unknown function %q", e.Name)
}

// columnArgs evaluates a column function's arguments. A plain column
// reference stays a whole column; anything else collapses to one value.
func (ev *evaluator) columnArgs(call *hclsyntax.FunctionCallExpr) ([]funcs.Arg, error) {
	out := make([]funcs.Arg, 0, len(call.Args))
	for _, argExpr := range call.Args {
		if st, ok := stripParens(argExpr).(*hclsyntax.ScopeTraversalExpr); ok {
			ref, err := ev.scope.Resolve(ev.formula, st.Traversal)
			if err != nil {
				return nil, ev.annotate(err)
			}
			if ref.Kind == refs.ColumnRef {
				vals, typ, err := ev.columnValues(ref.Table, ref.Column)
				if err != nil {
					return nil, err
				}
				if vals == nil {
					vals = []cty.Value{}
				}
				out = append(out, funcs.Arg{Column: vals, Type: typ, Subject: ref.String()})
				continue
			}
		}
		v, err := ev.eval(argExpr)
		if err != nil {
			return nil, err
		}
		out = append(out, funcs.Arg{Value: v})
	}
	return out, nil
}

// evalTemplate concatenates string template parts, rendering interpolated
// primitives to text.
func (ev *evaluator) evalTemplate(e *hclsyntax.TemplateExpr) (cty.Value, error) {
	var sb strings.Builder
	for _, part := range e.Parts {
		v, err := ev.eval(part)
		if err != nil {
			return cty.NilVal, err
		}
		s, ok := textOf(v)
		if !ok {
			return cty.NilVal, ev.fail(fault.TypeMismatch,
				"cannot interpolate %s into text", typeName(v))
		}
		sb.WriteString(s)
	}
	return cty.StringVal(sb.String()), nil
}

// evalIndex handles indexing with a computed position, `t.values[n - 1]`.
// Literal positions resolve during compilation instead.
func (ev *evaluator) evalIndex(e *hclsyntax.IndexExpr) (cty.Value, error) {
	st, ok := stripParens(e.Collection).(*hclsyntax.ScopeTraversalExpr)
	if !ok {
		return cty.NilVal, ev.fail(fault.TypeMismatch, "only columns can be indexed")
	}
	ref, err := ev.scope.Resolve(ev.formula, st.Traversal)
	if err != nil {
		return cty.NilVal, ev.annotate(err)
	}
	if ref.Kind != refs.ColumnRef {
		return cty.NilVal, ev.fail(fault.TypeMismatch, "%q is not an indexable column", ref.String())
	}
	keyVal, err := ev.eval(e.Key)
	if err != nil {
		return cty.NilVal, err
	}
	idx, ok := model.IntFromVal(keyVal)
	if !ok {
		return cty.NilVal, ev.fail(fault.IndexOutOfRange, "element index must be an integer")
	}
	vals, _, err := ev.columnValues(ref.Table, ref.Column)
	if err != nil {
		return cty.NilVal, err
	}
	if idx < 0 || idx >= len(vals) {
		return cty.NilVal, ev.fail(fault.IndexOutOfRange,
			"%s: index %d outside [0, %d)", ref.String(), idx, len(vals))
	}
	return vals[idx], nil
}

// fail builds a fault annotated with the evaluator's subject and formula.
func (ev *evaluator) fail(kind fault.Kind, format string, args ...any) *fault.Fault {
	return fault.New(kind, ev.subject, ev.formula, format, args...)
}

// annotate fills in the owner address and formula text on faults bubbling
// up from resolution or the function library.
func (ev *evaluator) annotate(err error) error {
	var f *fault.Fault
	if !errors.As(err, &f) {
		return ev.fail(fault.DomainError, "%s", err.Error())
	}
	if f.Subject == "" {
		f.Subject = ev.subject
	}
	if f.Formula == "" {
		f.Formula = ev.formula
	}
	return f
}

// stripParens removes redundant grouping from around an expression.
func stripParens(expr hclsyntax.Expression) hclsyntax.Expression {
	for {
		p, ok := expr.(*hclsyntax.ParenthesesExpr)
		if !ok {
			return expr
		}
		expr = p.Expression
	}
}

func isNumber(v cty.Value) bool {
	return !v.IsNull() && v.Type().Equals(cty.Number)
}

func isBool(v cty.Value) bool {
	return !v.IsNull() && v.Type().Equals(cty.Bool)
}

// typeName names a value's type for diagnostics.
func typeName(v cty.Value) string {
	if v.IsNull() {
		return "null"
	}
	if t, ok := model.TypeOf(v); ok {
		return t.String()
	}
	return v.Type().FriendlyName()
}

// textOf renders a primitive value as text for template interpolation.
func textOf(v cty.Value) (string, bool) {
	if v.IsNull() {
		return "", false
	}
	switch {
	case v.Type().Equals(cty.String):
		return v.AsString(), true
	case v.Type().Equals(cty.Number):
		return v.AsBigFloat().Text('f', -1), true
	case v.Type().Equals(cty.Bool):
		if v.True() {
			return "true", true
		}
		return "false", true
	case v.Type().Equals(model.DateType):
		return model.FormatDate(v), true
	default:
		return "", false
	}
}
