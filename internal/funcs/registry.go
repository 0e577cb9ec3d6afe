// Package funcs is the engine's function library: aggregation,
// conditional aggregation, lookup, math, text, date, logic, statistical and
// financial functions. All functions are pure given their inputs. The
// library splits into two namespaces: column functions consume whole
// columns and are dispatched by the evaluator with column-aware arguments;
// scalar functions are ordinary cty functions evaluated on single values.
package funcs

import (
	"strings"

	"github.com/royalbit/forge/fault"
	"github.com/royalbit/forge/model"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// Arg is one evaluated argument of a column function. Exactly one of
// Column or Value is meaningful.
type Arg struct {
	// Column holds the whole referenced column when the argument was a
	// column reference; nil otherwise.
	Column []cty.Value
	// Type is the column's element type when Column is non-nil.
	Type model.Type
	// Value is the evaluated scalar argument when Column is nil.
	Value cty.Value
	// Subject is the argument's address for diagnostics, when known.
	Subject string
}

// IsColumn reports whether the argument is a whole-column operand.
func (a Arg) IsColumn() bool {
	return a.Column != nil
}

// ColumnFunc reduces column and scalar arguments to a single value.
type ColumnFunc func(args []Arg) (cty.Value, error)

// Registry holds the function library keyed by upper-case name.
type Registry struct {
	column map[string]ColumnFunc
	scalar map[string]function.Function
}

// Default builds the full library.
func Default() *Registry {
	r := &Registry{
		column: make(map[string]ColumnFunc),
		scalar: make(map[string]function.Function),
	}
	registerAggregates(r)
	registerConditional(r)
	registerLookup(r)
	registerStats(r)
	registerFinancial(r)
	registerMath(r)
	registerText(r)
	registerDate(r)
	registerLogic(r)
	return r
}

// IsColumnFunc reports whether name belongs to the column-consuming
// namespace. Names are matched case-insensitively.
func (r *Registry) IsColumnFunc(name string) bool {
	_, ok := r.column[strings.ToUpper(name)]
	return ok
}

// ColumnFunc looks up a column function by name.
func (r *Registry) ColumnFunc(name string) (ColumnFunc, bool) {
	fn, ok := r.column[strings.ToUpper(name)]
	return fn, ok
}

// ScalarFunc looks up a scalar function by name.
func (r *Registry) ScalarFunc(name string) (function.Function, bool) {
	fn, ok := r.scalar[strings.ToUpper(name)]
	return fn, ok
}

// Known reports whether the name exists in either namespace.
func (r *Registry) Known(name string) bool {
	upper := strings.ToUpper(name)
	if _, ok := r.column[upper]; ok {
		return true
	}
	_, ok := r.scalar[upper]
	return ok
}

// columnFloats extracts a float64 slice from a numeric column argument.
func columnFloats(name string, a Arg) ([]float64, error) {
	if !a.IsColumn() {
		return nil, fault.New(fault.TypeMismatch, a.Subject, "", "%s expects a column reference", name)
	}
	if a.Type != model.Number {
		return nil, fault.New(fault.TypeMismatch, a.Subject, "", "%s requires a numeric column, got %s", name, a.Type)
	}
	out := make([]float64, len(a.Column))
	for i, v := range a.Column {
		f, ok := model.Float(v)
		if !ok {
			return nil, fault.New(fault.TypeMismatch, a.Subject, "", "%s: row %d is not a number", name, i)
		}
		out[i] = f
	}
	return out, nil
}

// scalarFloat extracts a float64 from a scalar numeric argument.
func scalarFloat(name string, a Arg) (float64, error) {
	if a.IsColumn() {
		return 0, fault.New(fault.TypeMismatch, a.Subject, "", "%s expects a single value, got a column", name)
	}
	f, ok := model.Float(a.Value)
	if !ok {
		return 0, fault.New(fault.TypeMismatch, a.Subject, "", "%s expects a number", name)
	}
	return f, nil
}

// scalarText extracts a string from a scalar text argument.
func scalarText(name string, a Arg) (string, error) {
	if a.IsColumn() || a.Value.IsNull() || !a.Value.Type().Equals(cty.String) {
		return "", fault.New(fault.TypeMismatch, a.Subject, "", "%s expects a text value", name)
	}
	return a.Value.AsString(), nil
}

// wantArgs checks an exact argument count.
func wantArgs(name string, args []Arg, n int) error {
	if len(args) != n {
		return fault.New(fault.TypeMismatch, "", "", "%s expects %d argument(s), got %d", name, n, len(args))
	}
	return nil
}

// wantArgRange checks an argument count range.
func wantArgRange(name string, args []Arg, lo, hi int) error {
	if len(args) < lo || len(args) > hi {
		return fault.New(fault.TypeMismatch, "", "", "%s expects between %d and %d arguments, got %d", name, lo, hi, len(args))
	}
	return nil
}
