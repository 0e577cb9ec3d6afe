package funcs

import (
	"github.com/royalbit/forge/fault"
	"github.com/royalbit/forge/model"
	"github.com/zclconf/go-cty/cty"
)

// registerLookup installs typed lookup over columns. Comparison is tagged
// equality within one type, never coercion across types; a miss is an error
// unless the call site supplies an explicit fallback.
func registerLookup(r *Registry) {
	r.column["LOOKUP"] = lookupFn
	r.column["MATCH"] = matchFn
	r.column["INDEX"] = indexFn
}

// lookupEqual compares a needle against one column value without coercion.
func lookupEqual(needle, v cty.Value) (bool, error) {
	if v.IsNull() || needle.IsNull() {
		return false, nil
	}
	nt, ok1 := model.TypeOf(needle)
	vt, ok2 := model.TypeOf(v)
	if !ok1 || !ok2 {
		return false, fault.New(fault.TypeMismatch, "", "", "lookup over non-primitive values")
	}
	if nt != vt {
		return false, fault.New(fault.TypeMismatch, "", "",
			"lookup value is %s but column holds %s", nt, vt)
	}
	return model.ValuesEqual(needle, v), nil
}

// lookupFn is LOOKUP(value, lookup_column, result_column[, fallback]).
func lookupFn(args []Arg) (cty.Value, error) {
	if err := wantArgRange("LOOKUP", args, 3, 4); err != nil {
		return cty.NilVal, err
	}
	needle := args[0]
	lookupCol := args[1]
	resultCol := args[2]
	if needle.IsColumn() {
		return cty.NilVal, fault.New(fault.TypeMismatch, needle.Subject, "", "LOOKUP value must be a single value")
	}
	if !lookupCol.IsColumn() || !resultCol.IsColumn() {
		return cty.NilVal, fault.New(fault.TypeMismatch, "", "", "LOOKUP ranges must be column references")
	}
	if len(lookupCol.Column) != len(resultCol.Column) {
		return cty.NilVal, fault.New(fault.TypeMismatch, resultCol.Subject, "",
			"LOOKUP result column has %d rows, lookup column has %d", len(resultCol.Column), len(lookupCol.Column))
	}

	for i, v := range lookupCol.Column {
		ok, err := lookupEqual(needle.Value, v)
		if err != nil {
			return cty.NilVal, err
		}
		if ok {
			return resultCol.Column[i], nil
		}
	}
	if len(args) == 4 {
		if args[3].IsColumn() {
			return cty.NilVal, fault.New(fault.TypeMismatch, args[3].Subject, "", "LOOKUP fallback must be a single value")
		}
		return args[3].Value, nil
	}
	return cty.NilVal, fault.New(fault.NotFound, lookupCol.Subject, "",
		"LOOKUP found no row matching %s", model.FormatValue(needle.Value))
}

// matchFn is MATCH(value, column): the zero-based position of the first
// matching row.
func matchFn(args []Arg) (cty.Value, error) {
	if err := wantArgs("MATCH", args, 2); err != nil {
		return cty.NilVal, err
	}
	needle := args[0]
	col := args[1]
	if needle.IsColumn() || !col.IsColumn() {
		return cty.NilVal, fault.New(fault.TypeMismatch, "", "", "MATCH expects (value, column)")
	}
	for i, v := range col.Column {
		ok, err := lookupEqual(needle.Value, v)
		if err != nil {
			return cty.NilVal, err
		}
		if ok {
			return cty.NumberIntVal(int64(i)), nil
		}
	}
	return cty.NilVal, fault.New(fault.NotFound, col.Subject, "",
		"MATCH found no row matching %s", model.FormatValue(needle.Value))
}

// indexFn is INDEX(column, position): the element at a zero-based position.
func indexFn(args []Arg) (cty.Value, error) {
	if err := wantArgs("INDEX", args, 2); err != nil {
		return cty.NilVal, err
	}
	col := args[0]
	if !col.IsColumn() {
		return cty.NilVal, fault.New(fault.TypeMismatch, col.Subject, "", "INDEX expects a column reference")
	}
	if args[1].IsColumn() {
		return cty.NilVal, fault.New(fault.TypeMismatch, args[1].Subject, "", "INDEX position must be a single value")
	}
	pos, ok := model.IntFromVal(args[1].Value)
	if !ok {
		return cty.NilVal, fault.New(fault.TypeMismatch, args[1].Subject, "", "INDEX position must be an integer")
	}
	if pos < 0 || pos >= len(col.Column) {
		return cty.NilVal, fault.New(fault.IndexOutOfRange, col.Subject, "",
			"index %d outside [0, %d)", pos, len(col.Column))
	}
	return col.Column[pos], nil
}
