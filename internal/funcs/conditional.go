package funcs

import (
	"github.com/royalbit/forge/fault"
	"github.com/zclconf/go-cty/cty"
)

// registerConditional installs the criteria-filtered reductions. Every
// variant takes a target column, a criteria string applied to it, and then
// optional further (column, criteria) pairs; all pairs are ANDed row-wise.
func registerConditional(r *Registry) {
	r.column["SUMIF"] = condReduce("SUMIF", func(vals []float64) (cty.Value, error) {
		sum := 0.0
		for _, f := range vals {
			sum += f
		}
		return cty.NumberFloatVal(sum), nil
	})
	r.column["AVERAGEIF"] = condReduce("AVERAGEIF", func(vals []float64) (cty.Value, error) {
		if len(vals) == 0 {
			return cty.NilVal, fault.New(fault.DomainError, "", "", "AVERAGEIF matched no rows")
		}
		sum := 0.0
		for _, f := range vals {
			sum += f
		}
		return cty.NumberFloatVal(sum / float64(len(vals))), nil
	})
	r.column["MINIF"] = condReduce("MINIF", func(vals []float64) (cty.Value, error) {
		if len(vals) == 0 {
			return cty.NilVal, fault.New(fault.DomainError, "", "", "MINIF matched no rows")
		}
		best := vals[0]
		for _, f := range vals[1:] {
			if f < best {
				best = f
			}
		}
		return cty.NumberFloatVal(best), nil
	})
	r.column["MAXIF"] = condReduce("MAXIF", func(vals []float64) (cty.Value, error) {
		if len(vals) == 0 {
			return cty.NilVal, fault.New(fault.DomainError, "", "", "MAXIF matched no rows")
		}
		best := vals[0]
		for _, f := range vals[1:] {
			if f > best {
				best = f
			}
		}
		return cty.NumberFloatVal(best), nil
	})
	r.column["COUNTIF"] = condCount
}

// conditionMask evaluates the ANDed (column, criteria) pairs into a row
// mask. A criteria string directly after the target applies to the target
// column itself; any (column, criteria) pairs that follow filter on those
// columns instead.
func conditionMask(name string, target Arg, args []Arg) ([]bool, error) {
	if !target.IsColumn() {
		return nil, fault.New(fault.TypeMismatch, target.Subject, "", "%s expects a column reference", name)
	}

	rows := len(target.Column)
	mask := make([]bool, rows)
	for i := range mask {
		mask[i] = true
	}

	applyPair := func(col Arg, critArg Arg) error {
		if !col.IsColumn() {
			return fault.New(fault.TypeMismatch, col.Subject, "", "%s criteria range must be a column", name)
		}
		if len(col.Column) != rows {
			return fault.New(fault.TypeMismatch, col.Subject, "",
				"%s criteria range has %d rows, target has %d", name, len(col.Column), rows)
		}
		critText, err := scalarText(name, critArg)
		if err != nil {
			return err
		}
		crit := parseCriterion(critText)
		for i, v := range col.Column {
			if !mask[i] {
				continue
			}
			ok, err := crit.matches(v)
			if err != nil {
				return err
			}
			mask[i] = ok
		}
		return nil
	}

	rest := args[1:]
	if len(rest) > 0 && !rest[0].IsColumn() {
		// Leading criteria string applies to the target column itself.
		if err := applyPair(target, rest[0]); err != nil {
			return nil, err
		}
		rest = rest[1:]
	}
	if len(rest)%2 != 0 {
		return nil, fault.New(fault.TypeMismatch, "", "",
			"%s criteria must come as (column, criteria) pairs", name)
	}
	for i := 0; i+1 < len(rest); i += 2 {
		if err := applyPair(rest[i], rest[i+1]); err != nil {
			return nil, err
		}
	}
	return mask, nil
}

// condReduce builds a conditional numeric reduction from a fold function.
func condReduce(name string, fold func([]float64) (cty.Value, error)) ColumnFunc {
	return func(args []Arg) (cty.Value, error) {
		if len(args) < 2 {
			return cty.NilVal, fault.New(fault.TypeMismatch, "", "", "%s expects at least 2 arguments", name)
		}
		target := args[0]
		mask, err := conditionMask(name, target, args)
		if err != nil {
			return cty.NilVal, err
		}
		all, err := columnFloats(name, target)
		if err != nil {
			return cty.NilVal, err
		}
		var vals []float64
		for i, keep := range mask {
			if keep {
				vals = append(vals, all[i])
			}
		}
		return fold(vals)
	}
}

// condCount counts matching rows; unlike the numeric reductions it accepts
// a target column of any primitive type.
func condCount(args []Arg) (cty.Value, error) {
	if len(args) < 2 {
		return cty.NilVal, fault.New(fault.TypeMismatch, "", "", "COUNTIF expects at least 2 arguments")
	}
	target := args[0]
	if !target.IsColumn() {
		return cty.NilVal, fault.New(fault.TypeMismatch, target.Subject, "", "COUNTIF expects a column reference")
	}
	mask, err := conditionMask("COUNTIF", target, args)
	if err != nil {
		return cty.NilVal, err
	}
	n := 0
	for _, keep := range mask {
		if keep {
			n++
		}
	}
	return cty.NumberIntVal(int64(n)), nil
}
