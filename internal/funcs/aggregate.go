package funcs

import (
	"github.com/royalbit/forge/fault"
	"github.com/royalbit/forge/model"
	"github.com/zclconf/go-cty/cty"
)

// registerAggregates installs the plain column reductions.
func registerAggregates(r *Registry) {
	r.column["SUM"] = aggSum
	r.column["AVERAGE"] = aggAverage
	r.column["MIN"] = aggMin
	r.column["MAX"] = aggMax
	r.column["COUNT"] = aggCount
	r.column["PRODUCT"] = aggProduct
	r.column["COUNTUNIQUE"] = aggCountUnique
}

func aggSum(args []Arg) (cty.Value, error) {
	if err := wantArgs("SUM", args, 1); err != nil {
		return cty.NilVal, err
	}
	vals, err := columnFloats("SUM", args[0])
	if err != nil {
		return cty.NilVal, err
	}
	sum := 0.0
	for _, f := range vals {
		sum += f
	}
	return cty.NumberFloatVal(sum), nil
}

func aggAverage(args []Arg) (cty.Value, error) {
	if err := wantArgs("AVERAGE", args, 1); err != nil {
		return cty.NilVal, err
	}
	vals, err := columnFloats("AVERAGE", args[0])
	if err != nil {
		return cty.NilVal, err
	}
	if len(vals) == 0 {
		return cty.NilVal, fault.New(fault.DomainError, args[0].Subject, "", "AVERAGE of an empty column")
	}
	sum := 0.0
	for _, f := range vals {
		sum += f
	}
	return cty.NumberFloatVal(sum / float64(len(vals))), nil
}

func aggMin(args []Arg) (cty.Value, error) {
	return aggExtremum("MIN", args, true)
}

func aggMax(args []Arg) (cty.Value, error) {
	return aggExtremum("MAX", args, false)
}

// aggExtremum handles MIN and MAX over numeric or date columns; ordering is
// typed, never coerced.
func aggExtremum(name string, args []Arg, min bool) (cty.Value, error) {
	if err := wantArgs(name, args, 1); err != nil {
		return cty.NilVal, err
	}
	a := args[0]
	if !a.IsColumn() {
		return cty.NilVal, fault.New(fault.TypeMismatch, a.Subject, "", "%s expects a column reference", name)
	}
	if len(a.Column) == 0 {
		return cty.NilVal, fault.New(fault.DomainError, a.Subject, "", "%s of an empty column", name)
	}
	switch a.Type {
	case model.Number:
		vals, err := columnFloats(name, a)
		if err != nil {
			return cty.NilVal, err
		}
		best := vals[0]
		for _, f := range vals[1:] {
			if (min && f < best) || (!min && f > best) {
				best = f
			}
		}
		return cty.NumberFloatVal(best), nil
	case model.Date:
		best, _ := model.DateOf(a.Column[0])
		for _, v := range a.Column[1:] {
			d, _ := model.DateOf(v)
			if (min && d.Before(best)) || (!min && d.After(best)) {
				best = d
			}
		}
		return model.DateVal(best), nil
	default:
		return cty.NilVal, fault.New(fault.TypeMismatch, a.Subject, "", "%s requires a numeric or date column, got %s", name, a.Type)
	}
}

func aggCount(args []Arg) (cty.Value, error) {
	if err := wantArgs("COUNT", args, 1); err != nil {
		return cty.NilVal, err
	}
	a := args[0]
	if !a.IsColumn() {
		return cty.NilVal, fault.New(fault.TypeMismatch, a.Subject, "", "COUNT expects a column reference")
	}
	n := 0
	for _, v := range a.Column {
		if !v.IsNull() {
			n++
		}
	}
	return cty.NumberIntVal(int64(n)), nil
}

func aggProduct(args []Arg) (cty.Value, error) {
	if err := wantArgs("PRODUCT", args, 1); err != nil {
		return cty.NilVal, err
	}
	vals, err := columnFloats("PRODUCT", args[0])
	if err != nil {
		return cty.NilVal, err
	}
	product := 1.0
	for _, f := range vals {
		product *= f
	}
	return cty.NumberFloatVal(product), nil
}

func aggCountUnique(args []Arg) (cty.Value, error) {
	if err := wantArgs("COUNTUNIQUE", args, 1); err != nil {
		return cty.NilVal, err
	}
	a := args[0]
	if !a.IsColumn() {
		return cty.NilVal, fault.New(fault.TypeMismatch, a.Subject, "", "COUNTUNIQUE expects a column reference")
	}
	seen := make(map[string]struct{}, len(a.Column))
	for _, v := range a.Column {
		if v.IsNull() {
			continue
		}
		seen[model.FormatValue(model.RoundVal(v))] = struct{}{}
	}
	return cty.NumberIntVal(int64(len(seen))), nil
}
