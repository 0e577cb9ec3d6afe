package funcs

import (
	"math"
	"sort"

	"github.com/royalbit/forge/fault"
	"github.com/zclconf/go-cty/cty"
)

// registerStats installs the statistical reductions.
func registerStats(r *Registry) {
	r.column["MEDIAN"] = statMedian
	r.column["STDEV"] = statStdev
	r.column["VAR"] = statVar
	r.column["PERCENTILE"] = statPercentile
	r.column["CORREL"] = statCorrel
}

func statMedian(args []Arg) (cty.Value, error) {
	if err := wantArgs("MEDIAN", args, 1); err != nil {
		return cty.NilVal, err
	}
	vals, err := columnFloats("MEDIAN", args[0])
	if err != nil {
		return cty.NilVal, err
	}
	if len(vals) == 0 {
		return cty.NilVal, fault.New(fault.DomainError, args[0].Subject, "", "MEDIAN of an empty column")
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return cty.NumberFloatVal(sorted[mid]), nil
	}
	return cty.NumberFloatVal((sorted[mid-1] + sorted[mid]) / 2), nil
}

// sampleVariance returns the n-1 variance.
func sampleVariance(vals []float64) (float64, bool) {
	if len(vals) < 2 {
		return 0, false
	}
	mean := 0.0
	for _, f := range vals {
		mean += f
	}
	mean /= float64(len(vals))
	ss := 0.0
	for _, f := range vals {
		d := f - mean
		ss += d * d
	}
	return ss / float64(len(vals)-1), true
}

func statStdev(args []Arg) (cty.Value, error) {
	if err := wantArgs("STDEV", args, 1); err != nil {
		return cty.NilVal, err
	}
	vals, err := columnFloats("STDEV", args[0])
	if err != nil {
		return cty.NilVal, err
	}
	v, ok := sampleVariance(vals)
	if !ok {
		return cty.NilVal, fault.New(fault.DomainError, args[0].Subject, "", "STDEV needs at least 2 values")
	}
	return cty.NumberFloatVal(math.Sqrt(v)), nil
}

func statVar(args []Arg) (cty.Value, error) {
	if err := wantArgs("VAR", args, 1); err != nil {
		return cty.NilVal, err
	}
	vals, err := columnFloats("VAR", args[0])
	if err != nil {
		return cty.NilVal, err
	}
	v, ok := sampleVariance(vals)
	if !ok {
		return cty.NilVal, fault.New(fault.DomainError, args[0].Subject, "", "VAR needs at least 2 values")
	}
	return cty.NumberFloatVal(v), nil
}

// statPercentile is PERCENTILE(column, p) with p in [0, 1], using linear
// interpolation between closest ranks.
func statPercentile(args []Arg) (cty.Value, error) {
	if err := wantArgs("PERCENTILE", args, 2); err != nil {
		return cty.NilVal, err
	}
	vals, err := columnFloats("PERCENTILE", args[0])
	if err != nil {
		return cty.NilVal, err
	}
	p, err := scalarFloat("PERCENTILE", args[1])
	if err != nil {
		return cty.NilVal, err
	}
	if len(vals) == 0 {
		return cty.NilVal, fault.New(fault.DomainError, args[0].Subject, "", "PERCENTILE of an empty column")
	}
	if p < 0 || p > 1 {
		return cty.NilVal, fault.New(fault.DomainError, args[0].Subject, "", "PERCENTILE fraction %g outside [0, 1]", p)
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return cty.NumberFloatVal(sorted[lo]), nil
	}
	frac := rank - float64(lo)
	return cty.NumberFloatVal(sorted[lo]+(sorted[hi]-sorted[lo])*frac), nil
}

func statCorrel(args []Arg) (cty.Value, error) {
	if err := wantArgs("CORREL", args, 2); err != nil {
		return cty.NilVal, err
	}
	xs, err := columnFloats("CORREL", args[0])
	if err != nil {
		return cty.NilVal, err
	}
	ys, err := columnFloats("CORREL", args[1])
	if err != nil {
		return cty.NilVal, err
	}
	if len(xs) != len(ys) {
		return cty.NilVal, fault.New(fault.TypeMismatch, args[1].Subject, "",
			"CORREL columns have %d and %d rows", len(xs), len(ys))
	}
	if len(xs) < 2 {
		return cty.NilVal, fault.New(fault.DomainError, args[0].Subject, "", "CORREL needs at least 2 rows")
	}
	var meanX, meanY float64
	for i := range xs {
		meanX += xs[i]
		meanY += ys[i]
	}
	meanX /= float64(len(xs))
	meanY /= float64(len(ys))
	var cov, varX, varY float64
	for i := range xs {
		dx := xs[i] - meanX
		dy := ys[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return cty.NilVal, fault.New(fault.DomainError, args[0].Subject, "", "CORREL of a constant column")
	}
	return cty.NumberFloatVal(cov / math.Sqrt(varX*varY)), nil
}
