package funcs

import (
	"math"

	"github.com/royalbit/forge/fault"
	"github.com/royalbit/forge/model"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

const (
	// newtonMaxIterations bounds every Newton-Raphson loop; exceeding it is
	// a ConvergenceError, never a panic or a silent NaN.
	newtonMaxIterations = 100
	// newtonTolerance is the convergence threshold on the objective.
	newtonTolerance = 1e-7
	// defaultRateGuess seeds the iteration when the caller gives none.
	defaultRateGuess = 0.1
)

// registerFinancial installs the financial functions: column-consuming
// cashflow reductions plus scalar annuity formulas.
func registerFinancial(r *Registry) {
	r.column["NPV"] = finNPV
	r.column["IRR"] = finIRR
	r.column["XIRR"] = finXIRR

	r.scalar["PMT"] = pmtFunc
	r.scalar["FV"] = fvFunc
	r.scalar["PV"] = pvFunc
	r.scalar["NPER"] = nperFunc
	r.scalar["RATE"] = rateFunc
}

// finNPV is NPV(rate, cashflow_column): present value with the first
// cashflow discounted one period.
func finNPV(args []Arg) (cty.Value, error) {
	if err := wantArgs("NPV", args, 2); err != nil {
		return cty.NilVal, err
	}
	rate, err := scalarFloat("NPV", args[0])
	if err != nil {
		return cty.NilVal, err
	}
	flows, err := columnFloats("NPV", args[1])
	if err != nil {
		return cty.NilVal, err
	}
	if rate <= -1 {
		return cty.NilVal, fault.New(fault.DomainError, args[0].Subject, "", "NPV rate must exceed -1")
	}
	npv := 0.0
	for i, cf := range flows {
		npv += cf / math.Pow(1+rate, float64(i+1))
	}
	return cty.NumberFloatVal(npv), nil
}

// newtonSolve runs bounded Newton-Raphson on f with derivative df.
func newtonSolve(f, df func(float64) float64, guess float64) (float64, error) {
	x := guess
	for i := 0; i < newtonMaxIterations; i++ {
		y := f(x)
		if math.Abs(y) < newtonTolerance {
			return x, nil
		}
		d := df(x)
		if d == 0 || math.IsNaN(d) || math.IsInf(d, 0) {
			return 0, fault.New(fault.ConvergenceError, "", "", "derivative vanished at iteration %d", i)
		}
		next := x - y/d
		if math.IsNaN(next) || math.IsInf(next, 0) {
			return 0, fault.New(fault.ConvergenceError, "", "", "iteration diverged at step %d", i)
		}
		x = next
	}
	return 0, fault.New(fault.ConvergenceError, "", "",
		"no convergence within %d iterations", newtonMaxIterations)
}

// finIRR is IRR(cashflow_column[, guess]) by Newton-Raphson.
func finIRR(args []Arg) (cty.Value, error) {
	if err := wantArgRange("IRR", args, 1, 2); err != nil {
		return cty.NilVal, err
	}
	flows, err := columnFloats("IRR", args[0])
	if err != nil {
		return cty.NilVal, err
	}
	guess := defaultRateGuess
	if len(args) == 2 {
		if guess, err = scalarFloat("IRR", args[1]); err != nil {
			return cty.NilVal, err
		}
	}
	if len(flows) < 2 {
		return cty.NilVal, fault.New(fault.DomainError, args[0].Subject, "", "IRR needs at least 2 cashflows")
	}

	npvAt := func(rate float64) float64 {
		v := 0.0
		for i, cf := range flows {
			v += cf / math.Pow(1+rate, float64(i))
		}
		return v
	}
	dNpvAt := func(rate float64) float64 {
		v := 0.0
		for i, cf := range flows {
			if i == 0 {
				continue
			}
			v -= float64(i) * cf / math.Pow(1+rate, float64(i+1))
		}
		return v
	}

	rate, err := newtonSolve(npvAt, dNpvAt, guess)
	if err != nil {
		return cty.NilVal, annotate(err, args[0].Subject)
	}
	return cty.NumberFloatVal(rate), nil
}

// finXIRR is XIRR(cashflow_column, date_column[, guess]): IRR for
// irregularly spaced cashflows on an actual/365 basis.
func finXIRR(args []Arg) (cty.Value, error) {
	if err := wantArgRange("XIRR", args, 2, 3); err != nil {
		return cty.NilVal, err
	}
	flows, err := columnFloats("XIRR", args[0])
	if err != nil {
		return cty.NilVal, err
	}
	dateArg := args[1]
	if !dateArg.IsColumn() || dateArg.Type != model.Date {
		return cty.NilVal, fault.New(fault.TypeMismatch, dateArg.Subject, "", "XIRR expects a date column")
	}
	if len(flows) != len(dateArg.Column) {
		return cty.NilVal, fault.New(fault.TypeMismatch, dateArg.Subject, "",
			"XIRR cashflow and date columns differ in length")
	}
	if len(flows) < 2 {
		return cty.NilVal, fault.New(fault.DomainError, args[0].Subject, "", "XIRR needs at least 2 cashflows")
	}
	guess := defaultRateGuess
	if len(args) == 3 {
		if guess, err = scalarFloat("XIRR", args[2]); err != nil {
			return cty.NilVal, err
		}
	}

	t0, _ := model.DateOf(dateArg.Column[0])
	years := make([]float64, len(flows))
	for i, v := range dateArg.Column {
		d, _ := model.DateOf(v)
		years[i] = d.Sub(t0).Hours() / 24 / 365
	}

	npvAt := func(rate float64) float64 {
		v := 0.0
		for i, cf := range flows {
			v += cf / math.Pow(1+rate, years[i])
		}
		return v
	}
	dNpvAt := func(rate float64) float64 {
		v := 0.0
		for i, cf := range flows {
			if years[i] == 0 {
				continue
			}
			v -= years[i] * cf / math.Pow(1+rate, years[i]+1)
		}
		return v
	}

	rate, err := newtonSolve(npvAt, dNpvAt, guess)
	if err != nil {
		return cty.NilVal, annotate(err, args[0].Subject)
	}
	return cty.NumberFloatVal(rate), nil
}

// annotate fills a fault's subject when the inner function left it empty.
func annotate(err error, subject string) error {
	if f, ok := err.(*fault.Fault); ok && f.Subject == "" {
		f.Subject = subject
	}
	return err
}

// numberParams declares a list of required numeric parameters.
func numberParams(names ...string) []function.Parameter {
	params := make([]function.Parameter, len(names))
	for i, n := range names {
		params[i] = function.Parameter{Name: n, Type: cty.Number}
	}
	return params
}

func argFloat(v cty.Value) float64 {
	f, _ := v.AsBigFloat().Float64()
	return f
}

// pmtFunc is PMT(rate, nper, pv): the periodic payment of an annuity.
var pmtFunc = function.New(&function.Spec{
	Params: numberParams("rate", "nper", "pv"),
	Type:   function.StaticReturnType(cty.Number),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		rate, nper, pv := argFloat(args[0]), argFloat(args[1]), argFloat(args[2])
		if nper == 0 {
			return cty.NilVal, fault.New(fault.DomainError, "", "", "PMT with zero periods")
		}
		if rate == 0 {
			return cty.NumberFloatVal(-pv / nper), nil
		}
		f := math.Pow(1+rate, nper)
		return cty.NumberFloatVal(-pv * rate * f / (f - 1)), nil
	},
})

// fvFunc is FV(rate, nper, pmt, pv): future value.
var fvFunc = function.New(&function.Spec{
	Params: numberParams("rate", "nper", "pmt", "pv"),
	Type:   function.StaticReturnType(cty.Number),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		rate, nper, pmt, pv := argFloat(args[0]), argFloat(args[1]), argFloat(args[2]), argFloat(args[3])
		if rate == 0 {
			return cty.NumberFloatVal(-(pv + pmt*nper)), nil
		}
		f := math.Pow(1+rate, nper)
		return cty.NumberFloatVal(-(pv*f + pmt*(f-1)/rate)), nil
	},
})

// pvFunc is PV(rate, nper, pmt): present value.
var pvFunc = function.New(&function.Spec{
	Params: numberParams("rate", "nper", "pmt"),
	Type:   function.StaticReturnType(cty.Number),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		rate, nper, pmt := argFloat(args[0]), argFloat(args[1]), argFloat(args[2])
		if rate == 0 {
			return cty.NumberFloatVal(-pmt * nper), nil
		}
		f := math.Pow(1+rate, nper)
		return cty.NumberFloatVal(-pmt * (f - 1) / (rate * f)), nil
	},
})

// nperFunc is NPER(rate, pmt, pv): number of periods.
var nperFunc = function.New(&function.Spec{
	Params: numberParams("rate", "pmt", "pv"),
	Type:   function.StaticReturnType(cty.Number),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		rate, pmt, pv := argFloat(args[0]), argFloat(args[1]), argFloat(args[2])
		if pmt == 0 {
			return cty.NilVal, fault.New(fault.DomainError, "", "", "NPER with zero payment")
		}
		if rate == 0 {
			return cty.NumberFloatVal(-pv / pmt), nil
		}
		num := math.Log(pmt / (pmt + rate*pv))
		den := math.Log(1 + rate)
		v := num / den
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return cty.NilVal, fault.New(fault.DomainError, "", "", "NPER has no solution for these inputs")
		}
		return cty.NumberFloatVal(v), nil
	},
})

// rateFunc is RATE(nper, pmt, pv): the periodic interest rate, found by
// bounded Newton-Raphson on the annuity equation.
var rateFunc = function.New(&function.Spec{
	Params: numberParams("nper", "pmt", "pv"),
	Type:   function.StaticReturnType(cty.Number),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		nper, pmt, pv := argFloat(args[0]), argFloat(args[1]), argFloat(args[2])
		if nper <= 0 {
			return cty.NilVal, fault.New(fault.DomainError, "", "", "RATE with non-positive periods")
		}
		balance := func(rate float64) float64 {
			if rate == 0 {
				return pv + pmt*nper
			}
			f := math.Pow(1+rate, nper)
			return pv*f + pmt*(f-1)/rate
		}
		derivative := func(rate float64) float64 {
			const h = 1e-6
			return (balance(rate+h) - balance(rate-h)) / (2 * h)
		}
		rate, err := newtonSolve(balance, derivative, defaultRateGuess)
		if err != nil {
			return cty.NilVal, err
		}
		return cty.NumberFloatVal(rate), nil
	},
})
