package funcs

import (
	"math"

	"github.com/royalbit/forge/fault"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// registerMath installs the scalar math functions. Where the cty stdlib
// already provides the operation we use it directly; the rest are small
// wrappers that surface domain violations as typed faults.
func registerMath(r *Registry) {
	r.scalar["ABS"] = stdlib.AbsoluteFunc
	r.scalar["CEILING"] = stdlib.CeilFunc
	r.scalar["FLOOR"] = stdlib.FloorFunc
	r.scalar["POWER"] = stdlib.PowFunc
	r.scalar["LOG"] = stdlib.LogFunc
	r.scalar["SIGN"] = stdlib.SignumFunc
	r.scalar["MIN"] = stdlib.MinFunc
	r.scalar["MAX"] = stdlib.MaxFunc

	r.scalar["SQRT"] = sqrtFunc
	r.scalar["MOD"] = modFunc
	r.scalar["ROUND"] = roundFunc
	r.scalar["EXP"] = expFunc
	r.scalar["LN"] = lnFunc
	r.scalar["PI"] = piFunc
}

var sqrtFunc = function.New(&function.Spec{
	Params: numberParams("x"),
	Type:   function.StaticReturnType(cty.Number),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		x := argFloat(args[0])
		if x < 0 {
			return cty.NilVal, fault.New(fault.DomainError, "", "", "SQRT of negative number %g", x)
		}
		return cty.NumberFloatVal(math.Sqrt(x)), nil
	},
})

var modFunc = function.New(&function.Spec{
	Params: numberParams("x", "y"),
	Type:   function.StaticReturnType(cty.Number),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		x, y := argFloat(args[0]), argFloat(args[1])
		if y == 0 {
			return cty.NilVal, fault.New(fault.DomainError, "", "", "MOD by zero")
		}
		// Excel-style: the result carries the sign of the divisor.
		m := math.Mod(x, y)
		if m != 0 && (m < 0) != (y < 0) {
			m += y
		}
		return cty.NumberFloatVal(m), nil
	},
})

var roundFunc = function.New(&function.Spec{
	Params: numberParams("x", "digits"),
	Type:   function.StaticReturnType(cty.Number),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		x, digits := argFloat(args[0]), argFloat(args[1])
		if digits != math.Trunc(digits) {
			return cty.NilVal, fault.New(fault.DomainError, "", "", "ROUND digits must be an integer")
		}
		scale := math.Pow(10, digits)
		return cty.NumberFloatVal(math.Round(x*scale) / scale), nil
	},
})

var expFunc = function.New(&function.Spec{
	Params: numberParams("x"),
	Type:   function.StaticReturnType(cty.Number),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		return cty.NumberFloatVal(math.Exp(argFloat(args[0]))), nil
	},
})

var lnFunc = function.New(&function.Spec{
	Params: numberParams("x"),
	Type:   function.StaticReturnType(cty.Number),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		x := argFloat(args[0])
		if x <= 0 {
			return cty.NilVal, fault.New(fault.DomainError, "", "", "LN of non-positive number %g", x)
		}
		return cty.NumberFloatVal(math.Log(x)), nil
	},
})

var piFunc = function.New(&function.Spec{
	Params: []function.Parameter{},
	Type:   function.StaticReturnType(cty.Number),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		return cty.NumberFloatVal(math.Pi), nil
	},
})
