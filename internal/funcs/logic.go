package funcs

import (
	"github.com/royalbit/forge/fault"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// registerLogic installs the boolean functions.
func registerLogic(r *Registry) {
	r.scalar["IF"] = ifFunc
	r.scalar["AND"] = andFunc
	r.scalar["OR"] = orFunc
	r.scalar["NOT"] = notFunc
}

// ifFunc is IF(condition, then, else). Both branches must carry the same
// type; the result type follows them.
var ifFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "condition", Type: cty.Bool},
		{Name: "then", Type: cty.DynamicPseudoType, AllowNull: true},
		{Name: "else", Type: cty.DynamicPseudoType, AllowNull: true},
	},
	Type: func(args []cty.Value) (cty.Type, error) {
		if !args[1].Type().Equals(args[2].Type()) {
			return cty.NilType, fault.New(fault.TypeMismatch, "", "",
				"IF branches have different types")
		}
		return args[1].Type(), nil
	},
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		if args[0].True() {
			return args[1], nil
		}
		return args[2], nil
	},
})

var andFunc = function.New(&function.Spec{
	VarParam: &function.Parameter{Name: "conditions", Type: cty.Bool},
	Type:     function.StaticReturnType(cty.Bool),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		if len(args) == 0 {
			return cty.NilVal, fault.New(fault.TypeMismatch, "", "", "AND expects at least one argument")
		}
		for _, arg := range args {
			if !arg.True() {
				return cty.False, nil
			}
		}
		return cty.True, nil
	},
})

var orFunc = function.New(&function.Spec{
	VarParam: &function.Parameter{Name: "conditions", Type: cty.Bool},
	Type:     function.StaticReturnType(cty.Bool),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		if len(args) == 0 {
			return cty.NilVal, fault.New(fault.TypeMismatch, "", "", "OR expects at least one argument")
		}
		for _, arg := range args {
			if arg.True() {
				return cty.True, nil
			}
		}
		return cty.False, nil
	},
})

var notFunc = function.New(&function.Spec{
	Params: []function.Parameter{{Name: "condition", Type: cty.Bool}},
	Type:   function.StaticReturnType(cty.Bool),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		return cty.BoolVal(!args[0].True()), nil
	},
})
