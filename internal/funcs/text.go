package funcs

import (
	"strings"

	"github.com/royalbit/forge/fault"
	"github.com/royalbit/forge/model"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// registerText installs the scalar text functions.
func registerText(r *Registry) {
	r.scalar["UPPER"] = stdlib.UpperFunc
	r.scalar["LOWER"] = stdlib.LowerFunc
	r.scalar["LEN"] = stdlib.StrlenFunc
	r.scalar["TRIM"] = stdlib.TrimSpaceFunc

	r.scalar["CONCAT"] = concatFunc
	r.scalar["LEFT"] = leftFunc
	r.scalar["RIGHT"] = rightFunc
	r.scalar["MID"] = midFunc
	r.scalar["CONTAINS"] = containsFunc
}

// renderText converts any engine primitive to its text form for CONCAT.
func renderText(v cty.Value) (string, error) {
	if v.IsNull() {
		return "", nil
	}
	t, ok := model.TypeOf(v)
	if !ok {
		return "", fault.New(fault.TypeMismatch, "", "", "CONCAT argument is not a primitive value")
	}
	switch t {
	case model.Text:
		return v.AsString(), nil
	case model.Number:
		return v.AsBigFloat().Text('g', -1), nil
	case model.Bool:
		if v.True() {
			return "true", nil
		}
		return "false", nil
	case model.Date:
		return model.FormatDate(v), nil
	default:
		return "", fault.New(fault.TypeMismatch, "", "", "CONCAT cannot render %s", t)
	}
}

var concatFunc = function.New(&function.Spec{
	VarParam: &function.Parameter{Name: "parts", Type: cty.DynamicPseudoType, AllowNull: true},
	Type:     function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		var sb strings.Builder
		for _, arg := range args {
			s, err := renderText(arg)
			if err != nil {
				return cty.NilVal, err
			}
			sb.WriteString(s)
		}
		return cty.StringVal(sb.String()), nil
	},
})

// textSlice is the shared LEFT/RIGHT/MID implementation over runes.
func textSlice(name string, s string, start, length int) (cty.Value, error) {
	if length < 0 {
		return cty.NilVal, fault.New(fault.DomainError, "", "", "%s length must not be negative", name)
	}
	runes := []rune(s)
	if start < 0 || start > len(runes) {
		return cty.NilVal, fault.New(fault.IndexOutOfRange, "", "", "%s start %d outside [0, %d]", name, start, len(runes))
	}
	end := start + length
	if end > len(runes) {
		end = len(runes)
	}
	return cty.StringVal(string(runes[start:end])), nil
}

var leftFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "text", Type: cty.String},
		{Name: "count", Type: cty.Number},
	},
	Type: function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		n, ok := model.IntFromVal(args[1])
		if !ok {
			return cty.NilVal, fault.New(fault.DomainError, "", "", "LEFT count must be an integer")
		}
		return textSlice("LEFT", args[0].AsString(), 0, n)
	},
})

var rightFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "text", Type: cty.String},
		{Name: "count", Type: cty.Number},
	},
	Type: function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		n, ok := model.IntFromVal(args[1])
		if !ok {
			return cty.NilVal, fault.New(fault.DomainError, "", "", "RIGHT count must be an integer")
		}
		runes := []rune(args[0].AsString())
		start := len(runes) - n
		if start < 0 {
			start = 0
		}
		return textSlice("RIGHT", args[0].AsString(), start, n)
	},
})

var midFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "text", Type: cty.String},
		{Name: "start", Type: cty.Number},
		{Name: "count", Type: cty.Number},
	},
	Type: function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		start, ok1 := model.IntFromVal(args[1])
		n, ok2 := model.IntFromVal(args[2])
		if !ok1 || !ok2 {
			return cty.NilVal, fault.New(fault.DomainError, "", "", "MID start and count must be integers")
		}
		return textSlice("MID", args[0].AsString(), start, n)
	},
})

var containsFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "text", Type: cty.String},
		{Name: "substring", Type: cty.String},
	},
	Type: function.StaticReturnType(cty.Bool),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		return cty.BoolVal(strings.Contains(args[0].AsString(), args[1].AsString())), nil
	},
})
