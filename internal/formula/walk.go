package formula

import (
	"strings"

	"github.com/hashicorp/hcl/v2/hclsyntax"
)

// walkFunctions recursively walks the AST, collecting called function names.
// Upper-casing here makes the function namespace case-insensitive.
func walkFunctions(expr hclsyntax.Expression, functions map[string]struct{}) {
	if expr == nil {
		return
	}
	switch e := expr.(type) {
	case *hclsyntax.FunctionCallExpr:
		functions[strings.ToUpper(e.Name)] = struct{}{}
		for _, arg := range e.Args {
			walkFunctions(arg, functions)
		}
	case *hclsyntax.BinaryOpExpr:
		walkFunctions(e.LHS, functions)
		walkFunctions(e.RHS, functions)
	case *hclsyntax.ConditionalExpr:
		walkFunctions(e.Condition, functions)
		walkFunctions(e.TrueResult, functions)
		walkFunctions(e.FalseResult, functions)
	case *hclsyntax.UnaryOpExpr:
		walkFunctions(e.Val, functions)
	case *hclsyntax.TemplateExpr:
		for _, part := range e.Parts {
			walkFunctions(part, functions)
		}
	case *hclsyntax.TemplateWrapExpr:
		walkFunctions(e.Wrapped, functions)
	case *hclsyntax.TupleConsExpr:
		for _, item := range e.Exprs {
			walkFunctions(item, functions)
		}
	case *hclsyntax.ObjectConsExpr:
		for _, item := range e.Items {
			walkFunctions(item.KeyExpr, functions)
			walkFunctions(item.ValueExpr, functions)
		}
	case *hclsyntax.IndexExpr:
		walkFunctions(e.Collection, functions)
		walkFunctions(e.Key, functions)
	case *hclsyntax.ParenthesesExpr:
		walkFunctions(e.Expression, functions)
	}
}
