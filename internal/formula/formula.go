// Package formula turns formula text into a compiled form: a parsed
// expression AST (cached, parsed exactly once), the resolved operand
// references, the called function names, and the evaluation kind. The
// dispatcher routes each compiled formula to the matching evaluator.
package formula

import (
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/royalbit/forge/fault"
	"github.com/royalbit/forge/internal/refs"
)

// Kind classifies how a formula is evaluated.
type Kind int

const (
	// ScalarExpr is an ordinary expression over scalars and aggregation
	// results, evaluated once.
	ScalarExpr Kind = iota + 1
	// RowWise is evaluated once per row of the owning table.
	RowWise
	// Aggregation reduces a whole column to one value.
	Aggregation
	// ArrayIndex extracts a single element of a column by position.
	ArrayIndex
)

func (k Kind) String() string {
	switch k {
	case ScalarExpr:
		return "scalar"
	case RowWise:
		return "row-wise"
	case Aggregation:
		return "aggregation"
	case ArrayIndex:
		return "array-index"
	default:
		return "unknown"
	}
}

// Formula is a compiled formula, ready for repeated evaluation.
type Formula struct {
	// Text is the original formula source.
	Text string
	// Expr is the parsed AST, built once at compile time.
	Expr hclsyntax.Expression
	// Kind selects the evaluation strategy.
	Kind Kind
	// Refs are the resolved operand references, deduplicated, in a
	// deterministic order.
	Refs []refs.Ref
	// Funcs are the called function names, upper-cased, sorted.
	Funcs []string
}

// Compile parses formula text and resolves every operand reference under
// the given scope. isColumnFunc reports whether a function name belongs to
// the column-consuming (aggregation/lookup/statistical) part of the
// library; it drives the kind classification.
func Compile(sc refs.Scope, text string, isColumnFunc func(string) bool) (*Formula, error) {
	expr, diags := hclsyntax.ParseExpression([]byte(text), "<formula>", hcl.InitialPos)
	if diags.HasErrors() {
		return nil, fault.New(fault.DomainError, "", text, "formula does not parse: %s", diags.Error())
	}

	f := &Formula{Text: text, Expr: expr}

	seen := make(map[string]struct{})
	for _, traversal := range expr.Variables() {
		ref, err := sc.Resolve(text, traversal)
		if err != nil {
			return nil, err
		}
		key := ref.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		f.Refs = append(f.Refs, ref)
	}
	sort.Slice(f.Refs, func(i, j int) bool { return f.Refs[i].String() < f.Refs[j].String() })

	fns := make(map[string]struct{})
	walkFunctions(expr, fns)
	for name := range fns {
		f.Funcs = append(f.Funcs, name)
	}
	sort.Strings(f.Funcs)

	f.Kind = classify(sc, expr, f.Refs, isColumnFunc)
	return f, nil
}

// classify applies the dispatch rules in priority order: a column-function
// call over a single column reference is an aggregation; a formula carrying
// an element index is an array-index extraction; a formula owned by a table
// column is row-wise; anything else is a scalar expression.
func classify(sc refs.Scope, expr hclsyntax.Expression, rs []refs.Ref, isColumnFunc func(string) bool) Kind {
	if call, ok := unwrapParens(expr).(*hclsyntax.FunctionCallExpr); ok &&
		isColumnFunc(strings.ToUpper(call.Name)) && len(call.Args) > 0 {
		if st, ok := unwrapParens(call.Args[0]).(*hclsyntax.ScopeTraversalExpr); ok {
			if ref, err := sc.Resolve("", st.Traversal); err == nil && ref.Kind == refs.ColumnRef {
				return Aggregation
			}
		}
	}
	for _, r := range rs {
		if r.Kind == refs.ElementRef {
			return ArrayIndex
		}
	}
	if sc.Table != nil {
		return RowWise
	}
	return ScalarExpr
}

// unwrapParens strips redundant grouping from around an expression.
func unwrapParens(expr hclsyntax.Expression) hclsyntax.Expression {
	for {
		p, ok := expr.(*hclsyntax.ParenthesesExpr)
		if !ok {
			return expr
		}
		expr = p.Expression
	}
}
