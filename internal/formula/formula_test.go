package formula

import (
	"testing"

	"github.com/royalbit/forge/fault"
	"github.com/royalbit/forge/internal/refs"
	"github.com/royalbit/forge/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func isColumnFunc(name string) bool {
	switch name {
	case "SUM", "AVERAGE", "MIN", "MAX", "COUNT", "LOOKUP":
		return true
	default:
		return false
	}
}

func compileModel(t *testing.T) *model.Model {
	t.Helper()
	m := model.New()
	tab := model.NewTable("sales")
	require.NoError(t, tab.AddColumn("revenue", &model.Column{
		Type:   model.Number,
		Values: []cty.Value{model.NumberVal(1000), model.NumberVal(1200)},
	}))
	require.NoError(t, tab.AddColumn("cogs", &model.Column{
		Type:   model.Number,
		Values: []cty.Value{model.NumberVal(300), model.NumberVal(360)},
	}))
	require.NoError(t, m.AddTable(tab))
	require.NoError(t, m.AddScalar(&model.Scalar{Name: "growth", Type: model.Number, Value: model.NumberVal(0.05)}))
	return m
}

func TestCompileClassification(t *testing.T) {
	m := compileModel(t)
	rowScope := refs.Scope{Model: m, Table: m.Table("sales")}
	scalarScope := refs.Scope{Model: m}

	cases := []struct {
		name    string
		scope   refs.Scope
		formula string
		want    Kind
	}{
		{"row-wise arithmetic", rowScope, "revenue - cogs", RowWise},
		{"row-wise with scalar broadcast", rowScope, "revenue * growth", RowWise},
		{"aggregation call", scalarScope, "SUM(sales.revenue)", Aggregation},
		{"parenthesized aggregation call", scalarScope, "(SUM(sales.revenue))", Aggregation},
		{"element extraction", scalarScope, "sales.revenue[0]", ArrayIndex},
		{"scalar expression", scalarScope, "growth * 100", ScalarExpr},
		{"aggregation inside arithmetic stays row-wise", rowScope, "revenue / SUM(revenue)", RowWise},
		{"aggregation inside arithmetic is scalar outside tables", scalarScope, "SUM(sales.revenue) * growth", ScalarExpr},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := Compile(tc.scope, tc.formula, isColumnFunc)
			require.NoError(t, err)
			assert.Equal(t, tc.want, f.Kind)
		})
	}
}

func TestCompileRefs(t *testing.T) {
	m := compileModel(t)
	sc := refs.Scope{Model: m, Table: m.Table("sales")}

	f, err := Compile(sc, "revenue - cogs + revenue * growth", isColumnFunc)
	require.NoError(t, err)

	var addrs []string
	for _, r := range f.Refs {
		addrs = append(addrs, r.String())
	}
	assert.Equal(t, []string{"growth", "sales.cogs", "sales.revenue"}, addrs,
		"references are deduplicated and sorted")
}

func TestCompileFuncs(t *testing.T) {
	m := compileModel(t)
	f, err := Compile(refs.Scope{Model: m}, "round(SUM(sales.revenue) * growth, 2)", isColumnFunc)
	require.NoError(t, err)
	assert.Equal(t, []string{"ROUND", "SUM"}, f.Funcs)
}

func TestCompileErrors(t *testing.T) {
	m := compileModel(t)

	t.Run("parse failure", func(t *testing.T) {
		_, err := Compile(refs.Scope{Model: m}, "growth +", isColumnFunc)
		require.Error(t, err)
		assert.True(t, fault.IsKind(err, fault.DomainError))
	})

	t.Run("unresolved reference", func(t *testing.T) {
		_, err := Compile(refs.Scope{Model: m}, "missing * 2", isColumnFunc)
		require.Error(t, err)
		assert.True(t, fault.IsKind(err, fault.UnknownReference))
	})
}
