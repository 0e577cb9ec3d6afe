package engine

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/royalbit/forge/fault"
	"github.com/royalbit/forge/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func numbers(fs ...float64) []cty.Value {
	out := make([]cty.Value, len(fs))
	for i, f := range fs {
		out[i] = model.NumberVal(f)
	}
	return out
}

// salesModel is the canonical fixture: authored revenue/cogs, derived
// gross_profit and gross_margin, and three derived scalars on top.
func salesModel(t *testing.T) *model.Model {
	t.Helper()
	m := model.New()

	sales := model.NewTable("sales")
	require.NoError(t, sales.AddColumn("revenue", &model.Column{Type: model.Number, Values: numbers(1000, 1200, 1500, 1800)}))
	require.NoError(t, sales.AddColumn("cogs", &model.Column{Type: model.Number, Values: numbers(300, 360, 450, 540)}))
	require.NoError(t, sales.AddColumn("gross_profit", &model.Column{Type: model.Number, Formula: "revenue - cogs"}))
	require.NoError(t, sales.AddColumn("gross_margin", &model.Column{Type: model.Number, Formula: "gross_profit / revenue"}))
	require.NoError(t, m.AddTable(sales))

	require.NoError(t, m.AddScalar(&model.Scalar{Name: "total_revenue", Type: model.Number, Formula: "SUM(sales.revenue)"}))
	require.NoError(t, m.AddScalar(&model.Scalar{Name: "total_profit", Type: model.Number, Formula: "SUM(sales.gross_profit)"}))
	require.NoError(t, m.AddScalar(&model.Scalar{Name: "avg_margin", Type: model.Number, Formula: "total_profit / total_revenue"}))
	return m
}

func columnFloats(t *testing.T, m *model.Model, table, column string) []float64 {
	t.Helper()
	col := m.Table(table).Column(column)
	out := make([]float64, len(col.Values))
	for i, v := range col.Values {
		f, ok := model.Float(v)
		require.True(t, ok, "%s.%s[%d] is not a number: %#v", table, column, i, v)
		out[i] = f
	}
	return out
}

func scalarFloat(t *testing.T, m *model.Model, name string) float64 {
	t.Helper()
	s := m.Scalar(name)
	require.NotNil(t, s, "no scalar %q", name)
	f, ok := model.Float(s.Value)
	require.True(t, ok, "scalar %q is not a number: %#v", name, s.Value)
	return f
}

func TestCalculateRowWise(t *testing.T) {
	m := salesModel(t)
	rep, err := New().Calculate(context.Background(), m)
	require.NoError(t, err)
	require.False(t, rep.HasFaults(), rep)

	assert.Equal(t, []float64{700, 840, 1050, 1260}, columnFloats(t, m, "sales", "gross_profit"))
	assert.Equal(t, []float64{0.7, 0.7, 0.7, 0.7}, columnFloats(t, m, "sales", "gross_margin"))
}

func TestCalculateScalarOrdering(t *testing.T) {
	m := salesModel(t)
	rep, err := New().Calculate(context.Background(), m)
	require.NoError(t, err)
	require.False(t, rep.HasFaults(), rep)

	assert.Equal(t, 5500.0, scalarFloat(t, m, "total_revenue"))
	assert.Equal(t, 3850.0, scalarFloat(t, m, "total_profit"))
	assert.Equal(t, 0.7, scalarFloat(t, m, "avg_margin"),
		"avg_margin must only compute after both operands settle")
}

func TestColumnLengthsAfterCalculate(t *testing.T) {
	m := salesModel(t)
	_, err := New().Calculate(context.Background(), m)
	require.NoError(t, err)

	sales := m.Table("sales")
	for _, cn := range sales.ColumnNames() {
		assert.Len(t, sales.Column(cn).Values, sales.Rows(), "column %s", cn)
	}
}

func TestSiblingScopes(t *testing.T) {
	m := model.New()
	require.NoError(t, m.AddScalar(&model.Scalar{Name: "base", Scope: "east", Type: model.Number, Value: model.NumberVal(10)}))
	require.NoError(t, m.AddScalar(&model.Scalar{Name: "result", Scope: "east", Type: model.Number, Formula: "base * 2"}))
	require.NoError(t, m.AddScalar(&model.Scalar{Name: "base", Scope: "west", Type: model.Number, Value: model.NumberVal(25)}))
	require.NoError(t, m.AddScalar(&model.Scalar{Name: "result", Scope: "west", Type: model.Number, Formula: "base * 2"}))

	rep, err := New().Calculate(context.Background(), m)
	require.NoError(t, err)
	require.False(t, rep.HasFaults(), rep)

	assert.Equal(t, 20.0, scalarFloat(t, m, "east.result"), "east must use its own base")
	assert.Equal(t, 50.0, scalarFloat(t, m, "west.result"), "west must use its own base")
}

func TestCircularDependency(t *testing.T) {
	m := model.New()
	require.NoError(t, m.AddScalar(&model.Scalar{Name: "a", Type: model.Number, Formula: "b + 1"}))
	require.NoError(t, m.AddScalar(&model.Scalar{Name: "b", Type: model.Number, Formula: "a + 1"}))

	rep, err := New().Calculate(context.Background(), m)
	require.NoError(t, err)

	cycles := rep.ByKind(fault.CircularDependency)
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"a", "b"}, cycles[0].Cycle, "the fault names every cycle member")
	assert.True(t, m.Scalar("a").Value.IsNull(), "no value written for a cycle member")
	assert.True(t, m.Scalar("b").Value.IsNull())
}

func TestCycleIsolation(t *testing.T) {
	m := salesModel(t)
	require.NoError(t, m.AddScalar(&model.Scalar{Name: "x", Type: model.Number, Formula: "y + 1"}))
	require.NoError(t, m.AddScalar(&model.Scalar{Name: "y", Type: model.Number, Formula: "x + 1"}))
	require.NoError(t, m.AddScalar(&model.Scalar{Name: "z", Type: model.Number, Formula: "x * 2"}))

	rep, err := New().Calculate(context.Background(), m)
	require.NoError(t, err)

	t.Run("independent scopes still calculate", func(t *testing.T) {
		assert.Equal(t, 5500.0, scalarFloat(t, m, "total_revenue"))
		assert.Equal(t, []float64{700, 840, 1050, 1260}, columnFloats(t, m, "sales", "gross_profit"))
	})

	t.Run("downstream of the cycle is skipped, not stale", func(t *testing.T) {
		assert.True(t, m.Scalar("z").Value.IsNull())
		faults := rep.ByKind(fault.CircularDependency)
		subjects := make([]string, len(faults))
		for i, f := range faults {
			subjects[i] = f.Subject
		}
		assert.Contains(t, subjects, "z")
	})
}

func TestDeterminism(t *testing.T) {
	collect := func(m *model.Model) map[string]any {
		out := make(map[string]any)
		for _, tn := range m.TableNames() {
			tab := m.Table(tn)
			for _, cn := range tab.ColumnNames() {
				vals := make([]string, len(tab.Column(cn).Values))
				for i, v := range tab.Column(cn).Values {
					vals[i] = model.FormatValue(v)
				}
				out[tn+"."+cn] = vals
			}
		}
		for _, qn := range m.ScalarNames() {
			out[qn] = model.FormatValue(m.Scalar(qn).Value)
		}
		return out
	}

	first := salesModel(t)
	second := salesModel(t)
	eng := New()
	_, err := eng.Calculate(context.Background(), first)
	require.NoError(t, err)
	_, err = eng.Calculate(context.Background(), second)
	require.NoError(t, err)

	assert.Empty(t, cmp.Diff(collect(first), collect(second)),
		"two runs over the same input must produce identical output")

	t.Run("recalculation is idempotent", func(t *testing.T) {
		before := collect(first)
		_, err := eng.Calculate(context.Background(), first)
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff(before, collect(first)))
	})
}

func TestValidate(t *testing.T) {
	eng := New()

	t.Run("a freshly calculated model has zero mismatches", func(t *testing.T) {
		m := salesModel(t)
		_, err := eng.Calculate(context.Background(), m)
		require.NoError(t, err)

		mismatches, rep, err := eng.Validate(context.Background(), m)
		require.NoError(t, err)
		assert.False(t, rep.HasFaults())
		assert.Empty(t, mismatches)
	})

	t.Run("a stale stored value is reported with detail", func(t *testing.T) {
		m := salesModel(t)
		_, err := eng.Calculate(context.Background(), m)
		require.NoError(t, err)
		m.Table("sales").Column("gross_profit").Values[2] = model.NumberVal(9999)

		mismatches, _, err := eng.Validate(context.Background(), m)
		require.NoError(t, err)
		require.Len(t, mismatches, 1)
		mm := mismatches[0]
		assert.Equal(t, "sales.gross_profit", mm.Subject)
		assert.Equal(t, 2, mm.Row)
		assert.True(t, model.ValuesEqual(model.NumberVal(9999), mm.Stored))
		assert.True(t, model.ValuesEqual(model.NumberVal(1050), mm.Computed))
		assert.Equal(t, "revenue - cogs", mm.Formula)
	})

	t.Run("a stale scalar is reported with row -1", func(t *testing.T) {
		m := salesModel(t)
		_, err := eng.Calculate(context.Background(), m)
		require.NoError(t, err)
		m.Scalar("total_revenue").Value = model.NumberVal(1)

		mismatches, _, err := eng.Validate(context.Background(), m)
		require.NoError(t, err)
		require.Len(t, mismatches, 1, "recalculation derives from authored inputs, so only the tampered scalar differs")
		assert.Equal(t, "total_revenue", mismatches[0].Subject)
		assert.Equal(t, -1, mismatches[0].Row)
	})

	t.Run("validate never mutates its input", func(t *testing.T) {
		m := salesModel(t)
		_, _, err := eng.Validate(context.Background(), m)
		require.NoError(t, err)
		assert.Empty(t, m.Table("sales").Column("gross_profit").Values,
			"the uncalculated input stays uncalculated")
	})
}

func TestAudit(t *testing.T) {
	m := salesModel(t)
	eng := New()

	chain, err := eng.Audit(context.Background(), m, "avg_margin")
	require.NoError(t, err)
	assert.Equal(t, "avg_margin", chain.Target)

	pos := make(map[string]int)
	for i, op := range chain.Operands {
		pos[op] = i
	}
	for _, want := range []string{"sales.revenue", "sales.cogs", "sales.gross_profit", "total_revenue", "total_profit"} {
		_, ok := pos[want]
		assert.True(t, ok, "chain must include %s (got %v)", want, chain.Operands)
	}
	assert.Less(t, pos["sales.revenue"], pos["sales.gross_profit"], "operands come after their own inputs")
	assert.Less(t, pos["sales.gross_profit"], pos["total_profit"])

	t.Run("unknown target", func(t *testing.T) {
		_, err := eng.Audit(context.Background(), m, "nope")
		require.Error(t, err)
		assert.True(t, fault.IsKind(err, fault.UnknownReference))
	})

	t.Run("authored operands have empty chains", func(t *testing.T) {
		chain, err := eng.Audit(context.Background(), m, "sales.revenue")
		require.NoError(t, err)
		assert.Empty(t, chain.Operands)
	})
}

func TestScenarios(t *testing.T) {
	m := model.New()
	require.NoError(t, m.AddScalar(&model.Scalar{Name: "growth", Type: model.Number, Value: model.NumberVal(0.05)}))
	require.NoError(t, m.AddScalar(&model.Scalar{Name: "forecast", Type: model.Number, Formula: "1000 * (1 + growth)"}))
	eng := New()
	_, err := eng.Calculate(context.Background(), m)
	require.NoError(t, err)

	results, err := eng.EvaluateScenarios(context.Background(), m, []model.Scenario{
		{Name: "aggressive", Overrides: map[string]cty.Value{"growth": model.NumberVal(0.2)}},
		{Name: "broken", Overrides: map[string]cty.Value{"missing": model.NumberVal(1)}},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	t.Run("overlay recalculates downstream", func(t *testing.T) {
		r := results[0]
		require.NotNil(t, r.Model)
		assert.False(t, r.Report.HasFaults())
		assert.Equal(t, 1200.0, scalarFloat(t, r.Model, "forecast"))
		assert.Equal(t, 1050.0, scalarFloat(t, m, "forecast"), "base model is never mutated")
	})

	t.Run("bad overlay fails alone", func(t *testing.T) {
		r := results[1]
		assert.Nil(t, r.Model)
		require.True(t, r.Report.HasFaults())
		assert.Equal(t, fault.UnknownReference, r.Report[0].Kind)
	})

	t.Run("diff surfaces the changed values", func(t *testing.T) {
		deltas := Diff(m, results[0].Model)
		require.Len(t, deltas, 1)
		assert.Equal(t, "forecast", deltas[0].Subject)
		assert.Equal(t, -1, deltas[0].Row)
		assert.True(t, model.ValuesEqual(model.NumberVal(1050), deltas[0].Base))
		assert.True(t, model.ValuesEqual(model.NumberVal(1200), deltas[0].Variant))
	})
}

func TestEvaluationFaults(t *testing.T) {
	eng := New()

	t.Run("aggregating a text column", func(t *testing.T) {
		m := model.New()
		tab := model.NewTable("sales")
		require.NoError(t, tab.AddColumn("region", &model.Column{Type: model.Text, Values: []cty.Value{cty.StringVal("east")}}))
		require.NoError(t, m.AddTable(tab))
		require.NoError(t, m.AddScalar(&model.Scalar{Name: "bad", Type: model.Number, Formula: "SUM(sales.region)"}))
		require.NoError(t, m.AddScalar(&model.Scalar{Name: "fine", Type: model.Number, Formula: "1 + 1"}))

		rep, err := eng.Calculate(context.Background(), m)
		require.NoError(t, err)
		require.Len(t, rep.ByKind(fault.TypeMismatch), 1)
		assert.Equal(t, "SUM(sales.region)", rep.ByKind(fault.TypeMismatch)[0].Formula)
		assert.Equal(t, 2.0, scalarFloat(t, m, "fine"), "unaffected scopes still complete")
	})

	t.Run("division by zero aborts only its table", func(t *testing.T) {
		m := salesModel(t)
		broken := model.NewTable("broken")
		require.NoError(t, broken.AddColumn("x", &model.Column{Type: model.Number, Values: numbers(1, 2)}))
		require.NoError(t, broken.AddColumn("ratio", &model.Column{Type: model.Number, Formula: "x / 0"}))
		require.NoError(t, m.AddTable(broken))

		rep, err := eng.Calculate(context.Background(), m)
		require.NoError(t, err)
		require.Len(t, rep.ByKind(fault.DomainError), 1)
		assert.Empty(t, m.Table("broken").Column("ratio").Values, "nothing committed for the failed table")
		assert.Equal(t, []float64{700, 840, 1050, 1260}, columnFloats(t, m, "sales", "gross_profit"))
	})

	t.Run("unknown reference is a compile fault", func(t *testing.T) {
		m := model.New()
		require.NoError(t, m.AddScalar(&model.Scalar{Name: "bad", Type: model.Number, Formula: "missing + 1"}))
		rep, err := eng.Calculate(context.Background(), m)
		require.NoError(t, err)
		require.Len(t, rep, 1)
		assert.Equal(t, fault.UnknownReference, rep[0].Kind)
	})

	t.Run("unknown function", func(t *testing.T) {
		m := model.New()
		require.NoError(t, m.AddScalar(&model.Scalar{Name: "bad", Type: model.Number, Formula: "FROBNICATE(1)"}))
		rep, err := eng.Calculate(context.Background(), m)
		require.NoError(t, err)
		require.Len(t, rep, 1)
		assert.Equal(t, fault.UnknownReference, rep[0].Kind)
	})
}

func TestFormulaShapes(t *testing.T) {
	eng := New()
	m := salesModel(t)
	require.NoError(t, m.AddScalar(&model.Scalar{Name: "last_revenue", Type: model.Number, Formula: "sales.revenue[3]"}))
	require.NoError(t, m.AddScalar(&model.Scalar{Name: "label", Type: model.Text, Formula: `CONCAT("Q", 1)`}))
	require.NoError(t, m.AddScalar(&model.Scalar{Name: "big_quarters", Type: model.Number, Formula: `COUNTIF(sales.revenue, ">1400")`}))

	tab := m.Table("sales")
	require.NoError(t, tab.AddColumn("share", &model.Column{Type: model.Number, Formula: "revenue / SUM(revenue)"}))
	require.NoError(t, tab.AddColumn("flag", &model.Column{Type: model.Bool, Formula: "revenue > 1400"}))
	require.NoError(t, tab.AddColumn("grand_total", &model.Column{Type: model.Number, Formula: "SUM(revenue)"}))

	rep, err := eng.Calculate(context.Background(), m)
	require.NoError(t, err)
	require.False(t, rep.HasFaults(), rep)

	assert.Equal(t, 1800.0, scalarFloat(t, m, "last_revenue"))
	assert.Equal(t, "Q1", m.Scalar("label").Value.AsString())
	assert.Equal(t, 2.0, scalarFloat(t, m, "big_quarters"))

	share := columnFloats(t, m, "sales", "share")
	assert.InDelta(t, 1000.0/5500.0, share[0], 1e-6)
	assert.InDelta(t, 1800.0/5500.0, share[3], 1e-6)

	assert.Equal(t, []float64{5500, 5500, 5500, 5500}, columnFloats(t, m, "sales", "grand_total"),
		"an aggregation-shaped column broadcasts its value")

	flags := m.Table("sales").Column("flag").Values
	assert.False(t, flags[0].True())
	assert.True(t, flags[3].True())

	t.Run("conditional expression", func(t *testing.T) {
		m2 := salesModel(t)
		tab := m2.Table("sales")
		require.NoError(t, tab.AddColumn("bonus", &model.Column{Type: model.Number, Formula: "revenue > 1400 ? revenue * 0.1 : 0"}))
		rep, err := eng.Calculate(context.Background(), m2)
		require.NoError(t, err)
		require.False(t, rep.HasFaults(), rep)
		assert.Equal(t, []float64{0, 0, 150, 180}, columnFloats(t, m2, "sales", "bonus"))
	})
}
