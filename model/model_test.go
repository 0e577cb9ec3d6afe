package model

import (
	"testing"

	"github.com/royalbit/forge/fault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func numbers(fs ...float64) []cty.Value {
	out := make([]cty.Value, len(fs))
	for i, f := range fs {
		out[i] = NumberVal(f)
	}
	return out
}

func TestTableInvariants(t *testing.T) {
	t.Run("columns must have equal lengths", func(t *testing.T) {
		tab := NewTable("sales")
		require.NoError(t, tab.AddColumn("revenue", &Column{Type: Number, Values: numbers(1000, 1200)}))
		err := tab.AddColumn("cogs", &Column{Type: Number, Values: numbers(300)})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rows")
	})

	t.Run("duplicate column names rejected", func(t *testing.T) {
		tab := NewTable("sales")
		require.NoError(t, tab.AddColumn("revenue", &Column{Type: Number, Values: numbers(1)}))
		err := tab.AddColumn("revenue", &Column{Type: Number, Values: numbers(2)})
		assert.Error(t, err)
	})

	t.Run("values must match the declared type", func(t *testing.T) {
		tab := NewTable("sales")
		err := tab.AddColumn("region", &Column{Type: Number, Values: []cty.Value{cty.StringVal("east")}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not number")
	})

	t.Run("derived column may omit values", func(t *testing.T) {
		tab := NewTable("sales")
		require.NoError(t, tab.AddColumn("revenue", &Column{Type: Number, Values: numbers(1000, 1200)}))
		require.NoError(t, tab.AddColumn("margin", &Column{Type: Number, Formula: "revenue * 0.4"}))
		assert.Equal(t, 2, tab.Rows())
	})
}

func TestModelScalars(t *testing.T) {
	m := New()
	require.NoError(t, m.AddScalar(&Scalar{Name: "rate", Type: Number, Value: NumberVal(0.07)}))
	require.NoError(t, m.AddScalar(&Scalar{Name: "base", Scope: "east", Type: Number, Value: NumberVal(100)}))
	require.NoError(t, m.AddScalar(&Scalar{Name: "base", Scope: "west", Type: Number, Value: NumberVal(200)}))

	assert.Error(t, m.AddScalar(&Scalar{Name: "rate", Type: Number}), "duplicate qualified name")
	assert.Error(t, m.AddScalar(&Scalar{Name: "bad", Type: Number, Value: cty.StringVal("x")}))

	assert.NotNil(t, m.Scalar("east.base"))
	assert.Nil(t, m.Scalar("base"))
	assert.Equal(t, []string{"east", "west"}, m.ScopeNames())
	assert.True(t, m.HasScope("east"))
	assert.False(t, m.HasScope("north"))
}

func TestClone(t *testing.T) {
	m := New()
	tab := NewTable("sales")
	require.NoError(t, tab.AddColumn("revenue", &Column{Type: Number, Values: numbers(1000, 1200)}))
	require.NoError(t, m.AddTable(tab))
	require.NoError(t, m.AddScalar(&Scalar{Name: "rate", Type: Number, Value: NumberVal(0.07)}))

	cp := m.Clone()
	cp.Table("sales").Column("revenue").Values[0] = NumberVal(9999)
	cp.Scalar("rate").Value = NumberVal(0.5)

	assert.True(t, ValuesEqual(NumberVal(1000), m.Table("sales").Column("revenue").Values[0]),
		"clone mutation must not leak into the original")
	assert.True(t, ValuesEqual(NumberVal(0.07), m.Scalar("rate").Value))
}

func TestScenarioApply(t *testing.T) {
	base := New()
	require.NoError(t, base.AddScalar(&Scalar{Name: "growth", Type: Number, Value: NumberVal(0.05)}))
	require.NoError(t, base.AddScalar(&Scalar{Name: "target", Type: Number, Formula: "growth * 100"}))

	t.Run("override replaces value and drops the formula", func(t *testing.T) {
		sc := Scenario{Name: "aggressive", Overrides: map[string]cty.Value{
			"growth": NumberVal(0.12),
			"target": NumberVal(50),
		}}
		out, err := sc.Apply(base)
		require.NoError(t, err)

		assert.True(t, ValuesEqual(NumberVal(0.12), out.Scalar("growth").Value))
		assert.Empty(t, out.Scalar("target").Formula, "an explicit override wins over a derivation")
		assert.True(t, ValuesEqual(NumberVal(0.05), base.Scalar("growth").Value), "base stays untouched")
	})

	t.Run("unknown scalar", func(t *testing.T) {
		sc := Scenario{Name: "bad", Overrides: map[string]cty.Value{"nope": NumberVal(1)}}
		_, err := sc.Apply(base)
		require.Error(t, err)
		assert.True(t, fault.IsKind(err, fault.UnknownReference))
	})

	t.Run("wrongly typed override", func(t *testing.T) {
		sc := Scenario{Name: "bad", Overrides: map[string]cty.Value{"growth": cty.StringVal("fast")}}
		_, err := sc.Apply(base)
		require.Error(t, err)
		assert.True(t, fault.IsKind(err, fault.TypeMismatch))
	})
}
