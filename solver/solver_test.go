package solver

import (
	"context"
	"testing"

	"github.com/royalbit/forge/engine"
	"github.com/royalbit/forge/fault"
	"github.com/royalbit/forge/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// profitModel: profit = price*units*margin - fixed_cost, with price as the
// natural solver input.
func profitModel(t *testing.T) *model.Model {
	t.Helper()
	m := model.New()
	require.NoError(t, m.AddScalar(&model.Scalar{Name: "price", Type: model.Number, Value: model.NumberVal(10)}))
	require.NoError(t, m.AddScalar(&model.Scalar{Name: "units", Type: model.Number, Value: model.NumberVal(5000)}))
	require.NoError(t, m.AddScalar(&model.Scalar{Name: "margin", Type: model.Number, Value: model.NumberVal(0.4)}))
	require.NoError(t, m.AddScalar(&model.Scalar{Name: "fixed_cost", Type: model.Number, Value: model.NumberVal(50000)}))
	require.NoError(t, m.AddScalar(&model.Scalar{Name: "revenue", Type: model.Number, Formula: "price * units"}))
	require.NoError(t, m.AddScalar(&model.Scalar{Name: "profit", Type: model.Number, Formula: "revenue * margin - fixed_cost"}))
	return m
}

func TestGoalSeek(t *testing.T) {
	eng := engine.New()
	m := profitModel(t)

	t.Run("converges within tolerance", func(t *testing.T) {
		// profit(price) = price*5000*0.4 - 50000; profit = 100000 at price 75.
		price, err := GoalSeek(context.Background(), eng, m, GoalSeekOptions{
			Input:     "price",
			Output:    "profit",
			Target:    100000,
			Lo:        0,
			Hi:        100,
			Tolerance: 1e-2,
		})
		require.NoError(t, err)
		assert.InDelta(t, 75, price, 1e-4)
		v, _ := model.Float(m.Scalar("price").Value)
		assert.Equal(t, 10.0, v, "the base model is never mutated")
	})

	t.Run("no sign change in the bracket", func(t *testing.T) {
		_, err := GoalSeek(context.Background(), eng, m, GoalSeekOptions{
			Input:  "price",
			Output: "profit",
			Target: 100000,
			Lo:     0,
			Hi:     10,
		})
		require.Error(t, err)
		assert.True(t, fault.IsKind(err, fault.NotFound))
	})

	t.Run("unknown input scalar", func(t *testing.T) {
		_, err := GoalSeek(context.Background(), eng, m, GoalSeekOptions{
			Input:  "nope",
			Output: "profit",
			Lo:     0,
			Hi:     1,
		})
		require.Error(t, err)
		assert.True(t, fault.IsKind(err, fault.UnknownReference))
	})

	t.Run("derived scalars cannot be varied", func(t *testing.T) {
		_, err := GoalSeek(context.Background(), eng, m, GoalSeekOptions{
			Input:  "revenue",
			Output: "profit",
			Lo:     0,
			Hi:     1,
		})
		require.Error(t, err)
		assert.True(t, fault.IsKind(err, fault.DomainError))
	})

	t.Run("empty bracket", func(t *testing.T) {
		_, err := GoalSeek(context.Background(), eng, m, GoalSeekOptions{
			Input:  "price",
			Output: "profit",
			Lo:     5,
			Hi:     5,
		})
		require.Error(t, err)
		assert.True(t, fault.IsKind(err, fault.DomainError))
	})
}

func TestBreakEven(t *testing.T) {
	eng := engine.New()
	m := profitModel(t)

	// profit = 0 at price*2000 = 50000, price 25.
	price, err := BreakEven(context.Background(), eng, m, GoalSeekOptions{
		Input:     "price",
		Output:    "profit",
		Lo:        0,
		Hi:        100,
		Tolerance: 1e-2,
	})
	require.NoError(t, err)
	assert.InDelta(t, 25, price, 1e-4)
}

func TestAxisPoints(t *testing.T) {
	points, err := Axis{Input: "price", Start: 10, End: 30, Step: 5}.Points()
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 15, 20, 25, 30}, points)

	t.Run("endpoint off the step grid is dropped", func(t *testing.T) {
		points, err := Axis{Input: "price", Start: 0, End: 7, Step: 3}.Points()
		require.NoError(t, err)
		assert.Equal(t, []float64{0, 3, 6}, points)
	})

	t.Run("invalid axes", func(t *testing.T) {
		_, err := Axis{Input: "price", Start: 0, End: 10, Step: 0}.Points()
		assert.True(t, fault.IsKind(err, fault.DomainError))

		_, err = Axis{Input: "price", Start: 10, End: 0, Step: 1}.Points()
		assert.True(t, fault.IsKind(err, fault.DomainError))
	})
}

func TestSweep(t *testing.T) {
	eng := engine.New()
	m := profitModel(t)

	points, err := Sweep(context.Background(), eng, m,
		Axis{Input: "price", Start: 10, End: 30, Step: 10}, "profit")
	require.NoError(t, err)
	require.Len(t, points, 3)

	// profit(price) = price*2000 - 50000.
	assert.Equal(t, -30000.0, points[0].Output)
	assert.Equal(t, -10000.0, points[1].Output)
	assert.Equal(t, 10000.0, points[2].Output)
	for _, p := range points {
		assert.Nil(t, p.Fault)
	}
}

func TestGrid(t *testing.T) {
	eng := engine.New()
	m := profitModel(t)

	grid, err := Grid(context.Background(), eng, m,
		Axis{Input: "price", Start: 10, End: 20, Step: 10},
		Axis{Input: "margin", Start: 0.4, End: 0.5, Step: 0.1},
		"profit")
	require.NoError(t, err)
	require.Len(t, grid, 2)
	require.Len(t, grid[0], 2)

	// profit = price*5000*margin - 50000.
	assert.Equal(t, -30000.0, grid[0][0].Output)
	assert.Equal(t, -25000.0, grid[0][1].Output)
	assert.Equal(t, -10000.0, grid[1][0].Output)
	assert.Equal(t, 0.0, grid[1][1].Output)

	t.Run("axes must differ", func(t *testing.T) {
		_, err := Grid(context.Background(), eng, m,
			Axis{Input: "price", Start: 0, End: 1, Step: 1},
			Axis{Input: "price", Start: 0, End: 1, Step: 1},
			"profit")
		require.Error(t, err)
		assert.True(t, fault.IsKind(err, fault.DomainError))
	})
}

func TestSweepFaultIsolation(t *testing.T) {
	eng := engine.New()
	m := model.New()
	require.NoError(t, m.AddScalar(&model.Scalar{Name: "x", Type: model.Number, Value: model.NumberVal(1)}))
	require.NoError(t, m.AddScalar(&model.Scalar{Name: "inverse", Type: model.Number, Formula: "1 / x"}))

	points, err := Sweep(context.Background(), eng, m,
		Axis{Input: "x", Start: -1, End: 1, Step: 1}, "inverse")
	require.NoError(t, err)
	require.Len(t, points, 3)

	assert.Equal(t, -1.0, points[0].Output)
	require.NotNil(t, points[1].Fault, "division by zero at x=0 stays on its point")
	assert.Equal(t, fault.DomainError, points[1].Fault.Kind)
	assert.Equal(t, 1.0, points[2].Output)
}
