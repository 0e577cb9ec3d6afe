package solver

import (
	"context"
	"errors"
	"math"

	"github.com/royalbit/forge/engine"
	"github.com/royalbit/forge/fault"
	"github.com/royalbit/forge/model"
)

// Axis describes one varied input of a sensitivity sweep: evenly spaced
// steps across [Start, End], inclusive of both ends when Step divides the
// span.
type Axis struct {
	// Input is the qualified name of the authored scalar to vary.
	Input string
	Start float64
	End   float64
	Step  float64
}

// Points expands the axis into its concrete probe values.
func (a Axis) Points() ([]float64, error) {
	if a.Input == "" {
		return nil, fault.New(fault.DomainError, "", "", "sweep axis needs an input scalar")
	}
	if a.Step <= 0 {
		return nil, fault.New(fault.DomainError, a.Input, "",
			"sweep step must be positive, got %g", a.Step)
	}
	if a.End < a.Start {
		return nil, fault.New(fault.DomainError, a.Input, "",
			"sweep range [%g, %g] is reversed", a.Start, a.End)
	}
	// Count steps up front so float accumulation cannot drop the endpoint.
	n := int(math.Floor((a.End-a.Start)/a.Step + 1e-9))
	points := make([]float64, n+1)
	for i := range points {
		points[i] = a.Start + float64(i)*a.Step
	}
	return points, nil
}

// SweepPoint is one probe of a 1-D sweep. Fault is non-nil when the model
// failed to calculate at this input value; the sweep itself continues.
type SweepPoint struct {
	Input  float64
	Output float64
	Fault  *fault.Fault
}

// Sweep re-evaluates the model at every point of one axis and collects the
// output scalar. A fault at one point is recorded on that point alone;
// errors in the sweep definition itself abort the whole sweep.
func Sweep(ctx context.Context, eng *engine.Engine, base *model.Model, axis Axis, output string) ([]SweepPoint, error) {
	points, err := axis.Points()
	if err != nil {
		return nil, err
	}
	if err := validateProbe(base, []string{axis.Input}, output); err != nil {
		return nil, err
	}
	out := make([]SweepPoint, len(points))
	for i, x := range points {
		v, err := probe(ctx, eng, base, map[string]float64{axis.Input: x}, output)
		if err != nil {
			f, hard := probeFault(err)
			if hard {
				return nil, err
			}
			out[i] = SweepPoint{Input: x, Fault: f}
			continue
		}
		out[i] = SweepPoint{Input: x, Output: v}
	}
	return out, nil
}

// GridPoint is one probe of a 2-D sweep.
type GridPoint struct {
	Row    float64
	Col    float64
	Output float64
	Fault  *fault.Fault
}

// Grid re-evaluates the model across the Cartesian product of two axes,
// returning a matrix indexed [row][column].
func Grid(ctx context.Context, eng *engine.Engine, base *model.Model, rows, cols Axis, output string) ([][]GridPoint, error) {
	rowPoints, err := rows.Points()
	if err != nil {
		return nil, err
	}
	colPoints, err := cols.Points()
	if err != nil {
		return nil, err
	}
	if rows.Input == cols.Input {
		return nil, fault.New(fault.DomainError, rows.Input, "",
			"grid axes must vary different scalars")
	}
	if err := validateProbe(base, []string{rows.Input, cols.Input}, output); err != nil {
		return nil, err
	}

	out := make([][]GridPoint, len(rowPoints))
	for i, r := range rowPoints {
		out[i] = make([]GridPoint, len(colPoints))
		for j, c := range colPoints {
			v, err := probe(ctx, eng, base, map[string]float64{rows.Input: r, cols.Input: c}, output)
			if err != nil {
				f, hard := probeFault(err)
				if hard {
					return nil, err
				}
				out[i][j] = GridPoint{Row: r, Col: c, Fault: f}
				continue
			}
			out[i][j] = GridPoint{Row: r, Col: c, Output: v}
		}
	}
	return out, nil
}

// probeFault splits probe errors into per-point calculation faults and hard
// errors. With the sweep definition validated up front, any fault reached
// during the sweep belongs to the model at that input value alone.
func probeFault(err error) (f *fault.Fault, hard bool) {
	if !errors.As(err, &f) {
		return nil, true
	}
	return f, false
}
