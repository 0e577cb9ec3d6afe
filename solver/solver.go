// Package solver provides the numeric what-if tools built on top of whole
// model recalculation: goal seek and break-even by bisection, and 1-D/2-D
// sensitivity sweeps. Every probe clones the base model, overrides one or
// two input scalars, recalculates, and reads one output scalar; the base
// model is never touched.
package solver

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/royalbit/forge/engine"
	"github.com/royalbit/forge/fault"
	"github.com/royalbit/forge/internal/ctxlog"
	"github.com/royalbit/forge/model"
	"github.com/zclconf/go-cty/cty"
)

const (
	defaultTolerance     = 1e-6
	defaultMaxIterations = 100
)

// GoalSeekOptions configures one bisection search.
type GoalSeekOptions struct {
	// Input is the qualified name of the authored scalar to vary.
	Input string
	// Output is the qualified name of the scalar to observe.
	Output string
	// Target is the output value to hit.
	Target float64
	// Lo and Hi bracket the search; the output must change sign across it.
	Lo, Hi float64
	// Tolerance bounds |output - target| at convergence. Defaults to 1e-6.
	Tolerance float64
	// MaxIterations caps the bisection loop. Defaults to 100.
	MaxIterations int
}

// normalize fills defaults and rejects an unusable bracket.
func (o *GoalSeekOptions) normalize() error {
	if o.Input == "" || o.Output == "" {
		return fmt.Errorf("goal seek needs both an input and an output scalar")
	}
	if o.Tolerance <= 0 {
		o.Tolerance = defaultTolerance
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = defaultMaxIterations
	}
	if o.Lo > o.Hi {
		o.Lo, o.Hi = o.Hi, o.Lo
	}
	if o.Lo == o.Hi {
		return fault.New(fault.DomainError, o.Input, "",
			"goal seek bracket [%g, %g] is empty", o.Lo, o.Hi)
	}
	return nil
}

// GoalSeek bisects the bracket until the output scalar is within tolerance
// of the target, returning the input value that achieves it. When the
// output does not change sign across the bracket the search reports
// NotFound; exhausting the iteration cap reports ConvergenceError.
func GoalSeek(ctx context.Context, eng *engine.Engine, base *model.Model, opts GoalSeekOptions) (float64, error) {
	if err := opts.normalize(); err != nil {
		return 0, err
	}
	if err := validateProbe(base, []string{opts.Input}, opts.Output); err != nil {
		return 0, err
	}
	logger := ctxlog.FromContext(ctx)

	residual := func(x float64) (float64, error) {
		out, err := probe(ctx, eng, base, map[string]float64{opts.Input: x}, opts.Output)
		if err != nil {
			return 0, err
		}
		return out - opts.Target, nil
	}

	lo, hi := opts.Lo, opts.Hi
	fLo, err := residual(lo)
	if err != nil {
		return 0, err
	}
	if math.Abs(fLo) <= opts.Tolerance {
		return lo, nil
	}
	fHi, err := residual(hi)
	if err != nil {
		return 0, err
	}
	if math.Abs(fHi) <= opts.Tolerance {
		return hi, nil
	}
	if (fLo > 0) == (fHi > 0) {
		return 0, fault.New(fault.NotFound, opts.Output, "",
			"no sign change for target %g across [%g, %g]", opts.Target, lo, hi)
	}

	for i := 0; i < opts.MaxIterations; i++ {
		mid := lo + (hi-lo)/2
		fMid, err := residual(mid)
		if err != nil {
			return 0, err
		}
		if math.Abs(fMid) <= opts.Tolerance {
			logger.Debug("goal seek converged", "input", opts.Input, "value", mid, "iterations", i+1)
			return mid, nil
		}
		if (fMid > 0) == (fLo > 0) {
			lo, fLo = mid, fMid
		} else {
			hi = mid
		}
	}
	return 0, fault.New(fault.ConvergenceError, opts.Output, "",
		"goal seek did not converge within %d iterations", opts.MaxIterations)
}

// BreakEven finds the input value that drives the output scalar to zero.
func BreakEven(ctx context.Context, eng *engine.Engine, base *model.Model, opts GoalSeekOptions) (float64, error) {
	opts.Target = 0
	return GoalSeek(ctx, eng, base, opts)
}

// validateProbe checks a solver's input and output scalars exist, that
// inputs are authored numbers, before any probing starts.
func validateProbe(base *model.Model, inputs []string, output string) error {
	for _, name := range inputs {
		s := base.Scalar(name)
		if s == nil {
			return fault.New(fault.UnknownReference, name, "",
				"solver input %q names no scalar", name)
		}
		if s.Derived() {
			return fault.New(fault.DomainError, name, "",
				"solver input %q is derived; only authored scalars can be varied", name)
		}
		if s.Type != model.Number {
			return fault.New(fault.TypeMismatch, name, "",
				"solver input %q is %s, want number", name, s.Type)
		}
	}
	if base.Scalar(output) == nil {
		return fault.New(fault.UnknownReference, output, "",
			"solver output %q names no scalar", output)
	}
	return nil
}

// probe clones the base model, overrides the given authored scalars, runs a
// full calculation, and reads one numeric output scalar.
func probe(ctx context.Context, eng *engine.Engine, base *model.Model, overrides map[string]float64, output string) (float64, error) {
	m := base.Clone()

	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := m.Scalar(name)
		if s == nil {
			return 0, fault.New(fault.UnknownReference, name, "",
				"solver input %q names no scalar", name)
		}
		if s.Derived() {
			return 0, fault.New(fault.DomainError, name, "",
				"solver input %q is derived; only authored scalars can be varied", name)
		}
		if s.Type != model.Number {
			return 0, fault.New(fault.TypeMismatch, name, "",
				"solver input %q is %s, want number", name, s.Type)
		}
		s.Value = cty.NumberFloatVal(overrides[name])
	}

	if m.Scalar(output) == nil {
		return 0, fault.New(fault.UnknownReference, output, "",
			"solver output %q names no scalar", output)
	}

	rep, err := eng.Calculate(ctx, m)
	if err != nil {
		return 0, err
	}
	for _, f := range rep {
		if f.Subject == output {
			return 0, f
		}
	}

	out, ok := model.Float(m.Scalar(output).Value)
	if !ok {
		if rep.HasFaults() {
			return 0, rep[0]
		}
		return 0, fault.New(fault.TypeMismatch, output, "",
			"solver output %q did not produce a number", output)
	}
	return out, nil
}
