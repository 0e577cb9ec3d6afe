// Package engine is the calculation core: it compiles every formula in a
// model, orders tables and scalars by their dependencies, evaluates them
// deterministically, and reports per-scope faults. The same plan machinery
// backs recalculation, stored-value validation, dependency audits and
// what-if scenario runs.
package engine

import (
	"context"
	"fmt"

	"github.com/royalbit/forge/fault"
	"github.com/royalbit/forge/internal/ctxlog"
	"github.com/royalbit/forge/internal/funcs"
	"github.com/royalbit/forge/model"
	"github.com/zclconf/go-cty/cty"
)

// Engine evaluates models against the built-in function library. An Engine
// is stateless between calls and safe for concurrent use; each call owns
// its model exclusively for the duration of the run.
type Engine struct {
	reg *funcs.Registry
}

// New creates an engine with the full function library.
func New() *Engine {
	return &Engine{reg: funcs.Default()}
}

// Calculate evaluates every derived column and scalar of the model in
// dependency order, writing results back into the model. The returned
// report lists the scopes that failed; an empty report means the whole
// model calculated. Identical input always produces an identical report and
// identical values.
func (e *Engine) Calculate(ctx context.Context, m *model.Model) (fault.Report, error) {
	if m == nil {
		return nil, fmt.Errorf("model is nil")
	}
	logger := ctxlog.FromContext(ctx)
	logger.Debug("calculation started",
		"tables", len(m.TableNames()), "scalars", len(m.ScalarNames()))

	p := buildPlan(ctx, m, e.reg)
	rep := runPlan(ctx, p)

	logger.Debug("calculation finished", "faults", len(rep))
	return rep, nil
}

// Mismatch is one stored value that disagrees with its formula.
type Mismatch struct {
	// Subject is the address of the disagreeing column or scalar.
	Subject string
	// Row is the zero-based row for column mismatches, -1 for scalars.
	Row int
	// Stored is the value found in the model; NilVal when none was stored.
	Stored cty.Value
	// Computed is the freshly calculated value.
	Computed cty.Value
	// Formula is the derivation formula of the subject.
	Formula string
}

// Validate recalculates a copy of the model and reports every stored
// derived value that disagrees with its formula, at storage precision. The
// input model is never modified. Scopes that fail to calculate appear in
// the fault report instead of the mismatch list.
func (e *Engine) Validate(ctx context.Context, m *model.Model) ([]Mismatch, fault.Report, error) {
	if m == nil {
		return nil, nil, fmt.Errorf("model is nil")
	}
	fresh := m.Clone()
	rep, err := e.Calculate(ctx, fresh)
	if err != nil {
		return nil, nil, err
	}

	var out []Mismatch
	for _, tn := range m.TableNames() {
		stored := m.Table(tn)
		computed := fresh.Table(tn)
		for _, cn := range stored.ColumnNames() {
			col := stored.Column(cn)
			if !col.Derived() {
				continue
			}
			freshCol := computed.Column(cn)
			for i := 0; i < stored.Rows(); i++ {
				sv := valueAt(col.Values, i)
				cv := valueAt(freshCol.Values, i)
				if !model.ValuesEqual(sv, cv) {
					out = append(out, Mismatch{
						Subject:  tn + "." + cn,
						Row:      i,
						Stored:   sv,
						Computed: cv,
						Formula:  col.Formula,
					})
				}
			}
		}
	}
	for _, qn := range m.ScalarNames() {
		s := m.Scalar(qn)
		if !s.Derived() {
			continue
		}
		cv := fresh.Scalar(qn).Value
		if !model.ValuesEqual(s.Value, cv) {
			out = append(out, Mismatch{
				Subject:  qn,
				Row:      -1,
				Stored:   s.Value,
				Computed: cv,
				Formula:  s.Formula,
			})
		}
	}
	return out, rep, nil
}

// DependencyChain is the audit trail of one column or scalar: every
// transitive input it depends on, in evaluation order.
type DependencyChain struct {
	Target   string
	Operands []string
}

// Audit resolves the full upstream dependency chain of one operand address,
// such as "sales.margin" or "assumptions.growth_rate". The chain lists
// every column and scalar the target transitively depends on, ordered so
// that each operand appears after all of its own inputs.
func (e *Engine) Audit(ctx context.Context, m *model.Model, name string) (*DependencyChain, error) {
	if m == nil {
		return nil, fmt.Errorf("model is nil")
	}
	p := buildPlan(ctx, m, e.reg)
	if !p.fine.HasNode(name) {
		return nil, fault.New(fault.UnknownReference, name, "",
			"%q names no column or scalar", name)
	}

	order, cyclic, _ := p.fine.Sort()
	for _, id := range cyclic {
		if id == name {
			members := make([]string, len(cyclic))
			copy(members, cyclic)
			return nil, fault.Cyclic(name, members)
		}
	}

	closure := make(map[string]struct{})
	stack := []string{name}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		deps, err := p.fine.Dependencies(id)
		if err != nil {
			continue
		}
		for _, dep := range deps {
			if _, seen := closure[dep]; seen {
				continue
			}
			closure[dep] = struct{}{}
			stack = append(stack, dep)
		}
	}

	chain := &DependencyChain{Target: name}
	for _, id := range order {
		if _, in := closure[id]; in {
			chain.Operands = append(chain.Operands, id)
		}
	}
	return chain, nil
}

// ScenarioResult is one scenario's calculated model and fault report.
type ScenarioResult struct {
	Name string
	// Model is the overlaid, calculated model; nil when the overlay itself
	// failed to apply.
	Model  *model.Model
	Report fault.Report
}

// EvaluateScenarios runs each scenario as an overlay on the base model: the
// base is cloned, the scenario's overrides replace authored scalar values,
// and the clone is recalculated. The base model is never modified, and a
// scenario whose overlay names an unknown scalar or carries a wrongly typed
// value fails alone without stopping the others.
func (e *Engine) EvaluateScenarios(ctx context.Context, base *model.Model, scenarios []model.Scenario) ([]ScenarioResult, error) {
	if base == nil {
		return nil, fmt.Errorf("model is nil")
	}
	out := make([]ScenarioResult, 0, len(scenarios))
	for _, sc := range scenarios {
		overlaid, err := sc.Apply(base)
		if err != nil {
			out = append(out, ScenarioResult{
				Name:   sc.Name,
				Report: fault.Report{asFault(err, sc.Name, "")},
			})
			continue
		}
		rep, err := e.Calculate(ctx, overlaid)
		if err != nil {
			return nil, err
		}
		out = append(out, ScenarioResult{Name: sc.Name, Model: overlaid, Report: rep})
	}
	return out, nil
}

// Delta is one derived value that differs between two calculated models.
type Delta struct {
	// Subject is the address of the differing column or scalar.
	Subject string
	// Row is the zero-based row for column deltas, -1 for scalars.
	Row int
	// Base and Variant are the two values, at storage precision.
	Base    cty.Value
	Variant cty.Value
}

// Diff compares the derived values of two models with the same shape,
// typically a base model and one scenario result. Values are compared at
// storage precision; authored values are ignored.
func Diff(base, variant *model.Model) []Delta {
	var out []Delta
	for _, tn := range base.TableNames() {
		bt := base.Table(tn)
		vt := variant.Table(tn)
		if vt == nil {
			continue
		}
		for _, cn := range bt.ColumnNames() {
			bc := bt.Column(cn)
			vc := vt.Column(cn)
			if !bc.Derived() || vc == nil {
				continue
			}
			for i := 0; i < bt.Rows(); i++ {
				bv := valueAt(bc.Values, i)
				vv := valueAt(vc.Values, i)
				if !model.ValuesEqual(bv, vv) {
					out = append(out, Delta{Subject: tn + "." + cn, Row: i, Base: bv, Variant: vv})
				}
			}
		}
	}
	for _, qn := range base.ScalarNames() {
		bs := base.Scalar(qn)
		vs := variant.Scalar(qn)
		if !bs.Derived() || vs == nil {
			continue
		}
		if !model.ValuesEqual(bs.Value, vs.Value) {
			out = append(out, Delta{Subject: qn, Row: -1, Base: bs.Value, Variant: vs.Value})
		}
	}
	return out
}

// valueAt reads a value by position, returning NilVal past the end so a
// never-calculated column compares as missing rather than panicking.
func valueAt(vals []cty.Value, i int) cty.Value {
	if i >= len(vals) {
		return cty.NilVal
	}
	return vals[i]
}
