package engine

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"

	"github.com/royalbit/forge/fault"
	"github.com/royalbit/forge/internal/ctxlog"
	"github.com/royalbit/forge/internal/formula"
	"github.com/royalbit/forge/internal/refs"
	"github.com/royalbit/forge/model"
	"github.com/zclconf/go-cty/cty"
)

// runPlan evaluates every table and scalar in dependency order, committing
// results into the plan's model. Failures isolate to the smallest scope
// that contains them: a faulting column aborts only its own table, a
// faulting scalar aborts only itself, and anything downstream of a failed
// scope is skipped with a fault of its own rather than fed stale input.
func runPlan(ctx context.Context, p *plan) fault.Report {
	logger := ctxlog.FromContext(ctx)
	var rep fault.Report

	failed := make(map[string]*fault.Fault, len(p.failed))
	for id, f := range p.failed {
		failed[id] = f
	}
	for _, id := range sortedKeys(p.failed) {
		rep = append(rep, p.failed[id])
	}

	order, cyclic, blocked := p.coarse.Sort()

	if len(cyclic) > 0 {
		members := make([]string, len(cyclic))
		for i, id := range cyclic {
			members[i] = displayName(id)
		}
		f := fault.Cyclic(members[0], members)
		rep = append(rep, f)
		for _, id := range cyclic {
			failed[id] = f
		}
		logger.Debug("dependency cycle found", "members", members)
	}
	for _, id := range blocked {
		f := fault.New(fault.CircularDependency, displayName(id), "",
			"not evaluated: depends on a dependency cycle")
		rep = append(rep, f)
		failed[id] = f
	}

	for _, id := range order {
		if _, bad := failed[id]; bad {
			continue
		}
		if up := upstreamFault(p, failed, id); up != nil {
			f := fault.New(up.Kind, displayName(id), "",
				"not evaluated: upstream failure in %s", up.Subject)
			rep = append(rep, f)
			failed[id] = f
			continue
		}

		var f *fault.Fault
		if name, isTable := strings.CutPrefix(id, tableNodePrefix); isTable {
			f = p.runTable(ctx, name)
		} else {
			f = p.runScalar(strings.TrimPrefix(id, scalarNodePrefix))
		}
		if f != nil {
			rep = append(rep, f)
			failed[id] = f
			logger.Debug("scope failed", "scope", displayName(id), "fault", f.Kind.String())
		}
	}

	return rep
}

// upstreamFault returns the fault of any failed dependency of id, or nil.
func upstreamFault(p *plan, failed map[string]*fault.Fault, id string) *fault.Fault {
	deps, err := p.coarse.Dependencies(id)
	if err != nil {
		return nil
	}
	for _, dep := range deps {
		if f, ok := failed[dep]; ok {
			return f
		}
	}
	return nil
}

// runTable evaluates every derived column of one table in row-graph order,
// then commits the whole batch. On the first column fault nothing is
// committed and the table keeps its pre-calculation values.
func (p *plan) runTable(ctx context.Context, name string) *fault.Fault {
	t := p.m.Table(name)
	order, cyclic, _ := p.rowGraphs[name].Sort()
	if len(cyclic) > 0 {
		members := make([]string, len(cyclic))
		for i, cn := range cyclic {
			members[i] = name + "." + cn
		}
		return fault.Cyclic(members[0], members)
	}

	scratch := make(map[string]scratchCol)
	for _, cn := range order {
		cc, derived := p.columns[name+"."+cn]
		if !derived {
			continue
		}
		scv, f := p.evalColumn(t, cc, scratch)
		if f != nil {
			return f
		}
		scratch[cn] = scv
	}

	for cn, scv := range scratch {
		col := t.Column(cn)
		col.Values = scv.vals
		col.Type = scv.typ
	}
	ctxlog.FromContext(ctx).Debug("table calculated", "table", name, "derived_columns", len(scratch))
	return nil
}

// evalColumn computes one derived column into scratch. Row-wise formulas
// run once per row; aggregation, array-index and scalar-shaped formulas run
// once and broadcast their value to every row.
func (p *plan) evalColumn(t *model.Table, cc *compiledColumn, scratch map[string]scratchCol) (scratchCol, *fault.Fault) {
	subject := cc.table + "." + cc.column
	ev := &evaluator{
		m:       p.m,
		reg:     p.reg,
		scope:   refs.Scope{Model: p.m, Table: t},
		scratch: scratch,
		subject: subject,
		formula: cc.f.Text,
	}

	rows := t.Rows()
	vals := make([]cty.Value, rows)
	var typ model.Type

	if cc.f.Kind == formula.RowWise {
		for i := 0; i < rows; i++ {
			ev.row = i
			raw, err := ev.eval(cc.f.Expr)
			if err != nil {
				return scratchCol{}, asFault(err, subject, cc.f.Text)
			}
			v, vt, f := finishValue(subject, cc.f.Text, raw)
			if f != nil {
				return scratchCol{}, f
			}
			if i > 0 && vt != typ {
				return scratchCol{}, fault.New(fault.TypeMismatch, subject, cc.f.Text,
					"row %d produced %s, row 0 produced %s", i, vt, typ)
			}
			typ = vt
			vals[i] = v
		}
	} else {
		ev.row = -1
		raw, err := ev.eval(cc.f.Expr)
		if err != nil {
			return scratchCol{}, asFault(err, subject, cc.f.Text)
		}
		v, vt, f := finishValue(subject, cc.f.Text, raw)
		if f != nil {
			return scratchCol{}, f
		}
		typ = vt
		for i := range vals {
			vals[i] = v
		}
	}

	if rows == 0 {
		typ = t.Column(cc.column).Type
	}
	return scratchCol{typ: typ, vals: vals}, nil
}

// runScalar computes one derived scalar and commits it immediately.
func (p *plan) runScalar(qualified string) *fault.Fault {
	cs, derived := p.scalars[qualified]
	if !derived {
		return nil
	}
	s := p.m.Scalar(qualified)
	ev := &evaluator{
		m:       p.m,
		reg:     p.reg,
		scope:   refs.Scope{Model: p.m, ScalarScope: s.Scope},
		row:     -1,
		subject: qualified,
		formula: cs.f.Text,
	}
	raw, err := ev.eval(cs.f.Expr)
	if err != nil {
		return asFault(err, qualified, cs.f.Text)
	}
	v, vt, f := finishValue(qualified, cs.f.Text, raw)
	if f != nil {
		return f
	}
	s.Value = v
	s.Type = vt
	return nil
}

// finishValue checks a formula result is a supported, finite primitive and
// applies storage rounding to numbers.
func finishValue(subject, formulaText string, v cty.Value) (cty.Value, model.Type, *fault.Fault) {
	if v.IsNull() || v == cty.NilVal {
		return cty.NilVal, 0, fault.New(fault.DomainError, subject, formulaText,
			"formula produced no value")
	}
	vt, ok := model.TypeOf(v)
	if !ok {
		return cty.NilVal, 0, fault.New(fault.TypeMismatch, subject, formulaText,
			"formula produced an unsupported %s value", v.Type().FriendlyName())
	}
	if vt == model.Number {
		f, ok := model.Float(v)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return cty.NilVal, 0, fault.New(fault.DomainError, subject, formulaText,
				"result is not a finite number")
		}
		v = cty.NumberFloatVal(model.Round(f))
	}
	return v, vt, nil
}

// asFault normalizes an evaluation error into a subject-annotated fault.
func asFault(err error, subject, formulaText string) *fault.Fault {
	var f *fault.Fault
	if !errors.As(err, &f) {
		f = fault.New(fault.DomainError, subject, formulaText, "%s", err.Error())
	}
	if f.Subject == "" {
		f.Subject = subject
	}
	if f.Formula == "" {
		f.Formula = formulaText
	}
	return f
}

// displayName strips the coarse node kind prefix for diagnostics.
func displayName(id string) string {
	if name, ok := strings.CutPrefix(id, tableNodePrefix); ok {
		return name
	}
	return strings.TrimPrefix(id, scalarNodePrefix)
}

func sortedKeys(m map[string]*fault.Fault) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
