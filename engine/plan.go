package engine

import (
	"context"
	"log/slog"

	"github.com/royalbit/forge/fault"
	"github.com/royalbit/forge/internal/ctxlog"
	"github.com/royalbit/forge/internal/dag"
	"github.com/royalbit/forge/internal/formula"
	"github.com/royalbit/forge/internal/funcs"
	"github.com/royalbit/forge/internal/refs"
	"github.com/royalbit/forge/model"
)

// coarse graph node IDs carry a kind prefix so table and scalar namespaces
// cannot collide, mirroring the addressing of execution nodes.
const (
	tableNodePrefix  = "table."
	scalarNodePrefix = "scalar."
)

// compiledColumn is a column formula ready for evaluation.
type compiledColumn struct {
	table  string
	column string
	f      *formula.Formula
}

// compiledScalar is a scalar formula ready for evaluation.
type compiledScalar struct {
	qualified string
	f         *formula.Formula
}

// plan holds everything derived from one model before evaluation: compiled
// formulas, the per-table row graphs, the coarse table/scalar ordering
// graph, and the operand-level graph used for audits. Building a plan never
// mutates the model.
type plan struct {
	m   *model.Model
	reg *funcs.Registry

	columns map[string]*compiledColumn // keyed by "table.column"
	scalars map[string]*compiledScalar // keyed by qualified scalar name

	rowGraphs map[string]*dag.Graph // per table; nodes are column names
	coarse    *dag.Graph            // nodes are table./scalar. prefixed IDs
	fine      *dag.Graph            // nodes are operand addresses

	// failed maps a coarse node ID to the fault that stops its scope from
	// evaluating, discovered during compilation.
	failed map[string]*fault.Fault
}

// buildPlan compiles every formula in the model and assembles the three
// dependency graphs. Compilation faults (unknown or ambiguous references,
// unparseable formulas) poison only their own scope; every other scope
// still compiles and evaluates.
func buildPlan(ctx context.Context, m *model.Model, reg *funcs.Registry) *plan {
	logger := ctxlog.FromContext(ctx)
	p := &plan{
		m:         m,
		reg:       reg,
		columns:   make(map[string]*compiledColumn),
		scalars:   make(map[string]*compiledScalar),
		rowGraphs: make(map[string]*dag.Graph),
		coarse:    dag.New(),
		fine:      dag.New(),
		failed:    make(map[string]*fault.Fault),
	}

	// First pass: create nodes for every table, column and scalar.
	for _, tn := range m.TableNames() {
		p.coarse.AddNode(tableNodePrefix + tn)
		rg := dag.New()
		for _, cn := range m.Table(tn).ColumnNames() {
			rg.AddNode(cn)
			p.fine.AddNode(tn + "." + cn)
		}
		p.rowGraphs[tn] = rg
	}
	for _, qn := range m.ScalarNames() {
		p.coarse.AddNode(scalarNodePrefix + qn)
		p.fine.AddNode(qn)
	}

	// Second pass: compile formulas and link dependencies.
	for _, tn := range m.TableNames() {
		t := m.Table(tn)
		sc := refs.Scope{Model: m, Table: t}
		for _, cn := range t.ColumnNames() {
			col := t.Column(cn)
			if !col.Derived() {
				continue
			}
			f, err := formula.Compile(sc, col.Formula, reg.IsColumnFunc)
			if err != nil {
				p.poison(tableNodePrefix+tn, tn+"."+cn, err)
				continue
			}
			key := tn + "." + cn
			p.columns[key] = &compiledColumn{table: tn, column: cn, f: f}
			p.linkColumn(logger, tn, cn, f)
		}
	}
	for _, qn := range m.ScalarNames() {
		s := m.Scalar(qn)
		if !s.Derived() {
			continue
		}
		sc := refs.Scope{Model: m, ScalarScope: s.Scope}
		f, err := formula.Compile(sc, s.Formula, reg.IsColumnFunc)
		if err != nil {
			p.poison(scalarNodePrefix+qn, qn, err)
			continue
		}
		p.scalars[qn] = &compiledScalar{qualified: qn, f: f}
		p.linkScalar(logger, qn, f)
	}

	return p
}

// poison records a compilation fault against a coarse scope.
func (p *plan) poison(nodeID, subject string, err error) {
	if _, exists := p.failed[nodeID]; exists {
		return
	}
	f, ok := err.(*fault.Fault)
	if !ok {
		f = fault.New(fault.DomainError, subject, "", "%s", err.Error())
	}
	if f.Subject == "" {
		f.Subject = subject
	}
	p.failed[nodeID] = f
}

// linkColumn adds dependency edges for one compiled column formula: same
// table references feed the row graph, cross-table references order whole
// tables, and scalar references order the scalar against the table.
func (p *plan) linkColumn(logger *slog.Logger, tableName, columnName string, f *formula.Formula) {
	ownID := tableNodePrefix + tableName
	fineOwn := tableName + "." + columnName
	for _, r := range f.Refs {
		switch r.Kind {
		case refs.ColumnRef, refs.ElementRef:
			fineDep := r.Table + "." + r.Column
			if r.Table == tableName {
				if err := p.rowGraphs[tableName].AddEdge(r.Column, columnName); err != nil {
					// A self-reference is the smallest possible cycle.
					p.poison(ownID, fineOwn, fault.Cyclic(fineOwn, []string{fineOwn}))
					continue
				}
			} else {
				p.addCoarseEdge(tableNodePrefix+r.Table, ownID)
			}
			p.addFineEdge(fineDep, fineOwn)
		case refs.ScalarRef:
			p.addCoarseEdge(scalarNodePrefix+r.ScalarQualified(), ownID)
			p.addFineEdge(r.ScalarQualified(), fineOwn)
		}
		logger.Debug("linked formula dependency", "from", r.String(), "to", fineOwn)
	}
}

// linkScalar adds dependency edges for one compiled scalar formula.
func (p *plan) linkScalar(logger *slog.Logger, qualified string, f *formula.Formula) {
	ownID := scalarNodePrefix + qualified
	for _, r := range f.Refs {
		switch r.Kind {
		case refs.ColumnRef, refs.ElementRef:
			p.addCoarseEdge(tableNodePrefix+r.Table, ownID)
			p.addFineEdge(r.Table+"."+r.Column, qualified)
		case refs.ScalarRef:
			dep := scalarNodePrefix + r.ScalarQualified()
			if dep == ownID {
				p.poison(ownID, qualified, fault.Cyclic(qualified, []string{qualified}))
				continue
			}
			p.addCoarseEdge(dep, ownID)
			p.addFineEdge(r.ScalarQualified(), qualified)
		}
		logger.Debug("linked formula dependency", "from", r.String(), "to", qualified)
	}
}

// addCoarseEdge links two coarse nodes, ignoring self-edges: a table's
// columns referencing that same table is ordered by the row graph instead.
func (p *plan) addCoarseEdge(from, to string) {
	if from == to {
		return
	}
	_ = p.coarse.AddEdge(from, to)
}

// addFineEdge links two operands in the audit graph, ignoring self-edges
// (those surface as cycles through the coarse or row graphs).
func (p *plan) addFineEdge(from, to string) {
	if from == to {
		return
	}
	_ = p.fine.AddEdge(from, to)
}
