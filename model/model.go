// Package model defines the calculation engine's data model: named tables of
// equal-length typed columns, named typed scalars (optionally grouped into
// scopes), and named what-if scenarios. A Model is built once per
// calculation request by an external loader; the engine fills in derived
// values during calculation; the result is handed back to external writers.
package model

import (
	"fmt"
	"sort"

	"github.com/zclconf/go-cty/cty"
)

// Column is a homogeneous typed array with an optional derivation formula.
// When a formula is present the stored values are always derived output:
// they are overwritten on every calculation run and never treated as
// independently authored truth.
type Column struct {
	Type    Type
	Formula string
	Values  []cty.Value
}

// Derived reports whether this column's values are produced by a formula.
func (c *Column) Derived() bool {
	return c.Formula != ""
}

// Table is a named, ordered collection of equal-length columns.
type Table struct {
	Name string

	columns map[string]*Column
	order   []string
	rows    int
	rowsSet bool
}

// NewTable creates an empty table.
func NewTable(name string) *Table {
	return &Table{
		Name:    name,
		columns: make(map[string]*Column),
	}
}

// AddColumn attaches a column, enforcing the construction-time invariants:
// unique column names, homogeneous value types, and a length equal to the
// table's row count. A derived column may be added without values; the
// engine fills it to the table's row count.
func (t *Table) AddColumn(name string, col *Column) error {
	if name == "" {
		return fmt.Errorf("table %s: column name cannot be empty", t.Name)
	}
	if _, exists := t.columns[name]; exists {
		return fmt.Errorf("table %s: duplicate column %q", t.Name, name)
	}
	if col.Type != Number && col.Type != Text && col.Type != Bool && col.Type != Date {
		return fmt.Errorf("table %s: column %q has no type", t.Name, name)
	}
	for i, v := range col.Values {
		vt, ok := TypeOf(v)
		if !ok || vt != col.Type {
			return fmt.Errorf("table %s: column %q row %d: value is not %s", t.Name, name, i, col.Type)
		}
	}
	if len(col.Values) > 0 || !col.Derived() {
		if t.rowsSet && len(col.Values) != t.rows {
			return fmt.Errorf("table %s: column %q has %d rows, table has %d", t.Name, name, len(col.Values), t.rows)
		}
		if !t.rowsSet {
			t.rows = len(col.Values)
			t.rowsSet = true
		}
	}
	t.columns[name] = col
	t.order = append(t.order, name)
	return nil
}

// Column returns the named column, or nil when absent.
func (t *Table) Column(name string) *Column {
	return t.columns[name]
}

// ColumnNames returns column names in insertion order.
func (t *Table) ColumnNames() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Rows returns the table's row count.
func (t *Table) Rows() int {
	return t.rows
}

// Scalar is a single typed value with an optional derivation formula and an
// optional enclosing scope name. The same authored/derived rule as Column
// applies: a formula-bearing scalar's value is always engine output.
type Scalar struct {
	Name    string
	Scope   string // "" means the flat global namespace
	Type    Type
	Formula string
	Value   cty.Value
}

// Derived reports whether this scalar's value is produced by a formula.
func (s *Scalar) Derived() bool {
	return s.Formula != ""
}

// QualifiedName returns the scope-qualified name, e.g. "east.base", or the
// bare name for global scalars.
func (s *Scalar) QualifiedName() string {
	if s.Scope == "" {
		return s.Name
	}
	return s.Scope + "." + s.Name
}

// Model owns uniquely named tables and scalars and is the unit of
// calculation. The engine exclusively owns a Model for the duration of one
// calculation; distinct Models share no state, so evaluating several Models
// concurrently is safe by construction.
type Model struct {
	tables      map[string]*Table
	tableOrder  []string
	scalars     map[string]*Scalar // keyed by qualified name
	scalarOrder []string
}

// New creates an empty model.
func New() *Model {
	return &Model{
		tables:  make(map[string]*Table),
		scalars: make(map[string]*Scalar),
	}
}

// AddTable attaches a table. Table names share a namespace with scalar
// scope names; collisions surface later as ambiguous references.
func (m *Model) AddTable(t *Table) error {
	if t.Name == "" {
		return fmt.Errorf("table name cannot be empty")
	}
	if _, exists := m.tables[t.Name]; exists {
		return fmt.Errorf("duplicate table %q", t.Name)
	}
	m.tables[t.Name] = t
	m.tableOrder = append(m.tableOrder, t.Name)
	return nil
}

// AddScalar attaches a scalar under its qualified name.
func (m *Model) AddScalar(s *Scalar) error {
	if s.Name == "" {
		return fmt.Errorf("scalar name cannot be empty")
	}
	if s.Type != Number && s.Type != Text && s.Type != Bool && s.Type != Date {
		return fmt.Errorf("scalar %q has no type", s.QualifiedName())
	}
	qn := s.QualifiedName()
	if _, exists := m.scalars[qn]; exists {
		return fmt.Errorf("duplicate scalar %q", qn)
	}
	if !s.Value.IsNull() && s.Value != cty.NilVal {
		vt, ok := TypeOf(s.Value)
		if !ok || vt != s.Type {
			return fmt.Errorf("scalar %q: value is not %s", qn, s.Type)
		}
	}
	m.scalars[qn] = s
	m.scalarOrder = append(m.scalarOrder, qn)
	return nil
}

// Table returns the named table, or nil when absent.
func (m *Model) Table(name string) *Table {
	return m.tables[name]
}

// TableNames returns table names in insertion order.
func (m *Model) TableNames() []string {
	out := make([]string, len(m.tableOrder))
	copy(out, m.tableOrder)
	return out
}

// Scalar returns the scalar with the given qualified name, or nil.
func (m *Model) Scalar(qualified string) *Scalar {
	return m.scalars[qualified]
}

// ScalarNames returns qualified scalar names in insertion order.
func (m *Model) ScalarNames() []string {
	out := make([]string, len(m.scalarOrder))
	copy(out, m.scalarOrder)
	return out
}

// ScopeNames returns the distinct non-global scalar scope names, sorted.
func (m *Model) ScopeNames() []string {
	seen := make(map[string]struct{})
	for _, qn := range m.scalarOrder {
		if sc := m.scalars[qn].Scope; sc != "" {
			seen[sc] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for sc := range seen {
		out = append(out, sc)
	}
	sort.Strings(out)
	return out
}

// HasScope reports whether any scalar belongs to the named scope.
func (m *Model) HasScope(name string) bool {
	for _, qn := range m.scalarOrder {
		if m.scalars[qn].Scope == name {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the model. Values themselves are immutable
// cty values, so the copy shares them while owning fresh containers.
func (m *Model) Clone() *Model {
	out := New()
	for _, tn := range m.tableOrder {
		src := m.tables[tn]
		dst := NewTable(src.Name)
		dst.rows = src.rows
		dst.rowsSet = src.rowsSet
		for _, cn := range src.order {
			c := src.columns[cn]
			vals := make([]cty.Value, len(c.Values))
			copy(vals, c.Values)
			dst.columns[cn] = &Column{Type: c.Type, Formula: c.Formula, Values: vals}
			dst.order = append(dst.order, cn)
		}
		out.tables[tn] = dst
		out.tableOrder = append(out.tableOrder, tn)
	}
	for _, qn := range m.scalarOrder {
		s := m.scalars[qn]
		cp := *s
		out.scalars[qn] = &cp
		out.scalarOrder = append(out.scalarOrder, qn)
	}
	return out
}
