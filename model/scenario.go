package model

import (
	"sort"

	"github.com/royalbit/forge/fault"
	"github.com/zclconf/go-cty/cty"
)

// Scenario is a named set of scalar overrides layered over a base model
// before calculation. Applying one never mutates the base: the result is an
// independent clone whose overridden scalars carry the scenario's value as
// authored input, with any prior formula removed, because an explicit
// override always takes precedence over a derivation.
type Scenario struct {
	Name      string
	Overrides map[string]cty.Value // qualified scalar name -> override value
}

// Apply produces the overlaid clone. An override naming a scalar the model
// does not have is an UnknownReference fault; an override whose value does
// not match the scalar's declared type is a TypeMismatch fault.
func (sc Scenario) Apply(base *Model) (*Model, error) {
	out := base.Clone()

	// Deterministic application order regardless of map iteration.
	names := make([]string, 0, len(sc.Overrides))
	for name := range sc.Overrides {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		s := out.Scalar(name)
		if s == nil {
			return nil, fault.New(fault.UnknownReference, name, "",
				"scenario %q overrides unknown scalar", sc.Name)
		}
		v := sc.Overrides[name]
		vt, ok := TypeOf(v)
		if !ok || vt != s.Type {
			return nil, fault.New(fault.TypeMismatch, name, "",
				"scenario %q override is not %s", sc.Name, s.Type)
		}
		s.Value = RoundVal(v)
		s.Formula = ""
	}
	return out, nil
}
