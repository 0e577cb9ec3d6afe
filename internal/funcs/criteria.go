package funcs

import (
	"strconv"
	"strings"
	"time"

	"github.com/royalbit/forge/fault"
	"github.com/royalbit/forge/model"
	"github.com/zclconf/go-cty/cty"
)

// criterion is one parsed {operator, literal} filter pair. The literal is
// kept raw and interpreted against the type of each candidate value, so a
// numeric column compares numerically and a text column compares literally.
type criterion struct {
	op  string
	raw string
}

// criterionOps is checked longest-first so ">=" never parses as ">" + "=".
var criterionOps = []string{">=", "<=", "<>", ">", "<", "="}

// parseCriterion splits a criteria string into operator and literal. A
// string with no leading operator is an equality test.
func parseCriterion(s string) criterion {
	trimmed := strings.TrimSpace(s)
	for _, op := range criterionOps {
		if strings.HasPrefix(trimmed, op) {
			return criterion{op: op, raw: strings.TrimSpace(trimmed[len(op):])}
		}
	}
	return criterion{op: "=", raw: trimmed}
}

// matches applies the criterion to one typed value. Ordering operators on
// text or boolean values are a type mismatch, not a silent false.
func (c criterion) matches(v cty.Value) (bool, error) {
	if v.IsNull() {
		return false, nil
	}
	t, ok := model.TypeOf(v)
	if !ok {
		return false, fault.New(fault.TypeMismatch, "", "", "criteria cannot match a non-primitive value")
	}
	switch t {
	case model.Number:
		lit, err := strconv.ParseFloat(c.raw, 64)
		if err != nil {
			return false, fault.New(fault.TypeMismatch, "", "", "criteria literal %q is not a number", c.raw)
		}
		f, _ := model.Float(v)
		return compareOrdered(c.op, compareFloats(f, lit))

	case model.Text:
		if c.op != "=" && c.op != "<>" {
			return false, fault.New(fault.TypeMismatch, "", "", "operator %q cannot compare text", c.op)
		}
		eq := v.AsString() == c.raw
		return (c.op == "=") == eq, nil

	case model.Bool:
		if c.op != "=" && c.op != "<>" {
			return false, fault.New(fault.TypeMismatch, "", "", "operator %q cannot compare booleans", c.op)
		}
		lit, err := strconv.ParseBool(c.raw)
		if err != nil {
			return false, fault.New(fault.TypeMismatch, "", "", "criteria literal %q is not a boolean", c.raw)
		}
		eq := v.True() == lit
		return (c.op == "=") == eq, nil

	case model.Date:
		litVal, err := model.ParseDate(c.raw)
		if err != nil {
			return false, fault.New(fault.TypeMismatch, "", "", "criteria literal %q is not a date", c.raw)
		}
		d, _ := model.DateOf(v)
		lit, _ := model.DateOf(litVal)
		return compareOrdered(c.op, compareDates(d, lit))

	default:
		return false, fault.New(fault.TypeMismatch, "", "", "unsupported criteria value type")
	}
}

// compareFloats returns -1, 0 or 1.
func compareFloats(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// compareDates returns -1, 0 or 1.
func compareDates(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}

// compareOrdered maps a three-way comparison through a criteria operator.
func compareOrdered(op string, cmp int) (bool, error) {
	switch op {
	case "=":
		return cmp == 0, nil
	case "<>":
		return cmp != 0, nil
	case ">":
		return cmp > 0, nil
	case ">=":
		return cmp >= 0, nil
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	default:
		return false, fault.New(fault.TypeMismatch, "", "", "unknown criteria operator %q", op)
	}
}
