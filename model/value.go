package model

import (
	"fmt"
	"reflect"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zclconf/go-cty/cty"
)

// Type tags the primitive type of a column or scalar.
type Type int

const (
	// Number is a double-precision numeric value.
	Number Type = iota + 1
	// Text is a string value.
	Text
	// Bool is a boolean value.
	Bool
	// Date is a calendar date value.
	Date
)

func (t Type) String() string {
	switch t {
	case Number:
		return "number"
	case Text:
		return "text"
	case Bool:
		return "bool"
	case Date:
		return "date"
	default:
		return fmt.Sprintf("unknown type (%d)", int(t))
	}
}

// CtyType returns the cty type used to carry values of this model type.
func (t Type) CtyType() cty.Type {
	switch t {
	case Number:
		return cty.Number
	case Text:
		return cty.String
	case Bool:
		return cty.Bool
	case Date:
		return DateType
	default:
		return cty.NilType
	}
}

// DateType is the capsule type carrying calendar dates through evaluation.
// Capsule equality is defined on the calendar instant so that lookups and
// comparisons never coerce dates to text or numbers.
var DateType = cty.CapsuleWithOps("date", reflect.TypeOf(time.Time{}), &cty.CapsuleOps{
	GoString: func(v any) string {
		return fmt.Sprintf("model.DateVal(%q)", v.(*time.Time).Format(dateLayout))
	},
	TypeGoString: func(reflect.Type) string {
		return "model.DateType"
	},
	Equals: func(a, b any) cty.Value {
		return cty.BoolVal(a.(*time.Time).Equal(*b.(*time.Time)))
	},
	RawEquals: func(a, b any) bool {
		return a.(*time.Time).Equal(*b.(*time.Time))
	},
	HashKey: func(v any) string {
		return v.(*time.Time).Format(dateLayout)
	},
})

const dateLayout = "2006-01-02"

// DateVal wraps a calendar date into a capsule value. The time-of-day part
// is truncated so two values on the same day always compare equal.
func DateVal(t time.Time) cty.Value {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return cty.CapsuleVal(DateType, &d)
}

// ParseDate parses a YYYY-MM-DD date string into a capsule value.
func ParseDate(s string) (cty.Value, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return cty.NilVal, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateVal(t), nil
}

// DateOf unwraps a capsule date value. The second return is false when the
// value is not a date.
func DateOf(v cty.Value) (time.Time, bool) {
	if v.IsNull() || !v.Type().Equals(DateType) {
		return time.Time{}, false
	}
	return *v.EncapsulatedValue().(*time.Time), true
}

// FormatDate renders a date value in the canonical YYYY-MM-DD layout.
func FormatDate(v cty.Value) string {
	t, ok := DateOf(v)
	if !ok {
		return ""
	}
	return t.Format(dateLayout)
}

// NumberVal builds a numeric value rounded to the engine's storage precision.
func NumberVal(f float64) cty.Value {
	return cty.NumberFloatVal(Round(f))
}

// Float extracts a float64 from a numeric value. The second return is false
// when the value is not a known number.
func Float(v cty.Value) (float64, bool) {
	if v.IsNull() || !v.Type().Equals(cty.Number) || !v.IsKnown() {
		return 0, false
	}
	f, _ := v.AsBigFloat().Float64()
	return f, true
}

// Round rounds a numeric result to 6 decimal places before storage so that
// repeated recalculation is idempotent despite floating-point noise.
func Round(f float64) float64 {
	d := decimal.NewFromFloat(f)
	return d.Round(6).InexactFloat64()
}

// RoundVal applies storage rounding to numeric values and passes every other
// type through unchanged.
func RoundVal(v cty.Value) cty.Value {
	if v.IsNull() || !v.IsKnown() || !v.Type().Equals(cty.Number) {
		return v
	}
	f, _ := v.AsBigFloat().Float64()
	return cty.NumberFloatVal(Round(f))
}

// TypeOf maps a cty value to its model type tag. The second return is false
// for values outside the engine's primitive set.
func TypeOf(v cty.Value) (Type, bool) {
	switch {
	case v.Type().Equals(cty.Number):
		return Number, true
	case v.Type().Equals(cty.String):
		return Text, true
	case v.Type().Equals(cty.Bool):
		return Bool, true
	case v.Type().Equals(DateType):
		return Date, true
	default:
		return 0, false
	}
}

// ValuesEqual compares two primitive values without cross-type coercion.
func ValuesEqual(a, b cty.Value) bool {
	if a.IsNull() || b.IsNull() {
		return a.IsNull() && b.IsNull()
	}
	if !a.Type().Equals(b.Type()) {
		return false
	}
	if a.Type().Equals(cty.Number) {
		// Compare at storage precision so a freshly computed value matches
		// its stored counterpart.
		af, _ := a.AsBigFloat().Float64()
		bf, _ := b.AsBigFloat().Float64()
		return Round(af) == Round(bf)
	}
	return a.RawEquals(b)
}

// FormatValue renders a primitive value for diagnostics.
func FormatValue(v cty.Value) string {
	if v.IsNull() {
		return "null"
	}
	switch {
	case v.Type().Equals(cty.Number):
		return v.AsBigFloat().Text('g', -1)
	case v.Type().Equals(cty.String):
		return fmt.Sprintf("%q", v.AsString())
	case v.Type().Equals(cty.Bool):
		if v.True() {
			return "true"
		}
		return "false"
	case v.Type().Equals(DateType):
		return FormatDate(v)
	default:
		return v.GoString()
	}
}

// IntFromVal extracts an exact integer from a numeric value, for element
// indexes and similar positions.
func IntFromVal(v cty.Value) (int, bool) {
	if v.IsNull() || !v.Type().Equals(cty.Number) {
		return 0, false
	}
	bf := v.AsBigFloat()
	if !bf.IsInt() {
		return 0, false
	}
	i, _ := bf.Int64()
	return int(i), true
}
