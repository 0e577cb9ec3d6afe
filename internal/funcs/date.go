package funcs

import (
	"time"

	"github.com/royalbit/forge/fault"
	"github.com/royalbit/forge/model"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// registerDate installs the calendar functions. Dates travel as capsule
// values; no function accepts a date encoded as text or a serial number.
func registerDate(r *Registry) {
	r.scalar["DATE"] = dateFunc
	r.scalar["YEAR"] = datePart("YEAR", func(t time.Time) int { return t.Year() })
	r.scalar["MONTH"] = datePart("MONTH", func(t time.Time) int { return int(t.Month()) })
	r.scalar["DAY"] = datePart("DAY", func(t time.Time) int { return t.Day() })
	r.scalar["DAYS"] = daysFunc
	r.scalar["EDATE"] = edateFunc
	r.scalar["EOMONTH"] = eomonthFunc
}

var dateFunc = function.New(&function.Spec{
	Params: numberParams("year", "month", "day"),
	Type:   function.StaticReturnType(model.DateType),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		y, ok1 := model.IntFromVal(args[0])
		m, ok2 := model.IntFromVal(args[1])
		d, ok3 := model.IntFromVal(args[2])
		if !ok1 || !ok2 || !ok3 {
			return cty.NilVal, fault.New(fault.DomainError, "", "", "DATE parts must be integers")
		}
		if m < 1 || m > 12 {
			return cty.NilVal, fault.New(fault.DomainError, "", "", "DATE month %d outside [1, 12]", m)
		}
		t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
		if t.Day() != d || int(t.Month()) != m {
			return cty.NilVal, fault.New(fault.DomainError, "", "", "DATE %04d-%02d-%02d does not exist", y, m, d)
		}
		return model.DateVal(t), nil
	},
})

// datePart builds YEAR/MONTH/DAY style extractors.
func datePart(name string, part func(time.Time) int) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{{Name: "date", Type: model.DateType}},
		Type:   function.StaticReturnType(cty.Number),
		Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
			t, ok := model.DateOf(args[0])
			if !ok {
				return cty.NilVal, fault.New(fault.TypeMismatch, "", "", "%s expects a date", name)
			}
			return cty.NumberIntVal(int64(part(t))), nil
		},
	})
}

// daysFunc is DAYS(end, start): whole days between two dates.
var daysFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "end", Type: model.DateType},
		{Name: "start", Type: model.DateType},
	},
	Type: function.StaticReturnType(cty.Number),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		end, ok1 := model.DateOf(args[0])
		start, ok2 := model.DateOf(args[1])
		if !ok1 || !ok2 {
			return cty.NilVal, fault.New(fault.TypeMismatch, "", "", "DAYS expects two dates")
		}
		return cty.NumberIntVal(int64(end.Sub(start).Hours() / 24)), nil
	},
})

// edateFunc is EDATE(date, months): the date shifted by whole months.
var edateFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "date", Type: model.DateType},
		{Name: "months", Type: cty.Number},
	},
	Type: function.StaticReturnType(model.DateType),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		t, ok := model.DateOf(args[0])
		if !ok {
			return cty.NilVal, fault.New(fault.TypeMismatch, "", "", "EDATE expects a date")
		}
		months, ok := model.IntFromVal(args[1])
		if !ok {
			return cty.NilVal, fault.New(fault.DomainError, "", "", "EDATE months must be an integer")
		}
		// Clamp to the target month's last day instead of normalizing, so
		// Jan 31 + 1 month is Feb 28, not Mar 3.
		first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, months, 0)
		lastDay := first.AddDate(0, 1, -1).Day()
		day := t.Day()
		if day > lastDay {
			day = lastDay
		}
		return model.DateVal(time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)), nil
	},
})

// eomonthFunc is EOMONTH(date, months): the last day of the shifted month.
var eomonthFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "date", Type: model.DateType},
		{Name: "months", Type: cty.Number},
	},
	Type: function.StaticReturnType(model.DateType),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		t, ok := model.DateOf(args[0])
		if !ok {
			return cty.NilVal, fault.New(fault.TypeMismatch, "", "", "EOMONTH expects a date")
		}
		months, ok := model.IntFromVal(args[1])
		if !ok {
			return cty.NilVal, fault.New(fault.DomainError, "", "", "EOMONTH months must be an integer")
		}
		firstOfMonth := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		return model.DateVal(firstOfMonth.AddDate(0, months+1, -1)), nil
	},
})
