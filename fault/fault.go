// Package fault defines the typed error taxonomy reported by the calculation
// engine. Every fault carries the failing formula text and the address of the
// table column or scalar it belongs to, so callers can render diagnostics
// without re-deriving context.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a calculation fault.
type Kind int

const (
	// UnknownReference means an operand matched nothing in any searched scope.
	UnknownReference Kind = iota + 1
	// AmbiguousReference means more than one candidate matched at the same
	// scope level.
	AmbiguousReference
	// TypeMismatch means an operand or function argument had the wrong type,
	// e.g. SUM over a text column.
	TypeMismatch
	// CircularDependency means a dependency cycle was found; the fault names
	// every member of the cycle.
	CircularDependency
	// IndexOutOfRange means an element index fell outside [0, length).
	IndexOutOfRange
	// DomainError means a function was called outside its mathematical
	// domain, e.g. square root of a negative number or modulo by zero.
	DomainError
	// ConvergenceError means an iterative solver exceeded its iteration cap.
	ConvergenceError
	// NotFound means a lookup matched no row, or a bisection bracket had no
	// sign change.
	NotFound
)

func (k Kind) String() string {
	switch k {
	case UnknownReference:
		return "unknown reference"
	case AmbiguousReference:
		return "ambiguous reference"
	case TypeMismatch:
		return "type mismatch"
	case CircularDependency:
		return "circular dependency"
	case IndexOutOfRange:
		return "index out of range"
	case DomainError:
		return "domain error"
	case ConvergenceError:
		return "convergence error"
	case NotFound:
		return "not found"
	default:
		return fmt.Sprintf("unknown kind (%d)", int(k))
	}
}

// Fault is a single calculation failure tied to one formula.
type Fault struct {
	// Kind tags the failure class.
	Kind Kind
	// Subject is the address of the column or scalar whose evaluation failed,
	// e.g. "sales.revenue" or "assumptions.growth_rate".
	Subject string
	// Formula is the text of the failing formula, when one exists.
	Formula string
	// Detail is a human-readable description of what went wrong.
	Detail string
	// Cycle lists every member of the offending cycle for CircularDependency
	// faults, in a deterministic order.
	Cycle []string
}

// Error implements the error interface.
func (f *Fault) Error() string {
	var sb strings.Builder
	sb.WriteString(f.Kind.String())
	if f.Subject != "" {
		sb.WriteString(": ")
		sb.WriteString(f.Subject)
	}
	if f.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(f.Detail)
	}
	if len(f.Cycle) > 0 {
		sb.WriteString(" [")
		sb.WriteString(strings.Join(f.Cycle, " -> "))
		sb.WriteString("]")
	}
	if f.Formula != "" {
		sb.WriteString(" in formula ")
		sb.WriteString(fmt.Sprintf("%q", f.Formula))
	}
	return sb.String()
}

// New creates a fault with a formatted detail message.
func New(kind Kind, subject, formula, format string, args ...any) *Fault {
	return &Fault{
		Kind:    kind,
		Subject: subject,
		Formula: formula,
		Detail:  fmt.Sprintf(format, args...),
	}
}

// Cyclic creates a CircularDependency fault naming every cycle member.
func Cyclic(subject string, members []string) *Fault {
	return &Fault{
		Kind:    CircularDependency,
		Subject: subject,
		Detail:  "formulas form a dependency cycle",
		Cycle:   members,
	}
}

// KindOf extracts the fault kind from an error chain. The second return is
// false when the chain contains no *Fault.
func KindOf(err error) (Kind, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind, true
	}
	return 0, false
}

// IsKind reports whether the error chain contains a fault of the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Report aggregates per-scope faults from one engine run. A non-empty report
// means some scopes failed; scopes not named in the report calculated
// normally.
type Report []*Fault

// HasFaults reports whether the report contains at least one fault.
func (r Report) HasFaults() bool {
	return len(r) > 0
}

// ByKind returns the subset of faults with the given kind.
func (r Report) ByKind(kind Kind) Report {
	var out Report
	for _, f := range r {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

// Error renders every fault in the report, one per line.
func (r Report) Error() string {
	msgs := make([]string, len(r))
	for i, f := range r {
		msgs[i] = f.Error()
	}
	return strings.Join(msgs, "\n")
}
