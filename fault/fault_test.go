package fault

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFaultError(t *testing.T) {
	f := New(TypeMismatch, "sales.margin", "revenue / count", "SUM requires a numeric column")
	msg := f.Error()
	assert.Contains(t, msg, "type mismatch")
	assert.Contains(t, msg, "sales.margin")
	assert.Contains(t, msg, `"revenue / count"`)

	t.Run("cycle members are rendered in order", func(t *testing.T) {
		c := Cyclic("a", []string{"a", "b"})
		assert.Contains(t, c.Error(), "[a -> b]")
	})
}

func TestKindOf(t *testing.T) {
	f := New(DomainError, "x", "", "square root of a negative number")

	k, ok := KindOf(f)
	require.True(t, ok)
	assert.Equal(t, DomainError, k)

	t.Run("wrapped faults are found", func(t *testing.T) {
		wrapped := fmt.Errorf("evaluating: %w", f)
		assert.True(t, IsKind(wrapped, DomainError))
		assert.False(t, IsKind(wrapped, NotFound))
	})

	t.Run("plain errors carry no kind", func(t *testing.T) {
		_, ok := KindOf(fmt.Errorf("boom"))
		assert.False(t, ok)
	})
}

func TestReport(t *testing.T) {
	var rep Report
	assert.False(t, rep.HasFaults())

	rep = append(rep,
		New(UnknownReference, "a", "", "no such column"),
		New(CircularDependency, "b", "", "cycle"),
		New(UnknownReference, "c", "", "no such scalar"),
	)
	assert.True(t, rep.HasFaults())
	assert.Len(t, rep.ByKind(UnknownReference), 2)
	assert.Len(t, rep.ByKind(ConvergenceError), 0)
	assert.Contains(t, rep.Error(), "a")
	assert.Contains(t, rep.Error(), "b")
}
