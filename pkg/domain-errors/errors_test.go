package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasCode(t *testing.T) {
	t.Run("matches outer code", func(t *testing.T) {
		err := New(CodeSlotConflict, "slot taken")
		assert.True(t, HasCode(err, CodeSlotConflict))
		assert.False(t, HasCode(err, CodeInternal))
	})

	t.Run("matches code wrapped by another coded error", func(t *testing.T) {
		inner := New(CodeChainDiscontinuity, "holder mismatch")
		err := Wrap(inner, CodeInternal, "finalize failed")
		assert.True(t, HasCode(err, CodeChainDiscontinuity))
		assert.True(t, HasCode(err, CodeInternal))
	})

	t.Run("matches through fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("context: %w", New(CodeNotFound, "missing"))
		assert.True(t, HasCode(err, CodeNotFound))
	})

	t.Run("plain errors carry no code", func(t *testing.T) {
		assert.False(t, HasCode(errors.New("boom"), CodeInternal))
		assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	})
}

func TestClassOf(t *testing.T) {
	cases := []struct {
		code  Code
		class Class
	}{
		{CodeSlotConflict, ClassRetryable},
		{CodeInvalidTransition, ClassRefetch},
		{CodeClearanceBlocked, ClassBusinessRule},
		{CodeIncompleteDocumentation, ClassBusinessRule},
		{CodeChainDiscontinuity, ClassIntegrity},
		{CodeInternal, ClassInternal},
	}
	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			assert.Equal(t, tc.class, ClassOf(New(tc.code, "x")))
		})
	}

	t.Run("integrity is never downgraded by wrapping", func(t *testing.T) {
		err := Wrap(New(CodeChainDiscontinuity, "broken"), CodeInternal, "outer")
		assert.True(t, IsIntegrity(err))
		assert.False(t, Retryable(err))
	})
}

func TestDetails(t *testing.T) {
	err := NewWithDetails(CodeClearanceBlocked, "clearance blocked", "economic_debt", "blood_debt")
	require.Equal(t, []string{"economic_debt", "blood_debt"}, DetailsOf(err))
	assert.Equal(t, "clearance blocked [economic_debt, blood_debt]", err.Error())

	wrapped := Wrap(err, CodeInternal, "finalize")
	assert.Equal(t, []string{"economic_debt", "blood_debt"}, DetailsOf(wrapped))
}
