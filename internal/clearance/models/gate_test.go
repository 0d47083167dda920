package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "mortuary/pkg/domain"
	dErrors "mortuary/pkg/domain-errors"
)

var (
	billing    = id.Actor{ID: "b-1", Role: id.RoleBilling}
	records    = id.Actor{ID: "r-1", Role: id.RoleRecords}
	supervisor = id.Actor{ID: "s-1", Role: id.RoleSupervisor}
)

func TestGateOwners(t *testing.T) {
	for _, gt := range GateTypes() {
		assert.True(t, gt.Owner().IsValid(), gt)
	}
}

func TestGateTransitions(t *testing.T) {
	now := time.Now()
	caseID := id.NewCaseID()

	t.Run("owner resolves with a valid method", func(t *testing.T) {
		g := NewGate(caseID, GateEconomicDebt, false, now)
		c := Change{Status: StatusResolved, Resolution: ResolutionCompromise, Actor: billing}
		require.NoError(t, g.CanApply(c))
		g.ApplyChange(c, now)
		assert.Equal(t, StatusResolved, g.Status)
		assert.Equal(t, ResolutionCompromise, g.Resolution)
		assert.True(t, g.IsCleared())
	})

	t.Run("wrong method is rejected", func(t *testing.T) {
		g := NewGate(caseID, GateDocumentVerification, false, now)
		err := g.CanApply(Change{Status: StatusResolved, Resolution: ResolutionPayment, Actor: records})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("non-owner is forbidden", func(t *testing.T) {
		g := NewGate(caseID, GateBloodDebt, false, now)
		err := g.CanApply(Change{Status: StatusResolved, Resolution: ResolutionPayment, Actor: billing})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	t.Run("waiver needs justification", func(t *testing.T) {
		g := NewGate(caseID, GateBloodDebt, false, now)
		err := g.CanApply(Change{Status: StatusWaived, Justification: "ok", Actor: supervisor})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

		c := Change{Status: StatusWaived, Justification: "donor replacement arranged", Actor: supervisor}
		require.NoError(t, g.CanApply(c))
		g.ApplyChange(c, now)
		assert.Equal(t, StatusWaived, g.Status)
	})

	t.Run("final statuses cannot change", func(t *testing.T) {
		g := &Gate{Type: GateEconomicDebt, Status: StatusResolved}
		err := g.CanApply(Change{Status: StatusPending, Actor: billing})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	t.Run("not applicable can be reopened", func(t *testing.T) {
		g := NewGate(caseID, GateEconomicDebt, true, now)
		assert.True(t, g.IsCleared())
		assert.Nil(t, g.PendingSince)
		c := Change{Status: StatusPending, Actor: billing}
		require.NoError(t, g.CanApply(c))
		g.ApplyChange(c, now)
		assert.False(t, g.IsCleared())
		require.NotNil(t, g.PendingSince)
	})
}

func TestEvaluate(t *testing.T) {
	caseID := id.NewCaseID()
	now := time.Now()

	gates := []*Gate{
		NewGate(caseID, GateEconomicDebt, false, now),
		NewGate(caseID, GateBloodDebt, true, now),
		{CaseID: caseID, Type: GateDocumentVerification, Status: StatusWaived},
	}
	d := Evaluate(gates)
	assert.False(t, d.Cleared)
	assert.Equal(t, []GateType{GateEconomicDebt}, d.Blocking)

	err := d.Err()
	assert.True(t, dErrors.HasCode(err, dErrors.CodeClearanceBlocked))
	assert.Equal(t, []string{"economic_debt"}, dErrors.DetailsOf(err))

	t.Run("missing gates block", func(t *testing.T) {
		d := Evaluate(nil)
		assert.Len(t, d.Blocking, 3)
	})

	t.Run("all cleared", func(t *testing.T) {
		gates[0].Status = StatusResolved
		d := Evaluate(gates)
		assert.True(t, d.Cleared)
		assert.NoError(t, d.Err())
	})
}
