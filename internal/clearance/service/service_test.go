package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	caseModels "mortuary/internal/caserecord/models"
	"mortuary/internal/clearance/models"
	"mortuary/internal/notify"
	"mortuary/internal/notify/notifytest"
	"mortuary/internal/storage"
	"mortuary/internal/storage/memory"
	id "mortuary/pkg/domain"
	dErrors "mortuary/pkg/domain-errors"
	"mortuary/pkg/platform/audit"
	"mortuary/pkg/requestcontext"
)

var (
	billing   = id.Actor{ID: "b1", Role: id.RoleBilling}
	bloodBank = id.Actor{ID: "bb1", Role: id.RoleBloodBank}
	records   = id.Actor{ID: "r1", Role: id.RoleRecords}
	super     = id.Actor{ID: "s1", Role: id.RoleSupervisor}
)

type ClearanceSuite struct {
	suite.Suite
	store     *memory.Store
	published *notifytest.Recorder
	service   *Service
	ctx       context.Context
	now       time.Time
}

func TestClearanceSuite(t *testing.T) {
	suite.Run(t, new(ClearanceSuite))
}

func (s *ClearanceSuite) SetupTest() {
	s.published = &notifytest.Recorder{}
	s.store = memory.New(memory.WithPublisher(s.published))
	s.now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)

	var err error
	s.service, err = New(s.store)
	s.Require().NoError(err)
}

func (s *ClearanceSuite) seedCase(state caseModels.State, notApplicable ...models.GateType) id.CaseID {
	c, err := caseModels.NewCaseRecord(id.NewCaseID(), "C-"+id.NewCaseID().String()[:8], "nurse", "ward",
		id.Actor{ID: "w1", Role: id.RoleWard}, s.now)
	s.Require().NoError(err)
	c.State = state
	s.Require().NoError(s.store.RunInTx(s.ctx, func(tx storage.Tx) error {
		if err := tx.Cases().Create(s.ctx, c); err != nil {
			return err
		}
		_, err := s.service.OpenGatesInTx(s.ctx, tx, c.ID, notApplicable)
		return err
	}))
	return c.ID
}

func resolve(actor id.Actor, r models.Resolution) models.Change {
	return models.Change{Status: models.StatusResolved, Resolution: r, Actor: actor}
}

func (s *ClearanceSuite) TestOpenGates() {
	s.Run("every gate starts pending", func() {
		caseID := s.seedCase(caseModels.StateOccupied)
		gates, err := s.service.Gates(s.ctx, caseID)
		s.Require().NoError(err)
		s.Require().Len(gates, len(models.GateTypes()))
		for _, g := range gates {
			s.Equal(models.StatusPending, g.Status)
			s.Require().NotNil(g.PendingSince)
		}
	})

	s.Run("inapplicable gates start cleared", func() {
		caseID := s.seedCase(caseModels.StateOccupied, models.GateBloodDebt)
		decision, err := s.service.Evaluate(s.ctx, caseID)
		s.Require().NoError(err)
		s.ElementsMatch([]models.GateType{models.GateEconomicDebt, models.GateDocumentVerification}, decision.Blocking)
	})

	s.Run("unknown gate type is rejected", func() {
		err := s.store.RunInTx(s.ctx, func(tx storage.Tx) error {
			_, err := s.service.OpenGatesInTx(s.ctx, tx, id.NewCaseID(), []models.GateType{"parking_fine"})
			return err
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *ClearanceSuite) TestEvaluate() {
	s.Run("blocked while any gate is pending", func() {
		caseID := s.seedCase(caseModels.StateAwaitingRetrieval)
		_, err := s.service.UpdateGate(s.ctx, caseID, models.GateEconomicDebt, resolve(billing, models.ResolutionPayment))
		s.Require().NoError(err)

		decision, err := s.service.Evaluate(s.ctx, caseID)
		s.Require().NoError(err)
		s.False(decision.Cleared)
		s.Equal([]models.GateType{models.GateBloodDebt, models.GateDocumentVerification}, decision.Blocking)

		blocked := decision.Err()
		s.True(dErrors.HasCode(blocked, dErrors.CodeClearanceBlocked))
		s.Equal([]string{"blood_debt", "document_verification"}, dErrors.DetailsOf(blocked))
	})

	s.Run("cleared once no gate is pending", func() {
		caseID := s.seedCase(caseModels.StateAwaitingRetrieval, models.GateBloodDebt)
		_, err := s.service.UpdateGate(s.ctx, caseID, models.GateEconomicDebt, models.Change{
			Status:        models.StatusWaived,
			Justification: "indigent family, social services",
			Actor:         super,
		})
		s.Require().NoError(err)
		_, err = s.service.UpdateGate(s.ctx, caseID, models.GateDocumentVerification, resolve(records, models.ResolutionVerification))
		s.Require().NoError(err)

		decision, err := s.service.Evaluate(s.ctx, caseID)
		s.Require().NoError(err)
		s.True(decision.Cleared)
		s.NoError(decision.Err())
	})

	s.Run("unknown case is not found", func() {
		_, err := s.service.Evaluate(s.ctx, id.NewCaseID())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ClearanceSuite) TestUpdateGate() {
	s.Run("owner role is required", func() {
		caseID := s.seedCase(caseModels.StateOccupied)
		_, err := s.service.UpdateGate(s.ctx, caseID, models.GateBloodDebt, resolve(billing, models.ResolutionPayment))
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("resolution method must fit the gate", func() {
		caseID := s.seedCase(caseModels.StateOccupied)
		_, err := s.service.UpdateGate(s.ctx, caseID, models.GateBloodDebt, resolve(bloodBank, models.ResolutionVerification))
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("waiver without justification is rejected", func() {
		caseID := s.seedCase(caseModels.StateOccupied)
		_, err := s.service.UpdateGate(s.ctx, caseID, models.GateEconomicDebt, models.Change{
			Status: models.StatusWaived, Justification: "ok", Actor: billing,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("resolved gate is final", func() {
		caseID := s.seedCase(caseModels.StateOccupied)
		_, err := s.service.UpdateGate(s.ctx, caseID, models.GateEconomicDebt, resolve(billing, models.ResolutionCompromise))
		s.Require().NoError(err)

		_, err = s.service.UpdateGate(s.ctx, caseID, models.GateEconomicDebt, models.Change{Status: models.StatusPending, Actor: super})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	s.Run("inapplicable gate can become pending again", func() {
		caseID := s.seedCase(caseModels.StateOccupied, models.GateBloodDebt)
		later := requestcontext.WithTime(s.ctx, s.now.Add(time.Hour))

		gate, err := s.service.UpdateGate(later, caseID, models.GateBloodDebt, models.Change{Status: models.StatusPending, Actor: bloodBank})
		s.Require().NoError(err)
		s.Equal(models.StatusPending, gate.Status)
		s.Require().NotNil(gate.PendingSince)
		s.Equal(s.now.Add(time.Hour), *gate.PendingSince)
		s.Equal(int64(2), gate.Version)
	})

	s.Run("waiver and inapplicability are audited distinctly", func() {
		caseID := s.seedCase(caseModels.StateOccupied)
		_, err := s.service.UpdateGate(s.ctx, caseID, models.GateEconomicDebt, models.Change{
			Status: models.StatusWaived, Justification: "hospital absorbs the cost", Actor: billing,
		})
		s.Require().NoError(err)
		_, err = s.service.UpdateGate(s.ctx, caseID, models.GateBloodDebt, models.Change{Status: models.StatusNotApplicable, Actor: bloodBank})
		s.Require().NoError(err)

		var events []audit.Event
		s.Require().NoError(s.store.View(s.ctx, func(tx storage.Tx) error {
			var err error
			events, err = tx.Audit().ListByCase(s.ctx, caseID)
			return err
		}))
		s.Require().Len(events, 2)
		s.Equal(string(audit.EventGateWaived), events[0].Action)
		s.Equal("hospital absorbs the cost", events[0].Reason)
		s.Equal(audit.CategoryCompliance, events[0].Category)
		s.Equal(string(audit.EventGateNotApplicable), events[1].Action)
	})

	s.Run("update publishes the aggregate decision", func() {
		caseID := s.seedCase(caseModels.StateAwaitingRetrieval, models.GateBloodDebt, models.GateDocumentVerification)
		s.published.Reset()

		_, err := s.service.UpdateGate(s.ctx, caseID, models.GateEconomicDebt, resolve(billing, models.ResolutionPayment))
		s.Require().NoError(err)

		events := s.published.OfType(notify.EventClearanceUpdated)
		s.Require().Len(events, 1)
		s.Equal("true", events[0].Attributes["cleared"])
		s.Contains(events[0].Audience, id.RoleBilling)
	})

	s.Run("released case accepts no updates", func() {
		caseID := s.seedCase(caseModels.StateReleased)
		_, err := s.service.UpdateGate(s.ctx, caseID, models.GateEconomicDebt, resolve(billing, models.ResolutionPayment))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})
}
