package service

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	caseModels "mortuary/internal/caserecord/models"
	clearanceModels "mortuary/internal/clearance/models"
	clearanceService "mortuary/internal/clearance/service"
	custodyModels "mortuary/internal/custody/models"
	custodyService "mortuary/internal/custody/service"
	"mortuary/internal/notify"
	"mortuary/internal/notify/notifytest"
	"mortuary/internal/retrieval/metrics"
	"mortuary/internal/retrieval/models"
	slotModels "mortuary/internal/slot/models"
	slotService "mortuary/internal/slot/service"
	"mortuary/internal/storage"
	"mortuary/internal/storage/memory"
	id "mortuary/pkg/domain"
	dErrors "mortuary/pkg/domain-errors"
	"mortuary/pkg/requestcontext"
)

var (
	morgue  = id.Actor{ID: "m1", Role: id.RoleMorgue}
	records = id.Actor{ID: "r1", Role: id.RoleRecords}
	billing = id.Actor{ID: "b1", Role: id.RoleBilling}
	blood   = id.Actor{ID: "bb1", Role: id.RoleBloodBank}
)

const funeralHome custodyModels.Holder = "funeral-home-vidal"

type FinalizerSuite struct {
	suite.Suite
	store     *memory.Store
	published *notifytest.Recorder
	clearance *clearanceService.Service
	slots     *slotService.Registry
	custody   *custodyService.Ledger
	metrics   *metrics.Metrics
	finalizer *Finalizer
	intake    time.Time
	ctx       context.Context
}

func TestFinalizerSuite(t *testing.T) {
	suite.Run(t, new(FinalizerSuite))
}

func (s *FinalizerSuite) SetupTest() {
	s.published = &notifytest.Recorder{}
	s.store = memory.New(memory.WithPublisher(s.published))
	s.intake = time.Date(2026, 7, 1, 6, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.intake.Add(50*time.Hour))
	s.metrics = metrics.New(prometheus.NewRegistry())

	var err error
	s.clearance, err = clearanceService.New(s.store)
	s.Require().NoError(err)
	s.slots, err = slotService.New(s.store)
	s.Require().NoError(err)
	s.custody, err = custodyService.New(s.store)
	s.Require().NoError(err)
	s.finalizer, err = New(s.store, s.clearance, s.slots, s.custody, WithMetrics(s.metrics))
	s.Require().NoError(err)
}

type seeded struct {
	caseID id.CaseID
	slotID id.SlotID
	actID  id.SignedActID
}

// seed builds a case awaiting retrieval in an occupied slot with a complete
// signed act. Gates are left pending.
func (s *FinalizerSuite) seed(code string) seeded {
	at := requestcontext.WithTime(context.Background(), s.intake)
	c, err := caseModels.NewCaseRecord(id.NewCaseID(), code, "nurse-ana", "ward-3", id.Actor{ID: "w1", Role: id.RoleWard}, s.intake)
	s.Require().NoError(err)
	c.State = caseModels.StateAwaitingRetrieval
	s.Require().NoError(s.store.RunInTx(at, func(tx storage.Tx) error {
		if err := tx.Cases().Create(at, c); err != nil {
			return err
		}
		_, err := s.clearance.OpenGatesInTx(at, tx, c.ID, nil)
		return err
	}))

	slot, err := s.slots.Register(at, "S-"+code, morgue)
	s.Require().NoError(err)
	_, err = s.slots.Assign(at, c.ID, slot.ID, morgue)
	s.Require().NoError(err)

	act, err := s.finalizer.RecordSignedAct(at, SignedActRequest{
		ID: id.NewSignedActID(), CaseID: c.ID, SignedBy: "dr-ruiz", Complete: true, Actor: records,
	})
	s.Require().NoError(err)
	return seeded{caseID: c.ID, slotID: slot.ID, actID: act.ID}
}

func (s *FinalizerSuite) clearAll(caseID id.CaseID) {
	for _, u := range []struct {
		gate   clearanceModels.GateType
		change clearanceModels.Change
	}{
		{clearanceModels.GateEconomicDebt, clearanceModels.Change{Status: clearanceModels.StatusResolved, Resolution: clearanceModels.ResolutionPayment, Actor: billing}},
		{clearanceModels.GateBloodDebt, clearanceModels.Change{Status: clearanceModels.StatusNotApplicable, Actor: blood}},
		{clearanceModels.GateDocumentVerification, clearanceModels.Change{Status: clearanceModels.StatusResolved, Resolution: clearanceModels.ResolutionVerification, Actor: records}},
	} {
		_, err := s.clearance.UpdateGate(s.ctx, caseID, u.gate, u.change)
		s.Require().NoError(err)
	}
}

func (s *FinalizerSuite) request(actID id.SignedActID) FinalizeRequest {
	return FinalizeRequest{SignedActID: actID, ReceivedBy: funeralHome, DestinationLocation: "hearse", Actor: morgue}
}

func (s *FinalizerSuite) caseState(caseID id.CaseID) caseModels.State {
	var state caseModels.State
	s.Require().NoError(s.store.View(s.ctx, func(tx storage.Tx) error {
		c, err := tx.Cases().FindByID(s.ctx, caseID)
		if err == nil {
			state = c.State
		}
		return err
	}))
	return state
}

func (s *FinalizerSuite) slotState(slotID id.SlotID) slotModels.State {
	slot, err := s.slots.Get(s.ctx, slotID)
	s.Require().NoError(err)
	return slot.State
}

// assertUntouched checks the all-or-nothing guarantee after a failed finalize.
func (s *FinalizerSuite) assertUntouched(sd seeded) {
	s.Equal(caseModels.StateAwaitingRetrieval, s.caseState(sd.caseID))
	s.Equal(slotModels.StateOccupied, s.slotState(sd.slotID))
	_, err := s.finalizer.Get(s.ctx, sd.caseID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *FinalizerSuite) TestNew() {
	s.Run("collaborators are required", func() {
		_, err := New(s.store, nil, s.slots, s.custody)
		s.Error(err)
	})
	s.Run("default permanence limit", func() {
		s.Equal(DefaultPermanenceLimit, s.finalizer.PermanenceLimit())
	})
}

func (s *FinalizerSuite) TestFinalizeBlocked() {
	s.Run("pending gates block release and are named", func() {
		sd := s.seed("C-1")
		_, err := s.clearance.UpdateGate(s.ctx, sd.caseID, clearanceModels.GateEconomicDebt, clearanceModels.Change{
			Status: clearanceModels.StatusResolved, Resolution: clearanceModels.ResolutionPayment, Actor: billing,
		})
		s.Require().NoError(err)

		_, err = s.finalizer.Finalize(s.ctx, sd.caseID, s.request(sd.actID))
		s.True(dErrors.HasCode(err, dErrors.CodeClearanceBlocked))
		s.Equal([]string{"blood_debt", "document_verification"}, dErrors.DetailsOf(err))
		s.assertUntouched(sd)
		s.Equal(1.0, testutil.ToFloat64(s.metrics.Finalized.WithLabelValues(string(dErrors.CodeClearanceBlocked))))
	})

	s.Run("pending gates are reported before a missing act", func() {
		sd := s.seed("C-1B")

		_, err := s.finalizer.Finalize(s.ctx, sd.caseID, s.request(id.SignedActID{}))
		s.True(dErrors.HasCode(err, dErrors.CodeClearanceBlocked))
		s.Contains(dErrors.DetailsOf(err), "document_verification")
		s.assertUntouched(sd)
	})

	s.Run("no act on a cleared case is incomplete documentation", func() {
		sd := s.seed("C-1C")
		s.clearAll(sd.caseID)

		_, err := s.finalizer.Finalize(s.ctx, sd.caseID, s.request(id.SignedActID{}))
		s.True(dErrors.HasCode(err, dErrors.CodeIncompleteDocumentation))
		s.assertUntouched(sd)
	})

	s.Run("missing signed act", func() {
		sd := s.seed("C-2")
		s.clearAll(sd.caseID)

		_, err := s.finalizer.Finalize(s.ctx, sd.caseID, s.request(id.NewSignedActID()))
		s.True(dErrors.HasCode(err, dErrors.CodeIncompleteDocumentation))
		s.assertUntouched(sd)
	})

	s.Run("incomplete signed act", func() {
		sd := s.seed("C-3")
		s.clearAll(sd.caseID)
		_, err := s.finalizer.RecordSignedAct(s.ctx, SignedActRequest{
			ID: sd.actID, CaseID: sd.caseID, SignedBy: "dr-ruiz", Complete: false, Actor: records,
		})
		s.Require().NoError(err)

		_, err = s.finalizer.Finalize(s.ctx, sd.caseID, s.request(sd.actID))
		s.True(dErrors.HasCode(err, dErrors.CodeIncompleteDocumentation))
		s.assertUntouched(sd)
	})

	s.Run("signed act of another case", func() {
		sd := s.seed("C-4")
		other := s.seed("C-5")
		s.clearAll(sd.caseID)

		_, err := s.finalizer.Finalize(s.ctx, sd.caseID, s.request(other.actID))
		s.True(dErrors.HasCode(err, dErrors.CodeIncompleteDocumentation))
		s.assertUntouched(sd)
	})

	s.Run("failure after the slot release rolls everything back", func() {
		sd := s.seed("C-6")
		s.clearAll(sd.caseID)
		s.Require().NoError(s.store.RunInTx(s.ctx, func(tx storage.Tx) error {
			return tx.Retrievals().Create(s.ctx, &models.RetrievalRecord{ID: id.NewRetrievalID(), CaseID: sd.caseID})
		}))

		_, err := s.finalizer.Finalize(s.ctx, sd.caseID, s.request(sd.actID))
		s.Require().Error(err)
		s.Equal(caseModels.StateAwaitingRetrieval, s.caseState(sd.caseID))
		s.Equal(slotModels.StateOccupied, s.slotState(sd.slotID))
		history, err := s.custody.History(s.ctx, sd.caseID)
		s.Require().NoError(err)
		s.Empty(history)
	})

	s.Run("only morgue may finalize", func() {
		sd := s.seed("C-7")
		s.clearAll(sd.caseID)
		req := s.request(sd.actID)
		req.Actor = records

		_, err := s.finalizer.Finalize(s.ctx, sd.caseID, req)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

func (s *FinalizerSuite) TestFinalizeReleases() {
	s.Run("releases slot, closes custody and moves the case to released", func() {
		sd := s.seed("C-10")
		s.clearAll(sd.caseID)
		s.published.Reset()

		rec, err := s.finalizer.Finalize(s.ctx, sd.caseID, s.request(sd.actID))
		s.Require().NoError(err)

		s.Equal(caseModels.StateReleased, s.caseState(sd.caseID))
		s.Equal(slotModels.StateAvailable, s.slotState(sd.slotID))
		s.Equal(sd.slotID, rec.SlotID)
		s.Equal(sd.actID, rec.SignedActID)
		s.Equal(50*time.Hour, rec.Permanence)
		s.Equal(50*time.Hour, rec.Occupancy)
		s.True(rec.ExceededThreshold)
		s.Equal(DefaultPermanenceLimit, rec.Threshold)

		holder, err := s.custody.CurrentHolder(s.ctx, sd.caseID)
		s.Require().NoError(err)
		s.Equal(funeralHome, holder)
		s.NoError(s.custody.VerifyChain(s.ctx, sd.caseID))

		s.Len(s.published.OfType(notify.EventCaseReleased), 1)
		s.Len(s.published.OfType(notify.EventSlotReleased), 1)
		s.Len(s.published.OfType(notify.EventAlertPermanence), 1)
		s.Equal(1.0, testutil.ToFloat64(s.metrics.PermanenceExceeded))

		got, err := s.finalizer.Get(s.ctx, sd.caseID)
		s.Require().NoError(err)
		s.Equal(rec.ID, got.ID)
	})

	s.Run("second finalize is an invalid transition", func() {
		sd := s.seed("C-11")
		s.clearAll(sd.caseID)
		_, err := s.finalizer.Finalize(s.ctx, sd.caseID, s.request(sd.actID))
		s.Require().NoError(err)

		_, err = s.finalizer.Finalize(s.ctx, sd.caseID, s.request(sd.actID))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))

		_, err = s.finalizer.Finalize(s.ctx, sd.caseID, FinalizeRequest{Actor: morgue})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition), "a bare re-send is judged against the released state")
	})

	s.Run("slot freed by an emergency release is skipped", func() {
		sd := s.seed("C-12")
		s.clearAll(sd.caseID)
		_, err := s.slots.ManualEmergencyRelease(s.ctx, sd.slotID, "refrigeration fault, moved to overflow", morgue)
		s.Require().NoError(err)

		rec, err := s.finalizer.Finalize(s.ctx, sd.caseID, s.request(sd.actID))
		s.Require().NoError(err)
		s.True(rec.SlotID.IsNil())
		s.Zero(rec.Occupancy)
		s.Equal(caseModels.StateReleased, s.caseState(sd.caseID))
	})

	s.Run("within the limit the flag stays clear", func() {
		f, err := New(s.store, s.clearance, s.slots, s.custody, WithPermanenceLimit(72*time.Hour))
		s.Require().NoError(err)
		sd := s.seed("C-13")
		s.clearAll(sd.caseID)

		rec, err := f.Finalize(s.ctx, sd.caseID, s.request(sd.actID))
		s.Require().NoError(err)
		s.False(rec.ExceededThreshold)
	})
}

func (s *FinalizerSuite) TestRecordSignedAct() {
	s.Run("an act cannot move to another case", func() {
		sd := s.seed("C-20")
		other := s.seed("C-21")

		_, err := s.finalizer.RecordSignedAct(s.ctx, SignedActRequest{
			ID: sd.actID, CaseID: other.caseID, SignedBy: "dr-ruiz", Complete: true, Actor: records,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("unknown case is not found", func() {
		_, err := s.finalizer.RecordSignedAct(s.ctx, SignedActRequest{
			ID: id.NewSignedActID(), CaseID: id.NewCaseID(), SignedBy: "dr-ruiz", Complete: true, Actor: records,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}
