package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	caseModels "mortuary/internal/caserecord/models"
	"mortuary/internal/custody/models"
	"mortuary/internal/notify"
	"mortuary/internal/notify/notifytest"
	"mortuary/internal/storage"
	"mortuary/internal/storage/memory"
	id "mortuary/pkg/domain"
	dErrors "mortuary/pkg/domain-errors"
	"mortuary/pkg/platform/audit"
	"mortuary/pkg/requestcontext"
)

type LedgerSuite struct {
	suite.Suite
	store     *memory.Store
	published *notifytest.Recorder
	ledger    *Ledger
	ctx       context.Context
	now       time.Time
}

func TestLedgerSuite(t *testing.T) {
	suite.Run(t, new(LedgerSuite))
}

func (s *LedgerSuite) SetupTest() {
	s.published = &notifytest.Recorder{}
	s.store = memory.New(memory.WithPublisher(s.published))
	s.now = time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)

	var err error
	s.ledger, err = New(s.store)
	s.Require().NoError(err)
}

func (s *LedgerSuite) seedCase(code string, state caseModels.State) *caseModels.CaseRecord {
	c, err := caseModels.NewCaseRecord(id.NewCaseID(), code, "nurse-ana", "ward-3", id.Actor{ID: "w1", Role: id.RoleWard}, s.now)
	s.Require().NoError(err)
	c.State = state
	s.Require().NoError(s.store.RunInTx(s.ctx, func(tx storage.Tx) error {
		return tx.Cases().Create(s.ctx, c)
	}))
	return c
}

func (s *LedgerSuite) transfer(origin, destination models.Holder) models.TransferRequest {
	return models.TransferRequest{
		OriginHolder:        origin,
		DestinationHolder:   destination,
		OriginLocation:      "ward-3",
		DestinationLocation: "corridor-b",
		Actor:               id.Actor{ID: "t1", Role: id.RoleTransport},
	}
}

func (s *LedgerSuite) TestNew() {
	s.Run("nil transactor returns error", func() {
		_, err := New(nil)
		s.Error(err)
		s.Contains(err.Error(), "transactor is required")
	})
}

func (s *LedgerSuite) TestAppendTransfer() {
	s.Run("first transfer starts from the intake holder", func() {
		c := s.seedCase("C-100", caseModels.StateInTransit)

		rec, err := s.ledger.AppendTransfer(s.ctx, c.ID, s.transfer("nurse-ana", "orderly-bo"))
		s.Require().NoError(err)
		s.Equal(int64(1), rec.Seq)
		s.Equal(s.now, rec.Timestamp)
		s.Equal("t1", rec.RecordedBy)

		events := s.published.OfType(notify.EventCustodyTransferred)
		s.Require().Len(events, 1)
		s.Equal(c.ID, events[0].CaseID)
		s.Equal("orderly-bo", events[0].Attributes["holder"])
	})

	s.Run("chained transfers increment the sequence", func() {
		c := s.seedCase("C-101", caseModels.StateInTransit)
		_, err := s.ledger.AppendTransfer(s.ctx, c.ID, s.transfer("nurse-ana", "orderly-bo"))
		s.Require().NoError(err)

		rec, err := s.ledger.AppendTransfer(s.ctx, c.ID, s.transfer("orderly-bo", "attendant-cy"))
		s.Require().NoError(err)
		s.Equal(int64(2), rec.Seq)
	})

	s.Run("origin that does not match the current holder is a discontinuity", func() {
		c := s.seedCase("C-102", caseModels.StateInTransit)
		_, err := s.ledger.AppendTransfer(s.ctx, c.ID, s.transfer("nurse-ana", "orderly-bo"))
		s.Require().NoError(err)

		_, err = s.ledger.AppendTransfer(s.ctx, c.ID, s.transfer("nurse-ana", "attendant-cy"))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeChainDiscontinuity))
		s.True(dErrors.IsIntegrity(err))

		history, err := s.ledger.History(s.ctx, c.ID)
		s.Require().NoError(err)
		s.Len(history, 1)
	})

	s.Run("roles outside the custody chain are forbidden", func() {
		c := s.seedCase("C-103", caseModels.StateInTransit)
		req := s.transfer("nurse-ana", "orderly-bo")
		req.Actor = id.Actor{ID: "b1", Role: id.RoleBilling}

		_, err := s.ledger.AppendTransfer(s.ctx, c.ID, req)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("released cases accept no transfers", func() {
		c := s.seedCase("C-104", caseModels.StateReleased)

		_, err := s.ledger.AppendTransfer(s.ctx, c.ID, s.transfer("nurse-ana", "orderly-bo"))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	s.Run("unknown case is not found", func() {
		_, err := s.ledger.AppendTransfer(s.ctx, id.NewCaseID(), s.transfer("nurse-ana", "orderly-bo"))
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("transfer writes an audit event in the same transaction", func() {
		c := s.seedCase("C-105", caseModels.StateInTransit)
		_, err := s.ledger.AppendTransfer(s.ctx, c.ID, s.transfer("nurse-ana", "orderly-bo"))
		s.Require().NoError(err)

		var events []audit.Event
		s.Require().NoError(s.store.View(s.ctx, func(tx storage.Tx) error {
			var err error
			events, err = tx.Audit().ListByCase(s.ctx, c.ID)
			return err
		}))
		s.Require().Len(events, 1)
		s.Equal(string(audit.EventCustodyTransferred), events[0].Action)
		s.Equal(audit.CategoryCompliance, events[0].Category)
		s.Equal("orderly-bo", events[0].ToState)
	})
}

func (s *LedgerSuite) TestCurrentHolder() {
	s.Run("falls back to the intake holder before any transfer", func() {
		c := s.seedCase("C-200", caseModels.StateIntake)

		holder, err := s.ledger.CurrentHolder(s.ctx, c.ID)
		s.Require().NoError(err)
		s.Equal(models.Holder("nurse-ana"), holder)
	})

	s.Run("returns the destination of the latest transfer", func() {
		c := s.seedCase("C-201", caseModels.StateInTransit)
		_, err := s.ledger.AppendTransfer(s.ctx, c.ID, s.transfer("nurse-ana", "orderly-bo"))
		s.Require().NoError(err)

		holder, err := s.ledger.CurrentHolder(s.ctx, c.ID)
		s.Require().NoError(err)
		s.Equal(models.Holder("orderly-bo"), holder)
	})
}

func (s *LedgerSuite) TestVerifyChain() {
	s.Run("intact chain verifies", func() {
		c := s.seedCase("C-300", caseModels.StateInTransit)
		_, err := s.ledger.AppendTransfer(s.ctx, c.ID, s.transfer("nurse-ana", "orderly-bo"))
		s.Require().NoError(err)
		_, err = s.ledger.AppendTransfer(s.ctx, c.ID, s.transfer("orderly-bo", "attendant-cy"))
		s.Require().NoError(err)

		s.NoError(s.ledger.VerifyChain(s.ctx, c.ID))
	})

	s.Run("empty chain verifies", func() {
		c := s.seedCase("C-301", caseModels.StateIntake)
		s.NoError(s.ledger.VerifyChain(s.ctx, c.ID))
	})
}
