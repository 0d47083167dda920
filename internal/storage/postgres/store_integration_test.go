//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	caseModels "mortuary/internal/caserecord/models"
	slotModels "mortuary/internal/slot/models"
	slotService "mortuary/internal/slot/service"
	"mortuary/internal/storage"
	pgstore "mortuary/internal/storage/postgres"
	id "mortuary/pkg/domain"
	dErrors "mortuary/pkg/domain-errors"
	"mortuary/pkg/platform/sentinel"
	"mortuary/pkg/requestcontext"
	"mortuary/pkg/testutil/containers"
)

var (
	ward   = id.Actor{ID: "w1", Role: id.RoleWard}
	morgue = id.Actor{ID: "m1", Role: id.RoleMorgue}
)

type PostgresStoreSuite struct {
	suite.Suite
	pg       *containers.PostgresContainer
	store    *pgstore.Store
	registry *slotService.Registry
	ctx      context.Context
	now      time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.pg = containers.GetManager().GetPostgres(s.T())
}

func (s *PostgresStoreSuite) SetupTest() {
	s.now = time.Now().UTC().Truncate(time.Microsecond)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.Require().NoError(s.pg.TruncateTables(s.ctx,
		"audit_events", "retrievals", "signed_acts", "clearance_gates", "custody_transfers", "slots", "cases"))

	s.store = pgstore.New(s.pg.DB, pgstore.WithTxTimeout(10*time.Second))
	var err error
	s.registry, err = slotService.New(s.store)
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) seedCase(code string) id.CaseID {
	c, err := caseModels.NewCaseRecord(id.NewCaseID(), code, "nurse", "ward-1", ward, s.now)
	s.Require().NoError(err)
	c.State = caseModels.StateAwaitingSlotAssignment
	s.Require().NoError(s.store.RunInTx(s.ctx, func(tx storage.Tx) error {
		return tx.Cases().Create(s.ctx, c)
	}))
	return c.ID
}

func (s *PostgresStoreSuite) TestConcurrentAssignHasOneWinner() {
	slot, err := s.registry.Register(s.ctx, "PG-01", morgue)
	s.Require().NoError(err)

	const callers = 12
	cases := make([]id.CaseID, callers)
	for i := range cases {
		cases[i] = s.seedCase(fmt.Sprintf("PG-RACE-%02d", i))
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   []id.CaseID
		conflicts int
	)
	start := make(chan struct{})
	for _, caseID := range cases {
		wg.Add(1)
		go func(caseID id.CaseID) {
			defer wg.Done()
			<-start
			_, err := s.registry.Assign(s.ctx, caseID, slot.ID, morgue)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, caseID)
			case dErrors.HasCode(err, dErrors.CodeSlotConflict):
				conflicts++
			default:
				s.Failf("unexpected error", "%v", err)
			}
		}(caseID)
	}
	close(start)
	wg.Wait()

	s.Require().Len(winners, 1)
	s.Equal(callers-1, conflicts)

	got, err := s.registry.Get(s.ctx, slot.ID)
	s.Require().NoError(err)
	s.Equal(slotModels.StateOccupied, got.State)
	s.Equal(winners[0], got.OccupantCaseID)

	occupant, err := s.registry.FindByOccupant(s.ctx, winners[0])
	s.Require().NoError(err)
	s.Equal(slot.ID, occupant.ID)
}

func (s *PostgresStoreSuite) TestCaseRoundTrip() {
	caseID := s.seedCase("PG-RT-1")

	s.Run("find by id and code", func() {
		s.Require().NoError(s.store.View(s.ctx, func(tx storage.Tx) error {
			byID, err := tx.Cases().FindByID(s.ctx, caseID)
			s.Require().NoError(err)
			s.Equal("PG-RT-1", byID.Code)
			s.Equal(caseModels.StateAwaitingSlotAssignment, byID.State)

			byCode, err := tx.Cases().FindByCode(s.ctx, "PG-RT-1")
			s.Require().NoError(err)
			s.Equal(caseID, byCode.ID)
			return nil
		}))
	})

	s.Run("duplicate code is rejected", func() {
		c, err := caseModels.NewCaseRecord(id.NewCaseID(), "PG-RT-1", "nurse", "ward-1", ward, s.now)
		s.Require().NoError(err)
		err = s.store.RunInTx(s.ctx, func(tx storage.Tx) error {
			return tx.Cases().Create(s.ctx, c)
		})
		s.ErrorIs(err, sentinel.ErrAlreadyUsed)
	})

	s.Run("unknown case cannot be locked", func() {
		err := s.store.RunForCase(s.ctx, id.NewCaseID(), func(storage.Tx) error { return nil })
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}
