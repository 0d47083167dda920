package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	caseModels "mortuary/internal/caserecord/models"
	clearanceModels "mortuary/internal/clearance/models"
	custodyModels "mortuary/internal/custody/models"
	"mortuary/internal/notify"
	slotModels "mortuary/internal/slot/models"
	"mortuary/internal/storage"
	id "mortuary/pkg/domain"
	dErrors "mortuary/pkg/domain-errors"
	"mortuary/pkg/platform/audit"
	"mortuary/pkg/platform/sentinel"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e notify.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type StoreSuite struct {
	suite.Suite
	store     *Store
	publisher *recordingPublisher
	ctx       context.Context
	now       time.Time
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	s.publisher = &recordingPublisher{}
	s.store = New(WithPublisher(s.publisher))
	s.ctx = context.Background()
	s.now = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
}

func (s *StoreSuite) createCase(code string) *caseModels.CaseRecord {
	c, err := caseModels.NewCaseRecord(id.NewCaseID(), code, "nurse", "ward", id.Actor{ID: "w", Role: id.RoleWard}, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.RunInTx(s.ctx, func(tx storage.Tx) error {
		return tx.Cases().Create(s.ctx, c)
	}))
	return c
}

func (s *StoreSuite) createSlot(code string) *slotModels.Slot {
	sl, err := slotModels.NewSlot(id.NewSlotID(), code, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.RunInTx(s.ctx, func(tx storage.Tx) error {
		return tx.Slots().Create(s.ctx, sl)
	}))
	return sl
}

func (s *StoreSuite) assign(slotID id.SlotID, caseID id.CaseID) error {
	return s.store.RunInTx(s.ctx, func(tx storage.Tx) error {
		sl, err := tx.Slots().FindByID(s.ctx, slotID)
		if err != nil {
			return err
		}
		sl.ApplyAssign(caseID, s.now)
		return tx.Slots().CompareAndSwap(s.ctx, sl, slotModels.StateAvailable)
	})
}

func (s *StoreSuite) TestCommitAndRollback() {
	s.Run("writes become visible on commit", func() {
		c := s.createCase("C-1")
		got, err := s.readCase(c.ID)
		s.Require().NoError(err)
		s.Equal("C-1", got.Code)
		s.Equal(int64(1), got.Version)
	})

	s.Run("every staged write is discarded when fn fails", func() {
		c := s.createCase("C-2")
		boom := errors.New("boom")
		err := s.store.RunInTx(s.ctx, func(tx storage.Tx) error {
			rec, err := tx.Cases().FindByID(s.ctx, c.ID)
			s.Require().NoError(err)
			rec.ApplyTrigger(caseModels.TriggerGenerateTag, s.now)
			s.Require().NoError(tx.Cases().Update(s.ctx, rec))
			s.Require().NoError(tx.Audit().Append(s.ctx, audit.New(audit.EventCaseTransitioned, c.ID, id.Actor{}, s.now)))
			tx.Publish(notify.NewEvent(notify.EventCaseTransitioned, s.now))
			return boom
		})
		s.ErrorIs(err, boom)

		got, err := s.readCase(c.ID)
		s.Require().NoError(err)
		s.Equal(caseModels.StateIntake, got.State)
		s.Zero(s.publisher.count())
		s.Empty(s.auditFor(c.ID))
	})

	s.Run("reads inside a tx see its own writes", func() {
		c := s.createCase("C-3")
		s.Require().NoError(s.store.RunInTx(s.ctx, func(tx storage.Tx) error {
			rec, _ := tx.Cases().FindByID(s.ctx, c.ID)
			rec.ApplyTrigger(caseModels.TriggerGenerateTag, s.now)
			s.Require().NoError(tx.Cases().Update(s.ctx, rec))
			again, err := tx.Cases().FindByID(s.ctx, c.ID)
			s.Require().NoError(err)
			s.Equal(caseModels.StateAwaitingPickup, again.State)
			s.Require().NoError(tx.Cases().Update(s.ctx, again))
			return nil
		}))
		got, _ := s.readCase(c.ID)
		s.Equal(int64(3), got.Version)
	})
}

func (s *StoreSuite) TestUniqueCodes() {
	s.createCase("DUP")
	c, _ := caseModels.NewCaseRecord(id.NewCaseID(), "DUP", "", "", id.Actor{}, s.now)
	err := s.store.RunInTx(s.ctx, func(tx storage.Tx) error { return tx.Cases().Create(s.ctx, c) })
	s.ErrorIs(err, sentinel.ErrAlreadyUsed)

	s.createSlot("S-1")
	sl, _ := slotModels.NewSlot(id.NewSlotID(), "S-1", s.now)
	err = s.store.RunInTx(s.ctx, func(tx storage.Tx) error { return tx.Slots().Create(s.ctx, sl) })
	s.ErrorIs(err, sentinel.ErrAlreadyUsed)
}

func (s *StoreSuite) TestSlotCompareAndSwap() {
	s.Run("stale state fails immediately", func() {
		sl := s.createSlot("A")
		s.Require().NoError(s.assign(sl.ID, id.NewCaseID()))
		err := s.assign(sl.ID, id.NewCaseID())
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("a transaction that read before a competing commit loses at commit", func() {
		sl := s.createSlot("B")
		err := s.store.RunInTx(s.ctx, func(tx storage.Tx) error {
			mine, err := tx.Slots().FindByID(s.ctx, sl.ID)
			s.Require().NoError(err)
			s.Require().NoError(s.assign(sl.ID, id.NewCaseID()))
			mine.ApplyAssign(id.NewCaseID(), s.now)
			return tx.Slots().CompareAndSwap(s.ctx, mine, slotModels.StateAvailable)
		})
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("a case occupies at most one slot", func() {
		first := s.createSlot("C")
		second := s.createSlot("D")
		caseID := id.NewCaseID()
		s.Require().NoError(s.assign(first.ID, caseID))
		s.ErrorIs(s.assign(second.ID, caseID), sentinel.ErrAlreadyUsed)

		got, err := s.findOccupant(caseID)
		s.Require().NoError(err)
		s.Equal(first.ID, got.ID)
	})

	s.Run("release followed by assign succeeds", func() {
		sl := s.createSlot("E")
		caseID := id.NewCaseID()
		s.Require().NoError(s.assign(sl.ID, caseID))
		s.Require().NoError(s.store.RunInTx(s.ctx, func(tx storage.Tx) error {
			cur, _ := tx.Slots().FindByID(s.ctx, sl.ID)
			cur.ApplyRelease(s.now)
			return tx.Slots().CompareAndSwap(s.ctx, cur, slotModels.StateOccupied)
		}))
		_, err := s.findOccupant(caseID)
		s.ErrorIs(err, sentinel.ErrNotFound)
		s.NoError(s.assign(sl.ID, id.NewCaseID()))
	})
}

func (s *StoreSuite) TestConcurrentAssignHasOneWinner() {
	sl := s.createSlot("RACE")
	const callers = 50

	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := s.assign(sl.ID, id.NewCaseID())
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, sentinel.ErrConflict):
				conflicts.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	s.Equal(int32(1), wins.Load())
	s.Equal(int32(callers-1), conflicts.Load())

	var final *slotModels.Slot
	s.Require().NoError(s.store.View(s.ctx, func(tx storage.Tx) error {
		var err error
		final, err = tx.Slots().FindByID(s.ctx, sl.ID)
		return err
	}))
	s.Equal(slotModels.StateOccupied, final.State)
	s.NoError(final.CheckInvariant())
}

func (s *StoreSuite) TestRunForCase() {
	s.Run("serializes writers on one case", func() {
		c := s.createCase("SERIAL")
		const writers = 20
		var wg sync.WaitGroup
		var failures atomic.Int32
		for range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.store.RunForCase(s.ctx, c.ID, func(tx storage.Tx) error {
					rec, err := tx.Cases().FindByID(s.ctx, c.ID)
					if err != nil {
						return err
					}
					rec.ApplyRejection("retry")
					return tx.Cases().Update(s.ctx, rec)
				})
				if err != nil {
					failures.Add(1)
				}
			}()
		}
		wg.Wait()
		s.Zero(failures.Load())
		got, _ := s.readCase(c.ID)
		s.Equal(writers, got.RejectionCount)
		s.Zero(s.store.locks.size())
	})

	s.Run("different cases never wait on each other", func() {
		a := s.createCase("A-CASE")
		b := s.createCase("B-CASE")
		holding := make(chan struct{})
		release := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			done <- s.store.RunForCase(s.ctx, a.ID, func(storage.Tx) error {
				close(holding)
				<-release
				return nil
			})
		}()
		<-holding
		s.NoError(s.store.RunForCase(s.ctx, b.ID, func(storage.Tx) error { return nil }))
		close(release)
		s.NoError(<-done)
	})

	s.Run("waiting on a busy case honours the context", func() {
		c := s.createCase("BUSY")
		holding := make(chan struct{})
		release := make(chan struct{})
		go func() {
			_ = s.store.RunForCase(s.ctx, c.ID, func(storage.Tx) error {
				close(holding)
				<-release
				return nil
			})
		}()
		<-holding
		ctx, cancel := context.WithTimeout(s.ctx, 20*time.Millisecond)
		defer cancel()
		err := s.store.RunForCase(ctx, c.ID, func(storage.Tx) error { return nil })
		s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
		close(release)
	})

	s.Run("unknown case", func() {
		err := s.store.RunForCase(s.ctx, id.NewCaseID(), func(storage.Tx) error { return nil })
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *StoreSuite) TestCustodyAppendsAreOrdered() {
	caseID := id.NewCaseID()
	rec := func(seq int64) *custodyModels.TransferRecord {
		return &custodyModels.TransferRecord{ID: id.NewTransferID(), CaseID: caseID, Seq: seq}
	}
	s.Require().NoError(s.store.RunInTx(s.ctx, func(tx storage.Tx) error {
		if err := tx.Custody().Append(s.ctx, rec(1)); err != nil {
			return err
		}
		return tx.Custody().Append(s.ctx, rec(2))
	}))

	s.Run("gap is rejected", func() {
		err := s.store.RunInTx(s.ctx, func(tx storage.Tx) error { return tx.Custody().Append(s.ctx, rec(4)) })
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("concurrent append from the same head loses at commit", func() {
		err := s.store.RunInTx(s.ctx, func(tx storage.Tx) error {
			s.Require().NoError(tx.Custody().Append(s.ctx, rec(3)))
			s.Require().NoError(s.store.RunInTx(s.ctx, func(other storage.Tx) error {
				return other.Custody().Append(s.ctx, rec(3))
			}))
			return nil
		})
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Require().NoError(s.store.View(s.ctx, func(tx storage.Tx) error {
		head, err := tx.Custody().Head(s.ctx, caseID)
		s.Require().NoError(err)
		s.Equal(int64(3), head.Seq)
		all, _ := tx.Custody().ListByCase(s.ctx, caseID)
		s.Len(all, 3)
		return nil
	}))
}

func (s *StoreSuite) TestGateVersions() {
	caseID := id.NewCaseID()
	g := clearanceModels.NewGate(caseID, clearanceModels.GateBloodDebt, false, s.now)
	s.Require().NoError(s.store.RunInTx(s.ctx, func(tx storage.Tx) error { return tx.Gates().Create(s.ctx, g) }))

	stale := *g
	s.Require().NoError(s.store.RunInTx(s.ctx, func(tx storage.Tx) error {
		cur, _ := tx.Gates().Find(s.ctx, caseID, clearanceModels.GateBloodDebt)
		cur.Status = clearanceModels.StatusWaived
		return tx.Gates().Update(s.ctx, cur)
	}))
	err := s.store.RunInTx(s.ctx, func(tx storage.Tx) error { return tx.Gates().Update(s.ctx, &stale) })
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *StoreSuite) TestViewIsReadOnly() {
	c := s.createCase("RO")
	err := s.store.View(s.ctx, func(tx storage.Tx) error {
		rec, err := tx.Cases().FindByID(s.ctx, c.ID)
		s.Require().NoError(err)
		return tx.Cases().Update(s.ctx, rec)
	})
	s.ErrorIs(err, sentinel.ErrInvalidState)
}

func (s *StoreSuite) TestPublishesAfterCommit() {
	c := s.createCase("PUB")
	s.Require().NoError(s.store.RunForCase(s.ctx, c.ID, func(tx storage.Tx) error {
		s.Require().NoError(tx.Audit().Append(s.ctx, audit.New(audit.EventCaseTransitioned, c.ID, id.Actor{ID: "x"}, time.Time{})))
		tx.Publish(notify.NewEvent(notify.EventCaseTransitioned, s.now))
		s.Zero(s.publisher.count())
		return nil
	}))
	s.Equal(1, s.publisher.count())
	events := s.auditFor(c.ID)
	s.Require().Len(events, 1)
	s.False(events[0].Timestamp.IsZero())
}

func (s *StoreSuite) readCase(caseID id.CaseID) (*caseModels.CaseRecord, error) {
	var out *caseModels.CaseRecord
	err := s.store.View(s.ctx, func(tx storage.Tx) error {
		var err error
		out, err = tx.Cases().FindByID(s.ctx, caseID)
		return err
	})
	return out, err
}

func (s *StoreSuite) findOccupant(caseID id.CaseID) (*slotModels.Slot, error) {
	var out *slotModels.Slot
	err := s.store.View(s.ctx, func(tx storage.Tx) error {
		var err error
		out, err = tx.Slots().FindByOccupant(s.ctx, caseID)
		return err
	})
	return out, err
}

func (s *StoreSuite) auditFor(caseID id.CaseID) []audit.Event {
	var out []audit.Event
	_ = s.store.View(s.ctx, func(tx storage.Tx) error {
		out, _ = tx.Audit().ListByCase(s.ctx, caseID)
		return nil
	})
	return out
}
