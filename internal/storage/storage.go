// Package storage defines the persistence boundary shared by every bounded
// context: per-entity store ports and a unit of work that commits them
// together.
//
// Stores return sentinel errors from pkg/platform/sentinel; services translate
// them into domain errors. Records returned by stores are copies, so callers
// may mutate them and write them back through Update-style methods.
package storage

import (
	"context"

	caseModels "mortuary/internal/caserecord/models"
	clearanceModels "mortuary/internal/clearance/models"
	custodyModels "mortuary/internal/custody/models"
	"mortuary/internal/notify"
	retrievalModels "mortuary/internal/retrieval/models"
	slotModels "mortuary/internal/slot/models"
	id "mortuary/pkg/domain"
	"mortuary/pkg/platform/audit"
)

// CaseStore persists case records.
type CaseStore interface {
	// Create fails with sentinel.ErrAlreadyUsed when the id or code exists.
	Create(ctx context.Context, c *caseModels.CaseRecord) error
	FindByID(ctx context.Context, caseID id.CaseID) (*caseModels.CaseRecord, error)
	FindByCode(ctx context.Context, code string) (*caseModels.CaseRecord, error)
	// Update writes c when c.Version matches the stored version, then
	// increments c.Version. A mismatch is sentinel.ErrConflict.
	Update(ctx context.Context, c *caseModels.CaseRecord) error
	// ListByState returns cases in any of states, every case when none are given.
	ListByState(ctx context.Context, states ...caseModels.State) ([]*caseModels.CaseRecord, error)
}

// SlotStore persists slots. All state changes go through CompareAndSwap.
type SlotStore interface {
	// Create fails with sentinel.ErrAlreadyUsed when the id or code exists.
	Create(ctx context.Context, s *slotModels.Slot) error
	FindByID(ctx context.Context, slotID id.SlotID) (*slotModels.Slot, error)
	FindByOccupant(ctx context.Context, caseID id.CaseID) (*slotModels.Slot, error)
	List(ctx context.Context, states ...slotModels.State) ([]*slotModels.Slot, error)
	// CompareAndSwap replaces the slot only if its stored state is expected
	// and its version equals next.Version; otherwise it returns
	// sentinel.ErrConflict without waiting. Occupying a slot with a case
	// that already occupies another returns sentinel.ErrAlreadyUsed.
	// On success next.Version is incremented.
	CompareAndSwap(ctx context.Context, next *slotModels.Slot, expected slotModels.State) error
}

// CustodyStore is the append-only custody ledger.
type CustodyStore interface {
	// Append fails with sentinel.ErrConflict when rec.Seq does not directly
	// follow the stored head.
	Append(ctx context.Context, rec *custodyModels.TransferRecord) error
	// Head returns the latest record or sentinel.ErrNotFound.
	Head(ctx context.Context, caseID id.CaseID) (*custodyModels.TransferRecord, error)
	ListByCase(ctx context.Context, caseID id.CaseID) ([]*custodyModels.TransferRecord, error)
}

// GateStore persists clearance gates, one per (case, type).
type GateStore interface {
	Create(ctx context.Context, g *clearanceModels.Gate) error
	Find(ctx context.Context, caseID id.CaseID, t clearanceModels.GateType) (*clearanceModels.Gate, error)
	ListByCase(ctx context.Context, caseID id.CaseID) ([]*clearanceModels.Gate, error)
	// Update follows the same version rule as CaseStore.Update.
	Update(ctx context.Context, g *clearanceModels.Gate) error
}

// RetrievalStore persists retrieval records, at most one per case.
type RetrievalStore interface {
	Create(ctx context.Context, r *retrievalModels.RetrievalRecord) error
	FindByCase(ctx context.Context, caseID id.CaseID) (*retrievalModels.RetrievalRecord, error)
}

// SignedActStore persists signed act metadata.
type SignedActStore interface {
	// Save inserts or replaces the act. Moving an act to another case is
	// sentinel.ErrConflict.
	Save(ctx context.Context, a *retrievalModels.SignedAct) error
	FindByID(ctx context.Context, actID id.SignedActID) (*retrievalModels.SignedAct, error)
}

// Tx is one unit of work. Writes through any store become visible to other
// transactions only when the enclosing Transactor call returns nil.
type Tx interface {
	Cases() CaseStore
	Slots() SlotStore
	Custody() CustodyStore
	Gates() GateStore
	Retrievals() RetrievalStore
	Acts() SignedActStore
	Audit() audit.Store
	// Publish stages a notification that is released after commit and
	// dropped on rollback.
	Publish(event notify.Event)
}

// Transactor runs units of work.
type Transactor interface {
	// RunInTx commits every write made through tx when fn returns nil and
	// discards them otherwise.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
	// RunForCase is RunInTx serialized per case: two calls for the same case
	// never overlap, calls for different cases never wait on each other.
	// Fails with sentinel.ErrNotFound when the case does not exist.
	RunForCase(ctx context.Context, caseID id.CaseID, fn func(tx Tx) error) error
	// View runs fn against committed state without taking any lock. Writes
	// are rejected.
	View(ctx context.Context, fn func(tx Tx) error) error
}
