// Package service implements the slot registry: exclusive assignment of a
// finite pool of storage slots, releases, and maintenance.
//
// Every slot write is a compare-and-swap on the state the caller read, so of
// two callers racing for the same slot exactly one commits and the other gets
// SlotConflict immediately.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"mortuary/internal/notify"
	"mortuary/internal/slot/metrics"
	"mortuary/internal/slot/models"
	"mortuary/internal/storage"
	id "mortuary/pkg/domain"
	dErrors "mortuary/pkg/domain-errors"
	"mortuary/pkg/platform/audit"
	"mortuary/pkg/platform/sentinel"
	"mortuary/pkg/requestcontext"
)

// DefaultEmergencyReasonMinLength is the minimum justification length for a
// manual emergency release.
const DefaultEmergencyReasonMinLength = 20

var (
	operatorRoles = []id.Role{id.RoleMorgue}
	slotAudience  = []id.Role{id.RoleMorgue, id.RoleSupervisor}
)

type Registry struct {
	tx                 storage.Transactor
	logger             *slog.Logger
	metrics            *metrics.Metrics
	emergencyReasonMin int
}

type Option func(*Registry)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithEmergencyReasonMinLength overrides DefaultEmergencyReasonMinLength.
func WithEmergencyReasonMinLength(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.emergencyReasonMin = n
		}
	}
}

func New(tx storage.Transactor, opts ...Option) (*Registry, error) {
	if tx == nil {
		return nil, errors.New("transactor is required")
	}
	r := &Registry{
		tx:                 tx,
		emergencyReasonMin: DefaultEmergencyReasonMinLength,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Register adds an empty slot to the pool.
func (r *Registry) Register(ctx context.Context, code string, actor id.Actor) (*models.Slot, error) {
	if err := authorize(actor, "register slots"); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	slot, err := models.NewSlot(id.NewSlotID(), code, now)
	if err != nil {
		return nil, err
	}
	err = r.tx.RunInTx(ctx, func(tx storage.Tx) error {
		if err := tx.Slots().Create(ctx, slot); err != nil {
			return err
		}
		event := audit.New(audit.EventSlotRegistered, id.CaseID{}, actor, now)
		event.SlotID = slot.ID
		event.ToState = slot.State.String()
		return tx.Audit().Append(ctx, event)
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.New(dErrors.CodeConflict, "slot code is already registered")
		}
		return nil, storage.DomainError(err, "slot")
	}
	r.logAudit(ctx, string(audit.EventSlotRegistered), "slot_id", slot.ID, "slot_code", slot.Code, "actor_id", actor.ID)
	return slot, nil
}

// Assign occupies slotID with caseID outside a lifecycle trigger. The case
// state is not changed; use the AssignSlot trigger for the normal flow.
func (r *Registry) Assign(ctx context.Context, caseID id.CaseID, slotID id.SlotID, actor id.Actor) (*models.Slot, error) {
	if err := authorize(actor, "assign slots"); err != nil {
		return nil, err
	}
	var slot *models.Slot
	err := r.tx.RunForCase(ctx, caseID, func(tx storage.Tx) error {
		c, err := tx.Cases().FindByID(ctx, caseID)
		if err != nil {
			return err
		}
		if c.IsVoided() || c.State.IsTerminal() {
			return dErrors.NewWithDetails(dErrors.CodeInvalidTransition, "case cannot occupy a slot",
				"state="+c.State.String())
		}
		slot, err = r.AssignInTx(ctx, tx, caseID, slotID, actor)
		return err
	})
	r.ObserveAssign(err)
	if err != nil {
		return nil, storage.DomainError(err, "slot")
	}
	r.logAudit(ctx, string(audit.EventSlotAssigned), "slot_id", slotID, "case_id", caseID, "actor_id", actor.ID)
	return slot, nil
}

// AssignInTx stages the assignment in the caller's transaction. The caller
// must hold caseID. A concurrent writer to the same slot makes the enclosing
// commit fail with storage.ErrSlotChanged.
func (r *Registry) AssignInTx(ctx context.Context, tx storage.Tx, caseID id.CaseID, slotID id.SlotID, actor id.Actor) (*models.Slot, error) {
	slot, err := tx.Slots().FindByID(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if err := slot.CanAssign(); err != nil {
		return nil, err
	}
	current, err := tx.Slots().FindByOccupant(ctx, caseID)
	switch {
	case err == nil:
		return nil, dErrors.NewWithDetails(dErrors.CodeSlotConflict, "case already occupies a slot",
			"slot="+current.Code)
	case !errors.Is(err, sentinel.ErrNotFound):
		return nil, err
	}

	now := requestcontext.Now(ctx)
	slot.ApplyAssign(caseID, now)
	if err := slot.CheckInvariant(); err != nil {
		return nil, err
	}
	if err := tx.Slots().CompareAndSwap(ctx, slot, models.StateAvailable); err != nil {
		return nil, err
	}

	event := audit.New(audit.EventSlotAssigned, caseID, actor, now)
	event.SlotID = slot.ID
	event.FromState = models.StateAvailable.String()
	event.ToState = slot.State.String()
	if err := tx.Audit().Append(ctx, event); err != nil {
		return nil, err
	}
	r.publish(tx, notify.EventSlotAssigned, slot, caseID, actor, now, nil)
	return slot, nil
}

// Release empties an occupied slot. Releasing an available slot succeeds
// without writing anything.
func (r *Registry) Release(ctx context.Context, slotID id.SlotID, actor id.Actor) (*models.Release, error) {
	if err := authorize(actor, "release slots"); err != nil {
		return nil, err
	}
	rel, err := r.release(ctx, slotID, actor, "")
	if err != nil {
		return nil, err
	}
	if !rel.AlreadyAvailable {
		r.logAudit(ctx, string(audit.EventSlotReleased),
			"slot_id", slotID, "case_id", rel.CaseID, "occupancy", rel.Occupancy.String(), "actor_id", actor.ID)
	}
	return rel, nil
}

// ManualEmergencyRelease frees a slot outside FinalizeRetrieval. The case
// keeps its lifecycle state; the release is audited as a distinct event.
// An already available slot succeeds without writing or logging anything.
func (r *Registry) ManualEmergencyRelease(ctx context.Context, slotID id.SlotID, reason string, actor id.Actor) (*models.Release, error) {
	if err := authorize(actor, "perform emergency releases"); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) < r.emergencyReasonMin {
		return nil, dErrors.NewWithDetails(dErrors.CodeValidation, "emergency release reason is too short",
			"min_length="+strconv.Itoa(r.emergencyReasonMin))
	}
	rel, err := r.release(ctx, slotID, actor, reason)
	if err != nil {
		return nil, err
	}
	if rel.AlreadyAvailable {
		return rel, nil
	}
	if r.logger != nil {
		r.logger.WarnContext(ctx, "slot emergency release",
			"slot_id", slotID,
			"case_id", rel.CaseID,
			"actor_id", actor.ID,
			"reason", reason,
		)
	}
	r.logAudit(ctx, string(audit.EventSlotEmergencyReleased), "slot_id", slotID, "case_id", rel.CaseID, "actor_id", actor.ID)
	return rel, nil
}

// release locks the occupant's case so the release serializes with any
// trigger on that case. A non-empty reason marks an emergency release.
func (r *Registry) release(ctx context.Context, slotID id.SlotID, actor id.Actor, reason string) (*models.Release, error) {
	slot, err := r.Get(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if slot.State == models.StateAvailable {
		rel := &models.Release{Slot: slot, AlreadyAvailable: true, Emergency: reason != ""}
		r.observeRelease(rel)
		return rel, nil
	}
	if err := slot.CanRelease(); err != nil {
		return nil, err
	}

	occupant := slot.OccupantCaseID
	var rel *models.Release
	err = r.tx.RunForCase(ctx, occupant, func(tx storage.Tx) error {
		current, err := tx.Slots().FindByID(ctx, slotID)
		if err != nil {
			return err
		}
		if current.State == models.StateOccupied && current.OccupantCaseID != occupant {
			return storage.ErrSlotChanged
		}
		rel, err = r.ReleaseInTx(ctx, tx, slotID, actor, reason)
		return err
	})
	if err != nil {
		return nil, storage.DomainError(err, "slot")
	}
	r.observeRelease(rel)
	return rel, nil
}

// ReleaseInTx stages a release in the caller's transaction. The caller must
// hold the occupant's case.
func (r *Registry) ReleaseInTx(ctx context.Context, tx storage.Tx, slotID id.SlotID, actor id.Actor, reason string) (*models.Release, error) {
	slot, err := tx.Slots().FindByID(ctx, slotID)
	if err != nil {
		return nil, err
	}
	emergency := reason != ""
	if slot.State == models.StateAvailable {
		return &models.Release{Slot: slot, AlreadyAvailable: true, Emergency: emergency}, nil
	}
	if err := slot.CanRelease(); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	caseID := slot.OccupantCaseID
	occupancy := slot.ApplyRelease(now)
	if err := slot.CheckInvariant(); err != nil {
		return nil, err
	}
	if err := tx.Slots().CompareAndSwap(ctx, slot, models.StateOccupied); err != nil {
		return nil, err
	}

	action, note := audit.EventSlotReleased, notify.EventSlotReleased
	if emergency {
		action, note = audit.EventSlotEmergencyReleased, notify.EventSlotEmergencyReleased
	}
	event := audit.New(action, caseID, actor, now)
	event.SlotID = slot.ID
	event.FromState = models.StateOccupied.String()
	event.ToState = slot.State.String()
	event.Reason = reason
	if err := tx.Audit().Append(ctx, event); err != nil {
		return nil, err
	}
	r.publish(tx, note, slot, caseID, actor, now, map[string]string{
		"occupancy": occupancy.String(),
	})
	return &models.Release{Slot: slot, CaseID: caseID, Occupancy: occupancy, Emergency: emergency}, nil
}

func (r *Registry) BeginMaintenance(ctx context.Context, slotID id.SlotID, actor id.Actor) (*models.Slot, error) {
	return r.changeState(ctx, slotID, actor, (*models.Slot).CanBeginMaintenance, models.StateMaintenance,
		audit.EventSlotMaintenanceBegun, notify.EventSlotMaintenanceBegun)
}

func (r *Registry) EndMaintenance(ctx context.Context, slotID id.SlotID, actor id.Actor) (*models.Slot, error) {
	return r.changeState(ctx, slotID, actor, (*models.Slot).CanEndMaintenance, models.StateAvailable,
		audit.EventSlotMaintenanceEnded, notify.EventSlotMaintenanceEnded)
}

// Decommission takes an empty slot out of service.
func (r *Registry) Decommission(ctx context.Context, slotID id.SlotID, actor id.Actor) (*models.Slot, error) {
	return r.changeState(ctx, slotID, actor, (*models.Slot).CanDecommission, models.StateOutOfService,
		audit.EventSlotDecommissioned, notify.EventSlotDecommissioned)
}

func (r *Registry) Recommission(ctx context.Context, slotID id.SlotID, actor id.Actor) (*models.Slot, error) {
	return r.changeState(ctx, slotID, actor, (*models.Slot).CanRecommission, models.StateAvailable,
		audit.EventSlotRecommissioned, notify.EventSlotRecommissioned)
}

func (r *Registry) changeState(
	ctx context.Context,
	slotID id.SlotID,
	actor id.Actor,
	check func(*models.Slot) error,
	next models.State,
	action audit.AuditEvent,
	note notify.EventType,
) (*models.Slot, error) {
	if err := authorize(actor, "change slot state"); err != nil {
		return nil, err
	}
	var slot *models.Slot
	err := r.tx.RunInTx(ctx, func(tx storage.Tx) error {
		var err error
		slot, err = tx.Slots().FindByID(ctx, slotID)
		if err != nil {
			return err
		}
		if err := check(slot); err != nil {
			return err
		}
		now := requestcontext.Now(ctx)
		prev := slot.State
		slot.ApplyState(next, now)
		if err := tx.Slots().CompareAndSwap(ctx, slot, prev); err != nil {
			return err
		}
		event := audit.New(action, id.CaseID{}, actor, now)
		event.SlotID = slot.ID
		event.FromState = prev.String()
		event.ToState = next.String()
		if err := tx.Audit().Append(ctx, event); err != nil {
			return err
		}
		r.publish(tx, note, slot, id.CaseID{}, actor, now, nil)
		return nil
	})
	if err != nil {
		return nil, storage.DomainError(err, "slot")
	}
	if r.metrics != nil {
		r.metrics.IncrementStateChange(next.String())
	}
	r.logAudit(ctx, string(action), "slot_id", slotID, "state", next, "actor_id", actor.ID)
	return slot, nil
}

func (r *Registry) Get(ctx context.Context, slotID id.SlotID) (*models.Slot, error) {
	var slot *models.Slot
	err := r.tx.View(ctx, func(tx storage.Tx) error {
		var err error
		slot, err = tx.Slots().FindByID(ctx, slotID)
		return err
	})
	if err != nil {
		return nil, storage.DomainError(err, "slot")
	}
	return slot, nil
}

// List returns slots in any of states, or every slot when none are given.
func (r *Registry) List(ctx context.Context, states ...models.State) ([]*models.Slot, error) {
	var slots []*models.Slot
	err := r.tx.View(ctx, func(tx storage.Tx) error {
		var err error
		slots, err = tx.Slots().List(ctx, states...)
		return err
	})
	if err != nil {
		return nil, storage.DomainError(err, "slot")
	}
	return slots, nil
}

// SyncOccupancy resets the occupied gauge from persisted state.
func (r *Registry) SyncOccupancy(ctx context.Context) error {
	if r.metrics == nil {
		return nil
	}
	occupied, err := r.List(ctx, models.StateOccupied)
	if err != nil {
		return err
	}
	r.metrics.SetOccupied(len(occupied))
	return nil
}

// FindByOccupant returns the slot caseID occupies, or NotFound.
func (r *Registry) FindByOccupant(ctx context.Context, caseID id.CaseID) (*models.Slot, error) {
	var slot *models.Slot
	err := r.tx.View(ctx, func(tx storage.Tx) error {
		var err error
		slot, err = tx.Slots().FindByOccupant(ctx, caseID)
		return err
	})
	if err != nil {
		return nil, storage.DomainError(err, "slot")
	}
	return slot, nil
}

// ObserveAssign records the committed outcome of an assignment made through
// AssignInTx by another service.
func (r *Registry) ObserveAssign(err error) {
	if r.metrics == nil {
		return
	}
	switch {
	case err == nil:
		r.metrics.IncrementAssigned()
	case dErrors.HasCode(storage.DomainError(err, "slot"), dErrors.CodeSlotConflict):
		r.metrics.IncrementConflict()
	}
}

// ObserveRelease records a committed release made through ReleaseInTx.
func (r *Registry) ObserveRelease(rel *models.Release) {
	r.observeRelease(rel)
}

func (r *Registry) observeRelease(rel *models.Release) {
	if r.metrics == nil || rel == nil {
		return
	}
	kind := "normal"
	switch {
	case rel.AlreadyAvailable:
		kind = "noop"
	case rel.Emergency:
		kind = "emergency"
	}
	r.metrics.ObserveRelease(kind, rel.Occupancy)
}

func (r *Registry) publish(tx storage.Tx, t notify.EventType, slot *models.Slot, caseID id.CaseID, actor id.Actor, now time.Time, attrs map[string]string) {
	n := notify.NewEvent(t, now, slotAudience...)
	n.SlotID = slot.ID
	n.CaseID = caseID
	n.State = slot.State.String()
	n.ActorID = actor.ID
	n.Attributes = map[string]string{"slot_code": slot.Code}
	for k, v := range attrs {
		n.Attributes[k] = v
	}
	tx.Publish(n)
}

func authorize(actor id.Actor, what string) error {
	if err := actor.Validate(); err != nil {
		return err
	}
	if !actor.HasAnyRole(operatorRoles...) {
		return dErrors.NewWithDetails(dErrors.CodeForbidden, "actor cannot "+what, "role="+actor.Role.String())
	}
	return nil
}

func (r *Registry) logAudit(ctx context.Context, event string, attributes ...any) {
	if r.logger == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	r.logger.InfoContext(ctx, event, args...)
}
