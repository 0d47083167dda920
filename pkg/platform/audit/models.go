package audit

import (
	"context"
	"time"

	id "mortuary/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal or regulatory significance:
	// custody hand-offs, releases, clearance waivers.
	CategoryCompliance EventCategory = "compliance"

	// CategoryIntegrity covers manual overrides and corrections that bypass the
	// normal workflow. These feed review queues.
	CategoryIntegrity EventCategory = "integrity"

	// CategoryOperations covers routine workflow activity.
	CategoryOperations EventCategory = "operations"
)

// Event is written inside the same transaction as the state change it
// describes, so an audit record exists iff the change committed.
type Event struct {
	ID        id.EventID
	Category  EventCategory
	Timestamp time.Time
	CaseID    id.CaseID
	SlotID    id.SlotID
	Action    string
	ActorID   string
	ActorRole id.Role
	// Reason holds the free-text justification for rejections, waivers,
	// invalidations and emergency releases.
	Reason    string
	FromState string
	ToState   string
	RequestID string
}

type AuditEvent string

const (
	// Case lifecycle events
	EventCaseRegistered     AuditEvent = "case_registered"
	EventCaseTransitioned   AuditEvent = "case_transitioned"
	EventEntryRejected      AuditEvent = "entry_rejected"
	EventCaseInvalidated    AuditEvent = "case_invalidated"
	EventRejectionEscalated AuditEvent = "rejection_escalated"

	// Slot events
	EventSlotRegistered        AuditEvent = "slot_registered"
	EventSlotAssigned          AuditEvent = "slot_assigned"
	EventSlotReleased          AuditEvent = "slot_released"
	EventSlotEmergencyReleased AuditEvent = "slot_emergency_released"
	EventSlotMaintenanceBegun  AuditEvent = "slot_maintenance_begun"
	EventSlotMaintenanceEnded  AuditEvent = "slot_maintenance_ended"
	EventSlotDecommissioned    AuditEvent = "slot_decommissioned"
	EventSlotRecommissioned    AuditEvent = "slot_recommissioned"

	// Clearance events
	EventGateResolved      AuditEvent = "clearance_gate_resolved"
	EventGateWaived        AuditEvent = "clearance_gate_waived"
	EventGateNotApplicable AuditEvent = "clearance_gate_not_applicable"
	EventGateReopened      AuditEvent = "clearance_gate_reopened"

	// Custody and retrieval events
	EventCustodyTransferred AuditEvent = "custody_transferred"
	EventSignedActRecorded  AuditEvent = "signed_act_recorded"
	EventCaseReleased       AuditEvent = "case_released"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventCustodyTransferred: CategoryCompliance,
	EventCaseReleased:       CategoryCompliance,
	EventGateWaived:         CategoryCompliance,
	EventEntryRejected:      CategoryCompliance,
	EventSignedActRecorded:  CategoryCompliance,

	EventSlotEmergencyReleased: CategoryIntegrity,
	EventCaseInvalidated:       CategoryIntegrity,
	EventRejectionEscalated:    CategoryIntegrity,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store appends audit events. Implementations participate in the caller's
// transaction.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByCase(ctx context.Context, caseID id.CaseID) ([]Event, error)
}

// New builds an event with its category derived from the action. A zero
// timestamp is left for the store to stamp.
func New(action AuditEvent, caseID id.CaseID, actor id.Actor, at time.Time) Event {
	return Event{
		ID:        id.NewEventID(),
		Category:  action.Category(),
		Timestamp: at,
		CaseID:    caseID,
		Action:    string(action),
		ActorID:   actor.ID,
		ActorRole: actor.Role,
	}
}
