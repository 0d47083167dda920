// Package notify hands committed state changes to an external push dispatcher.
//
// Publishing is fire-and-forget: Publish never blocks the caller and delivery
// is not guaranteed. Events are only published after the transaction that
// produced them commits.
package notify

import (
	"context"
	"time"

	id "mortuary/pkg/domain"
)

// EventType names an outbound notification.
type EventType string

const (
	EventCaseRegistered         EventType = "case.registered"
	EventCaseTransitioned       EventType = "case.transitioned"
	EventCaseInvalidated        EventType = "case.invalidated"
	EventCaseReleased           EventType = "case.released"
	EventCaseRejectionEscalated EventType = "case.rejection_escalated"
	EventSlotAssigned           EventType = "slot.assigned"
	EventSlotReleased           EventType = "slot.released"
	EventSlotEmergencyReleased  EventType = "slot.emergency_released"
	EventSlotMaintenanceBegun   EventType = "slot.maintenance_begun"
	EventSlotMaintenanceEnded   EventType = "slot.maintenance_ended"
	EventSlotDecommissioned     EventType = "slot.decommissioned"
	EventSlotRecommissioned     EventType = "slot.recommissioned"
	EventClearanceUpdated       EventType = "clearance.updated"
	EventCustodyTransferred     EventType = "custody.transferred"
	EventAlertPermanence        EventType = "alert.permanence_exceeded"
	EventAlertClearanceSLA      EventType = "alert.clearance_sla"
	EventAlertRejectedEntry     EventType = "alert.rejected_entry"
)

// Event is the payload handed to the dispatcher. Audience names the role
// groups that should receive it.
type Event struct {
	ID         id.EventID        `json:"id"`
	Type       EventType         `json:"type"`
	CaseID     id.CaseID         `json:"case_id,omitempty"`
	CaseCode   string            `json:"case_code,omitempty"`
	SlotID     id.SlotID         `json:"slot_id,omitempty"`
	State      string            `json:"state,omitempty"`
	Audience   []id.Role         `json:"audience"`
	ActorID    string            `json:"actor_id,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// NewEvent builds an event with a fresh id.
func NewEvent(t EventType, at time.Time, audience ...id.Role) Event {
	return Event{ID: id.NewEventID(), Type: t, OccurredAt: at, Audience: audience}
}

// Publisher accepts events after commit. Implementations must not block.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) {}
