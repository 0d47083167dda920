package models

import (
	"strconv"
	"strings"
	"time"

	custodyModels "mortuary/internal/custody/models"
	id "mortuary/pkg/domain"
	dErrors "mortuary/pkg/domain-errors"
)

// CaseRecord is the aggregate root for a deceased patient's administrative file.
//
// Invariants:
//   - Code is unique and immutable
//   - State changes only along an Edge, through a Trigger
//   - Released is terminal
//   - A voided case accepts no further triggers
//   - Clearance is never cached here; it is evaluated from live gates
type CaseRecord struct {
	ID             id.CaseID            `json:"id"`
	Code           string               `json:"code"`
	State          State                `json:"state"`
	IntakeHolder   custodyModels.Holder `json:"intake_holder,omitempty"`
	IntakeLocation string               `json:"intake_location,omitempty"`
	IntakeAt       time.Time            `json:"intake_at"`
	RegisteredBy   string               `json:"registered_by"`

	RejectionCount      int    `json:"rejection_count"`
	LastRejectionReason string `json:"last_rejection_reason,omitempty"`

	ReleasedAt *time.Time `json:"released_at,omitempty"`
	VoidedAt   *time.Time `json:"voided_at,omitempty"`
	VoidReason string     `json:"void_reason,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewCaseRecord registers a case at intake.
func NewCaseRecord(caseID id.CaseID, code string, holder custodyModels.Holder, location string, actor id.Actor, now time.Time) (*CaseRecord, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "case code is required")
	}
	if len(code) > 64 {
		return nil, dErrors.New(dErrors.CodeValidation, "case code must be 64 characters or less")
	}
	return &CaseRecord{
		ID:             caseID,
		Code:           code,
		State:          StateIntake,
		IntakeHolder:   holder,
		IntakeLocation: strings.TrimSpace(location),
		IntakeAt:       now,
		RegisteredBy:   actor.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (c *CaseRecord) IsVoided() bool { return c.VoidedAt != nil }

// CanFire checks that t may fire against the persisted state and that actor
// holds one of the edge's roles. The state check comes first so a stale
// caller sees InvalidTransition regardless of role.
func (c *CaseRecord) CanFire(t Trigger, actor id.Actor) error {
	edge, ok := edges[t]
	if !ok {
		return dErrors.New(dErrors.CodeInvalidInput, "unknown trigger")
	}
	if c.IsVoided() {
		return dErrors.NewWithDetails(dErrors.CodeInvalidTransition, "case has been invalidated", "trigger="+t.String())
	}
	if c.State != edge.From {
		return dErrors.NewWithDetails(dErrors.CodeInvalidTransition, "trigger is not valid from the current state",
			"trigger="+t.String(), "state="+c.State.String())
	}
	if !actor.HasAnyRole(edge.Roles...) {
		return dErrors.NewWithDetails(dErrors.CodeForbidden, "actor role cannot fire this trigger",
			"trigger="+t.String(), "role="+actor.Role.String())
	}
	return nil
}

// ApplyTrigger moves the case along t's edge. Call CanFire first.
func (c *CaseRecord) ApplyTrigger(t Trigger, now time.Time) {
	edge := edges[t]
	c.State = edge.To
	if edge.To == StateReleased {
		c.ReleasedAt = &now
	}
	c.UpdatedAt = now
}

// ApplyRejection records a rejected entry. Call alongside ApplyTrigger.
func (c *CaseRecord) ApplyRejection(reason string) {
	c.RejectionCount++
	c.LastRejectionReason = strings.TrimSpace(reason)
}

// CanCorrect applies the optional cap on the rejection cycle. Zero max means
// unbounded; supervisors may always correct.
func (c *CaseRecord) CanCorrect(maxRejections int, actor id.Actor) error {
	if maxRejections <= 0 || actor.Role == id.RoleSupervisor {
		return nil
	}
	if c.RejectionCount >= maxRejections {
		return dErrors.NewWithDetails(dErrors.CodeInvalidTransition, "rejection limit reached, supervisor review required",
			"rejections="+strconv.Itoa(c.RejectionCount))
	}
	return nil
}

// CanInvalidate allows voiding only before custody leaves the ward.
func (c *CaseRecord) CanInvalidate(reason string) error {
	if c.IsVoided() {
		return dErrors.New(dErrors.CodeInvalidTransition, "case is already invalidated")
	}
	if c.State != StateIntake && c.State != StateAwaitingPickup {
		return dErrors.NewWithDetails(dErrors.CodeInvalidTransition, "case can only be invalidated before pickup",
			"state="+c.State.String())
	}
	if strings.TrimSpace(reason) == "" {
		return dErrors.New(dErrors.CodeValidation, "invalidation reason is required")
	}
	return nil
}

// ApplyInvalidation voids the case. Call CanInvalidate first.
func (c *CaseRecord) ApplyInvalidation(reason string, now time.Time) {
	c.VoidedAt = &now
	c.VoidReason = strings.TrimSpace(reason)
	c.UpdatedAt = now
}
