package models

import (
	"slices"
	"strings"
	"time"

	id "mortuary/pkg/domain"
	dErrors "mortuary/pkg/domain-errors"
)

// GateType names an independent precondition that must clear before release.
type GateType string

const (
	GateEconomicDebt         GateType = "economic_debt"
	GateBloodDebt            GateType = "blood_debt"
	GateDocumentVerification GateType = "document_verification"
)

var gateOwners = map[GateType]id.Role{
	GateEconomicDebt:         id.RoleBilling,
	GateBloodDebt:            id.RoleBloodBank,
	GateDocumentVerification: id.RoleRecords,
}

// GateTypes lists every gate in evaluation order.
func GateTypes() []GateType {
	return []GateType{GateEconomicDebt, GateBloodDebt, GateDocumentVerification}
}

func (t GateType) IsValid() bool  { _, ok := gateOwners[t]; return ok }
func (t GateType) String() string { return string(t) }

// Owner is the role allowed to resolve the gate.
func (t GateType) Owner() id.Role { return gateOwners[t] }

// ParseGateType constructs a GateType from external input.
func ParseGateType(s string) (GateType, error) {
	t := GateType(s)
	if !t.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid clearance gate")
	}
	return t, nil
}

// Status is a gate's clearance status.
type Status string

const (
	StatusNotApplicable Status = "not_applicable"
	StatusPending       Status = "pending"
	StatusResolved      Status = "resolved"
	StatusWaived        Status = "waived"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusNotApplicable, StatusPending, StatusResolved, StatusWaived:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

// IsFinal reports whether no further change is allowed.
func (s Status) IsFinal() bool { return s == StatusResolved || s == StatusWaived }

// ParseStatus constructs a Status from external input.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid clearance status")
	}
	return st, nil
}

// Resolution records how a resolved gate was cleared.
type Resolution string

const (
	ResolutionPayment      Resolution = "payment"
	ResolutionCompromise   Resolution = "compromise"
	ResolutionVerification Resolution = "verification"
)

var gateResolutions = map[GateType][]Resolution{
	GateEconomicDebt:         {ResolutionPayment, ResolutionCompromise},
	GateBloodDebt:            {ResolutionPayment, ResolutionCompromise},
	GateDocumentVerification: {ResolutionVerification},
}

// MinJustificationLength applies to waivers.
const MinJustificationLength = 10

// Gate is one clearance precondition on one case.
type Gate struct {
	CaseID        id.CaseID  `json:"case_id"`
	Type          GateType   `json:"type"`
	Status        Status     `json:"status"`
	Resolution    Resolution `json:"resolution,omitempty"`
	Justification string     `json:"justification,omitempty"`
	UpdatedBy     string     `json:"updated_by,omitempty"`
	UpdatedRole   id.Role    `json:"updated_role,omitempty"`
	// PendingSince is when the gate last entered StatusPending; alerting
	// measures clearance SLA from it.
	PendingSince *time.Time `json:"pending_since,omitempty"`
	Version      int64      `json:"version"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NewGate opens a gate at intake. Gates flagged not applicable start cleared.
func NewGate(caseID id.CaseID, t GateType, notApplicable bool, now time.Time) *Gate {
	g := &Gate{CaseID: caseID, Type: t, Status: StatusPending, CreatedAt: now, UpdatedAt: now}
	if notApplicable {
		g.Status = StatusNotApplicable
	} else {
		g.PendingSince = &now
	}
	return g
}

// IsCleared reports whether the gate no longer blocks release.
func (g *Gate) IsCleared() bool { return g.Status != StatusPending }

// Change is a requested gate update.
type Change struct {
	Status        Status
	Resolution    Resolution
	Justification string
	Actor         id.Actor
}

// CanApply validates a change against the gate's current status and the
// actor's authority.
func (g *Gate) CanApply(c Change) error {
	if !c.Actor.HasAnyRole(g.Type.Owner()) {
		return dErrors.New(dErrors.CodeForbidden, "actor cannot update the "+g.Type.String()+" gate")
	}
	if g.Status.IsFinal() {
		return dErrors.NewWithDetails(dErrors.CodeInvalidTransition, "clearance gate is already final",
			"gate="+g.Type.String(), "status="+g.Status.String())
	}
	if g.Status == c.Status {
		return dErrors.NewWithDetails(dErrors.CodeInvalidTransition, "clearance gate already has this status",
			"gate="+g.Type.String(), "status="+g.Status.String())
	}
	switch c.Status {
	case StatusResolved:
		if g.Status != StatusPending {
			return dErrors.New(dErrors.CodeInvalidTransition, "only a pending gate can be resolved")
		}
		if !slices.Contains(gateResolutions[g.Type], c.Resolution) {
			return dErrors.NewWithDetails(dErrors.CodeValidation, "resolution method is not valid for this gate",
				"gate="+g.Type.String(), "resolution="+string(c.Resolution))
		}
	case StatusWaived:
		if g.Status != StatusPending {
			return dErrors.New(dErrors.CodeInvalidTransition, "only a pending gate can be waived")
		}
		if len(strings.TrimSpace(c.Justification)) < MinJustificationLength {
			return dErrors.New(dErrors.CodeValidation, "waiver requires a justification")
		}
	case StatusNotApplicable, StatusPending:
	default:
		return dErrors.New(dErrors.CodeInvalidInput, "invalid clearance status")
	}
	return nil
}

// ApplyChange records the change. Call CanApply first.
func (g *Gate) ApplyChange(c Change, now time.Time) {
	g.Status = c.Status
	g.Resolution = ""
	if c.Status == StatusResolved {
		g.Resolution = c.Resolution
	}
	g.Justification = strings.TrimSpace(c.Justification)
	g.UpdatedBy = c.Actor.ID
	g.UpdatedRole = c.Actor.Role
	if c.Status == StatusPending {
		g.PendingSince = &now
	}
	g.UpdatedAt = now
}

// Decision is the outcome of evaluating every gate on a case.
type Decision struct {
	Cleared  bool       `json:"cleared"`
	Blocking []GateType `json:"blocking,omitempty"`
}

// Evaluate reports which gates still block release. A gate missing from
// gates counts as blocking.
func Evaluate(gates []*Gate) Decision {
	byType := make(map[GateType]*Gate, len(gates))
	for _, g := range gates {
		byType[g.Type] = g
	}
	var blocking []GateType
	for _, t := range GateTypes() {
		g, ok := byType[t]
		if !ok || !g.IsCleared() {
			blocking = append(blocking, t)
		}
	}
	return Decision{Cleared: len(blocking) == 0, Blocking: blocking}
}

// Err converts a blocked decision into a ClearanceBlocked error.
func (d Decision) Err() error {
	if d.Cleared {
		return nil
	}
	details := make([]string, len(d.Blocking))
	for i, t := range d.Blocking {
		details[i] = t.String()
	}
	return dErrors.NewWithDetails(dErrors.CodeClearanceBlocked, "clearance gates are still pending", details...)
}
