package models

import (
	"slices"

	id "mortuary/pkg/domain"
	dErrors "mortuary/pkg/domain-errors"
)

// State is a case's lifecycle state.
type State string

const (
	StateIntake                 State = "intake"
	StateAwaitingPickup         State = "awaiting_pickup"
	StateInTransit              State = "in_transit"
	StateVerificationRejected   State = "verification_rejected"
	StateAwaitingSlotAssignment State = "awaiting_slot_assignment"
	StateOccupied               State = "occupied"
	StateAwaitingRetrieval      State = "awaiting_retrieval"
	StateReleased               State = "released"
)

var allStates = []State{
	StateIntake,
	StateAwaitingPickup,
	StateInTransit,
	StateVerificationRejected,
	StateAwaitingSlotAssignment,
	StateOccupied,
	StateAwaitingRetrieval,
	StateReleased,
}

// States lists every lifecycle state from initial to terminal.
func States() []State { return slices.Clone(allStates) }

func (s State) IsValid() bool    { return slices.Contains(allStates, s) }
func (s State) IsTerminal() bool { return s == StateReleased }
func (s State) String() string   { return string(s) }

// ParseState constructs a State from external input.
func ParseState(s string) (State, error) {
	st := State(s)
	if !st.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid case state")
	}
	return st, nil
}

// Trigger is a business event that moves a case along one edge.
type Trigger string

const (
	TriggerGenerateTag        Trigger = "generate_tag"
	TriggerAcceptCustody      Trigger = "accept_custody"
	TriggerApproveEntry       Trigger = "approve_entry"
	TriggerRejectEntry        Trigger = "reject_entry"
	TriggerRecordCorrection   Trigger = "record_correction"
	TriggerAssignSlot         Trigger = "assign_slot"
	TriggerAuthorizeRetrieval Trigger = "authorize_retrieval"
	TriggerFinalizeRetrieval  Trigger = "finalize_retrieval"
)

func (t Trigger) String() string { return string(t) }

// ParseTrigger constructs a Trigger from external input.
func ParseTrigger(s string) (Trigger, error) {
	t := Trigger(s)
	if _, ok := edges[t]; !ok {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid trigger")
	}
	return t, nil
}

// Edge is one arc of the transition graph and the roles allowed to take it.
type Edge struct {
	From  State
	To    State
	Roles []id.Role
}

var edges = map[Trigger]Edge{
	TriggerGenerateTag:        {From: StateIntake, To: StateAwaitingPickup, Roles: []id.Role{id.RoleWard}},
	TriggerAcceptCustody:      {From: StateAwaitingPickup, To: StateInTransit, Roles: []id.Role{id.RoleTransport}},
	TriggerApproveEntry:       {From: StateInTransit, To: StateAwaitingSlotAssignment, Roles: []id.Role{id.RoleMorgue}},
	TriggerRejectEntry:        {From: StateInTransit, To: StateVerificationRejected, Roles: []id.Role{id.RoleMorgue}},
	TriggerRecordCorrection:   {From: StateVerificationRejected, To: StateInTransit, Roles: []id.Role{id.RoleWard}},
	TriggerAssignSlot:         {From: StateAwaitingSlotAssignment, To: StateOccupied, Roles: []id.Role{id.RoleMorgue}},
	TriggerAuthorizeRetrieval: {From: StateOccupied, To: StateAwaitingRetrieval, Roles: []id.Role{id.RoleRecords}},
	TriggerFinalizeRetrieval:  {From: StateAwaitingRetrieval, To: StateReleased, Roles: []id.Role{id.RoleMorgue}},
}

// Triggers lists every trigger in workflow order.
func Triggers() []Trigger {
	return []Trigger{
		TriggerGenerateTag,
		TriggerAcceptCustody,
		TriggerApproveEntry,
		TriggerRejectEntry,
		TriggerRecordCorrection,
		TriggerAssignSlot,
		TriggerAuthorizeRetrieval,
		TriggerFinalizeRetrieval,
	}
}

// EdgeFor returns the edge a trigger follows.
func EdgeFor(t Trigger) (Edge, bool) {
	e, ok := edges[t]
	return e, ok
}

// Allowed lists the triggers that may fire from s.
func Allowed(s State) []Trigger {
	var out []Trigger
	for _, t := range Triggers() {
		if edges[t].From == s {
			out = append(out, t)
		}
	}
	return out
}
