package models

import (
	"strings"
	"time"

	id "mortuary/pkg/domain"
	dErrors "mortuary/pkg/domain-errors"
)

// State is a slot's physical availability.
type State string

const (
	StateAvailable    State = "available"
	StateOccupied     State = "occupied"
	StateMaintenance  State = "maintenance"
	StateOutOfService State = "out_of_service"
)

func (s State) IsValid() bool {
	switch s {
	case StateAvailable, StateOccupied, StateMaintenance, StateOutOfService:
		return true
	}
	return false
}

func (s State) String() string { return string(s) }

// ParseState constructs a State from external input.
func ParseState(s string) (State, error) {
	st := State(s)
	if !st.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid slot state")
	}
	return st, nil
}

// Slot is a physical refrigerated storage slot.
//
// Invariants:
//   - OccupantCaseID is non-nil iff State is StateOccupied
//   - A case occupies at most one slot (enforced by the store)
//   - Every state change is a compare-and-swap on the previous state
type Slot struct {
	ID             id.SlotID  `json:"id"`
	Code           string     `json:"code"`
	State          State      `json:"state"`
	OccupantCaseID id.CaseID  `json:"occupant_case_id"`
	AssignedAt     *time.Time `json:"assigned_at,omitempty"`
	ReleasedAt     *time.Time `json:"released_at,omitempty"`
	Version        int64      `json:"version"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// NewSlot registers an empty slot.
func NewSlot(slotID id.SlotID, code string, now time.Time) (*Slot, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "slot code is required")
	}
	if len(code) > 64 {
		return nil, dErrors.New(dErrors.CodeValidation, "slot code must be 64 characters or less")
	}
	return &Slot{
		ID:        slotID,
		Code:      code,
		State:     StateAvailable,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// IsOccupiedBy reports whether caseID currently occupies the slot.
func (s *Slot) IsOccupiedBy(caseID id.CaseID) bool {
	return s.State == StateOccupied && s.OccupantCaseID == caseID
}

// CheckInvariant validates the occupant/state pairing.
func (s *Slot) CheckInvariant() error {
	occupied := s.State == StateOccupied
	if occupied == s.OccupantCaseID.IsNil() {
		return dErrors.New(dErrors.CodeInvariantViolation, "slot occupant does not match slot state")
	}
	return nil
}

func (s *Slot) CanAssign() error {
	if s.State != StateAvailable {
		return dErrors.NewWithDetails(dErrors.CodeSlotConflict, "slot is not available", "state="+s.State.String())
	}
	return nil
}

// ApplyAssign occupies the slot. Call CanAssign first.
func (s *Slot) ApplyAssign(caseID id.CaseID, now time.Time) {
	s.State = StateOccupied
	s.OccupantCaseID = caseID
	s.AssignedAt = &now
	s.ReleasedAt = nil
	s.UpdatedAt = now
}

// CanRelease allows releasing an occupied slot. Releasing an available slot
// is reported separately by the caller as an idempotent no-op.
func (s *Slot) CanRelease() error {
	if s.State != StateOccupied {
		return dErrors.NewWithDetails(dErrors.CodeInvalidTransition, "slot is not occupied", "state="+s.State.String())
	}
	return nil
}

// ApplyRelease empties the slot and returns how long the occupant stayed.
func (s *Slot) ApplyRelease(now time.Time) time.Duration {
	var occupancy time.Duration
	if s.AssignedAt != nil {
		occupancy = now.Sub(*s.AssignedAt)
	}
	s.State = StateAvailable
	s.OccupantCaseID = id.CaseID{}
	s.ReleasedAt = &now
	s.UpdatedAt = now
	return occupancy
}

func (s *Slot) CanBeginMaintenance() error {
	if s.State != StateAvailable {
		return dErrors.NewWithDetails(dErrors.CodeInvalidTransition, "only an available slot can enter maintenance", "state="+s.State.String())
	}
	return nil
}

func (s *Slot) CanEndMaintenance() error {
	if s.State != StateMaintenance {
		return dErrors.NewWithDetails(dErrors.CodeInvalidTransition, "slot is not in maintenance", "state="+s.State.String())
	}
	return nil
}

func (s *Slot) CanDecommission() error {
	if s.State == StateOccupied || s.State == StateOutOfService {
		return dErrors.NewWithDetails(dErrors.CodeInvalidTransition, "slot cannot be taken out of service", "state="+s.State.String())
	}
	return nil
}

func (s *Slot) CanRecommission() error {
	if s.State != StateOutOfService {
		return dErrors.NewWithDetails(dErrors.CodeInvalidTransition, "slot is not out of service", "state="+s.State.String())
	}
	return nil
}

// ApplyState moves to an unoccupied state.
func (s *Slot) ApplyState(next State, now time.Time) {
	s.State = next
	s.UpdatedAt = now
}

// Release describes the outcome of releasing a slot.
type Release struct {
	Slot *Slot `json:"slot"`
	// CaseID is the occupant removed by this release; nil for a no-op.
	CaseID    id.CaseID     `json:"case_id"`
	Occupancy time.Duration `json:"occupancy"`
	// AlreadyAvailable is set when the slot was already empty.
	AlreadyAvailable bool `json:"already_available"`
	Emergency        bool `json:"emergency"`
}
