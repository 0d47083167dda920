package models

import (
	"strings"
	"time"

	id "mortuary/pkg/domain"
	dErrors "mortuary/pkg/domain-errors"
)

// SignedAct is the metadata of a handover act produced by the external
// document system. The document itself is stored elsewhere.
type SignedAct struct {
	ID         id.SignedActID `json:"id"`
	CaseID     id.CaseID      `json:"case_id"`
	SignedBy   string         `json:"signed_by"`
	Complete   bool           `json:"complete"`
	SignedAt   time.Time      `json:"signed_at"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// CheckFor verifies the act may authorize releasing caseID.
func (a *SignedAct) CheckFor(caseID id.CaseID) error {
	if a.CaseID != caseID {
		return dErrors.New(dErrors.CodeIncompleteDocumentation, "signed act belongs to a different case")
	}
	if !a.Complete {
		return dErrors.New(dErrors.CodeIncompleteDocumentation, "signed act is not complete")
	}
	if strings.TrimSpace(a.SignedBy) == "" {
		return dErrors.New(dErrors.CodeIncompleteDocumentation, "signed act has no signer")
	}
	return nil
}

// RetrievalRecord is written once when a case is released and never changes.
type RetrievalRecord struct {
	ID          id.RetrievalID `json:"id"`
	CaseID      id.CaseID      `json:"case_id"`
	SlotID      id.SlotID      `json:"slot_id"`
	TransferID  id.TransferID  `json:"transfer_id"`
	SignedActID id.SignedActID `json:"signed_act_id"`
	ReceivedBy  string         `json:"received_by"`
	ReleasedBy  string         `json:"released_by"`
	// Permanence is release time minus intake time.
	Permanence time.Duration `json:"permanence"`
	// Occupancy is time spent in the slot; zero when the slot was already
	// freed by an emergency release.
	Occupancy         time.Duration `json:"occupancy"`
	Threshold         time.Duration `json:"threshold"`
	ExceededThreshold bool          `json:"exceeded_threshold"`
	Timestamp         time.Time     `json:"timestamp"`
}

// Permanence computes how long a case stayed and whether it exceeded limit.
func Permanence(intakeAt, releasedAt time.Time, limit time.Duration) (time.Duration, bool) {
	d := releasedAt.Sub(intakeAt)
	if d < 0 {
		d = 0
	}
	return d, limit > 0 && d > limit
}
