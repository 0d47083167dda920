package models

import (
	"strings"
	"time"

	id "mortuary/pkg/domain"
	dErrors "mortuary/pkg/domain-errors"
)

// Holder identifies whoever physically holds a case: a ward nurse, an
// orderly, a morgue attendant, a funeral home.
type Holder string

func (h Holder) IsZero() bool   { return strings.TrimSpace(string(h)) == "" }
func (h Holder) String() string { return string(h) }

// TransferRecord is one link in a case's chain of custody.
//
// Invariants:
//   - Records for a case form a sequence numbered 1..n with no gaps
//   - DestinationHolder of record n equals OriginHolder of record n+1
//   - Records are never updated or deleted
type TransferRecord struct {
	ID                  id.TransferID `json:"id"`
	CaseID              id.CaseID     `json:"case_id"`
	Seq                 int64         `json:"seq"`
	OriginHolder        Holder        `json:"origin_holder"`
	DestinationHolder   Holder        `json:"destination_holder"`
	OriginLocation      string        `json:"origin_location"`
	DestinationLocation string        `json:"destination_location"`
	RecordedBy          string        `json:"recorded_by"`
	Timestamp           time.Time     `json:"timestamp"`
}

// TransferRequest describes a hand-off to append to the ledger.
type TransferRequest struct {
	OriginHolder        Holder
	DestinationHolder   Holder
	OriginLocation      string
	DestinationLocation string
	Actor               id.Actor
}

// Validate checks request shape only; continuity is checked against the ledger.
func (r TransferRequest) Validate() error {
	if r.OriginHolder.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "origin holder is required")
	}
	if r.DestinationHolder.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "destination holder is required")
	}
	if strings.TrimSpace(r.DestinationLocation) == "" {
		return dErrors.New(dErrors.CodeValidation, "destination location is required")
	}
	return nil
}

// CheckContinuity verifies origin may follow head. When head is nil the
// origin must match the intake holder, if the case recorded one.
func CheckContinuity(head *TransferRecord, intakeHolder Holder, origin Holder) error {
	expected := intakeHolder
	if head != nil {
		expected = head.DestinationHolder
	}
	if expected.IsZero() {
		return nil
	}
	if expected != origin {
		return dErrors.NewWithDetails(dErrors.CodeChainDiscontinuity,
			"custody chain discontinuity: origin holder does not match current holder",
			"expected="+expected.String(), "origin="+origin.String())
	}
	return nil
}

// NewTransfer builds the record that follows head.
func NewTransfer(caseID id.CaseID, head *TransferRecord, req TransferRequest, now time.Time) *TransferRecord {
	seq := int64(1)
	if head != nil {
		seq = head.Seq + 1
	}
	return &TransferRecord{
		ID:                  id.NewTransferID(),
		CaseID:              caseID,
		Seq:                 seq,
		OriginHolder:        req.OriginHolder,
		DestinationHolder:   req.DestinationHolder,
		OriginLocation:      req.OriginLocation,
		DestinationLocation: req.DestinationLocation,
		RecordedBy:          req.Actor.ID,
		Timestamp:           now,
	}
}

// VerifyChain replays records in order and reports the first broken link.
func VerifyChain(intakeHolder Holder, records []*TransferRecord) error {
	var head *TransferRecord
	for _, rec := range records {
		if head == nil && rec.Seq != 1 || head != nil && rec.Seq != head.Seq+1 {
			return dErrors.NewWithDetails(dErrors.CodeChainDiscontinuity,
				"custody chain has a sequence gap", "record="+rec.ID.String())
		}
		if err := CheckContinuity(head, intakeHolder, rec.OriginHolder); err != nil {
			return err
		}
		head = rec
	}
	return nil
}
