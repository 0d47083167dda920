package httptransport

import (
	"strings"
	"time"

	caseModels "mortuary/internal/caserecord/models"
	clearanceModels "mortuary/internal/clearance/models"
	custodyModels "mortuary/internal/custody/models"
	id "mortuary/pkg/domain"
	dErrors "mortuary/pkg/domain-errors"
)

const maxCodeLength = 64

// IntakeRequest is the body of POST /v1/cases.
type IntakeRequest struct {
	Code          string   `json:"code"`
	Holder        string   `json:"holder"`
	Location      string   `json:"location"`
	NotApplicable []string `json:"not_applicable,omitempty"`

	gates []clearanceModels.GateType
}

func (r *IntakeRequest) Validate() error {
	r.Code = strings.TrimSpace(r.Code)
	r.Holder = strings.TrimSpace(r.Holder)
	r.Location = strings.TrimSpace(r.Location)
	if r.Code == "" {
		return dErrors.New(dErrors.CodeValidation, "code is required")
	}
	if len(r.Code) > maxCodeLength {
		return dErrors.New(dErrors.CodeValidation, "code must be at most 64 characters")
	}
	r.gates = r.gates[:0]
	for _, g := range r.NotApplicable {
		t, err := clearanceModels.ParseGateType(strings.TrimSpace(g))
		if err != nil {
			return err
		}
		r.gates = append(r.gates, t)
	}
	return nil
}

// TriggerBody is the body of POST /v1/cases/{caseID}/triggers/{trigger}.
// Fields a trigger does not use are ignored.
type TriggerBody struct {
	Reason      string `json:"reason,omitempty"`
	SlotID      string `json:"slot_id,omitempty"`
	Holder      string `json:"holder,omitempty"`
	Location    string `json:"location,omitempty"`
	SignedActID string `json:"signed_act_id,omitempty"`

	slotID id.SlotID
	actID  id.SignedActID
}

func (r *TriggerBody) Validate() error {
	r.Reason = strings.TrimSpace(r.Reason)
	r.Holder = strings.TrimSpace(r.Holder)
	r.Location = strings.TrimSpace(r.Location)
	if s := strings.TrimSpace(r.SlotID); s != "" {
		slotID, err := id.ParseSlotID(s)
		if err != nil {
			return err
		}
		r.slotID = slotID
	}
	if s := strings.TrimSpace(r.SignedActID); s != "" {
		actID, err := id.ParseSignedActID(s)
		if err != nil {
			return err
		}
		r.actID = actID
	}
	return nil
}

// ReasonBody carries the mandatory reason of invalidations and emergency releases.
type ReasonBody struct {
	Reason string `json:"reason"`
}

func (r *ReasonBody) Validate() error {
	r.Reason = strings.TrimSpace(r.Reason)
	if r.Reason == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	return nil
}

// RegisterSlotRequest is the body of POST /v1/slots.
type RegisterSlotRequest struct {
	Code string `json:"code"`
}

func (r *RegisterSlotRequest) Validate() error {
	r.Code = strings.TrimSpace(r.Code)
	if r.Code == "" {
		return dErrors.New(dErrors.CodeValidation, "code is required")
	}
	if len(r.Code) > maxCodeLength {
		return dErrors.New(dErrors.CodeValidation, "code must be at most 64 characters")
	}
	return nil
}

// GateUpdateRequest is the body of PUT /v1/cases/{caseID}/clearance/{gate}.
type GateUpdateRequest struct {
	Status        string `json:"status"`
	Resolution    string `json:"resolution,omitempty"`
	Justification string `json:"justification,omitempty"`

	status clearanceModels.Status
}

func (r *GateUpdateRequest) Validate() error {
	status, err := clearanceModels.ParseStatus(strings.TrimSpace(r.Status))
	if err != nil {
		return err
	}
	r.status = status
	r.Resolution = strings.TrimSpace(r.Resolution)
	r.Justification = strings.TrimSpace(r.Justification)
	return nil
}

func (r *GateUpdateRequest) change(actor id.Actor) clearanceModels.Change {
	return clearanceModels.Change{
		Status:        r.status,
		Resolution:    clearanceModels.Resolution(r.Resolution),
		Justification: r.Justification,
		Actor:         actor,
	}
}

// TransferBody is the body of POST /v1/cases/{caseID}/custody.
type TransferBody struct {
	From         string `json:"from"`
	To           string `json:"to"`
	FromLocation string `json:"from_location"`
	ToLocation   string `json:"to_location"`
}

func (r *TransferBody) Validate() error {
	r.From = strings.TrimSpace(r.From)
	r.To = strings.TrimSpace(r.To)
	if r.From == "" || r.To == "" {
		return dErrors.New(dErrors.CodeValidation, "from and to are required")
	}
	if strings.TrimSpace(r.ToLocation) == "" {
		return dErrors.New(dErrors.CodeValidation, "to_location is required")
	}
	return nil
}

func (r *TransferBody) request(actor id.Actor) custodyModels.TransferRequest {
	return custodyModels.TransferRequest{
		OriginHolder:        custodyModels.Holder(r.From),
		DestinationHolder:   custodyModels.Holder(r.To),
		OriginLocation:      strings.TrimSpace(r.FromLocation),
		DestinationLocation: strings.TrimSpace(r.ToLocation),
		Actor:               actor,
	}
}

// SignedActBody is the body of POST /v1/signed-acts, sent by the document system.
type SignedActBody struct {
	ID       string    `json:"id"`
	CaseID   string    `json:"case_id"`
	SignedBy string    `json:"signed_by"`
	Complete bool      `json:"complete"`
	SignedAt time.Time `json:"signed_at"`

	actID  id.SignedActID
	caseID id.CaseID
}

func (r *SignedActBody) Validate() error {
	actID, err := id.ParseSignedActID(strings.TrimSpace(r.ID))
	if err != nil {
		return err
	}
	caseID, err := id.ParseCaseID(strings.TrimSpace(r.CaseID))
	if err != nil {
		return err
	}
	r.actID, r.caseID = actID, caseID
	r.SignedBy = strings.TrimSpace(r.SignedBy)
	return nil
}

// FinalizeBody is the body of POST /v1/cases/{caseID}/retrieval.
type FinalizeBody struct {
	SignedActID string `json:"signed_act_id"`
	ReceivedBy  string `json:"received_by"`
	Destination string `json:"destination"`

	actID id.SignedActID
}

func (r *FinalizeBody) Validate() error {
	if s := strings.TrimSpace(r.SignedActID); s != "" {
		actID, err := id.ParseSignedActID(s)
		if err != nil {
			return err
		}
		r.actID = actID
	}
	r.ReceivedBy = strings.TrimSpace(r.ReceivedBy)
	r.Destination = strings.TrimSpace(r.Destination)
	return nil
}

func parseCaseStates(values []string) ([]caseModels.State, error) {
	var out []caseModels.State
	for _, v := range splitList(values) {
		st, err := caseModels.ParseState(v)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// splitList accepts both ?state=a&state=b and ?state=a,b.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
