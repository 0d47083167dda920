// Package domain holds typed identifiers shared across bounded contexts.
//
// Each identifier is a distinct named type over uuid.UUID so the compiler
// rejects passing a SlotID where a CaseID is expected. Construct identifiers
// from external input with the Parse* functions; they reject empty, malformed,
// and nil UUIDs.
package domain

import (
	"github.com/google/uuid"

	dErrors "mortuary/pkg/domain-errors"
)

type (
	// CaseID identifies a case record.
	CaseID uuid.UUID
	// SlotID identifies a physical storage slot.
	SlotID uuid.UUID
	// TransferID identifies a custody transfer record.
	TransferID uuid.UUID
	// RetrievalID identifies a retrieval record.
	RetrievalID uuid.UUID
	// SignedActID identifies a signed handover act produced by the document system.
	SignedActID uuid.UUID
	// EventID identifies an outbound notification or audit event.
	EventID uuid.UUID
)

func NewCaseID() CaseID           { return CaseID(uuid.New()) }
func NewSlotID() SlotID           { return SlotID(uuid.New()) }
func NewTransferID() TransferID   { return TransferID(uuid.New()) }
func NewRetrievalID() RetrievalID { return RetrievalID(uuid.New()) }
func NewSignedActID() SignedActID { return SignedActID(uuid.New()) }
func NewEventID() EventID         { return EventID(uuid.New()) }

func (id CaseID) String() string      { return uuid.UUID(id).String() }
func (id SlotID) String() string      { return uuid.UUID(id).String() }
func (id TransferID) String() string  { return uuid.UUID(id).String() }
func (id RetrievalID) String() string { return uuid.UUID(id).String() }
func (id SignedActID) String() string { return uuid.UUID(id).String() }
func (id EventID) String() string     { return uuid.UUID(id).String() }

func (id CaseID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id SlotID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id TransferID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id RetrievalID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id SignedActID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id EventID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }

// ParseCaseID parses a case identifier from external input.
func ParseCaseID(s string) (CaseID, error) {
	u, err := parseUUID(s, "case id")
	return CaseID(u), err
}

// ParseSlotID parses a slot identifier from external input.
func ParseSlotID(s string) (SlotID, error) {
	u, err := parseUUID(s, "slot id")
	return SlotID(u), err
}

// ParseSignedActID parses a signed act identifier from external input.
func ParseSignedActID(s string) (SignedActID, error) {
	u, err := parseUUID(s, "signed act id")
	return SignedActID(u), err
}

func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be nil")
	}
	return u, nil
}

// Text marshalling keeps identifiers readable in JSON payloads.

func (id CaseID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id *CaseID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id SlotID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id *SlotID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id TransferID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id *TransferID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id RetrievalID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id *RetrievalID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id SignedActID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id *SignedActID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id EventID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id *EventID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}
