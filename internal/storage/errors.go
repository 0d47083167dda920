package storage

import (
	"errors"
	"fmt"

	dErrors "mortuary/pkg/domain-errors"
	"mortuary/pkg/platform/sentinel"
)

// Engine errors that services need to tell apart from a generic conflict.
var (
	// ErrSlotChanged reports a lost slot compare-and-swap.
	ErrSlotChanged = fmt.Errorf("slot changed: %w", sentinel.ErrConflict)
	// ErrOccupantTaken reports a case that already occupies another slot.
	ErrOccupantTaken = fmt.Errorf("case already occupies a slot: %w", sentinel.ErrAlreadyUsed)
	// ErrCustodyHeadMoved reports an append that no longer follows the ledger head.
	ErrCustodyHeadMoved = fmt.Errorf("custody head moved: %w", sentinel.ErrConflict)
)

// DomainError maps an engine error onto a coded domain error. Errors that
// already carry a code pass through unchanged.
func DomainError(err error, what string) error {
	if err == nil {
		return nil
	}
	var coded *dErrors.Error
	if errors.As(err, &coded) {
		return err
	}
	switch {
	case errors.Is(err, ErrSlotChanged):
		return dErrors.Wrap(err, dErrors.CodeSlotConflict, "slot was taken by a concurrent request")
	case errors.Is(err, ErrOccupantTaken):
		return dErrors.Wrap(err, dErrors.CodeSlotConflict, "case already occupies a slot")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, what+" not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, what+" was modified concurrently")
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.Wrap(err, dErrors.CodeConflict, what+" already exists")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "storage failure")
}
