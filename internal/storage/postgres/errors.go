package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"mortuary/pkg/platform/sentinel"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeLockNotAvailable    = "55P03"
	codeSerializationFailed = "40001"
	codeReadOnlyTx          = "25006"
)

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// translate maps driver errors onto sentinels. Unknown errors pass through
// wrapped with op.
func translate(op string, err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", op, sentinel.ErrNotFound)
	case pqCode(err) == codeUniqueViolation:
		return fmt.Errorf("%s: %w", op, sentinel.ErrAlreadyUsed)
	case pqCode(err) == codeForeignKeyViolation:
		return fmt.Errorf("%s: referenced record missing: %w", op, sentinel.ErrNotFound)
	case pqCode(err) == codeLockNotAvailable, pqCode(err) == codeSerializationFailed:
		return fmt.Errorf("%s: %w", op, sentinel.ErrConflict)
	case pqCode(err) == codeReadOnlyTx:
		return fmt.Errorf("%s: write in read-only transaction: %w", op, sentinel.ErrInvalidState)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullUUID(u uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: u, Valid: u != uuid.Nil}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
