package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	caseModels "mortuary/internal/caserecord/models"
	id "mortuary/pkg/domain"
	"mortuary/pkg/platform/sentinel"
	"mortuary/pkg/platform/tx"
)

const caseColumns = `id, code, state, intake_holder, intake_location, intake_at, registered_by,
	rejection_count, last_rejection_reason, released_at, voided_at, void_reason, version, created_at, updated_at`

// caseStore is pure I/O; lifecycle rules live in the caserecord service.
type caseStore struct {
	q tx.Executor
}

func (s caseStore) Create(ctx context.Context, c *caseModels.CaseRecord) error {
	query := `
		INSERT INTO cases (` + caseColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1, $13, $14)
	`
	_, err := s.q.ExecContext(ctx, query,
		uuid.UUID(c.ID), c.Code, c.State, c.IntakeHolder, c.IntakeLocation, c.IntakeAt, c.RegisteredBy,
		c.RejectionCount, c.LastRejectionReason, c.ReleasedAt, c.VoidedAt, c.VoidReason,
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return translate("create case", err)
	}
	c.Version = 1
	return nil
}

func (s caseStore) FindByID(ctx context.Context, caseID id.CaseID) (*caseModels.CaseRecord, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = $1`, uuid.UUID(caseID))
	c, err := scanCase(row)
	if err != nil {
		return nil, translate("find case", err)
	}
	return c, nil
}

func (s caseStore) FindByCode(ctx context.Context, code string) (*caseModels.CaseRecord, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE code = $1`, code)
	c, err := scanCase(row)
	if err != nil {
		return nil, translate("find case by code", err)
	}
	return c, nil
}

func (s caseStore) Update(ctx context.Context, c *caseModels.CaseRecord) error {
	query := `
		UPDATE cases SET
			state = $2,
			rejection_count = $3,
			last_rejection_reason = $4,
			released_at = $5,
			voided_at = $6,
			void_reason = $7,
			updated_at = $8,
			version = version + 1
		WHERE id = $1 AND version = $9
	`
	res, err := s.q.ExecContext(ctx, query,
		uuid.UUID(c.ID), c.State, c.RejectionCount, c.LastRejectionReason,
		c.ReleasedAt, c.VoidedAt, c.VoidReason, c.UpdatedAt, c.Version,
	)
	if err != nil {
		return translate("update case", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update case rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("update case: %w", sentinel.ErrConflict)
	}
	c.Version++
	return nil
}

func (s caseStore) ListByState(ctx context.Context, states ...caseModels.State) ([]*caseModels.CaseRecord, error) {
	query := `SELECT ` + caseColumns + ` FROM cases`
	var args []any
	if len(states) > 0 {
		names := make([]string, len(states))
		for i, st := range states {
			names[i] = st.String()
		}
		query += ` WHERE state = ANY($1)`
		args = append(args, pq.Array(names))
	}
	query += ` ORDER BY created_at, code`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	var out []*caseModels.CaseRecord
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cases: %w", err)
	}
	return out, nil
}

func scanCase(row tx.Scanner) (*caseModels.CaseRecord, error) {
	var (
		c          caseModels.CaseRecord
		caseID     uuid.UUID
		releasedAt sql.NullTime
		voidedAt   sql.NullTime
	)
	if err := row.Scan(
		&caseID, &c.Code, &c.State, &c.IntakeHolder, &c.IntakeLocation, &c.IntakeAt, &c.RegisteredBy,
		&c.RejectionCount, &c.LastRejectionReason, &releasedAt, &voidedAt, &c.VoidReason,
		&c.Version, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.ID = id.CaseID(caseID)
	c.ReleasedAt = timePtr(releasedAt)
	c.VoidedAt = timePtr(voidedAt)
	return &c, nil
}
