package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	clearanceModels "mortuary/internal/clearance/models"
	id "mortuary/pkg/domain"
	"mortuary/pkg/platform/sentinel"
	"mortuary/pkg/platform/tx"
)

const gateColumns = `case_id, gate, status, resolution, justification, updated_by, updated_role,
	pending_since, version, created_at, updated_at`

type gateStore struct {
	q tx.Executor
}

func (s gateStore) Create(ctx context.Context, g *clearanceModels.Gate) error {
	query := `
		INSERT INTO clearance_gates (` + gateColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, $10)
	`
	_, err := s.q.ExecContext(ctx, query,
		uuid.UUID(g.CaseID), g.Type, g.Status, g.Resolution, g.Justification, g.UpdatedBy, g.UpdatedRole,
		g.PendingSince, g.CreatedAt, g.UpdatedAt,
	)
	if err != nil {
		return translate("create clearance gate", err)
	}
	g.Version = 1
	return nil
}

func (s gateStore) Find(ctx context.Context, caseID id.CaseID, t clearanceModels.GateType) (*clearanceModels.Gate, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+gateColumns+` FROM clearance_gates WHERE case_id = $1 AND gate = $2`,
		uuid.UUID(caseID), t)
	g, err := scanGate(row)
	if err != nil {
		return nil, translate("find clearance gate", err)
	}
	return g, nil
}

func (s gateStore) ListByCase(ctx context.Context, caseID id.CaseID) ([]*clearanceModels.Gate, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+gateColumns+` FROM clearance_gates WHERE case_id = $1 ORDER BY gate`,
		uuid.UUID(caseID))
	if err != nil {
		return nil, fmt.Errorf("list clearance gates: %w", err)
	}
	defer rows.Close()

	var out []*clearanceModels.Gate
	for rows.Next() {
		g, err := scanGate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan clearance gate: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clearance gates: %w", err)
	}
	return out, nil
}

func (s gateStore) Update(ctx context.Context, g *clearanceModels.Gate) error {
	query := `
		UPDATE clearance_gates SET
			status = $3,
			resolution = $4,
			justification = $5,
			updated_by = $6,
			updated_role = $7,
			pending_since = $8,
			updated_at = $9,
			version = version + 1
		WHERE case_id = $1 AND gate = $2 AND version = $10
	`
	res, err := s.q.ExecContext(ctx, query,
		uuid.UUID(g.CaseID), g.Type, g.Status, g.Resolution, g.Justification, g.UpdatedBy, g.UpdatedRole,
		g.PendingSince, g.UpdatedAt, g.Version,
	)
	if err != nil {
		return translate("update clearance gate", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update clearance gate rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("update clearance gate: %w", sentinel.ErrConflict)
	}
	g.Version++
	return nil
}

func scanGate(row tx.Scanner) (*clearanceModels.Gate, error) {
	var (
		g            clearanceModels.Gate
		caseID       uuid.UUID
		pendingSince sql.NullTime
	)
	if err := row.Scan(&caseID, &g.Type, &g.Status, &g.Resolution, &g.Justification, &g.UpdatedBy,
		&g.UpdatedRole, &pendingSince, &g.Version, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, err
	}
	g.CaseID = id.CaseID(caseID)
	g.PendingSince = timePtr(pendingSince)
	return &g, nil
}
