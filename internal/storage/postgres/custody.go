package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	custodyModels "mortuary/internal/custody/models"
	"mortuary/internal/storage"
	id "mortuary/pkg/domain"
	"mortuary/pkg/platform/tx"
)

const transferColumns = `id, case_id, seq, origin_holder, destination_holder, origin_location,
	destination_location, recorded_by, recorded_at`

type custodyStore struct {
	q tx.Executor
}

// Append inserts only when rec.Seq directly follows the current head. The
// (case_id, seq) unique constraint backs this for concurrent appenders.
func (s custodyStore) Append(ctx context.Context, rec *custodyModels.TransferRecord) error {
	query := `
		INSERT INTO custody_transfers (` + transferColumns + `)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9
		WHERE (SELECT COALESCE(MAX(seq), 0) FROM custody_transfers WHERE case_id = $2) = $3 - 1
	`
	res, err := s.q.ExecContext(ctx, query,
		uuid.UUID(rec.ID), uuid.UUID(rec.CaseID), rec.Seq, rec.OriginHolder, rec.DestinationHolder,
		rec.OriginLocation, rec.DestinationLocation, rec.RecordedBy, rec.Timestamp,
	)
	if err != nil {
		if pqCode(err) == codeUniqueViolation {
			return fmt.Errorf("append custody transfer: %w", storage.ErrCustodyHeadMoved)
		}
		return translate("append custody transfer", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("append custody transfer rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("append custody transfer: %w", storage.ErrCustodyHeadMoved)
	}
	return nil
}

func (s custodyStore) Head(ctx context.Context, caseID id.CaseID) (*custodyModels.TransferRecord, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+transferColumns+` FROM custody_transfers WHERE case_id = $1 ORDER BY seq DESC LIMIT 1`,
		uuid.UUID(caseID))
	rec, err := scanTransfer(row)
	if err != nil {
		return nil, translate("custody head", err)
	}
	return rec, nil
}

func (s custodyStore) ListByCase(ctx context.Context, caseID id.CaseID) ([]*custodyModels.TransferRecord, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+transferColumns+` FROM custody_transfers WHERE case_id = $1 ORDER BY seq`,
		uuid.UUID(caseID))
	if err != nil {
		return nil, fmt.Errorf("list custody transfers: %w", err)
	}
	defer rows.Close()

	var out []*custodyModels.TransferRecord
	for rows.Next() {
		rec, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan custody transfer: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate custody transfers: %w", err)
	}
	return out, nil
}

func scanTransfer(row tx.Scanner) (*custodyModels.TransferRecord, error) {
	var (
		rec        custodyModels.TransferRecord
		transferID uuid.UUID
		caseID     uuid.UUID
	)
	if err := row.Scan(&transferID, &caseID, &rec.Seq, &rec.OriginHolder, &rec.DestinationHolder,
		&rec.OriginLocation, &rec.DestinationLocation, &rec.RecordedBy, &rec.Timestamp); err != nil {
		return nil, err
	}
	rec.ID = id.TransferID(transferID)
	rec.CaseID = id.CaseID(caseID)
	return &rec, nil
}
