package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	retrievalModels "mortuary/internal/retrieval/models"
	id "mortuary/pkg/domain"
	"mortuary/pkg/platform/sentinel"
	"mortuary/pkg/platform/tx"
)

const retrievalColumns = `id, case_id, slot_id, transfer_id, signed_act_id, received_by, released_by,
	permanence_ms, occupancy_ms, threshold_ms, exceeded_threshold, recorded_at`

type retrievalStore struct {
	q tx.Executor
}

func (s retrievalStore) Create(ctx context.Context, r *retrievalModels.RetrievalRecord) error {
	query := `
		INSERT INTO retrievals (` + retrievalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := s.q.ExecContext(ctx, query,
		uuid.UUID(r.ID), uuid.UUID(r.CaseID), nullUUID(uuid.UUID(r.SlotID)), uuid.UUID(r.TransferID),
		uuid.UUID(r.SignedActID), r.ReceivedBy, r.ReleasedBy,
		r.Permanence.Milliseconds(), r.Occupancy.Milliseconds(), r.Threshold.Milliseconds(),
		r.ExceededThreshold, r.Timestamp,
	)
	if err != nil {
		return translate("create retrieval", err)
	}
	return nil
}

func (s retrievalStore) FindByCase(ctx context.Context, caseID id.CaseID) (*retrievalModels.RetrievalRecord, error) {
	var (
		r                                retrievalModels.RetrievalRecord
		recID, rCaseID, transfer, act    uuid.UUID
		slot                             uuid.NullUUID
		permanence, occupancy, threshold int64
	)
	err := s.q.QueryRowContext(ctx,
		`SELECT `+retrievalColumns+` FROM retrievals WHERE case_id = $1`, uuid.UUID(caseID),
	).Scan(&recID, &rCaseID, &slot, &transfer, &act, &r.ReceivedBy, &r.ReleasedBy,
		&permanence, &occupancy, &threshold, &r.ExceededThreshold, &r.Timestamp)
	if err != nil {
		return nil, translate("find retrieval", err)
	}
	r.ID = id.RetrievalID(recID)
	r.CaseID = id.CaseID(rCaseID)
	if slot.Valid {
		r.SlotID = id.SlotID(slot.UUID)
	}
	r.TransferID = id.TransferID(transfer)
	r.SignedActID = id.SignedActID(act)
	r.Permanence = time.Duration(permanence) * time.Millisecond
	r.Occupancy = time.Duration(occupancy) * time.Millisecond
	r.Threshold = time.Duration(threshold) * time.Millisecond
	return &r, nil
}

type actStore struct {
	q tx.Executor
}

// Save upserts the act; the WHERE clause refuses to move it to another case.
func (s actStore) Save(ctx context.Context, a *retrievalModels.SignedAct) error {
	query := `
		INSERT INTO signed_acts (id, case_id, signed_by, complete, signed_at, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			signed_by = EXCLUDED.signed_by,
			complete = EXCLUDED.complete,
			signed_at = EXCLUDED.signed_at,
			recorded_at = EXCLUDED.recorded_at
		WHERE signed_acts.case_id = EXCLUDED.case_id
	`
	res, err := s.q.ExecContext(ctx, query,
		uuid.UUID(a.ID), uuid.UUID(a.CaseID), a.SignedBy, a.Complete, a.SignedAt, a.RecordedAt)
	if err != nil {
		return translate("save signed act", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save signed act rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("signed act case: %w", sentinel.ErrConflict)
	}
	return nil
}

func (s actStore) FindByID(ctx context.Context, actID id.SignedActID) (*retrievalModels.SignedAct, error) {
	var (
		a             retrievalModels.SignedAct
		rawID, caseID uuid.UUID
	)
	err := s.q.QueryRowContext(ctx,
		`SELECT id, case_id, signed_by, complete, signed_at, recorded_at FROM signed_acts WHERE id = $1`,
		uuid.UUID(actID),
	).Scan(&rawID, &caseID, &a.SignedBy, &a.Complete, &a.SignedAt, &a.RecordedAt)
	if err != nil {
		return nil, translate("find signed act", err)
	}
	a.ID = id.SignedActID(rawID)
	a.CaseID = id.CaseID(caseID)
	return &a, nil
}
