package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	slotModels "mortuary/internal/slot/models"
	"mortuary/internal/storage"
	id "mortuary/pkg/domain"
	"mortuary/pkg/platform/tx"
)

const slotColumns = `id, code, state, occupant_case_id, assigned_at, released_at, version, created_at, updated_at`

type slotStore struct {
	q tx.Executor
}

func (s slotStore) Create(ctx context.Context, sl *slotModels.Slot) error {
	query := `
		INSERT INTO slots (` + slotColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8)
	`
	_, err := s.q.ExecContext(ctx, query,
		uuid.UUID(sl.ID), sl.Code, sl.State, nullUUID(uuid.UUID(sl.OccupantCaseID)),
		sl.AssignedAt, sl.ReleasedAt, sl.CreatedAt, sl.UpdatedAt,
	)
	if err != nil {
		return translate("create slot", err)
	}
	sl.Version = 1
	return nil
}

func (s slotStore) FindByID(ctx context.Context, slotID id.SlotID) (*slotModels.Slot, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = $1`, uuid.UUID(slotID))
	sl, err := scanSlot(row)
	if err != nil {
		return nil, translate("find slot", err)
	}
	return sl, nil
}

func (s slotStore) FindByOccupant(ctx context.Context, caseID id.CaseID) (*slotModels.Slot, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+slotColumns+` FROM slots WHERE occupant_case_id = $1`, uuid.UUID(caseID))
	sl, err := scanSlot(row)
	if err != nil {
		return nil, translate("find slot by occupant", err)
	}
	return sl, nil
}

func (s slotStore) List(ctx context.Context, states ...slotModels.State) ([]*slotModels.Slot, error) {
	query := `SELECT ` + slotColumns + ` FROM slots`
	var args []any
	if len(states) > 0 {
		names := make([]string, len(states))
		for i, st := range states {
			names[i] = st.String()
		}
		query += ` WHERE state = ANY($1)`
		args = append(args, pq.Array(names))
	}
	query += ` ORDER BY code`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()

	var out []*slotModels.Slot
	for rows.Next() {
		sl, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		out = append(out, sl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate slots: %w", err)
	}
	return out, nil
}

// CompareAndSwap locks the row without waiting, so a competing transaction
// that already holds it makes this call fail with sentinel.ErrConflict
// immediately. The conditional UPDATE then guards against a change committed
// between the caller's read and the lock.
func (s slotStore) CompareAndSwap(ctx context.Context, next *slotModels.Slot, expected slotModels.State) error {
	var (
		state   string
		version int64
	)
	err := s.q.QueryRowContext(ctx,
		`SELECT state, version FROM slots WHERE id = $1 FOR UPDATE NOWAIT`,
		uuid.UUID(next.ID),
	).Scan(&state, &version)
	if err != nil {
		if pqCode(err) == codeLockNotAvailable {
			return fmt.Errorf("lock slot: %w", storage.ErrSlotChanged)
		}
		return translate("lock slot", err)
	}
	if slotModels.State(state) != expected || version != next.Version {
		return fmt.Errorf("slot state: %w", storage.ErrSlotChanged)
	}

	query := `
		UPDATE slots SET
			state = $2,
			occupant_case_id = $3,
			assigned_at = $4,
			released_at = $5,
			updated_at = $6,
			version = version + 1
		WHERE id = $1 AND state = $7 AND version = $8
	`
	res, err := s.q.ExecContext(ctx, query,
		uuid.UUID(next.ID), next.State, nullUUID(uuid.UUID(next.OccupantCaseID)),
		next.AssignedAt, next.ReleasedAt, next.UpdatedAt, expected, next.Version,
	)
	if err != nil {
		if pqCode(err) == codeUniqueViolation {
			return fmt.Errorf("swap slot: %w", storage.ErrOccupantTaken)
		}
		return translate("swap slot", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("swap slot rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("slot state: %w", storage.ErrSlotChanged)
	}
	next.Version++
	return nil
}

func scanSlot(row tx.Scanner) (*slotModels.Slot, error) {
	var (
		sl         slotModels.Slot
		slotID     uuid.UUID
		occupant   uuid.NullUUID
		assignedAt sql.NullTime
		releasedAt sql.NullTime
	)
	if err := row.Scan(&slotID, &sl.Code, &sl.State, &occupant, &assignedAt, &releasedAt,
		&sl.Version, &sl.CreatedAt, &sl.UpdatedAt); err != nil {
		return nil, err
	}
	sl.ID = id.SlotID(slotID)
	if occupant.Valid {
		sl.OccupantCaseID = id.CaseID(occupant.UUID)
	}
	sl.AssignedAt = timePtr(assignedAt)
	sl.ReleasedAt = timePtr(releasedAt)
	return &sl, nil
}
