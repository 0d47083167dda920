package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	id "mortuary/pkg/domain"
	"mortuary/pkg/platform/audit"
	"mortuary/pkg/platform/tx"
	"mortuary/pkg/requestcontext"
)

// auditStore writes audit events in the caller's transaction so an event
// exists iff the change it describes committed.
type auditStore struct {
	q tx.Executor
}

func (s auditStore) Append(ctx context.Context, event audit.Event) error {
	if event.ID.IsNil() {
		event.ID = id.NewEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	// Always derive category from action
	category := audit.AuditEvent(event.Action).Category()

	query := `
		INSERT INTO audit_events (id, category, case_id, slot_id, action, actor_id, actor_role,
			reason, from_state, to_state, request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := s.q.ExecContext(ctx, query,
		uuid.UUID(event.ID), category, nullUUID(uuid.UUID(event.CaseID)), nullUUID(uuid.UUID(event.SlotID)),
		event.Action, event.ActorID, event.ActorRole, event.Reason, event.FromState, event.ToState,
		event.RequestID, event.Timestamp,
	)
	if err != nil {
		return translate("insert audit event", err)
	}
	return nil
}

func (s auditStore) ListByCase(ctx context.Context, caseID id.CaseID) ([]audit.Event, error) {
	query := `
		SELECT id, category, case_id, slot_id, action, actor_id, actor_role, reason,
			from_state, to_state, request_id, created_at
		FROM audit_events
		WHERE case_id = $1
		ORDER BY created_at, id
	`
	rows, err := s.q.QueryContext(ctx, query, uuid.UUID(caseID))
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		var (
			e            audit.Event
			eventID      uuid.UUID
			eCase, eSlot uuid.NullUUID
		)
		if err := rows.Scan(&eventID, &e.Category, &eCase, &eSlot, &e.Action, &e.ActorID, &e.ActorRole,
			&e.Reason, &e.FromState, &e.ToState, &e.RequestID, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.ID = id.EventID(eventID)
		if eCase.Valid {
			e.CaseID = id.CaseID(eCase.UUID)
		}
		if eSlot.Valid {
			e.SlotID = id.SlotID(eSlot.UUID)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return out, nil
}
