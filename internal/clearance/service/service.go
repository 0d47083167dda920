// Package service implements clearance gating: independently owned sub-gates
// per case and the release decision derived from them on every call.
package service

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strconv"

	"mortuary/internal/clearance/models"
	"mortuary/internal/notify"
	"mortuary/internal/storage"
	id "mortuary/pkg/domain"
	dErrors "mortuary/pkg/domain-errors"
	"mortuary/pkg/platform/audit"
	"mortuary/pkg/requestcontext"
)

var statusEvents = map[models.Status]audit.AuditEvent{
	models.StatusResolved:      audit.EventGateResolved,
	models.StatusWaived:        audit.EventGateWaived,
	models.StatusNotApplicable: audit.EventGateNotApplicable,
	models.StatusPending:       audit.EventGateReopened,
}

type Service struct {
	tx     storage.Transactor
	logger *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func New(tx storage.Transactor, opts ...Option) (*Service, error) {
	if tx == nil {
		return nil, errors.New("transactor is required")
	}
	s := &Service{tx: tx}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// OpenGatesInTx creates one gate per type for a newly registered case.
// Types listed in notApplicable start cleared.
func (s *Service) OpenGatesInTx(ctx context.Context, tx storage.Tx, caseID id.CaseID, notApplicable []models.GateType) ([]*models.Gate, error) {
	for _, t := range notApplicable {
		if !t.IsValid() {
			return nil, dErrors.NewWithDetails(dErrors.CodeInvalidInput, "invalid clearance gate", "gate="+t.String())
		}
	}
	now := requestcontext.Now(ctx)
	gates := make([]*models.Gate, 0, len(models.GateTypes()))
	for _, t := range models.GateTypes() {
		g := models.NewGate(caseID, t, slices.Contains(notApplicable, t), now)
		if err := tx.Gates().Create(ctx, g); err != nil {
			return nil, err
		}
		gates = append(gates, g)
	}
	return gates, nil
}

// UpdateGate applies change to one gate of a case that has not been released.
func (s *Service) UpdateGate(ctx context.Context, caseID id.CaseID, gateType models.GateType, change models.Change) (*models.Gate, error) {
	if err := change.Actor.Validate(); err != nil {
		return nil, err
	}
	if !gateType.IsValid() {
		return nil, dErrors.NewWithDetails(dErrors.CodeInvalidInput, "invalid clearance gate", "gate="+gateType.String())
	}

	var (
		gate     *models.Gate
		decision models.Decision
		from     models.Status
	)
	err := s.tx.RunForCase(ctx, caseID, func(tx storage.Tx) error {
		c, err := tx.Cases().FindByID(ctx, caseID)
		if err != nil {
			return err
		}
		if c.IsVoided() || c.State.IsTerminal() {
			return dErrors.NewWithDetails(dErrors.CodeInvalidTransition, "clearance of this case is closed",
				"state="+c.State.String())
		}
		gate, err = tx.Gates().Find(ctx, caseID, gateType)
		if err != nil {
			return err
		}
		if err := gate.CanApply(change); err != nil {
			return err
		}

		now := requestcontext.Now(ctx)
		from = gate.Status
		gate.ApplyChange(change, now)
		if err := tx.Gates().Update(ctx, gate); err != nil {
			return err
		}

		action := statusEvents[gate.Status]
		event := audit.New(action, caseID, change.Actor, now)
		event.FromState = from.String()
		event.ToState = gate.Status.String()
		event.Reason = gate.Justification
		if err := tx.Audit().Append(ctx, event); err != nil {
			return err
		}

		decision, err = s.EvaluateInTx(ctx, tx, caseID)
		if err != nil {
			return err
		}
		n := notify.NewEvent(notify.EventClearanceUpdated, now, gateType.Owner(), id.RoleMorgue, id.RoleRecords)
		n.CaseID = caseID
		n.CaseCode = c.Code
		n.State = c.State.String()
		n.ActorID = change.Actor.ID
		n.Attributes = map[string]string{
			"gate":    gateType.String(),
			"status":  gate.Status.String(),
			"cleared": strconv.FormatBool(decision.Cleared),
		}
		tx.Publish(n)
		return nil
	})
	if err != nil {
		return nil, storage.DomainError(err, "clearance gate")
	}

	s.logAudit(ctx, string(statusEvents[gate.Status]),
		"case_id", caseID,
		"gate", gateType,
		"from", from,
		"to", gate.Status,
		"cleared", decision.Cleared,
		"actor_id", change.Actor.ID,
	)
	return gate, nil
}

// Evaluate recomputes the release decision from the live gates.
func (s *Service) Evaluate(ctx context.Context, caseID id.CaseID) (models.Decision, error) {
	var decision models.Decision
	err := s.tx.View(ctx, func(tx storage.Tx) error {
		if _, err := tx.Cases().FindByID(ctx, caseID); err != nil {
			return err
		}
		var err error
		decision, err = s.EvaluateInTx(ctx, tx, caseID)
		return err
	})
	if err != nil {
		return models.Decision{}, storage.DomainError(err, "case")
	}
	return decision, nil
}

// EvaluateInTx reads the gates through tx so the decision is consistent with
// the other writes of the enclosing transaction.
func (s *Service) EvaluateInTx(ctx context.Context, tx storage.Tx, caseID id.CaseID) (models.Decision, error) {
	gates, err := tx.Gates().ListByCase(ctx, caseID)
	if err != nil {
		return models.Decision{}, err
	}
	return models.Evaluate(gates), nil
}

func (s *Service) Gates(ctx context.Context, caseID id.CaseID) ([]*models.Gate, error) {
	var gates []*models.Gate
	err := s.tx.View(ctx, func(tx storage.Tx) error {
		if _, err := tx.Cases().FindByID(ctx, caseID); err != nil {
			return err
		}
		var err error
		gates, err = tx.Gates().ListByCase(ctx, caseID)
		return err
	})
	if err != nil {
		return nil, storage.DomainError(err, "case")
	}
	return gates, nil
}

func (s *Service) logAudit(ctx context.Context, event string, attributes ...any) {
	if s.logger == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	s.logger.InfoContext(ctx, event, args...)
}
