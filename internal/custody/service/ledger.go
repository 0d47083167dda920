// Package service implements the custody ledger: an append-only chain of
// hand-offs per case whose continuity is checked on every append.
package service

import (
	"context"
	"errors"
	"log/slog"

	caseModels "mortuary/internal/caserecord/models"
	"mortuary/internal/custody/models"
	"mortuary/internal/notify"
	"mortuary/internal/storage"
	id "mortuary/pkg/domain"
	dErrors "mortuary/pkg/domain-errors"
	"mortuary/pkg/platform/audit"
	"mortuary/pkg/platform/sentinel"
	"mortuary/pkg/requestcontext"
)

// Roles that physically move a case.
var transferRoles = []id.Role{id.RoleWard, id.RoleTransport, id.RoleMorgue}

// Ledger is the custody ledger.
type Ledger struct {
	tx     storage.Transactor
	logger *slog.Logger
}

type Option func(*Ledger)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

func New(tx storage.Transactor, opts ...Option) (*Ledger, error) {
	if tx == nil {
		return nil, errors.New("transactor is required")
	}
	l := &Ledger{tx: tx}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// AppendTransfer records a hand-off that is not part of a lifecycle trigger,
// such as moving a case between rooms.
func (l *Ledger) AppendTransfer(ctx context.Context, caseID id.CaseID, req models.TransferRequest) (*models.TransferRecord, error) {
	if err := req.Actor.Validate(); err != nil {
		return nil, err
	}
	if !req.Actor.HasAnyRole(transferRoles...) {
		return nil, dErrors.New(dErrors.CodeForbidden, "actor cannot record custody transfers")
	}

	var rec *models.TransferRecord
	err := l.tx.RunForCase(ctx, caseID, func(tx storage.Tx) error {
		c, err := tx.Cases().FindByID(ctx, caseID)
		if err != nil {
			return err
		}
		if c.IsVoided() || c.State.IsTerminal() {
			return dErrors.NewWithDetails(dErrors.CodeInvalidTransition, "custody of this case is closed",
				"state="+c.State.String())
		}
		rec, err = l.AppendInTx(ctx, tx, c, req)
		return err
	})
	if err != nil {
		return nil, l.fail(ctx, caseID, storage.DomainError(err, "case"))
	}
	l.logAudit(ctx, string(audit.EventCustodyTransferred),
		"case_id", caseID, "seq", rec.Seq, "origin", rec.OriginHolder, "destination", rec.DestinationHolder)
	return rec, nil
}

// AppendInTx appends within the caller's transaction. The caller must hold
// the case (RunForCase) so appends for one case are ordered.
func (l *Ledger) AppendInTx(ctx context.Context, tx storage.Tx, c *caseModels.CaseRecord, req models.TransferRequest) (*models.TransferRecord, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	head, err := l.head(ctx, tx, c.ID)
	if err != nil {
		return nil, err
	}
	if err := models.CheckContinuity(head, c.IntakeHolder, req.OriginHolder); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	rec := models.NewTransfer(c.ID, head, req, now)
	if err := tx.Custody().Append(ctx, rec); err != nil {
		return nil, err
	}

	event := audit.New(audit.EventCustodyTransferred, c.ID, req.Actor, now)
	event.FromState = rec.OriginHolder.String()
	event.ToState = rec.DestinationHolder.String()
	if err := tx.Audit().Append(ctx, event); err != nil {
		return nil, err
	}

	n := notify.NewEvent(notify.EventCustodyTransferred, now, id.RoleMorgue, id.RoleTransport)
	n.CaseID = c.ID
	n.CaseCode = c.Code
	n.ActorID = req.Actor.ID
	n.Attributes = map[string]string{
		"holder":   rec.DestinationHolder.String(),
		"location": rec.DestinationLocation,
	}
	tx.Publish(n)
	return rec, nil
}

// CurrentHolder returns the destination of the latest record, or the intake
// holder when the case has not moved yet. It reads one record.
func (l *Ledger) CurrentHolder(ctx context.Context, caseID id.CaseID) (models.Holder, error) {
	var holder models.Holder
	err := l.tx.View(ctx, func(tx storage.Tx) error {
		var err error
		holder, err = l.CurrentHolderInTx(ctx, tx, caseID)
		return err
	})
	if err != nil {
		return "", storage.DomainError(err, "case")
	}
	return holder, nil
}

func (l *Ledger) CurrentHolderInTx(ctx context.Context, tx storage.Tx, caseID id.CaseID) (models.Holder, error) {
	head, err := l.head(ctx, tx, caseID)
	if err != nil {
		return "", err
	}
	if head != nil {
		return head.DestinationHolder, nil
	}
	c, err := tx.Cases().FindByID(ctx, caseID)
	if err != nil {
		return "", err
	}
	return c.IntakeHolder, nil
}

// History returns every record for the case in sequence order.
func (l *Ledger) History(ctx context.Context, caseID id.CaseID) ([]*models.TransferRecord, error) {
	var out []*models.TransferRecord
	err := l.tx.View(ctx, func(tx storage.Tx) error {
		if _, err := tx.Cases().FindByID(ctx, caseID); err != nil {
			return err
		}
		var err error
		out, err = tx.Custody().ListByCase(ctx, caseID)
		return err
	})
	if err != nil {
		return nil, storage.DomainError(err, "case")
	}
	return out, nil
}

// VerifyChain replays the ledger from the first record and reports the first
// broken link as ChainDiscontinuity.
func (l *Ledger) VerifyChain(ctx context.Context, caseID id.CaseID) error {
	err := l.tx.View(ctx, func(tx storage.Tx) error {
		c, err := tx.Cases().FindByID(ctx, caseID)
		if err != nil {
			return err
		}
		records, err := tx.Custody().ListByCase(ctx, caseID)
		if err != nil {
			return err
		}
		return models.VerifyChain(c.IntakeHolder, records)
	})
	if err != nil {
		return l.fail(ctx, caseID, storage.DomainError(err, "case"))
	}
	return nil
}

func (l *Ledger) head(ctx context.Context, tx storage.Tx, caseID id.CaseID) (*models.TransferRecord, error) {
	head, err := tx.Custody().Head(ctx, caseID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	return head, err
}

// fail raises a data-integrity alert for chain discontinuities.
func (l *Ledger) fail(ctx context.Context, caseID id.CaseID, err error) error {
	if dErrors.IsIntegrity(err) && l.logger != nil {
		l.logger.ErrorContext(ctx, "custody chain discontinuity",
			"alert", "data_integrity",
			"case_id", caseID,
			"error", err,
		)
	}
	return err
}

func (l *Ledger) logAudit(ctx context.Context, event string, attributes ...any) {
	if l.logger == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	l.logger.InfoContext(ctx, event, args...)
}
