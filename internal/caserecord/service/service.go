// Package service implements the case lifecycle: intake, role-gated triggers
// along the transition graph, and soft invalidation.
//
// Every trigger runs in one transaction serialized per case and is evaluated
// against the persisted state. Side effects on slots, custody and clearance
// are staged in the same transaction so a trigger applies fully or not at all.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"mortuary/internal/caserecord/metrics"
	"mortuary/internal/caserecord/models"
	clearanceModels "mortuary/internal/clearance/models"
	custodyModels "mortuary/internal/custody/models"
	"mortuary/internal/notify"
	retrievalModels "mortuary/internal/retrieval/models"
	retrievalService "mortuary/internal/retrieval/service"
	slotModels "mortuary/internal/slot/models"
	"mortuary/internal/storage"
	id "mortuary/pkg/domain"
	dErrors "mortuary/pkg/domain-errors"
	"mortuary/pkg/platform/audit"
	"mortuary/pkg/platform/sentinel"
	"mortuary/pkg/requestcontext"
)

const tracerName = "mortuary/caserecord"

// Collaborators whose writes join the trigger's transaction.
type (
	GateOpener interface {
		OpenGatesInTx(ctx context.Context, tx storage.Tx, caseID id.CaseID, notApplicable []clearanceModels.GateType) ([]*clearanceModels.Gate, error)
	}
	SlotAssigner interface {
		AssignInTx(ctx context.Context, tx storage.Tx, caseID id.CaseID, slotID id.SlotID, actor id.Actor) (*slotModels.Slot, error)
		ObserveAssign(err error)
	}
	CustodyAppender interface {
		AppendInTx(ctx context.Context, tx storage.Tx, c *models.CaseRecord, req custodyModels.TransferRequest) (*custodyModels.TransferRecord, error)
		CurrentHolderInTx(ctx context.Context, tx storage.Tx, caseID id.CaseID) (custodyModels.Holder, error)
	}
	RetrievalFinalizer interface {
		FinalizeInTx(ctx context.Context, tx storage.Tx, c *models.CaseRecord, req retrievalService.FinalizeRequest) (*retrievalModels.RetrievalRecord, *slotModels.Release, error)
		Committed(ctx context.Context, rec *retrievalModels.RetrievalRecord, rel *slotModels.Release)
	}
)

type Service struct {
	tx            storage.Transactor
	gates         GateOpener
	slots         SlotAssigner
	custody       CustodyAppender
	finalizer     RetrievalFinalizer
	effects       map[models.Trigger]effect
	maxRejections int
	logger        *slog.Logger
	metrics       *metrics.Metrics
	tracer        trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithMaxEntryRejections caps the rejected-entry cycle for non-supervisors.
// Zero leaves it unbounded.
func WithMaxEntryRejections(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxRejections = n
		}
	}
}

func New(tx storage.Transactor, gates GateOpener, slots SlotAssigner, custody CustodyAppender, finalizer RetrievalFinalizer, opts ...Option) (*Service, error) {
	if tx == nil {
		return nil, errors.New("transactor is required")
	}
	if gates == nil || slots == nil || custody == nil || finalizer == nil {
		return nil, errors.New("clearance, slot, custody and retrieval collaborators are required")
	}
	s := &Service{
		tx:        tx,
		gates:     gates,
		slots:     slots,
		custody:   custody,
		finalizer: finalizer,
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.effects = s.buildEffects()
	for _, t := range models.Triggers() {
		if _, ok := s.effects[t]; !ok {
			return nil, errors.New("no effect registered for trigger " + t.String())
		}
	}
	return s, nil
}

// IntakeRequest registers a case at the ward.
type IntakeRequest struct {
	Code     string
	Holder   custodyModels.Holder
	Location string
	// NotApplicable lists gates that do not apply to this case.
	NotApplicable []clearanceModels.GateType
	Actor         id.Actor
}

// Intake creates a case in StateIntake with one clearance gate per type.
func (s *Service) Intake(ctx context.Context, req IntakeRequest) (*models.CaseRecord, error) {
	if err := req.Actor.Validate(); err != nil {
		return nil, err
	}
	if !req.Actor.HasAnyRole(id.RoleWard) {
		return nil, dErrors.New(dErrors.CodeForbidden, "actor cannot register cases")
	}
	if req.Holder.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "intake holder is required")
	}
	now := requestcontext.Now(ctx)
	c, err := models.NewCaseRecord(id.NewCaseID(), req.Code, custodyModels.Holder(strings.TrimSpace(string(req.Holder))), req.Location, req.Actor, now)
	if err != nil {
		return nil, err
	}

	err = s.tx.RunInTx(ctx, func(tx storage.Tx) error {
		if err := tx.Cases().Create(ctx, c); err != nil {
			return err
		}
		if _, err := s.gates.OpenGatesInTx(ctx, tx, c.ID, req.NotApplicable); err != nil {
			return err
		}
		event := audit.New(audit.EventCaseRegistered, c.ID, req.Actor, now)
		event.ToState = c.State.String()
		if err := tx.Audit().Append(ctx, event); err != nil {
			return err
		}
		tx.Publish(caseEvent(notify.EventCaseRegistered, c, req.Actor, now, id.RoleWard, id.RoleTransport))
		return nil
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.New(dErrors.CodeConflict, "case code is already registered")
		}
		return nil, storage.DomainError(err, "case")
	}
	if s.metrics != nil {
		s.metrics.IncrementRegistered()
	}
	s.logAudit(ctx, string(audit.EventCaseRegistered), "case_id", c.ID, "case_code", c.Code, "actor_id", req.Actor.ID)
	return c, nil
}

// Invalidate voids a case registered in error. Only cases that have not left
// the ward may be voided.
func (s *Service) Invalidate(ctx context.Context, caseID id.CaseID, reason string, actor id.Actor) (*models.CaseRecord, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	if !actor.HasAnyRole(id.RoleWard) {
		return nil, dErrors.New(dErrors.CodeForbidden, "actor cannot invalidate cases")
	}
	var c *models.CaseRecord
	err := s.tx.RunForCase(ctx, caseID, func(tx storage.Tx) error {
		var err error
		c, err = tx.Cases().FindByID(ctx, caseID)
		if err != nil {
			return err
		}
		if err := c.CanInvalidate(reason); err != nil {
			return err
		}
		now := requestcontext.Now(ctx)
		c.ApplyInvalidation(reason, now)
		if err := tx.Cases().Update(ctx, c); err != nil {
			return err
		}
		event := audit.New(audit.EventCaseInvalidated, caseID, actor, now)
		event.FromState = c.State.String()
		event.Reason = c.VoidReason
		if err := tx.Audit().Append(ctx, event); err != nil {
			return err
		}
		tx.Publish(caseEvent(notify.EventCaseInvalidated, c, actor, now, id.RoleWard, id.RoleTransport, id.RoleSupervisor))
		return nil
	})
	if err != nil {
		return nil, storage.DomainError(err, "case")
	}
	if s.metrics != nil {
		s.metrics.IncrementInvalidated()
	}
	s.logAudit(ctx, string(audit.EventCaseInvalidated), "case_id", caseID, "reason", c.VoidReason, "actor_id", actor.ID)
	return c, nil
}

func (s *Service) Get(ctx context.Context, caseID id.CaseID) (*models.CaseRecord, error) {
	var c *models.CaseRecord
	err := s.tx.View(ctx, func(tx storage.Tx) error {
		var err error
		c, err = tx.Cases().FindByID(ctx, caseID)
		return err
	})
	if err != nil {
		return nil, storage.DomainError(err, "case")
	}
	return c, nil
}

func (s *Service) GetByCode(ctx context.Context, code string) (*models.CaseRecord, error) {
	var c *models.CaseRecord
	err := s.tx.View(ctx, func(tx storage.Tx) error {
		var err error
		c, err = tx.Cases().FindByCode(ctx, strings.TrimSpace(code))
		return err
	})
	if err != nil {
		return nil, storage.DomainError(err, "case")
	}
	return c, nil
}

// List returns cases in any of states, every case when none are given.
func (s *Service) List(ctx context.Context, states ...models.State) ([]*models.CaseRecord, error) {
	var out []*models.CaseRecord
	err := s.tx.View(ctx, func(tx storage.Tx) error {
		var err error
		out, err = tx.Cases().ListByState(ctx, states...)
		return err
	})
	if err != nil {
		return nil, storage.DomainError(err, "case")
	}
	return out, nil
}

func caseEvent(t notify.EventType, c *models.CaseRecord, actor id.Actor, now time.Time, audience ...id.Role) notify.Event {
	n := notify.NewEvent(t, now, audience...)
	n.CaseID = c.ID
	n.CaseCode = c.Code
	n.State = c.State.String()
	n.ActorID = actor.ID
	return n
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
