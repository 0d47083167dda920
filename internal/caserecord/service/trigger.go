package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mortuary/internal/caserecord/models"
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

// TriggerRequest is the payload of a trigger. Fields not used by the trigger
// are ignored.
type TriggerRequest struct {
	Trigger models.Trigger
	Actor   id.Actor
	// Reason is required by RejectEntry.
	Reason string
	// SlotID is required by AssignSlot.
	SlotID id.SlotID
	// Holder is the party taking custody: the transport orderly on
	// AcceptCustody, the morgue attendant on ApproveEntry (optional), the
	// receiving party on FinalizeRetrieval.
	Holder   custodyModels.Holder
	Location string
	// SignedActID is required by FinalizeRetrieval.
	SignedActID id.SignedActID
}

// TriggerResult describes a committed trigger.
type TriggerResult struct {
	Case      *models.CaseRecord               `json:"case"`
	From      models.State                     `json:"from"`
	To        models.State                     `json:"to"`
	Slot      *slotModels.Slot                 `json:"slot,omitempty"`
	Transfer  *custodyModels.TransferRecord    `json:"transfer,omitempty"`
	Retrieval *retrievalModels.RetrievalRecord `json:"retrieval,omitempty"`
	Release   *slotModels.Release              `json:"release,omitempty"`
	// Escalated is set when a rejection reached the configured cap.
	Escalated bool `json:"escalated,omitempty"`
}

// effect is the trigger-specific part of a transition. validate checks the
// payload before any read; apply stages side effects inside the case
// transaction; committed runs after the transaction returns.
type effect struct {
	validate func(req TriggerRequest) error
	apply    func(ctx context.Context, tx storage.Tx, c *models.CaseRecord, req TriggerRequest, res *TriggerResult) error
	// moves is set when apply performs the state change itself.
	moves     bool
	committed func(ctx context.Context, res *TriggerResult, err error)
}

func (s *Service) buildEffects() map[models.Trigger]effect {
	return map[models.Trigger]effect{
		models.TriggerGenerateTag: {},
		models.TriggerAcceptCustody: {
			validate: requireHolder,
			apply:    s.transferTo,
		},
		models.TriggerApproveEntry: {
			apply: func(ctx context.Context, tx storage.Tx, c *models.CaseRecord, req TriggerRequest, res *TriggerResult) error {
				if req.Holder.IsZero() {
					return nil
				}
				return s.transferTo(ctx, tx, c, req, res)
			},
		},
		models.TriggerRejectEntry: {
			validate: func(req TriggerRequest) error {
				if strings.TrimSpace(req.Reason) == "" {
					return dErrors.New(dErrors.CodeValidation, "rejection reason is required")
				}
				return nil
			},
			apply:     s.reject,
			committed: s.rejectCommitted,
		},
		models.TriggerRecordCorrection: {
			apply: func(_ context.Context, _ storage.Tx, c *models.CaseRecord, req TriggerRequest, _ *TriggerResult) error {
				return c.CanCorrect(s.maxRejections, req.Actor)
			},
		},
		models.TriggerAssignSlot: {
			validate: func(req TriggerRequest) error {
				if req.SlotID.IsNil() {
					return dErrors.New(dErrors.CodeValidation, "slot is required")
				}
				return nil
			},
			apply: func(ctx context.Context, tx storage.Tx, c *models.CaseRecord, req TriggerRequest, res *TriggerResult) error {
				slot, err := s.slots.AssignInTx(ctx, tx, c.ID, req.SlotID, req.Actor)
				res.Slot = slot
				return err
			},
			committed: func(_ context.Context, _ *TriggerResult, err error) {
				s.slots.ObserveAssign(err)
			},
		},
		models.TriggerAuthorizeRetrieval: {},
		models.TriggerFinalizeRetrieval: {
			apply: func(ctx context.Context, tx storage.Tx, c *models.CaseRecord, req TriggerRequest, res *TriggerResult) error {
				rec, rel, err := s.finalizer.FinalizeInTx(ctx, tx, c, s.finalizeRequest(req))
				res.Retrieval = rec
				res.Release = rel
				return err
			},
			moves: true,
			committed: func(ctx context.Context, res *TriggerResult, err error) {
				if err == nil {
					s.finalizer.Committed(ctx, res.Retrieval, res.Release)
				}
			},
		},
	}
}

// Trigger fires req.Trigger against the persisted state of the case.
// A trigger whose precondition no longer holds, such as a double submit,
// fails with InvalidTransition.
func (s *Service) Trigger(ctx context.Context, caseID id.CaseID, req TriggerRequest) (res *TriggerResult, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "caserecord.trigger", trace.WithAttributes(
		attribute.String("case.id", caseID.String()),
		attribute.String("case.trigger", req.Trigger.String()),
	))
	defer func() {
		s.observe(ctx, span, start, caseID, req, err)
	}()

	if err := req.Actor.Validate(); err != nil {
		return nil, err
	}
	eff, ok := s.effects[req.Trigger]
	if !ok {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "unknown trigger")
	}
	if eff.validate != nil {
		if err := eff.validate(req); err != nil {
			return nil, err
		}
	}

	res = &TriggerResult{}
	txErr := s.tx.RunForCase(ctx, caseID, func(tx storage.Tx) error {
		c, err := tx.Cases().FindByID(ctx, caseID)
		if err != nil {
			return err
		}
		if err := c.CanFire(req.Trigger, req.Actor); err != nil {
			return err
		}
		res.From = c.State
		if eff.apply != nil {
			if err := eff.apply(ctx, tx, c, req, res); err != nil {
				return err
			}
		}
		if !eff.moves {
			if err := s.move(ctx, tx, c, req); err != nil {
				return err
			}
		}
		res.Case = c
		res.To = c.State
		return nil
	})
	if eff.committed != nil {
		eff.committed(ctx, res, txErr)
	}
	if txErr != nil {
		return nil, storage.DomainError(txErr, "case")
	}
	return res, nil
}

// move applies the edge, persists the case, and stages the audit record and
// notification for the transition.
func (s *Service) move(ctx context.Context, tx storage.Tx, c *models.CaseRecord, req TriggerRequest) error {
	now := requestcontext.Now(ctx)
	from := c.State
	c.ApplyTrigger(req.Trigger, now)
	if err := tx.Cases().Update(ctx, c); err != nil {
		return err
	}

	action := audit.EventCaseTransitioned
	if req.Trigger == models.TriggerRejectEntry {
		action = audit.EventEntryRejected
	}
	event := audit.New(action, c.ID, req.Actor, now)
	event.SlotID = req.SlotID
	event.FromState = from.String()
	event.ToState = c.State.String()
	event.Reason = strings.TrimSpace(req.Reason)
	if err := tx.Audit().Append(ctx, event); err != nil {
		return err
	}

	n := caseEvent(notify.EventCaseTransitioned, c, req.Actor, now, audienceFor(c.State)...)
	n.SlotID = req.SlotID
	n.Attributes = map[string]string{
		"trigger": req.Trigger.String(),
		"from":    from.String(),
	}
	tx.Publish(n)
	return nil
}

// transferTo appends a hand-off from the current holder to req.Holder.
func (s *Service) transferTo(ctx context.Context, tx storage.Tx, c *models.CaseRecord, req TriggerRequest, res *TriggerResult) error {
	holder, err := s.custody.CurrentHolderInTx(ctx, tx, c.ID)
	if err != nil {
		return err
	}
	origin := c.IntakeLocation
	head, err := tx.Custody().Head(ctx, c.ID)
	switch {
	case err == nil:
		origin = head.DestinationLocation
	case !errors.Is(err, sentinel.ErrNotFound):
		return err
	}
	transfer, err := s.custody.AppendInTx(ctx, tx, c, custodyModels.TransferRequest{
		OriginHolder:        holder,
		DestinationHolder:   req.Holder,
		OriginLocation:      origin,
		DestinationLocation: location(req, edgeTarget(req.Trigger)),
		Actor:               req.Actor,
	})
	res.Transfer = transfer
	return err
}

func (s *Service) reject(ctx context.Context, tx storage.Tx, c *models.CaseRecord, req TriggerRequest, res *TriggerResult) error {
	c.ApplyRejection(req.Reason)
	if s.maxRejections <= 0 || c.RejectionCount < s.maxRejections {
		return nil
	}
	now := requestcontext.Now(ctx)
	event := audit.New(audit.EventRejectionEscalated, c.ID, req.Actor, now)
	event.Reason = c.LastRejectionReason
	if err := tx.Audit().Append(ctx, event); err != nil {
		return err
	}
	n := caseEvent(notify.EventCaseRejectionEscalated, c, req.Actor, now, id.RoleSupervisor, id.RoleWard)
	n.Attributes = map[string]string{
		"rejections": strconv.Itoa(c.RejectionCount),
		"reason":     c.LastRejectionReason,
	}
	tx.Publish(n)
	res.Escalated = true
	return nil
}

func (s *Service) rejectCommitted(ctx context.Context, res *TriggerResult, err error) {
	if err != nil || !res.Escalated {
		return
	}
	if s.metrics != nil {
		s.metrics.IncrementEscalated()
	}
	if s.logger != nil {
		s.logger.WarnContext(ctx, "rejected entry cycle reached cap",
			"case_id", res.Case.ID,
			"rejections", res.Case.RejectionCount,
		)
	}
}

func (s *Service) finalizeRequest(req TriggerRequest) retrievalService.FinalizeRequest {
	return retrievalService.FinalizeRequest{
		SignedActID:         req.SignedActID,
		ReceivedBy:          req.Holder,
		DestinationLocation: req.Location,
		Actor:               req.Actor,
	}
}

func (s *Service) observe(ctx context.Context, span trace.Span, start time.Time, caseID id.CaseID, req TriggerRequest, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(dErrors.CodeOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	if s.metrics != nil {
		s.metrics.ObserveTrigger(req.Trigger.String(), outcome, start)
	}
	switch {
	case err == nil:
		s.logAudit(ctx, string(audit.EventCaseTransitioned),
			"case_id", caseID,
			"trigger", req.Trigger,
			"actor_id", req.Actor.ID,
			"actor_role", req.Actor.Role,
		)
	case dErrors.IsIntegrity(err) && s.logger != nil:
		s.logger.ErrorContext(ctx, "trigger aborted by data integrity failure",
			"alert", "data_integrity",
			"case_id", caseID,
			"trigger", req.Trigger,
			"error", err,
		)
	}
}

func requireHolder(req TriggerRequest) error {
	if req.Holder.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "receiving holder is required")
	}
	return nil
}

func location(req TriggerRequest, fallback string) string {
	if loc := strings.TrimSpace(req.Location); loc != "" {
		return loc
	}
	return fallback
}

func edgeTarget(t models.Trigger) string {
	edge, _ := models.EdgeFor(t)
	return edge.To.String()
}

var stateAudience = map[models.State][]id.Role{
	models.StateAwaitingPickup:         {id.RoleTransport},
	models.StateInTransit:              {id.RoleMorgue, id.RoleWard},
	models.StateVerificationRejected:   {id.RoleWard},
	models.StateAwaitingSlotAssignment: {id.RoleMorgue},
	models.StateOccupied:               {id.RoleRecords, id.RoleBilling, id.RoleBloodBank},
	models.StateAwaitingRetrieval:      {id.RoleBilling, id.RoleBloodBank, id.RoleRecords, id.RoleMorgue},
	models.StateReleased:               {id.RoleMorgue, id.RoleRecords},
}

func audienceFor(state models.State) []id.Role {
	return stateAudience[state]
}
