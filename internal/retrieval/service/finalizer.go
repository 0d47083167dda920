// Package service implements retrieval finalization, the terminal step of a
// case: clearance, signed act, slot release, final custody entry and the
// Released transition, committed together.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	caseModels "mortuary/internal/caserecord/models"
	clearanceModels "mortuary/internal/clearance/models"
	custodyModels "mortuary/internal/custody/models"
	"mortuary/internal/notify"
	"mortuary/internal/retrieval/metrics"
	"mortuary/internal/retrieval/models"
	slotModels "mortuary/internal/slot/models"
	"mortuary/internal/storage"
	id "mortuary/pkg/domain"
	dErrors "mortuary/pkg/domain-errors"
	"mortuary/pkg/platform/audit"
	"mortuary/pkg/platform/sentinel"
	"mortuary/pkg/requestcontext"
)

// DefaultPermanenceLimit flags cases kept longer than two days.
const DefaultPermanenceLimit = 48 * time.Hour

const tracerName = "mortuary/retrieval"

// Collaborators used inside the finalize transaction.
type (
	ClearanceEvaluator interface {
		EvaluateInTx(ctx context.Context, tx storage.Tx, caseID id.CaseID) (clearanceModels.Decision, error)
	}
	SlotReleaser interface {
		ReleaseInTx(ctx context.Context, tx storage.Tx, slotID id.SlotID, actor id.Actor, reason string) (*slotModels.Release, error)
		ObserveRelease(rel *slotModels.Release)
	}
	CustodyAppender interface {
		AppendInTx(ctx context.Context, tx storage.Tx, c *caseModels.CaseRecord, req custodyModels.TransferRequest) (*custodyModels.TransferRecord, error)
		CurrentHolderInTx(ctx context.Context, tx storage.Tx, caseID id.CaseID) (custodyModels.Holder, error)
	}
)

// FinalizeRequest carries what the releasing attendant records.
type FinalizeRequest struct {
	SignedActID id.SignedActID
	// ReceivedBy is the party taking custody, e.g. the funeral home.
	ReceivedBy          custodyModels.Holder
	DestinationLocation string
	Actor               id.Actor
}

// Validate checks the request shape. A missing signed act is reported by the
// release sequence after clearance, like an unknown one.
func (r FinalizeRequest) Validate() error {
	if r.ReceivedBy.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "receiving party is required")
	}
	return r.Actor.Validate()
}

// SignedActRequest registers act metadata from the document system.
type SignedActRequest struct {
	ID       id.SignedActID
	CaseID   id.CaseID
	SignedBy string
	Complete bool
	SignedAt time.Time
	Actor    id.Actor
}

type Finalizer struct {
	tx        storage.Transactor
	clearance ClearanceEvaluator
	slots     SlotReleaser
	custody   CustodyAppender
	limit     time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

type Option func(*Finalizer)

func WithLogger(logger *slog.Logger) Option {
	return func(f *Finalizer) {
		f.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Finalizer) {
		f.metrics = m
	}
}

// WithPermanenceLimit sets the threshold for the exceeded flag. Zero
// disables the flag.
func WithPermanenceLimit(d time.Duration) Option {
	return func(f *Finalizer) {
		if d >= 0 {
			f.limit = d
		}
	}
}

func New(tx storage.Transactor, clearance ClearanceEvaluator, slots SlotReleaser, custody CustodyAppender, opts ...Option) (*Finalizer, error) {
	if tx == nil {
		return nil, errors.New("transactor is required")
	}
	if clearance == nil || slots == nil || custody == nil {
		return nil, errors.New("clearance, slot and custody collaborators are required")
	}
	f := &Finalizer{
		tx:        tx,
		clearance: clearance,
		slots:     slots,
		custody:   custody,
		limit:     DefaultPermanenceLimit,
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *Finalizer) PermanenceLimit() time.Duration { return f.limit }

// RecordSignedAct stores or replaces the metadata of a signed act. An act
// cannot be moved to a different case.
func (f *Finalizer) RecordSignedAct(ctx context.Context, req SignedActRequest) (*models.SignedAct, error) {
	if err := req.Actor.Validate(); err != nil {
		return nil, err
	}
	if !req.Actor.HasAnyRole(id.RoleRecords, id.RoleMorgue) {
		return nil, dErrors.New(dErrors.CodeForbidden, "actor cannot record signed acts")
	}
	if req.ID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "signed act id is required")
	}
	now := requestcontext.Now(ctx)
	act := &models.SignedAct{
		ID:         req.ID,
		CaseID:     req.CaseID,
		SignedBy:   strings.TrimSpace(req.SignedBy),
		Complete:   req.Complete,
		SignedAt:   req.SignedAt,
		RecordedAt: now,
	}
	if act.SignedAt.IsZero() {
		act.SignedAt = now
	}
	err := f.tx.RunForCase(ctx, req.CaseID, func(tx storage.Tx) error {
		if err := tx.Acts().Save(ctx, act); err != nil {
			return err
		}
		event := audit.New(audit.EventSignedActRecorded, req.CaseID, req.Actor, now)
		event.ToState = "incomplete"
		if act.Complete {
			event.ToState = "complete"
		}
		return tx.Audit().Append(ctx, event)
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "signed act belongs to a different case")
		}
		return nil, storage.DomainError(err, "case")
	}
	f.logAudit(ctx, string(audit.EventSignedActRecorded), "case_id", req.CaseID, "signed_act_id", act.ID, "complete", act.Complete)
	return act, nil
}

// Finalize releases a case. Either every effect commits or none does.
func (f *Finalizer) Finalize(ctx context.Context, caseID id.CaseID, req FinalizeRequest) (*models.RetrievalRecord, error) {
	if err := req.Actor.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	var rec *models.RetrievalRecord
	var rel *slotModels.Release
	err := f.tx.RunForCase(ctx, caseID, func(tx storage.Tx) error {
		c, err := tx.Cases().FindByID(ctx, caseID)
		if err != nil {
			return err
		}
		if err := c.CanFire(caseModels.TriggerFinalizeRetrieval, req.Actor); err != nil {
			return err
		}
		rec, rel, err = f.FinalizeInTx(ctx, tx, c, req)
		return err
	})
	f.Observe(start, err)
	if err != nil {
		return nil, storage.DomainError(err, "case")
	}
	f.Committed(ctx, rec, rel)
	return rec, nil
}

// FinalizeInTx runs the release sequence inside the caller's transaction and
// moves c to Released. The caller holds the case and has checked
// c.CanFire(TriggerFinalizeRetrieval). The returned release is nil when the
// slot had already been freed.
func (f *Finalizer) FinalizeInTx(ctx context.Context, tx storage.Tx, c *caseModels.CaseRecord, req FinalizeRequest) (rec *models.RetrievalRecord, rel *slotModels.Release, err error) {
	ctx, span := f.tracer.Start(ctx, "retrieval.finalize", trace.WithAttributes(
		attribute.String("case.id", c.ID.String()),
		attribute.String("case.code", c.Code),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := req.Validate(); err != nil {
		return nil, nil, err
	}

	decision, err := f.clearance.EvaluateInTx(ctx, tx, c.ID)
	if err != nil {
		return nil, nil, err
	}
	if err := decision.Err(); err != nil {
		return nil, nil, err
	}

	if req.SignedActID.IsNil() {
		return nil, nil, dErrors.New(dErrors.CodeIncompleteDocumentation, "signed act is required")
	}
	act, err := tx.Acts().FindByID(ctx, req.SignedActID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil, dErrors.New(dErrors.CodeIncompleteDocumentation, "signed act not found")
	}
	if err != nil {
		return nil, nil, err
	}
	if err := act.CheckFor(c.ID); err != nil {
		return nil, nil, err
	}

	now := requestcontext.Now(ctx)
	var slotID id.SlotID
	originLocation := c.IntakeLocation
	slot, err := tx.Slots().FindByOccupant(ctx, c.ID)
	switch {
	case err == nil:
		rel, err = f.slots.ReleaseInTx(ctx, tx, slot.ID, req.Actor, "")
		if err != nil {
			return nil, nil, err
		}
		slotID = slot.ID
		originLocation = slot.Code
	case !errors.Is(err, sentinel.ErrNotFound):
		return nil, nil, err
	}

	holder, err := f.custody.CurrentHolderInTx(ctx, tx, c.ID)
	if err != nil {
		return nil, nil, err
	}
	transfer, err := f.custody.AppendInTx(ctx, tx, c, custodyModels.TransferRequest{
		OriginHolder:        holder,
		DestinationHolder:   req.ReceivedBy,
		OriginLocation:      originLocation,
		DestinationLocation: destination(req),
		Actor:               req.Actor,
	})
	if err != nil {
		return nil, nil, err
	}

	from := c.State
	c.ApplyTrigger(caseModels.TriggerFinalizeRetrieval, now)
	if err := tx.Cases().Update(ctx, c); err != nil {
		return nil, nil, err
	}

	permanence, exceeded := models.Permanence(c.IntakeAt, now, f.limit)
	rec = &models.RetrievalRecord{
		ID:                id.NewRetrievalID(),
		CaseID:            c.ID,
		SlotID:            slotID,
		TransferID:        transfer.ID,
		SignedActID:       act.ID,
		ReceivedBy:        req.ReceivedBy.String(),
		ReleasedBy:        req.Actor.ID,
		Permanence:        permanence,
		Threshold:         f.limit,
		ExceededThreshold: exceeded,
		Timestamp:         now,
	}
	if rel != nil {
		rec.Occupancy = rel.Occupancy
	}
	if err := tx.Retrievals().Create(ctx, rec); err != nil {
		return nil, nil, err
	}

	event := audit.New(audit.EventCaseReleased, c.ID, req.Actor, now)
	event.SlotID = slotID
	event.FromState = from.String()
	event.ToState = c.State.String()
	if err := tx.Audit().Append(ctx, event); err != nil {
		return nil, nil, err
	}

	n := notify.NewEvent(notify.EventCaseReleased, now, id.RoleMorgue, id.RoleRecords, id.RoleBilling)
	n.CaseID = c.ID
	n.CaseCode = c.Code
	n.SlotID = slotID
	n.State = c.State.String()
	n.ActorID = req.Actor.ID
	n.Attributes = map[string]string{
		"permanence":         permanence.String(),
		"exceeded_threshold": strconv.FormatBool(exceeded),
	}
	tx.Publish(n)
	if exceeded {
		alert := notify.NewEvent(notify.EventAlertPermanence, now, id.RoleSupervisor)
		alert.CaseID = c.ID
		alert.CaseCode = c.Code
		alert.Attributes = map[string]string{"permanence": permanence.String(), "limit": f.limit.String()}
		tx.Publish(alert)
	}
	return rec, rel, nil
}

// Committed records metrics and the audit log line for a finalization the
// caller has committed.
func (f *Finalizer) Committed(ctx context.Context, rec *models.RetrievalRecord, rel *slotModels.Release) {
	if rel != nil {
		f.slots.ObserveRelease(rel)
	}
	if f.metrics != nil {
		f.metrics.ObservePermanence(rec.Permanence, rec.ExceededThreshold)
	}
	f.logAudit(ctx, string(audit.EventCaseReleased),
		"case_id", rec.CaseID,
		"slot_id", rec.SlotID,
		"permanence", rec.Permanence.String(),
		"exceeded_threshold", rec.ExceededThreshold,
		"actor_id", rec.ReleasedBy,
	)
}

// Get returns the retrieval record of a released case.
func (f *Finalizer) Get(ctx context.Context, caseID id.CaseID) (*models.RetrievalRecord, error) {
	var rec *models.RetrievalRecord
	err := f.tx.View(ctx, func(tx storage.Tx) error {
		var err error
		rec, err = tx.Retrievals().FindByCase(ctx, caseID)
		return err
	})
	if err != nil {
		return nil, storage.DomainError(err, "retrieval record")
	}
	return rec, nil
}

// Observe records the outcome of a finalize transaction that started at start.
func (f *Finalizer) Observe(start time.Time, err error) {
	if f.metrics == nil {
		return
	}
	outcome := "released"
	if err != nil {
		outcome = string(dErrors.CodeOf(storage.DomainError(err, "case")))
	}
	f.metrics.ObserveFinalize(start, outcome)
}

func destination(req FinalizeRequest) string {
	if loc := strings.TrimSpace(req.DestinationLocation); loc != "" {
		return loc
	}
	return req.ReceivedBy.String()
}

func (f *Finalizer) logAudit(ctx context.Context, event string, attributes ...any) {
	if f.logger == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	f.logger.InfoContext(ctx, event, args...)
}
