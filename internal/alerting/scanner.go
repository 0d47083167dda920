// Package alerting runs read-only scans over committed state and raises
// deduplicated alerts through the notification publisher.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	caseModels "mortuary/internal/caserecord/models"
	clearanceModels "mortuary/internal/clearance/models"
	"mortuary/internal/notify"
	id "mortuary/pkg/domain"
	"mortuary/pkg/requestcontext"
)

const (
	DefaultPermanenceLimit = 48 * time.Hour
	DefaultClearanceSLA    = 24 * time.Hour
	DefaultDedupeWindow    = 6 * time.Hour
)

// Kind names an alert family. One alert per (kind, case) is raised per
// dedupe window.
type Kind string

const (
	KindPermanence    Kind = "permanence"
	KindClearanceSLA  Kind = "clearance_sla"
	KindRejectedEntry Kind = "rejected_entry"
)

// CaseReader lists committed cases.
type CaseReader interface {
	List(ctx context.Context, states ...caseModels.State) ([]*caseModels.CaseRecord, error)
}

// GateReader lists a case's clearance gates.
type GateReader interface {
	Gates(ctx context.Context, caseID id.CaseID) ([]*clearanceModels.Gate, error)
}

// Report summarizes one pass.
type Report struct {
	Raised     map[Kind]int
	Suppressed map[Kind]int
}

func newReport() Report {
	return Report{Raised: map[Kind]int{}, Suppressed: map[Kind]int{}}
}

type Scanner struct {
	cases     CaseReader
	gates     GateReader
	publisher notify.Publisher
	dedupe    Deduper
	limit     time.Duration
	sla       time.Duration
	window    time.Duration
	logger    *slog.Logger
	metrics   *Metrics
}

type Option func(*Scanner)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scanner) { s.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Scanner) { s.metrics = m }
}

func WithDeduper(d Deduper) Option {
	return func(s *Scanner) {
		if d != nil {
			s.dedupe = d
		}
	}
}

func WithPermanenceLimit(d time.Duration) Option {
	return func(s *Scanner) {
		if d > 0 {
			s.limit = d
		}
	}
}

func WithClearanceSLA(d time.Duration) Option {
	return func(s *Scanner) {
		if d > 0 {
			s.sla = d
		}
	}
}

func WithDedupeWindow(d time.Duration) Option {
	return func(s *Scanner) {
		if d > 0 {
			s.window = d
		}
	}
}

func NewScanner(cases CaseReader, gates GateReader, publisher notify.Publisher, opts ...Option) (*Scanner, error) {
	if cases == nil {
		return nil, errors.New("case reader is required")
	}
	if gates == nil {
		return nil, errors.New("gate reader is required")
	}
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	s := &Scanner{
		cases:     cases,
		gates:     gates,
		publisher: publisher,
		dedupe:    NewMemoryDeduper(),
		limit:     DefaultPermanenceLimit,
		sla:       DefaultClearanceSLA,
		window:    DefaultDedupeWindow,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Scan runs every scan once. A failing scan does not stop the others; the
// joined error reports each failure.
func (s *Scanner) Scan(ctx context.Context) (Report, error) {
	start := time.Now()
	if s.metrics != nil {
		defer s.metrics.ObservePass(start)
	}
	ctx = requestcontext.WithTime(ctx, requestcontext.Now(ctx))
	report := newReport()

	scans := []struct {
		kind Kind
		run  func(context.Context, *Report) error
	}{
		{KindPermanence, s.scanPermanence},
		{KindClearanceSLA, s.scanClearanceSLA},
		{KindRejectedEntry, s.scanRejected},
	}
	var errs []error
	for _, sc := range scans {
		err := sc.run(ctx, &report)
		if s.metrics != nil {
			s.metrics.ObserveScan(sc.kind, err)
		}
		if err != nil {
			s.logger.WarnContext(ctx, "alert scan failed", "kind", string(sc.kind), "error", err)
			errs = append(errs, fmt.Errorf("%s scan: %w", sc.kind, err))
		}
	}
	return report, errors.Join(errs...)
}

// scanPermanence flags cases still inside the facility past the limit.
func (s *Scanner) scanPermanence(ctx context.Context, report *Report) error {
	cases, err := s.cases.List(ctx, activeStates()...)
	if err != nil {
		return err
	}
	now := requestcontext.Now(ctx)
	for _, c := range cases {
		if c.IsVoided() {
			continue
		}
		age := now.Sub(c.IntakeAt)
		if age <= s.limit {
			continue
		}
		e := s.event(notify.EventAlertPermanence, c, now, id.RoleSupervisor, id.RoleMorgue)
		e.Attributes = map[string]string{
			"permanence": age.Round(time.Minute).String(),
			"limit":      s.limit.String(),
		}
		s.raise(ctx, KindPermanence, c.ID, e, report)
	}
	return nil
}

// scanClearanceSLA flags cases awaiting retrieval whose gates have been
// pending longer than the SLA. The alert names every overdue gate.
func (s *Scanner) scanClearanceSLA(ctx context.Context, report *Report) error {
	cases, err := s.cases.List(ctx, caseModels.StateAwaitingRetrieval)
	if err != nil {
		return err
	}
	now := requestcontext.Now(ctx)
	var errs []error
	for _, c := range cases {
		if c.IsVoided() {
			continue
		}
		gates, err := s.gates.Gates(ctx, c.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("case %s: %w", c.ID, err))
			continue
		}
		overdue, audience := overdueGates(gates, now, s.sla)
		if len(overdue) == 0 {
			continue
		}
		e := s.event(notify.EventAlertClearanceSLA, c, now, audience...)
		e.Attributes = map[string]string{
			"gates": strings.Join(overdue, ","),
			"sla":   s.sla.String(),
		}
		s.raise(ctx, KindClearanceSLA, c.ID, e, report)
	}
	return errors.Join(errs...)
}

func (s *Scanner) scanRejected(ctx context.Context, report *Report) error {
	cases, err := s.cases.List(ctx, caseModels.StateVerificationRejected)
	if err != nil {
		return err
	}
	now := requestcontext.Now(ctx)
	for _, c := range cases {
		if c.IsVoided() {
			continue
		}
		e := s.event(notify.EventAlertRejectedEntry, c, now, id.RoleWard, id.RoleSupervisor)
		e.Attributes = map[string]string{
			"rejection_count": strconv.Itoa(c.RejectionCount),
			"reason":          c.LastRejectionReason,
		}
		s.raise(ctx, KindRejectedEntry, c.ID, e, report)
	}
	return nil
}

// raise publishes e unless the (kind, case) key was claimed within the
// window. A dedupe backend failure publishes anyway.
func (s *Scanner) raise(ctx context.Context, kind Kind, caseID id.CaseID, e notify.Event, report *Report) {
	claimed, err := s.dedupe.Claim(ctx, string(kind)+":"+caseID.String(), s.window)
	if err != nil {
		s.logger.WarnContext(ctx, "alert dedupe unavailable", "kind", string(kind), "case_id", caseID.String(), "error", err)
		claimed = true
	}
	if !claimed {
		report.Suppressed[kind]++
		if s.metrics != nil {
			s.metrics.IncSuppressed(kind)
		}
		return
	}
	s.publisher.Publish(ctx, e)
	report.Raised[kind]++
	if s.metrics != nil {
		s.metrics.IncRaised(kind)
	}
	s.logger.InfoContext(ctx, "alert raised",
		"kind", string(kind),
		"case_id", caseID.String(),
		"case_code", e.CaseCode,
	)
}

func (s *Scanner) event(t notify.EventType, c *caseModels.CaseRecord, now time.Time, audience ...id.Role) notify.Event {
	e := notify.NewEvent(t, now, audience...)
	e.CaseID = c.ID
	e.CaseCode = c.Code
	e.State = c.State.String()
	return e
}

func activeStates() []caseModels.State {
	var out []caseModels.State
	for _, st := range caseModels.States() {
		if !st.IsTerminal() {
			out = append(out, st)
		}
	}
	return out
}

func overdueGates(gates []*clearanceModels.Gate, now time.Time, sla time.Duration) ([]string, []id.Role) {
	var names []string
	audience := []id.Role{id.RoleSupervisor}
	for _, g := range gates {
		if g.Status != clearanceModels.StatusPending || g.PendingSince == nil {
			continue
		}
		if now.Sub(*g.PendingSince) <= sla {
			continue
		}
		names = append(names, g.Type.String())
		audience = append(audience, g.Type.Owner())
	}
	sort.Strings(names)
	return names, audience
}
