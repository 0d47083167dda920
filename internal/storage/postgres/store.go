// Package postgres is the PostgreSQL storage engine.
//
// Each unit of work is one database transaction. Per-case serialization
// takes a row lock on the case; the slot compare-and-swap locks the slot row
// with NOWAIT and applies a conditional UPDATE, so a lost race fails
// immediately instead of queueing behind the winner. A partial unique index
// on slots.occupant_case_id keeps a case in at most one slot.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"mortuary/internal/notify"
	"mortuary/internal/storage"
	id "mortuary/pkg/domain"
	dErrors "mortuary/pkg/domain-errors"
	"mortuary/pkg/platform/audit"
	"mortuary/pkg/platform/tx"
)

const defaultTxTimeout = 5 * time.Second

// Store implements storage.Transactor over *sql.DB.
type Store struct {
	db        *sql.DB
	publisher notify.Publisher
	timeout   time.Duration
	logger    *slog.Logger
}

type Option func(*Store)

func WithPublisher(p notify.Publisher) Option {
	return func(s *Store) { s.publisher = p }
}

func WithTxTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:        db,
		publisher: notify.Discard{},
		timeout:   defaultTxTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ storage.Transactor = (*Store)(nil)

func (s *Store) RunInTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	return s.run(ctx, nil, fn)
}

func (s *Store) RunForCase(ctx context.Context, caseID id.CaseID, fn func(tx storage.Tx) error) error {
	lock := func(ctx context.Context, q tx.Executor) error {
		var locked uuid.UUID
		err := q.QueryRowContext(ctx,
			`SELECT id FROM cases WHERE id = $1 FOR NO KEY UPDATE`, uuid.UUID(caseID),
		).Scan(&locked)
		if err != nil {
			return translate("lock case", err)
		}
		return nil
	}
	return s.run(ctx, lock, fn)
}

// View runs fn in a read-only transaction. Reads take no row locks, so a
// view never delays writers.
func (s *Store) View(ctx context.Context, fn func(tx storage.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin read-only transaction: %w", err)
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()
	return fn(&pgTx{q: sqlTx})
}

func (s *Store) run(ctx context.Context, before func(context.Context, tx.Executor) error, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.timeoutOr(ctx, fmt.Errorf("begin transaction: %w", err))
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if before != nil {
		if err := before(ctx, sqlTx); err != nil {
			return s.timeoutOr(ctx, err)
		}
	}

	t := &pgTx{q: sqlTx}
	if err := fn(t); err != nil {
		return s.timeoutOr(ctx, err)
	}
	if err := sqlTx.Commit(); err != nil {
		return s.timeoutOr(ctx, translate("commit", err))
	}
	for _, event := range t.events {
		s.publisher.Publish(ctx, event)
	}
	return nil
}

// timeoutOr reports a deadline hit as a timeout rather than the driver's
// cancellation error.
func (s *Store) timeoutOr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !dErrors.HasCode(err, dErrors.CodeTimeout) {
		return dErrors.Wrap(ctxErr, dErrors.CodeTimeout, "transaction aborted: "+err.Error())
	}
	return err
}

type pgTx struct {
	q      tx.Executor
	events []notify.Event
}

func (t *pgTx) Cases() storage.CaseStore           { return caseStore{t.q} }
func (t *pgTx) Slots() storage.SlotStore           { return slotStore{t.q} }
func (t *pgTx) Custody() storage.CustodyStore      { return custodyStore{t.q} }
func (t *pgTx) Gates() storage.GateStore           { return gateStore{t.q} }
func (t *pgTx) Retrievals() storage.RetrievalStore { return retrievalStore{t.q} }
func (t *pgTx) Acts() storage.SignedActStore       { return actStore{t.q} }
func (t *pgTx) Audit() audit.Store                 { return auditStore{t.q} }

func (t *pgTx) Publish(event notify.Event) {
	t.events = append(t.events, event)
}
