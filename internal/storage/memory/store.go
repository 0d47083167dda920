// Package memory is an in-process storage engine.
//
// Committed state lives in an immutable snapshot behind an atomic pointer.
// Readers load the pointer and never lock. A transaction stages writes over
// the snapshot it started from; commit validates them against the latest
// snapshot under a single commit lock (optimistic versions, slot states,
// unique codes and occupants, custody heads) and swaps in a new snapshot.
// A slot that changed since it was read fails the commit with
// sentinel.ErrConflict instead of waiting.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"mortuary/internal/notify"
	"mortuary/internal/storage"
	id "mortuary/pkg/domain"
	dErrors "mortuary/pkg/domain-errors"
)

const defaultTxTimeout = 5 * time.Second

// Store implements storage.Transactor in memory.
type Store struct {
	state     atomic.Pointer[snapshot]
	commitMu  sync.Mutex
	locks     *caseLocks
	publisher notify.Publisher
	timeout   time.Duration
	logger    *slog.Logger
}

type Option func(*Store)

// WithPublisher sets where committed notifications go.
func WithPublisher(p notify.Publisher) Option {
	return func(s *Store) { s.publisher = p }
}

// WithTxTimeout bounds transactions whose context has no deadline.
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

func New(opts ...Option) *Store {
	s := &Store{
		locks:     newCaseLocks(),
		publisher: notify.Discard{},
		timeout:   defaultTxTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state.Store(emptySnapshot())
	return s
}

var _ storage.Transactor = (*Store)(nil)

func (s *Store) RunInTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	return s.run(ctx, fn)
}

func (s *Store) RunForCase(ctx context.Context, caseID id.CaseID, fn func(tx storage.Tx) error) error {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	unlock, err := s.locks.lock(ctx, caseID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted waiting for case")
	}
	defer unlock()

	if _, ok := s.state.Load().cases[caseID]; !ok {
		return errNotFound("case")
	}
	return s.run(ctx, fn)
}

func (s *Store) View(ctx context.Context, fn func(tx storage.Tx) error) error {
	return fn(newTx(s.state.Load(), true))
}

func (s *Store) begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := ctx.Err(); err != nil {
		return ctx, func() {}, dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	return ctx, cancel, nil
}

func (s *Store) run(ctx context.Context, fn func(tx storage.Tx) error) error {
	t := newTx(s.state.Load(), false)
	if err := fn(t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted before commit")
	}
	if err := s.commit(t); err != nil {
		return err
	}
	for _, event := range t.events {
		s.publisher.Publish(ctx, event)
	}
	return nil
}

func (s *Store) commit(t *memTx) error {
	if t.empty() {
		return nil
	}
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	cur := s.state.Load()
	if err := t.validate(cur); err != nil {
		s.logger.Debug("commit rejected", "error", err)
		return err
	}
	s.state.Store(t.apply(cur))
	return nil
}
