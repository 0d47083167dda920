package memory

import (
	"context"
	"sync"

	id "mortuary/pkg/domain"
)

// caseLocks hands out one lock per case. Entries are refcounted and removed
// when unused so the map tracks only cases with work in flight.
type caseLocks struct {
	mu    sync.Mutex
	locks map[id.CaseID]*caseLock
}

type caseLock struct {
	ch   chan struct{}
	refs int
}

func newCaseLocks() *caseLocks {
	return &caseLocks{locks: make(map[id.CaseID]*caseLock)}
}

// lock blocks until the case lock is held or ctx is done.
func (l *caseLocks) lock(ctx context.Context, caseID id.CaseID) (func(), error) {
	l.mu.Lock()
	cl, ok := l.locks[caseID]
	if !ok {
		cl = &caseLock{ch: make(chan struct{}, 1)}
		l.locks[caseID] = cl
	}
	cl.refs++
	l.mu.Unlock()

	select {
	case cl.ch <- struct{}{}:
		return func() {
			<-cl.ch
			l.release(caseID, cl)
		}, nil
	case <-ctx.Done():
		l.release(caseID, cl)
		return nil, ctx.Err()
	}
}

func (l *caseLocks) release(caseID id.CaseID, cl *caseLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cl.refs--
	if cl.refs == 0 {
		delete(l.locks, caseID)
	}
}

func (l *caseLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
