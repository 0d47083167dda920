package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	caseModels "mortuary/internal/caserecord/models"
	clearanceModels "mortuary/internal/clearance/models"
	custodyModels "mortuary/internal/custody/models"
	"mortuary/internal/notify"
	retrievalModels "mortuary/internal/retrieval/models"
	slotModels "mortuary/internal/slot/models"
	"mortuary/internal/storage"
	id "mortuary/pkg/domain"
	"mortuary/pkg/platform/audit"
	"mortuary/pkg/platform/sentinel"
	"mortuary/pkg/requestcontext"
)

func errNotFound(what string) error    { return fmt.Errorf("%s: %w", what, sentinel.ErrNotFound) }
func errConflict(what string) error    { return fmt.Errorf("%s: %w", what, sentinel.ErrConflict) }
func errAlreadyUsed(what string) error { return fmt.Errorf("%s: %w", what, sentinel.ErrAlreadyUsed) }

var errReadOnly = fmt.Errorf("write in read-only transaction: %w", sentinel.ErrInvalidState)

type caseWrite struct {
	rec         caseModels.CaseRecord
	create      bool
	baseVersion int64
}

type slotWrite struct {
	rec         slotModels.Slot
	create      bool
	baseVersion int64
}

type gateWrite struct {
	rec         clearanceModels.Gate
	create      bool
	baseVersion int64
}

type transferWrite struct {
	baseLen int
	recs    []custodyModels.TransferRecord
}

// memTx stages writes over a base snapshot. Reads see staged writes first.
type memTx struct {
	base     *snapshot
	readOnly bool

	cases      map[id.CaseID]*caseWrite
	slots      map[id.SlotID]*slotWrite
	transfers  map[id.CaseID]*transferWrite
	gates      map[gateKey]*gateWrite
	retrievals map[id.CaseID]retrievalModels.RetrievalRecord
	acts       map[id.SignedActID]retrievalModels.SignedAct
	audit      []audit.Event
	events     []notify.Event
}

func newTx(base *snapshot, readOnly bool) *memTx {
	return &memTx{
		base:       base,
		readOnly:   readOnly,
		cases:      map[id.CaseID]*caseWrite{},
		slots:      map[id.SlotID]*slotWrite{},
		transfers:  map[id.CaseID]*transferWrite{},
		gates:      map[gateKey]*gateWrite{},
		retrievals: map[id.CaseID]retrievalModels.RetrievalRecord{},
		acts:       map[id.SignedActID]retrievalModels.SignedAct{},
	}
}

func (t *memTx) empty() bool {
	return len(t.cases) == 0 && len(t.slots) == 0 && len(t.transfers) == 0 &&
		len(t.gates) == 0 && len(t.retrievals) == 0 && len(t.acts) == 0 && len(t.audit) == 0
}

func (t *memTx) Cases() storage.CaseStore           { return caseStore{t} }
func (t *memTx) Slots() storage.SlotStore           { return slotStore{t} }
func (t *memTx) Custody() storage.CustodyStore      { return custodyStore{t} }
func (t *memTx) Gates() storage.GateStore           { return gateStore{t} }
func (t *memTx) Retrievals() storage.RetrievalStore { return retrievalStore{t} }
func (t *memTx) Acts() storage.SignedActStore       { return actStore{t} }
func (t *memTx) Audit() audit.Store                 { return auditStore{t} }

func (t *memTx) Publish(event notify.Event) {
	if t.readOnly {
		return
	}
	t.events = append(t.events, event)
}

// Cases

type caseStore struct{ t *memTx }

func (s caseStore) get(caseID id.CaseID) (caseModels.CaseRecord, bool) {
	if w, ok := s.t.cases[caseID]; ok {
		return w.rec, true
	}
	c, ok := s.t.base.cases[caseID]
	return c, ok
}

func (s caseStore) Create(_ context.Context, c *caseModels.CaseRecord) error {
	if s.t.readOnly {
		return errReadOnly
	}
	if _, ok := s.get(c.ID); ok {
		return errAlreadyUsed("case id")
	}
	if _, err := s.FindByCode(context.Background(), c.Code); err == nil {
		return errAlreadyUsed("case code")
	}
	c.Version = 1
	s.t.cases[c.ID] = &caseWrite{rec: *c, create: true}
	return nil
}

func (s caseStore) FindByID(_ context.Context, caseID id.CaseID) (*caseModels.CaseRecord, error) {
	c, ok := s.get(caseID)
	if !ok {
		return nil, errNotFound("case")
	}
	return &c, nil
}

func (s caseStore) FindByCode(ctx context.Context, code string) (*caseModels.CaseRecord, error) {
	for _, w := range s.t.cases {
		if w.create && w.rec.Code == code {
			c := w.rec
			return &c, nil
		}
	}
	if caseID, ok := s.t.base.caseCodes[code]; ok {
		return s.FindByID(ctx, caseID)
	}
	return nil, errNotFound("case")
}

func (s caseStore) Update(_ context.Context, c *caseModels.CaseRecord) error {
	if s.t.readOnly {
		return errReadOnly
	}
	current, ok := s.get(c.ID)
	if !ok {
		return errNotFound("case")
	}
	if current.Version != c.Version {
		return errConflict("case version")
	}
	w, staged := s.t.cases[c.ID]
	if !staged {
		w = &caseWrite{baseVersion: current.Version}
		s.t.cases[c.ID] = w
	}
	c.Version++
	w.rec = *c
	return nil
}

func (s caseStore) ListByState(_ context.Context, states ...caseModels.State) ([]*caseModels.CaseRecord, error) {
	var out []*caseModels.CaseRecord
	keep := func(c caseModels.CaseRecord) {
		if len(states) == 0 || slices.Contains(states, c.State) {
			out = append(out, &c)
		}
	}
	for caseID, c := range s.t.base.cases {
		if _, staged := s.t.cases[caseID]; !staged {
			keep(c)
		}
	}
	for _, w := range s.t.cases {
		keep(w.rec)
	}
	slices.SortFunc(out, func(a, b *caseModels.CaseRecord) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.Code, b.Code))
	})
	return out, nil
}

// Slots

type slotStore struct{ t *memTx }

func (s slotStore) get(slotID id.SlotID) (slotModels.Slot, bool) {
	if w, ok := s.t.slots[slotID]; ok {
		return w.rec, true
	}
	sl, ok := s.t.base.slots[slotID]
	return sl, ok
}

func (s slotStore) Create(_ context.Context, sl *slotModels.Slot) error {
	if s.t.readOnly {
		return errReadOnly
	}
	if _, ok := s.get(sl.ID); ok {
		return errAlreadyUsed("slot id")
	}
	if _, taken := s.t.base.slotCodes[sl.Code]; taken {
		return errAlreadyUsed("slot code")
	}
	for _, w := range s.t.slots {
		if w.create && w.rec.Code == sl.Code {
			return errAlreadyUsed("slot code")
		}
	}
	sl.Version = 1
	s.t.slots[sl.ID] = &slotWrite{rec: *sl, create: true}
	return nil
}

func (s slotStore) FindByID(_ context.Context, slotID id.SlotID) (*slotModels.Slot, error) {
	sl, ok := s.get(slotID)
	if !ok {
		return nil, errNotFound("slot")
	}
	return &sl, nil
}

func (s slotStore) FindByOccupant(_ context.Context, caseID id.CaseID) (*slotModels.Slot, error) {
	for _, w := range s.t.slots {
		if w.rec.IsOccupiedBy(caseID) {
			sl := w.rec
			return &sl, nil
		}
	}
	if slotID, ok := s.t.base.occupants[caseID]; ok {
		if sl, _ := s.get(slotID); sl.IsOccupiedBy(caseID) {
			return &sl, nil
		}
	}
	return nil, errNotFound("slot occupant")
}

func (s slotStore) List(_ context.Context, states ...slotModels.State) ([]*slotModels.Slot, error) {
	var out []*slotModels.Slot
	keep := func(sl slotModels.Slot) {
		if len(states) == 0 || slices.Contains(states, sl.State) {
			out = append(out, &sl)
		}
	}
	for slotID, sl := range s.t.base.slots {
		if _, staged := s.t.slots[slotID]; !staged {
			keep(sl)
		}
	}
	for _, w := range s.t.slots {
		keep(w.rec)
	}
	slices.SortFunc(out, func(a, b *slotModels.Slot) int { return cmp.Compare(a.Code, b.Code) })
	return out, nil
}

func (s slotStore) CompareAndSwap(ctx context.Context, next *slotModels.Slot, expected slotModels.State) error {
	if s.t.readOnly {
		return errReadOnly
	}
	current, ok := s.get(next.ID)
	if !ok {
		return errNotFound("slot")
	}
	if current.State != expected || current.Version != next.Version {
		return fmt.Errorf("slot %s: %w", next.ID, storage.ErrSlotChanged)
	}
	if next.State == slotModels.StateOccupied {
		if other, err := s.FindByOccupant(ctx, next.OccupantCaseID); err == nil && other.ID != next.ID {
			return fmt.Errorf("slot %s: %w", next.ID, storage.ErrOccupantTaken)
		}
	}
	w, staged := s.t.slots[next.ID]
	if !staged {
		w = &slotWrite{baseVersion: current.Version}
		s.t.slots[next.ID] = w
	}
	next.Version++
	w.rec = *next
	return nil
}

// Custody

type custodyStore struct{ t *memTx }

func (s custodyStore) all(caseID id.CaseID) []custodyModels.TransferRecord {
	base := s.t.base.transfers[caseID]
	if w, ok := s.t.transfers[caseID]; ok {
		return slices.Concat(base, w.recs)
	}
	return base
}

func (s custodyStore) Append(_ context.Context, rec *custodyModels.TransferRecord) error {
	if s.t.readOnly {
		return errReadOnly
	}
	recs := s.all(rec.CaseID)
	if rec.Seq != int64(len(recs))+1 {
		return fmt.Errorf("case %s: %w", rec.CaseID, storage.ErrCustodyHeadMoved)
	}
	w, ok := s.t.transfers[rec.CaseID]
	if !ok {
		w = &transferWrite{baseLen: len(s.t.base.transfers[rec.CaseID])}
		s.t.transfers[rec.CaseID] = w
	}
	w.recs = append(w.recs, *rec)
	return nil
}

func (s custodyStore) Head(_ context.Context, caseID id.CaseID) (*custodyModels.TransferRecord, error) {
	recs := s.all(caseID)
	if len(recs) == 0 {
		return nil, errNotFound("custody record")
	}
	head := recs[len(recs)-1]
	return &head, nil
}

func (s custodyStore) ListByCase(_ context.Context, caseID id.CaseID) ([]*custodyModels.TransferRecord, error) {
	recs := s.all(caseID)
	out := make([]*custodyModels.TransferRecord, len(recs))
	for i := range recs {
		rec := recs[i]
		out[i] = &rec
	}
	return out, nil
}

// Gates

type gateStore struct{ t *memTx }

func (s gateStore) get(key gateKey) (clearanceModels.Gate, bool) {
	if w, ok := s.t.gates[key]; ok {
		return w.rec, true
	}
	g, ok := s.t.base.gates[key]
	return g, ok
}

func (s gateStore) Create(_ context.Context, g *clearanceModels.Gate) error {
	if s.t.readOnly {
		return errReadOnly
	}
	key := gateKey{g.CaseID, g.Type}
	if _, ok := s.get(key); ok {
		return errAlreadyUsed("clearance gate")
	}
	g.Version = 1
	s.t.gates[key] = &gateWrite{rec: *g, create: true}
	return nil
}

func (s gateStore) Find(_ context.Context, caseID id.CaseID, t clearanceModels.GateType) (*clearanceModels.Gate, error) {
	g, ok := s.get(gateKey{caseID, t})
	if !ok {
		return nil, errNotFound("clearance gate")
	}
	return &g, nil
}

func (s gateStore) ListByCase(ctx context.Context, caseID id.CaseID) ([]*clearanceModels.Gate, error) {
	var out []*clearanceModels.Gate
	for _, t := range clearanceModels.GateTypes() {
		if g, err := s.Find(ctx, caseID, t); err == nil {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s gateStore) Update(_ context.Context, g *clearanceModels.Gate) error {
	if s.t.readOnly {
		return errReadOnly
	}
	key := gateKey{g.CaseID, g.Type}
	current, ok := s.get(key)
	if !ok {
		return errNotFound("clearance gate")
	}
	if current.Version != g.Version {
		return errConflict("clearance gate version")
	}
	w, staged := s.t.gates[key]
	if !staged {
		w = &gateWrite{baseVersion: current.Version}
		s.t.gates[key] = w
	}
	g.Version++
	w.rec = *g
	return nil
}

// Retrievals

type retrievalStore struct{ t *memTx }

func (s retrievalStore) Create(ctx context.Context, r *retrievalModels.RetrievalRecord) error {
	if s.t.readOnly {
		return errReadOnly
	}
	if _, err := s.FindByCase(ctx, r.CaseID); err == nil {
		return errAlreadyUsed("retrieval record")
	}
	s.t.retrievals[r.CaseID] = *r
	return nil
}

func (s retrievalStore) FindByCase(_ context.Context, caseID id.CaseID) (*retrievalModels.RetrievalRecord, error) {
	if r, ok := s.t.retrievals[caseID]; ok {
		return &r, nil
	}
	if r, ok := s.t.base.retrievals[caseID]; ok {
		return &r, nil
	}
	return nil, errNotFound("retrieval record")
}

// Signed acts

type actStore struct{ t *memTx }

func (s actStore) Save(ctx context.Context, a *retrievalModels.SignedAct) error {
	if s.t.readOnly {
		return errReadOnly
	}
	if existing, err := s.FindByID(ctx, a.ID); err == nil && existing.CaseID != a.CaseID {
		return errConflict("signed act case")
	}
	s.t.acts[a.ID] = *a
	return nil
}

func (s actStore) FindByID(_ context.Context, actID id.SignedActID) (*retrievalModels.SignedAct, error) {
	if a, ok := s.t.acts[actID]; ok {
		return &a, nil
	}
	if a, ok := s.t.base.acts[actID]; ok {
		return &a, nil
	}
	return nil, errNotFound("signed act")
}

// Audit

type auditStore struct{ t *memTx }

func (s auditStore) Append(ctx context.Context, event audit.Event) error {
	if s.t.readOnly {
		return errReadOnly
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	s.t.audit = append(s.t.audit, event)
	return nil
}

func (s auditStore) ListByCase(_ context.Context, caseID id.CaseID) ([]audit.Event, error) {
	out := slices.Clone(s.t.base.audit[caseID])
	for _, e := range s.t.audit {
		if e.CaseID == caseID {
			out = append(out, e)
		}
	}
	return out, nil
}
