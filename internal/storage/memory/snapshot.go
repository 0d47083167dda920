package memory

import (
	"fmt"
	"maps"
	"slices"

	caseModels "mortuary/internal/caserecord/models"
	clearanceModels "mortuary/internal/clearance/models"
	custodyModels "mortuary/internal/custody/models"
	retrievalModels "mortuary/internal/retrieval/models"
	slotModels "mortuary/internal/slot/models"
	"mortuary/internal/storage"
	id "mortuary/pkg/domain"
	"mortuary/pkg/platform/audit"
)

type gateKey struct {
	caseID id.CaseID
	gate   clearanceModels.GateType
}

// snapshot is an immutable view of committed state. A commit builds a new
// snapshot, cloning only the maps it touches, and swaps it in atomically.
type snapshot struct {
	cases      map[id.CaseID]caseModels.CaseRecord
	caseCodes  map[string]id.CaseID
	slots      map[id.SlotID]slotModels.Slot
	slotCodes  map[string]id.SlotID
	occupants  map[id.CaseID]id.SlotID
	transfers  map[id.CaseID][]custodyModels.TransferRecord
	gates      map[gateKey]clearanceModels.Gate
	retrievals map[id.CaseID]retrievalModels.RetrievalRecord
	acts       map[id.SignedActID]retrievalModels.SignedAct
	audit      map[id.CaseID][]audit.Event
}

func emptySnapshot() *snapshot {
	return &snapshot{
		cases:      map[id.CaseID]caseModels.CaseRecord{},
		caseCodes:  map[string]id.CaseID{},
		slots:      map[id.SlotID]slotModels.Slot{},
		slotCodes:  map[string]id.SlotID{},
		occupants:  map[id.CaseID]id.SlotID{},
		transfers:  map[id.CaseID][]custodyModels.TransferRecord{},
		gates:      map[gateKey]clearanceModels.Gate{},
		retrievals: map[id.CaseID]retrievalModels.RetrievalRecord{},
		acts:       map[id.SignedActID]retrievalModels.SignedAct{},
		audit:      map[id.CaseID][]audit.Event{},
	}
}

// validate checks every staged write against cur. It runs under the commit
// lock, so cur cannot change underneath it.
func (t *memTx) validate(cur *snapshot) error {
	for caseID, w := range t.cases {
		existing, ok := cur.cases[caseID]
		if w.create {
			if ok {
				return errAlreadyUsed("case id")
			}
			if _, taken := cur.caseCodes[w.rec.Code]; taken {
				return errAlreadyUsed("case code")
			}
			continue
		}
		if !ok || existing.Version != w.baseVersion {
			return errConflict("case version")
		}
	}

	for slotID, w := range t.slots {
		existing, ok := cur.slots[slotID]
		if w.create {
			if ok {
				return errAlreadyUsed("slot id")
			}
			if _, taken := cur.slotCodes[w.rec.Code]; taken {
				return errAlreadyUsed("slot code")
			}
		} else if !ok || existing.Version != w.baseVersion {
			return fmt.Errorf("slot %s: %w", slotID, storage.ErrSlotChanged)
		}
		if w.rec.State != slotModels.StateOccupied {
			continue
		}
		other, taken := cur.occupants[w.rec.OccupantCaseID]
		if !taken || other == slotID {
			continue
		}
		// The other slot may be released by this same transaction.
		if ow, staged := t.slots[other]; staged && !ow.rec.IsOccupiedBy(w.rec.OccupantCaseID) {
			continue
		}
		return fmt.Errorf("slot %s: %w", slotID, storage.ErrOccupantTaken)
	}

	for caseID, w := range t.transfers {
		if len(cur.transfers[caseID]) != w.baseLen {
			return fmt.Errorf("case %s: %w", caseID, storage.ErrCustodyHeadMoved)
		}
	}

	for key, w := range t.gates {
		existing, ok := cur.gates[key]
		if w.create {
			if ok {
				return errAlreadyUsed("clearance gate")
			}
			continue
		}
		if !ok || existing.Version != w.baseVersion {
			return errConflict("clearance gate version")
		}
	}

	for caseID := range t.retrievals {
		if _, ok := cur.retrievals[caseID]; ok {
			return errAlreadyUsed("retrieval record")
		}
	}

	for actID, a := range t.acts {
		if existing, ok := cur.acts[actID]; ok && existing.CaseID != a.CaseID {
			return errConflict("signed act case")
		}
	}
	return nil
}

// apply returns cur with every staged write applied. validate must pass first.
// Each touched table is cloned whole, so a commit costs O(table size).
func (t *memTx) apply(cur *snapshot) *snapshot {
	next := *cur

	if len(t.cases) > 0 {
		next.cases = maps.Clone(cur.cases)
		next.caseCodes = maps.Clone(cur.caseCodes)
		for caseID, w := range t.cases {
			next.cases[caseID] = w.rec
			next.caseCodes[w.rec.Code] = caseID
		}
	}

	if len(t.slots) > 0 {
		next.slots = maps.Clone(cur.slots)
		next.slotCodes = maps.Clone(cur.slotCodes)
		next.occupants = maps.Clone(cur.occupants)
		for slotID, w := range t.slots {
			if old, ok := cur.slots[slotID]; ok && old.State == slotModels.StateOccupied {
				if next.occupants[old.OccupantCaseID] == slotID {
					delete(next.occupants, old.OccupantCaseID)
				}
			}
			next.slots[slotID] = w.rec
			next.slotCodes[w.rec.Code] = slotID
		}
		for slotID, w := range t.slots {
			if w.rec.State == slotModels.StateOccupied {
				next.occupants[w.rec.OccupantCaseID] = slotID
			}
		}
	}

	if len(t.transfers) > 0 {
		next.transfers = maps.Clone(cur.transfers)
		for caseID, w := range t.transfers {
			next.transfers[caseID] = slices.Concat(cur.transfers[caseID], w.recs)
		}
	}

	if len(t.gates) > 0 {
		next.gates = maps.Clone(cur.gates)
		for key, w := range t.gates {
			next.gates[key] = w.rec
		}
	}

	if len(t.retrievals) > 0 {
		next.retrievals = maps.Clone(cur.retrievals)
		maps.Copy(next.retrievals, t.retrievals)
	}

	if len(t.acts) > 0 {
		next.acts = maps.Clone(cur.acts)
		maps.Copy(next.acts, t.acts)
	}

	if len(t.audit) > 0 {
		next.audit = maps.Clone(cur.audit)
		for _, e := range t.audit {
			next.audit[e.CaseID] = slices.Concat(next.audit[e.CaseID], []audit.Event{e})
		}
	}
	return &next
}
