package ecs

import (
	"sync"

	"github.com/argus-labs/ecsruntime/pkg/assert"
	"github.com/rotisserie/eris"
)

// ArchetypeManager owns every archetype of a world. It resolves signatures to archetypes, creating
// them on demand, caches the archetype lists of queries and the column copy plans used to move
// entities between archetypes.
//
// Archetypes are only created while commands are applied, never while systems run, so the
// archetype list needs no locking. The query cache is filled lazily from system code and is
// guarded by a mutex.
type ArchetypeManager struct {
	registry   *componentRegistry
	owner      archetypeOwner
	capacity   int
	archetypes []*Archetype                 // Index is the archetype ID
	byKey      map[signatureKey]archetypeID // Fast path lookup, verified by signature equality

	queryMu sync.RWMutex
	queries map[ComponentSignature]*queryResult

	transitions map[transitionKey]*transition
}

type queryResult struct {
	archetypes []*Archetype
}

// transitionKey identifies a move from one archetype to another.
type transitionKey struct {
	src, dst archetypeID
}

// transition is the cached plan for moving an entity between two archetypes: the pairs of column
// indexes holding the components both archetypes share.
type transition struct {
	src, dst archetypeID
	copies   []columnPair
}

type columnPair struct {
	src, dst int
}

func newArchetypeManager(registry *componentRegistry, owner archetypeOwner, capacity int) *ArchetypeManager {
	return &ArchetypeManager{
		registry:    registry,
		owner:       owner,
		capacity:    capacity,
		archetypes:  make([]*Archetype, 0),
		byKey:       make(map[signatureKey]archetypeID),
		queries:     make(map[ComponentSignature]*queryResult),
		transitions: make(map[transitionKey]*transition),
	}
}

// GetOrCreate returns the archetype with exactly the components of sig, creating it if it doesn't
// exist. Every component of sig must be registered.
func (m *ArchetypeManager) GetOrCreate(sig ComponentSignature) *Archetype {
	key := sig.key()
	if id, ok := m.byKey[key]; ok && m.archetypes[id].signature == sig {
		return m.archetypes[id]
	}

	// Key collision or a signature we haven't indexed: fall back to a scan.
	if arch := m.find(sig); arch != nil {
		return arch
	}

	return m.create(sig, key)
}

// find returns the archetype with exactly sig by scanning every archetype.
func (m *ArchetypeManager) find(sig ComponentSignature) *Archetype {
	for _, arch := range m.archetypes {
		if arch.signature == sig {
			return arch
		}
	}
	return nil
}

func (m *ArchetypeManager) create(sig ComponentSignature, key signatureKey) *Archetype {
	for cid := range sig.All() {
		if !m.registry.registered(cid) {
			panic(eris.Wrapf(ErrComponentNotFound, "cannot create archetype %s with component id %d", sig, cid))
		}
	}

	id := archetypeID(len(m.archetypes))
	arch := newArchetype(id, sig, m.owner, m.capacity)
	for cid := range sig.All() {
		arch.ensureColumn(m.registry.lookup(cid))
	}
	assert.That(len(arch.columns) == sig.Count(), "mismatched number of columns and components")

	m.archetypes = append(m.archetypes, arch)
	if _, taken := m.byKey[key]; !taken {
		m.byKey[key] = id
	}

	// Extend every cached query the new archetype matches instead of dropping the cache.
	m.queryMu.Lock()
	for qsig, result := range m.queries {
		if sig.ContainsAll(qsig) {
			result.archetypes = append(result.archetypes, arch)
		}
	}
	m.queryMu.Unlock()

	m.owner.log.Debug().
		Int("archetype", id).
		Strs("components", m.registry.names(sig)).
		Msg("archetype created")
	return arch
}

// Archetype returns the archetype with the given ID.
func (m *ArchetypeManager) Archetype(id int) *Archetype {
	if id < 0 || id >= len(m.archetypes) {
		panic(eris.Errorf("archetype %d does not exist", id))
	}
	return m.archetypes[id]
}

// Len returns the number of archetypes.
func (m *ArchetypeManager) Len() int {
	return len(m.archetypes)
}

// All returns every archetype ordered by ID. The slice must not be modified.
func (m *ArchetypeManager) All() []*Archetype {
	return m.archetypes
}

// Query returns the archetypes that contain every component in ids. The result is cached and kept
// up to date as archetypes are created. The slice must not be modified.
func (m *ArchetypeManager) Query(ids ...ComponentID) []*Archetype {
	return m.QuerySignature(NewSignature(ids...))
}

// QuerySignature is Query for a prebuilt signature.
func (m *ArchetypeManager) QuerySignature(sig ComponentSignature) []*Archetype {
	m.queryMu.RLock()
	result, ok := m.queries[sig]
	m.queryMu.RUnlock()
	if ok {
		return result.archetypes
	}

	m.queryMu.Lock()
	defer m.queryMu.Unlock()

	// Another goroutine may have filled it while we waited for the lock.
	if result, ok := m.queries[sig]; ok {
		return result.archetypes
	}

	result = &queryResult{archetypes: make([]*Archetype, 0)}
	for _, arch := range m.archetypes {
		if arch.signature.ContainsAll(sig) {
			result.archetypes = append(result.archetypes, arch)
		}
	}
	m.queries[sig] = result
	return result.archetypes
}

// transition returns the cached copy plan for moving entities from src to dst.
func (m *ArchetypeManager) transition(src, dst *Archetype) *transition {
	key := transitionKey{src: src.id, dst: dst.id}
	if plan, ok := m.transitions[key]; ok {
		return plan
	}

	plan := &transition{src: src.id, dst: dst.id, copies: make([]columnPair, 0, len(src.columns))}
	for i, cid := range src.ids {
		if j := dst.index[cid]; j != 0 {
			plan.copies = append(plan.copies, columnPair{src: i, dst: int(j) - 1})
		}
	}
	m.transitions[key] = plan
	return plan
}
