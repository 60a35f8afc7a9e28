package ecs

import (
	"fmt"
	"math"

	"github.com/argus-labs/ecsruntime/pkg/assert"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Entity is a handle to an entity: the low 32 bits are the slot index and the high 32 bits are the
// version of that slot when the handle was issued. A handle is only valid while its version matches
// the live version of its slot.
type Entity uint64

// MaxEntityIndex is the largest slot index that can be allocated.
const MaxEntityIndex = math.MaxUint32 - 1

func newEntity(index, version uint32) Entity {
	return Entity(uint64(version)<<32 | uint64(index))
}

// Index returns the slot index of the entity.
func (e Entity) Index() uint32 {
	return uint32(e) //nolint:gosec // truncation is intended
}

// Version returns the slot version of the entity.
func (e Entity) Version() uint32 {
	return uint32(e >> 32) //nolint:gosec // it's ok
}

func (e Entity) String() string {
	return fmt.Sprintf("%d:%d", e.Index(), e.Version())
}

// EntityLocation is where an entity's data lives.
type EntityLocation struct {
	Archetype int // Archetype ID
	Row       int // Row in the archetype
}

// entitySlot is the lookup entry of one entity index.
type entitySlot struct {
	version uint32 // Live version; versions start at 1 so the zero Entity is never alive
	alive   bool
	loc     EntityLocation
}

// EntityManager allocates entity handles and maps them to their location. Indexes freed by Destroy
// are recycled in FIFO order with their version bumped, so stale handles never compare equal to
// new ones.
//
// All mutating methods must be called from the goroutine that owns the world. Read-only methods
// are safe to call from systems while a batch runs.
type EntityManager struct {
	archetypes *ArchetypeManager
	slots      []entitySlot // Index -> slot
	free       []uint32     // A queue of free indexes
	alive      int
	log        zerolog.Logger
}

var _ locationUpdater = (*EntityManager)(nil)

func newEntityManager(archetypes *ArchetypeManager, log zerolog.Logger) *EntityManager {
	return &EntityManager{
		archetypes: archetypes,
		slots:      make([]entitySlot, 0),
		free:       make([]uint32, 0),
		log:        log,
	}
}

// Create creates an entity with no components.
func (em *EntityManager) Create() (Entity, error) {
	return em.CreateWithSignature(ComponentSignature{})
}

// CreateWithSignature creates an entity directly in the archetype of sig. Its components hold
// their zero values.
func (em *EntityManager) CreateWithSignature(sig ComponentSignature) (Entity, error) {
	index, err := em.allocate()
	if err != nil {
		return 0, err
	}

	slot := &em.slots[index]
	e := newEntity(index, slot.version)

	arch := em.archetypes.GetOrCreate(sig)
	row := arch.addEntity(e)

	slot.alive = true
	slot.loc = EntityLocation{Archetype: arch.id, Row: row}
	em.alive++
	return e, nil
}

// allocate pops the oldest free index, or appends a new one if the free list is empty.
func (em *EntityManager) allocate() (uint32, error) {
	if len(em.free) > 0 {
		index := em.free[0]
		em.free = em.free[1:]
		return index, nil
	}

	if len(em.slots) > MaxEntityIndex {
		return 0, ErrEntityLimit
	}
	em.slots = append(em.slots, entitySlot{version: 1})
	return uint32(len(em.slots) - 1), nil //nolint:gosec // bounded by MaxEntityIndex
}

// Destroy removes the entity and frees its index. It returns false if the entity is not alive.
func (em *EntityManager) Destroy(e Entity) bool {
	if !em.IsAlive(e) {
		return false
	}

	slot := &em.slots[e.Index()]
	arch := em.archetypes.Archetype(slot.loc.Archetype)
	ok := arch.removeAtSwap(slot.loc.Row, e)
	assert.That(ok, "entity %s isn't at its recorded row", e)

	slot.alive = false
	slot.loc = EntityLocation{}
	slot.version++
	if slot.version == 0 { // Wrapped around, skip the version reserved for the zero Entity.
		slot.version = 1
	}
	em.free = append(em.free, e.Index())
	em.alive--
	return true
}

// IsAlive reports whether the handle refers to a live entity: its index is in range, its version
// is the live version of the index, and the index has a location.
func (em *EntityManager) IsAlive(e Entity) bool {
	index := e.Index()
	if int(index) >= len(em.slots) {
		return false
	}
	slot := &em.slots[index]
	return slot.version == e.Version() && slot.alive
}

// TryGetLocation returns the location of a live entity.
func (em *EntityManager) TryGetLocation(e Entity) (EntityLocation, bool) {
	if !em.IsAlive(e) {
		return EntityLocation{}, false
	}
	return em.slots[e.Index()].loc, true
}

// UpdateLookup records the location of the live entity at index.
func (em *EntityManager) UpdateLookup(index uint32, arch, row int) {
	assert.That(int(index) < len(em.slots) && em.slots[index].alive, "lookup update for dead index %d", index)
	em.slots[index].loc = EntityLocation{Archetype: arch, Row: row}
}

func (em *EntityManager) updateLookup(e Entity, arch archetypeID, row int) {
	em.UpdateLookup(e.Index(), arch, row)
}

// Len returns the number of live entities.
func (em *EntityManager) Len() int {
	return em.alive
}

// archetypeOf returns the archetype and row of a live entity.
func (em *EntityManager) archetypeOf(e Entity) (*Archetype, int, error) {
	loc, ok := em.TryGetLocation(e)
	if !ok {
		return nil, 0, eris.Wrapf(ErrEntityNotFound, "entity %s", e)
	}
	return em.archetypes.Archetype(loc.Archetype), loc.Row, nil
}

// -------------------------------------------------------------------------------------------------
// Structural changes
// -------------------------------------------------------------------------------------------------

// addComponent sets a component on the entity. If the entity already has the component its value
// is overwritten in place, otherwise the entity moves to the archetype with the component added.
func (em *EntityManager) addComponent(e Entity, id ComponentID, value Component) error {
	arch, row, err := em.archetypeOf(e)
	if err != nil {
		return err
	}
	if value == nil {
		return eris.Errorf("nil value for component %d", id)
	}
	if !em.archetypes.registry.registered(id) {
		return eris.Wrapf(ErrComponentNotFound, "component id %d", id)
	}
	if ct := em.archetypes.registry.lookup(id); !ct.isType(value) {
		return eris.Errorf("value %s is not of component type %s", value.Name(), ct.name)
	}

	if arch.Has(id) {
		arch.mustColumn(id).setAbstract(row, value)
		return nil
	}

	target := em.archetypes.GetOrCreate(arch.signature.With(id))
	em.move(e, arch, row, target, &componentValue{id: id, value: value})
	return nil
}

// removeComponent removes a component from the entity. Removing a component the entity doesn't
// have is a no-op.
func (em *EntityManager) removeComponent(e Entity, id ComponentID) error {
	arch, row, err := em.archetypeOf(e)
	if err != nil {
		return err
	}
	if !arch.Has(id) {
		return nil
	}

	target := em.archetypes.GetOrCreate(arch.signature.Without(id))
	em.move(e, arch, row, target, nil)
	return nil
}

func (em *EntityManager) move(e Entity, src *Archetype, row int, dst *Archetype, set *componentValue) {
	plan := em.archetypes.transition(src, dst)
	newRow := src.moveEntityTo(row, dst, plan, set)
	em.UpdateLookup(e.Index(), dst.id, newRow)
}
