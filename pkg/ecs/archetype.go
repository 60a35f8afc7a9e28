package ecs

import (
	"iter"

	"github.com/argus-labs/ecsruntime/pkg/assert"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// archetypeID is the index of an archetype in the archetype manager. It is stable for the lifetime
// of the world since archetypes are never destroyed.
type archetypeID = int

// locationUpdater receives the new location of an entity that was relocated by a swap-remove.
type locationUpdater interface {
	updateLookup(e Entity, arch archetypeID, row int)
}

// archetypeOwner is the owning context injected into every archetype at construction. It replaces
// any notion of a global current world, so several worlds can live in one process.
type archetypeOwner struct {
	locations locationUpdater
	log       *zerolog.Logger
}

// Archetype stores all entities that share exactly the same set of component types. Component
// data is stored as one column per component type, and row i of every column belongs to
// entities[i].
type Archetype struct {
	id        archetypeID
	signature ComponentSignature        // Bound at construction, never mutated
	entities  []Entity                  // List of entities of this archetype
	ids       []ComponentID             // Component ID of columns[i], parallel to columns
	columns   []abstractColumn          // List of columns containing component data
	index     [MaxComponentTypes]uint16 // Component ID -> column index + 1, 0 when absent
	owner     archetypeOwner
	capacity  int
}

// newArchetype creates an empty archetype for sig. Columns are attached afterwards with
// ensureColumn, once per component type of the signature.
func newArchetype(id archetypeID, sig ComponentSignature, owner archetypeOwner, capacity int) *Archetype {
	assert.That(owner.locations != nil && owner.log != nil, "archetype owner must be set")
	if capacity <= 0 {
		capacity = defaultColumnCapacity
	}
	return &Archetype{
		id:        id,
		signature: sig,
		entities:  make([]Entity, 0, capacity),
		ids:       make([]ComponentID, 0, 1),
		columns:   make([]abstractColumn, 0, 1),
		owner:     owner,
		capacity:  capacity,
	}
}

// ensureColumn attaches storage for the component to the archetype. The column is created from
// the registration-time factory the first time and reused afterwards.
func (a *Archetype) ensureColumn(ct *componentType) abstractColumn {
	if col, ok := a.column(ct.id); ok {
		return col
	}
	assert.That(a.signature.Has(ct.id), "component %s is not part of archetype %d", ct.name, a.id)
	assert.That(len(a.entities) == 0, "columns must be attached before entities are added")

	// Grow the parallel arrays geometrically.
	if len(a.columns) == cap(a.columns) {
		newCap := max(2*cap(a.columns), 1)
		ids := make([]ComponentID, len(a.ids), newCap)
		copy(ids, a.ids)
		columns := make([]abstractColumn, len(a.columns), newCap)
		copy(columns, a.columns)
		a.ids, a.columns = ids, columns
	}

	col := ct.factory(a.capacity)
	a.ids = append(a.ids, ct.id)
	a.columns = append(a.columns, col)
	a.index[ct.id] = uint16(len(a.columns)) //nolint:gosec // at most MaxComponentTypes columns
	return col
}

// ID returns the stable index of the archetype.
func (a *Archetype) ID() int {
	return a.id
}

// Signature returns the component signature of the archetype.
func (a *Archetype) Signature() ComponentSignature {
	return a.signature
}

// Len returns the number of entities in the archetype.
func (a *Archetype) Len() int {
	return len(a.entities)
}

// Entities returns the entities of the archetype in row order. The slice must not be modified.
func (a *Archetype) Entities() []Entity {
	return a.entities
}

// Has reports whether the archetype stores the component.
func (a *Archetype) Has(id ComponentID) bool {
	return a.signature.Has(id)
}

// Rows yields the row and entity of every entity in the archetype.
func (a *Archetype) Rows() iter.Seq2[int, Entity] {
	return func(yield func(int, Entity) bool) {
		for row, e := range a.entities {
			if !yield(row, e) {
				return
			}
		}
	}
}

// column returns the column storing id.
func (a *Archetype) column(id ComponentID) (abstractColumn, bool) {
	i := a.index[id]
	if i == 0 {
		return nil, false
	}
	return a.columns[i-1], true
}

// mustColumn returns the column storing id. Asking an archetype for a component it does not have
// is a programmer error.
func (a *Archetype) mustColumn(id ComponentID) abstractColumn {
	col, ok := a.column(id)
	if !ok {
		panic(eris.Wrapf(ErrComponentNotFound, "component %d in archetype %d %s", id, a.id, a.signature))
	}
	return col
}

func (a *Archetype) checkRow(row int) {
	if row < 0 || row >= len(a.entities) {
		panic(eris.Errorf("row %d out of range for archetype %d with %d entities", row, a.id, len(a.entities)))
	}
}

// -------------------------------------------------------------------------------------------------
// Entity operations
// -------------------------------------------------------------------------------------------------

// addEntity appends the entity to the archetype and returns its row. Every column is extended with
// the zero value so the column lengths keep matching the entities slice.
func (a *Archetype) addEntity(e Entity) int {
	a.entities = append(a.entities, e)

	for _, column := range a.columns {
		column.extend()
		assert.That(column.len() == len(a.entities), "column components length doesn't match entities")
	}

	return len(a.entities) - 1
}

// removeAtSwap removes the entity at row by swapping the last entity into its place. expected is
// the entity the caller believes lives at row; if it does not, nothing is changed and false is
// returned. When another entity is relocated into row, the owner is told its new location.
func (a *Archetype) removeAtSwap(row int, expected Entity) bool {
	a.checkRow(row)
	if a.entities[row] != expected {
		a.owner.log.Warn().
			Int("archetype", a.id).
			Int("row", row).
			Stringer("expected", expected).
			Stringer("found", a.entities[row]).
			Msg("swap-remove slot mismatch, skipping")
		return false
	}

	lastIndex := len(a.entities) - 1

	// Swap the entity to remove with the last entity in the array.
	a.entities[row] = a.entities[lastIndex]
	// Truncate the array to remove the last entity.
	a.entities = a.entities[:lastIndex]

	// Remove the components of the entity.
	for _, column := range a.columns {
		column.remove(row)
		assert.That(column.len() == len(a.entities), "column components length doesn't match entities")
	}

	// If the entity is the last item in the slice, nothing is swapped so we can just return.
	if row == lastIndex {
		return true
	}

	a.owner.locations.updateLookup(a.entities[row], a.id, row)
	return true
}

// componentValue is a single component value addressed by its type ID.
type componentValue struct {
	id    ComponentID
	value Component
}

// moveEntityTo moves the entity at row into target and returns its row there. Shared components
// are copied with the typed plan, set (if not nil) is written into the target afterwards, and the
// entity is then swap-removed from this archetype. The moved entity's own location is left for the
// caller to record.
func (a *Archetype) moveEntityTo(row int, target *Archetype, plan *transition, set *componentValue) int {
	a.checkRow(row)
	assert.That(a != target, "entity moved into its existing archetype")
	assert.That(plan.src == a.id && plan.dst == target.id, "transition plan doesn't match archetypes")

	e := a.entities[row]
	newRow := target.addEntity(e)

	for _, p := range plan.copies {
		a.columns[p.src].copyRow(target.columns[p.dst], newRow, row)
	}
	if set != nil {
		target.mustColumn(set.id).setAbstract(newRow, set.value)
	}

	ok := a.removeAtSwap(row, e)
	assert.That(ok, "moved entity isn't at its source row")
	return newRow
}

// -------------------------------------------------------------------------------------------------
// Typed component access
// -------------------------------------------------------------------------------------------------

// typedColumn returns the column of id as a *column[T]. A type mismatch is a programmer error.
func typedColumn[T Component](a *Archetype, id ComponentID) *column[T] {
	col, ok := a.mustColumn(id).(*column[T])
	if !ok {
		var zero T
		panic(eris.Errorf("component %d of archetype %d is not of type %s", id, a.id, zero.Name()))
	}
	return col
}

// ComponentSpan returns the contiguous values of component id, indexed by row. The span aliases
// the archetype's storage and is valid until the next structural change.
func ComponentSpan[T Component](a *Archetype, id ComponentID) []T {
	return typedColumn[T](a, id).components
}

// ComponentValue returns the value of component id at row.
func ComponentValue[T Component](a *Archetype, id ComponentID, row int) T {
	return typedColumn[T](a, id).get(row)
}

// SetComponentValue sets the value of component id at row.
func SetComponentValue[T Component](a *Archetype, id ComponentID, row int, value T) {
	typedColumn[T](a, id).set(row, value)
}

// components returns the boxed components of the entity at row, in column order.
func (a *Archetype) components(row int) []Component {
	a.checkRow(row)
	out := make([]Component, len(a.columns))
	for i, col := range a.columns {
		out[i] = col.getAbstract(row)
	}
	return out
}
