package ecs

import (
	"testing"

	. "github.com/argus-labs/ecsruntime/pkg/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchetype_SwapRemoveUpdatesMovedEntity(t *testing.T) {
	t.Parallel()
	w, ids := newTestWorld(t, WorldOptions{})

	e1 := spawnNow(t, w, cv(ids.health, Health{Value: 1}))
	e2 := spawnNow(t, w, cv(ids.health, Health{Value: 2}))
	e3 := spawnNow(t, w, cv(ids.health, Health{Value: 3}))

	loc1, _ := w.TryGetLocation(e1)
	arch := w.Archetypes().Archetype(loc1.Archetype)
	require.Equal(t, []Entity{e1, e2, e3}, arch.Entities())

	require.True(t, w.Entities().Destroy(e1))

	// e3 was the last row and now fills row 0.
	assert.Equal(t, []Entity{e3, e2}, arch.Entities())
	loc3, ok := w.TryGetLocation(e3)
	require.True(t, ok)
	assert.Equal(t, EntityLocation{Archetype: arch.ID(), Row: 0}, loc3)
	assert.Equal(t, Health{Value: 3}, ComponentValue[Health](arch, ids.health, 0))
	assert.Equal(t, Health{Value: 2}, ComponentValue[Health](arch, ids.health, 1))
	requireValid(t, w)
}

func TestArchetype_SwapRemoveMismatchIsNoOp(t *testing.T) {
	t.Parallel()
	w, ids := newTestWorld(t, WorldOptions{})

	e1 := spawnNow(t, w, cv(ids.pos, Position{X: 1}))
	e2 := spawnNow(t, w, cv(ids.pos, Position{X: 2}))
	loc, _ := w.TryGetLocation(e1)
	arch := w.Archetypes().Archetype(loc.Archetype)

	assert.False(t, arch.removeAtSwap(0, e2))
	assert.Equal(t, []Entity{e1, e2}, arch.Entities())
	assert.Equal(t, Position{X: 1}, ComponentValue[Position](arch, ids.pos, 0))
	requireValid(t, w)
}

func TestArchetype_MovePreservesSharedComponents(t *testing.T) {
	t.Parallel()
	w, ids := newTestWorld(t, WorldOptions{})

	// Entity with {position, velocity} moves to {velocity, health}.
	e := spawnNow(t, w, cv(ids.pos, Position{X: 1, Y: 2}), cv(ids.vel, Velocity{X: 3, Y: 4}))
	other := spawnNow(t, w, cv(ids.pos, Position{X: 9}), cv(ids.vel, Velocity{X: 9}))

	require.NoError(t, w.Entities().addComponent(e, ids.health, Health{Value: 7}))
	require.NoError(t, w.Entities().removeComponent(e, ids.pos))

	loc, ok := w.TryGetLocation(e)
	require.True(t, ok)
	arch := w.Archetypes().Archetype(loc.Archetype)
	assert.Equal(t, NewSignature(ids.vel, ids.health), arch.Signature())
	assert.Equal(t, Velocity{X: 3, Y: 4}, ComponentValue[Velocity](arch, ids.vel, loc.Row))
	assert.Equal(t, Health{Value: 7}, ComponentValue[Health](arch, ids.health, loc.Row))

	// The entity that stayed behind is untouched.
	pos, err := GetComponent[Position](w, other, ids.pos)
	require.NoError(t, err)
	assert.Equal(t, Position{X: 9}, pos)
	requireValid(t, w)
}

func TestArchetype_AddExistingComponentOverwrites(t *testing.T) {
	t.Parallel()
	w, ids := newTestWorld(t, WorldOptions{})

	e := spawnNow(t, w, cv(ids.health, Health{Value: 1}))
	before, _ := w.TryGetLocation(e)

	require.NoError(t, w.Entities().addComponent(e, ids.health, Health{Value: 5}))

	after, _ := w.TryGetLocation(e)
	assert.Equal(t, before, after)
	h, err := GetComponent[Health](w, e, ids.health)
	require.NoError(t, err)
	assert.Equal(t, Health{Value: 5}, h)

	// Removing a component the entity doesn't have changes nothing.
	require.NoError(t, w.Entities().removeComponent(e, ids.pos))
	after, _ = w.TryGetLocation(e)
	assert.Equal(t, before, after)
	assert.Equal(t, 1, w.Archetypes().Len())
}

func TestArchetype_AddComponentRejectsWrongType(t *testing.T) {
	t.Parallel()
	w, ids := newTestWorld(t, WorldOptions{})

	e := spawnNow(t, w, cv(ids.health, Health{Value: 1}))
	err := w.Entities().addComponent(e, ids.pos, Velocity{})
	require.Error(t, err)

	loc, _ := w.TryGetLocation(e)
	assert.Equal(t, NewSignature(ids.health), w.Archetypes().Archetype(loc.Archetype).Signature())
}

func TestArchetype_UnknownComponentPanics(t *testing.T) {
	t.Parallel()
	w, ids := newTestWorld(t, WorldOptions{})

	e := spawnNow(t, w, cv(ids.pos, Position{}))
	loc, _ := w.TryGetLocation(e)
	arch := w.Archetypes().Archetype(loc.Archetype)

	assert.Panics(t, func() { w.Archetypes().GetOrCreate(NewSignature(200)) })
	assert.Panics(t, func() { ComponentSpan[Health](arch, ids.health) }, "component not in archetype")
	assert.Panics(t, func() { ComponentSpan[Velocity](arch, ids.pos) }, "wrong type for column")
	assert.Panics(t, func() { arch.components(1) }, "row out of range")
}

func TestArchetype_ComponentsInColumnOrder(t *testing.T) {
	t.Parallel()
	w, ids := newTestWorld(t, WorldOptions{})

	e := spawnNow(t, w, cv(ids.label, Label{Text: "a"}), cv(ids.pos, Position{X: 1}))
	loc, _ := w.TryGetLocation(e)
	arch := w.Archetypes().Archetype(loc.Archetype)

	assert.Equal(t, []Component{Position{X: 1}, Label{Text: "a"}}, arch.components(loc.Row))
}

type archetypeOp uint8

const (
	opSpawn   archetypeOp = 30
	opDestroy archetypeOp = 20
	opAdd     archetypeOp = 26
	opRemove  archetypeOp = 24
)

var archetypeOps = []archetypeOp{opSpawn, opDestroy, opAdd, opRemove}

// Random structural changes against a model of every live entity's components.
func TestArchetype_RandomStructuralChanges(t *testing.T) {
	t.Parallel()
	prng := NewRand(t)
	w, ids := newTestWorld(t, WorldOptions{InitialCapacity: 1})

	all := []ComponentID{ids.pos, ids.health, ids.label}
	valueOf := func(id ComponentID, n int) Component {
		switch id {
		case ids.pos:
			return Position{X: float64(n)}
		case ids.health:
			return Health{Value: n}
		default:
			return Label{Text: RandString(prng, 4)}
		}
	}

	model := make(map[Entity]map[ComponentID]Component)
	const opsMax = 2000
	for step := range opsMax {
		op := RandWeightedOp(prng, archetypeOps)
		if len(model) == 0 {
			op = opSpawn
		}

		switch op {
		case opSpawn:
			values := make([]componentValue, 0)
			want := make(map[ComponentID]Component)
			for _, id := range all {
				if prng.IntN(2) == 0 {
					v := valueOf(id, step)
					values = append(values, cv(id, v))
					want[id] = v
				}
			}
			model[spawnNow(t, w, values...)] = want
		case opDestroy:
			e := RandMapKey(prng, model)
			require.True(t, w.Entities().Destroy(e), Describe(step, "destroy", e))
			delete(model, e)
			assert.False(t, w.IsAlive(e))
		case opAdd:
			e := RandMapKey(prng, model)
			id := RandSliceElem(prng, all)
			v := valueOf(id, step)
			require.NoError(t, w.Entities().addComponent(e, id, v), Describe(step, "add", e, id))
			model[e][id] = v
		case opRemove:
			e := RandMapKey(prng, model)
			id := RandSliceElem(prng, all)
			require.NoError(t, w.Entities().removeComponent(e, id), Describe(step, "remove", e, id))
			delete(model[e], id)
		}
	}

	requireValid(t, w)
	require.Equal(t, len(model), w.Entities().Len())
	for e, want := range model {
		loc, ok := w.TryGetLocation(e)
		require.True(t, ok)
		arch := w.Archetypes().Archetype(loc.Archetype)

		var sig ComponentSignature
		for id, v := range want {
			sig = sig.With(id)
			col := arch.mustColumn(id)
			assert.Equal(t, v, col.getAbstract(loc.Row), "entity %s component %d", e, id)
		}
		assert.Equal(t, sig, arch.Signature(), "entity %s", e)
	}
}
