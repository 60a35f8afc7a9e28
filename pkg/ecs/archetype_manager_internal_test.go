package ecs

import (
	"slices"
	"testing"

	. "github.com/argus-labs/ecsruntime/pkg/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Every order of adding the same components must end in the same archetype.
func TestArchetypeManager_SameSetSameArchetype(t *testing.T) {
	t.Parallel()
	w, ids := newTestWorld(t, WorldOptions{})

	all := []componentValue{
		cv(ids.pos, Position{X: 1}),
		cv(ids.vel, Velocity{Y: 1}),
		cv(ids.health, Health{Value: 1}),
		cv(ids.tag, PlayerTag{}),
	}
	want := NewSignature(ids.pos, ids.vel, ids.health, ids.tag)

	var target *Archetype
	permutations := 0
	for g := NewGen(); !g.Done(); {
		order := slices.Clone(all)
		Shuffle(g, order)
		permutations++

		e := spawnNow(t, w)
		for _, v := range order {
			require.NoError(t, w.Entities().addComponent(e, v.id, v.value))
		}

		loc, ok := w.TryGetLocation(e)
		require.True(t, ok)
		arch := w.Archetypes().Archetype(loc.Archetype)
		require.Equal(t, want, arch.Signature())
		if target == nil {
			target = arch
		}
		require.Same(t, target, arch, "order %v", order)
	}

	assert.Equal(t, 24, permutations)
	assert.Equal(t, 24, target.Len())

	// Every archetype has a distinct signature.
	seen := make(map[ComponentSignature]bool)
	for _, arch := range w.Archetypes().All() {
		assert.False(t, seen[arch.Signature()], "duplicate archetype %s", arch.Signature())
		seen[arch.Signature()] = true
	}
	// One archetype per subset of the four components: 2^4.
	assert.Equal(t, 16, w.Archetypes().Len())
	requireValid(t, w)
}

func TestArchetypeManager_QueryCacheExtendedOnCreate(t *testing.T) {
	t.Parallel()
	w, ids := newTestWorld(t, WorldOptions{})

	spawnNow(t, w, cv(ids.pos, Position{}))
	q := w.Query(ids.pos)
	require.Len(t, q, 1)

	spawnNow(t, w, cv(ids.pos, Position{}), cv(ids.vel, Velocity{}))
	spawnNow(t, w, cv(ids.vel, Velocity{}))

	q = w.Query(ids.pos)
	require.Len(t, q, 2)
	for _, arch := range q {
		assert.True(t, arch.Has(ids.pos))
	}
	assert.Len(t, w.Query(ids.pos, ids.vel), 1)
	assert.Len(t, w.Query(ids.vel), 2)
	assert.Len(t, w.Query(ids.mass), 0)

	// The empty query matches every archetype, including the new ones.
	assert.Len(t, w.Query(), w.Archetypes().Len())
	spawnNow(t, w, cv(ids.mass, Mass{}))
	assert.Len(t, w.Query(), w.Archetypes().Len())
	assert.Len(t, w.Query(ids.mass), 1)
}

func TestArchetypeManager_QueryMatchesScan(t *testing.T) {
	t.Parallel()
	prng := NewRand(t)
	w, ids := newTestWorld(t, WorldOptions{})

	all := []ComponentID{ids.pos, ids.vel, ids.health, ids.mass, ids.label, ids.tag}
	queries := make([]ComponentSignature, 0)

	for range 200 {
		var sig ComponentSignature
		for _, id := range all {
			if prng.IntN(3) == 0 {
				sig = sig.With(id)
			}
		}
		// Interleave archetype creation with cached queries.
		if prng.IntN(2) == 0 {
			w.Archetypes().GetOrCreate(sig)
		} else {
			queries = append(queries, sig)
			w.Archetypes().QuerySignature(sig)
		}
	}

	for _, q := range queries {
		var want []*Archetype
		for _, arch := range w.Archetypes().All() {
			if arch.Signature().ContainsAll(q) {
				want = append(want, arch)
			}
		}
		assert.ElementsMatch(t, want, w.Archetypes().QuerySignature(q), "query %s", q)
	}
}

func TestArchetypeManager_TransitionCached(t *testing.T) {
	t.Parallel()
	w, ids := newTestWorld(t, WorldOptions{})

	m := w.Archetypes()
	src := m.GetOrCreate(NewSignature(ids.pos, ids.vel, ids.label))
	dst := m.GetOrCreate(NewSignature(ids.vel, ids.label, ids.health))

	plan := m.transition(src, dst)
	assert.Same(t, plan, m.transition(src, dst))
	assert.NotSame(t, plan, m.transition(dst, src))

	// Only velocity and label are shared.
	require.Len(t, plan.copies, 2)
	for _, p := range plan.copies {
		assert.Equal(t, src.columns[p.src].componentID(), dst.columns[p.dst].componentID())
	}
}

func TestArchetypeManager_GetOrCreateIsIdempotent(t *testing.T) {
	t.Parallel()
	w, ids := newTestWorld(t, WorldOptions{})

	m := w.Archetypes()
	a := m.GetOrCreate(NewSignature(ids.health, ids.mass))
	b := m.GetOrCreate(NewSignature(ids.mass, ids.health))
	assert.Same(t, a, b)
	assert.Equal(t, 1, m.Len())
	assert.Same(t, a, m.Archetype(a.ID()))
	assert.Panics(t, func() { m.Archetype(5) })

	// An archetype is found even if its key slot belongs to another signature.
	delete(m.byKey, a.Signature().key())
	assert.Same(t, a, m.GetOrCreate(NewSignature(ids.health, ids.mass)))
	assert.Equal(t, 1, m.Len())
}
