package ecs

import (
	"errors"
	"sync"
	"testing"

	. "github.com/argus-labs/ecsruntime/pkg/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandBuffer_EmptyApplyIsNoOp(t *testing.T) {
	t.Parallel()
	w, ids := newTestWorld(t, WorldOptions{})

	e := spawnNow(t, w, cv(ids.pos, Position{X: 1}))
	archetypes := w.Archetypes().Len()

	require.NoError(t, w.Commands().Apply(w))
	require.NoError(t, w.Commands().Apply(w))

	assert.Equal(t, 0, w.Commands().Len())
	assert.Equal(t, archetypes, w.Archetypes().Len())
	assert.Equal(t, 1, w.Entities().Len())
	pos, err := GetComponent[Position](w, e, ids.pos)
	require.NoError(t, err)
	assert.Equal(t, Position{X: 1}, pos)
}

func TestCommandBuffer_DeferredUntilApply(t *testing.T) {
	t.Parallel()
	w, ids := newTestWorld(t, WorldOptions{})

	e := spawnNow(t, w, cv(ids.pos, Position{X: 1, Y: 1}))

	cw := w.Commands().Writer()
	cw.AddComponent(e, ids.vel, Velocity{X: 2})
	cw.RemoveComponent(e, ids.pos)
	assert.Equal(t, 2, w.Commands().Len())

	// Nothing changes before apply.
	loc, _ := w.TryGetLocation(e)
	assert.Equal(t, NewSignature(ids.pos), w.Archetypes().Archetype(loc.Archetype).Signature())

	require.NoError(t, w.Commands().Apply(w))

	loc, _ = w.TryGetLocation(e)
	assert.Equal(t, NewSignature(ids.vel), w.Archetypes().Archetype(loc.Archetype).Signature())
	vel, err := GetComponent[Velocity](w, e, ids.vel)
	require.NoError(t, err)
	assert.Equal(t, Velocity{X: 2}, vel)
	_, err = GetComponent[Position](w, e, ids.pos)
	require.ErrorIs(t, err, ErrComponentNotFound)
	assert.Equal(t, 0, w.Commands().Len())
	requireValid(t, w)
}

func TestCommandBuffer_SkipsCommandsForDeadEntities(t *testing.T) {
	t.Parallel()
	w, ids := newTestWorld(t, WorldOptions{})

	stale := spawnNow(t, w, cv(ids.health, Health{Value: 1}))
	require.True(t, w.Entities().Destroy(stale))
	// The new entity reuses the index of the stale handle.
	fresh := spawnNow(t, w, cv(ids.health, Health{Value: 2}))
	require.Equal(t, stale.Index(), fresh.Index())

	cb := w.Commands()
	cb.AddComponent(stale, ids.health, Health{Value: 99})
	cb.RemoveComponent(stale, ids.health)
	cb.DestroyEntity(stale)
	require.NoError(t, cb.Apply(w))

	require.True(t, w.IsAlive(fresh))
	h, err := GetComponent[Health](w, fresh, ids.health)
	require.NoError(t, err)
	assert.Equal(t, Health{Value: 2}, h)
	requireValid(t, w)
}

func TestCommandBuffer_ApplyOrder(t *testing.T) {
	t.Parallel()
	w, ids := newTestWorld(t, WorldOptions{})

	e := spawnNow(t, w, cv(ids.health, Health{Value: 0}))
	cb := w.Commands()

	first := cb.Writer()
	second := cb.Writer()
	second.AddComponent(e, ids.health, Health{Value: 2})
	first.AddComponent(e, ids.health, Health{Value: 1})
	cb.AddComponent(e, ids.health, Health{Value: 3})

	require.NoError(t, cb.Apply(w))

	// Shared commands first, then writers in the order they were handed out.
	h, err := GetComponent[Health](w, e, ids.health)
	require.NoError(t, err)
	assert.Equal(t, Health{Value: 2}, h)
}

func TestCommandBuffer_CreationsBeforeDestroys(t *testing.T) {
	t.Parallel()
	w, ids := newTestWorld(t, WorldOptions{})

	doomed := spawnNow(t, w, cv(ids.pos, Position{}))
	cb := w.Commands()

	var created Entity
	cb.DestroyEntity(doomed)
	cb.CreateEntity(func(b *EntityBuilder) error {
		With(b, ids.pos, Position{X: 5})
		b.OnCreate(func(e Entity) { created = e })
		return nil
	})
	require.NoError(t, cb.Apply(w))

	// The creation ran while the doomed entity still held its index.
	assert.NotEqual(t, doomed.Index(), created.Index())
	assert.False(t, w.IsAlive(doomed))
	assert.True(t, w.IsAlive(created))
	assert.Equal(t, 1, w.Entities().Len())
	requireValid(t, w)
}

func TestCommandBuffer_CreateEntity(t *testing.T) {
	t.Parallel()
	w, ids := newTestWorld(t, WorldOptions{})
	cb := w.Commands()

	var e Entity
	cb.CreateEntity(func(b *EntityBuilder) error {
		b.Set(ids.health, Health{Value: 1})
		b.Set(ids.label, Label{Text: "x"})
		b.Set(ids.health, Health{Value: 2})
		b.OnCreate(func(created Entity) { e = created })
		return nil
	})
	assert.Equal(t, 1, cb.Len())
	require.NoError(t, cb.Apply(w))

	loc, ok := w.TryGetLocation(e)
	require.True(t, ok)
	arch := w.Archetypes().Archetype(loc.Archetype)
	assert.Equal(t, NewSignature(ids.health, ids.label), arch.Signature())
	assert.Equal(t, Health{Value: 2}, ComponentValue[Health](arch, ids.health, loc.Row))
	assert.Equal(t, Label{Text: "x"}, ComponentValue[Label](arch, ids.label, loc.Row))

	// Created directly in the final archetype: no intermediate archetypes.
	assert.Equal(t, 1, w.Archetypes().Len())
}

func TestCommandBuffer_WriterCreations(t *testing.T) {
	t.Parallel()
	w, ids := newTestWorld(t, WorldOptions{})
	cb := w.Commands()

	var order []string
	create := func(name string) func(*EntityBuilder) error {
		return func(b *EntityBuilder) error {
			b.Set(ids.label, Label{Text: name})
			b.OnCreate(func(Entity) { order = append(order, name) })
			return nil
		}
	}

	first := cb.Writer()
	second := cb.Writer()
	second.CreateEntity(create("second"))
	first.CreateEntity(create("first"))
	cb.CreateEntity(create("owner"))
	assert.Equal(t, 3, cb.Len())

	require.NoError(t, cb.Apply(w))
	assert.Equal(t, []string{"owner", "first", "second"}, order)
	assert.Equal(t, 3, w.Entities().Len())
	assert.Equal(t, 0, cb.Len())
}

func TestCommandBuffer_FailingBuilderSkipsOnlyItsEntity(t *testing.T) {
	t.Parallel()
	w, ids := newTestWorld(t, WorldOptions{})
	cb := w.Commands()

	created := 0
	ok := func(b *EntityBuilder) error {
		b.Set(ids.pos, Position{})
		b.OnCreate(func(Entity) { created++ })
		return nil
	}
	cb.CreateEntity(ok)
	cb.CreateEntity(func(*EntityBuilder) error { return errors.New("boom") })
	cb.CreateEntity(func(*EntityBuilder) error { panic("boom") })
	cb.CreateEntity(func(b *EntityBuilder) error {
		b.Set(ids.pos, Velocity{})
		return nil
	})
	cb.CreateEntity(func(b *EntityBuilder) error {
		b.Set(200, Position{})
		return nil
	})
	cb.CreateEntity(ok)

	require.NoError(t, cb.Apply(w))
	assert.Equal(t, 2, created)
	assert.Equal(t, 2, w.Entities().Len())
	assert.Equal(t, 0, cb.Len())
	requireValid(t, w)
}

func TestCommandBuffer_CreateFromOnCreate(t *testing.T) {
	t.Parallel()
	w, ids := newTestWorld(t, WorldOptions{})
	cb := w.Commands()

	var parent, child Entity
	cb.CreateEntity(func(b *EntityBuilder) error {
		b.Set(ids.label, Label{Text: "parent"})
		b.OnCreate(func(e Entity) {
			parent = e
			cb.CreateEntity(func(b *EntityBuilder) error {
				b.Set(ids.label, Label{Text: "child"})
				b.OnCreate(func(e Entity) { child = e })
				return nil
			})
		})
		return nil
	})

	require.NoError(t, cb.Apply(w))
	assert.True(t, w.IsAlive(parent))
	assert.Equal(t, 1, w.Entities().Len())
	assert.Equal(t, 1, cb.Len())

	require.NoError(t, cb.Apply(w))
	assert.Equal(t, 2, w.Entities().Len())
	assert.Equal(t, 0, cb.Len())
	label, err := GetComponent[Label](w, child, ids.label)
	require.NoError(t, err)
	assert.Equal(t, Label{Text: "child"}, label)
	requireValid(t, w)
}

func TestEntityBuilder_ResetDropsReferences(t *testing.T) {
	t.Parallel()
	_, ids := newTestWorld(t, WorldOptions{})

	b := &EntityBuilder{}
	b.Set(ids.label, Label{Text: "a"}).OnCreate(func(Entity) {}).OnCreate(func(Entity) {})
	b.reset()
	assert.Empty(t, b.values)
	assert.Empty(t, b.onCreate)
	for _, fn := range b.onCreate[:cap(b.onCreate)] {
		assert.Nil(t, fn)
	}
	for _, v := range b.values[:cap(b.values)] {
		assert.Nil(t, v.value)
	}
}

func TestCommandBuffer_InvalidAddIsSkipped(t *testing.T) {
	t.Parallel()
	w, ids := newTestWorld(t, WorldOptions{})

	e := spawnNow(t, w, cv(ids.pos, Position{X: 1}))

	cb := w.Commands()
	cb.AddComponent(e, 200, Position{})
	cb.AddComponent(e, ids.health, Position{})
	cb.AddComponent(e, ids.vel, Velocity{X: 3})
	require.NoError(t, cb.Apply(w))

	loc, ok := w.TryGetLocation(e)
	require.True(t, ok)
	assert.Equal(t, NewSignature(ids.pos, ids.vel), w.Archetypes().Archetype(loc.Archetype).Signature())
	requireValid(t, w)
}

func TestCommandBuffer_ConcurrentWriters(t *testing.T) {
	t.Parallel()
	w, ids := newTestWorld(t, WorldOptions{})

	const workers = 8
	const perWorker = 50
	entities := make([]Entity, workers*perWorker)
	for i := range entities {
		entities[i] = spawnNow(t, w, cv(ids.health, Health{Value: 0}))
	}

	var wg sync.WaitGroup
	for worker := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cw := w.Commands().Writer()
			for i := range perWorker {
				idx := worker*perWorker + i
				if i%2 == 0 {
					cw.AddComponent(entities[idx], ids.health, Health{Value: idx})
				} else {
					w.Commands().AddComponent(entities[idx], ids.health, Health{Value: idx})
				}
				cw.AddComponent(entities[idx], ids.tag, PlayerTag{})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, workers*perWorker*2, w.Commands().Len())
	require.NoError(t, w.Commands().Apply(w))

	for idx, e := range entities {
		h, err := GetComponent[Health](w, e, ids.health)
		require.NoError(t, err)
		assert.Equal(t, Health{Value: idx}, h)
		_, err = GetComponent[PlayerTag](w, e, ids.tag)
		require.NoError(t, err)
	}
	requireValid(t, w)
}

func TestCommandBuffer_RandomCommandsMatchModel(t *testing.T) {
	t.Parallel()
	prng := NewRand(t)
	w, ids := newTestWorld(t, WorldOptions{DebugValidate: true})

	model := make(map[Entity]map[ComponentID]int)
	for range 20 {
		model[spawnNow(t, w)] = make(map[ComponentID]int)
	}

	for round := range 50 {
		cw := w.Commands().Writer()
		destroyed := make(map[Entity]bool)
		for step := range 40 {
			e := RandMapKey(prng, model)
			id := RandSliceElem(prng, []ComponentID{ids.health, ids.mass})
			switch prng.IntN(5) {
			case 0:
				cw.DestroyEntity(e)
				destroyed[e] = true
			case 1, 2:
				cw.RemoveComponent(e, id)
				delete(model[e], id)
			default:
				v := round*100 + step
				if id == ids.health {
					cw.AddComponent(e, id, Health{Value: v})
				} else {
					cw.AddComponent(e, id, Mass{Kg: float32(v)})
				}
				model[e][id] = v
			}
		}
		require.NoError(t, w.applyCommands())

		for e := range destroyed {
			assert.False(t, w.IsAlive(e))
			delete(model, e)
		}
		for len(model) < 20 {
			model[spawnNow(t, w)] = make(map[ComponentID]int)
		}
	}

	for e, want := range model {
		loc, ok := w.TryGetLocation(e)
		require.True(t, ok)
		arch := w.Archetypes().Archetype(loc.Archetype)
		assert.Equal(t, len(want), arch.Signature().Count())
		if v, ok := want[ids.health]; ok {
			assert.Equal(t, Health{Value: v}, ComponentValue[Health](arch, ids.health, loc.Row))
		}
		if v, ok := want[ids.mass]; ok {
			assert.Equal(t, Mass{Kg: float32(v)}, ComponentValue[Mass](arch, ids.mass, loc.Row))
		}
	}
}
