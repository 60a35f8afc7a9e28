package ecs

import (
	"testing"

	. "github.com/argus-labs/ecsruntime/pkg/testutils"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// testIDs holds the IDs of the shared test components registered by newTestWorld.
type testIDs struct {
	pos, vel, health, mass, label, tag ComponentID
}

// newTestWorld creates a world with the shared test components registered and logging disabled.
func newTestWorld(t *testing.T, opts WorldOptions) (*World, testIDs) {
	t.Helper()

	nop := zerolog.Nop()
	if opts.Logger == nil {
		opts.Logger = &nop
	}
	w, err := NewWorld(opts)
	require.NoError(t, err)

	var ids testIDs
	ids.pos = mustRegister[Position](t, w)
	ids.vel = mustRegister[Velocity](t, w)
	ids.health = mustRegister[Health](t, w)
	ids.mass = mustRegister[Mass](t, w)
	ids.label = mustRegister[Label](t, w)
	ids.tag = mustRegister[PlayerTag](t, w)
	return w, ids
}

func mustRegister[T Component](t *testing.T, w *World) ComponentID {
	t.Helper()
	id, err := RegisterComponent[T](w)
	require.NoError(t, err)
	return id
}

// spawnNow creates an entity with the given values and applies it immediately.
func spawnNow(t *testing.T, w *World, values ...componentValue) Entity {
	t.Helper()

	var e Entity
	w.Commands().CreateEntity(func(b *EntityBuilder) error {
		for _, v := range values {
			b.Set(v.id, v.value)
		}
		b.OnCreate(func(created Entity) { e = created })
		return nil
	})
	require.NoError(t, w.Commands().Apply(w))
	require.True(t, w.IsAlive(e))
	return e
}

func cv(id ComponentID, value Component) componentValue {
	return componentValue{id: id, value: value}
}

// requireValid fails the test if the world's storage invariants don't hold.
func requireValid(t *testing.T, w *World) {
	t.Helper()
	require.NoError(t, w.Validate())
}
