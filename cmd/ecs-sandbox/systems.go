package main

import (
	"math/rand/v2"
	"time"

	"github.com/argus-labs/ecsruntime/pkg/ecs"
	"github.com/rotisserie/eris"
)

// -------------------------------------------------------------------------------------------------
// Components
// -------------------------------------------------------------------------------------------------

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (Position) Name() string { return "position" }

type Velocity struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (Velocity) Name() string { return "velocity" }

type Health struct {
	Value int `json:"value"`
}

func (Health) Name() string { return "health" }

type componentIDs struct {
	position ecs.ComponentID
	velocity ecs.ComponentID
	health   ecs.ComponentID
}

func registerComponents(w *ecs.World) (componentIDs, error) {
	var ids componentIDs
	var err error
	if ids.position, err = ecs.RegisterComponent[Position](w); err != nil {
		return ids, err
	}
	if ids.velocity, err = ecs.RegisterComponent[Velocity](w); err != nil {
		return ids, err
	}
	if ids.health, err = ecs.RegisterComponent[Health](w); err != nil {
		return ids, err
	}
	return ids, nil
}

func spawn(w *ecs.World, ids componentIDs, n int) {
	for range n {
		w.Commands().CreateEntity(newCreature(ids))
	}
}

func newCreature(ids componentIDs) func(*ecs.EntityBuilder) error {
	return func(b *ecs.EntityBuilder) error {
		ecs.With(b, ids.position, Position{X: rand.Float64() * 100, Y: rand.Float64() * 100}) //nolint:gosec // sim
		ecs.With(b, ids.velocity, Velocity{X: rand.Float64() - 0.5, Y: rand.Float64() - 0.5}) //nolint:gosec // sim
		ecs.With(b, ids.health, Health{Value: 50 + rand.IntN(50)})                           //nolint:gosec // sim
		return nil
	}
}

// -------------------------------------------------------------------------------------------------
// Systems
// -------------------------------------------------------------------------------------------------

// movement integrates velocity into position every frame.
type movement struct{ ids componentIDs }

func (movement) Name() string { return "movement" }

func (movement) Describe() ecs.SystemSpec {
	return ecs.SystemSpec{Reads: []ecs.Component{Velocity{}}, Writes: []ecs.Component{Position{}}}
}

func (s *movement) Update(ctx *ecs.SystemContext) error {
	dt := ctx.DeltaTime().Seconds()
	for _, arch := range ctx.Query(s.ids.position, s.ids.velocity) {
		pos := ecs.Write[Position](ctx, arch, s.ids.position)
		vel := ecs.Read[Velocity](ctx, arch, s.ids.velocity)
		for i := range pos {
			pos[i].X += vel[i].X * dt
			pos[i].Y += vel[i].Y * dt
		}
	}
	return nil
}

// decay drains health ten times per second.
type decay struct{ ids componentIDs }

func (decay) Name() string { return "decay" }

func (decay) Describe() ecs.SystemSpec {
	return ecs.SystemSpec{Writes: []ecs.Component{Health{}}, Rate: ecs.FixedInterval(100 * time.Millisecond)}
}

func (s *decay) Update(ctx *ecs.SystemContext) error {
	for _, arch := range ctx.Query(s.ids.health) {
		hp := ecs.Write[Health](ctx, arch, s.ids.health)
		for i := range hp {
			if hp[i].Value > 0 {
				hp[i].Value--
			}
		}
	}
	return nil
}

// reaper destroys entities whose health reached zero.
type reaper struct{ ids componentIDs }

func (reaper) Name() string { return "reaper" }

func (reaper) Describe() ecs.SystemSpec {
	return ecs.SystemSpec{Reads: []ecs.Component{Health{}}, Requires: []string{"decay"}}
}

func (s *reaper) Update(ctx *ecs.SystemContext) error {
	ctx.Each([]ecs.ComponentID{s.ids.health}, func(a *ecs.Archetype, row int, e ecs.Entity) {
		if ecs.Read[Health](ctx, a, s.ids.health)[row].Value <= 0 {
			ctx.Commands().DestroyEntity(e)
		}
	})
	return nil
}

// spawner adds a few creatures every second.
type spawner struct{ ids componentIDs }

func (spawner) Name() string { return "spawner" }

func (spawner) Describe() ecs.SystemSpec {
	return ecs.SystemSpec{Rate: ecs.FixedInterval(time.Second)}
}

func (s *spawner) Update(ctx *ecs.SystemContext) error {
	for range 10 {
		ctx.Commands().CreateEntity(newCreature(s.ids))
	}
	return nil
}

// heal restores every entity to full health and gives still entities a velocity. It only runs
// when invoked.
type heal struct{ ids componentIDs }

func (heal) Name() string { return "heal" }

func (heal) Describe() ecs.SystemSpec {
	return ecs.SystemSpec{Rate: ecs.Manual()}
}

func (s *heal) Update(ctx *ecs.SystemContext) error {
	ctx.Each([]ecs.ComponentID{s.ids.position}, func(a *ecs.Archetype, _ int, e ecs.Entity) {
		ctx.Commands().AddComponent(e, s.ids.health, Health{Value: 100})
		if !a.Has(s.ids.velocity) {
			ctx.Commands().AddComponent(e, s.ids.velocity, Velocity{X: 1})
		}
	})
	return nil
}

func defineSystems(w *ecs.World, ids componentIDs) error {
	err := w.Systems().Define(
		func() ecs.System { return &movement{ids: ids} },
		func() ecs.System { return &decay{ids: ids} },
		func() ecs.System { return &reaper{ids: ids} },
		func() ecs.System { return &spawner{ids: ids} },
		func() ecs.System { return &heal{ids: ids} },
	)
	if err != nil {
		return eris.Wrap(err, "failed to define systems")
	}
	// reaper pulls in decay on its own.
	w.Systems().Register("movement")
	w.Systems().Register("reaper")
	w.Systems().Register("spawner")
	w.Systems().Register("heal")
	return nil
}
