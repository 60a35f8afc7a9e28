// Package ecs is an archetype based entity component system runtime.
//
// Entities with the same set of component types share an Archetype, which stores each component
// type in its own contiguous column. Structural changes (creating and destroying entities, adding
// and removing components) are queued on the CommandBuffer and applied once per tick, while no
// system is running. Systems declare the components they read and write; the scheduler packs
// systems with no conflicting access into batches and runs the members of a batch concurrently.
//
// A typical tick loop:
//
//	w, _ := ecs.NewWorld(ecs.WorldOptions{Name: "sim"})
//	pos, _ := ecs.RegisterComponent[Position](w)
//	_ = w.Systems().Define(func() ecs.System { return &Movement{} })
//	w.Systems().Register("movement")
//	w.Commands().CreateEntity(func(b *ecs.EntityBuilder) error {
//		ecs.With(b, pos, Position{})
//		return nil
//	})
//	_ = w.Run(ctx, 16*time.Millisecond)
package ecs
