package ecs

import (
	"github.com/kelindar/bitmap"
	"github.com/rs/zerolog"
)

// bitmapNames returns the names of the component IDs set in b.
func (w *World) bitmapNames(b bitmap.Bitmap) []string {
	names := make([]string, 0, b.Count())
	b.Range(func(x uint32) {
		names = append(names, w.components.name(ComponentID(x))) //nolint:gosec // ids are < MaxComponentTypes
	})
	return names
}

// logArchetypes adds a summary of every archetype to the event.
func (w *World) logArchetypes(e *zerolog.Event) *zerolog.Event {
	arr := zerolog.Arr()
	for _, arch := range w.archetypes.archetypes {
		arr.Dict(zerolog.Dict().
			Int("id", arch.id).
			Strs("components", w.components.names(arch.signature)).
			Int("entities", arch.Len()))
	}
	return e.Array("archetypes", arr)
}

// logSystems adds the registered systems and the every frame batches to the event.
func (w *World) logSystems(e *zerolog.Event) *zerolog.Event {
	arr := zerolog.Arr()
	for _, rec := range w.systems.records {
		arr.Dict(zerolog.Dict().
			Str("name", rec.name).
			Stringer("rate", rec.rate).
			Bool("enabled", rec.enabled).
			Strs("reads", w.bitmapNames(rec.access.reads)).
			Strs("writes", w.bitmapNames(rec.access.writes)))
	}
	e = e.Array("systems", arr)

	batches := zerolog.Arr()
	for _, b := range w.systems.Batches() {
		batches.Interface(b)
	}
	return e.Array("batches", batches)
}

// LogState writes the archetypes and systems of the world to the log at debug level.
func (w *World) LogState() {
	if e := w.log.Debug(); e.Enabled() {
		w.logSystems(w.logArchetypes(e)).
			Int("entities", w.entities.Len()).
			Uint64("tick", w.tick).
			Msg("world state")
	}
}
