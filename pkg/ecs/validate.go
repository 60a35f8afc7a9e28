package ecs

import (
	"errors"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
)

// Validate checks the structural integrity of the world: every column of an archetype has one row
// per entity, every stored entity is alive and recorded at its actual location, and the number of
// stored entities matches the number of live entities. It reports every violation it finds.
//
// Validate walks all of the storage and is meant for tests and debug builds. Setting DebugValidate
// runs it after every command apply.
func (w *World) Validate() error {
	var errs error
	fail := func(format string, args ...any) {
		errs = errors.Join(errs, eris.Wrapf(ErrIntegrity, format, args...))
	}

	stored := 0
	for _, arch := range w.archetypes.archetypes {
		if len(arch.columns) != arch.signature.Count() {
			fail("archetype %d has %d columns for %d components", arch.id, len(arch.columns), arch.signature.Count())
		}
		for i, col := range arch.columns {
			if col.len() != len(arch.entities) {
				fail("archetype %d column %d has %d rows for %d entities", arch.id, i, col.len(), len(arch.entities))
			}
			if !arch.signature.Has(arch.ids[i]) || col.componentID() != arch.ids[i] {
				fail("archetype %d column %d stores component %d outside its signature", arch.id, i, col.componentID())
			}
		}

		for row, e := range arch.entities {
			loc, ok := w.entities.TryGetLocation(e)
			switch {
			case !ok:
				fail("archetype %d row %d holds dead entity %s", arch.id, row, e)
			case loc.Archetype != arch.id || loc.Row != row:
				fail("entity %s is at archetype %d row %d but recorded at archetype %d row %d",
					e, arch.id, row, loc.Archetype, loc.Row)
			}
		}
		stored += len(arch.entities)
	}

	if stored != w.entities.Len() {
		fail("%d entities stored in archetypes but %d alive", stored, w.entities.Len())
	}

	for _, index := range w.entities.free {
		if w.entities.slots[index].alive {
			fail("free index %d is alive", index)
		}
	}
	return errs
}

// -------------------------------------------------------------------------------------------------
// Debug state
// -------------------------------------------------------------------------------------------------

type debugArchetype struct {
	ID         int      `json:"id"`
	Components []string `json:"components"`
	Entities   int      `json:"entities"`
}

type debugSystem struct {
	Name     string   `json:"name"`
	Rate     string   `json:"rate"`
	Enabled  bool     `json:"enabled"`
	Reads    []string `json:"reads"`
	Writes   []string `json:"writes"`
	Requires []string `json:"requires,omitempty"`
}

type debugState struct {
	World      string           `json:"world"`
	ID         string           `json:"id"`
	Tick       uint64           `json:"tick"`
	ElapsedMS  int64            `json:"elapsed_ms"`
	Entities   int              `json:"entities"`
	Components []string         `json:"components"`
	Archetypes []debugArchetype `json:"archetypes"`
	Systems    []debugSystem    `json:"systems"`
	Batches    [][]string       `json:"batches"`
}

// DebugState returns a JSON document describing the world: its archetypes with their components
// and entity counts, and the registered systems with the batches they run in.
func (w *World) DebugState() ([]byte, error) {
	state := debugState{
		World:      w.options.Name,
		ID:         w.id.String(),
		Tick:       w.tick,
		ElapsedMS:  w.elapsed.Milliseconds(),
		Entities:   w.entities.Len(),
		Components: make([]string, 0, len(w.components.types)),
		Archetypes: make([]debugArchetype, 0, w.archetypes.Len()),
		Systems:    make([]debugSystem, 0, len(w.systems.records)),
		Batches:    w.systems.Batches(),
	}

	for _, ct := range w.components.types {
		state.Components = append(state.Components, ct.name)
	}
	for _, arch := range w.archetypes.archetypes {
		state.Archetypes = append(state.Archetypes, debugArchetype{
			ID:         arch.id,
			Components: w.components.names(arch.signature),
			Entities:   arch.Len(),
		})
	}
	for _, rec := range w.systems.records {
		state.Systems = append(state.Systems, debugSystem{
			Name:     rec.name,
			Rate:     rec.rate.String(),
			Enabled:  rec.enabled,
			Reads:    w.bitmapNames(rec.access.reads),
			Writes:   w.bitmapNames(rec.access.writes),
			Requires: rec.requires,
		})
	}

	data, err := json.Marshal(state)
	if err != nil {
		return nil, eris.Wrap(err, "failed to marshal debug state")
	}
	return data, nil
}
