package ecs

import (
	"context"
	"time"

	"github.com/kelindar/bitmap"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// System is a unit of per-tick logic.
type System interface {
	// Name returns the unique name of the system. Required systems are referred to by name.
	Name() string
	// Update runs the system for one tick.
	Update(ctx *SystemContext) error
}

// SystemSpec is the static metadata of a system.
type SystemSpec struct {
	Reads    []Component // Component types the system reads
	Writes   []Component // Component types the system writes; writing implies reading
	Rate     TickRate    // When the system runs, EveryFrame if unset
	Requires []string    // Systems that must be registered before this one
}

// Describer is implemented by systems that declare their metadata. A system that doesn't declare
// anything runs every frame and accesses no component spans.
type Describer interface {
	Describe() SystemSpec
}

// Initializer is implemented by systems that need setup when they are registered.
type Initializer interface {
	Init(w *World) error
}

// SystemFactory creates a system. Factories are added to the catalog with SystemManager.Define.
type SystemFactory func() System

type rateKind uint8

const (
	rateEveryFrame rateKind = iota
	rateFixed
	rateManual
)

// TickRate controls when the scheduler runs a system.
type TickRate struct {
	kind     rateKind
	interval time.Duration
}

// EveryFrame runs the system on every tick.
func EveryFrame() TickRate {
	return TickRate{kind: rateEveryFrame}
}

// FixedInterval runs the system once the time accumulated since its last run reaches d. The
// system receives the accumulated time as its delta.
func FixedInterval(d time.Duration) TickRate {
	return TickRate{kind: rateFixed, interval: d}
}

// Manual never runs the system from the tick loop. It only runs through SystemManager.RunSystem.
func Manual() TickRate {
	return TickRate{kind: rateManual}
}

func (r TickRate) String() string {
	switch r.kind {
	case rateEveryFrame:
		return "every_frame"
	case rateFixed:
		return "fixed(" + r.interval.String() + ")"
	case rateManual:
		return "manual"
	default:
		return "unknown"
	}
}

func (r TickRate) validate() error {
	if r.kind == rateFixed && r.interval <= 0 {
		return eris.Errorf("fixed tick interval must be positive, got %s", r.interval)
	}
	return nil
}

// -------------------------------------------------------------------------------------------------
// System context
// -------------------------------------------------------------------------------------------------

// SystemContext is what a system sees during Update. It exposes queries and component spans
// restricted to the components the system declared, and a command writer for structural changes.
// It never exposes a way to change the structure of the world directly.
type SystemContext struct {
	ctx    context.Context //nolint:containedctx // scoped to one Update call
	world  *World
	record *systemRecord
	dt     time.Duration
	tick   uint64
	writer *CommandWriter
	log    zerolog.Logger
}

// Context returns the context of the tick. It is cancelled when the tick is aborted.
func (c *SystemContext) Context() context.Context {
	return c.ctx
}

// DeltaTime returns the time elapsed since the system last ran.
func (c *SystemContext) DeltaTime() time.Duration {
	return c.dt
}

// Tick returns the number of the current tick.
func (c *SystemContext) Tick() uint64 {
	return c.tick
}

// Logger returns the logger of the system.
func (c *SystemContext) Logger() *zerolog.Logger {
	return &c.log
}

// Commands returns the command writer of the system. Queued changes are applied at the start of
// the next tick.
func (c *SystemContext) Commands() *CommandWriter {
	return c.writer
}

// Query returns the archetypes containing every component in ids.
func (c *SystemContext) Query(ids ...ComponentID) []*Archetype {
	return c.world.archetypes.Query(ids...)
}

// IsAlive reports whether the entity is alive.
func (c *SystemContext) IsAlive(e Entity) bool {
	return c.world.entities.IsAlive(e)
}

// TryGetLocation returns the location of a live entity.
func (c *SystemContext) TryGetLocation(e Entity) (EntityLocation, bool) {
	return c.world.entities.TryGetLocation(e)
}

// Archetype returns the archetype with the given ID.
func (c *SystemContext) Archetype(id int) *Archetype {
	return c.world.archetypes.Archetype(id)
}

// Read returns the span of component id in the archetype. The system must have declared the
// component as read or written.
func Read[T Component](c *SystemContext, a *Archetype, id ComponentID) []T {
	if !c.record.access.reads.Contains(uint32(id)) && !c.record.access.writes.Contains(uint32(id)) {
		panic(eris.Errorf("system %s reads undeclared component %s", c.record.name, c.world.components.name(id)))
	}
	return ComponentSpan[T](a, id)
}

// Write returns the mutable span of component id in the archetype. The system must have
// declared the component as written.
func Write[T Component](c *SystemContext, a *Archetype, id ComponentID) []T {
	if !c.record.access.writes.Contains(uint32(id)) {
		panic(eris.Errorf("system %s writes undeclared component %s", c.record.name, c.world.components.name(id)))
	}
	return ComponentSpan[T](a, id)
}

// Each calls fn for every entity of the archetypes matching ids.
func (c *SystemContext) Each(ids []ComponentID, fn func(a *Archetype, row int, e Entity)) {
	Each(c.Query(ids...), fn)
}

// Each calls fn for every entity of the given archetypes.
func Each(archetypes []*Archetype, fn func(a *Archetype, row int, e Entity)) {
	for _, a := range archetypes {
		for row, e := range a.entities {
			fn(a, row, e)
		}
	}
}

// accessSet is the component access of a system or a batch of systems.
type accessSet struct {
	reads  bitmap.Bitmap
	writes bitmap.Bitmap
}

// conflicts reports whether two access sets can't run concurrently: one writes a component the
// other reads or writes.
func (a *accessSet) conflicts(b *accessSet) bool {
	return intersects(a.writes, b.writes) || intersects(a.writes, b.reads) || intersects(a.reads, b.writes)
}

func (a *accessSet) merge(b *accessSet) {
	// Or indexes the first word of its argument, so empty sets are skipped.
	if len(b.reads) > 0 {
		a.reads.Or(b.reads)
	}
	if len(b.writes) > 0 {
		a.writes.Or(b.writes)
	}
}

func intersects(a, b bitmap.Bitmap) bool {
	found := false
	a.Range(func(x uint32) {
		if !found && b.Contains(x) {
			found = true
		}
	})
	return found
}
