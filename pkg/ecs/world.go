package ecs

import (
	"context"
	"time"

	"github.com/argus-labs/ecsruntime/pkg/statsd"
	"github.com/argus-labs/ecsruntime/pkg/telemetry"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// World is the root of the runtime. It composes the component registry, the archetype and entity
// managers, the command buffer and the system manager, and drives the tick loop.
//
// A World is owned by one goroutine: component registration, Tick, Run and RunSystem must be called
// from it. Systems run concurrently inside a tick but only see the world through their
// SystemContext.
type World struct {
	id      uuid.UUID
	options WorldOptions

	components componentRegistry
	archetypes *ArchetypeManager
	entities   *EntityManager
	commands   *CommandBuffer
	systems    *SystemManager

	tick    uint64        // Number of completed ticks
	elapsed time.Duration // Sum of the delta times of completed ticks

	log    zerolog.Logger
	tracer trace.Tracer
	tags   []string // Metric tags
}

// NewWorld creates a world. Configuration is read from the environment first, then the non-zero
// fields of opts are applied on top.
func NewWorld(opts WorldOptions) (*World, error) {
	cfg, err := loadWorldConfig()
	if err != nil {
		return nil, err
	}

	options := newDefaultWorldOptions()
	cfg.applyToOptions(&options)
	options.apply(opts)
	if err := options.validate(); err != nil {
		return nil, eris.Wrap(err, "invalid world options")
	}

	id := uuid.New()

	var base zerolog.Logger
	if options.Logger != nil {
		base = *options.Logger
	} else {
		base = telemetry.GetGlobalLogger("ecs")
	}
	log := base.With().Str("world", options.Name).Str("world_id", id.String()).Logger()

	tracer := options.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("ecs")
	}

	if options.StatsdAddress != "" {
		if err := statsd.Init(options.StatsdAddress, nil); err != nil {
			return nil, eris.Wrap(err, "failed to init statsd")
		}
	}

	w := &World{
		id:         id,
		options:    options,
		components: newComponentRegistry(),
		log:        log,
		tracer:     tracer,
		tags:       []string{"world:" + options.Name},
	}

	archLog := log.With().Str("component", "archetypes").Logger()
	w.archetypes = newArchetypeManager(&w.components, archetypeOwner{log: &archLog}, options.InitialCapacity)
	w.entities = newEntityManager(w.archetypes, log.With().Str("component", "entities").Logger())
	w.archetypes.owner.locations = w.entities
	w.commands = newCommandBuffer(log.With().Str("component", "commands").Logger())
	w.systems = newSystemManager(w, options.workers(), log.With().Str("component", "systems").Logger())

	log.Debug().Int("workers", options.workers()).Bool("debug_validate", options.DebugValidate).Msg("world created")
	return w, nil
}

// RegisterComponent registers the component type T with the world and returns its ID. Registering
// an already registered type returns the existing ID.
func RegisterComponent[T Component](w *World) (ComponentID, error) {
	id, err := registerComponent[T](&w.components)
	if err != nil {
		return 0, eris.Wrap(err, "failed to register component")
	}
	return id, nil
}

// ComponentIDOf returns the ID of the registered component type T.
func ComponentIDOf[T Component](w *World) (ComponentID, error) {
	return lookupComponent[T](&w.components)
}

// GetComponent returns the component id of a live entity.
func GetComponent[T Component](w *World, e Entity, id ComponentID) (T, error) {
	var zero T
	arch, row, err := w.entities.archetypeOf(e)
	if err != nil {
		return zero, err
	}
	if !arch.Has(id) {
		return zero, eris.Wrapf(ErrComponentNotFound, "entity %s has no component %s", e, w.components.name(id))
	}
	return ComponentValue[T](arch, id, row), nil
}

// ID returns the unique ID of this world instance.
func (w *World) ID() uuid.UUID {
	return w.id
}

// Name returns the configured name of the world.
func (w *World) Name() string {
	return w.options.Name
}

// Entities returns the entity manager.
func (w *World) Entities() *EntityManager {
	return w.entities
}

// Archetypes returns the archetype manager.
func (w *World) Archetypes() *ArchetypeManager {
	return w.archetypes
}

// Commands returns the command buffer.
func (w *World) Commands() *CommandBuffer {
	return w.commands
}

// Systems returns the system manager.
func (w *World) Systems() *SystemManager {
	return w.systems
}

// Logger returns the logger of the world.
func (w *World) Logger() *zerolog.Logger {
	return &w.log
}

// Query returns the archetypes containing every component in ids.
func (w *World) Query(ids ...ComponentID) []*Archetype {
	return w.archetypes.Query(ids...)
}

// IsAlive reports whether the entity is alive.
func (w *World) IsAlive(e Entity) bool {
	return w.entities.IsAlive(e)
}

// TryGetLocation returns the location of a live entity.
func (w *World) TryGetLocation(e Entity) (EntityLocation, bool) {
	return w.entities.TryGetLocation(e)
}

// TickCount returns the number of completed ticks.
func (w *World) TickCount() uint64 {
	return w.tick
}

// Elapsed returns the simulated time of the completed ticks.
func (w *World) Elapsed() time.Duration {
	return w.elapsed
}

// -------------------------------------------------------------------------------------------------
// Tick loop
// -------------------------------------------------------------------------------------------------

// Tick advances the world by dt. It processes pending system lifecycle requests, applies the
// queued commands, optionally validates the storage, runs the due systems and then advances the
// tick counter and elapsed time. If a system fails the error is returned and time does not advance,
// neither for the world nor for the fixed rate buckets.
func (w *World) Tick(ctx context.Context, dt time.Duration) error {
	ctx, span := w.tracer.Start(ctx, "ecs.tick", trace.WithAttributes(
		attribute.String("world", w.options.Name),
		attribute.Int64("tick", int64(w.tick)), //nolint:gosec // it's ok
	))
	defer span.End()

	start := time.Now()
	w.systems.processRequests()

	if err := w.applyCommands(); err != nil {
		span.RecordError(err)
		return err
	}
	statsd.EmitTickStat(start, "apply", w.tags...)

	systemsStart := time.Now()
	if err := w.systems.runTick(ctx, w.tick, dt); err != nil {
		span.RecordError(err)
		return eris.Wrapf(err, "tick %d failed", w.tick)
	}
	statsd.EmitTickStat(systemsStart, "systems", w.tags...)

	w.tick++
	w.elapsed += dt

	statsd.EmitTickStat(start, "total", w.tags...)
	statsd.Gauge("entities", float64(w.entities.Len()), w.tags...)
	statsd.Gauge("archetypes", float64(w.archetypes.Len()), w.tags...)
	return nil
}

// applyCommands applies the command buffer and validates the result in debug mode.
func (w *World) applyCommands() error {
	if err := w.commands.Apply(w); err != nil {
		return eris.Wrap(err, "failed to apply commands")
	}
	if w.options.DebugValidate {
		if err := w.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Run ticks the world every interval until ctx is cancelled. Each tick receives the wall time
// since the previous one. A failing tick is logged and stops the loop.
func (w *World) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return eris.Errorf("tick interval must be positive, got %s", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.log.Info().Dur("interval", interval).Msg("world loop started")
	w.LogState()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Uint64("tick", w.tick).Msg("world loop stopped")
			return nil
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			if err := w.Tick(ctx, dt); err != nil {
				w.log.Error().Err(err).Uint64("tick", w.tick).Msg("tick failed")
				return err
			}
		}
	}
}

// RunSystem runs a registered system once, whatever its tick rate, then applies the commands it
// queued. It is the only way manual rate systems run.
func (w *World) RunSystem(ctx context.Context, name string) error {
	w.systems.processRequests()
	if err := w.systems.runOne(ctx, name, w.tick); err != nil {
		return err
	}
	return w.applyCommands()
}
