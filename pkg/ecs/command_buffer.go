package ecs

import (
	"errors"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// initialWriterCapacity is the starting capacity of a writer's command slice.
const initialWriterCapacity = 64

type commandKind uint8

const (
	commandAdd commandKind = iota + 1
	commandRemove
	commandDestroy
)

func (k commandKind) String() string {
	switch k {
	case commandAdd:
		return "add"
	case commandRemove:
		return "remove"
	case commandDestroy:
		return "destroy"
	default:
		return "unknown"
	}
}

// command is a queued structural change. It carries the full entity handle so a change queued
// against an entity that dies before apply is detected and skipped.
type command struct {
	kind   commandKind
	entity Entity
	id     ComponentID
	value  Component
}

// CommandWriter queues structural changes for a single goroutine. Each running system gets its
// own writer, so systems in the same batch never contend on a lock. A writer must not be used after
// the command buffer it came from has been applied.
type CommandWriter struct {
	commands  []command
	creations []func(*EntityBuilder) error
}

// AddComponent queues setting component id of the entity to value.
func (cw *CommandWriter) AddComponent(e Entity, id ComponentID, value Component) {
	cw.commands = append(cw.commands, command{kind: commandAdd, entity: e, id: id, value: value})
}

// RemoveComponent queues removing component id from the entity.
func (cw *CommandWriter) RemoveComponent(e Entity, id ComponentID) {
	cw.commands = append(cw.commands, command{kind: commandRemove, entity: e, id: id})
}

// DestroyEntity queues destroying the entity.
func (cw *CommandWriter) DestroyEntity(e Entity) {
	cw.commands = append(cw.commands, command{kind: commandDestroy, entity: e})
}

// CreateEntity queues the creation of an entity whose components are set by fn. Creations queued
// through writers run after the ones queued directly on the command buffer.
func (cw *CommandWriter) CreateEntity(fn func(*EntityBuilder) error) {
	cw.creations = append(cw.creations, fn)
}

// Len returns the number of queued commands.
func (cw *CommandWriter) Len() int {
	return len(cw.commands) + len(cw.creations)
}

func (cw *CommandWriter) reset() {
	clear(cw.commands) // Drop references to boxed values.
	cw.commands = cw.commands[:0]
	clear(cw.creations)
	cw.creations = cw.creations[:0]
}

// EntityBuilder collects the components of an entity queued with CreateEntity.
type EntityBuilder struct {
	values   []componentValue
	onCreate []func(Entity)
}

// Set sets component id of the new entity. Setting the same id twice keeps the last value.
func (b *EntityBuilder) Set(id ComponentID, value Component) *EntityBuilder {
	for i := range b.values {
		if b.values[i].id == id {
			b.values[i].value = value
			return b
		}
	}
	b.values = append(b.values, componentValue{id: id, value: value})
	return b
}

// OnCreate registers fn to be called with the handle of the entity once it exists.
func (b *EntityBuilder) OnCreate(fn func(Entity)) *EntityBuilder {
	b.onCreate = append(b.onCreate, fn)
	return b
}

// With is the typed form of EntityBuilder.Set.
func With[T Component](b *EntityBuilder, id ComponentID, value T) *EntityBuilder {
	return b.Set(id, value)
}

func (b *EntityBuilder) reset() {
	clear(b.values)
	b.values = b.values[:0]
	clear(b.onCreate)
	b.onCreate = b.onCreate[:0]
}

// CommandBuffer is the deferred log of structural changes of a world. Changes are queued during the
// tick and applied at a single point by Apply, while no system is running.
//
// AddComponent, RemoveComponent, DestroyEntity and the writers handed to systems are safe for
// concurrent use. CreateEntity and Apply must only be called from the goroutine that owns the
// world.
type CommandBuffer struct {
	pool sync.Pool

	mu      sync.Mutex
	shared  *CommandWriter   // Backs the buffer level methods, guarded by mu
	writers []*CommandWriter // Writers handed out since the last apply, in acquisition order

	creations []func(*EntityBuilder) error // Owner goroutine only
	spare     []func(*EntityBuilder) error // Backing array swapped in while creations are applied
	builder   EntityBuilder
	destroys  []Entity

	log zerolog.Logger
}

func newCommandBuffer(log zerolog.Logger) *CommandBuffer {
	return &CommandBuffer{
		pool: sync.Pool{
			New: func() any {
				return &CommandWriter{commands: make([]command, 0, initialWriterCapacity)}
			},
		},
		shared:    &CommandWriter{commands: make([]command, 0, initialWriterCapacity)},
		writers:   make([]*CommandWriter, 0),
		creations: make([]func(*EntityBuilder) error, 0),
		destroys:  make([]Entity, 0),
		log:       log,
	}
}

// Writer returns a writer for one goroutine. Its commands are applied, in the order writers were
// handed out, by the next Apply.
func (cb *CommandBuffer) Writer() *CommandWriter {
	cw := cb.pool.Get().(*CommandWriter) //nolint:errcheck // the pool only holds writers

	cb.mu.Lock()
	cb.writers = append(cb.writers, cw)
	cb.mu.Unlock()
	return cw
}

// AddComponent queues setting component id of the entity to value.
func (cb *CommandBuffer) AddComponent(e Entity, id ComponentID, value Component) {
	cb.mu.Lock()
	cb.shared.AddComponent(e, id, value)
	cb.mu.Unlock()
}

// RemoveComponent queues removing component id from the entity.
func (cb *CommandBuffer) RemoveComponent(e Entity, id ComponentID) {
	cb.mu.Lock()
	cb.shared.RemoveComponent(e, id)
	cb.mu.Unlock()
}

// DestroyEntity queues destroying the entity.
func (cb *CommandBuffer) DestroyEntity(e Entity) {
	cb.mu.Lock()
	cb.shared.DestroyEntity(e)
	cb.mu.Unlock()
}

// CreateEntity queues the creation of an entity whose components are set by fn. The entity is
// created directly in its final archetype. If fn returns an error or panics, only that entity is
// skipped.
func (cb *CommandBuffer) CreateEntity(fn func(*EntityBuilder) error) {
	cb.creations = append(cb.creations, fn)
}

// Len returns the number of queued changes. Like CreateEntity it must only be called from the
// goroutine that owns the world, outside of a tick, since running systems append to their writers
// without locking.
func (cb *CommandBuffer) Len() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	n := cb.shared.Len() + len(cb.creations)
	for _, cw := range cb.writers {
		n += cw.Len()
	}
	return n
}

// Apply applies every queued change to the world in three steps: component adds and removes in
// the order they were queued, then entity creations, then entity destructions. Changes against
// entities that are no longer alive are skipped. A failing creation is logged and skipped. The
// returned error only reports creations that failed because the world ran out of entity indexes.
func (cb *CommandBuffer) Apply(w *World) error {
	cb.mu.Lock()
	writers := cb.writers
	cb.writers = make([]*CommandWriter, 0, len(writers))
	cb.mu.Unlock()

	// The shared writer is drained first: it holds changes queued outside of systems, before
	// the systems that produced the other writers ran.
	cb.mu.Lock()
	cb.drain(w.entities, cb.shared)
	cb.mu.Unlock()

	for _, cw := range writers {
		cb.drain(w.entities, cw)
		cb.pool.Put(cw)
	}

	err := cb.applyCreations(w)

	for _, e := range cb.destroys {
		if !w.entities.Destroy(e) {
			cb.log.Debug().Stringer("entity", e).Msg("skipping destroy of dead entity")
		}
	}
	clear(cb.destroys)
	cb.destroys = cb.destroys[:0]

	return err
}

// drain applies the adds and removes of cw and moves its creations and destroys to the buffer's
// queues.
func (cb *CommandBuffer) drain(em *EntityManager, cw *CommandWriter) {
	cb.creations = append(cb.creations, cw.creations...)

	for i := range cw.commands {
		cmd := &cw.commands[i]

		if cmd.kind == commandDestroy {
			cb.destroys = append(cb.destroys, cmd.entity)
			continue
		}

		if !em.IsAlive(cmd.entity) {
			cb.log.Debug().
				Stringer("op", cmd.kind).
				Stringer("entity", cmd.entity).
				Uint8("component", uint8(cmd.id)).
				Msg("skipping command for dead entity")
			continue
		}

		var err error
		switch cmd.kind {
		case commandAdd:
			err = em.addComponent(cmd.entity, cmd.id, cmd.value)
		case commandRemove:
			err = em.removeComponent(cmd.entity, cmd.id)
		case commandDestroy:
		}
		if err != nil {
			cb.log.Error().Err(err).
				Stringer("op", cmd.kind).
				Stringer("entity", cmd.entity).
				Msg("failed to apply command")
		}
	}
	cw.reset()
}

func (cb *CommandBuffer) applyCreations(w *World) error {
	if len(cb.creations) == 0 {
		return nil
	}

	// Creations queued by the builders or their OnCreate callbacks go to the next apply.
	pending := cb.creations
	cb.creations = cb.spare[:0]

	var errs error
	for i, fn := range pending {
		pending[i] = nil
		if err := cb.create(w, fn); err != nil {
			if eris.Is(err, ErrEntityLimit) {
				errs = errors.Join(errs, err)
			}
			cb.log.Error().Err(err).Int("creation", i).Msg("failed to create entity")
		}
	}
	cb.spare = pending[:0]
	return errs
}

// create runs one builder and creates its entity.
func (cb *CommandBuffer) create(w *World, fn func(*EntityBuilder) error) (err error) {
	b := &cb.builder
	b.reset()

	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("entity builder panicked: %v", r)
		}
	}()

	if err := fn(b); err != nil {
		return eris.Wrap(err, "entity builder failed")
	}

	var sig ComponentSignature
	for _, cv := range b.values {
		if !w.components.registered(cv.id) {
			return eris.Wrapf(ErrComponentNotFound, "component id %d", cv.id)
		}
		ct := w.components.lookup(cv.id)
		if cv.value == nil || !ct.isType(cv.value) {
			return eris.Errorf("value for component %s has the wrong type", ct.name)
		}
		sig = sig.With(cv.id)
	}

	e, err := w.entities.CreateWithSignature(sig)
	if err != nil {
		return eris.Wrap(err, "failed to create entity")
	}

	arch, row, err := w.entities.archetypeOf(e)
	if err != nil {
		return err
	}
	for _, cv := range b.values {
		arch.mustColumn(cv.id).setAbstract(row, cv.value)
	}

	for _, fn := range b.onCreate {
		fn(e)
	}
	return nil
}
