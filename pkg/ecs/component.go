package ecs

import (
	"strconv"

	"github.com/argus-labs/ecsruntime/pkg/assert"
	"github.com/rotisserie/eris"
)

// Component is the interface that all components must implement.
// Components are pure data containers that can be attached to entities.
type Component interface { //nolint:iface // We may add more methods in the future.
	// Name returns a unique string identifier for the component type.
	// This should be consistent across program executions.
	Name() string
}

// componentType is the registration-time dispatch entry of a component type. Everything the
// runtime needs to store or check values of the type without knowing it statically lives here.
type componentType struct {
	id      ComponentID
	name    string
	factory columnFactory          // Creates the column storing this type in an archetype
	isType  func(c Component) bool // Reports whether c is of this type
}

// componentRegistry manages component type registration and lookup.
type componentRegistry struct {
	catalog map[string]ComponentID // Component name -> component ID
	types   []componentType        // Component ID -> dispatch entry
}

// newComponentRegistry creates a new component registry.
func newComponentRegistry() componentRegistry {
	return componentRegistry{
		catalog: make(map[string]ComponentID),
		types:   make([]componentType, 0),
	}
}

// registerComponent registers T and returns its ID. Registering the same type twice returns the
// existing ID.
func registerComponent[T Component](r *componentRegistry) (ComponentID, error) {
	var zero T
	name := zero.Name()
	if name == "" {
		return 0, eris.New("component name cannot be empty")
	}

	if id, exists := r.catalog[name]; exists {
		if !r.types[id].isType(zero) {
			return 0, eris.Wrapf(ErrComponentNameConflict, "component %s", name)
		}
		return id, nil
	}

	if len(r.types) >= MaxComponentTypes {
		return 0, eris.Wrapf(ErrComponentLimit, "cannot register %s", name)
	}

	id := ComponentID(len(r.types))
	r.catalog[name] = id
	r.types = append(r.types, componentType{
		id:      id,
		name:    name,
		factory: newColumnFactory[T](id),
		isType: func(c Component) bool {
			_, ok := c.(T)
			return ok
		},
	})
	assert.That(int(id)+1 == len(r.types), "component id doesn't match number of components")

	return id, nil
}

// lookupComponent returns the ID of T if it has been registered.
func lookupComponent[T Component](r *componentRegistry) (ComponentID, error) {
	var zero T
	id, err := r.getID(zero.Name())
	if err != nil {
		return 0, err
	}
	if !r.types[id].isType(zero) {
		return 0, eris.Wrapf(ErrComponentNameConflict, "component %s", zero.Name())
	}
	return id, nil
}

// getID returns a component's ID given a name.
func (r *componentRegistry) getID(name string) (ComponentID, error) {
	id, exists := r.catalog[name]
	if !exists {
		return 0, eris.Wrapf(ErrComponentNotFound, "component %s", name)
	}
	return id, nil
}

// lookup returns the dispatch entry of id. An unregistered id is a programmer error and panics.
func (r *componentRegistry) lookup(id ComponentID) *componentType {
	if int(id) >= len(r.types) {
		panic(eris.Wrapf(ErrComponentNotFound, "component id %d", id))
	}
	return &r.types[id]
}

// registered reports whether id has been assigned to a component type.
func (r *componentRegistry) registered(id ComponentID) bool {
	return int(id) < len(r.types)
}

// name returns the registered name of id, or its number if it is unknown.
func (r *componentRegistry) name(id ComponentID) string {
	if !r.registered(id) {
		return "#" + strconv.Itoa(int(id))
	}
	return r.types[id].name
}

// signatureOf returns the signature of the given component prototypes.
func (r *componentRegistry) signatureOf(components []Component) (ComponentSignature, error) {
	var sig ComponentSignature
	for _, c := range components {
		if c == nil {
			return sig, eris.New("component cannot be nil")
		}
		id, err := r.getID(c.Name())
		if err != nil {
			return sig, err
		}
		if !r.types[id].isType(c) {
			return sig, eris.Wrapf(ErrComponentNameConflict, "component %s", c.Name())
		}
		sig = sig.With(id)
	}
	return sig, nil
}

// names returns the component names of a signature in ID order.
func (r *componentRegistry) names(sig ComponentSignature) []string {
	names := make([]string, 0, sig.Count())
	for id := range sig.All() {
		names = append(names, r.name(id))
	}
	return names
}
