package ecs

import "github.com/rotisserie/eris"

var (
	// ErrEntityNotFound is returned when an operation targets an entity handle that is no longer
	// alive, either because it was destroyed or because its slot was recycled.
	ErrEntityNotFound = eris.New("entity does not exist")

	// ErrEntityLimit is returned when every entity index is in use.
	ErrEntityLimit = eris.New("max number of entities exceeded")

	// ErrComponentNotFound is returned when a component type has not been registered.
	ErrComponentNotFound = eris.New("component is not registered")

	// ErrComponentLimit is returned when registering more than MaxComponentTypes component types.
	ErrComponentLimit = eris.New("max number of component types exceeded")

	// ErrComponentNameConflict is returned when two different Go types report the same name.
	ErrComponentNameConflict = eris.New("component name already registered to another type")

	// ErrSystemNotDefined is returned when registering a system whose name is not in the catalog.
	ErrSystemNotDefined = eris.New("system is not defined")

	// ErrSystemCycle is returned when the required systems of a system form a cycle.
	ErrSystemCycle = eris.New("system dependency cycle")

	// ErrSystemNotRegistered is returned when operating on a system that is not registered.
	ErrSystemNotRegistered = eris.New("system is not registered")

	// ErrIntegrity is returned by Validate when the storage invariants do not hold.
	ErrIntegrity = eris.New("world integrity check failed")
)
