package ecs

import (
	"github.com/argus-labs/ecsruntime/pkg/assert"
	"github.com/rotisserie/eris"
)

// columnFactory creates an empty column with room for capacity rows.
type columnFactory func(capacity int) abstractColumn

// abstractColumn is an internal interface for generic column operations.
type abstractColumn interface {
	len() int
	componentID() ComponentID
	extend()
	remove(row int)

	setAbstract(row int, component Component)
	getAbstract(row int) Component

	// copyRow copies srcRow of this column into dstRow of dst. Both columns must store the same
	// component type. The copy is typed, so it never boxes the value.
	copyRow(dst abstractColumn, dstRow, srcRow int)
}

var _ abstractColumn = &column[Component]{}

// column stores the component data of entities in an archetype. The length of the components slice
// must match the length of the entities slice in the archetype.
type column[T Component] struct {
	id         ComponentID // The component type stored in this column
	components []T         // Array containing the component data
}

// defaultColumnCapacity is used when an archetype is created without a capacity hint.
const defaultColumnCapacity = 16

// newColumn creates a new column with the specified type.
func newColumn[T Component](id ComponentID, capacity int) *column[T] {
	if capacity <= 0 {
		capacity = defaultColumnCapacity
	}
	return &column[T]{
		id:         id,
		components: make([]T, 0, capacity),
	}
}

// newColumnFactory returns a function that constructs a new column of type T.
func newColumnFactory[T Component](id ComponentID) columnFactory {
	return func(capacity int) abstractColumn {
		return newColumn[T](id, capacity)
	}
}

// len returns the length of the components slice.
func (c *column[T]) len() int {
	return len(c.components)
}

func (c *column[T]) componentID() ComponentID {
	return c.id
}

// extend adds a new row to the components slice and initializes it with the zero value.
func (c *column[T]) extend() {
	// Double the capacity when the capacity is reached.
	if len(c.components) == cap(c.components) {
		newComponents := make([]T, len(c.components), max(2*cap(c.components), 1))
		copy(newComponents, c.components)
		c.components = newComponents
	}

	var zero T
	c.components = append(c.components, zero)
}

// set sets the component in a given row. A row corresponds to a single entity. Whenever possible
// prefer this method over setAbstract since it avoids the type assertion and avoids boxing the
// component data, which does allocations.
func (c *column[T]) set(row int, component T) {
	c.checkRow(row)
	c.components[row] = component
}

// setAbstract sets the component in a given row. Use this method only when you don't know the
// concrete type of the component.
func (c *column[T]) setAbstract(row int, component Component) {
	concrete, ok := component.(T)
	if !ok {
		panic(eris.Errorf("component %s cannot be stored in column %d", component.Name(), c.id))
	}
	c.set(row, concrete)
}

// get gets the value from a given row.
func (c *column[T]) get(row int) T {
	c.checkRow(row)
	return c.components[row]
}

// getAbstract gets the boxed value from a given row.
func (c *column[T]) getAbstract(row int) Component {
	return c.get(row)
}

// remove removes a given row. A remove swaps the last value in the slice with the row to remove.
func (c *column[T]) remove(row int) {
	c.checkRow(row)

	lastIndex := len(c.components) - 1

	// Swap the component to remove with the last component in the array.
	c.components[row] = c.components[lastIndex]
	// Clear the vacated slot so it doesn't keep pointers alive, then truncate.
	var zero T
	c.components[lastIndex] = zero
	c.components = c.components[:lastIndex]
}

func (c *column[T]) copyRow(dst abstractColumn, dstRow, srcRow int) {
	target, ok := dst.(*column[T])
	assert.That(ok, "copyRow between columns of different types (%d -> %d)", c.id, dst.componentID())
	target.set(dstRow, c.get(srcRow))
}

// checkRow panics if row is outside the column. Rows come from the entity manager, so a bad row
// means the storage is corrupted.
func (c *column[T]) checkRow(row int) {
	if row < 0 || row >= len(c.components) {
		panic(eris.Errorf("row %d out of range for column %d with %d rows", row, c.id, len(c.components)))
	}
}
