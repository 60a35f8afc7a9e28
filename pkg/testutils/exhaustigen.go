package testutils

import "github.com/argus-labs/ecsruntime/pkg/assert"

const maxGenDepth = 32

type genSlot struct {
	value, bound uint32
}

// Gen enumerates every combination of the choices a test body makes. Each pass through
//
//	for g := NewGen(); !g.Done(); { ... g.Intn(n) ... }
//
// records the sequence of choices with their bounds. Done advances to the next sequence by
// bumping the rightmost choice that is still below its bound and resetting everything after it,
// so the loop visits the whole space exactly once.
//
// See: <https://matklad.github.io/2021/11/07/generate-all-the-things.html>
type Gen struct {
	started bool
	slots   [maxGenDepth]genSlot
	pos     int // Choice index within the current pass
	depth   int // Number of choices recorded so far
}

// NewGen creates a new exhaustive generator.
func NewGen() *Gen {
	return &Gen{}
}

// Done reports whether every combination has been visited.
func (g *Gen) Done() bool {
	if !g.started {
		g.started = true
		return false
	}
	for i := g.depth - 1; i >= 0; i-- {
		if g.slots[i].value < g.slots[i].bound {
			g.slots[i].value++
			g.depth = i + 1
			g.pos = 0
			return false
		}
	}
	return true
}

func (g *Gen) next(bound uint32) uint32 {
	assert.That(g.pos < maxGenDepth, "exhaustigen: exceeded maximum depth of %d", maxGenDepth)
	if g.pos == g.depth {
		g.slots[g.pos] = genSlot{}
		g.depth++
	}
	slot := &g.slots[g.pos]
	slot.bound = bound
	g.pos++
	return slot.value
}

// Intn returns an int in [0, bound].
func (g *Gen) Intn(bound int) int {
	return int(g.next(uint32(bound))) //nolint:gosec // bound is expected to be small in tests
}

// Range returns an int in [lo, hi].
func (g *Gen) Range(lo, hi int) int {
	assert.That(lo <= hi, "exhaustigen: lo > hi")
	return lo + g.Intn(hi-lo)
}

// Bool returns both booleans across passes.
func (g *Gen) Bool() bool {
	return g.Intn(1) == 1
}

// Shuffle permutes the slice in place; across passes it yields every permutation.
func Shuffle[T any](g *Gen, s []T) {
	for i := 0; i+1 < len(s); i++ {
		j := g.Range(i, len(s)-1)
		s[i], s[j] = s[j], s[i]
	}
}

// Subset returns the elements of s selected by one Bool per element.
func Subset[T any](g *Gen, s []T) []T {
	out := make([]T, 0, len(s))
	for _, v := range s {
		if g.Bool() {
			out = append(out, v)
		}
	}
	return out
}
