package ecs

import (
	"encoding/binary"
	"iter"
	"math/bits"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ComponentID is the small integer assigned to a component type when it is registered.
type ComponentID uint8

// MaxComponentTypes is the number of component types a world can register.
const MaxComponentTypes = 256

const signatureWords = MaxComponentTypes / 64

// ComponentSignature is the set of component types carried by an archetype. It is a value type:
// With and Without return a new signature and leave the receiver untouched, so a signature bound
// to an archetype can never change after construction.
type ComponentSignature [signatureWords]uint64

// NewSignature returns the signature containing the given component IDs.
func NewSignature(ids ...ComponentID) ComponentSignature {
	var s ComponentSignature
	for _, id := range ids {
		s[id>>6] |= 1 << (id & 63)
	}
	return s
}

// With returns a copy of the signature that also contains id.
func (s ComponentSignature) With(id ComponentID) ComponentSignature {
	s[id>>6] |= 1 << (id & 63)
	return s
}

// Without returns a copy of the signature that does not contain id.
func (s ComponentSignature) Without(id ComponentID) ComponentSignature {
	s[id>>6] &^= 1 << (id & 63)
	return s
}

// Has reports whether id is in the signature.
func (s ComponentSignature) Has(id ComponentID) bool {
	return s[id>>6]&(1<<(id&63)) != 0
}

// ContainsAll reports whether every component of other is in s.
func (s ComponentSignature) ContainsAll(other ComponentSignature) bool {
	for i := range s {
		if s[i]&other[i] != other[i] {
			return false
		}
	}
	return true
}

// Intersects reports whether s and other share at least one component.
func (s ComponentSignature) Intersects(other ComponentSignature) bool {
	for i := range s {
		if s[i]&other[i] != 0 {
			return true
		}
	}
	return false
}

// Count returns the number of components in the signature.
func (s ComponentSignature) Count() int {
	n := 0
	for _, w := range s {
		n += bits.OnesCount64(w)
	}
	return n
}

// IsEmpty reports whether the signature has no components.
func (s ComponentSignature) IsEmpty() bool {
	return s == ComponentSignature{}
}

// All yields the component IDs of the signature in ascending order.
func (s ComponentSignature) All() iter.Seq[ComponentID] {
	return func(yield func(ComponentID) bool) {
		for i, w := range s {
			for w != 0 {
				bit := bits.TrailingZeros64(w)
				if !yield(ComponentID(i*64 + bit)) {
					return
				}
				w &= w - 1
			}
		}
	}
}

// IDs returns the component IDs of the signature in ascending order.
func (s ComponentSignature) IDs() []ComponentID {
	ids := make([]ComponentID, 0, s.Count())
	for id := range s.All() {
		ids = append(ids, id)
	}
	return ids
}

func (s ComponentSignature) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	first := true
	for id := range s.All() {
		if !first {
			sb.WriteByte(',')
		}
		first = false
		sb.WriteString(strconv.Itoa(int(id)))
	}
	sb.WriteByte('}')
	return sb.String()
}

// signatureKey is the archetype cache key. It combines two independently seeded 64-bit hashes of
// the signature so that a collision needs both halves to collide.
type signatureKey struct {
	lo, hi uint64
}

const (
	signatureSeedLo uint64 = 0x9e3779b97f4a7c15
	signatureSeedHi uint64 = 0xc2b2ae3d27d4eb4f
)

func (s ComponentSignature) key() signatureKey {
	var buf [signatureWords * 8]byte
	for i, w := range s {
		binary.LittleEndian.PutUint64(buf[i*8:], w)
	}

	var d xxhash.Digest
	d.ResetWithSeed(signatureSeedLo)
	_, _ = d.Write(buf[:])
	lo := d.Sum64()

	d.ResetWithSeed(signatureSeedHi)
	_, _ = d.Write(buf[:])
	return signatureKey{lo: lo, hi: d.Sum64()}
}
