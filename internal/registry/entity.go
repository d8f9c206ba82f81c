package registry

import (
	"errors"
	"fmt"
)

// Entity encodes a 32-bit index in the lower bits and a 32-bit generation
// in the upper bits. Generation increments on destroy to invalidate stale
// handles. The raw uint64 value is what gets persisted.
type Entity uint64

// Nil is the null entity sentinel. It never refers to a live entity.
const Nil Entity = ^Entity(0)

func NewEntity(index uint32, generation uint32) Entity {
	return Entity(uint64(generation)<<32 | uint64(index))
}

func (e Entity) Index() uint32      { return uint32(e) }
func (e Entity) Generation() uint32 { return uint32(e >> 32) }
func (e Entity) IsNil() bool        { return e == Nil }

// String renders "index:generation" for logs.
func (e Entity) String() string {
	if e.IsNil() {
		return "nil"
	}
	return fmt.Sprintf("%d:%d", e.Index(), e.Generation())
}

// ErrInvalidEntity reports an operation on a null, destroyed, or foreign
// handle. Callers log it and skip the operation; it is never fatal.
var ErrInvalidEntity = errors.New("invalid entity")
