// Package archive provides a dual-mode binary serialization surface: the
// same schema function runs against an input or output archive depending on
// the mode flag, so encode and decode cannot drift apart.
//
// The binary format flattens ordered and unordered scoping; only array
// blocks (element count prefix) and safe blocks (byte length prefix, so
// unknown content can be skipped) carry structure on the wire.
package archive

import "math"

// Archive serializes primitive values in one direction determined at
// construction. On input, reads past the end of the payload yield zero
// values rather than errors.
type Archive struct {
	input bool
	r     *Reader
	w     *Writer
}

// NewOutput creates a writing archive.
func NewOutput() *Archive {
	return &Archive{w: NewWriter()}
}

// NewInput creates a reading archive over the payload.
func NewInput(data []byte) *Archive {
	return &Archive{input: true, r: NewReader(data)}
}

func (a *Archive) IsInput() bool {
	return a.input
}

// Data returns the encoded payload of an output archive.
func (a *Archive) Data() []byte {
	return a.w.Bytes()
}

func (a *Archive) U8(v *byte) {
	if a.input {
		*v = a.r.ReadU8()
	} else {
		a.w.WriteU8(*v)
	}
}

func (a *Archive) U16(v *uint16) {
	if a.input {
		*v = a.r.ReadU16()
	} else {
		a.w.WriteU16(*v)
	}
}

func (a *Archive) U32(v *uint32) {
	if a.input {
		*v = a.r.ReadU32()
	} else {
		a.w.WriteU32(*v)
	}
}

func (a *Archive) U64(v *uint64) {
	if a.input {
		*v = a.r.ReadU64()
	} else {
		a.w.WriteU64(*v)
	}
}

func (a *Archive) Bool(v *bool) {
	if a.input {
		*v = a.r.ReadBool()
	} else {
		a.w.WriteBool(*v)
	}
}

func (a *Archive) String(v *string) {
	if a.input {
		*v = a.r.ReadString()
	} else {
		a.w.WriteString(*v)
	}
}

func (a *Archive) Bytes(v *[]byte) {
	if a.input {
		n := int(a.r.ReadU32())
		*v = a.r.ReadBytes(n)
	} else {
		a.w.WriteU32(uint32(len(*v)))
		a.w.WriteBytes(*v)
	}
}

func (a *Archive) F64(v *float64) {
	if a.input {
		*v = math.Float64frombits(a.r.ReadU64())
	} else {
		a.w.WriteU64(math.Float64bits(*v))
	}
}

// ArrayBlock serializes an element count. On output it writes count and
// returns it; on input it reads the count and returns it as the size hint.
func (a *Archive) ArrayBlock(count int) int {
	n := uint32(count)
	a.U32(&n)
	return int(n)
}

// SafeBlock is a length-prefixed region. Closing an input block skips any
// unread remainder, so content written by an unknown producer (for example
// a component type with no registered factory) is passed over safely.
type SafeBlock struct {
	a       *Archive
	patchAt int
	limit   int
}

// OpenSafeBlock starts a length-prefixed region. Every open block must be
// closed, in LIFO order.
func (a *Archive) OpenSafeBlock() *SafeBlock {
	if a.input {
		length := int(a.r.ReadU32())
		return &SafeBlock{a: a, limit: a.r.Offset() + length}
	}
	return &SafeBlock{a: a, patchAt: a.w.Reserve()}
}

func (b *SafeBlock) Close() {
	if b.a.input {
		b.a.r.SkipTo(b.limit)
		return
	}
	b.a.w.PatchU32(b.patchAt, uint32(b.a.w.Len()-b.patchAt-4))
}
