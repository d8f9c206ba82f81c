package archive

import "encoding/binary"

// Reader reads archive fields from a byte payload. All multi-byte reads are
// little-endian. Reads past the end return zero values instead of failing;
// truncated input degrades to defaults.
type Reader struct {
	data []byte
	off  int
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// ReadU8 reads 1 unsigned byte.
func (r *Reader) ReadU8() byte {
	if r.off >= len(r.data) {
		return 0
	}
	v := r.data[r.off]
	r.off++
	return v
}

// ReadU16 reads 2 bytes as little-endian uint16.
func (r *Reader) ReadU16() uint16 {
	if r.off+2 > len(r.data) {
		r.off = len(r.data)
		return 0
	}
	v := binary.LittleEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v
}

// ReadU32 reads 4 bytes as little-endian uint32.
func (r *Reader) ReadU32() uint32 {
	if r.off+4 > len(r.data) {
		r.off = len(r.data)
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

// ReadU64 reads 8 bytes as little-endian uint64.
func (r *Reader) ReadU64() uint64 {
	if r.off+8 > len(r.data) {
		r.off = len(r.data)
		return 0
	}
	v := binary.LittleEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v
}

func (r *Reader) ReadBool() bool {
	return r.ReadU8() != 0
}

// ReadString reads a u32 length prefix followed by UTF-8 bytes.
func (r *Reader) ReadString() string {
	n := int(r.ReadU32())
	return string(r.ReadBytes(n))
}

// ReadBytes reads n raw bytes.
func (r *Reader) ReadBytes(n int) []byte {
	if n <= 0 {
		return nil
	}
	if r.off+n > len(r.data) {
		remaining := r.data[r.off:]
		r.off = len(r.data)
		return remaining
	}
	b := make([]byte, n)
	copy(b, r.data[r.off:r.off+n])
	r.off += n
	return b
}

// Offset returns the current read position.
func (r *Reader) Offset() int {
	return r.off
}

// SkipTo advances the read position, clamped to the payload length. Used to
// jump past length-prefixed blocks whose content is unknown.
func (r *Reader) SkipTo(off int) {
	if off < r.off {
		return
	}
	if off > len(r.data) {
		off = len(r.data)
	}
	r.off = off
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}
