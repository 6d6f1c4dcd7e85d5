// Package bitfield provides the piece set used to describe which pieces are wanted, held or offered.
package bitfield

import (
	"errors"
	"math/bits"
)

var errNotEnoughBytes = errors.New("not enough bytes in slice for specified length")

// Bitfield is a set of piece indexes backed by a byte slice.
// Bit 0 is the most significant bit of the first byte, same as the BitTorrent wire format.
type Bitfield struct {
	b      []byte
	length uint32
}

// New creates a new Bitfield of length bits.
func New(length uint32) *Bitfield {
	return &Bitfield{b: make([]byte, (length+7)/8), length: length}
}

// NewBytes returns a new Bitfield from b.
// Bytes in b are not copied. Unused bits in last byte are cleared.
func NewBytes(b []byte, length uint32) (*Bitfield, error) {
	div, mod := divMod32(length, 8)
	lastByteIncomplete := mod != 0
	requiredBytes := div
	if lastByteIncomplete {
		requiredBytes++
	}
	if uint32(len(b)) < requiredBytes {
		return nil, errNotEnoughBytes
	}
	if lastByteIncomplete {
		b[requiredBytes-1] &= ^(0xff >> mod)
	}
	return &Bitfield{b: b[:requiredBytes], length: length}, nil
}

// Of returns a Bitfield of length bits with the given indexes set. Panics if an index is out of range.
func Of(length uint32, indexes ...uint32) *Bitfield {
	b := New(length)
	for _, i := range indexes {
		b.Set(i)
	}
	return b
}

// Copy returns a new copy of the Bitfield.
func (b *Bitfield) Copy() *Bitfield {
	b2 := make([]byte, len(b.b))
	copy(b2, b.b)
	return &Bitfield{b: b2, length: b.length}
}

// Len returns the number of bits as given to New.
func (b *Bitfield) Len() uint32 { return b.length }

// Set bit i. 0 is the most significant bit. Panics if i >= b.Len().
func (b *Bitfield) Set(i uint32) {
	b.checkIndex(i)
	div, mod := divMod32(i, 8)
	b.b[div] |= 1 << (7 - mod)
}

// Clear bit i. 0 is the most significant bit. Panics if i >= b.Len().
func (b *Bitfield) Clear(i uint32) {
	b.checkIndex(i)
	div, mod := divMod32(i, 8)
	b.b[div] &= ^(1 << (7 - mod))
}

// Test bit i. 0 is the most significant bit. Panics if i >= b.Len().
func (b *Bitfield) Test(i uint32) bool {
	b.checkIndex(i)
	div, mod := divMod32(i, 8)
	return (b.b[div] & (1 << (7 - mod))) > 0
}

// Count returns the count of set bits.
func (b *Bitfield) Count() uint32 {
	var total uint32
	for _, v := range b.b {
		total += uint32(bits.OnesCount8(v))
	}
	return total
}

// All returns true if all bits are set, false otherwise.
func (b *Bitfield) All() bool {
	return b.Count() == b.length
}

// Empty returns true if no bit is set.
func (b *Bitfield) Empty() bool {
	for _, v := range b.b {
		if v != 0 {
			return false
		}
	}
	return true
}

// NextSet returns the index of the first set bit at or after i.
// The second return value is false when there is no such bit.
func (b *Bitfield) NextSet(i uint32) (uint32, bool) {
	for i < b.length {
		div, mod := divMod32(i, 8)
		v := b.b[div] << mod
		if v == 0 {
			i += 8 - mod
			continue
		}
		i += uint32(bits.LeadingZeros8(v))
		if i >= b.length {
			break
		}
		return i, true
	}
	return 0, false
}

// ForEach calls fn for every set bit in ascending order.
func (b *Bitfield) ForEach(fn func(i uint32)) {
	for i, ok := b.NextSet(0); ok; i, ok = b.NextSet(i + 1) {
		fn(i)
	}
}

// Indexes returns the set bits in ascending order.
func (b *Bitfield) Indexes() []uint32 {
	ret := make([]uint32, 0, b.Count())
	b.ForEach(func(i uint32) { ret = append(ret, i) })
	return ret
}

// AndNot clears every bit that is set in o. Panics if lengths differ.
func (b *Bitfield) AndNot(o *Bitfield) {
	b.checkLen(o)
	for i := range b.b {
		b.b[i] &^= o.b[i]
	}
}

func (b *Bitfield) checkIndex(i uint32) {
	if i >= b.Len() {
		panic("index out of bound")
	}
}

func (b *Bitfield) checkLen(o *Bitfield) {
	if b.length != o.length {
		panic("bitfield lengths differ")
	}
}

func divMod32(a, b uint32) (uint32, uint32) { return a / b, a % b }
