package filter

import (
	"bytes"

	"github.com/bits-and-blooms/bitset"
	"github.com/pkg/errors"
)

var (
	ErrBadSize     = errors.New("filter: size must be a power of two")
	ErrBadSnapshot = errors.New("filter: malformed snapshot")
)

// BitArray is the fixed-size membership structure. Bits only ever go from
// absent to present; there is no clear or resize.
type BitArray struct {
	M uint32 // number of slots, a power of two

	bits *bitset.BitSet
}

func NewBitArray(m uint32) (*BitArray, error) {
	if !IsPowerOfTwo(m) {
		return nil, errors.Wrapf(ErrBadSize, "got %d", m)
	}
	return &BitArray{
		M:    m,
		bits: bitset.New(uint(m)),
	}, nil
}

// Set marks idx as present. idx must already be masked into range.
func (ba *BitArray) Set(idx uint32) {
	ba.bits.Set(uint(idx & (ba.M - 1)))
}

func (ba *BitArray) Test(idx uint32) bool {
	if idx >= ba.M {
		return false
	}
	return ba.bits.Test(uint(idx))
}

func (ba *BitArray) Size() uint32 { return ba.M }

// Count returns the number of present slots.
func (ba *BitArray) Count() uint32 {
	return uint32(ba.bits.Count())
}

func (ba *BitArray) Equal(other *BitArray) bool {
	if other == nil || ba.M != other.M {
		return false
	}
	return ba.bits.Equal(other.bits)
}

// SetIndices lists present slots in ascending order.
func (ba *BitArray) SetIndices() []uint32 {
	var out []uint32
	for i, ok := ba.bits.NextSet(0); ok && i < uint(ba.M); i, ok = ba.bits.NextSet(i + 1) {
		out = append(out, uint32(i))
	}
	return out
}

// Serialize the array to a byte slice in the following format:
// header|words
// header format: uint32(M)|uint32(len(words)) => 4 + 4 = 8 bytes
// words are little-endian uint64
func (ba *BitArray) Serialize() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 8+len(ba.bits.Bytes())*8))
	ba.AppendTo(buf)
	return buf.Bytes()
}

// AppendTo writes the serialized form to buf.
func (ba *BitArray) AppendTo(buf *bytes.Buffer) {
	words := ba.bits.Bytes()
	SerializeUint(buf, uint64(ba.M), 4)
	SerializeUint(buf, uint64(len(words)), 4)
	for _, w := range words {
		SerializeUint(buf, w, 8)
	}
}

func DeserializeBitArray(data []byte) (*BitArray, error) {
	return ReadBitArray(bytes.NewBuffer(data))
}

// ReadBitArray consumes one serialized BitArray from buf.
func ReadBitArray(buf *bytes.Buffer) (*BitArray, error) {
	m, ok := DeserializeUint[uint32](buf, 4)
	if !ok {
		return nil, errors.Wrap(ErrBadSnapshot, "short header")
	}
	if !IsPowerOfTwo(m) {
		return nil, errors.Wrapf(ErrBadSnapshot, "size %d is not a power of two", m)
	}
	n, ok := DeserializeUint[uint32](buf, 4)
	if !ok {
		return nil, errors.Wrap(ErrBadSnapshot, "short header")
	}
	if want := (uint64(m) + 63) / 64; uint64(n) != want {
		return nil, errors.Wrapf(ErrBadSnapshot, "%d words for size %d, want %d", n, m, want)
	}
	if uint64(n)*8 > uint64(buf.Len()) {
		return nil, errors.Wrapf(ErrBadSnapshot, "%d words declared, %d bytes left", n, buf.Len())
	}
	words := make([]uint64, n)
	for i := range words {
		if words[i], ok = DeserializeUint[uint64](buf, 8); !ok {
			return nil, errors.Wrapf(ErrBadSnapshot, "truncated at word %d", i)
		}
	}
	// No bit may lie beyond the last slot.
	if tail := m % 64; tail != 0 && words[n-1]>>tail != 0 {
		return nil, errors.Wrapf(ErrBadSnapshot, "bits set beyond slot %d", m-1)
	}
	return &BitArray{
		M:    m,
		bits: bitset.FromWithLength(uint(m), words),
	}, nil
}

