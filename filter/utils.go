package filter

import "bytes"

// NextPowerOfTwo rounds n up to the next power of two. Zero stays zero.
func NextPowerOfTwo(n uint32) uint32 {
	if n == 0 {
		return 0
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n++
	return n
}

func IsPowerOfTwo(n uint32) bool {
	return n != 0 && n&(n-1) == 0
}

func SerializeUint(buf *bytes.Buffer, value uint64, size int) {
	byteData := make([]byte, size)
	for i := 0; i < size; i++ {
		byteData[i] = byte(value >> (i * 8))
	}
	buf.Write(byteData)
}

// DeserializeUint reads a little-endian value of size bytes. ok is false when
// the buffer holds fewer than size bytes.
func DeserializeUint[T uint64 | uint32](buf *bytes.Buffer, size int) (value T, ok bool) {
	byteData := make([]byte, size)
	if n, _ := buf.Read(byteData); n != size {
		return 0, false
	}
	v := uint64(0)
	for i := 0; i < size; i++ {
		v |= uint64(byteData[i]) << (i * 8)
	}
	return T(v), true
}
