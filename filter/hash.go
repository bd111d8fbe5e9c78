package filter

// Mask restricts a digest to the index range of a power-of-two sized array.
func Mask(digest uint32, size uint32) uint32 {
	return digest & (size - 1)
}
