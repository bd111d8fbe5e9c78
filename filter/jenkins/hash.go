// Package jenkins implements the two avalanche hashes used to index the rule
// Bloom array. Both share the lookup3 "final" mixing schedule and return the
// c accumulator.
package jenkins

import "math/bits"

// Hash72 hashes a 72-bit key given as its three big-endian words. Only the
// low 8 bits of keyLow8 are used.
func Hash72(keyHigh, keyMid, keyLow8, seedA, seedB, seedC uint32) uint32 {
	a := seedA + keyHigh
	b := seedB + keyMid
	c := seedC + keyLow8&0xff
	return final(a, b, c)
}

// Hash32 hashes a 32-bit key. Only the a accumulator absorbs the key.
func Hash32(key32, seedA, seedB, seedC uint32) uint32 {
	return final(seedA+key32, seedB, seedC)
}

func final(a, b, c uint32) uint32 {
	c ^= b
	c -= bits.RotateLeft32(b, 14)
	a ^= c
	a -= bits.RotateLeft32(c, 11)
	b ^= a
	b -= bits.RotateLeft32(a, 25)
	c ^= b
	c -= bits.RotateLeft32(b, 16)
	a ^= c
	a -= bits.RotateLeft32(c, 4)
	b ^= a
	b -= bits.RotateLeft32(a, 14)
	c ^= b
	c -= bits.RotateLeft32(b, 24)
	return c
}
