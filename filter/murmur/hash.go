// Package murmur implements the single-block MurmurHash3 variant used for the
// hash-vector (.coe) artifact. It differs from reference murmur3 in the
// block-mix additive constant, so digests are not interchangeable.
package murmur

import (
	"math/bits"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/cp024s/Filter-Coffee/filter/rulekey"
)

const (
	c1 = 0xcc9e2d51
	c2 = 0x1b873593
	n  = 0xb1e6c9e8

	blockLen = 4
)

// Hash32 hashes one 32-bit block with seed.
func Hash32(key, seed uint32) uint32 {
	k := key * c1
	k = bits.RotateLeft32(k, 15)
	k *= c2

	h := seed ^ k
	h = bits.RotateLeft32(h, 13)
	h = h*5 + n

	h ^= blockLen
	return fmix32(h)
}

func fmix32(h uint32) uint32 {
	h ^= h >> 16
	h *= 0x85ebca6b
	h ^= h >> 13
	h *= 0xc2b2ae35
	h ^= h >> 16
	return h
}

// HashString hashes a dotted-quad IPv4 address or a decimal 32-bit integer.
func HashString(s string, seed uint32) (uint32, error) {
	key, err := ParseKey(s)
	if err != nil {
		return 0, err
	}
	return Hash32(key, seed), nil
}

// ParseKey converts an item of the vector input into its 32-bit key.
func ParseKey(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ".") {
		ip, err := rulekey.ParseIPv4(s)
		if err != nil {
			return 0, err
		}
		return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3]), nil
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return 0, errors.Wrapf(rulekey.ErrFieldRange, "vector item %q", s)
		}
		return 0, errors.Wrapf(rulekey.ErrMalformedField, "vector item %q", s)
	}
	return uint32(v), nil
}
