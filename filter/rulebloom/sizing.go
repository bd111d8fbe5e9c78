package rulebloom

import (
	"math"

	"github.com/cp024s/Filter-Coffee/filter"
)

// The estimators below are not used to size the array unless a caller asks
// for them explicitly; the default array size is DefaultSize.

// OptimalSize returns m = -n*ln(p) / ln(2)^2, truncated.
func OptimalSize(n uint64, p float64) uint64 {
	m := -(float64(n) * math.Log(p)) / (math.Ln2 * math.Ln2)
	if m <= 0 || math.IsNaN(m) {
		return 0
	}
	return uint64(m)
}

// OptimalHashCount returns k = round((m/n) * ln 2), halves to even.
func OptimalHashCount(m, n uint64) uint32 {
	if n == 0 {
		return 0
	}
	return uint32(math.RoundToEven(float64(m) / float64(n) * math.Ln2))
}

// SizeForRate rounds OptimalSize up to a power of two. Zero means the
// estimate does not fit in 32 bits.
func SizeForRate(n uint64, p float64) uint32 {
	m := OptimalSize(n, p)
	if m == 0 || m > 1<<31 {
		return 0
	}
	return filter.NextPowerOfTwo(uint32(m))
}
