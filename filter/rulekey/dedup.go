package rulekey

import (
	"slices"

	"github.com/dgryski/go-metro"
	"github.com/zhenjl/cityhash"
)

const dedupSeed = 0x5eed

// Dedup drops repeated rules, keeping the first occurrence of each in order.
// Rules are bucketed by a metro hash of their packed keys and compared in full
// inside a bucket, so a hash collision never drops a distinct rule.
func Dedup(rules []Rule) (unique []Rule, duplicates int) {
	buckets := make(map[uint64][]Rule, len(rules))
	unique = make([]Rule, 0, len(rules))
	for _, r := range rules {
		b := r.Bytes()
		h := metro.Hash64(b[:], dedupSeed)
		if slices.Contains(buckets[h], r) {
			duplicates++
			continue
		}
		buckets[h] = append(buckets[h], r)
		unique = append(unique, r)
	}
	return unique, duplicates
}

// Fingerprint identifies a rule set, in order, by the CityHash64 of its packed
// keys.
func Fingerprint(rules []Rule) uint64 {
	buf := make([]byte, 0, len(rules)*13)
	for _, r := range rules {
		b := r.Bytes()
		buf = append(buf, b[:]...)
	}
	return cityhash.CityHash64(buf, uint32(len(buf)))
}
