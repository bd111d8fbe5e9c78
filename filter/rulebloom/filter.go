// Package rulebloom builds the rule Bloom array: each rule sets two bits per
// hash round, one from the 72-bit address/protocol key and one from the
// 32-bit port key.
package rulebloom

import (
	"bytes"
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/cp024s/Filter-Coffee/filter"
	"github.com/cp024s/Filter-Coffee/filter/jenkins"
	"github.com/cp024s/Filter-Coffee/filter/rulekey"
)

// Filter is a rule Bloom array together with the parameters that index it.
// It is not safe for concurrent mutation.
type Filter struct {
	Size   uint32 // number of slots, a power of two
	Rounds uint32 // hash rounds per rule

	SeedA  uint32
	SeedC  uint32
	SeedsB []uint32 // per-round second seed word

	bits   *filter.BitArray
	logger log.Logger
}

type Option func(*Filter)

// WithLogger enables debug logging of per-rule digests.
func WithLogger(l log.Logger) Option {
	return func(f *Filter) { f.logger = l }
}

// Stats describes one InsertAll call.
type Stats struct {
	Rules      int // rules offered
	Duplicates int // rules skipped as exact repeats
	BitsSet    uint32
}

// New sizes an empty filter for ruleCount rules. Seeds for every round are
// derived here, so a seed function that cannot serve a round fails before
// anything is inserted.
func New(cfg Config, ruleCount int, opts ...Option) (*Filter, error) {
	if cfg.Size == 0 || cfg.Size > 1<<31 {
		return nil, errors.Wrapf(ErrBadSize, "got %d", cfg.Size)
	}
	rounds, err := cfg.RoundsFor(ruleCount)
	if err != nil {
		return nil, err
	}
	seedB := cfg.SeedB
	if seedB == nil {
		seedB = TemplateSeed(DefaultSeedTemplate)
	}
	seeds := make([]uint32, rounds)
	for i := range seeds {
		if seeds[i], err = seedB(i); err != nil {
			return nil, errors.Wrapf(err, "%d hash rounds configured", rounds)
		}
	}

	return newFilter(filter.NextPowerOfTwo(cfg.Size), cfg.SeedA, cfg.SeedC, seeds, opts...)
}

func newFilter(size, seedA, seedC uint32, seedsB []uint32, opts ...Option) (*Filter, error) {
	bits, err := filter.NewBitArray(size)
	if err != nil {
		return nil, err
	}
	f := &Filter{
		Size:   size,
		Rounds: uint32(len(seedsB)),
		SeedA:  seedA,
		SeedC:  seedC,
		SeedsB: seedsB,
		bits:   bits,
		logger: log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Build sizes a filter for rules and inserts all of them.
func Build(cfg Config, rules []rulekey.Rule, opts ...Option) (*Filter, Stats, error) {
	if len(rules) == 0 {
		return nil, Stats{}, rulekey.ErrNoRules
	}
	f, err := New(cfg, len(rules), opts...)
	if err != nil {
		return nil, Stats{}, err
	}
	return f, f.InsertAll(rules), nil
}

// Digests returns the raw hash outputs for a rule, hash72 then hash32 for
// each round.
func (f *Filter) Digests(r rulekey.Rule) []uint32 {
	k72, k32 := r.Pack()
	high, mid, low := k72.Words()
	digests := make([]uint32, 0, 2*len(f.SeedsB))
	for _, seedB := range f.SeedsB {
		digests = append(digests,
			jenkins.Hash72(high, mid, low, f.SeedA, seedB, f.SeedC),
			jenkins.Hash32(uint32(k32), f.SeedA, seedB, f.SeedC),
		)
	}
	return digests
}

// Indices returns the slots a rule maps to, in digest order. Every index is
// below Size.
func (f *Filter) Indices(r rulekey.Rule) []uint32 {
	digests := f.Digests(r)
	for i, d := range digests {
		digests[i] = filter.Mask(d, f.Size)
	}
	return digests
}

// Insert sets the rule's bits. Inserting the same rule again changes nothing.
func (f *Filter) Insert(r rulekey.Rule) {
	digests := f.Digests(r)
	for _, d := range digests {
		f.bits.Set(filter.Mask(d, f.Size))
	}
	level.Debug(f.logger).Log("msg", "inserted rule", "rule", r, "digests", hexWords(digests))
}

// InsertAll inserts every distinct rule; the order of rules does not affect
// the resulting bits.
func (f *Filter) InsertAll(rules []rulekey.Rule) Stats {
	unique, dups := rulekey.Dedup(rules)
	for _, r := range unique {
		f.Insert(r)
	}
	if dups > 0 {
		level.Debug(f.logger).Log("msg", "skipped duplicate rules", "count", dups)
	}
	return Stats{
		Rules:      len(rules),
		Duplicates: dups,
		BitsSet:    f.bits.Count(),
	}
}

// Exist reports whether r may be in the set. False means it was never
// inserted.
func (f *Filter) Exist(r rulekey.Rule) bool {
	for _, d := range f.Digests(r) {
		if !f.bits.Test(filter.Mask(d, f.Size)) {
			return false
		}
	}
	return true
}

// Bits exposes the membership array for export.
func (f *Filter) Bits() *filter.BitArray {
	return f.bits
}

// Serialize the filter to a byte slice in the following format:
// header|seeds|bits
// header format: uint32(Size)|uint32(Rounds)|uint32(SeedA)|uint32(SeedC) => 16 bytes
// seeds: Rounds * uint32(SeedB), bits: filter.BitArray serialization
func (f *Filter) Serialize() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 16+4*len(f.SeedsB)+8+int(f.Size/8)+8))
	filter.SerializeUint(buf, uint64(f.Size), 4)
	filter.SerializeUint(buf, uint64(f.Rounds), 4)
	filter.SerializeUint(buf, uint64(f.SeedA), 4)
	filter.SerializeUint(buf, uint64(f.SeedC), 4)
	for _, s := range f.SeedsB {
		filter.SerializeUint(buf, uint64(s), 4)
	}
	f.bits.AppendTo(buf)
	return buf.Bytes()
}

func Deserialize(data []byte, opts ...Option) (*Filter, error) {
	buf := bytes.NewBuffer(data)
	var header [4]uint32
	for i := range header {
		v, ok := filter.DeserializeUint[uint32](buf, 4)
		if !ok {
			return nil, errors.Wrap(filter.ErrBadSnapshot, "short header")
		}
		header[i] = v
	}
	size, rounds := header[0], header[1]
	if rounds == 0 || uint64(rounds)*4 > uint64(buf.Len()) {
		return nil, errors.Wrapf(filter.ErrBadSnapshot, "%d rounds", rounds)
	}
	seeds := make([]uint32, rounds)
	for i := range seeds {
		seeds[i], _ = filter.DeserializeUint[uint32](buf, 4)
	}
	bits, err := filter.ReadBitArray(buf)
	if err != nil {
		return nil, err
	}
	if bits.Size() != size {
		return nil, errors.Wrapf(filter.ErrBadSnapshot, "header size %d, array size %d", size, bits.Size())
	}

	f, err := newFilter(size, header[2], header[3], seeds, opts...)
	if err != nil {
		return nil, err
	}
	f.bits = bits
	return f, nil
}

type hexWords []uint32

func (h hexWords) String() string {
	var b bytes.Buffer
	for i, w := range h {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%08x", w)
	}
	return b.String()
}
