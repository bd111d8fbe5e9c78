package rulebloom_test

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/require"

	"github.com/cp024s/Filter-Coffee/filter"
	"github.com/cp024s/Filter-Coffee/filter/jenkins"
	"github.com/cp024s/Filter-Coffee/filter/rulebloom"
	"github.com/cp024s/Filter-Coffee/filter/rulekey"
)

var webRule = rulekey.Rule{
	SrcIP:    [4]uint8{1, 2, 3, 4},
	DstIP:    [4]uint8{5, 6, 7, 8},
	Protocol: layers.IPProtocolTCP,
	SrcPort:  80,
	DstPort:  443,
}

func randomRules(rng *rand.Rand, n int) []rulekey.Rule {
	rules := make([]rulekey.Rule, n)
	for i := range rules {
		r := &rules[i]
		for j := 0; j < 4; j++ {
			r.SrcIP[j] = uint8(rng.Intn(256))
			r.DstIP[j] = uint8(rng.Intn(256))
		}
		r.Protocol = layers.IPProtocol(rng.Intn(256))
		r.SrcPort = uint16(rng.Intn(65536))
		r.DstPort = uint16(rng.Intn(65536))
	}
	return rules
}

func TestSingleRoundScenario(t *testing.T) {
	cfg := rulebloom.DefaultConfig()
	cfg.Rounds = 1

	bf, stats, err := rulebloom.Build(cfg, []rulekey.Rule{webRule})
	require.NoError(t, err)
	require.Equal(t, uint32(8), bf.Size)
	require.Equal(t, []uint32{0xdeadbef1}, bf.SeedsB)

	// hash72 = 05170df2, hash32 = 486c4b14
	require.Equal(t, []uint32{0x05170df2, 0x486c4b14}, bf.Digests(webRule))
	require.Equal(t, []uint32{2, 4}, bf.Indices(webRule))
	require.Equal(t, []uint32{2, 4}, bf.Bits().SetIndices())
	require.Equal(t, uint32(2), stats.BitsSet)
}

func TestDerivedRoundsScenario(t *testing.T) {
	bf, stats, err := rulebloom.Build(rulebloom.DefaultConfig(), []rulekey.Rule{webRule})
	require.NoError(t, err)

	// round(8/1 * ln 2) = 6 rounds, seeds deadbef1..deadbef6
	require.Equal(t, uint32(6), bf.Rounds)
	require.Equal(t, []uint32{0xdeadbef1, 0xdeadbef2, 0xdeadbef3, 0xdeadbef4, 0xdeadbef5, 0xdeadbef6}, bf.SeedsB)
	require.Equal(t, []uint32{2, 4, 1, 6, 1, 3, 2, 5, 1, 3, 1, 7}, bf.Indices(webRule))
	require.Equal(t, []uint32{1, 2, 3, 4, 5, 6, 7}, bf.Bits().SetIndices())
	require.Equal(t, rulebloom.Stats{Rules: 1, BitsSet: 7}, stats)
	require.True(t, bf.Exist(webRule))
}

func TestDigestsMatchHashCore(t *testing.T) {
	cfg := rulebloom.Config{Size: 1 << 12, Rounds: 4, SeedA: 1, SeedC: 2, SeedB: rulebloom.FixedSeeds([]uint32{10, 20, 30, 40})}
	bf, err := rulebloom.New(cfg, 1)
	require.NoError(t, err)

	r := randomRules(rand.New(rand.NewSource(5)), 1)[0]
	k72, k32 := r.Pack()
	digests := bf.Digests(r)
	require.Len(t, digests, 8)
	for i, seedB := range []uint32{10, 20, 30, 40} {
		require.Equal(t, jenkins.Hash72(k72.High, k72.Mid, uint32(k72.Low), 1, seedB, 2), digests[2*i])
		require.Equal(t, jenkins.Hash32(uint32(k32), 1, seedB, 2), digests[2*i+1])
	}
}

func TestIndicesInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	for _, size := range []uint32{1, 2, 8, 64, 1000, 1 << 16} {
		cfg := rulebloom.DefaultConfig()
		cfg.Size = size
		cfg.Rounds = 3
		bf, err := rulebloom.New(cfg, 1)
		require.NoError(t, err)
		require.True(t, filter.IsPowerOfTwo(bf.Size))
		require.GreaterOrEqual(t, bf.Size, size)

		for _, r := range randomRules(rng, 200) {
			for _, idx := range bf.Indices(r) {
				require.Less(t, idx, bf.Size)
			}
		}
	}
}

func TestInsertIdempotentAndOrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	rules := randomRules(rng, 40)
	cfg := rulebloom.Config{Size: 512, Rounds: 3, SeedA: rulebloom.DefaultSeed, SeedC: rulebloom.DefaultSeed}

	ref, _, err := rulebloom.Build(cfg, rules)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		shuffled := append([]rulekey.Rule(nil), rules...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		shuffled = append(shuffled, shuffled[:5]...)

		bf, stats, err := rulebloom.Build(cfg, shuffled)
		require.NoError(t, err)
		require.Equal(t, 5, stats.Duplicates)
		require.True(t, ref.Bits().Equal(bf.Bits()))
	}

	before := ref.Bits().SetIndices()
	for _, r := range rules {
		ref.Insert(r)
	}
	require.Equal(t, before, ref.Bits().SetIndices())
}

func TestNoFalseNegatives(t *testing.T) {
	rules := randomRules(rand.New(rand.NewSource(33)), 100)
	cfg := rulebloom.DefaultConfig()
	cfg.Size = 4096
	cfg.SeedB = spreadSeeds

	bf, _, err := rulebloom.Build(cfg, rules)
	require.NoError(t, err)
	require.Equal(t, uint32(28), bf.Rounds)
	for _, r := range rules {
		require.Truef(t, bf.Exist(r), "false negative for %s", r)
	}
}

func TestEmptyFilterHasNoMembers(t *testing.T) {
	bf, err := rulebloom.New(rulebloom.DefaultConfig(), 1)
	require.NoError(t, err)
	require.False(t, bf.Exist(webRule))
	require.Zero(t, bf.Bits().Count())
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*rulebloom.Config)
		ruleCount int
		want      error
	}{
		{"zero size", func(c *rulebloom.Config) { c.Size = 0 }, 1, rulebloom.ErrBadSize},
		{"huge size", func(c *rulebloom.Config) { c.Size = 1<<31 + 1 }, 1, rulebloom.ErrBadSize},
		{"too many rules for size", func(c *rulebloom.Config) {}, 12, rulebloom.ErrNoRounds},
		{"no rules", func(c *rulebloom.Config) {}, 0, rulebloom.ErrNoRounds},
		{"round 9 from template", func(c *rulebloom.Config) { c.Rounds = 10 }, 1, rulebloom.ErrSeedRound},
		{"derived rounds beyond template", func(c *rulebloom.Config) { c.Size = 64 }, 1, rulebloom.ErrSeedRound},
		{"short seed table", func(c *rulebloom.Config) {
			c.Rounds = 3
			c.SeedB = rulebloom.FixedSeeds([]uint32{1, 2})
		}, 1, rulebloom.ErrSeedRound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := rulebloom.DefaultConfig()
			tt.mutate(&cfg)
			bf, err := rulebloom.New(cfg, tt.ruleCount)
			require.ErrorIs(t, err, tt.want)
			require.Nil(t, bf)
		})
	}
}

func TestBuildRejectsEmptyRuleSet(t *testing.T) {
	_, _, err := rulebloom.Build(rulebloom.DefaultConfig(), nil)
	require.ErrorIs(t, err, rulekey.ErrNoRules)
}

func TestIndependentFilters(t *testing.T) {
	a := rulebloom.DefaultConfig()
	a.Rounds = 2
	b := a
	b.SeedA = 0x01234567

	fa, _, err := rulebloom.Build(a, []rulekey.Rule{webRule})
	require.NoError(t, err)
	fb, _, err := rulebloom.Build(b, []rulekey.Rule{webRule})
	require.NoError(t, err)

	again, _, err := rulebloom.Build(a, []rulekey.Rule{webRule})
	require.NoError(t, err)
	require.True(t, fa.Bits().Equal(again.Bits()))
	require.NotEqual(t, fa.Digests(webRule), fb.Digests(webRule))
}

func TestSerializeRoundTrip(t *testing.T) {
	rules := randomRules(rand.New(rand.NewSource(44)), 30)
	cfg := rulebloom.DefaultConfig()
	cfg.Size = 256
	cfg.Rounds = 5

	bf, _, err := rulebloom.Build(cfg, rules)
	require.NoError(t, err)

	loaded, err := rulebloom.Deserialize(bf.Serialize())
	require.NoError(t, err)
	require.Equal(t, bf.Size, loaded.Size)
	require.Equal(t, bf.Rounds, loaded.Rounds)
	require.Equal(t, bf.SeedA, loaded.SeedA)
	require.Equal(t, bf.SeedC, loaded.SeedC)
	require.Equal(t, bf.SeedsB, loaded.SeedsB)
	require.True(t, bf.Bits().Equal(loaded.Bits()))
	for _, r := range rules {
		require.True(t, loaded.Exist(r))
	}
}

func TestDeserializeRejectsTruncated(t *testing.T) {
	bf, _, err := rulebloom.Build(rulebloom.DefaultConfig(), []rulekey.Rule{webRule})
	require.NoError(t, err)
	data := bf.Serialize()

	for _, n := range []int{0, 3, 16, 20, len(data) - 1} {
		_, err := rulebloom.Deserialize(data[:n])
		require.ErrorIsf(t, err, filter.ErrBadSnapshot, "truncated to %d bytes", n)
	}
}

func TestDebugLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := level.NewFilter(log.NewLogfmtLogger(&buf), level.AllowDebug())
	cfg := rulebloom.DefaultConfig()
	cfg.Rounds = 1

	_, _, err := rulebloom.Build(cfg, []rulekey.Rule{webRule, webRule}, rulebloom.WithLogger(logger))
	require.NoError(t, err)
	require.Contains(t, buf.String(), "digests=05170df2,486c4b14")
	require.Contains(t, buf.String(), "msg=\"skipped duplicate rules\" count=1")
}

func BenchmarkInsert(b *testing.B) {
	rules := randomRules(rand.New(rand.NewSource(1)), 1024)
	cfg := rulebloom.DefaultConfig()
	cfg.Size = 1 << 16
	cfg.Rounds = 6
	bf, err := rulebloom.New(cfg, len(rules))
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		bf.Insert(rules[i%len(rules)])
	}
}

func BenchmarkExist(b *testing.B) {
	rules := randomRules(rand.New(rand.NewSource(2)), 1024)
	cfg := rulebloom.DefaultConfig()
	cfg.Size = 1 << 16
	cfg.Rounds = 6
	bf, _, err := rulebloom.Build(cfg, rules)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		bf.Exist(rules[i%len(rules)])
	}
}
