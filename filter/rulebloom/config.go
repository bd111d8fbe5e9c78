package rulebloom

import (
	"os"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultSize         = 8
	DefaultSeed         = 0xdeadbef8
	DefaultSeedTemplate = "deadbef"
)

var (
	ErrBadSize   = errors.New("rulebloom: array size must be between 1 and 2^31")
	ErrNoRounds  = errors.New("rulebloom: hash round count is zero")
	ErrSeedRound = errors.New("rulebloom: round outside the seed function's range")
)

// SeedFunc derives the second seed word of a hash round.
type SeedFunc func(round int) (uint32, error)

// TemplateSeed appends the decimal round+1 to a hex prefix and parses the
// result. A prefix of n hex digits supports round+1 up to 10^(8-n)-1, so the
// default "deadbef" covers rounds 0 through 8; later rounds are an error.
func TemplateSeed(prefix string) SeedFunc {
	return func(round int) (uint32, error) {
		if round < 0 {
			return 0, errors.Wrapf(ErrSeedRound, "round %d", round)
		}
		s := prefix + strconv.Itoa(round+1)
		if len(s) > 8 {
			return 0, errors.Wrapf(ErrSeedRound, "round %d gives %q, wider than 32 bits", round, s)
		}
		v, err := strconv.ParseUint(s, 16, 32)
		if err != nil {
			return 0, errors.Wrapf(ErrSeedRound, "round %d gives %q: %v", round, s, err)
		}
		return uint32(v), nil
	}
}

// FixedSeeds serves seeds from a table, one per round.
func FixedSeeds(seeds []uint32) SeedFunc {
	return func(round int) (uint32, error) {
		if round < 0 || round >= len(seeds) {
			return 0, errors.Wrapf(ErrSeedRound, "round %d of %d", round, len(seeds))
		}
		return seeds[round], nil
	}
}

// Config holds everything that shapes a filter. Filters built from separate
// Configs share no state.
type Config struct {
	// Size is the number of bit slots, rounded up to a power of two.
	Size uint32
	// Rounds pins the hash round count. Zero derives it from Size and the
	// rule count.
	Rounds uint32

	SeedA uint32
	SeedB SeedFunc
	SeedC uint32
}

func DefaultConfig() Config {
	return Config{
		Size:  DefaultSize,
		SeedA: DefaultSeed,
		SeedB: TemplateSeed(DefaultSeedTemplate),
		SeedC: DefaultSeed,
	}
}

// RoundsFor returns the hash round count used for ruleCount rules.
func (c Config) RoundsFor(ruleCount int) (uint32, error) {
	if c.Rounds > 0 {
		return c.Rounds, nil
	}
	if ruleCount <= 0 {
		return 0, errors.Wrap(ErrNoRounds, "no rules to derive a round count from")
	}
	k := OptimalHashCount(uint64(c.Size), uint64(ruleCount))
	if k == 0 {
		return 0, errors.Wrapf(ErrNoRounds, "size %d is too small for %d rules", c.Size, ruleCount)
	}
	return k, nil
}

// FileConfig is the YAML form of Config. Absent keys keep the current value.
type FileConfig struct {
	Size         *uint32 `yaml:"size"`
	Rounds       *uint32 `yaml:"rounds"`
	SeedA        *uint32 `yaml:"seed_a"`
	SeedC        *uint32 `yaml:"seed_c"`
	SeedTemplate *string `yaml:"seed_template"`
}

func LoadConfigFile(path string) (FileConfig, error) {
	var fc FileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, errors.Wrapf(err, "parse config %s", path)
	}
	return fc, nil
}

// Apply overlays the keys present in fc onto cfg.
func (fc FileConfig) Apply(cfg *Config) {
	if fc.Size != nil {
		cfg.Size = *fc.Size
	}
	if fc.Rounds != nil {
		cfg.Rounds = *fc.Rounds
	}
	if fc.SeedA != nil {
		cfg.SeedA = *fc.SeedA
	}
	if fc.SeedC != nil {
		cfg.SeedC = *fc.SeedC
	}
	if fc.SeedTemplate != nil {
		cfg.SeedB = TemplateSeed(*fc.SeedTemplate)
	}
}
