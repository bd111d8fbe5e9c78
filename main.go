// Command bloomgen builds a Bloom filter over packet-classification rules and
// writes the bit image used to initialize the filter memory in hardware.
package main

import (
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cp024s/Filter-Coffee/filter/rulebloom"
	"github.com/cp024s/Filter-Coffee/filter/rulekey"
	"github.com/cp024s/Filter-Coffee/memfile"
	"github.com/cp024s/Filter-Coffee/metrics"
)

const snapshotName = "bloomfilter.bin"

type options struct {
	rules       string
	outDir      string
	configFile  string
	layout      string
	snapshot    bool
	metricsFile string
	logLevel    string
	size        uint
	rounds      uint
	fpRate      float64
	sizeFromFP  bool
}

func parseFlags(args []string, stderr io.Writer) (options, map[string]bool, error) {
	var o options
	fs := flag.NewFlagSet("bloomgen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.rules, "r", "", "Rule file (JSON or YAML) with a top-level \"rules\" list")
	fs.StringVar(&o.outDir, "o", ".", "Output directory for "+memfile.ImageName)
	fs.StringVar(&o.configFile, "config", "", "YAML file with size, rounds and seed settings")
	fs.StringVar(&o.layout, "mem-layout", "lines", "Bit image layout: lines or inline")
	fs.BoolVar(&o.snapshot, "snapshot", false, "Also write "+snapshotName+" for bloomquery")
	fs.StringVar(&o.metricsFile, "metrics-file", "", "Write build metrics to this file in Prometheus text format")
	fs.StringVar(&o.logLevel, "log.level", "info", "Log level: debug, info, warn or error")
	fs.UintVar(&o.size, "size", rulebloom.DefaultSize, "Number of bit slots, rounded up to a power of two")
	fs.UintVar(&o.rounds, "rounds", 0, "Hash rounds per rule; 0 derives it from size and rule count")
	fs.Float64Var(&o.fpRate, "fp", 0.1, "Target false-positive rate for -size-from-fp")
	fs.BoolVar(&o.sizeFromFP, "size-from-fp", false, "Size the array from the rule count and -fp instead of -size")
	if err := fs.Parse(args); err != nil {
		return o, nil, err
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if o.rules == "" {
		fs.Usage()
		return o, nil, errors.New("-r must be specified")
	}
	if fs.NArg() > 0 {
		return o, nil, errors.Errorf("unexpected arguments %v", fs.Args())
	}
	return o, set, nil
}

func newLogger(w io.Writer, lvl string) (log.Logger, error) {
	v, err := level.Parse(lvl)
	if err != nil {
		return nil, errors.Wrapf(err, "-log.level %q", lvl)
	}
	logger := log.NewLogfmtLogger(log.NewSyncWriter(w))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	return level.NewFilter(logger, level.Allow(v)), nil
}

// buildConfig layers defaults, the config file and explicitly set flags, in
// that order.
func buildConfig(o options, set map[string]bool, ruleCount int) (rulebloom.Config, error) {
	cfg := rulebloom.DefaultConfig()
	if o.configFile != "" {
		fc, err := rulebloom.LoadConfigFile(o.configFile)
		if err != nil {
			return cfg, err
		}
		fc.Apply(&cfg)
	}

	if set["size"] {
		if o.size > math.MaxUint32 {
			return cfg, errors.Wrapf(rulebloom.ErrBadSize, "got %d", o.size)
		}
		cfg.Size = uint32(o.size)
	}
	if set["rounds"] {
		if o.rounds > math.MaxUint32 {
			return cfg, errors.Errorf("-rounds %d out of range", o.rounds)
		}
		cfg.Rounds = uint32(o.rounds)
	}
	if o.sizeFromFP {
		if o.fpRate <= 0 || o.fpRate >= 1 {
			return cfg, errors.Errorf("-fp must be in (0, 1), got %v", o.fpRate)
		}
		cfg.Size = rulebloom.SizeForRate(uint64(ruleCount), o.fpRate)
		if cfg.Size == 0 {
			return cfg, errors.Wrapf(rulebloom.ErrBadSize, "%d rules at rate %v", ruleCount, o.fpRate)
		}
	}
	return cfg, nil
}

func run(args []string, stdout, stderr io.Writer) error {
	o, set, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	logger, err := newLogger(stderr, o.logLevel)
	if err != nil {
		return err
	}
	layout, err := memfile.ParseLayout(o.layout)
	if err != nil {
		return err
	}

	rules, err := rulekey.LoadRulesFile(o.rules)
	if err != nil {
		return err
	}
	fingerprint := rulekey.Fingerprint(rules)
	level.Info(logger).Log("msg", "loaded rules", "file", o.rules, "count", len(rules), "fingerprint", fmt.Sprintf("%016x", fingerprint))

	cfg, err := buildConfig(o, set, len(rules))
	if err != nil {
		return err
	}
	bf, stats, err := rulebloom.Build(cfg, rules, rulebloom.WithLogger(logger))
	if err != nil {
		return err
	}
	if stats.Duplicates > 0 {
		level.Warn(logger).Log("msg", "skipped duplicate rules", "count", stats.Duplicates)
	}

	path, sum, err := memfile.WriteImageFile(o.outDir, memfile.ImageName, bf.Bits(), layout)
	if err != nil {
		return err
	}
	level.Info(logger).Log("msg", "wrote bit image", "path", path, "size", bf.Size, "rounds", bf.Rounds,
		"bits_set", stats.BitsSet, "xxh3", fmt.Sprintf("%016x", sum))

	if o.snapshot {
		snap := filepath.Join(o.outDir, snapshotName)
		snapSum, err := memfile.WriteFileAtomic(snap, bf.Serialize())
		if err != nil {
			return err
		}
		level.Info(logger).Log("msg", "wrote snapshot", "path", snap, "xxh3", fmt.Sprintf("%016x", snapSum))
	}

	if o.metricsFile != "" {
		m := metrics.New(prometheus.NewRegistry())
		m.Observe(bf, stats)
		m.ObserveArtifact(sum, fingerprint)
		if err := m.WriteTextfile(o.metricsFile); err != nil {
			return err
		}
		level.Debug(logger).Log("msg", "wrote metrics", "path", o.metricsFile)
	}

	fmt.Fprintf(stdout, "size=%d rounds=%d\n", bf.Size, bf.Rounds)
	return nil
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "bloomgen: %v\n", err)
		os.Exit(1)
	}
}
