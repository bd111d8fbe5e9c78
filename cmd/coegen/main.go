// Command coegen hashes IPv4 addresses or 32-bit integers with the murmur
// variant and writes the digests as a memory-initialization vector (.coe).
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/cp024s/Filter-Coffee/filter/murmur"
	"github.com/cp024s/Filter-Coffee/memfile"
)

const (
	defaultOutput = "murmurhash3_bram_init.coe"
	defaultSeed   = "0x12345678"
)

var defaultItems = []string{"192.168.1.1", "10.0.0.1", "172.16.0.1", "127.0.0.1"}

// readItems returns the non-blank lines of r that do not start with '#'.
func readItems(r io.Reader) ([]string, error) {
	var items []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		items = append(items, line)
	}
	return items, errors.Wrap(sc.Err(), "read items")
}

func loadItems(input string, args []string) ([]string, error) {
	switch {
	case input != "" && len(args) > 0:
		return nil, errors.New("give items either with -i or as arguments, not both")
	case input == "-":
		return readItems(os.Stdin)
	case input != "":
		f, err := os.Open(input)
		if err != nil {
			return nil, errors.Wrap(err, "open item file")
		}
		defer f.Close()
		return readItems(f)
	case len(args) > 0:
		return args, nil
	}
	return defaultItems, nil
}

func run(args []string, stdout, stderr io.Writer) error {
	var (
		seedFlag string
		output   string
		input    string
		logLevel string
	)
	fs := flag.NewFlagSet("coegen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&seedFlag, "seed", defaultSeed, "Hash seed, decimal or 0x-prefixed hex")
	fs.StringVar(&output, "o", defaultOutput, "Output .coe file")
	fs.StringVar(&input, "i", "", "File with one item per line, - for stdin")
	fs.StringVar(&logLevel, "log.level", "info", "Log level: debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return err
	}

	lvl, err := level.Parse(logLevel)
	if err != nil {
		return errors.Wrapf(err, "-log.level %q", logLevel)
	}
	logger := log.NewLogfmtLogger(log.NewSyncWriter(stderr))
	logger = level.NewFilter(log.With(logger, "ts", log.DefaultTimestampUTC), level.Allow(lvl))

	seed, err := strconv.ParseUint(seedFlag, 0, 32)
	if err != nil {
		return errors.Wrapf(err, "-seed %q", seedFlag)
	}
	items, err := loadItems(input, fs.Args())
	if err != nil {
		return err
	}

	digests := make([]uint32, len(items))
	for i, item := range items {
		if digests[i], err = murmur.HashString(item, uint32(seed)); err != nil {
			return errors.Wrapf(err, "item %d", i)
		}
		level.Debug(logger).Log("item", item, "digest", fmt.Sprintf("%08x", digests[i]))
	}

	sum, err := memfile.WriteCOEFile(output, digests)
	if err != nil {
		return err
	}
	level.Info(logger).Log("msg", "wrote vector", "path", output, "items", len(digests), "xxh3", fmt.Sprintf("%016x", sum))
	fmt.Fprintf(stdout, "COE file generated at: %s\n", output)
	return nil
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "coegen: %v\n", err)
		os.Exit(1)
	}
}
