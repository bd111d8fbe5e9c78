// Command bloomquery loads a filter snapshot written by bloomgen -snapshot and
// tests rules against it. Rules come from arguments of the form
// src,dst,protocol,src_port,dst_port or from the IPv4 packets of a pcap file.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"
	"github.com/pkg/errors"

	"github.com/cp024s/Filter-Coffee/filter/rulebloom"
	"github.com/cp024s/Filter-Coffee/filter/rulekey"
)

func verdict(present bool) string {
	if present {
		return "maybe"
	}
	return "no"
}

func loadSnapshot(path string, logger log.Logger) (*rulebloom.Filter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read snapshot")
	}
	bf, err := rulebloom.Deserialize(data, rulebloom.WithLogger(logger))
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	return bf, nil
}

type pcapSummary struct {
	packets, skipped, matched int
}

// queryPcap tests every IPv4 packet of the capture and prints the ones the
// filter may contain.
func queryPcap(bf *rulebloom.Filter, r io.Reader, stdout io.Writer, logger log.Logger) (pcapSummary, error) {
	var sum pcapSummary
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return sum, errors.Wrap(err, "open capture")
	}
	for {
		data, ci, err := pr.ReadPacketData()
		if err == io.EOF {
			return sum, nil
		}
		if err != nil {
			return sum, errors.Wrapf(err, "packet %d", sum.packets)
		}
		sum.packets++

		rule, err := rulekey.FromPacket(gopacket.NewPacket(data, pr.LinkType(), gopacket.Default))
		if err != nil {
			sum.skipped++
			level.Debug(logger).Log("msg", "skipping packet", "index", sum.packets-1, "err", err)
			continue
		}
		if bf.Exist(rule) {
			sum.matched++
			fmt.Fprintf(stdout, "%s\t%s\t%s\n", ci.Timestamp.UTC().Format("15:04:05.000000"), rule, verdict(true))
		}
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	var (
		snapshot string
		pcapFile string
		logLevel string
	)
	fs := flag.NewFlagSet("bloomquery", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&snapshot, "snapshot", "bloomfilter.bin", "Filter snapshot written by bloomgen -snapshot")
	fs.StringVar(&pcapFile, "pcap", "", "Capture file whose IPv4 packets are tested")
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

	if pcapFile == "" && fs.NArg() == 0 {
		fs.Usage()
		return errors.New("give rules as arguments or a capture with -pcap")
	}

	// Parse every rule before loading anything.
	rules := make([]rulekey.Rule, fs.NArg())
	for i, arg := range fs.Args() {
		if rules[i], err = rulekey.ParseRule(arg); err != nil {
			return err
		}
	}

	bf, err := loadSnapshot(snapshot, logger)
	if err != nil {
		return err
	}
	level.Info(logger).Log("msg", "loaded snapshot", "path", snapshot, "size", bf.Size, "rounds", bf.Rounds)

	for _, r := range rules {
		fmt.Fprintf(stdout, "%s\t%s\n", r, verdict(bf.Exist(r)))
	}

	if pcapFile != "" {
		f, err := os.Open(pcapFile)
		if err != nil {
			return errors.Wrap(err, "open capture")
		}
		defer f.Close()

		sum, err := queryPcap(bf, f, stdout, logger)
		if err != nil {
			return err
		}
		level.Info(logger).Log("msg", "capture done", "packets", sum.packets, "skipped", sum.skipped, "matched", sum.matched)
	}
	return nil
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "bloomquery: %v\n", err)
		os.Exit(1)
	}
}
