// Package metrics exports the figures of a filter build as Prometheus metrics.
package metrics

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cp024s/Filter-Coffee/filter/rulebloom"
)

const Namespace = "bloomgen"

// Metrics holds the gauges describing one build.
type Metrics struct {
	Rules      prometheus.Gauge
	Duplicates prometheus.Gauge
	BitsSet    prometheus.Gauge
	Size       prometheus.Gauge
	Rounds     prometheus.Gauge
	Builds     prometheus.Counter
	Artifact   *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// New creates the build metrics and registers them on reg.
func New(reg *prometheus.Registry) *Metrics {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      name,
			Help:      help,
		})
	}

	m := &Metrics{
		Rules:      gauge("rules", "Rules read from the rule file"),
		Duplicates: gauge("duplicate_rules", "Rules skipped because an identical rule was already inserted"),
		BitsSet:    gauge("bits_set", "Bits set in the filter image"),
		Size:       gauge("size_bits", "Number of slots in the filter image"),
		Rounds:     gauge("rounds", "Hash rounds applied per rule"),
		Builds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "builds_total",
			Help:      "Completed filter builds",
		}),
		Artifact: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "artifact_info",
			Help:      "Checksum of the written image and fingerprint of the rule set",
		}, []string{"image_xxh3", "rules_fingerprint"}),
		gatherer: reg,
	}
	reg.MustRegister(m.Rules, m.Duplicates, m.BitsSet, m.Size, m.Rounds, m.Builds, m.Artifact)
	return m
}

// Observe records a finished build.
func (m *Metrics) Observe(bf *rulebloom.Filter, stats rulebloom.Stats) {
	m.Rules.Set(float64(stats.Rules))
	m.Duplicates.Set(float64(stats.Duplicates))
	m.BitsSet.Set(float64(stats.BitsSet))
	m.Size.Set(float64(bf.Size))
	m.Rounds.Set(float64(bf.Rounds))
	m.Builds.Inc()
}

// ObserveArtifact labels the build with its image checksum and rule fingerprint.
func (m *Metrics) ObserveArtifact(imageSum, fingerprint uint64) {
	m.Artifact.Reset()
	m.Artifact.WithLabelValues(hex64(imageSum), hex64(fingerprint)).Set(1)
}

// WriteTextfile writes every registered metric to path in the text exposition
// format, for pickup by a node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return errors.Wrapf(prometheus.WriteToTextfile(path, m.gatherer), "write metrics to %s", path)
}

func hex64(v uint64) string {
	return fmt.Sprintf("%016x", v)
}
