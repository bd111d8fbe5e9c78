package rulekey

import (
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ruleFile mirrors the rule set document. JSON rule files decode as YAML.
type ruleFile struct {
	Rules []ruleRecord `yaml:"rules"`
}

// ruleRecord holds the fields the key packer needs; any other keys of a rule
// (port maxima, actions, ...) are ignored.
type ruleRecord struct {
	SrcIP      string  `yaml:"src_ip"`
	DstIP      string  `yaml:"dst_ip"`
	Protocol   decimal `yaml:"protocol"`
	SrcPortMin decimal `yaml:"src_port_min"`
	DstPortMin decimal `yaml:"dst_port_min"`
}

// decimal accepts a number or a decimal string.
type decimal struct {
	value uint64
	set   bool
}

func (d *decimal) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return errors.Wrapf(ErrMalformedField, "line %d: expected a decimal value", node.Line)
	}
	v, err := parseDecimal(strings.TrimSpace(node.Value))
	if err != nil {
		return errors.Wrapf(err, "line %d", node.Line)
	}
	d.value, d.set = v, true
	return nil
}

func parseDecimal(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return 0, errors.Wrapf(ErrFieldRange, "%q", s)
		}
		return 0, errors.Wrapf(ErrMalformedField, "%q is not a decimal number", s)
	}
	return v, nil
}

// ParseIPv4 parses a dotted quad of four decimal octets.
func ParseIPv4(s string) ([4]uint8, error) {
	var ip [4]uint8
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return ip, errors.Wrapf(ErrMalformedField, "%q is not a dotted quad", s)
	}
	for i, p := range parts {
		v, err := parseDecimal(p)
		if err != nil {
			return ip, errors.Wrapf(err, "address %q octet %d", s, i)
		}
		if v > 0xff {
			return ip, errors.Wrapf(ErrFieldRange, "address %q octet %d is %d", s, i, v)
		}
		ip[i] = uint8(v)
	}
	return ip, nil
}

func (rec ruleRecord) rule() (Rule, error) {
	var v [NumFields]uint64
	src, err := ParseIPv4(rec.SrcIP)
	if err != nil {
		return Rule{}, errors.Wrap(err, "src_ip")
	}
	dst, err := ParseIPv4(rec.DstIP)
	if err != nil {
		return Rule{}, errors.Wrap(err, "dst_ip")
	}
	for i := 0; i < 4; i++ {
		v[i] = uint64(src[i])
		v[4+i] = uint64(dst[i])
	}
	for i, d := range []decimal{rec.Protocol, rec.SrcPortMin, rec.DstPortMin} {
		if !d.set {
			return Rule{}, errors.Wrapf(ErrMalformedField, "%s is missing", fieldNames[8+i])
		}
		v[8+i] = d.value
	}
	return FromValues(v)
}

// ParseRule parses the short form "src,dst,protocol,src_port,dst_port",
// for example "1.2.3.4,5.6.7.8,6,80,443".
func ParseRule(s string) (Rule, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 5 {
		return Rule{}, errors.Wrapf(ErrMalformedField, "%q: want 5 comma-separated fields, got %d", s, len(parts))
	}
	rec := ruleRecord{
		SrcIP: strings.TrimSpace(parts[0]),
		DstIP: strings.TrimSpace(parts[1]),
	}
	for i, d := range []*decimal{&rec.Protocol, &rec.SrcPortMin, &rec.DstPortMin} {
		v, err := parseDecimal(strings.TrimSpace(parts[2+i]))
		if err != nil {
			return Rule{}, errors.Wrapf(err, "%q: %s", s, fieldNames[8+i])
		}
		d.value, d.set = v, true
	}
	r, err := rec.rule()
	return r, errors.Wrapf(err, "%q", s)
}

// LoadRules decodes and validates a complete rule set. Either every rule is
// valid or an error naming the first bad rule is returned.
func LoadRules(r io.Reader) ([]Rule, error) {
	var f ruleFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return nil, ErrNoRules
		case errors.Is(err, ErrMalformedField), errors.Is(err, ErrFieldRange):
			return nil, errors.Wrap(err, "decode rule set")
		}
		return nil, errors.Wrapf(ErrMalformedField, "decode rule set: %v", err)
	}
	if len(f.Rules) == 0 {
		return nil, ErrNoRules
	}
	rules := make([]Rule, 0, len(f.Rules))
	for i, rec := range f.Rules {
		rule, err := rec.rule()
		if err != nil {
			return nil, errors.Wrapf(err, "rule %d", i)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func LoadRulesFile(path string) ([]Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open rule file")
	}
	defer f.Close()

	rules, err := LoadRules(f)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	return rules, nil
}
