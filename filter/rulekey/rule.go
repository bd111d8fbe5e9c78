// Package rulekey turns packet-classification rules into the two composite
// keys hashed into the rule Bloom array: a 72-bit src ip|dst ip|protocol key
// and a 32-bit src port|dst port key.
package rulekey

import (
	"fmt"

	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
)

var (
	ErrMalformedField = errors.New("rulekey: malformed field")
	ErrFieldRange     = errors.New("rulekey: field value out of range")
	ErrNoRules        = errors.New("rulekey: rule set is empty")
	ErrNotIPv4        = errors.New("rulekey: packet has no IPv4 layer")
)

// NumFields is the length of the ordered field tuple of a rule: four source
// octets, four destination octets, protocol, source port, destination port.
const NumFields = 11

var fieldWidths = [NumFields]uint{8, 8, 8, 8, 8, 8, 8, 8, 8, 16, 16}

var fieldNames = [NumFields]string{
	"src_ip[0]", "src_ip[1]", "src_ip[2]", "src_ip[3]",
	"dst_ip[0]", "dst_ip[1]", "dst_ip[2]", "dst_ip[3]",
	"protocol", "src_port_min", "dst_port_min",
}

type Rule struct {
	SrcIP    [4]uint8
	DstIP    [4]uint8
	Protocol layers.IPProtocol
	SrcPort  uint16
	DstPort  uint16
}

// FromValues builds a rule from its ordered decimal field tuple. A value wider
// than its field is rejected rather than truncated.
func FromValues(v [NumFields]uint64) (Rule, error) {
	for i, width := range fieldWidths {
		if v[i]>>width != 0 {
			return Rule{}, errors.Wrapf(ErrFieldRange, "%s=%d exceeds %d bits", fieldNames[i], v[i], width)
		}
	}
	var r Rule
	for i := 0; i < 4; i++ {
		r.SrcIP[i] = uint8(v[i])
		r.DstIP[i] = uint8(v[4+i])
	}
	r.Protocol = layers.IPProtocol(v[8])
	r.SrcPort = uint16(v[9])
	r.DstPort = uint16(v[10])
	return r, nil
}

// Values returns the ordered field tuple FromValues accepts.
func (r Rule) Values() [NumFields]uint64 {
	var v [NumFields]uint64
	for i := 0; i < 4; i++ {
		v[i] = uint64(r.SrcIP[i])
		v[4+i] = uint64(r.DstIP[i])
	}
	v[8] = uint64(r.Protocol)
	v[9] = uint64(r.SrcPort)
	v[10] = uint64(r.DstPort)
	return v
}

// Bytes is the 13-byte big-endian concatenation of both keys.
func (r Rule) Bytes() [13]byte {
	var b [13]byte
	k72, k32 := r.Pack()
	k72b := k72.Bytes()
	copy(b[:9], k72b[:])
	b[9] = byte(k32 >> 24)
	b[10] = byte(k32 >> 16)
	b[11] = byte(k32 >> 8)
	b[12] = byte(k32)
	return b
}

func (r Rule) String() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d -> %d.%d.%d.%d:%d %s",
		r.SrcIP[0], r.SrcIP[1], r.SrcIP[2], r.SrcIP[3], r.SrcPort,
		r.DstIP[0], r.DstIP[1], r.DstIP[2], r.DstIP[3], r.DstPort,
		r.Protocol)
}
