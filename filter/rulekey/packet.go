package rulekey

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
)

// FromPacket extracts the rule key fields of an IPv4 packet. Packets without
// a TCP or UDP layer get zero ports.
func FromPacket(p gopacket.Packet) (Rule, error) {
	ipLayer := p.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return Rule{}, ErrNotIPv4
	}
	ip := ipLayer.(*layers.IPv4)
	src, dst := ip.SrcIP.To4(), ip.DstIP.To4()
	if src == nil || dst == nil {
		return Rule{}, errors.Wrapf(ErrNotIPv4, "addresses %v -> %v", ip.SrcIP, ip.DstIP)
	}

	r := Rule{Protocol: ip.Protocol}
	copy(r.SrcIP[:], src)
	copy(r.DstIP[:], dst)

	switch l := p.TransportLayer().(type) {
	case *layers.TCP:
		r.SrcPort, r.DstPort = uint16(l.SrcPort), uint16(l.DstPort)
	case *layers.UDP:
		r.SrcPort, r.DstPort = uint16(l.SrcPort), uint16(l.DstPort)
	}
	return r, nil
}
