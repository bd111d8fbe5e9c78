package rulekey

import (
	"math/big"

	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
)

// Key72 is the 72-bit composite key High<<40 | Mid<<8 | Low, where High holds
// the source address, Mid the destination address and Low the protocol.
type Key72 struct {
	High uint32
	Mid  uint32
	Low  uint8
}

// Key32 is SrcPort<<16 | DstPort.
type Key32 uint32

// Pack produces both composite keys of the rule.
func (r Rule) Pack() (Key72, Key32) {
	return r.Key72(), r.Key32()
}

func (r Rule) Key72() Key72 {
	return Key72{
		High: uint32(r.SrcIP[0])<<24 | uint32(r.SrcIP[1])<<16 | uint32(r.SrcIP[2])<<8 | uint32(r.SrcIP[3]),
		Mid:  uint32(r.DstIP[0])<<24 | uint32(r.DstIP[1])<<16 | uint32(r.DstIP[2])<<8 | uint32(r.DstIP[3]),
		Low:  uint8(r.Protocol),
	}
}

func (r Rule) Key32() Key32 {
	return Key32(uint32(r.SrcPort)<<16 | uint32(r.DstPort))
}

// Words returns the three hash input words; low carries only 8 bits.
func (k Key72) Words() (high, mid, low uint32) {
	return k.High, k.Mid, uint32(k.Low)
}

func (k Key72) Bytes() [9]byte {
	return [9]byte{
		byte(k.High >> 24), byte(k.High >> 16), byte(k.High >> 8), byte(k.High),
		byte(k.Mid >> 24), byte(k.Mid >> 16), byte(k.Mid >> 8), byte(k.Mid),
		k.Low,
	}
}

// Big returns the key as an unsigned integer.
func (k Key72) Big() *big.Int {
	b := k.Bytes()
	return new(big.Int).SetBytes(b[:])
}

// Key72FromBig is the inverse of Big. Negative values and values wider than
// 72 bits are rejected.
func Key72FromBig(v *big.Int) (Key72, error) {
	if v.Sign() < 0 || v.BitLen() > 72 {
		return Key72{}, errors.Wrapf(ErrFieldRange, "%s does not fit in 72 bits", v)
	}
	var b [9]byte
	v.FillBytes(b[:])
	return Key72{
		High: uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]),
		Mid:  uint32(b[4])<<24 | uint32(b[5])<<16 | uint32(b[6])<<8 | uint32(b[7]),
		Low:  b[8],
	}, nil
}

// Unpack72 extracts the address octets and protocol back out of a key.
func Unpack72(k Key72) (src, dst [4]uint8, protocol uint8) {
	for i := 0; i < 4; i++ {
		shift := uint(24 - 8*i)
		src[i] = uint8(k.High >> shift & 0xff)
		dst[i] = uint8(k.Mid >> shift & 0xff)
	}
	return src, dst, k.Low
}

func Unpack32(k Key32) (srcPort, dstPort uint16) {
	return uint16(k >> 16 & 0xffff), uint16(k & 0xffff)
}

// Unpack rebuilds the rule the two keys were packed from.
func Unpack(k72 Key72, k32 Key32) Rule {
	src, dst, proto := Unpack72(k72)
	sport, dport := Unpack32(k32)
	return Rule{
		SrcIP:    src,
		DstIP:    dst,
		Protocol: layers.IPProtocol(proto),
		SrcPort:  sport,
		DstPort:  dport,
	}
}
