package wire

import (
	"encoding/binary"
	"fmt"
)

// EtherTypeIPv4 is the only ethertype this gateway forwards.
const EtherTypeIPv4 = 0x0800

const (
	ethHeaderLen  = 6 + 6 + 2
	ipv4HeaderLen = 20
	udpHeaderLen  = 8
	protoUDP      = 17
)

// IDGenerator is a role-local, non-atomic 16-bit IPv4 identification
// counter. It is safe only because each instance has a single caller: the
// leaf Agent's frame handler, or the Top bridge's UDP drain.
type IDGenerator struct{ next uint16 }

// Next returns the next IPv4 identification value, wrapping at 0xFFFF.
func (g *IDGenerator) Next() uint16 {
	v := g.next
	g.next++
	return v
}

// EthIPv4UDP is a decoded NO_COMPRESS tunnel body: Ethernet source/destination
// addresses carried ahead of a standard IPv4/UDP datagram, per spec layout
// (src_mac, dst_mac, ethertype, then the IP packet).
type EthIPv4UDP struct {
	SrcMac, DstMac [6]byte
	SrcIP, DstIP   [4]byte
	SrcPort        uint16
	DstPort        uint16
	Payload        []byte
}

// ipv4Checksum computes the IPv4 header one's-complement checksum. header
// must have its checksum field (bytes 10:12) zeroed by the caller before
// calling, or already contain a checksum to verify (the returned value is
// 0 for a header with a valid stored checksum, since the checksum field
// then participates in its own cancellation).
func ipv4Checksum(header []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(header); i += 2 {
		sum += uint32(header[i])<<8 | uint32(header[i+1])
	}
	if len(header)%2 == 1 {
		sum += uint32(header[len(header)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}

// BuildNoCompressTunnel builds a rule-0x00 tunnel body carrying a full
// Ethernet+IPv4+UDP frame, per §4.1/§4.7.
func BuildNoCompressTunnel(broadcast bool, f EthIPv4UDP, ids *IDGenerator) TunnelFrame {
	body := buildEthIPv4UDP(f, ids.Next())
	return NewTunnelFrame(broadcast, RuleNoCompress, body)
}

func buildEthIPv4UDP(f EthIPv4UDP, id uint16) []byte {
	totalLen := ipv4HeaderLen + udpHeaderLen + len(f.Payload)
	buf := make([]byte, ethHeaderLen+totalLen)

	copy(buf[0:6], f.SrcMac[:])
	copy(buf[6:12], f.DstMac[:])
	binary.BigEndian.PutUint16(buf[12:14], EtherTypeIPv4)

	ip := buf[ethHeaderLen : ethHeaderLen+ipv4HeaderLen]
	ip[0] = 0x45 // version 4, IHL 5
	ip[1] = 0x00 // TOS
	binary.BigEndian.PutUint16(ip[2:4], uint16(totalLen))
	binary.BigEndian.PutUint16(ip[4:6], id)
	binary.BigEndian.PutUint16(ip[6:8], 0) // flags/fragment offset
	ip[8] = 255                            // TTL
	ip[9] = protoUDP
	ip[10], ip[11] = 0, 0 // checksum, filled below
	copy(ip[12:16], f.SrcIP[:])
	copy(ip[16:20], f.DstIP[:])
	chk := ipv4Checksum(ip)
	binary.BigEndian.PutUint16(ip[10:12], chk)

	udp := buf[ethHeaderLen+ipv4HeaderLen:]
	binary.BigEndian.PutUint16(udp[0:2], f.SrcPort)
	binary.BigEndian.PutUint16(udp[2:4], f.DstPort)
	binary.BigEndian.PutUint16(udp[4:6], uint16(udpHeaderLen+len(f.Payload)))
	binary.BigEndian.PutUint16(udp[6:8], 0) // checksum left zero, permitted over IPv4
	copy(udp[8:], f.Payload)

	return buf
}

// ParseEthIPv4UDP is the inverse of BuildNoCompressTunnel's body encoding.
// It rejects anything that is not IPv4-over-Ethernet carrying UDP.
func ParseEthIPv4UDP(body []byte) (EthIPv4UDP, error) {
	var out EthIPv4UDP
	if len(body) < ethHeaderLen {
		return out, ErrShortFrame{Want: ethHeaderLen, Got: len(body)}
	}
	copy(out.SrcMac[:], body[0:6])
	copy(out.DstMac[:], body[6:12])
	etherType := binary.BigEndian.Uint16(body[12:14])
	if etherType != EtherTypeIPv4 {
		return out, fmt.Errorf("wire: unsupported ethertype 0x%04X", etherType)
	}

	ip := body[ethHeaderLen:]
	if len(ip) < ipv4HeaderLen {
		return out, ErrShortFrame{Want: ipv4HeaderLen, Got: len(ip)}
	}
	version := ip[0] >> 4
	ihl := int(ip[0]&0x0F) * 4
	if version != 4 {
		return out, fmt.Errorf("wire: unsupported IP version %d", version)
	}
	if ihl < ipv4HeaderLen {
		return out, fmt.Errorf("wire: invalid IHL %d", ihl)
	}
	totalLen := int(binary.BigEndian.Uint16(ip[2:4]))
	if totalLen > len(ip) {
		return out, fmt.Errorf("wire: IPv4 total length %d exceeds buffer %d", totalLen, len(ip))
	}
	if ip[9] != protoUDP {
		return out, fmt.Errorf("wire: unsupported IP protocol %d", ip[9])
	}
	copy(out.SrcIP[:], ip[12:16])
	copy(out.DstIP[:], ip[16:20])

	udp := ip[ihl:totalLen]
	if len(udp) < udpHeaderLen {
		return out, ErrShortFrame{Want: udpHeaderLen, Got: len(udp)}
	}
	out.SrcPort = binary.BigEndian.Uint16(udp[0:2])
	out.DstPort = binary.BigEndian.Uint16(udp[2:4])
	udpLen := int(binary.BigEndian.Uint16(udp[4:6]))
	if udpLen < udpHeaderLen || udpLen > len(udp) {
		return out, fmt.Errorf("wire: invalid UDP length %d", udpLen)
	}
	out.Payload = append([]byte(nil), udp[udpHeaderLen:udpLen]...)
	return out, nil
}
