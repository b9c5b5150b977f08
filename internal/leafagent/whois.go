package leafagent

import (
	"bytes"

	"github.com/bender2333/tpmesh/internal/wire"
)

// bvlcPrefix is the BACnet Virtual Link Control signature of an
// unconfirmed-request BVLC function, and whoIsMarker is the APDU bytes
// (PDU type/service choice) identifying a Who-Is request, per §4.8.
var (
	bvlcPrefix  = []byte{0x81, 0x0B}
	whoIsMarker = []byte{0x10, 0x08}
)

// IsWhoIs inspects a reassembled tunnel frame and reports whether it
// carries a tunneled BACnet Who-Is, regardless of whether it arrived
// compressed (rule 0x01 BACnet/IP) or uncompressed (rule 0x00). The exact
// byte offsets for both rule paths are taken from the original firmware's
// is_whois_tunnel, which first requires the frame be a single, unfragmented
// message before inspecting rule/body — a mid-sequence continuation
// fragment of a larger NO_COMPRESS datagram must never be misread as a
// tunneled Who-Is.
func IsWhoIs(frame wire.TunnelFrame) bool {
	if frame.Seq() != 0 || !frame.Last() {
		return false
	}
	switch frame.Rule() {
	case wire.RuleBACnetIP:
		return isWhoIsBACnetIP(frame.Body())
	case wire.RuleNoCompress:
		return isWhoIsNoCompress(frame.Body())
	default:
		return false
	}
}

// isWhoIsBACnetIP handles rule 0x01: the compressed form carries
// mac(6) + ip(4) ahead of the raw BACnet application bytes.
func isWhoIsBACnetIP(body []byte) bool {
	const prefixLen = 6 + 4
	if len(body) < prefixLen {
		return false
	}
	return containsWhoIs(body[prefixLen:])
}

// isWhoIsNoCompress handles rule 0x00: a full Ethernet+IPv4+UDP frame,
// where the application bytes are the UDP payload of a BACnet/IP (port
// 47808) datagram.
func isWhoIsNoCompress(body []byte) bool {
	parsed, err := wire.ParseEthIPv4UDP(body)
	if err != nil {
		return false
	}
	const bacnetPort = 47808
	if parsed.DstPort != bacnetPort {
		return false
	}
	return containsWhoIs(parsed.Payload)
}

func containsWhoIs(app []byte) bool {
	if len(app) < len(bvlcPrefix) || !bytes.Equal(app[:len(bvlcPrefix)], bvlcPrefix) {
		return false
	}
	return bytes.Contains(app, whoIsMarker)
}

// DefaultIAmAPDU is the fixed I-Am payload this leaf emits in response to a
// Who-Is, taken verbatim from the original firmware's default I-Am
// payload (an Unconfirmed-REQ I-Am for a generic device object).
var DefaultIAmAPDU = mustHex("810B000C0120FFFF00FF1000C4020200112205C49103217F")

func mustHex(s string) []byte {
	out := make([]byte, len(s)/2)
	for i := range out {
		hi := hexVal(s[2*i])
		lo := hexVal(s[2*i+1])
		out[i] = hi<<4 | lo
	}
	return out
}

func hexVal(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	default:
		return 0
	}
}

// BuildIAmTunnel builds a broadcast rule-0x00 tunnel frame carrying an I-Am
// UDP datagram from self to the BACnet broadcast address, per §4.8.
func BuildIAmTunnel(selfMac [6]byte, selfIP [4]byte, srcPort uint16, apdu []byte, ids *wire.IDGenerator) wire.TunnelFrame {
	ef := wire.EthIPv4UDP{
		SrcMac:  selfMac,
		DstMac:  [6]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
		SrcIP:   selfIP,
		DstIP:   [4]byte{192, 168, 10, 255},
		SrcPort: srcPort,
		DstPort: 47808,
		Payload: apdu,
	}
	return wire.BuildNoCompressTunnel(true, ef, ids)
}
