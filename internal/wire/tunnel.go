// Package wire implements the TPMesh tunnel envelope and the Ethernet/IPv4/
// UDP and RegisterFrame encodings carried inside it.
package wire

import "fmt"

// Rule tags the body encoding of a TunnelFrame.
type Rule uint8

const (
	RuleNoCompress Rule = 0x00
	RuleBACnetIP   Rule = 0x01
	RuleRegister   Rule = 0x10
)

// TunnelHeaderLen is the fixed 3-byte header every tunnel frame and every
// fragment of one carries.
const TunnelHeaderLen = 3

// MeshID identifies a mesh station.
type MeshID uint16

func (m MeshID) String() string {
	return fmt.Sprintf("%04X", uint16(m))
}

// BroadcastMeshID is the reserved mesh-wide broadcast address.
const BroadcastMeshID MeshID = 0x0000

// TunnelFrame is a byte slice wrapper over a complete (unfragmented) tunnel
// envelope: 3 header bytes followed by a rule-specific body. It is kept as a
// thin view rather than a parsed copy so the fragmenter can slice it directly
// without re-serializing.
type TunnelFrame []byte

// NewTunnelFrame builds a complete tunnel envelope from a rule and body.
// The returned frame's fragment-header byte is initialized to the
// single-fragment value (last=1, seq=0); fragment.Split rewrites it per-fragment.
func NewTunnelFrame(broadcast bool, rule Rule, body []byte) TunnelFrame {
	f := make(TunnelFrame, TunnelHeaderLen+len(body))
	if broadcast {
		f[0] = 0x80
	}
	f[1] = 0x80
	f[2] = byte(rule)
	copy(f[TunnelHeaderLen:], body)
	return f
}

func (f TunnelFrame) Broadcast() bool { return len(f) > 0 && f[0]&0x80 != 0 }
func (f TunnelFrame) Rule() Rule      { return Rule(f[2]) }
func (f TunnelFrame) Body() []byte    { return f[TunnelHeaderLen:] }

// Seq returns the fragment-header sequence number (bits 6..0 of byte 1).
func (f TunnelFrame) Seq() uint8 { return f[1] & 0x7F }

// Last reports whether the fragment-header last-fragment bit (bit 7 of
// byte 1) is set.
func (f TunnelFrame) Last() bool { return f[1]&0x80 != 0 }

// ErrShortFrame is returned when a buffer is too small to hold a tunnel
// header or a fixed-size body.
type ErrShortFrame struct {
	Want, Got int
}

func (e ErrShortFrame) Error() string {
	return fmt.Sprintf("wire: short frame: want at least %d bytes, got %d", e.Want, e.Got)
}

// ParseTunnelFrame validates the minimum header length and returns a view
// over buf. It does not copy.
func ParseTunnelFrame(buf []byte) (TunnelFrame, error) {
	if len(buf) < TunnelHeaderLen {
		return nil, ErrShortFrame{Want: TunnelHeaderLen, Got: len(buf)}
	}
	return TunnelFrame(buf), nil
}
