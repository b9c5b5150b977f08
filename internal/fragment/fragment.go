// Package fragment splits outbound tunnel frames that exceed the mesh link
// MTU into sequenced fragments, grounded on the teacher's sendSolData
// MTU-chunking idiom (sol/payload.go) generalized from SOL data chunks to
// TPMesh tunnel fragments.
package fragment

import (
	"fmt"

	"github.com/bender2333/tpmesh/internal/wire"
)

// MTU is the maximum number of bytes carried per AT+SEND, including the
// fragment's 3-byte tunnel header.
const MTU = 200

// MaxFragments bounds the 7-bit sequence field.
const MaxFragments = 128

// ErrTooLarge is returned when a frame would require more than
// MaxFragments fragments.
type ErrTooLarge struct {
	FrameLen, MaxLen int
}

func (e ErrTooLarge) Error() string {
	return fmt.Sprintf("fragment: frame of %d bytes exceeds maximum fragmentable size %d", e.FrameLen, e.MaxLen)
}

// maxFragmentableLen is the largest frame length that fits in MaxFragments
// fragments: one full first fragment of MTU bytes, plus (MaxFragments-1)
// continuation fragments of (MTU-3) bytes each.
const maxFragmentableLen = MTU + (MaxFragments-1)*(MTU-3)

// Split breaks frame into an ordered list of wire fragments ready to be
// sent individually via AT+SEND. frame must already carry its 3-byte tunnel
// header (as built by wire.NewTunnelFrame / wire.BuildNoCompressTunnel).
func Split(frame wire.TunnelFrame) ([]wire.TunnelFrame, error) {
	if len(frame) > maxFragmentableLen {
		return nil, ErrTooLarge{FrameLen: len(frame), MaxLen: maxFragmentableLen}
	}

	if len(frame) <= MTU {
		out := make(wire.TunnelFrame, len(frame))
		copy(out, frame)
		out[1] = 0x80 // last=1, seq=0
		return []wire.TunnelFrame{out}, nil
	}

	header := [wire.TunnelHeaderLen]byte{frame[0], frame[1], frame[2]}
	rest := frame[wire.TunnelHeaderLen:]

	var fragments []wire.TunnelFrame

	first := make(wire.TunnelFrame, MTU)
	copy(first, frame[:MTU])
	first[1] = header[1] &^ 0x80 // seq=0, not last (more data follows)
	first[1] &= 0x7F
	fragments = append(fragments, first)
	rest = rest[MTU-wire.TunnelHeaderLen:]

	seq := uint8(1)
	const contLen = MTU - wire.TunnelHeaderLen
	for len(rest) > 0 {
		chunkLen := contLen
		last := false
		if chunkLen >= len(rest) {
			chunkLen = len(rest)
			last = true
		}

		frag := make(wire.TunnelFrame, wire.TunnelHeaderLen+chunkLen)
		frag[0] = header[0]
		frag[1] = seq & 0x7F
		if last {
			frag[1] |= 0x80
		}
		frag[2] = header[2]
		copy(frag[wire.TunnelHeaderLen:], rest[:chunkLen])

		fragments = append(fragments, frag)
		rest = rest[chunkLen:]
		seq++
	}

	return fragments, nil
}
