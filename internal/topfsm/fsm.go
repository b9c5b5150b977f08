// Package topfsm implements the Top's handling of rule-0x10 register and
// heartbeat control frames: validation, registry updates, and ack emission.
// Grounded on the teacher's sol/manager.go session-dispatch idiom, with
// exact frame semantics taken from the original firmware's register/
// heartbeat handling.
package topfsm

import (
	"fmt"

	"github.com/bender2333/tpmesh/internal/registry"
	"github.com/bender2333/tpmesh/internal/wire"
)

// Sender issues a single unfragmented tunnel frame to a mesh destination.
// Register acks never need fragmentation (they are 18 bytes: 3-byte tunnel
// header + 15-byte RegisterFrame), so the FSM only depends on this narrow
// send primitive rather than the full fragmenter.
type Sender interface {
	SendFrame(dest wire.MeshID, frame wire.TunnelFrame) error
}

// FSM handles rule-0x10 control frames on behalf of a Top node.
type FSM struct {
	self Identity
	reg  *registry.Registry
	send Sender
}

// Identity is the Top's own mac/ip/mesh-id, used to build ack frames.
type Identity struct {
	Mac    [6]byte
	IP     wire.IPv4Key
	MeshID wire.MeshID
}

// New returns an FSM that updates reg and replies via send using self as
// the Top's identity in every ack it emits.
func New(self Identity, reg *registry.Registry, send Sender) *FSM {
	return &FSM{self: self, reg: reg, send: send}
}

// ErrInvalidControlFrame is returned when a rule-0x10 tunnel frame fails
// the fixed-shape validation in §4.6: non-zero broadcast bit, a fragment
// header other than 0x80 (single fragment, last, seq 0), or a body length
// other than wire.RegisterFrameLen.
type ErrInvalidControlFrame struct {
	Reason string
}

func (e ErrInvalidControlFrame) Error() string {
	return fmt.Sprintf("topfsm: invalid control frame: %s", e.Reason)
}

// Handle processes one single-fragment rule-0x10 tunnel frame from src. It
// validates shape and CRC, upserts the registry on register/heartbeat, and
// emits the matching ack. Unknown register types are logged by the caller
// (Handle returns a descriptive error so the caller can decide how to log
// it) rather than treated as fatal.
func (f *FSM) Handle(src wire.MeshID, frame wire.TunnelFrame) error {
	if frame.Rule() != wire.RuleRegister {
		return ErrInvalidControlFrame{Reason: fmt.Sprintf("rule 0x%02X is not RuleRegister", frame.Rule())}
	}
	if frame.Broadcast() {
		return ErrInvalidControlFrame{Reason: "register frames must not set the broadcast bit"}
	}
	if frame[1] != 0x80 {
		return ErrInvalidControlFrame{Reason: fmt.Sprintf("fragment header 0x%02X, want 0x80 (single fragment)", frame[1])}
	}
	if len(frame.Body()) != wire.RegisterFrameLen {
		return ErrInvalidControlFrame{Reason: fmt.Sprintf("body length %d, want %d", len(frame.Body()), wire.RegisterFrameLen)}
	}

	rf, err := wire.ParseRegisterFrame(frame.Body())
	if err != nil {
		return err
	}

	switch rf.Type {
	case wire.RegisterRequest:
		f.reg.Upsert(registry.Node{MeshID: src, Mac: rf.Mac, IP: rf.IP})
		return f.ack(src, wire.RegisterAck)
	case wire.Heartbeat:
		f.reg.Upsert(registry.Node{MeshID: src, Mac: rf.Mac, IP: rf.IP})
		return f.ack(src, wire.HeartbeatAck)
	default:
		return ErrInvalidControlFrame{Reason: fmt.Sprintf("unexpected register type 0x%02X", rf.Type)}
	}
}

func (f *FSM) ack(dest wire.MeshID, ackType wire.RegisterType) error {
	body := wire.RegisterFrame{
		Type:   ackType,
		Mac:    f.self.Mac,
		IP:     f.self.IP,
		MeshID: f.self.MeshID,
	}.Marshal()
	frame := wire.NewTunnelFrame(false, wire.RuleRegister, body)
	return f.send.SendFrame(dest, frame)
}
