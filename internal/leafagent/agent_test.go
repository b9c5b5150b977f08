package leafagent_test

import (
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/bender2333/tpmesh/internal/leafagent"
	"github.com/bender2333/tpmesh/internal/wire"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingSender struct {
	sent []sentFrame
}

type sentFrame struct {
	dest  wire.MeshID
	frame wire.TunnelFrame
}

func (r *recordingSender) SendFrame(dest wire.MeshID, frame wire.TunnelFrame) error {
	r.sent = append(r.sent, sentFrame{dest: dest, frame: frame})
	return nil
}

func newAgent(send *recordingSender) *leafagent.Agent {
	return leafagent.New(leafagent.Config{
		Self:        3,
		SelfMac:     [6]byte{0x00, 0x6B, 0xA0, 0x00, 0x00, 0x10},
		SelfIP:      [4]byte{192, 168, 10, 11},
		TopMeshID:   0xFFFE,
		Heartbeat:   30 * time.Second,
		IAmCooldown: 200 * time.Millisecond,
		IAmSrcPort:  47808,
	}, send)
}

func TestSendRegisterTargetsTop(t *testing.T) {
	send := &recordingSender{}
	a := newAgent(send)

	if err := a.SendRegister(); err != nil {
		t.Fatalf("SendRegister: %v", err)
	}
	if len(send.sent) != 1 {
		t.Fatalf("expected 1 sent frame, got %d", len(send.sent))
	}
	if send.sent[0].dest != wire.MeshID(0xFFFE) {
		t.Errorf("register sent to %v, want Top mesh id 0xFFFE", send.sent[0].dest)
	}

	rf, err := wire.ParseRegisterFrame(send.sent[0].frame.Body())
	if err != nil {
		t.Fatalf("ParseRegisterFrame: %v", err)
	}
	if rf.Type != wire.RegisterRequest {
		t.Errorf("register type = 0x%02X, want RegisterRequest", rf.Type)
	}
	if rf.MeshID != wire.MeshID(3) {
		t.Errorf("register mesh id = %v, want self id 3", rf.MeshID)
	}
}

func TestSendHeartbeat(t *testing.T) {
	send := &recordingSender{}
	a := newAgent(send)

	if err := a.SendHeartbeat(); err != nil {
		t.Fatalf("SendHeartbeat: %v", err)
	}
	rf, err := wire.ParseRegisterFrame(send.sent[0].frame.Body())
	if err != nil {
		t.Fatalf("ParseRegisterFrame: %v", err)
	}
	if rf.Type != wire.Heartbeat {
		t.Errorf("heartbeat type = 0x%02X, want Heartbeat", rf.Type)
	}
}

func TestHandleFrameSendsIAmOnWhoIs(t *testing.T) {
	send := &recordingSender{}
	a := newAgent(send)

	whoIs := []byte{0x81, 0x0B, 0x00, 0x0C, 0x01, 0x20, 0xFF, 0xFF, 0x00, 0xFF, 0x10, 0x08}
	frame := whoIsNoCompressFrame(t, whoIs)

	sent, err := a.HandleFrame(frame)
	if err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}
	if !sent {
		t.Fatal("expected an I-Am to be sent")
	}
	if len(send.sent) != 1 {
		t.Fatalf("expected 1 frame sent, got %d", len(send.sent))
	}
	if send.sent[0].dest != wire.MeshID(0xFFFE) {
		t.Errorf("I-Am sent to %v, want Top mesh id 0xFFFE", send.sent[0].dest)
	}
}

func TestHandleFrameRespectsCooldown(t *testing.T) {
	send := &recordingSender{}
	a := newAgent(send)

	whoIs := []byte{0x81, 0x0B, 0x00, 0x0C, 0x01, 0x20, 0xFF, 0xFF, 0x00, 0xFF, 0x10, 0x08}
	frame := whoIsNoCompressFrame(t, whoIs)

	first, err := a.HandleFrame(frame)
	if err != nil || !first {
		t.Fatalf("first HandleFrame: sent=%v err=%v", first, err)
	}
	second, err := a.HandleFrame(frame)
	if err != nil {
		t.Fatalf("second HandleFrame: %v", err)
	}
	if second {
		t.Error("a second Who-Is within the cooldown window must not trigger another I-Am")
	}
	if len(send.sent) != 1 {
		t.Errorf("expected exactly 1 I-Am across both triggers, got %d", len(send.sent))
	}
}

func TestHandleFrameIgnoresNonWhoIs(t *testing.T) {
	send := &recordingSender{}
	a := newAgent(send)

	frame := wire.NewTunnelFrame(false, wire.RuleRegister, make([]byte, wire.RegisterFrameLen))
	sent, err := a.HandleFrame(frame)
	if err != nil || sent {
		t.Fatalf("expected no I-Am for non-Who-Is frame: sent=%v err=%v", sent, err)
	}
}
