package wire_test

import (
	"bytes"
	"testing"

	"github.com/bender2333/tpmesh/internal/wire"
)

func TestNoCompressTunnelRoundTrip(t *testing.T) {
	ids := &wire.IDGenerator{}
	f := wire.EthIPv4UDP{
		SrcMac:  [6]byte{0x00, 0x6B, 0xA0, 0x00, 0x00, 0x10},
		DstMac:  [6]byte{0x00, 0x6B, 0xA0, 0x00, 0x00, 0x01},
		SrcIP:   [4]byte{192, 168, 10, 3},
		DstIP:   [4]byte{192, 168, 10, 11},
		SrcPort: 47000,
		DstPort: 47808,
		Payload: []byte{0xDE, 0xAD, 0xBE, 0xEF},
	}

	tun := wire.BuildNoCompressTunnel(false, f, ids)
	if tun.Rule() != wire.RuleNoCompress {
		t.Fatalf("Rule() = %v, want RuleNoCompress", tun.Rule())
	}
	if !tun.Last() || tun.Seq() != 0 {
		t.Fatalf("single-fragment frame should have last=true seq=0, got last=%v seq=%d", tun.Last(), tun.Seq())
	}

	got, err := wire.ParseEthIPv4UDP(tun.Body())
	if err != nil {
		t.Fatalf("ParseEthIPv4UDP: %v", err)
	}
	if got.SrcMac != f.SrcMac || got.DstMac != f.DstMac {
		t.Errorf("mac mismatch: got src=%v dst=%v", got.SrcMac, got.DstMac)
	}
	if got.SrcIP != f.SrcIP || got.DstIP != f.DstIP {
		t.Errorf("ip mismatch: got src=%v dst=%v", got.SrcIP, got.DstIP)
	}
	if got.SrcPort != f.SrcPort || got.DstPort != f.DstPort {
		t.Errorf("port mismatch: got src=%d dst=%d", got.SrcPort, got.DstPort)
	}
	if !bytes.Equal(got.Payload, f.Payload) {
		t.Errorf("payload mismatch: got %x, want %x", got.Payload, f.Payload)
	}
}

func TestIDGeneratorWraps(t *testing.T) {
	g := &wire.IDGenerator{}
	for i := 0; i < 0x10000; i++ {
		g.Next()
	}
	if got := g.Next(); got != 0 {
		t.Errorf("after 65536 calls expected wrap to 0, got %d", got)
	}
}

func TestParseEthIPv4UDPRejectsWrongEtherType(t *testing.T) {
	body := make([]byte, 14+20+8)
	body[13] = 0x06 // ARP, not IPv4
	if _, err := wire.ParseEthIPv4UDP(body); err == nil {
		t.Fatal("expected error for non-IPv4 ethertype")
	}
}
