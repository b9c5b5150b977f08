package fragment_test

import (
	"bytes"
	"testing"

	"github.com/bender2333/tpmesh/internal/fragment"
	"github.com/bender2333/tpmesh/internal/reassembly"
	"github.com/bender2333/tpmesh/internal/wire"
)

func makeFrame(bodyLen int) wire.TunnelFrame {
	body := make([]byte, bodyLen)
	for i := range body {
		body[i] = byte(i)
	}
	return wire.NewTunnelFrame(false, wire.RuleNoCompress, body)
}

func TestSplitSingleFragmentFitsUnderMTU(t *testing.T) {
	frame := makeFrame(50)
	frags, err := fragment.Split(frame)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(frags) != 1 {
		t.Fatalf("expected 1 fragment, got %d", len(frags))
	}
	if !frags[0].Last() || frags[0].Seq() != 0 {
		t.Errorf("single fragment should be last=true seq=0, got last=%v seq=%d", frags[0].Last(), frags[0].Seq())
	}
}

func TestSplitReassembleRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 50, 197, 198, 300, 1000, 4096} {
		frame := makeFrame(n)
		frags, err := fragment.Split(frame)
		if err != nil {
			t.Fatalf("len=%d: Split: %v", n, err)
		}

		r := reassembly.New()
		var assembled wire.TunnelFrame
		for _, f := range frags {
			out, done, err := r.Feed(wire.MeshID(1), f)
			if err != nil {
				t.Fatalf("len=%d: Feed: %v", n, err)
			}
			if done {
				assembled = out
			}
		}
		if assembled == nil {
			t.Fatalf("len=%d: reassembly never completed", n)
		}
		if !bytes.Equal(assembled, frame) {
			t.Errorf("len=%d: round trip mismatch: got %d bytes, want %d bytes", n, len(assembled), len(frame))
		}
	}
}

func TestSplitSequenceIsContiguous(t *testing.T) {
	frame := makeFrame(1000)
	frags, err := fragment.Split(frame)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	for i, f := range frags {
		if int(f.Seq()) != i {
			t.Errorf("fragment %d has seq %d, want %d", i, f.Seq(), i)
		}
		wantLast := i == len(frags)-1
		if f.Last() != wantLast {
			t.Errorf("fragment %d last=%v, want %v", i, f.Last(), wantLast)
		}
	}
}

func TestSplitRejectsOversizedFrame(t *testing.T) {
	frame := makeFrame(fragment.MTU + (fragment.MaxFragments)*(fragment.MTU-3))
	if _, err := fragment.Split(frame); err == nil {
		t.Fatal("expected ErrTooLarge, got nil")
	}
}
