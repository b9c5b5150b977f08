package reassembly_test

import (
	"testing"
	"time"

	"github.com/bender2333/tpmesh/internal/reassembly"
	"github.com/bender2333/tpmesh/internal/wire"
)

func frag(seq uint8, last bool, rule wire.Rule, body []byte) wire.TunnelFrame {
	f := make(wire.TunnelFrame, wire.TunnelHeaderLen+len(body))
	f[1] = seq & 0x7F
	if last {
		f[1] |= 0x80
	}
	f[2] = byte(rule)
	copy(f[wire.TunnelHeaderLen:], body)
	return f
}

func TestFeedSingleFragmentCompletesImmediately(t *testing.T) {
	r := reassembly.New()
	f := frag(0, true, wire.RuleNoCompress, []byte("hello"))
	out, done, err := r.Feed(1, f)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if !done {
		t.Fatal("expected done=true for single fragment")
	}
	if string(out.Body()) != "hello" {
		t.Errorf("Body() = %q, want %q", out.Body(), "hello")
	}
}

func TestFeedSkippedSequenceDiscardsSession(t *testing.T) {
	r := reassembly.New()
	if _, done, err := r.Feed(1, frag(0, false, wire.RuleNoCompress, []byte("ab"))); err != nil || done {
		t.Fatalf("seq 0: done=%v err=%v", done, err)
	}

	// Skip seq 1, jump straight to seq 2.
	_, done, err := r.Feed(1, frag(2, true, wire.RuleNoCompress, []byte("cd")))
	if err == nil {
		t.Fatal("expected sequence violation error")
	}
	if done {
		t.Fatal("violating fragment must not complete a message")
	}

	if _, ok := err.(reassembly.ErrSequenceViolation); !ok {
		t.Errorf("expected ErrSequenceViolation, got %T", err)
	}

	// A fresh seq=0 after the violation must start a clean session.
	out, done, err := r.Feed(1, frag(0, true, wire.RuleNoCompress, []byte("fresh")))
	if err != nil || !done {
		t.Fatalf("fresh session after violation: done=%v err=%v", done, err)
	}
	if string(out.Body()) != "fresh" {
		t.Errorf("Body() = %q, want %q", out.Body(), "fresh")
	}
}

func TestFeedContinuationWithoutSessionIsViolation(t *testing.T) {
	r := reassembly.New()
	_, done, err := r.Feed(1, frag(1, true, wire.RuleNoCompress, []byte("x")))
	if err == nil || done {
		t.Fatalf("expected violation for orphan continuation fragment, done=%v err=%v", done, err)
	}
}

func TestSessionExpiresAfterIdleTimeout(t *testing.T) {
	r := reassembly.New()
	fake := time.Now()
	reassembly.SetClockForTest(r, func() time.Time { return fake })

	if _, done, err := r.Feed(1, frag(0, false, wire.RuleNoCompress, []byte("ab"))); err != nil || done {
		t.Fatalf("seq 0: done=%v err=%v", done, err)
	}

	fake = fake.Add(reassembly.IdleTimeout + time.Second)

	_, done, err := r.Feed(1, frag(1, true, wire.RuleNoCompress, []byte("cd")))
	if err == nil || done {
		t.Fatalf("expected the stale session to be swept and seq=1 rejected, done=%v err=%v", done, err)
	}
}
