// Package reassembly reconstructs tunnel frames split across multiple
// fragments by the mesh's MTU, one independent session per source mesh
// station. Grounded on the teacher's sol/payload.go readLoop sequence
// handling, generalized from SOL packet sequencing to tunnel fragments.
package reassembly

import (
	"fmt"
	"time"

	"github.com/bender2333/tpmesh/internal/wire"
)

// IdleTimeout is how long a session may sit without a new fragment before
// it is discarded.
const IdleTimeout = 5 * time.Second

type session struct {
	expectedSeq uint8
	buffer      []byte
	lastUpdate  time.Time
}

// Reassembler holds one session per source MeshID. It is not safe for
// concurrent use — callers run it from a single event loop, per the
// single-owner concurrency model.
type Reassembler struct {
	sessions map[wire.MeshID]*session
	now      func() time.Time
}

// New returns a Reassembler using the real clock.
func New() *Reassembler {
	return &Reassembler{
		sessions: make(map[wire.MeshID]*session),
		now:      time.Now,
	}
}

// ErrSequenceViolation is returned when a fragment's sequence number does
// not match the session's expected next value, or no session exists for a
// continuation fragment. The session (if any) has already been discarded
// when this error is returned.
type ErrSequenceViolation struct {
	Source   wire.MeshID
	Expected uint8
	Got      uint8
}

func (e ErrSequenceViolation) Error() string {
	return fmt.Sprintf("reassembly: source %s: expected seq %d, got %d", e.Source, e.Expected, e.Got)
}

// Feed processes one fragment from src. It returns the assembled tunnel
// frame and done=true when the fragment completes a message. A non-nil
// error means the fragment was rejected and any in-flight session for src
// was discarded; it is not fatal to the caller's loop.
func (r *Reassembler) Feed(src wire.MeshID, frag wire.TunnelFrame) (wire.TunnelFrame, bool, error) {
	r.sweep()

	seq := frag.Seq()
	last := frag.Last()

	if seq == 0 {
		s := &session{
			expectedSeq: 1,
			buffer:      append([]byte(nil), frag...),
			lastUpdate:  r.now(),
		}
		r.sessions[src] = s
		if last {
			delete(r.sessions, src)
			return wire.TunnelFrame(s.buffer), true, nil
		}
		return nil, false, nil
	}

	s, ok := r.sessions[src]
	if !ok || s.expectedSeq != seq {
		delete(r.sessions, src)
		expected := uint8(0)
		if ok {
			expected = s.expectedSeq
		}
		return nil, false, ErrSequenceViolation{Source: src, Expected: expected, Got: seq}
	}

	s.buffer = append(s.buffer, frag.Body()...)
	s.expectedSeq++
	s.lastUpdate = r.now()

	if last {
		delete(r.sessions, src)
		// The assembled frame is a complete message again: restore the
		// single-fragment header value (last=1, seq=0) that the first
		// fragment had cleared.
		s.buffer[1] = 0x80
		return wire.TunnelFrame(s.buffer), true, nil
	}
	return nil, false, nil
}

// sweep discards sessions that have been idle longer than IdleTimeout.
func (r *Reassembler) sweep() {
	now := r.now()
	for src, s := range r.sessions {
		if now.Sub(s.lastUpdate) > IdleTimeout {
			delete(r.sessions, src)
		}
	}
}

// Pending reports the number of in-flight reassembly sessions, for metrics.
func (r *Reassembler) Pending() int { return len(r.sessions) }

// SetClockForTest overrides the Reassembler's time source. It exists only
// to make the 5-second idle timeout deterministic in tests.
func SetClockForTest(r *Reassembler, now func() time.Time) {
	r.now = now
}
