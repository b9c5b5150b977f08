// Package attransport speaks the line-based AT command dialect used by the
// mesh modem: it issues AT+SEND commands, waits for OK/ERROR status lines,
// and dispatches +NNMI unsolicited receive lines to a handler. Grounded on
// the teacher's sol/manager.go readLoop/writeLoop split (buffered drain
// goroutine, command/response correlation).
package attransport

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/bender2333/tpmesh/internal/wire"
)

// LineReadWriter is the narrow interface Transport depends on, so tests can
// substitute an in-memory fake instead of a real serial port.
type LineReadWriter interface {
	WriteLine(line string) error
	// ReadLine blocks for at most timeout waiting for a complete line.
	// It returns (line, nil) on success, ("", ErrTimeout) if no line
	// arrived within timeout, or a non-nil error for a transport failure.
	ReadLine(timeout time.Duration) (string, error)
}

// ErrTimeout is returned by LineReadWriter.ReadLine when no line arrived
// within the requested deadline.
var ErrTimeout = errors.New("attransport: read timeout")

// Frame is a decoded +NNMI unsolicited receive.
type Frame struct {
	Src     wire.MeshID
	Payload []byte
}

// Handler receives decoded frames as they arrive.
type Handler func(Frame)

// Transport drives a LineReadWriter, decoding +NNMI lines and recognizing
// OK/ERROR status lines for command correlation.
type Transport struct {
	io      LineReadWriter
	handler Handler
}

// New wraps io with a Transport that calls handler for every decoded +NNMI
// frame observed, including ones that arrive while SendCmdWaitOK is
// blocked waiting for a status line.
func New(io LineReadWriter, handler Handler) *Transport {
	return &Transport{io: io, handler: handler}
}

// Run polls for lines until ctx is cancelled, dispatching +NNMI frames to
// the handler. It is the Top/Leaf role's single point of serial ownership,
// per the concurrency model's single-owner rule.
func (t *Transport) Run(ctx context.Context, pollTimeout time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		line, err := t.io.ReadLine(pollTimeout)
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				continue
			}
			log.WithError(err).Warn("attransport: read error")
			continue
		}
		t.dispatch(line)
	}
}

func (t *Transport) dispatch(line string) {
	switch {
	case strings.HasPrefix(line, "+NNMI:"):
		f, err := parseNNMI(line)
		if err != nil {
			log.WithError(err).WithField("line", line).Debug("attransport: dropping malformed +NNMI line")
			return
		}
		if t.handler != nil {
			t.handler(f)
		}
	case isStatusLine(line):
		// Unsolicited OK/ERROR outside of SendCmdWaitOK; nothing to
		// correlate it with, so just log it.
		log.WithField("line", line).Debug("attransport: unsolicited status line")
	default:
		log.WithField("line", line).Debug("attransport: ignoring unrecognized line")
	}
}

func isStatusLine(line string) bool {
	return line == "OK" || line == "ERROR" || strings.HasSuffix(line, ":OK") || strings.HasSuffix(line, ":ERROR")
}

// parseNNMI decodes both the 5-field and 3-field +NNMI body shapes into a
// Frame, per §4.2. Fields after the prefix are comma-separated; the field
// carrying the declared decimal length and the one carrying the hex payload
// are always the last two.
func parseNNMI(line string) (Frame, error) {
	body := strings.TrimPrefix(line, "+NNMI:")
	fields := strings.Split(body, ",")
	if len(fields) < 3 {
		return Frame{}, fmt.Errorf("attransport: +NNMI line has %d fields, want at least 3", len(fields))
	}

	srcHex := strings.TrimSpace(fields[0])
	declLenStr := strings.TrimSpace(fields[len(fields)-2])
	hexPayload := strings.TrimSpace(fields[len(fields)-1])

	srcVal, err := strconv.ParseUint(srcHex, 16, 16)
	if err != nil {
		return Frame{}, fmt.Errorf("attransport: bad source mesh id %q: %w", srcHex, err)
	}
	declLen, err := strconv.Atoi(declLenStr)
	if err != nil {
		return Frame{}, fmt.Errorf("attransport: bad declared length %q: %w", declLenStr, err)
	}
	payload, err := hexDecode(hexPayload)
	if err != nil {
		return Frame{}, fmt.Errorf("attransport: bad hex payload: %w", err)
	}
	if len(payload) != declLen {
		return Frame{}, fmt.Errorf("attransport: declared length %d does not match decoded length %d", declLen, len(payload))
	}

	return Frame{Src: wire.MeshID(srcVal), Payload: payload}, nil
}

func hexDecode(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := 0; i < len(out); i++ {
		hi, err := hexNibble(s[2*i])
		if err != nil {
			return nil, err
		}
		lo, err := hexNibble(s[2*i+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("invalid hex digit %q", c)
	}
}

// SendFrame issues a single AT+SEND for one already-fragment-sized tunnel
// frame. Send mode 0 is used throughout; other values are reserved for
// future link variants (§9).
func (t *Transport) SendFrame(dest wire.MeshID, frame wire.TunnelFrame) error {
	hexPayload := strings.ToUpper(hexEncode(frame))
	cmd := fmt.Sprintf("AT+SEND=%04X,%d,%s,0", uint16(dest), len(frame), hexPayload)
	return t.io.WriteLine(cmd)
}

func hexEncode(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[2*i] = digits[v>>4]
		out[2*i+1] = digits[v&0xF]
	}
	return string(out)
}

// SendCmdWaitOK writes cmd and blocks (up to timeout) for an OK/ERROR status
// line, continuing to dispatch any +NNMI lines that arrive while waiting —
// matching the original firmware's send_cmd_wait_ok, which must not stall
// unsolicited receive processing.
func (t *Transport) SendCmdWaitOK(cmd string, timeout time.Duration) error {
	if err := t.io.WriteLine(cmd); err != nil {
		return err
	}
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("attransport: timed out waiting for OK/ERROR after %q", cmd)
		}
		line, err := t.io.ReadLine(remaining)
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				continue
			}
			return err
		}
		if line == "OK" || strings.HasSuffix(line, ":OK") {
			return nil
		}
		if line == "ERROR" || strings.HasSuffix(line, ":ERROR") {
			return fmt.Errorf("attransport: command %q failed: %s", cmd, line)
		}
		t.dispatch(line)
	}
}
