// Package leafagent implements the Leaf role: periodic registration and
// heartbeat with the Top, and cooldown-gated Who-Is/I-Am tunneling.
// Grounded on the teacher's main.go ticker-driven background task plus
// sol/manager.go's backoff/retry idiom; exact scheduling and detection
// semantics follow the original firmware's node_sim.py run loop.
package leafagent

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/bender2333/tpmesh/internal/attransport"
	"github.com/bender2333/tpmesh/internal/wire"
)

// Sender issues an already-built single-fragment tunnel frame. Register and
// heartbeat frames never need fragmentation (18 bytes total), matching
// topfsm's ack path.
type Sender interface {
	SendFrame(dest wire.MeshID, frame wire.TunnelFrame) error
}

// Config configures one leaf Agent.
type Config struct {
	Self          wire.MeshID
	SelfMac       [6]byte
	SelfIP        [4]byte
	TopMeshID     wire.MeshID
	RegisterRetry time.Duration // 0 disables periodic re-registration
	Heartbeat     time.Duration
	IAmCooldown   time.Duration
	IAmSrcPort    uint16
	IAmAPDU       []byte
}

// Agent runs the leaf's event loop.
type Agent struct {
	cfg  Config
	send Sender
	ids  wire.IDGenerator

	lastRegister time.Time
	lastIAm      time.Time
	now          func() time.Time
}

// New returns an Agent ready to Run.
func New(cfg Config, send Sender) *Agent {
	if cfg.IAmAPDU == nil {
		cfg.IAmAPDU = DefaultIAmAPDU
	}
	return &Agent{cfg: cfg, send: send, now: time.Now}
}

// selfIP converts the leaf's dotted-quad Ethernet/IPv4 address into the
// firmware's RegisterFrame encoding (see wire.IPv4Key), going through
// ParseIPv4 to keep both in lockstep with the registry key's encoding.
func (a *Agent) selfIP() wire.IPv4Key {
	ip := a.cfg.SelfIP
	s := fmt.Sprintf("%d.%d.%d.%d", ip[0], ip[1], ip[2], ip[3])
	k, _ := wire.ParseIPv4(s)
	return k
}

func (a *Agent) registerFrame(typ wire.RegisterType) wire.TunnelFrame {
	body := wire.RegisterFrame{
		Type:   typ,
		Mac:    a.cfg.SelfMac,
		IP:     a.selfIP(),
		MeshID: a.cfg.Self,
	}.Marshal()
	return wire.NewTunnelFrame(false, wire.RuleRegister, body)
}

// SendRegister emits a register-request frame to the Top.
func (a *Agent) SendRegister() error {
	a.lastRegister = a.now()
	return a.send.SendFrame(a.cfg.TopMeshID, a.registerFrame(wire.RegisterRequest))
}

// SendHeartbeat emits a heartbeat frame to the Top.
func (a *Agent) SendHeartbeat() error {
	return a.send.SendFrame(a.cfg.TopMeshID, a.registerFrame(wire.Heartbeat))
}

// HandleFrame inspects one received (already reassembled) tunnel frame for
// a tunneled Who-Is and, subject to the I-Am cooldown, emits an I-Am. It
// returns true if an I-Am was sent.
func (a *Agent) HandleFrame(frame wire.TunnelFrame) (bool, error) {
	if !IsWhoIs(frame) {
		return false, nil
	}
	now := a.now()
	if !a.lastIAm.IsZero() && now.Sub(a.lastIAm) < a.cfg.IAmCooldown {
		return false, nil
	}
	iam := BuildIAmTunnel(a.cfg.SelfMac, a.cfg.SelfIP, a.cfg.IAmSrcPort, a.cfg.IAmAPDU, &a.ids)
	if err := a.send.SendFrame(a.cfg.TopMeshID, iam); err != nil {
		return false, err
	}
	a.lastIAm = now
	return true, nil
}

// Run drives the leaf's schedule: an immediate register, a background
// goroutine ticking register-retry and heartbeat sends, and a blocking
// drain of the AT transport (whose dispatch handler should call
// HandleFrame). It returns when ctx is cancelled, mirroring the teacher's
// main.go ticker-goroutine-plus-blocking-Run structure.
func (a *Agent) Run(ctx context.Context, tr *attransport.Transport, pollTimeout time.Duration) {
	if err := a.SendRegister(); err != nil {
		log.WithError(err).Warn("leafagent: initial register failed")
	}

	go a.scheduleLoop(ctx)

	tr.Run(ctx, pollTimeout)
}

func (a *Agent) scheduleLoop(ctx context.Context) {
	heartbeat := time.NewTicker(a.cfg.Heartbeat)
	defer heartbeat.Stop()

	var registerRetry *time.Ticker
	var registerC <-chan time.Time
	if a.cfg.RegisterRetry > 0 {
		registerRetry = time.NewTicker(a.cfg.RegisterRetry)
		defer registerRetry.Stop()
		registerC = registerRetry.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if err := a.SendHeartbeat(); err != nil {
				log.WithError(err).Warn("leafagent: heartbeat failed")
			}
		case <-registerC:
			if err := a.SendRegister(); err != nil {
				log.WithError(err).Warn("leafagent: periodic register failed")
			}
		}
	}
}
