// Package udpbridge implements the Top's bidirectional bridge between the
// BMS-facing UDP network and the mesh: mesh-sourced frames are reassembled
// and forwarded as UDP datagrams, and UDP datagrams from allowlisted
// sources are injected into the mesh, unicast to a registered node or
// broadcast otherwise. Grounded on the teacher's discovery/scanner.go
// Run(ctx) reconnect-loop idiom, adapted to a non-blocking UDP drain loop;
// exact routing semantics follow the original firmware's poll_udp_rx.
package udpbridge

import (
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/bender2333/tpmesh/internal/fragment"
	"github.com/bender2333/tpmesh/internal/metrics"
	"github.com/bender2333/tpmesh/internal/registry"
	"github.com/bender2333/tpmesh/internal/wire"
)

// Sender issues one already-built tunnel frame (fragmented if necessary) to
// the mesh.
type Sender interface {
	SendFrame(dest wire.MeshID, frame wire.TunnelFrame) error
}

// BroadcastMac is the Ethernet destination used when a UDP destination has
// no registered mesh node.
var BroadcastMac = [6]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// Config configures one Bridge instance.
type Config struct {
	// SelfMac is used as the Ethernet source address of frames built
	// from UDP datagrams.
	SelfMac [6]byte
	// Allowlist is the set of UDP source IPs permitted to be injected
	// into the mesh, preventing the Top's own forwarded traffic from
	// looping back in.
	Allowlist map[[4]byte]bool
	// MeshBroadcastID is the mesh destination used when the UDP
	// destination IP has no registered node.
	MeshBroadcastID wire.MeshID
	// DstIP/DstPort is the fixed BMS destination every allowlisted
	// inbound datagram is re-addressed to on the mesh side, matching
	// the original firmware's udp_to_mesh_dst_ip/port configuration
	// (the BMS socket here is treated as a fixed point-to-point peer,
	// not a general relay).
	DstIP   [4]byte
	DstPort uint16
	// Metrics, if set, receives a UDPBridgeDatagrams increment for every
	// datagram the bridge forwards or drops in either direction.
	Metrics *metrics.Collector
}

// Bridge owns the BMS-facing UDP socket and mesh send path.
type Bridge struct {
	cfg  Config
	conn *net.UDPConn
	reg  *registry.Registry
	send Sender
	ids  wire.IDGenerator
}

// New wraps an already-bound UDP socket.
func New(cfg Config, conn *net.UDPConn, reg *registry.Registry, send Sender) *Bridge {
	return &Bridge{cfg: cfg, conn: conn, reg: reg, send: send}
}

// MeshToUDP forwards one reassembled NO_COMPRESS tunnel frame to the BMS
// UDP network. Socket and parse errors are logged and do not propagate,
// per §7's transport error taxonomy.
func (b *Bridge) MeshToUDP(frame wire.TunnelFrame) {
	if frame.Rule() != wire.RuleNoCompress {
		return
	}
	parsed, err := wire.ParseEthIPv4UDP(frame.Body())
	if err != nil {
		log.WithError(err).Debug("udpbridge: dropping unparseable mesh frame")
		b.countDatagram("mesh_to_udp", "dropped")
		return
	}
	dst := &net.UDPAddr{IP: net.IPv4(parsed.DstIP[0], parsed.DstIP[1], parsed.DstIP[2], parsed.DstIP[3]), Port: int(parsed.DstPort)}
	if _, err := b.conn.WriteToUDP(parsed.Payload, dst); err != nil {
		log.WithError(err).WithField("dst", dst).Warn("udpbridge: failed to forward datagram to UDP")
		b.countDatagram("mesh_to_udp", "dropped")
		return
	}
	b.countDatagram("mesh_to_udp", "forwarded")
}

func (b *Bridge) countDatagram(direction, outcome string) {
	if b.cfg.Metrics == nil {
		return
	}
	b.cfg.Metrics.UDPBridgeDatagrams.WithLabelValues(direction, outcome).Inc()
}

// DrainUDP performs one non-blocking pass over the UDP socket, injecting
// every allowlisted datagram into the mesh. Call it once per event-loop
// iteration.
func (b *Bridge) DrainUDP() {
	buf := make([]byte, 65535)
	// A 1ms read deadline ends the pass as soon as no datagram is waiting.
	b.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	for {
		n, addr, err := b.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return
			}
			return
		}
		b.handleDatagram(addr, buf[:n])
	}
}

func (b *Bridge) handleDatagram(src *net.UDPAddr, payload []byte) {
	srcIP4, ok := to4(src.IP)
	if !ok || !b.cfg.Allowlist[srcIP4] {
		log.WithField("src", src).Debug("udpbridge: dropping datagram from non-allowlisted source")
		b.countDatagram("udp_to_mesh", "dropped")
		return
	}
	if err := b.sendToMesh(srcIP4, uint16(src.Port), payload); err != nil {
		log.WithError(err).Warn("udpbridge: failed to inject datagram into mesh")
		b.countDatagram("udp_to_mesh", "dropped")
		return
	}
	b.countDatagram("udp_to_mesh", "forwarded")
}

// sendToMesh builds and fragments a NO_COMPRESS tunnel frame carrying
// srcIP:srcPort -> the bridge's configured BMS destination, routing
// unicast to the destination's registered node if known, otherwise to the
// configured mesh broadcast id. Per §4.7/§7, the caller has already
// checked the source allowlist; this only performs routing and send.
func (b *Bridge) sendToMesh(srcIP [4]byte, srcPort uint16, payload []byte) error {
	dest := b.cfg.MeshBroadcastID
	dstMac := BroadcastMac
	broadcast := true
	if node, ok := b.reg.ByIP(ipv4KeyFromNetwork(b.cfg.DstIP)); ok {
		dest = node.MeshID
		dstMac = node.Mac
		broadcast = false
	}

	ef := wire.EthIPv4UDP{
		SrcMac:  b.cfg.SelfMac,
		DstMac:  dstMac,
		SrcIP:   srcIP,
		DstIP:   b.cfg.DstIP,
		SrcPort: srcPort,
		DstPort: b.cfg.DstPort,
		Payload: payload,
	}
	tun := wire.BuildNoCompressTunnel(broadcast, ef, &b.ids)

	frags, err := fragment.Split(tun)
	if err != nil {
		return fmt.Errorf("udpbridge: %w", err)
	}
	for _, f := range frags {
		if err := b.send.SendFrame(dest, f); err != nil {
			return err
		}
	}
	return nil
}

func to4(ip net.IP) ([4]byte, bool) {
	v4 := ip.To4()
	if v4 == nil {
		return [4]byte{}, false
	}
	return [4]byte{v4[0], v4[1], v4[2], v4[3]}, true
}

// ipv4KeyFromNetwork converts a dotted-quad IPv4 address octet array (as
// used on the Ethernet/IPv4 wire) into the firmware's registry key
// (wire.IPv4Key). Goes through ParseIPv4 rather than a raw array conversion
// so the two stay in lockstep if the registry key's encoding ever changes.
func ipv4KeyFromNetwork(ip [4]byte) wire.IPv4Key {
	s := fmt.Sprintf("%d.%d.%d.%d", ip[0], ip[1], ip[2], ip[3])
	k, _ := wire.ParseIPv4(s)
	return k
}
