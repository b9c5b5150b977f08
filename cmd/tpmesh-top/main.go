// Command tpmesh-top runs the Top role of the TPMesh gateway: it terminates
// the AT-command serial link to the mesh modem, answers register/heartbeat
// control frames, maintains the node registry, and bridges NO_COMPRESS
// tunnel traffic to and from the BMS-facing UDP network. Structured the way
// the teacher's main.go wires its components together.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/bender2333/tpmesh/internal/attransport"
	"github.com/bender2333/tpmesh/internal/config"
	"github.com/bender2333/tpmesh/internal/metrics"
	"github.com/bender2333/tpmesh/internal/registry"
	"github.com/bender2333/tpmesh/internal/statusserver"
	"github.com/bender2333/tpmesh/internal/topfsm"
	"github.com/bender2333/tpmesh/internal/tracelog"
	"github.com/bender2333/tpmesh/internal/udpbridge"
	"github.com/bender2333/tpmesh/internal/version"
	"github.com/bender2333/tpmesh/internal/wire"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := config.LoadTop(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Infof("Starting TPMesh Top v%s", version.Version)
	log.Infof("  Serial: %s @ %d baud", cfg.Serial.Port, cfg.Serial.Baud)
	log.Infof("  Mesh id: %s", cfg.MeshID)

	self, err := parseIdentity(cfg.Mac, cfg.IP, cfg.MeshID)
	if err != nil {
		log.Fatalf("Invalid identity in config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Shutting down...")
		cancel()
	}()

	sp, err := attransport.OpenSerial(cfg.Serial.Port, cfg.Serial.Baud)
	if err != nil {
		log.Fatalf("Failed to open serial port: %v", err)
	}
	defer sp.Close()

	var tracer *tracelog.Tracer
	if cfg.Trace.Path != "" {
		tracer, err = tracelog.New(cfg.Trace.Path, cfg.Trace.RetentionDays)
		if err != nil {
			log.Fatalf("Failed to open trace log: %v", err)
		}
		defer tracer.Close()
	}

	reg := registry.New()
	if cfg.RegistrySnapshotPath != "" {
		if err := reg.Load(cfg.RegistrySnapshotPath); err != nil {
			log.Warnf("Failed to load registry snapshot: %v", err)
		}
		defer func() {
			if err := reg.Save(cfg.RegistrySnapshotPath); err != nil {
				log.Warnf("Failed to save registry snapshot: %v", err)
			}
		}()
	}

	collector := metrics.NewCollector(nil)

	// tr is constructed with a dispatcher whose fsm/bridge fields are filled
	// in below, since both depend on tr as their outbound Sender.
	d := &dispatcher{tracer: tracer, collector: collector}
	tr := attransport.New(sp, d.handle)
	d.fsm = topfsm.New(self, reg, tr)

	var bridge *udpbridge.Bridge
	if cfg.UDPBridge {
		conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(cfg.BMSBindIP), Port: cfg.BMSBindPort})
		if err != nil {
			log.Fatalf("Failed to bind BMS UDP socket: %v", err)
		}
		defer conn.Close()

		allow := make(map[[4]byte]bool, len(cfg.UDPAllowSrc))
		for _, s := range cfg.UDPAllowSrc {
			ip := net.ParseIP(s).To4()
			if ip == nil {
				log.Warnf("Ignoring invalid udp_allow_src entry %q", s)
				continue
			}
			allow[[4]byte{ip[0], ip[1], ip[2], ip[3]}] = true
		}
		if len(cfg.UDPAllowSrc) == 0 {
			// With no udp_allow_src configured, the allowlist is the bind address.
			if ip := net.ParseIP(cfg.BMSBindIP).To4(); ip != nil {
				allow[[4]byte{ip[0], ip[1], ip[2], ip[3]}] = true
			}
		}

		dstIP := net.ParseIP(cfg.UDPToMeshDstIP).To4()
		if dstIP == nil {
			log.Fatalf("Invalid udp_to_mesh_dst_ip %q", cfg.UDPToMeshDstIP)
		}

		bridgeCfg := udpbridge.Config{
			SelfMac:         self.Mac,
			Allowlist:       allow,
			MeshBroadcastID: cfg.MeshBroadcastID,
			DstIP:           [4]byte{dstIP[0], dstIP[1], dstIP[2], dstIP[3]},
			DstPort:         uint16(cfg.UDPToMeshDstPort),
			Metrics:         collector,
		}
		bridge = udpbridge.New(bridgeCfg, conn, reg, tr)
		d.bridge = bridge

		go func() {
			ticker := time.NewTicker(50 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					bridge.DrainUDP()
				}
			}
		}()
	}

	if cfg.Init {
		runTopInit(tr, cfg.MeshID)
	}

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				collector.RegisteredNodes.Set(float64(reg.Len()))
				collector.ReassemblySessions.Set(float64(d.pending()))
			}
		}
	}()

	if cfg.Status.Listen != "" {
		srv := statusserver.New(cfg.Status.Listen, reg)
		go func() {
			if err := srv.Run(ctx); err != nil {
				log.Errorf("status server error: %v", err)
			}
		}()
	}

	if cfg.Trace.RetentionDays > 0 && tracer != nil {
		go func() {
			ticker := time.NewTicker(24 * time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					tracer.Cleanup()
				}
			}
		}()
	}

	tr.Run(ctx, 500*time.Millisecond)
}

func parseIdentity(macStr, ipStr string, meshID wire.MeshID) (topfsm.Identity, error) {
	hw, err := net.ParseMAC(macStr)
	if err != nil {
		return topfsm.Identity{}, err
	}
	var mac [6]byte
	copy(mac[:], hw)

	ip, err := wire.ParseIPv4(ipStr)
	if err != nil {
		return topfsm.Identity{}, err
	}

	return topfsm.Identity{Mac: mac, IP: ip, MeshID: meshID}, nil
}

// runTopInit issues the modem's module initialization sequence, settling
// before normal traffic processing begins.
func runTopInit(tr *attransport.Transport, meshID wire.MeshID) {
	log.Info("Running Top init sequence")
	cmds := []string{
		"AT",
		"AT+ADDR=" + meshID.String(),
		"AT+CELL=0",
		"AT+LP=3",
	}
	for _, cmd := range cmds {
		if err := tr.SendCmdWaitOK(cmd, 2*time.Second); err != nil {
			log.Warnf("init command %q failed: %v", cmd, err)
		}
	}
	time.Sleep(500 * time.Millisecond)
}
