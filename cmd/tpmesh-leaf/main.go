// Command tpmesh-leaf runs the Leaf role of the TPMesh gateway: it
// registers with a Top station over the AT-command serial link, maintains
// itself with periodic heartbeats, and answers tunneled Who-Is broadcasts
// with a tunneled I-Am. Structured the way the teacher's main.go wires its
// components together.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/bender2333/tpmesh/internal/attransport"
	"github.com/bender2333/tpmesh/internal/config"
	"github.com/bender2333/tpmesh/internal/leafagent"
	"github.com/bender2333/tpmesh/internal/metrics"
	"github.com/bender2333/tpmesh/internal/statusserver"
	"github.com/bender2333/tpmesh/internal/tracelog"
	"github.com/bender2333/tpmesh/internal/version"
	"github.com/bender2333/tpmesh/internal/wire"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := config.LoadLeaf(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Infof("Starting TPMesh Leaf v%s", version.Version)
	log.Infof("  Serial: %s @ %d baud", cfg.Serial.Port, cfg.Serial.Baud)
	log.Infof("  Node mesh id: %s, top mesh id: %s", cfg.NodeMeshID, cfg.TopMeshID)

	selfMac, selfIP, err := parseNodeIdentity(cfg.NodeMac, cfg.NodeIP)
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

	collector := metrics.NewCollector(nil)

	iamAPDU, err := hex.DecodeString(cfg.IAmAPDUHex)
	if err != nil {
		log.Fatalf("Invalid iam_apdu_hex: %v", err)
	}

	agentCfg := leafagent.Config{
		Self:          cfg.NodeMeshID,
		SelfMac:       selfMac,
		SelfIP:        selfIP,
		TopMeshID:     cfg.TopMeshID,
		RegisterRetry: cfg.RegisterRetry,
		Heartbeat:     cfg.Heartbeat,
		IAmCooldown:   cfg.IAmCooldown,
		IAmSrcPort:    uint16(cfg.IAmSrcPort),
		IAmAPDU:       iamAPDU,
	}

	var tr *attransport.Transport
	var agent *leafagent.Agent

	handler := func(f attransport.Frame) {
		if tracer != nil {
			tracer.Line(tracelog.RX, f.Src.String())
		}
		frame, err := wire.ParseTunnelFrame(f.Payload)
		if err != nil {
			log.WithError(err).WithField("src", f.Src).Debug("tpmesh-leaf: dropping unparseable fragment")
			return
		}
		sent, err := agent.HandleFrame(frame)
		if err != nil {
			log.WithError(err).Warn("tpmesh-leaf: failed to answer Who-Is")
			return
		}
		if sent && collector != nil {
			collector.IAmSent.Inc()
		}
	}

	tr = attransport.New(sp, handler)
	agent = leafagent.New(agentCfg, tr)

	if cfg.Init {
		runLeafInit(tr, cfg.NodeMeshID)
	}

	if cfg.Status.Listen != "" {
		// The Leaf has no directory to expose; passing a nil registry
		// disables /api/registry while keeping /api/version and /metrics.
		srv := statusserver.New(cfg.Status.Listen, nil)
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

	agent.Run(ctx, tr, 500*time.Millisecond)
}

func parseNodeIdentity(macStr, ipStr string) (mac [6]byte, ip [4]byte, err error) {
	hw, err := net.ParseMAC(macStr)
	if err != nil {
		return mac, ip, err
	}
	copy(mac[:], hw)

	v4 := net.ParseIP(ipStr).To4()
	if v4 == nil {
		return mac, ip, fmt.Errorf("invalid IPv4 address %q", ipStr)
	}
	copy(ip[:], v4)
	return mac, ip, nil
}

// runLeafInit issues the modem's module initialization sequence for a leaf
// node and lets the link settle before normal traffic begins.
func runLeafInit(tr *attransport.Transport, meshID wire.MeshID) {
	log.Info("Running Leaf init sequence")
	cmds := []string{
		"AT",
		"AT+ADDR=" + meshID.String(),
		"AT+CELL=254",
		"AT+LP=3",
	}
	for _, cmd := range cmds {
		if err := tr.SendCmdWaitOK(cmd, 2*time.Second); err != nil {
			log.Warnf("init command %q failed: %v", cmd, err)
		}
	}
	if err := tr.SendCmdWaitOK("AT+REBOOT", 2*time.Second); err != nil {
		log.Warnf("reboot command failed: %v", err)
	}
	time.Sleep(2 * time.Second)
}
