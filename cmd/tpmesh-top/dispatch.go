package main

import (
	log "github.com/sirupsen/logrus"

	"github.com/bender2333/tpmesh/internal/attransport"
	"github.com/bender2333/tpmesh/internal/metrics"
	"github.com/bender2333/tpmesh/internal/reassembly"
	"github.com/bender2333/tpmesh/internal/topfsm"
	"github.com/bender2333/tpmesh/internal/tracelog"
	"github.com/bender2333/tpmesh/internal/udpbridge"
	"github.com/bender2333/tpmesh/internal/wire"
)

// dispatcher reassembles incoming fragments and routes completed tunnel
// frames to the register/heartbeat FSM or the UDP bridge depending on rule.
// It is the Top's single point of reassembly, matching the single-owner
// event loop the rest of the gateway is built around.
type dispatcher struct {
	fsm       *topfsm.FSM
	bridge    *udpbridge.Bridge
	collector *metrics.Collector
	tracer    *tracelog.Tracer

	reassembler *reassembly.Reassembler
}

func (d *dispatcher) pending() int {
	if d.reassembler == nil {
		return 0
	}
	return d.reassembler.Pending()
}

// handle routes on rule before touching the reassembler, matching the
// ground-truth handle_nnmi dispatch order: register/heartbeat control
// frames are always a single fragment and go straight to the FSM, so a
// control frame from a source with an in-flight NO_COMPRESS reassembly
// session never gets fed into that session as a bogus continuation
// fragment.
func (d *dispatcher) handle(f attransport.Frame) {
	if d.tracer != nil {
		d.tracer.Line(tracelog.RX, f.Src.String())
	}

	frag, err := wire.ParseTunnelFrame(f.Payload)
	if err != nil {
		log.WithError(err).WithField("src", f.Src).Debug("tpmesh-top: dropping unparseable fragment")
		return
	}

	switch frag.Rule() {
	case wire.RuleRegister:
		if err := d.fsm.Handle(f.Src, frag); err != nil {
			if d.collector != nil {
				d.collector.ControlFrames.WithLabelValues("rejected").Inc()
			}
			log.WithError(err).WithField("src", f.Src).Warn("tpmesh-top: control frame rejected")
			return
		}
		if d.collector != nil {
			d.collector.ControlFrames.WithLabelValues("accepted").Inc()
		}
	case wire.RuleNoCompress:
		d.handleNoCompressFragment(f.Src, frag)
	default:
		log.WithField("rule", frag.Rule()).Debug("tpmesh-top: ignoring unsupported rule")
	}
}

func (d *dispatcher) handleNoCompressFragment(src wire.MeshID, frag wire.TunnelFrame) {
	if d.reassembler == nil {
		d.reassembler = reassembly.New()
	}

	complete, done, err := d.reassembler.Feed(src, frag)
	if err != nil {
		if d.collector != nil {
			d.collector.ReassemblyDiscards.WithLabelValues("sequence_violation").Inc()
		}
		log.WithError(err).WithField("src", src).Debug("tpmesh-top: reassembly discarded")
		return
	}
	if !done {
		return
	}

	if d.bridge != nil {
		// the bridge itself records UDPBridgeDatagrams for every outcome,
		// including this forward.
		d.bridge.MeshToUDP(complete)
	}
}
