// Package config loads YAML configuration for the Top and Leaf roles,
// following the teacher's config/config.go defaults-struct-then-unmarshal
// pattern.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bender2333/tpmesh/internal/wire"
)

// SerialConfig is shared by both roles.
type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// TraceConfig enables raw AT-line tracing.
type TraceConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// StatusConfig enables the optional read-only HTTP status/metrics server.
type StatusConfig struct {
	Listen string `yaml:"listen"` // empty disables the server
}

// TopConfig is the Top node's full configuration.
type TopConfig struct {
	Serial SerialConfig `yaml:"serial"`

	MeshID wire.MeshID `yaml:"mesh_id"`
	Mac    string      `yaml:"mac"`
	IP     string      `yaml:"ip"`

	Init bool `yaml:"init"` // run the AT+ADDR/AT+CELL=0/AT+LP init sequence at startup

	BMSBindIP   string `yaml:"bms_bind_ip"`
	BMSBindPort int    `yaml:"bms_bind_port"`

	UDPBridge        bool        `yaml:"udp_bridge"`
	UDPAllowSrc      []string    `yaml:"udp_allow_src"`
	UDPToMeshDstIP   string      `yaml:"udp_to_mesh_dst_ip"`
	UDPToMeshDstPort int         `yaml:"udp_to_mesh_dst_port"`
	MeshBroadcastID  wire.MeshID `yaml:"mesh_broadcast_id"`

	RegistrySnapshotPath string `yaml:"registry_snapshot_path"`

	Trace  TraceConfig  `yaml:"trace"`
	Status StatusConfig `yaml:"status"`
}

// LeafConfig is the Leaf node's full configuration.
type LeafConfig struct {
	Serial SerialConfig `yaml:"serial"`

	NodeMeshID wire.MeshID `yaml:"node_mesh_id"`
	TopMeshID  wire.MeshID `yaml:"top_mesh_id"`
	NodeMac    string      `yaml:"node_mac"`
	NodeIP     string      `yaml:"node_ip"`

	Init bool `yaml:"init"` // run the AT+ADDR/AT+CELL=254/AT+LP/AT+REBOOT init sequence at startup

	RegisterRetry time.Duration `yaml:"register_retry"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
	IAmCooldown   time.Duration `yaml:"iam_cooldown"`
	IAmSrcPort    int           `yaml:"iam_src_port"`
	IAmAPDUHex    string        `yaml:"iam_apdu_hex"`

	Trace  TraceConfig  `yaml:"trace"`
	Status StatusConfig `yaml:"status"`
}

// LoadTop reads and defaults a TopConfig from path.
func LoadTop(path string) (*TopConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &TopConfig{
		Serial:          SerialConfig{Port: "/dev/ttyUSB0", Baud: 115200},
		MeshID:          0xFFFE,
		Init:            true,
		BMSBindIP:       "0.0.0.0",
		BMSBindPort:     47808,
		UDPBridge:       true,
		MeshBroadcastID: 0x0000,
		Trace:           TraceConfig{RetentionDays: 7},
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadLeaf reads and defaults a LeafConfig from path.
func LoadLeaf(path string) (*LeafConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &LeafConfig{
		Serial:        SerialConfig{Port: "/dev/ttyUSB0", Baud: 115200},
		TopMeshID:     0xFFFE,
		Init:          true,
		RegisterRetry: 0,
		Heartbeat:     30 * time.Second,
		IAmCooldown:   200 * time.Millisecond,
		IAmSrcPort:    47808,
		IAmAPDUHex:    "810B000C0120FFFF00FF1000C4020200112205C49103217F",
		Trace:         TraceConfig{RetentionDays: 7},
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
