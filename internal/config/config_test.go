package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bender2333/tpmesh/internal/config"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadTopAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, "mac: \"00:11:22:33:44:55\"\nip: \"192.168.10.1\"\n")
	cfg, err := config.LoadTop(path)
	if err != nil {
		t.Fatalf("LoadTop: %v", err)
	}
	if cfg.Serial.Baud != 115200 {
		t.Errorf("Serial.Baud = %d, want default 115200", cfg.Serial.Baud)
	}
	if cfg.BMSBindPort != 47808 {
		t.Errorf("BMSBindPort = %d, want default 47808", cfg.BMSBindPort)
	}
	if cfg.Mac != "00:11:22:33:44:55" {
		t.Errorf("Mac = %q, want the configured value", cfg.Mac)
	}
}

func TestLoadTopOverridesDefaults(t *testing.T) {
	path := writeTempConfig(t, "bms_bind_port: 48000\nudp_bridge: false\n")
	cfg, err := config.LoadTop(path)
	if err != nil {
		t.Fatalf("LoadTop: %v", err)
	}
	if cfg.BMSBindPort != 48000 {
		t.Errorf("BMSBindPort = %d, want 48000", cfg.BMSBindPort)
	}
	if cfg.UDPBridge {
		t.Error("UDPBridge should be false when explicitly disabled")
	}
}

func TestLoadLeafAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, "node_mesh_id: 3\nnode_mac: \"00:6B:A0:00:00:10\"\n")
	cfg, err := config.LoadLeaf(path)
	if err != nil {
		t.Fatalf("LoadLeaf: %v", err)
	}
	if cfg.Heartbeat != 30*time.Second {
		t.Errorf("Heartbeat = %v, want default 30s", cfg.Heartbeat)
	}
	if cfg.IAmCooldown != 200*time.Millisecond {
		t.Errorf("IAmCooldown = %v, want default 200ms", cfg.IAmCooldown)
	}
	if cfg.IAmAPDUHex == "" {
		t.Error("IAmAPDUHex should have a non-empty default")
	}
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	if _, err := config.LoadTop(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
