package registry_test

import (
	"path/filepath"
	"testing"

	"github.com/bender2333/tpmesh/internal/registry"
	"github.com/bender2333/tpmesh/internal/wire"
)

func TestUpsertKeepsBothIndicesConsistent(t *testing.T) {
	r := registry.New()
	ip, _ := wire.ParseIPv4("192.168.10.11")
	n := registry.Node{MeshID: 3, Mac: [6]byte{1, 2, 3, 4, 5, 6}, IP: ip}
	r.Upsert(n)

	byMesh, ok := r.ByMesh(3)
	if !ok || byMesh != n {
		t.Fatalf("ByMesh(3) = %+v, %v, want %+v, true", byMesh, ok, n)
	}
	byIP, ok := r.ByIP(ip)
	if !ok || byIP != n {
		t.Fatalf("ByIP(%v) = %+v, %v, want %+v, true", ip, byIP, ok, n)
	}
}

func TestUpsertMovingIPDropsStaleIndexEntry(t *testing.T) {
	r := registry.New()
	ip1, _ := wire.ParseIPv4("192.168.10.11")
	ip2, _ := wire.ParseIPv4("192.168.10.12")

	r.Upsert(registry.Node{MeshID: 3, IP: ip1})
	r.Upsert(registry.Node{MeshID: 3, IP: ip2})

	if _, ok := r.ByIP(ip1); ok {
		t.Error("stale IP entry should have been removed after re-registration under a new IP")
	}
	if n, ok := r.ByIP(ip2); !ok || n.MeshID != 3 {
		t.Errorf("ByIP(ip2) = %+v, %v, want mesh id 3, true", n, ok)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	r := registry.New()
	ip, _ := wire.ParseIPv4("10.0.0.5")
	r.Upsert(registry.Node{MeshID: 7, Mac: [6]byte{9, 8, 7, 6, 5, 4}, IP: ip})

	path := filepath.Join(t.TempDir(), "registry.json")
	if err := r.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	r2 := registry.New()
	if err := r2.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	n, ok := r2.ByMesh(7)
	if !ok || n.IP != ip {
		t.Errorf("after round trip, ByMesh(7) = %+v, %v", n, ok)
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	r := registry.New()
	if err := r.Load(filepath.Join(t.TempDir(), "missing.json")); err != nil {
		t.Fatalf("Load on missing file: %v", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}
