package wire_test

import (
	"testing"

	"github.com/bender2333/tpmesh/internal/wire"
)

func TestCRC16ModbusKnownVector(t *testing.T) {
	// "123456789" is the standard CRC catalog check vector for this
	// polynomial/init combination.
	got := wire.CRC16Modbus([]byte("123456789"))
	const want = 0x4B37
	if got != want {
		t.Errorf("CRC16Modbus(%q) = 0x%04X, want 0x%04X", "123456789", got, want)
	}
}

func TestCRC16ModbusMutationFlipsChecksum(t *testing.T) {
	base := []byte{0x01, 0x00, 0x6B, 0xA0, 0x00, 0x00, 0x10, 0xC0, 0xA8, 0x0A, 0x0B, 0x03, 0x00}
	orig := wire.CRC16Modbus(base)

	for i := range base {
		mutated := append([]byte(nil), base...)
		mutated[i] ^= 0xFF
		if got := wire.CRC16Modbus(mutated); got == orig {
			t.Errorf("mutating byte %d did not change CRC (still 0x%04X)", i, got)
		}
	}
}
