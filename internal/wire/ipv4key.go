package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// IPv4Key is the 4-byte IP encoding used inside RegisterFrame. The original
// firmware's encode/decode pair (ipv4_text_to_lwip_u32/lwip_u32_to_ipv4_text)
// round-trips through a little-endian integer on both ends, which is
// mathematically an identity transform: the wire bytes are simply the
// dotted-quad octets in their natural left-to-right order. IPv4Key keeps
// that identity mapping explicit rather than reinterpreting the bytes as a
// big-endian network-order integer anywhere, and is treated purely as an
// opaque 4-byte registry key, with String/ParseIPv4 provided only for
// human-readable display and config matching.
//
// This is an inherited quirk of the firmware's own encode/decode pair, not a
// bug: a gateway revision that wanted a "real" big-endian wire format would
// need a new protocol revision, not a fix here.
type IPv4Key [4]byte

// ParseIPv4 parses a dotted-quad string into the firmware's wire encoding —
// the octets in order, unchanged.
func ParseIPv4(s string) (IPv4Key, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return IPv4Key{}, fmt.Errorf("wire: invalid IPv4 address %q", s)
	}
	var k IPv4Key
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return IPv4Key{}, fmt.Errorf("wire: invalid IPv4 address %q: %w", s, err)
		}
		k[i] = byte(v)
	}
	return k, nil
}

// String renders the dotted-quad form, inverting ParseIPv4's encoding.
func (k IPv4Key) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", k[0], k[1], k[2], k[3])
}
