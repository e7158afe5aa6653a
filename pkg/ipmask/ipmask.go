package ipmask

import (
	"crypto/sha3"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"math/big"
	"net/netip"
)

// Sentinel outputs for addresses that cannot be processed.
const (
	InvalidIP  = "invalid_ip"
	IPv6String = "ipv6"
)

// DefaultModulo is the microcell bucket size.
const DefaultModulo = 5

// Microcell rounds an address into its microcell: the address bytes are
// read as a little-endian integer, rounded down to the next multiple of
// modulo, and converted back at the original width. Nearby addresses
// collapse into one bucket, which makes the derived hash intentionally
// collision-prone. Returns false for anything that is not a valid IP.
func Microcell(ip string, modulo int64) (string, bool) {
	if modulo <= 0 {
		return "", false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "", false
	}

	var raw []byte
	if addr.Is4() {
		v4 := addr.As4()
		raw = v4[:]
	} else {
		v6 := addr.As16()
		raw = v6[:]
	}

	n := new(big.Int).SetBytes(reverse(raw))
	n.Sub(n, new(big.Int).Mod(n, big.NewInt(modulo)))

	le := make([]byte, len(raw))
	n.FillBytes(le)

	celled, ok := netip.AddrFromSlice(reverse(le))
	if !ok {
		return "", false
	}
	return celled.String(), true
}

// reverse returns a reversed copy, flipping between big- and
// little-endian byte order.
func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// CollisionHash produces the deliberately lossy IP form: CRC-32 of the
// microcelled address, hex encoded. Invalid input yields InvalidIP.
func CollisionHash(ip string) string {
	celled, ok := Microcell(ip, DefaultModulo)
	if !ok {
		return InvalidIP
	}
	return fmt.Sprintf("%x", crc32.ChecksumIEEE([]byte(celled)))
}

// PepperedHash produces the high-entropy IP form: SHA3-256 over the
// secret token followed by the address, hex encoded. Without the token
// the hash cannot be brute-forced from the small IPv4 space.
func PepperedHash(ip string, token []byte) string {
	sum := sha3.Sum256(append(append([]byte{}, token...), ip...))
	return hex.EncodeToString(sum[:])
}

// GeoForm reduces an IPv4 address to network granularity by zeroing the
// last octet. IPv6 addresses (including 4-in-6 forms) map to IPv6String
// and garbage to InvalidIP.
func GeoForm(ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return InvalidIP
	}
	if !addr.Is4() {
		return IPv6String
	}
	v4 := addr.As4()
	v4[3] = 0
	return netip.AddrFrom4(v4).String()
}

// Obfuscate applies all three forms to one client address.
func Obfuscate(ip string, token []byte) (collision, peppered, geo string) {
	return CollisionHash(ip), PepperedHash(ip, token), GeoForm(ip)
}
