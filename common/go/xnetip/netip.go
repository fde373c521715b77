// Package xnetip provides IPv4 prefix-to-range arithmetic used by the sink's
// IP range filter. Trimmed to the IPv4 path only: this repository never
// handles IPv6 (spec Non-goal), so the IPv6 branches the teacher's version
// of this file carried have been removed rather than kept unexercised.
package xnetip

import (
	"encoding/binary"
	"net/netip"
)

// LastAddr returns the broadcast (highest) address of an IPv4 prefix, e.g.
// 10.0.0.0/24 -> 10.0.0.255.
func LastAddr(prefix netip.Prefix) netip.Addr {
	ip := prefix.Addr()
	bits := prefix.Bits()

	v4 := ip.As4()
	addrBits := binary.BigEndian.Uint32(v4[:])
	wildcardBits := uint32(1<<(32-bits) - 1)
	broadcastBits := addrBits | wildcardBits

	binary.BigEndian.PutUint32(v4[:], broadcastBits)
	return netip.AddrFrom4(v4)
}
