// Package capture turns raw Ethernet frames into the (src, dst, vlan,
// length) tuples the counter store needs, and supervises the loop that
// reads them off a link and feeds the active store.
package capture

import (
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

// untaggedOverhead and taggedOverhead account for the Ethernet header and
// frame check sequence, which the IPv4 total length does not include (the
// FCS is also stripped by the NIC before the frame reaches userspace, so it
// is never in the captured bytes). Added to the IPv4 total length to
// approximate the on-wire frame size.
const (
	untaggedOverhead = 18 // 14-byte Ethernet header + 4-byte FCS
	taggedOverhead   = 22 // + 4-byte 802.1Q tag
)

// Classifier decodes Ethernet/802.1Q/IPv4 frames without allocating per
// packet: the layer structs are decoded in place and reused across calls,
// the same DecodingLayerParser pattern used for yncp-director's dataplane
// feedback loop.
type Classifier struct {
	parser  *gopacket.DecodingLayerParser
	eth     layers.Ethernet
	dot1q   layers.Dot1Q
	ip4     layers.IPv4
	decoded []gopacket.LayerType
}

// NewClassifier builds a reusable classifier.
func NewClassifier() *Classifier {
	c := &Classifier{
		decoded: make([]gopacket.LayerType, 0, 4),
	}
	c.parser = gopacket.NewDecodingLayerParser(
		layers.LayerTypeEthernet,
		&c.eth, &c.dot1q, &c.ip4,
	)
	c.parser.IgnoreUnsupported = true
	return c
}

// Classify decodes one frame and, if it carries an IPv4 payload (tagged or
// not), returns its endpoints, VLAN (0 if untagged) and on-wire length. ok
// is false for anything else: non-IPv4 ethertypes, and 802.1Q frames whose
// inner payload is not IPv4, and double-tagged frames (more than one Dot1Q
// layer decoded), whatever their inner payload.
func (c *Classifier) Classify(data []byte) (src, dst netip.Addr, vlan uint16, frameLen uint32, ok bool) {
	c.decoded = c.decoded[:0]
	if err := c.parser.DecodeLayers(data, &c.decoded); err != nil {
		return netip.Addr{}, netip.Addr{}, 0, 0, false
	}

	var vlanTags int
	var sawIPv4 bool
	for _, lt := range c.decoded {
		switch lt {
		case layers.LayerTypeDot1Q:
			vlanTags++
			vlan = c.dot1q.VLANIdentifier
		case layers.LayerTypeIPv4:
			sawIPv4 = true
		}
	}
	sawVLAN := vlanTags == 1

	if !sawIPv4 || vlanTags > 1 {
		return netip.Addr{}, netip.Addr{}, 0, 0, false
	}

	srcV4, ok1 := netip.AddrFromSlice(c.ip4.SrcIP.To4())
	dstV4, ok2 := netip.AddrFromSlice(c.ip4.DstIP.To4())
	if !ok1 || !ok2 {
		return netip.Addr{}, netip.Addr{}, 0, 0, false
	}

	overhead := uint32(untaggedOverhead)
	if sawVLAN {
		overhead = taggedOverhead
	}

	return srcV4, dstV4, vlan, uint32(c.ip4.Length) + overhead, true
}
