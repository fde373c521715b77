// Package store implements the fixed-size, O(1) per-(IPv4, VLAN) counter
// table that sits on the hot path of the capture loop. A Store never
// allocates after New, except for the lazily-created overflow region of
// a slot that genuinely collides past its inline capacity - that path is
// exceptional, not steady state.
package store

import (
	"encoding/binary"
	"net/netip"
	"unsafe"

	"github.com/c2h5oh/datasize"
	"go.uber.org/zap"

	"github.com/netprobe/ipcounterd/common/go/bitset"
)

// DefaultHashBits is H, the number of low-order address bits used to select
// a primary slot. 2^18 = 262,144 slots, each BucketWidth cells wide, puts
// the primary table at about 70 MiB per store (7 cells of 40 bytes per
// slot) while making collisions inside a /24-dense network rare.
const DefaultHashBits = 18

// DefaultBucketWidth is B, the number of inline cells per primary slot.
const DefaultBucketWidth = 7

// Key identifies one counted flow within a slot: the IPv4 address's
// high-order bits above whatever selected the slot (IPHigh), plus the VLAN
// tag. The bits that selected the slot are never stored - they're implicit
// in which slot the cell lives in.
type Key struct {
	IPHigh uint32
	VLAN   uint16
}

// Cell holds the accumulated counters for one key plus the bookkeeping
// needed to tell an empty cell from a used one.
type Cell struct {
	key   Key
	inUse bool

	PacketsIn  uint32
	PacketsOut uint32
	BytesIn    uint64
	BytesOut   uint64
}

// InUse reports whether this cell currently holds a counted key.
func (c *Cell) InUse() bool { return c.inUse }

// Store is one half of the active/retired pair. It is safe for exactly one
// writer (the capture loop's Add calls) and, once no longer active, exactly
// one reader (Enumerate) at a time - never both concurrently on the same
// instance, so no internal locking is needed.
type Store struct {
	hashBits    uint
	bucketWidth int
	numSlots    uint32
	mask        uint32
	ipHighBits  uint

	primary  []Cell
	overflow map[uint32][]Cell
	warned   *bitset.Bitset

	log *zap.SugaredLogger
}

// New allocates a Store with 2^hashBits primary slots of bucketWidth inline
// cells each. hashBits and bucketWidth come straight from the daemon's
// configuration (hash_bits, bucket_width), defaulting to DefaultHashBits and
// DefaultBucketWidth.
func New(hashBits uint, bucketWidth int, log *zap.SugaredLogger) *Store {
	numSlots := uint32(1) << hashBits
	s := &Store{
		hashBits:    hashBits,
		bucketWidth: bucketWidth,
		numSlots:    numSlots,
		mask:        numSlots - 1,
		ipHighBits:  32 - hashBits,
		primary:     make([]Cell, uint64(numSlots)*uint64(bucketWidth)),
		overflow:    make(map[uint32][]Cell),
		warned:      bitset.New(int(numSlots)),
		log:         log,
	}

	footprint := datasize.ByteSize(uint64(len(s.primary)) * uint64(unsafe.Sizeof(Cell{}))).HumanReadable()
	if log != nil {
		log.Infow("allocated counter store",
			"hash_bits", hashBits,
			"bucket_width", bucketWidth,
			"slots", numSlots,
			"primary_table_size", footprint,
		)
	}

	return s
}

// slot returns the inline cells belonging to slotIdx.
func (s *Store) slot(slotIdx uint32) []Cell {
	start := uint64(slotIdx) * uint64(s.bucketWidth)
	return s.primary[start : start+uint64(s.bucketWidth)]
}

func ipv4Uint32(addr netip.Addr) uint32 {
	v4 := addr.As4()
	return binary.BigEndian.Uint32(v4[:])
}

func uint32IPv4(v uint32) netip.Addr {
	var v4 [4]byte
	binary.BigEndian.PutUint32(v4[:], v)
	return netip.AddrFrom4(v4)
}

// Add accumulates one frame's counters against both endpoints: src as an
// outbound packet/byte count, dst as an inbound one, mirroring spec's
// "every frame updates exactly two key's worth of counters" rule.
func (s *Store) Add(src, dst netip.Addr, vlan uint16, frameLen uint32) {
	s.addOne(src, vlan, frameLen, false)
	s.addOne(dst, vlan, frameLen, true)
}

func (s *Store) addOne(addr netip.Addr, vlan uint16, frameLen uint32, inbound bool) {
	ipv4 := ipv4Uint32(addr)
	slotIdx := ipv4 & s.mask
	key := Key{IPHigh: ipv4 >> s.hashBits, VLAN: vlan}

	cells := s.slot(slotIdx)

	var free *Cell
	for i := range cells {
		c := &cells[i]
		if !c.inUse {
			if free == nil {
				free = c
			}
			continue
		}
		if c.key == key {
			accumulate(c, frameLen, inbound)
			return
		}
	}

	if free != nil {
		free.inUse = true
		free.key = key
		accumulate(free, frameLen, inbound)
		return
	}

	s.addOverflow(slotIdx, key, frameLen, inbound)
}

// addOverflow handles a slot whose B inline cells are all occupied by other
// keys. The overflow region for a slot is sized to 2^(32-H) cells, one per
// possible ip_high value, so it is direct-indexed by ip_high rather than
// linearly scanned: every ip_high is guaranteed a home. The only way to
// still collide is two different VLANs sharing the same ip_high in the same
// slot after the region is in use - rare enough that spec accepts dropping
// the count with a once-per-slot warning instead of reserving more memory.
func (s *Store) addOverflow(slotIdx uint32, key Key, frameLen uint32, inbound bool) {
	region, ok := s.overflow[slotIdx]
	if !ok {
		region = make([]Cell, uint64(1)<<s.ipHighBits)
		s.overflow[slotIdx] = region
	}

	c := &region[key.IPHigh]
	if !c.inUse {
		c.inUse = true
		c.key = key
		accumulate(c, frameLen, inbound)
		return
	}

	if c.key.VLAN == key.VLAN {
		accumulate(c, frameLen, inbound)
		return
	}

	if !s.warned.IsSet(slotIdx) {
		s.warned.Set(slotIdx)
		if s.log != nil {
			s.log.Warnw("dropping counter update: overflow slot already holds a different VLAN for this address",
				"slot", slotIdx,
				"ip_high", key.IPHigh,
				"vlan", key.VLAN,
			)
		}
	}
}

func accumulate(c *Cell, frameLen uint32, inbound bool) {
	if inbound {
		c.PacketsIn++
		c.BytesIn += uint64(frameLen)
	} else {
		c.PacketsOut++
		c.BytesOut += uint64(frameLen)
	}
}

// Enumerate calls visit once for every populated cell, in no particular
// order. It must only be called on a store that is no longer active (i.e.
// after the pair has been swapped and the settle delay has elapsed).
func (s *Store) Enumerate(visit func(addr netip.Addr, vlan uint16, c Cell)) {
	for slotIdx := uint32(0); slotIdx < s.numSlots; slotIdx++ {
		for _, c := range s.slot(slotIdx) {
			if !c.inUse {
				continue
			}
			ipv4 := slotIdx | (c.key.IPHigh << s.hashBits)
			visit(uint32IPv4(ipv4), c.key.VLAN, c)
		}

		if region, ok := s.overflow[slotIdx]; ok {
			for _, c := range region {
				if !c.inUse {
					continue
				}
				ipv4 := slotIdx | (c.key.IPHigh << s.hashBits)
				visit(uint32IPv4(ipv4), c.key.VLAN, c)
			}
		}
	}
}

// Reset clears every counter and key so the store can be reused for the
// next interval without reallocating the primary table.
func (s *Store) Reset() {
	clear(s.primary)
	s.overflow = make(map[uint32][]Cell)
	s.warned.Clear()
}

// Free drops the overflow side table's backing memory. The primary table is
// left intact: Store instances live for the lifetime of the process as one
// half of a Pair, and Free only exists for tests and clean shutdown paths
// that want to release the exceptional overflow memory early.
func (s *Store) Free() {
	s.overflow = nil
}
