// Package bitset provides a flat, slice-backed bitmap sized at construction
// time.
package bitset

import "fmt"

// Bitset is a variable-length bitset. The counter store uses one bit per
// primary slot (2^H, 262144 by default) to track which slots have already
// logged an overflow-capacity warning this interval.
type Bitset struct {
	words []uint64
}

// New constructs a Bitset able to hold at least nbits bits, all clear.
func New(nbits int) *Bitset {
	if nbits < 0 {
		nbits = 0
	}
	return &Bitset{words: make([]uint64, (nbits+63)/64)}
}

// Set sets the bit at idx.
func (m *Bitset) Set(idx uint32) {
	word := int(idx / 64)
	if word >= len(m.words) {
		panic(fmt.Sprintf("index %d is out of range for a bitset of %d bits", idx, 64*len(m.words)))
	}
	m.words[word] |= 1 << (idx % 64)
}

// IsSet reports whether the bit at idx is set.
func (m *Bitset) IsSet(idx uint32) bool {
	word := int(idx / 64)
	if word >= len(m.words) {
		return false
	}
	return m.words[word]&(1<<(idx%64)) != 0
}

// Clear clears every bit, leaving the bitset's capacity unchanged.
func (m *Bitset) Clear() {
	for i := range m.words {
		m.words[i] = 0
	}
}
