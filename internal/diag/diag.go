// Package diag exposes read-only totals of a counter store for operators,
// without a network-facing RPC surface: a single in-process snapshot
// function that the interval timer calls on the retired store between swap
// and reset, never serialized over the wire.
package diag

import (
	"net/netip"

	"github.com/netprobe/ipcounterd/internal/store"
)

// Totals summarizes one store's contents without walking every cell twice.
type Totals struct {
	DistinctKeys int
	PacketsIn    uint64
	PacketsOut   uint64
	BytesIn      uint64
	BytesOut     uint64
}

// Enumerable is the read side of store.Store that Snapshot needs.
type Enumerable interface {
	Enumerate(visit func(addr netip.Addr, vlan uint16, c store.Cell))
}

// Snapshot reads totals out of snap. Calling it on the active store is safe
// but racy with respect to in-flight Add calls - callers wanting a
// consistent picture should pass the retired store, between a swap and its
// Reset.
func Snapshot(snap Enumerable) Totals {
	var t Totals
	snap.Enumerate(func(addr netip.Addr, vlan uint16, c store.Cell) {
		t.DistinctKeys++
		t.PacketsIn += uint64(c.PacketsIn)
		t.PacketsOut += uint64(c.PacketsOut)
		t.BytesIn += c.BytesIn
		t.BytesOut += c.BytesOut
	})
	return t
}
