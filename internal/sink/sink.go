// Package sink adapts a retired counter store's contents to durable
// storage: the reference ConsoleSink for local inspection, and MySQLSink
// for the relational schema spec.md's reference sink targets.
package sink

import (
	"context"
	"net/netip"
	"time"

	"github.com/netprobe/ipcounterd/internal/store"
)

// Enumerable is the read side of store.Store that a Sink needs: enough to
// walk every populated cell without depending on the concrete store package
// beyond this one method.
type Enumerable interface {
	Enumerate(visit func(addr netip.Addr, vlan uint16, c store.Cell))
}

// Sink persists one interval's worth of counters.
type Sink interface {
	// Write is called once per completed interval with the retired
	// store, after the settle delay has elapsed and before Reset. It
	// must not retain snap beyond the call: Reset will reuse it.
	Write(ctx context.Context, sampleBegin time.Time, interval time.Duration, snap Enumerable) error
	Close() error
}
