package sink

import (
	"context"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/netprobe/ipcounterd/internal/store"
)

// ConsoleSink logs one line per non-zero counter, useful for local testing
// and as the default when no storage_* keys are configured.
type ConsoleSink struct {
	log       *zap.SugaredLogger
	storeZero bool
	filter    *RangeFilter
	nodeID    int
}

// NewConsoleSink builds a ConsoleSink. storeZero controls whether cells
// with zero packets in both directions are logged (skipped when false).
func NewConsoleSink(log *zap.SugaredLogger, storeZero bool, filter *RangeFilter) *ConsoleSink {
	return &ConsoleSink{log: log, storeZero: storeZero, filter: filter}
}

// Write logs every (address, vlan) pair's counters for the completed
// interval.
func (c *ConsoleSink) Write(ctx context.Context, sampleBegin time.Time, interval time.Duration, snap Enumerable) error {
	snap.Enumerate(func(addr netip.Addr, vlan uint16, cell store.Cell) {
		if !c.storeZero && cell.PacketsIn == 0 && cell.PacketsOut == 0 {
			return
		}
		if c.filter != nil && !c.filter.Allowed(addr, c.nodeID) {
			return
		}

		rates := ComputeRates(cell, interval)
		c.log.Infow("interval sample",
			"unixtime", sampleBegin.Unix(),
			"interval", interval,
			"ip", addr,
			"vlan_id", vlan,
			"in_pps", rates.InPPS,
			"in_bps", rates.InBPS,
			"out_pps", rates.OutPPS,
			"out_bps", rates.OutBPS,
		)
	})
	return nil
}

// Close is a no-op: ConsoleSink owns no resources.
func (c *ConsoleSink) Close() error { return nil }
