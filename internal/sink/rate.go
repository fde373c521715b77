package sink

import (
	"time"

	"github.com/netprobe/ipcounterd/internal/store"
)

// Rates holds the per-second packet and byte rates a sink actually
// persists, derived from one interval's accumulated counts.
type Rates struct {
	InPPS  uint32
	InBPS  uint64
	OutPPS uint32
	OutBPS uint64
}

// round implements spec.md §4.4's rounding rule: (n + interval/2) / interval.
func round(n, interval int64) int64 {
	if interval <= 0 {
		return n
	}
	return (n + interval/2) / interval
}

// ComputeRates converts one cell's accumulated counters into rounded
// per-second rates for an interval of the given length.
func ComputeRates(c store.Cell, interval time.Duration) Rates {
	seconds := int64(interval / time.Second)
	if seconds <= 0 {
		seconds = 1
	}

	return Rates{
		InPPS:  uint32(round(int64(c.PacketsIn), seconds)),
		InBPS:  uint64(round(int64(c.BytesIn), seconds)),
		OutPPS: uint32(round(int64(c.PacketsOut), seconds)),
		OutBPS: uint64(round(int64(c.BytesOut), seconds)),
	}
}
