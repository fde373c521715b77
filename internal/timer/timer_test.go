package timer

import (
	"context"
	"net/netip"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netprobe/ipcounterd/common/go/logging"
	"github.com/netprobe/ipcounterd/internal/sink"
	"github.com/netprobe/ipcounterd/internal/store"
)

type recordingSink struct {
	writes []int
}

func (r *recordingSink) Write(ctx context.Context, sampleBegin time.Time, interval time.Duration, snap sink.Enumerable) error {
	count := 0
	snap.Enumerate(func(addr netip.Addr, vlan uint16, c store.Cell) { count++ })
	r.writes = append(r.writes, count)
	return nil
}

func (r *recordingSink) Close() error { return nil }

func TestUntilNextBoundary_AlignsToIntervalMultiple(t *testing.T) {
	interval := 5 * time.Second
	now := time.Unix(1000, 500_000_000) // 1000s, 0.5s into the second

	wait := untilNextBoundary(now, interval)

	nextBoundary := now.Add(wait)
	assert.Zero(t, nextBoundary.Unix()%5)
	assert.Less(t, wait, interval)
	assert.Greater(t, wait, time.Duration(0))
}

func TestFire_FirstTickSkipsSinkButStillSwapsAndResets(t *testing.T) {
	pair := store.NewPair(10, store.DefaultBucketWidth, logging.Nop())
	absorbed := pair.Active()
	absorbed.Add(netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("10.0.0.2"), 0, 10)

	rec := &recordingSink{}
	tm := New(pair, rec, Config{Interval: time.Second, SettleDelay: 0}, logging.Nop())

	tm.fire(context.Background(), time.Now())

	assert.Empty(t, rec.writes, "first tick must not call the sink")
	assert.NotSame(t, absorbed, pair.Active(), "first tick must still swap the active store")

	count := 0
	absorbed.Enumerate(func(a netip.Addr, vlan uint16, c store.Cell) { count++ })
	assert.Zero(t, count, "the store that absorbed the pre-tick add must be reset by the first tick")
}

func TestFire_SecondTickFlushesAndResets(t *testing.T) {
	pair := store.NewPair(10, store.DefaultBucketWidth, logging.Nop())
	rec := &recordingSink{}
	tm := New(pair, rec, Config{Interval: time.Second, SettleDelay: 0}, logging.Nop())

	// First tick: skipped, but swaps.
	tm.fire(context.Background(), time.Now())

	pair.Active().Add(netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("10.0.0.2"), 0, 10)

	// Second tick: must flush what was just added.
	tm.fire(context.Background(), time.Now())

	require.Len(t, rec.writes, 1)
	assert.Equal(t, 2, rec.writes[0])
}

func TestRun_RespectsContextCancellation(t *testing.T) {
	pair := store.NewPair(10, store.DefaultBucketWidth, logging.Nop())
	rec := &recordingSink{}
	tm := New(pair, rec, Config{Interval: time.Hour, SettleDelay: 0}, logging.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	rotate := make(chan os.Signal)
	err := tm.Run(ctx, rotate)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
