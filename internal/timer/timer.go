// Package timer aligns interval boundaries to the wall clock and drives the
// swap-settle-flush-reset sequence that hands a retired store's contents to
// a sink.
package timer

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/netprobe/ipcounterd/internal/diag"
	"github.com/netprobe/ipcounterd/internal/sink"
	"github.com/netprobe/ipcounterd/internal/store"
)

// Config controls the timer's cadence.
type Config struct {
	// Interval is the sample width, e.g. 5 minutes.
	Interval time.Duration
	// SettleDelay is how long to wait after swapping before treating the
	// newly-retired store as safe to read: any Add in flight against it
	// at the instant of the swap must have returned by then.
	SettleDelay time.Duration
}

// Timer drives one pair of stores through repeated intervals.
type Timer struct {
	pair *store.Pair
	sink sink.Sink
	cfg  Config
	log  *zap.SugaredLogger

	seenFirstBoundary bool
}

// New builds a Timer over pair, flushing each retired store to sk.
func New(pair *store.Pair, sk sink.Sink, cfg Config, log *zap.SugaredLogger) *Timer {
	return &Timer{pair: pair, sink: sk, cfg: cfg, log: log}
}

// Run blocks until ctx is canceled, firing on every interval boundary and
// on every value received from rotate (a forced, out-of-band rotation
// triggered by SIGUSR1; see spec §6). It returns ctx's error on
// cancellation.
func (t *Timer) Run(ctx context.Context, rotate <-chan os.Signal) error {
	for {
		wait := untilNextBoundary(time.Now(), t.cfg.Interval)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			t.fire(ctx, time.Now())
		case <-rotate:
			if t.log != nil {
				t.log.Warnw("forced rotation via SIGUSR1; sample alignment to wall-clock boundaries is now desynchronized")
			}
			t.fire(ctx, time.Now())
		}
	}
}

// untilNextBoundary computes how long to sleep until the next multiple of
// interval since the Unix epoch, mirroring the reference formula:
// useconds_until_next_boundary = 1e6*(INTERVAL - now.seconds % INTERVAL) - now.microseconds.
func untilNextBoundary(now time.Time, interval time.Duration) time.Duration {
	intervalSec := int64(interval / time.Second)
	if intervalSec <= 0 {
		intervalSec = 1
	}

	sec := now.Unix()
	micros := int64(now.Nanosecond()) / 1000

	remSec := intervalSec - (sec % intervalSec)
	untilMicros := remSec*1_000_000 - micros

	return time.Duration(untilMicros) * time.Microsecond
}

// fire performs one swap-settle-flush-reset cycle. The very first boundary
// this process observes is skipped for the sink call (the sample would
// only cover a partial interval) but still swaps and resets, per spec §4.3.
func (t *Timer) fire(ctx context.Context, firedAt time.Time) {
	intervalSec := int64(t.cfg.Interval / time.Second)
	if intervalSec <= 0 {
		intervalSec = 1
	}
	sampleBeginSec := (firedAt.Unix() / intervalSec) * intervalSec
	sampleBegin := time.Unix(sampleBeginSec, 0).UTC()

	retiring := t.pair.Active()
	t.pair.Swap()

	select {
	case <-time.After(t.cfg.SettleDelay):
	case <-ctx.Done():
		return
	}

	totals := diag.Snapshot(retiring)

	if !t.seenFirstBoundary {
		t.seenFirstBoundary = true
		retiring.Reset()
		if t.log != nil {
			t.log.Infow("skipping sink flush for partial first interval",
				"sample_begin", sampleBegin, "distinct_keys", totals.DistinctKeys)
		}
		return
	}

	if t.log != nil {
		t.log.Debugw("interval totals",
			"sample_begin", sampleBegin,
			"distinct_keys", totals.DistinctKeys,
			"packets_in", totals.PacketsIn,
			"packets_out", totals.PacketsOut,
			"bytes_in", totals.BytesIn,
			"bytes_out", totals.BytesOut,
		)
	}

	if err := t.sink.Write(ctx, sampleBegin, t.cfg.Interval, retiring); err != nil {
		if t.log != nil {
			t.log.Errorw("sink flush failed; sample dropped, will retry next interval", "error", err, "sample_begin", sampleBegin)
		}
	}

	retiring.Reset()
}
