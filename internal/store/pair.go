package store

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Pair owns the two counter stores that make up the double-buffered capture
// pipeline: one active (written to by the capture loop), one retired
// (either idle, or being drained by the timer/sink). Swap is the only
// operation that crosses between the capture loop and the timer goroutine,
// and it is a single atomic pointer store so the capture loop never blocks
// on the timer.
type Pair struct {
	a, b   *Store
	active atomic.Pointer[Store]
}

// NewPair allocates both stores with identical shape.
func NewPair(hashBits uint, bucketWidth int, log *zap.SugaredLogger) *Pair {
	p := &Pair{
		a: New(hashBits, bucketWidth, log),
		b: New(hashBits, bucketWidth, log),
	}
	p.active.Store(p.a)
	return p
}

// Active returns the store the capture loop should currently write to.
func (p *Pair) Active() *Store {
	return p.active.Load()
}

// Swap atomically flips which store is active. The caller is responsible
// for the settle delay before touching the now-retired store: some adds
// issued just before the swap may still be in flight.
func (p *Pair) Swap() {
	if p.active.Load() == p.a {
		p.active.Store(p.b)
	} else {
		p.active.Store(p.a)
	}
}

// Free releases both stores' overflow memory.
func (p *Pair) Free() {
	p.a.Free()
	p.b.Free()
}
