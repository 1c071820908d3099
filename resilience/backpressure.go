package resilience

import (
	"context"
	"sync/atomic"

	"github.com/leofalp/aigo/protocol"
)

// BackpressureConfig bounds how many operations an Executor will run
// concurrently. A zero MaxConcurrent disables the limit.
type BackpressureConfig struct {
	MaxConcurrent int
}

// DefaultBackpressureConfig defaults to 10 concurrent operations.
func DefaultBackpressureConfig() BackpressureConfig {
	return BackpressureConfig{MaxConcurrent: 10}
}

// Backpressure is a bounded-concurrency gate. It is the outermost stage of
// the resilience composition: nothing below it (rate limiting, circuit
// breaking, retry) runs until a slot is acquired.
type Backpressure struct {
	slots         chan struct{}
	maxConcurrent int
	inflight      atomic.Int64
	peakInflight  atomic.Int64
	rejected      atomic.Int64
	admitted      atomic.Int64
}

// NewBackpressure constructs a Backpressure gate. MaxConcurrent <= 0 means
// unlimited concurrency (Acquire never blocks and Release is a no-op).
func NewBackpressure(cfg BackpressureConfig) *Backpressure {
	b := &Backpressure{maxConcurrent: cfg.MaxConcurrent}
	if cfg.MaxConcurrent > 0 {
		b.slots = make(chan struct{}, cfg.MaxConcurrent)
	}
	return b
}

// MaxConcurrent returns the configured concurrency ceiling, or 0 if unbounded.
func (b *Backpressure) MaxConcurrent() int { return b.maxConcurrent }

// release is returned by Acquire; callers must call it exactly once to
// free the slot, typically via defer.
type release func()

// Acquire blocks until a concurrency slot is available or ctx is
// cancelled. The returned release must be called when the operation
// completes.
func (b *Backpressure) Acquire(ctx context.Context) (release, error) {
	if b.slots == nil {
		b.admitted.Add(1)
		b.bumpInflight(1)
		return func() { b.bumpInflight(-1) }, nil
	}

	select {
	case b.slots <- struct{}{}:
		b.admitted.Add(1)
		b.bumpInflight(1)
		return func() {
			b.bumpInflight(-1)
			<-b.slots
		}, nil
	case <-ctx.Done():
		b.rejected.Add(1)
		return nil, protocol.Wrap(protocol.KindTransportTimeout, "backpressure: context cancelled waiting for a concurrency slot", ctx.Err())
	}
}

// bumpInflight adjusts the in-flight counter by delta and advances the
// high-water mark, retrying the CAS if another goroutine raced it.
func (b *Backpressure) bumpInflight(delta int64) {
	n := b.inflight.Add(delta)
	if n <= 0 {
		return
	}
	for {
		peak := b.peakInflight.Load()
		if n <= peak {
			return
		}
		if b.peakInflight.CompareAndSwap(peak, n) {
			return
		}
	}
}

// CurrentInflight returns the number of operations currently holding a slot.
func (b *Backpressure) CurrentInflight() int { return int(b.inflight.Load()) }

// PeakInflight returns the highest CurrentInflight has been since
// construction or the last Stats-observing reset (there is none; the peak
// only grows for the lifetime of the gate).
func (b *Backpressure) PeakInflight() int { return int(b.peakInflight.Load()) }

// Stats summarizes the gate's lifetime counters.
type BackpressureStats struct {
	Inflight     int64
	PeakInflight int64
	Admitted     int64
	Rejected     int64
}

// Stats returns a snapshot of the gate's counters.
func (b *Backpressure) Stats() BackpressureStats {
	return BackpressureStats{
		Inflight:     b.inflight.Load(),
		PeakInflight: b.peakInflight.Load(),
		Admitted:     b.admitted.Load(),
		Rejected:     b.rejected.Load(),
	}
}
