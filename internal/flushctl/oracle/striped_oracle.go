// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package oracle provides a striped, low-contention implementation of the
// node-wide memory oracle the flush controller reads at every tick.
package oracle

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// padSize over-pads each stripe to 128 bytes to avoid false sharing between
// cores, matching typical L2/L3 cache line sizes on the hardware this would
// actually run on.
const padSize = 128 - 8

type stripe struct {
	val atomic.Int64
	_   [padSize]byte
}

// StripedOracle tracks two running totals — total memtable bytes and
// mutable-only memtable bytes — across striped per-core counters so that
// concurrent write paths reporting size deltas never contend on a single
// cache line. It implements flushctl.GlobalWriteBufferStats.
//
// Every write lands in a mutable memtable first, so RecordWrite advances
// both totals together. A memtable rotates to immutable without changing
// total bytes, so RecordRotate only moves the mutable total down. A flush
// (of either kind of memtable) only ever shrinks the total.
type StripedOracle struct {
	mutable []stripe
	total   []stripe
	mask    int

	chooser atomic.Uint64

	// hierarchical group sums, optional: reduces cross-core reads on the
	// hot read path (every planner tick) at the cost of slightly slower
	// writes. Mirrors the teacher's hGroupSum mechanism.
	hGroups       int
	hStride       int
	hMutableGroup []atomic.Int64
	hTotalGroup   []atomic.Int64

	// background cache refresher: avoids a full stripe scan on every tick
	// when ticks are more frequent than the refresh interval.
	useCache      bool
	cacheInterval time.Duration
	cachedTotal   atomic.Int64
	cachedMutable atomic.Int64

	stopCh    chan struct{}
	closeOnce sync.Once
}

// Options configures StripedOracle construction.
type Options struct {
	// Stripes sets the stripe count; 0 picks nextPow2(clamp(GOMAXPROCS, 8, 64)).
	Stripes int
	// HierarchicalGroups > 1 enables grouped sums to speed up reads.
	HierarchicalGroups int
	// UseCachedReads enables a background goroutine that refreshes a
	// cached snapshot every CacheInterval (default 1ms); MemoryUsage and
	// MutableMemoryUsage then return the cached value instead of scanning.
	UseCachedReads bool
	CacheInterval  time.Duration
}

// New returns a StripedOracle with default options (no caching, stripe
// count derived from GOMAXPROCS).
func New() *StripedOracle { return NewWithOptions(Options{}) }

// NewWithOptions returns a StripedOracle tuned per opts.
func NewWithOptions(opts Options) *StripedOracle {
	var s int
	if opts.Stripes > 0 {
		s = nextPow2(clamp(opts.Stripes, 8, 64))
	} else {
		s = nextPow2(clamp(runtime.GOMAXPROCS(0), 8, 64))
	}
	o := &StripedOracle{
		mutable: make([]stripe, s),
		total:   make([]stripe, s),
		mask:    s - 1,
	}
	if opts.HierarchicalGroups > 1 {
		h := opts.HierarchicalGroups
		if h > s {
			h = s
		}
		o.hGroups = h
		o.hStride = (s + h - 1) / h
		o.hMutableGroup = make([]atomic.Int64, h)
		o.hTotalGroup = make([]atomic.Int64, h)
	}
	if opts.UseCachedReads {
		o.useCache = true
		o.cacheInterval = opts.CacheInterval
		if o.cacheInterval <= 0 {
			o.cacheInterval = time.Millisecond
		}
		o.stopCh = make(chan struct{})
		go o.runRefresher()
	}
	return o
}

// RecordWrite accounts for bytes newly written to a mutable memtable: both
// the mutable and the total running totals advance by delta.
func (o *StripedOracle) RecordWrite(delta int64) {
	idx := int(o.chooser.Add(1)) & o.mask
	o.mutable[idx].val.Add(delta)
	o.total[idx].val.Add(delta)
	if o.hGroups > 0 {
		g := idx / o.hStride
		o.hMutableGroup[g].Add(delta)
		o.hTotalGroup[g].Add(delta)
	}
}

// RecordRotate accounts for a memtable switching from mutable to immutable:
// the mutable total shrinks by amount; the total is unaffected (the bytes
// still live in memory, just no longer accepting writes).
func (o *StripedOracle) RecordRotate(amount int64) {
	idx := int(o.chooser.Add(1)) & o.mask
	o.mutable[idx].val.Add(-amount)
	if o.hGroups > 0 {
		g := idx / o.hStride
		o.hMutableGroup[g].Add(-amount)
	}
}

// RecordFlush accounts for freed bytes after a flush. fromMutable
// indicates whether the flushed memtable was still mutable (rare — usually
// a memtable rotates before it is selected for flush); if so, the mutable
// total also shrinks.
func (o *StripedOracle) RecordFlush(freed int64, fromMutable bool) {
	idx := int(o.chooser.Add(1)) & o.mask
	o.total[idx].val.Add(-freed)
	if fromMutable {
		o.mutable[idx].val.Add(-freed)
	}
	if o.hGroups > 0 {
		g := idx / o.hStride
		o.hTotalGroup[g].Add(-freed)
		if fromMutable {
			o.hMutableGroup[g].Add(-freed)
		}
	}
}

// MemoryUsage implements flushctl.GlobalWriteBufferStats.
func (o *StripedOracle) MemoryUsage() uint64 {
	if o.useCache {
		return uint64(o.cachedTotal.Load())
	}
	return uint64(o.sumTotal())
}

// MutableMemoryUsage implements flushctl.GlobalWriteBufferStats.
func (o *StripedOracle) MutableMemoryUsage() uint64 {
	if o.useCache {
		return uint64(o.cachedMutable.Load())
	}
	return uint64(o.sumMutable())
}

func (o *StripedOracle) sumTotal() int64 {
	if o.hGroups > 0 {
		var sum int64
		for i := 0; i < o.hGroups; i++ {
			sum += o.hTotalGroup[i].Load()
		}
		return sum
	}
	var sum int64
	for i := range o.total {
		sum += o.total[i].val.Load()
	}
	return sum
}

func (o *StripedOracle) sumMutable() int64 {
	if o.hGroups > 0 {
		var sum int64
		for i := 0; i < o.hGroups; i++ {
			sum += o.hMutableGroup[i].Load()
		}
		return sum
	}
	var sum int64
	for i := range o.mutable {
		sum += o.mutable[i].val.Load()
	}
	return sum
}

func (o *StripedOracle) runRefresher() {
	t := time.NewTicker(o.cacheInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			o.cachedTotal.Store(o.sumTotal())
			o.cachedMutable.Store(o.sumMutable())
		case <-o.stopCh:
			return
		}
	}
}

// Close stops the background refresher, if running. Safe to call multiple
// times or on an oracle that never started one.
func (o *StripedOracle) Close() {
	o.closeOnce.Do(func() {
		if o.stopCh != nil {
			close(o.stopCh)
		}
	})
}

func nextPow2(x int) int {
	if x <= 1 {
		return 1
	}
	x--
	x |= x >> 1
	x |= x >> 2
	x |= x >> 4
	x |= x >> 8
	x |= x >> 16
	x |= x >> 32
	return x + 1
}

func clamp(x, lo, hi int) int {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
