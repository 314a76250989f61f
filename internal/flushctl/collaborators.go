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

// Package flushctl embeds the write-buffer flush controller into a storage
// node: it wires the pure planner in pkg/wbfc to the external collaborators
// it needs (a global memory oracle and a tablet registry) and drives it on
// a ticker, the way a production engine component would.
package flushctl

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"wbfc/pkg/wbfc"
)

// ErrNoTablet names the condition where the registry has no tablet for a
// region — the region was closed or migrated after planning. Registries
// report it as ok=false from OpenTabletCacheAny rather than returning this
// error; per spec.md §4.3/§7, the Executor treats that as a race and aborts
// the remaining batch.
var ErrNoTablet = errors.New("flushctl: no tablet for region")

// GlobalWriteBufferStats is the node-wide memory-accounting provider the
// planner reads at every tick. Expressed as an interface, not a concrete
// type, so the controller never depends on a specific accounting
// implementation (spec.md §9 "dynamic dispatch over the oracle").
type GlobalWriteBufferStats interface {
	// MemoryUsage reports total memtable memory, mutable + immutable.
	MemoryUsage() uint64
	// MutableMemoryUsage reports the mutable-only portion.
	MutableMemoryUsage() uint64
}

// TabletHandle is a held reference to one region's storage engine tablet,
// valid for the duration of a single flush.
type TabletHandle interface {
	// EngineMemoryUsage reports the tablet's current memtable footprint.
	EngineMemoryUsage() uint64
	// Flush persists the memtable to disk. wait=true blocks until the
	// flush completes and EngineMemoryUsage reflects the post-flush size;
	// the Executor never calls Flush(false) (see spec.md §9's flush
	// semantics open question).
	Flush(wait bool) error
}

// TabletRegistry resolves region ids to tablet handles and hands off the
// oracle at construction time, mirroring the source's
// write_buffer_states()/open_tablet_cache_any() contract.
type TabletRegistry interface {
	WriteBufferStats() GlobalWriteBufferStats
	// OpenTabletCacheAny returns the tablet for region, or ok=false if the
	// region has no open tablet (closed, migrated, or never opened).
	OpenTabletCacheAny(region wbfc.RegionID) (handle TabletHandle, ok bool)
}

// MockTabletHandle is an in-memory stand-in for a real engine tablet, used
// by tests, demos, and cmd/wbfcnode's default (non-production) wiring.
// Grounded on the teacher's mockPersister: a dependency-free implementation
// of the real collaborator interface, good enough to exercise the full
// control flow without a real storage engine.
type MockTabletHandle struct {
	mu          sync.Mutex
	size        uint64
	postFlush   uint64
	flushCount  int
	lastFlushOK bool
}

// NewMockTabletHandle returns a handle reporting size until flushed, at
// which point it reports postFlush.
func NewMockTabletHandle(size, postFlush uint64) *MockTabletHandle {
	return &MockTabletHandle{size: size, postFlush: postFlush}
}

func (h *MockTabletHandle) EngineMemoryUsage() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size
}

// Flush requires wait=true; any other value is a programmer error in the
// caller, not a transient failure, so it panics rather than silently
// degrading to the historical non-blocking variant.
func (h *MockTabletHandle) Flush(wait bool) error {
	if !wait {
		panic("flushctl: MockTabletHandle.Flush called with wait=false; the controller must always request a blocking flush")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.size = h.postFlush
	h.flushCount++
	h.lastFlushOK = true
	return nil
}

// FlushCount reports how many times Flush has been called, for assertions.
func (h *MockTabletHandle) FlushCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.flushCount
}

// MockTabletRegistry is a fixed in-memory set of tablets plus a static
// oracle snapshot, letting tests and demos exercise the controller without
// a real storage engine. Grounded on the teacher's "mock implementation
// paired with the real one behind the same interface" pattern
// (persistence.NewMockPersister alongside RedisPersister/KafkaPersister).
type MockTabletRegistry struct {
	mu      sync.RWMutex
	tablets map[wbfc.RegionID]TabletHandle
	stats   *staticStats
}

type staticStats struct {
	mu      sync.RWMutex
	total   uint64
	mutable uint64
}

func (s *staticStats) MemoryUsage() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

func (s *staticStats) MutableMemoryUsage() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mutable
}

// Set updates the oracle snapshot the registry reports.
func (s *staticStats) Set(total, mutable uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total, s.mutable = total, mutable
}

// NewMockTabletRegistry returns an empty registry with a zeroed oracle.
func NewMockTabletRegistry() *MockTabletRegistry {
	return &MockTabletRegistry{
		tablets: make(map[wbfc.RegionID]TabletHandle),
		stats:   &staticStats{},
	}
}

// SetStats overwrites the oracle snapshot reported to the planner.
func (r *MockTabletRegistry) SetStats(total, mutable uint64) {
	r.stats.Set(total, mutable)
}

// Put registers (or replaces) a tablet for region. Accepts any TabletHandle
// so tests can inject handles that fail in specific ways.
func (r *MockTabletRegistry) Put(region wbfc.RegionID, h TabletHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tablets[region] = h
}

// Remove simulates a region closing or migrating away, so the next
// OpenTabletCacheAny for it reports ok=false.
func (r *MockTabletRegistry) Remove(region wbfc.RegionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tablets, region)
}

func (r *MockTabletRegistry) WriteBufferStats() GlobalWriteBufferStats { return r.stats }

func (r *MockTabletRegistry) OpenTabletCacheAny(region wbfc.RegionID) (TabletHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.tablets[region]
	if !ok {
		return nil, false
	}
	return h, true
}

// Regions returns the currently-registered region ids, sorted ascending,
// for deterministic debug/demo output.
func (r *MockTabletRegistry) Regions() []wbfc.RegionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]wbfc.RegionID, 0, len(r.tablets))
	for id := range r.tablets {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *MockTabletRegistry) String() string {
	return fmt.Sprintf("MockTabletRegistry{regions=%d}", len(r.tablets))
}
