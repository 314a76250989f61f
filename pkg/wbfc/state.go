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

package wbfc

import "time"

// RegionID identifies a logical shard; one region owns one tablet.
type RegionID uint64

// State holds the controller's two maps. It is not safe for concurrent use —
// per spec.md §5 a single worker goroutine owns a State and drains its inbox
// serially, so no internal locking is needed.
type State struct {
	WriteBuffers map[RegionID]uint64
	LastAccess   map[RegionID]time.Time

	// missCount tracks, per region, how many consecutive planner ticks found
	// a LastAccess entry with no matching WriteBuffers entry. Used only by
	// PruneStale (spec.md §9 "last_access eviction" open question).
	missCount map[RegionID]int
}

// NewState returns an empty controller state.
func NewState() *State {
	return &State{
		WriteBuffers: make(map[RegionID]uint64),
		LastAccess:   make(map[RegionID]time.Time),
		missCount:    make(map[RegionID]int),
	}
}

// RecordAccess implements spec.md §4.1: unconditional last-writer-wins
// overwrite, no dedup, no bounds check. Infallible.
func (s *State) RecordAccess(region RegionID, t time.Time) {
	s.LastAccess[region] = t
}

// RecordSize implements spec.md §4.1. A size of 0 is valid and means the
// tablet is currently empty. Infallible.
func (s *State) RecordSize(region RegionID, size uint64) {
	s.WriteBuffers[region] = size
	delete(s.missCount, region)
}

// MarkFlush implements the Executor step 2e / spec.md §4.3's state machine.
// If a concurrent access landed strictly after tStart, the access is
// preserved and the size update is skipped (the region stays eligible for
// a future flush once a fresh RecordSize arrives). Otherwise the access
// entry is cleared and the post-flush size is recorded.
func (s *State) MarkFlush(region RegionID, tStart time.Time, postSize uint64) {
	if la, ok := s.LastAccess[region]; ok && la.After(tStart) {
		return
	}
	delete(s.LastAccess, region)
	s.WriteBuffers[region] = postSize
}

// PruneStale removes LastAccess entries whose WriteBuffers lookup has missed
// for maxMisses consecutive calls (spec.md §9's defensible, non-required
// extension for long-lived nodes that never evict destroyed regions). Call
// once per tick after planning; maxMisses <= 0 disables pruning.
func (s *State) PruneStale(maxMisses int) {
	if maxMisses <= 0 {
		return
	}
	for region := range s.LastAccess {
		if _, ok := s.WriteBuffers[region]; ok {
			delete(s.missCount, region)
			continue
		}
		s.missCount[region]++
		if s.missCount[region] >= maxMisses {
			delete(s.LastAccess, region)
			delete(s.missCount, region)
		}
	}
}
