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

import (
	"testing"
	"time"
)

func TestStateRecordAccessOverwritesUnconditionally(t *testing.T) {
	s := NewState()
	const R RegionID = 1
	t1 := nowT
	t2 := nowT.Add(-time.Hour) // even an "older" write overwrites; no dedup.

	s.RecordAccess(R, t1)
	s.RecordAccess(R, t2)
	if !s.LastAccess[R].Equal(t2) {
		t.Fatalf("expected last write to win regardless of order, got %v", s.LastAccess[R])
	}
}

func TestStateRecordSizeZeroIsValid(t *testing.T) {
	s := NewState()
	const R RegionID = 1
	s.RecordSize(R, 10)
	s.RecordSize(R, 0)
	size, ok := s.WriteBuffers[R]
	if !ok || size != 0 {
		t.Fatalf("expected size 0 to be recorded, got %d ok=%v", size, ok)
	}
}

func TestStateMarkFlushClearsOnNoConcurrentAccess(t *testing.T) {
	s := NewState()
	const R RegionID = 1
	s.RecordSize(R, 100)
	s.RecordAccess(R, nowT)

	s.MarkFlush(R, nowT.Add(time.Second), 5)
	if _, ok := s.LastAccess[R]; ok {
		t.Fatalf("expected LastAccess cleared")
	}
	if s.WriteBuffers[R] != 5 {
		t.Fatalf("expected post-flush size recorded, got %d", s.WriteBuffers[R])
	}
}

func TestStatePruneStaleDisabledByDefault(t *testing.T) {
	s := NewState()
	const R RegionID = 1
	s.RecordAccess(R, nowT) // no matching RecordSize: immediately a miss.
	s.PruneStale(0)
	if _, ok := s.LastAccess[R]; !ok {
		t.Fatalf("expected PruneStale(0) to be a no-op")
	}
}

func TestStatePruneStaleRemovesAfterNConsecutiveMisses(t *testing.T) {
	s := NewState()
	const R RegionID = 1
	s.RecordAccess(R, nowT) // never gets a RecordSize: simulates a destroyed region.

	s.PruneStale(3)
	s.PruneStale(3)
	if _, ok := s.LastAccess[R]; !ok {
		t.Fatalf("expected entry to survive fewer than N misses")
	}
	s.PruneStale(3)
	if _, ok := s.LastAccess[R]; ok {
		t.Fatalf("expected entry pruned after N consecutive misses")
	}
}

func TestStatePruneStaleResetsOnFreshSize(t *testing.T) {
	s := NewState()
	const R RegionID = 1
	s.RecordAccess(R, nowT)

	s.PruneStale(2)
	s.RecordSize(R, 10) // arrives before the second miss: counter resets.
	s.PruneStale(2)
	s.PruneStale(2)
	if _, ok := s.LastAccess[R]; !ok {
		t.Fatalf("expected miss counter reset by an intervening RecordSize")
	}
}
