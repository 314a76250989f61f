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

package oracle

import (
	"sync"
	"testing"
	"time"
)

func TestStripedOracleRecordWrite(t *testing.T) {
	o := New()
	o.RecordWrite(100)
	o.RecordWrite(50)
	if got := o.MemoryUsage(); got != 150 {
		t.Fatalf("MemoryUsage() = %d, want 150", got)
	}
	if got := o.MutableMemoryUsage(); got != 150 {
		t.Fatalf("MutableMemoryUsage() = %d, want 150", got)
	}
}

func TestStripedOracleRecordRotate(t *testing.T) {
	o := New()
	o.RecordWrite(100)
	o.RecordRotate(40)
	if got := o.MemoryUsage(); got != 100 {
		t.Fatalf("MemoryUsage() after rotate = %d, want 100 (total unaffected)", got)
	}
	if got := o.MutableMemoryUsage(); got != 60 {
		t.Fatalf("MutableMemoryUsage() after rotate = %d, want 60", got)
	}
}

func TestStripedOracleRecordFlush(t *testing.T) {
	o := New()
	o.RecordWrite(100)
	o.RecordRotate(100)
	o.RecordFlush(100, false)
	if got := o.MemoryUsage(); got != 0 {
		t.Fatalf("MemoryUsage() after flush = %d, want 0", got)
	}
	if got := o.MutableMemoryUsage(); got != 0 {
		t.Fatalf("MutableMemoryUsage() after flush = %d, want 0", got)
	}
}

func TestStripedOracleHierarchicalGroupsMatchFlat(t *testing.T) {
	flat := New()
	grouped := NewWithOptions(Options{Stripes: 16, HierarchicalGroups: 4})
	for i := 0; i < 1000; i++ {
		flat.RecordWrite(int64(i))
		grouped.RecordWrite(int64(i))
	}
	if flat.MemoryUsage() != grouped.MemoryUsage() {
		t.Fatalf("hierarchical sum %d diverged from flat sum %d", grouped.MemoryUsage(), flat.MemoryUsage())
	}
}

func TestStripedOracleConcurrentWrites(t *testing.T) {
	o := New()
	const goroutines = 16
	const perG = 1000
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perG; i++ {
				o.RecordWrite(1)
			}
		}()
	}
	wg.Wait()
	want := uint64(goroutines * perG)
	if got := o.MemoryUsage(); got != want {
		t.Fatalf("MemoryUsage() = %d, want %d", got, want)
	}
}

func TestStripedOracleCachedReadsEventuallyConsistent(t *testing.T) {
	o := NewWithOptions(Options{UseCachedReads: true, CacheInterval: time.Millisecond})
	defer o.Close()
	o.RecordWrite(500)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if o.MemoryUsage() == 500 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("cached MemoryUsage() never converged to 500, got %d", o.MemoryUsage())
}
