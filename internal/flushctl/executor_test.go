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

package flushctl

import (
	"errors"
	"sync"
	"testing"
	"time"

	"wbfc/pkg/wbfc"
)

type recordingAudit struct {
	mu      sync.Mutex
	records []auditRecord
}

type auditRecord struct {
	region            wbfc.RegionID
	preSize, postSize uint64
	err               error
}

func newRecordingAudit() *recordingAudit { return &recordingAudit{} }

func (r *recordingAudit) Record(region wbfc.RegionID, preSize, postSize uint64, start, end time.Time, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, auditRecord{region, preSize, postSize, err})
}

func cfgForExecutorTests() wbfc.Config {
	return wbfc.Config{
		TotalLimit:     5 * 1 << 30,
		SoftLimit:      2 * 1 << 30,
		FlushThreshold: 1 << 20,
		EvictLifeTime:  wbfc.ReadableDuration(30 * time.Minute),
		MaxFlushBatch:  8,
		CheckInterval:  wbfc.ReadableDuration(10 * time.Second),
	}
}

func TestExecutorRunTickFlushesSelectedVictim(t *testing.T) {
	registry := NewMockTabletRegistry()
	const R wbfc.RegionID = 1
	registry.Put(R, NewMockTabletHandle(10*(1<<20), 1*(1<<20)))
	registry.SetStats(6*(1<<30), 5*(1<<30))

	controller := NewController(cfgForExecutorTests(), registry, 0)
	controller.RecordAccess(R, time.Now().Add(-time.Hour))
	controller.RecordSize(R, 10*(1<<20))

	audit := newRecordingAudit()
	exec := NewExecutor(controller, time.Hour, audit)
	exec.runTick()

	h, _ := registry.OpenTabletCacheAny(R)
	mh := h.(*MockTabletHandle)
	if mh.FlushCount() != 1 {
		t.Fatalf("expected exactly one flush, got %d", mh.FlushCount())
	}
	if len(audit.records) != 1 || audit.records[0].err != nil {
		t.Fatalf("expected one successful audit record, got %+v", audit.records)
	}
}

func TestExecutorAbortsBatchOnMissingTablet(t *testing.T) {
	registry := NewMockTabletRegistry()
	const (
		R1 wbfc.RegionID = 1
		R2 wbfc.RegionID = 2
	)
	registry.Put(R1, NewMockTabletHandle(10*(1<<20), 1*(1<<20)))
	// R2 intentionally not registered: simulates a closed/migrated region.
	registry.SetStats(6*(1<<30), 5*(1<<30))

	cfg := cfgForExecutorTests()
	cfg.MaxFlushBatch = 2
	controller := NewController(cfg, registry, 0)
	old := time.Now().Add(-time.Hour)
	controller.RecordAccess(R2, old) // larger size first: planner orders R2 (20MB) before R1 (10MB)
	controller.RecordSize(R2, 20*(1<<20))
	controller.RecordAccess(R1, old.Add(time.Second))
	controller.RecordSize(R1, 10*(1<<20))

	exec := NewExecutor(controller, time.Hour, nil)
	exec.runTick()

	h, _ := registry.OpenTabletCacheAny(R1)
	mh := h.(*MockTabletHandle)
	if mh.FlushCount() != 0 {
		t.Fatalf("expected R1 never flushed once R2 aborted the batch, got %d flushes", mh.FlushCount())
	}
}

func TestExecutorContinuesBatchOnTransientFlushError(t *testing.T) {
	registry := NewMockTabletRegistry()
	const (
		R1 wbfc.RegionID = 1
		R2 wbfc.RegionID = 2
	)
	failing := &erroringTabletHandle{
		MockTabletHandle: NewMockTabletHandle(20*(1<<20), 2*(1<<20)),
		err:              errors.New("engine I/O error"),
	}
	registry.Put(R1, failing)
	ok := NewMockTabletHandle(10*(1<<20), 1*(1<<20))
	registry.Put(R2, ok)
	registry.SetStats(6*(1<<30), 5*(1<<30))

	cfg := cfgForExecutorTests()
	cfg.MaxFlushBatch = 2
	controller := NewController(cfg, registry, 0)
	old := time.Now().Add(-time.Hour)
	// R1 is larger, so the planner orders it first: its failure must not
	// stop R2 from being flushed afterwards.
	controller.RecordAccess(R1, old)
	controller.RecordSize(R1, 20*(1<<20))
	controller.RecordAccess(R2, old.Add(time.Second))
	controller.RecordSize(R2, 10*(1<<20))

	audit := newRecordingAudit()
	exec := NewExecutor(controller, time.Hour, audit)
	exec.runTick()

	if ok.FlushCount() != 1 {
		t.Fatalf("expected the second victim to still be flushed, got %d", ok.FlushCount())
	}
	foundErr := false
	for _, rec := range audit.records {
		if rec.region == R1 && rec.err != nil {
			foundErr = true
		}
	}
	if !foundErr {
		t.Fatalf("expected an audit record for R1's failed flush, got %+v", audit.records)
	}
}

// erroringTabletHandle wraps a MockTabletHandle but always fails Flush,
// used to exercise the Executor's transient-error path without special-
// casing MockTabletHandle itself.
type erroringTabletHandle struct {
	*MockTabletHandle
	err error
}

func (h *erroringTabletHandle) Flush(wait bool) error { return h.err }
