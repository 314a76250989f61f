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
	"log"
	"sync"
	"sync/atomic"
	"time"

	"wbfc/pkg/wbfc"
)

// message is an inbound event from the work scheduler (spec.md §6.2): a
// tagged-variant RecordAccess or RecordSize. Delivered one at a time to the
// Executor's single worker goroutine, same as the teacher's commitLoop
// processes its ticker and stop channel on one goroutine.
type message interface{ apply(*Controller) }

type accessMsg struct {
	region wbfc.RegionID
	at     time.Time
}

func (m accessMsg) apply(c *Controller) { c.RecordAccess(m.region, m.at) }

type sizeMsg struct {
	region wbfc.RegionID
	size   uint64
}

func (m sizeMsg) apply(c *Controller) { c.RecordSize(m.region, m.size) }

// planMsg is a synchronous, read-only planning request used by debug/
// observability callers (e.g. an HTTP /plan endpoint) that need a
// consistent snapshot without racing the worker goroutine's own state
// access. apply runs on the worker goroutine like any other message; the
// caller blocks on reply.
type planMsg struct {
	now   time.Time
	reply chan []wbfc.RegionID
}

// apply calls wbfc.Plan directly rather than Controller.Plan, so a snapshot
// never runs the LastAccess pruning that belongs to the tick.
func (m planMsg) apply(c *Controller) {
	stats := c.registry.WriteBufferStats()
	m.reply <- wbfc.Plan(c.cfg, c.state, m.now.UnixNano(), stats.MemoryUsage(), stats.MutableMemoryUsage())
}

// AuditSink receives a record of every flush the Executor performs.
// Implemented by audit.FileSink; kept as a narrow interface here so
// Executor doesn't import the audit package's concrete type.
type AuditSink interface {
	Record(region wbfc.RegionID, preSize, postSize uint64, start, end time.Time, err error)
}

// Executor drives the flush controller on a tick, mirroring the teacher's
// Worker (core/worker.go): a ticker-driven loop, a stop channel, and a
// WaitGroup for graceful shutdown with a final pass before exit.
type Executor struct {
	controller *Controller
	interval   time.Duration
	inbox      chan message
	audit      AuditSink

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopped  uint32
}

// NewExecutor wires an Executor to its Controller. audit may be nil to
// disable flush-record logging.
func NewExecutor(controller *Controller, interval time.Duration, audit AuditSink) *Executor {
	return &Executor{
		controller: controller,
		interval:   interval,
		inbox:      make(chan message, 4096),
		audit:      audit,
		stopChan:   make(chan struct{}),
	}
}

// RecordAccess enqueues a RecordAccess event for the worker goroutine to
// apply in order. Safe to call from any goroutine (e.g. an HTTP handler).
func (e *Executor) RecordAccess(region wbfc.RegionID, at time.Time) {
	e.inbox <- accessMsg{region: region, at: at}
}

// RecordSize enqueues a RecordSize event. Safe to call from any goroutine.
func (e *Executor) RecordSize(region wbfc.RegionID, size uint64) {
	e.inbox <- sizeMsg{region: region, size: size}
}

// PlanSnapshot runs the planner on the worker goroutine and returns its
// output, without executing any flush. Safe to call from any goroutine
// (e.g. a debug HTTP handler) since it never touches Controller state
// directly — it only ever reads the reply channel the worker writes to.
func (e *Executor) PlanSnapshot() []wbfc.RegionID {
	reply := make(chan []wbfc.RegionID, 1)
	e.inbox <- planMsg{now: time.Now(), reply: reply}
	return <-reply
}

// Start launches the single worker goroutine.
func (e *Executor) Start() {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run()
	}()
}

// Stop closes the stop channel and waits for the worker to finish its
// in-flight flush (spec.md §5's cancellation model: no mid-flush
// interruption), apply the messages already queued in its inbox, and run
// one final tick so pending pressure is addressed before the process exits. Pending inbox messages beyond that point are
// dropped, per spec.md §5.
func (e *Executor) Stop() {
	if !atomic.CompareAndSwapUint32(&e.stopped, 0, 1) {
		return
	}
	close(e.stopChan)
	e.wg.Wait()
}

func (e *Executor) run() {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-e.inbox:
			msg.apply(e.controller)
		case <-ticker.C:
			e.runTick()
		case <-e.stopChan:
			e.drainInbox()
			e.runTick()
			return
		}
	}
}

// drainInbox applies every message already queued, without blocking for
// new ones, so the final tick sees the freshest possible state.
func (e *Executor) drainInbox() {
	for {
		select {
		case msg := <-e.inbox:
			msg.apply(e.controller)
		default:
			return
		}
	}
}

// runTick implements the Flush Executor's per-tick contract (spec.md §4.3).
func (e *Executor) runTick() {
	now := time.Now()
	start := time.Now()
	victims := e.controller.Plan(now)
	recordTick(len(victims), time.Since(start))
	if len(victims) == 0 {
		return
	}

	for i, region := range victims {
		tStart := time.Now()
		handle, ok := e.controller.OpenTablet(region)
		if !ok {
			// Missing tablet: the global state changed since planning
			// (region closed or migrated). Abort the remaining batch and
			// let the next tick resynchronize (spec.md §7 error kind 2).
			recordMissingTablet()
			log.Printf("wbfc: region %d has no open tablet, aborting remaining batch of %d", region, len(victims)-i)
			return
		}

		preSize := handle.EngineMemoryUsage()
		err := handle.Flush(true)
		if err != nil {
			// Transient flush failure: log and continue with the rest of
			// the batch (spec.md §7 error kind 1). The region stays
			// TRACKED and may be re-selected next tick.
			recordFlushError()
			log.Printf("wbfc: flush failed for region %d: %v", region, err)
			if e.audit != nil {
				e.audit.Record(region, preSize, preSize, tStart, time.Now(), err)
			}
			continue
		}

		postSize := handle.EngineMemoryUsage()
		recordFlush(preSize, postSize)
		e.controller.MarkFlush(region, tStart, postSize)
		if e.audit != nil {
			e.audit.Record(region, preSize, postSize, tStart, time.Now(), nil)
		}
	}
}
