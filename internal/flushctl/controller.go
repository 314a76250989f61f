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
	"time"

	"wbfc/pkg/wbfc"
)

// Controller owns the intake state and the tablet registry for one node's
// worth of regions. It is not safe for concurrent use — per spec.md §5 a
// single worker goroutine (Executor) is expected to own a Controller and
// call every method from that one goroutine. Grounded on the teacher's
// Store (core/store.go): a thin struct owning the actual data plus a
// handle to its collaborators, with no locking of its own.
type Controller struct {
	cfg      wbfc.Config
	state    *wbfc.State
	registry TabletRegistry
	pruneN   int
}

// NewController wires a Controller to its collaborators. pruneAfterNMisses (if >0)
// enables the LastAccess pruning extension (spec.md §9) after every Plan
// call; 0 disables it, matching the spec's "not required for correctness".
func NewController(cfg wbfc.Config, registry TabletRegistry, pruneAfterNMisses int) *Controller {
	return &Controller{
		cfg:      cfg,
		state:    wbfc.NewState(),
		registry: registry,
		pruneN:   pruneAfterNMisses,
	}
}

// RecordAccess implements spec.md §4.1's record_access.
func (c *Controller) RecordAccess(region wbfc.RegionID, t time.Time) {
	c.state.RecordAccess(region, t)
}

// RecordSize implements spec.md §4.1's record_size.
func (c *Controller) RecordSize(region wbfc.RegionID, size uint64) {
	c.state.RecordSize(region, size)
}

// Plan runs the Flush Planner against the current state and a fresh oracle
// reading, optionally pruning stale LastAccess entries afterward.
func (c *Controller) Plan(now time.Time) []wbfc.RegionID {
	stats := c.registry.WriteBufferStats()
	victims := wbfc.Plan(c.cfg, c.state, now.UnixNano(), stats.MemoryUsage(), stats.MutableMemoryUsage())
	if c.pruneN > 0 {
		c.state.PruneStale(c.pruneN)
	}
	return victims
}

// MarkFlush implements spec.md §4.3 step 2e.
func (c *Controller) MarkFlush(region wbfc.RegionID, tStart time.Time, postSize uint64) {
	c.state.MarkFlush(region, tStart, postSize)
}

// OpenTablet resolves a region to its tablet handle via the registry.
func (c *Controller) OpenTablet(region wbfc.RegionID) (TabletHandle, bool) {
	return c.registry.OpenTabletCacheAny(region)
}
