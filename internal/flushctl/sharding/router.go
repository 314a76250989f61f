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

// Package sharding assigns regions to controller instances when a storage
// node's regions are split across more than one flush-controller process
// (e.g. one controller per CPU socket, or one per tenant pool). Each
// instance still only ever touches the regions it owns — this does not
// coordinate flushes across nodes; it only partitions a single node's
// region set ahead of time.
package sharding

import (
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"

	"wbfc/pkg/wbfc"
)

// Router assigns each region deterministically to one of a fixed set of
// controller instance names using rendezvous (highest random weight)
// hashing: adding or removing an instance only reshuffles the regions that
// were assigned to that instance, leaving everyone else's assignment
// unchanged. Grounded on the teacher's indirect dependency on
// github.com/dgryski/go-rendezvous (pulled in transitively by go-redis's
// cluster client), wired here directly as region-to-instance sharding.
type Router struct {
	mu   sync.RWMutex
	rend *rendezvous.Rendezvous
}

// New builds a Router over the given instance names. Panics if instances is
// empty — a router with no targets can't route anything.
func New(instances []string) *Router {
	if len(instances) == 0 {
		panic("sharding: Router requires at least one instance")
	}
	return &Router{rend: rendezvous.New(instances, hashString)}
}

func hashString(s string) uint64 { return xxhash.Sum64String(s) }

// Owner returns the instance name responsible for region.
func (r *Router) Owner(region wbfc.RegionID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rend.Lookup(regionKey(region))
}

// Owns reports whether instance owns region — the common case a controller
// checks before accepting a RecordAccess/RecordSize event for it.
func (r *Router) Owns(instance string, region wbfc.RegionID) bool {
	return r.Owner(region) == instance
}

// AddInstance adds a new controller instance to the ring, reshuffling only
// the regions that hash closest to it.
func (r *Router) AddInstance(instance string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rend.Add(instance)
}

// RemoveInstance retires an instance; its regions redistribute across the
// remaining ones.
func (r *Router) RemoveInstance(instance string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rend.Remove(instance)
}

func regionKey(region wbfc.RegionID) string {
	return strconv.FormatUint(uint64(region), 10)
}
