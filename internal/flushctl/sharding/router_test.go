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

package sharding

import (
	"testing"

	"wbfc/pkg/wbfc"
)

func TestRouterDeterministic(t *testing.T) {
	r := New([]string{"node-a", "node-b", "node-c"})
	for i := 0; i < 100; i++ {
		region := wbfc.RegionID(i)
		first := r.Owner(region)
		second := r.Owner(region)
		if first != second {
			t.Fatalf("region %d routed inconsistently: %q then %q", region, first, second)
		}
	}
}

func TestRouterOwnsMatchesOwner(t *testing.T) {
	r := New([]string{"node-a", "node-b"})
	region := wbfc.RegionID(42)
	owner := r.Owner(region)
	if !r.Owns(owner, region) {
		t.Fatalf("expected Owns(%q, %d) to be true", owner, region)
	}
	other := "node-a"
	if owner == other {
		other = "node-b"
	}
	if r.Owns(other, region) {
		t.Fatalf("expected Owns(%q, %d) to be false", other, region)
	}
}

func TestRouterMinimalDisruptionOnAdd(t *testing.T) {
	r := New([]string{"node-a", "node-b"})
	const n = 2000

	before := make(map[wbfc.RegionID]string, n)
	for i := 0; i < n; i++ {
		before[wbfc.RegionID(i)] = r.Owner(wbfc.RegionID(i))
	}

	r.AddInstance("node-c")

	moved := 0
	for region, owner := range before {
		if r.Owner(region) != owner {
			moved++
		}
	}
	// Adding a third node to a 2-node ring should move roughly 1/3 of
	// keys, not anywhere close to all of them.
	if moved > n*2/3 {
		t.Fatalf("AddInstance moved %d/%d regions, expected far less than 2/3", moved, n)
	}
}

func TestRouterPanicsWithNoInstances(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected New(nil) to panic")
		}
	}()
	New(nil)
}
