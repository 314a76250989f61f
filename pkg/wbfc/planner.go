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
	"container/heap"
	"sort"
)

// accessEntry is a (region, last-access-time) pair used for the sort that
// every branch of the decision ladder starts from.
type accessEntry struct {
	region RegionID
	at     int64 // UnixNano, so comparisons and sorts stay allocation-free
}

// sortedAccesses returns LastAccess as a slice sorted ascending by time,
// tie-broken by ascending region id (invariant 4's documented tie-break).
func sortedAccesses(s *State) []accessEntry {
	out := make([]accessEntry, 0, len(s.LastAccess))
	for region, t := range s.LastAccess {
		out = append(out, accessEntry{region: region, at: t.UnixNano()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].at != out[j].at {
			return out[i].at < out[j].at
		}
		return out[i].region < out[j].region
	})
	return out
}

// Plan is the Flush Planner's contract (spec.md §4.2): a pure function of
// the controller state and the oracle's current readings, returning an
// ordered list of region ids to flush, length in [0, max_flush_batch].
// nowNano is the caller-supplied "current time" (UnixNano) so the planner
// stays deterministic and testable without a wall-clock dependency.
func Plan(cfg Config, s *State, nowNano int64, mTotal, mMutable uint64) []RegionID {
	soft := uint64(cfg.SoftLimit)
	total := uint64(cfg.TotalLimit)

	// Branch 1: no pressure.
	if mTotal < soft {
		return nil
	}
	// Branch 2: pressure is held by immutables; flushing more mutable
	// memtables wouldn't reclaim it.
	if mMutable < soft && mTotal < total {
		return nil
	}
	// Branch 3: single-flush regime (mMutable < soft, but mTotal >= total).
	if mMutable < soft {
		if id, ok := pickOne(cfg, s, nowNano); ok {
			return []RegionID{id}
		}
		return nil
	}
	// Branch 4: batch regime.
	return pickBatch(cfg, s, nowNano, mTotal, mMutable)
}

func idleAge(nowNano, accessNano int64) int64 {
	age := nowNano - accessNano
	if age < 0 {
		age = 0
	}
	return age
}

// pickOne implements spec.md §4.2 "pick_one": walk the oldest-first access
// list, tracking the largest cold-and-big-enough candidate; fall back to the
// single coldest entry for forward progress if nothing qualifies.
func pickOne(cfg Config, s *State, nowNano int64) (RegionID, bool) {
	accesses := sortedAccesses(s)
	if len(accesses) == 0 {
		return 0, false
	}
	evictAge := int64(cfg.EvictLifeTime.Duration())
	threshold := uint64(cfg.FlushThreshold)

	var (
		bestRegion RegionID
		bestSize   uint64
		haveBest   bool
	)
	for _, a := range accesses {
		if idleAge(nowNano, a.at) < evictAge {
			break
		}
		size, ok := s.WriteBuffers[a.region]
		if !ok || size < threshold {
			continue
		}
		if !haveBest || size > bestSize || (size == bestSize && a.region < bestRegion) {
			bestRegion, bestSize, haveBest = a.region, size, true
		}
	}
	if haveBest {
		return bestRegion, true
	}
	// Degenerate: nothing cold-and-big-enough qualified; force progress with
	// the single coldest entry regardless of size.
	return accesses[0].region, true
}

// sizeCandidate is a region id paired with its known size, used by both
// pick_batch stages.
type sizeCandidate struct {
	region RegionID
	size   uint64
}

// topKHeap is a bounded min-heap over sizeCandidate, keeping the K largest
// sizes seen. Among equal sizes the heap treats the larger region id as
// "smaller", so the root is the highest-id entry of the smallest size. The
// root is replaced only by a strictly larger size, so when sizes tie at the
// capacity boundary the entries seen first (the colder ones) are kept; the
// final output order is then fixed by finalizeCandidates.
type topKHeap []sizeCandidate

func (h topKHeap) Len() int { return len(h) }
func (h topKHeap) Less(i, j int) bool {
	if h[i].size != h[j].size {
		return h[i].size < h[j].size
	}
	return h[i].region > h[j].region
}
func (h topKHeap) Swap(i, j int)        { h[i], h[j] = h[j], h[i] }
func (h *topKHeap) Push(x interface{})  { *h = append(*h, x.(sizeCandidate)) }
func (h *topKHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// finalizeCandidates sorts selected candidates descending by size, tie-break
// ascending region id, matching the scenario 4 expectation ("8 largest ...
// in descending size order") and invariant 4's determinism requirement.
func finalizeCandidates(cands []sizeCandidate) []RegionID {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].size != cands[j].size {
			return cands[i].size > cands[j].size
		}
		return cands[i].region < cands[j].region
	})
	out := make([]RegionID, len(cands))
	for i, c := range cands {
		out[i] = c.region
	}
	return out
}

// pickBatch implements spec.md §4.2 "pick_batch": stage A (cold, by access
// time), falling back to stage B (by size against a reclaim budget), falling
// back to stage C (last resort, oldest half by access time).
func pickBatch(cfg Config, s *State, nowNano int64, mTotal, mMutable uint64) []RegionID {
	accesses := sortedAccesses(s)
	evictAge := int64(cfg.EvictLifeTime.Duration())
	threshold := uint64(cfg.FlushThreshold)
	batchLimit := cfg.MaxFlushBatch

	// Stage A: bounded top-K largest cold tablets.
	h := &topKHeap{}
	heap.Init(h)
	for _, a := range accesses {
		if idleAge(nowNano, a.at) < evictAge {
			break
		}
		size, ok := s.WriteBuffers[a.region]
		if !ok || size < threshold {
			continue
		}
		cand := sizeCandidate{region: a.region, size: size}
		if h.Len() < batchLimit {
			heap.Push(h, cand)
			continue
		}
		if (*h)[0].size < cand.size {
			(*h)[0] = cand
			heap.Fix(h, 0)
		}
	}
	if h.Len() > 0 {
		return finalizeCandidates([]sizeCandidate(*h))
	}

	// Stage B: fall back to ranking by size against a reclaim budget when
	// nothing is cold enough.
	if out := pickBySize(cfg, s, accesses, mTotal, mMutable); len(out) > 0 {
		return out
	}

	// Stage C: last resort, guarantees forward progress under severe
	// pressure even with no size/idleness signal.
	count := len(accesses) / 2
	if count > batchLimit {
		count = batchLimit
	}
	if count == 0 {
		return nil
	}
	out := make([]RegionID, count)
	for i := 0; i < count; i++ {
		out[i] = accesses[i].region
	}
	return out
}

// pickBySize implements stage B: candidates are all regions with a recorded
// size >= flush_threshold, ranked by a priority blending size with
// access-order rank (older access and larger size both raise priority), and
// accumulated until the reclaim budget (choose_limit) or max_flush_batch is
// reached, whichever comes first.
func pickBySize(cfg Config, s *State, accesses []accessEntry, mTotal, mMutable uint64) []RegionID {
	threshold := uint64(cfg.FlushThreshold)

	type rankedCandidate struct {
		sizeCandidate
		ageRank int // index into accesses; 0 = oldest
	}
	rankOf := make(map[RegionID]int, len(accesses))
	for i, a := range accesses {
		rankOf[a.region] = i
	}

	var candidates []rankedCandidate
	var maxSize uint64
	for region, size := range s.WriteBuffers {
		if size < threshold {
			continue
		}
		rank, ok := rankOf[region]
		if !ok {
			// No access entry at all: per invariant 2, such a region cannot
			// appear in planner output, so it is not a stage-B candidate.
			continue
		}
		if size > maxSize {
			maxSize = size
		}
		candidates = append(candidates, rankedCandidate{sizeCandidate{region, size}, rank})
	}
	if len(candidates) == 0 {
		return nil
	}

	n := len(accesses)
	priority := func(c rankedCandidate) float64 {
		sizeFrac := 0.0
		if maxSize > 0 {
			sizeFrac = float64(c.size) / float64(maxSize)
		}
		ageFrac := 1.0
		if n > 1 {
			ageFrac = float64(n-1-c.ageRank) / float64(n-1)
		}
		// Size dominates the blend; access-order rank breaks near-ties
		// toward colder regions without overriding a much larger buffer.
		return 0.7*sizeFrac + 0.3*ageFrac
	}
	sort.Slice(candidates, func(i, j int) bool {
		pi, pj := priority(candidates[i]), priority(candidates[j])
		if pi != pj {
			return pi > pj
		}
		if candidates[i].size != candidates[j].size {
			return candidates[i].size > candidates[j].size
		}
		return candidates[i].region < candidates[j].region
	})

	chooseLimit := chooseLimitBytes(cfg, mTotal, mMutable)
	batchLimit := cfg.MaxFlushBatch
	var (
		out     []sizeCandidate
		reclaim uint64
	)
	for _, c := range candidates {
		if len(out) >= batchLimit {
			break
		}
		out = append(out, c.sizeCandidate)
		reclaim += c.size
		if reclaim >= chooseLimit {
			break
		}
	}
	return finalizeCandidates(out)
}

// chooseLimitBytes implements spec.md §4.2's choose_limit exactly:
// M_mutable/2 under total-limit breach, soft_limit/2 otherwise.
func chooseLimitBytes(cfg Config, mTotal, mMutable uint64) uint64 {
	if mMutable > uint64(cfg.TotalLimit) {
		return mMutable / 2
	}
	return uint64(cfg.SoftLimit) / 2
}
