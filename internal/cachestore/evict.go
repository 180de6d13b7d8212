package cachestore

import (
	"github.com/eventlens/eventlens/core"
)

// TickEviction reclaims space until the store is at or under budget, or
// until no further candidate exists. Eviction order:
//  1. not-priority, oldest completed_at first;
//  2. ties broken by lexicographically smallest digest;
//  3. priority digests are never evicted while any non-priority candidate
//     exists; if every remaining entry is priority and the store is still
//     over budget, the oldest priority entry is evicted too.
//
// Each iteration picks one candidate under a read guard
// (nextEvictionCandidate takes s.mu.RLock internally), removes it under
// that digest's stripe lock (deleteLocked holds s.mu only long enough to
// drop the in-memory record), and then re-checks the budget.
func (s *Store) TickEviction() (core.EvictionResult, error) {
	result := core.EvictionResult{}

	for {
		over, _ := s.overBudget()
		if !over {
			break
		}

		d, ok := s.nextEvictionCandidate()
		if !ok {
			break // nothing left to evict; budget stays exceeded (soft cap)
		}

		mu := s.stripeFor(d)
		mu.Lock()
		removed, freed := s.deleteLocked(d)
		mu.Unlock()
		if !removed {
			continue // raced with a concurrent delete; re-scan
		}

		result.Digests = append(result.Digests, d)
		result.BytesFreed += freed
	}

	s.publishEvicted(result.Digests, result.BytesFreed)
	return result, nil
}

// nextEvictionCandidate picks the next digest to evict per the ordering
// above. It re-reads completed_at/priority state fresh on every call so a
// long eviction run always sees the current picture.
func (s *Store) nextEvictionCandidate() (core.Digest, bool) {
	type scored struct {
		digest      core.Digest
		completedAt uint64
	}

	s.mu.RLock()
	nonPriority := make([]scored, 0, len(s.digests))
	priority := make([]scored, 0)
	for d, meta := range s.digests {
		sc := scored{digest: d, completedAt: meta.artifact.CompletedAt}
		if s.priority.Contains(d) {
			priority = append(priority, sc)
		} else {
			nonPriority = append(nonPriority, sc)
		}
	}
	s.mu.RUnlock()

	pick := func(pool []scored) (core.Digest, bool) {
		if len(pool) == 0 {
			return "", false
		}
		best := pool[0]
		for _, sc := range pool[1:] {
			if sc.completedAt < best.completedAt ||
				(sc.completedAt == best.completedAt && sc.digest < best.digest) {
				best = sc
			}
		}
		return best.digest, true
	}

	if d, ok := pick(nonPriority); ok {
		return d, true
	}
	return pick(priority)
}
