// Package priority implements PriorityIndex: a mutable set of digests
// whose cache entries must be evicted last. The whole set replaces
// atomically with no partial view visible to a reader — the one place
// in this module that prefers atomic.Pointer over a mutex, since
// CacheStore's eviction scan must never block on a priority-set mutation.
package priority

import (
	"sync/atomic"

	"github.com/eventlens/eventlens/core"
)

// Index is a lock-free, atomically-swapped set of priority digests.
// Readers see either the whole old set or the whole new set — never a
// partial view.
type Index struct {
	set atomic.Pointer[map[core.Digest]struct{}]
}

// New returns an empty Index.
func New() *Index {
	idx := &Index{}
	empty := map[core.Digest]struct{}{}
	idx.set.Store(&empty)
	return idx
}

// Set replaces the entire priority set in one step (:
// "set(new_set) replaces the whole set atomically").
func (idx *Index) Set(digests []core.Digest) {
	next := make(map[core.Digest]struct{}, len(digests))
	for _, d := range digests {
		next[d] = struct{}{}
	}
	idx.set.Store(&next)
}

// Contains reports whether d is currently priority-protected. Satisfies
// cachestore.PrioritySource.
func (idx *Index) Contains(d core.Digest) bool {
	set := idx.set.Load()
	_, ok := (*set)[d]
	return ok
}

// Snapshot returns the current priority digests as a slice, for status
// reporting and tests. The returned slice is a point-in-time copy.
func (idx *Index) Snapshot() []core.Digest {
	set := idx.set.Load()
	out := make([]core.Digest, 0, len(*set))
	for d := range *set {
		out = append(out, d)
	}
	return out
}
