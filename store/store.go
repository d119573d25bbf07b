// Package store holds the in-memory collection of aggregated items. The
// store is the only shared mutable state in the process: refresh cycles
// write to it through Apply and the HTTP API reads from it through Latest.
package store

import (
	"container/heap"
	"sort"
	"sync"

	"github.com/SticksScripts/news/models"
)

// Store maps item identities to the freshest version of each item ever
// merged. It is bounded to maxItems after every completed refresh cycle.
type Store struct {
	mu       sync.RWMutex
	items    map[string]models.Item
	maxItems int
}

func New(maxItems int) *Store {
	return &Store{
		items:    make(map[string]models.Item),
		maxItems: maxItems,
	}
}

// outranks reports whether a should be retained and ordered before b.
// Published descending; identical timestamps break ties on identity ascending
// so trimming and queries are deterministic regardless of map iteration.
func outranks(a, b models.Item) bool {
	if !a.Published.Equal(b.Published) {
		return a.Published.After(b.Published)
	}
	return a.Identity < b.Identity
}

// Merge folds one batch of fetched items into the store. Absent identities
// are inserted unconditionally; present ones are replaced only when the
// incoming item is strictly newer, so re-merging a batch is a no-op and
// batches from different sources commute.
func (s *Store) Merge(batch []models.Item) []models.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.merge(batch)
}

func (s *Store) merge(batch []models.Item) []models.Item {
	var accepted []models.Item
	for _, item := range batch {
		existing, ok := s.items[item.Identity]
		if ok && !item.Published.After(existing.Published) {
			continue
		}
		s.items[item.Identity] = item
		accepted = append(accepted, item)
	}
	return accepted
}

// Trim reduces the store to the maxItems highest-ranked items. Returns the
// number of evicted items.
func (s *Store) Trim() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trim()
}

func (s *Store) trim() int {
	excess := len(s.items) - s.maxItems
	if excess <= 0 {
		return 0
	}

	// Bounded min-heap keyed on rank: push every item, pop the lowest-ranked
	// whenever the heap exceeds maxItems. Cheaper than sorting the whole
	// store when maxItems is much smaller than the candidate set.
	h := make(rankHeap, 0, s.maxItems+1)
	for _, item := range s.items {
		heap.Push(&h, item)
		if len(h) > s.maxItems {
			heap.Pop(&h)
		}
	}

	survivors := make(map[string]models.Item, len(h))
	for _, item := range h {
		survivors[item.Identity] = item
	}
	s.items = survivors
	return excess
}

// Apply runs a whole refresh cycle's merges plus the trim in one critical
// section, so concurrent readers observe either the pre-cycle store or the
// fully merged and trimmed one, never an intermediate state. Returns the
// items accepted by the merges and the number trimmed away.
func (s *Store) Apply(batches ...[]models.Item) (accepted []models.Item, evicted int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, batch := range batches {
		accepted = append(accepted, s.merge(batch)...)
	}
	evicted = s.trim()
	return accepted, evicted
}

// Latest returns up to limit items ordered by published descending, ties
// broken by identity ascending. An empty store yields an empty slice.
func (s *Store) Latest(limit int) []models.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]models.Item, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		return outranks(items[i], items[j])
	})

	if limit >= 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// rankHeap is a min-heap by rank: the root is the next item to evict.
type rankHeap []models.Item

func (h rankHeap) Len() int            { return len(h) }
func (h rankHeap) Less(i, j int) bool  { return outranks(h[j], h[i]) }
func (h rankHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *rankHeap) Push(x interface{}) { *h = append(*h, x.(models.Item)) }

func (h *rankHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
