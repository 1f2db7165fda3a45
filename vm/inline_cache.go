package vm

// Inline Caching for Call Sites
//
// Every CALL_NATIVE and CALL_INDIRECT site owns a cache keyed by the
// callee pointer. CALL_NATIVE sites always see one key and stay
// monomorphic; indirect sites move through the usual states as targets
// vary. The cache is indexed by bytecode PC within a function.

// CacheState represents the current state of an inline cache.
type CacheState uint8

const (
	CacheEmpty       CacheState = iota // No cached lookup yet
	CacheMonomorphic                   // Single target cached
	CachePolymorphic                   // 2-4 entries
	CacheMegamorphic                   // Too many targets, resolve every time
)

// MaxPICEntries is the maximum number of entries in a polymorphic cache.
const MaxPICEntries = 4

// callTarget is a resolved callee: a bytecode function index, or a native
// entry when native is set.
type callTarget struct {
	fn     int
	native *NativeEntry
}

// InlineCacheEntry holds a single resolved callee.
type InlineCacheEntry struct {
	Key    Slot
	target callTarget
}

// InlineCache represents the cache state for a single call site.
type InlineCache struct {
	State   CacheState
	Entries [MaxPICEntries]InlineCacheEntry
	Count   int

	Hits   uint64
	Misses uint64
}

// Lookup returns the cached callee for key.
func (ic *InlineCache) Lookup(key Slot) (callTarget, bool) {
	switch ic.State {
	case CacheMonomorphic:
		if ic.Entries[0].Key == key {
			ic.Hits++
			return ic.Entries[0].target, true
		}
	case CachePolymorphic:
		for i := 0; i < ic.Count; i++ {
			if ic.Entries[i].Key == key {
				ic.Hits++
				return ic.Entries[i].target, true
			}
		}
	}
	ic.Misses++
	return callTarget{}, false
}

// Update records a resolved callee, upgrading the cache state as needed.
func (ic *InlineCache) Update(key Slot, t callTarget) {
	switch ic.State {
	case CacheEmpty:
		ic.State = CacheMonomorphic
		ic.Entries[0] = InlineCacheEntry{Key: key, target: t}
		ic.Count = 1

	case CacheMonomorphic:
		if ic.Entries[0].Key == key {
			return
		}
		ic.State = CachePolymorphic
		ic.Entries[1] = InlineCacheEntry{Key: key, target: t}
		ic.Count = 2

	case CachePolymorphic:
		for i := 0; i < ic.Count; i++ {
			if ic.Entries[i].Key == key {
				return
			}
		}
		if ic.Count < MaxPICEntries {
			ic.Entries[ic.Count] = InlineCacheEntry{Key: key, target: t}
			ic.Count++
			return
		}
		ic.State = CacheMegamorphic
		ic.Entries = [MaxPICEntries]InlineCacheEntry{}
		ic.Count = 0
	}
}

// HitRate returns the cache hit rate as a percentage (0-100).
func (ic *InlineCache) HitRate() float64 {
	total := ic.Hits + ic.Misses
	if total == 0 {
		return 0
	}
	return float64(ic.Hits) * 100 / float64(total)
}

// Reset clears the cache back to empty state.
func (ic *InlineCache) Reset() {
	*ic = InlineCache{}
}

// InlineCacheTable holds the caches of one function, keyed by pc.
type InlineCacheTable struct {
	caches map[int]*InlineCache
}

// NewInlineCacheTable creates a new inline cache table.
func NewInlineCacheTable() *InlineCacheTable {
	return &InlineCacheTable{caches: make(map[int]*InlineCache)}
}

// GetOrCreate returns the cache for a given PC, creating one if needed.
func (t *InlineCacheTable) GetOrCreate(pc int) *InlineCache {
	if ic := t.caches[pc]; ic != nil {
		return ic
	}
	ic := &InlineCache{}
	t.caches[pc] = ic
	return ic
}

// Get returns the cache for a given PC, or nil if none exists.
func (t *InlineCacheTable) Get(pc int) *InlineCache {
	return t.caches[pc]
}

// Stats returns aggregate statistics for all caches in the table.
func (t *InlineCacheTable) Stats() (mono, poly, mega, empty int, totalHits, totalMisses uint64) {
	for _, ic := range t.caches {
		switch ic.State {
		case CacheMonomorphic:
			mono++
		case CachePolymorphic:
			poly++
		case CacheMegamorphic:
			mega++
		case CacheEmpty:
			empty++
		}
		totalHits += ic.Hits
		totalMisses += ic.Misses
	}
	return
}

// HitRate returns the aggregate hit rate for all caches.
func (t *InlineCacheTable) HitRate() float64 {
	_, _, _, _, hits, misses := t.Stats()
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) * 100 / float64(total)
}

// Reset clears all caches in the table.
func (t *InlineCacheTable) Reset() {
	for _, ic := range t.caches {
		ic.Reset()
	}
}

// ICStats holds aggregate inline cache statistics.
type ICStats struct {
	TotalCallSites  int
	Monomorphic     int
	Polymorphic     int
	Megamorphic     int
	Empty           int
	TotalHits       uint64
	TotalMisses     uint64
	HitRate         float64
	MonomorphicRate float64
}

// ICStats gathers call-site cache statistics across all functions.
func (i *Interpreter) ICStats() ICStats {
	var stats ICStats
	for _, t := range i.caches {
		if t == nil {
			continue
		}
		mono, poly, mega, empty, hits, misses := t.Stats()
		stats.Monomorphic += mono
		stats.Polymorphic += poly
		stats.Megamorphic += mega
		stats.Empty += empty
		stats.TotalHits += hits
		stats.TotalMisses += misses
		stats.TotalCallSites += mono + poly + mega + empty
	}
	if total := stats.TotalHits + stats.TotalMisses; total > 0 {
		stats.HitRate = float64(stats.TotalHits) * 100 / float64(total)
	}
	if nonEmpty := stats.TotalCallSites - stats.Empty; nonEmpty > 0 {
		stats.MonomorphicRate = float64(stats.Monomorphic) * 100 / float64(nonEmpty)
	}
	return stats
}

// siteCache returns the cache of the instruction being executed.
func (i *Interpreter) siteCache() *InlineCache {
	t := i.caches[i.fnIdx]
	if t == nil {
		t = NewInlineCacheTable()
		i.caches[i.fnIdx] = t
	}
	return t.GetOrCreate(i.ipc)
}
