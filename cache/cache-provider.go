package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DefaultShards is the number of shards used by NewMemCache.
const DefaultShards = 32

// Provider is an interface for a cache entry store.
// It stores and retrieves fetched values by resource key,
// together with the time of the fetch that produced them.
// Entries are never evicted or expired by the provider,
// freshness is decided by the caller.
//
// Implementations must be thread-safe!
type Provider interface {
	// Get returns the entry for the given key, if it exists.
	// It also returns a boolean indicating whether retrieval was successful.
	Get(key string) (Entry, bool)
	// Put stores the given entry under its key.
	// An entry is only replaced by one that was fetched at the same time or later,
	// so FetchedAt never goes backwards for a key.
	// It returns whether the entry was stored.
	Put(entry Entry) bool
	// Keys calls the given callback for each stored key, in no particular order.
	Keys(cb func(string))
}

// Entry is a single successfully fetched value.
// The value is shared between all readers and must not be mutated.
type Entry struct {
	Key         string
	Value       any
	RequestedAt time.Time
	FetchedAt   time.Time
}

type memShard struct {
	mutex sync.RWMutex
	db    map[string]Entry
}

// MemCache is an in-memory Provider.
// Keys are spread over independently locked shards,
// so writes for one key never wait on a busy shard holding unrelated keys
// for longer than a single map operation.
type MemCache struct {
	shards []*memShard
}

// NewMemCache creates an in-memory cache with DefaultShards shards.
func NewMemCache() *MemCache {
	return NewShardedMemCache(DefaultShards)
}

// NewShardedMemCache creates an in-memory cache with n shards (at least one).
func NewShardedMemCache(n int) *MemCache {
	if n < 1 {
		n = 1
	}
	m := &MemCache{shards: make([]*memShard, n)}
	for i := range m.shards {
		m.shards[i] = &memShard{db: make(map[string]Entry)}
	}
	return m
}

func (m *MemCache) shard(key string) *memShard {
	return m.shards[xxhash.Sum64String(key)%uint64(len(m.shards))]
}

func (m *MemCache) Get(key string) (Entry, bool) {
	s := m.shard(key)
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	entry, ok := s.db[key]
	return entry, ok
}

func (m *MemCache) Put(entry Entry) bool {
	s := m.shard(entry.Key)
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if current, ok := s.db[entry.Key]; ok && current.FetchedAt.After(entry.FetchedAt) {
		return false
	}
	s.db[entry.Key] = entry
	return true
}

func (m *MemCache) Keys(cb func(string)) {
	for _, s := range m.shards {
		s.mutex.RLock()
		keys := make([]string, 0, len(s.db))
		for key := range s.db {
			keys = append(keys, key)
		}
		s.mutex.RUnlock()
		// callback runs unlocked, it may call back into the cache
		for _, key := range keys {
			cb(key)
		}
	}
}

// All returns a snapshot of every entry in the provider, sorted by key.
func All(p Provider) []Entry {
	keys := make([]string, 0)
	p.Keys(func(key string) {
		keys = append(keys, key)
	})
	sort.Strings(keys)
	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		if entry, ok := p.Get(key); ok {
			entries = append(entries, entry)
		}
	}
	return entries
}
