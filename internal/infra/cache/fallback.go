package cache

import (
	"fmt"
	"maps"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultFallbackSize = 10000

// CacheEntry is the last value observed for a key. Entries carry no TTL and
// are evicted least-recently-used first.
type CacheEntry struct {
	Key        string
	Value      []byte
	Fields     map[string]string
	Members    map[string]struct{}
	InsertedAt time.Time
}

// FallbackCache keeps last-known values for reads served while the remote cache is unreachable.
type FallbackCache struct {
	mu      sync.Mutex
	entries *lru.Cache[string, CacheEntry]
	now     func() time.Time
}

// NewFallbackCache builds a bounded fallback store.
func NewFallbackCache(size int) (*FallbackCache, error) {
	if size <= 0 {
		size = defaultFallbackSize
	}
	entries, err := lru.New[string, CacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("create fallback cache: %w", err)
	}
	return &FallbackCache{entries: entries, now: time.Now}, nil
}

// Get returns the entry stored for key.
func (f *FallbackCache) Get(key string) (CacheEntry, bool) {
	return f.entries.Get(key)
}

// Len returns the number of entries held.
func (f *FallbackCache) Len() int {
	return f.entries.Len()
}

// Contains reports whether key is held without touching its recency.
func (f *FallbackCache) Contains(key string) bool {
	return f.entries.Contains(key)
}

// Remove drops key.
func (f *FallbackCache) Remove(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.entries.Remove(key)
}

// PutValue replaces the string value stored for key.
func (f *FallbackCache) PutValue(key string, value []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.entries.Add(key, CacheEntry{
		Key:        key,
		Value:      append([]byte(nil), value...),
		InsertedAt: f.now(),
	})
}

// PutFields replaces the whole hash stored for key.
func (f *FallbackCache) PutFields(key string, fields map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.entries.Add(key, CacheEntry{
		Key:        key,
		Fields:     maps.Clone(fields),
		InsertedAt: f.now(),
	})
}

// MergeFields overlays fields onto the hash stored for key.
func (f *FallbackCache) MergeFields(key string, fields map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, _ := f.entries.Peek(key)
	merged := make(map[string]string, len(entry.Fields)+len(fields))
	maps.Copy(merged, entry.Fields)
	maps.Copy(merged, fields)
	f.entries.Add(key, CacheEntry{Key: key, Fields: merged, InsertedAt: f.now()})
}

// SetField updates a single field only when the hash is already known locally.
func (f *FallbackCache) SetField(key, field, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.entries.Peek(key)
	if !ok || entry.Fields == nil {
		return
	}
	fields := maps.Clone(entry.Fields)
	fields[field] = value
	f.entries.Add(key, CacheEntry{Key: key, Fields: fields, InsertedAt: f.now()})
}

// PutMembers replaces the set stored for key.
func (f *FallbackCache) PutMembers(key string, members []string) {
	set := make(map[string]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries.Add(key, CacheEntry{Key: key, Members: set, InsertedAt: f.now()})
}

// AddMembers adds members to the set stored for key.
func (f *FallbackCache) AddMembers(key string, members ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, _ := f.entries.Peek(key)
	set := make(map[string]struct{}, len(entry.Members)+len(members))
	for m := range entry.Members {
		set[m] = struct{}{}
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	f.entries.Add(key, CacheEntry{Key: key, Members: set, InsertedAt: f.now()})
}

// RemoveMember drops member from the set stored for key, if known.
func (f *FallbackCache) RemoveMember(key, member string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.entries.Peek(key)
	if !ok || entry.Members == nil {
		return
	}
	set := make(map[string]struct{}, len(entry.Members))
	for m := range entry.Members {
		if m != member {
			set[m] = struct{}{}
		}
	}
	f.entries.Add(key, CacheEntry{Key: key, Members: set, InsertedAt: f.now()})
}
