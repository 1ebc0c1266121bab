// Package cache is a TTL'd, LRU-bounded key/value store for read results,
// with table-scoped invalidation so a committed write drops every cached
// variant (filters, pagination) of that table at once.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

type Store struct {
	mu             sync.RWMutex
	entries        map[string]*entry
	lru            *list.List // front = most recent
	epochs         map[string]uint64
	maxEntries     int
	defaultTTL     time.Duration
	fallbackMaxAge time.Duration

	hits   int64
	misses int64
}

type entry struct {
	key      string
	table    string
	value    interface{}
	storedAt time.Time
	ttl      time.Duration
	elem     *list.Element
}

type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

func NewStore(maxEntries int, defaultTTL, fallbackMaxAge time.Duration) *Store {
	if maxEntries <= 0 {
		maxEntries = 512
	}
	return &Store{
		entries:        make(map[string]*entry),
		lru:            list.New(),
		epochs:         make(map[string]uint64),
		maxEntries:     maxEntries,
		defaultTTL:     defaultTTL,
		fallbackMaxAge: fallbackMaxAge,
	}
}

// Key builds the deterministic cache key for a read operation. Filters are
// serialized in sorted key order so equivalent maps hash identically.
func Key(table, kind, id string, filters map[string]string, page, limit int) string {
	var sb []byte
	sb = append(sb, table...)
	sb = append(sb, '|')
	sb = append(sb, kind...)
	sb = append(sb, '|')
	sb = append(sb, id...)
	sb = append(sb, '|')

	if len(filters) > 0 {
		keys := make([]string, 0, len(filters))
		for k := range filters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			kv, _ := json.Marshal(map[string]string{k: filters[k]})
			sb = append(sb, kv...)
		}
	}
	sb = append(sb, fmt.Sprintf("|%d|%d", page, limit)...)

	sum := sha256.Sum256(sb)
	return table + ":" + hex.EncodeToString(sum[:16])
}

// Get returns a value that is still within its TTL. Expired entries are
// purged lazily here rather than by a background sweeper.
func (s *Store) Get(key string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		s.misses++
		return nil, false
	}

	age := time.Since(e.storedAt)
	if age > e.ttl {
		// Keep entries younger than the fallback horizon around for
		// GetFallback; drop the rest.
		if age > s.fallbackMaxAge {
			s.removeLocked(e)
		}
		s.misses++
		return nil, false
	}

	s.lru.MoveToFront(e.elem)
	s.hits++
	return e.value, true
}

// GetFallback returns a value under the looser fallback horizon. Used only
// after the remote call has definitively failed.
func (s *Store) GetFallback(key string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if time.Since(e.storedAt) > s.fallbackMaxAge {
		s.removeLocked(e)
		return nil, false
	}
	return e.value, true
}

func (s *Store) Set(key, table string, value interface{}) {
	s.SetTTL(key, table, value, s.defaultTTL)
}

func (s *Store) SetTTL(key, table string, value interface{}, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(key, table, value, ttl)
}

// Epoch returns the table's invalidation epoch. A reader captures it before
// going to the remote and hands it back to SetIfFresh, which refuses the
// populate when a write invalidated the table while the read was in flight.
func (s *Store) Epoch(table string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epochs[table]
}

// SetIfFresh stores the value only if no invalidation of the table happened
// since epoch was captured. Returns whether the value was stored.
func (s *Store) SetIfFresh(key, table string, value interface{}, epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epochs[table] != epoch {
		return false
	}
	s.setLocked(key, table, value, s.defaultTTL)
	return true
}

func (s *Store) setLocked(key, table string, value interface{}, ttl time.Duration) {
	if e, ok := s.entries[key]; ok {
		e.value = value
		e.storedAt = time.Now()
		e.ttl = ttl
		s.lru.MoveToFront(e.elem)
		return
	}

	e := &entry{key: key, table: table, value: value, storedAt: time.Now(), ttl: ttl}
	e.elem = s.lru.PushFront(e)
	s.entries[key] = e

	for len(s.entries) > s.maxEntries {
		oldest := s.lru.Back()
		if oldest == nil {
			break
		}
		s.removeLocked(oldest.Value.(*entry))
	}
}

// InvalidateTable removes every entry for the table, whatever filter or
// pagination suffix it was stored under, and bumps the table's epoch. The
// bump happens even when nothing is cached yet: a read that missed and is
// still at the remote must not populate its pre-write payload afterwards.
func (s *Store) InvalidateTable(table string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.epochs[table]++

	removed := 0
	for _, e := range s.entries {
		if e.table == table {
			s.removeLocked(e)
			removed++
		}
	}
	return removed
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*entry)
	s.lru.Init()
	for table := range s.epochs {
		s.epochs[table]++
	}
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{Hits: s.hits, Misses: s.misses, Entries: len(s.entries)}
}

func (s *Store) removeLocked(e *entry) {
	delete(s.entries, e.key)
	s.lru.Remove(e.elem)
}
