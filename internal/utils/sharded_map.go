package utils

import (
	"hash/fnv"
	"sync"
)

const shardCount = 32

// ShardedMap spreads keys over independently locked shards so unrelated
// keys never contend on one mutex.
type ShardedMap[V any] struct {
	shards [shardCount]mapShard[V]
}

type mapShard[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

func NewShardedMap[V any]() *ShardedMap[V] {
	m := &ShardedMap[V]{}
	for i := range m.shards {
		m.shards[i].items = make(map[string]V)
	}
	return m
}

func (m *ShardedMap[V]) shard(key string) *mapShard[V] {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &m.shards[h.Sum32()%shardCount]
}

func (m *ShardedMap[V]) Get(key string) (V, bool) {
	s := m.shard(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.items[key]
	return value, ok
}

func (m *ShardedMap[V]) GetOrCreate(key string, create func() V) V {
	s := m.shard(key)
	s.mu.RLock()
	value, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		return value
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if value, ok = s.items[key]; ok {
		return value
	}
	value = create()
	s.items[key] = value
	return value
}

func (m *ShardedMap[V]) Delete(key string) {
	s := m.shard(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// RemoveIf deletes key when match accepts its value. match runs under the
// shard lock.
func (m *ShardedMap[V]) RemoveIf(key string, match func(value V) bool) bool {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.items[key]
	if !ok || !match(value) {
		return false
	}
	delete(s.items, key)
	return true
}

// DeleteIf removes every entry the predicate accepts and returns how many went.
func (m *ShardedMap[V]) DeleteIf(match func(key string, value V) bool) int {
	removed := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for key, value := range s.items {
			if match(key, value) {
				delete(s.items, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

func (m *ShardedMap[V]) Range(fn func(key string, value V) bool) {
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		for key, value := range s.items {
			if !fn(key, value) {
				s.mu.RUnlock()
				return
			}
		}
		s.mu.RUnlock()
	}
}

func (m *ShardedMap[V]) Len() int {
	total := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}
