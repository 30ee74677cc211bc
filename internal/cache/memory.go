// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"sync"
	"time"

	"github.com/missionops/voicesync/internal/metrics"
)

// entry represents a cached value with expiration time.
type entry struct {
	value      []byte
	expiration time.Time
}

func (e *entry) isExpired(now time.Time) bool {
	return now.After(e.expiration)
}

type listEntry struct {
	values     [][]byte
	expiration time.Time
}

// MemoryStore is an in-memory Store for tests and single-process runs.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
	lists   map[string]*listEntry
	stats   Stats
	done    chan struct{}
	once    sync.Once
}

// NewMemoryStore creates an in-memory cache with a background janitor that
// removes expired entries every cleanupInterval.
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*entry),
		lists:   make(map[string]*listEntry),
		done:    make(chan struct{}),
	}
	go s.janitor(cleanupInterval)
	return s
}

func (s *MemoryStore) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep(time.Now())
		case <-s.done:
			return
		}
	}
}

func (s *MemoryStore) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		if e.isExpired(now) {
			delete(s.entries, k)
		}
	}
	for k, l := range s.lists {
		if now.After(l.expiration) {
			delete(s.lists, k)
		}
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || e.isExpired(time.Now()) {
		delete(s.entries, key)
		s.stats.Misses++
		metrics.RecordCacheOp("get", "miss")
		return nil, false, nil
	}
	s.stats.Hits++
	metrics.RecordCacheOp("get", "hit")
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	s.entries[key] = &entry{value: v, expiration: time.Now().Add(ttl)}
	s.stats.Sets++
	metrics.RecordCacheOp("set", "ok")
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	delete(s.lists, key)
	return nil
}

func (s *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if e, ok := s.entries[key]; ok && !e.isExpired(now) {
		e.expiration = now.Add(ttl)
		return true, nil
	}
	if l, ok := s.lists[key]; ok && now.Before(l.expiration) {
		l.expiration = now.Add(ttl)
		return true, nil
	}
	return false, nil
}

func (s *MemoryStore) PushList(ctx context.Context, key string, ttl time.Duration, values ...[]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	l, ok := s.lists[key]
	if !ok || now.After(l.expiration) {
		l = &listEntry{}
		s.lists[key] = l
	}
	for _, v := range values {
		cp := make([]byte, len(v))
		copy(cp, v)
		l.values = append(l.values, cp)
	}
	l.expiration = now.Add(ttl)
	metrics.RecordCacheOp("push", "ok")
	return nil
}

func (s *MemoryStore) DrainList(ctx context.Context, key string) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lists[key]
	if !ok || time.Now().After(l.expiration) {
		delete(s.lists, key)
		return nil, nil
	}
	delete(s.lists, key)
	metrics.RecordCacheOp("drain", "ok")
	return l.values, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

var _ Store = (*MemoryStore)(nil)
