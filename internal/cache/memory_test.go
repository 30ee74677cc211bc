// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"testing"
	"time"
)

func newTestMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore(time.Minute)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMemoryStore_SetGetDelete(t *testing.T) {
	s := newTestMemoryStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	val, found, _ := s.Get(ctx, "k")
	if !found || string(val) != "v" {
		t.Fatalf("expected v, got %q found=%v", val, found)
	}

	_ = s.Delete(ctx, "k")
	if _, found, _ := s.Get(ctx, "k"); found {
		t.Error("expected key deleted")
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	s := newTestMemoryStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v"), -time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, found, _ := s.Get(ctx, "k"); found {
		t.Error("expected expired key to miss")
	}
}

func TestMemoryStore_DrainListAtomic(t *testing.T) {
	s := newTestMemoryStore(t)
	ctx := context.Background()

	_ = s.PushList(ctx, "q", time.Hour, []byte("a"), []byte("b"))

	items, err := s.DrainList(ctx, "q")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(items) != 2 || string(items[0]) != "a" || string(items[1]) != "b" {
		t.Fatalf("unexpected drain result: %v", items)
	}

	items, _ = s.DrainList(ctx, "q")
	if len(items) != 0 {
		t.Errorf("expected second drain empty, got %d", len(items))
	}
}

func TestMemoryStore_GetCopiesValue(t *testing.T) {
	s := newTestMemoryStore(t)
	ctx := context.Background()

	_ = s.Set(ctx, "k", []byte("abc"), time.Minute)
	val, _, _ := s.Get(ctx, "k")
	val[0] = 'z'

	again, _, _ := s.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("stored value was mutated through the returned slice: %q", again)
	}
}
