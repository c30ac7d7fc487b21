package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"
)

type board struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// fakeClock 提供可手动推进的时钟。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(t *testing.T, clock *fakeClock) (*Cache, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return New(store, Options{Now: clock.Now}), dir
}

var boardsListA = []board{{Code: "b", Description: "Бред"}, {Code: "a", Description: "Аниме"}}

func TestCacheRoundTrip(t *testing.T) {
	c, _ := newTestCache(t, newFakeClock())
	ctx := context.Background()

	c.Set(ctx, BoardsKey(), boardsListA, 600*time.Second)

	var got []board
	if !c.Get(ctx, BoardsKey(), &got) {
		t.Fatalf("expected cache hit")
	}
	if !reflect.DeepEqual(got, boardsListA) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestCacheBoardsScenario(t *testing.T) {
	clock := newFakeClock()
	c, _ := newTestCache(t, clock)
	ctx := context.Background()

	c.Set(ctx, "boards", boardsListA, 600*time.Second)
	var got []board
	if !c.Get(ctx, "boards", &got) {
		t.Fatalf("expected immediate hit")
	}

	clock.Advance(601 * time.Second)
	if c.Get(ctx, "boards", &got) {
		t.Fatalf("expected miss after ttl")
	}

	var stale []board
	if !c.GetStale(ctx, "boards", &stale) {
		t.Fatalf("expected stale hit after ttl")
	}
	if !reflect.DeepEqual(stale, boardsListA) {
		t.Fatalf("stale mismatch: %+v", stale)
	}
}

func TestCacheTTLBoundary(t *testing.T) {
	clock := newFakeClock()
	c, _ := newTestCache(t, clock)
	ctx := context.Background()
	c.Set(ctx, ThreadsKey("b"), []int{1, 2, 3}, 300*time.Second)

	var got []int
	clock.Advance(300 * time.Second)
	if !c.Get(ctx, ThreadsKey("b"), &got) {
		t.Fatalf("entry must be valid at exactly ttl")
	}
	clock.Advance(time.Nanosecond)
	if c.Get(ctx, ThreadsKey("b"), &got) {
		t.Fatalf("entry must expire strictly after ttl")
	}
}

func TestCacheGetStaleIgnoresTTL(t *testing.T) {
	clock := newFakeClock()
	c, _ := newTestCache(t, clock)
	ctx := context.Background()
	c.Set(ctx, CommentsKey(5), []string{"first"}, 180*time.Second)
	clock.Advance(10 * time.Minute)

	var stale []string
	if !c.GetStale(ctx, CommentsKey(5), &stale) || stale[0] != "first" {
		t.Fatalf("stale read should return the old value before any fresh read")
	}
	if !c.GetStale(ctx, CommentsKey(5), &stale) {
		t.Fatalf("stale reads must not evict")
	}
}

func TestCacheDeleteRemovesBothLayers(t *testing.T) {
	c, dir := newTestCache(t, newFakeClock())
	ctx := context.Background()
	c.Set(ctx, ThreadDetailKey(42), map[string]int{"id": 42}, 180*time.Second)

	c.Delete(ctx, ThreadDetailKey(42))
	c.Delete(ctx, ThreadDetailKey(42))

	var got map[string]int
	if c.Get(ctx, ThreadDetailKey(42), &got) {
		t.Fatalf("expected miss after delete")
	}
	if c.GetStale(ctx, ThreadDetailKey(42), &got) {
		t.Fatalf("expected stale miss after delete")
	}
	if _, err := os.Stat(filepath.Join(dir, fileName(ThreadDetailKey(42)))); !os.IsNotExist(err) {
		t.Fatalf("record file should be removed, stat err=%v", err)
	}
}

func TestCacheClear(t *testing.T) {
	c, dir := newTestCache(t, newFakeClock())
	ctx := context.Background()
	c.Set(ctx, BoardsKey(), boardsListA, time.Minute)
	c.Set(ctx, ThreadsKey("a"), []int{1}, time.Minute)

	c.Clear(ctx)

	var got any
	if c.GetStale(ctx, BoardsKey(), &got) || c.GetStale(ctx, ThreadsKey("a"), &got) {
		t.Fatalf("expected all entries cleared")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected empty store dir, found %d files", len(entries))
	}
}

func TestCacheRehydratesFromDiskAfterRestart(t *testing.T) {
	clock := newFakeClock()
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("store error: %v", err)
	}
	ctx := context.Background()

	first := New(store, Options{Now: clock.Now})
	first.Set(ctx, BoardsKey(), boardsListA, 600*time.Second)

	clock.Advance(time.Minute)
	reopened, err := NewStore(dir)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	second := New(reopened, Options{Now: clock.Now})
	if second.Stats().MemoryEntries != 0 {
		t.Fatalf("fresh process must start with empty memory layer")
	}

	var got []board
	if !second.Get(ctx, BoardsKey(), &got) || !reflect.DeepEqual(got, boardsListA) {
		t.Fatalf("expected disk rehydration, got %+v", got)
	}
	if second.Stats().MemoryEntries != 1 {
		t.Fatalf("disk hit should be promoted into memory")
	}
}

func TestCacheExpiredDiskRecordIsEvictedOnGet(t *testing.T) {
	clock := newFakeClock()
	dir := t.TempDir()
	store, _ := NewStore(dir)
	ctx := context.Background()

	New(store, Options{Now: clock.Now}).Set(ctx, ThreadsKey("b"), []int{1}, 300*time.Second)
	clock.Advance(301 * time.Second)

	restarted := New(store, Options{Now: clock.Now})
	var got []int
	if !restarted.GetStale(ctx, ThreadsKey("b"), &got) {
		t.Fatalf("stale read should see the expired disk record")
	}
	if restarted.Stats().MemoryEntries != 0 {
		t.Fatalf("stale read must not promote expired records")
	}
	if restarted.Get(ctx, ThreadsKey("b"), &got) {
		t.Fatalf("expired disk record must not be returned by Get")
	}
	if _, err := os.Stat(filepath.Join(dir, fileName(ThreadsKey("b")))); !os.IsNotExist(err) {
		t.Fatalf("expired record file should be deleted by Get, stat err=%v", err)
	}
}

func TestCacheSweepEvictsExactlyExpired(t *testing.T) {
	clock := newFakeClock()
	c, dir := newTestCache(t, clock)
	ctx := context.Background()

	c.Set(ctx, BoardsKey(), boardsListA, 600*time.Second)
	c.Set(ctx, ThreadsKey("b"), []int{1}, 300*time.Second)
	c.Set(ctx, CommentsKey(1), []int{2}, 180*time.Second)
	c.Set(ctx, ThreadDetailKey(1), map[string]int{"id": 1}, 180*time.Second)

	clock.Advance(200 * time.Second)
	result := c.Sweep(ctx)
	if result.Memory != 2 || result.Disk != 2 {
		t.Fatalf("expected 2 evictions per layer, got %+v", result)
	}
	if c.Stats().MemoryEntries != 2 {
		t.Fatalf("expected 2 survivors in memory, got %d", c.Stats().MemoryEntries)
	}

	for _, key := range []string{CommentsKey(1), ThreadDetailKey(1)} {
		if _, err := os.Stat(filepath.Join(dir, fileName(key))); !os.IsNotExist(err) {
			t.Fatalf("expired %s should be gone from disk", key)
		}
	}
	var value any
	for _, key := range []string{BoardsKey(), ThreadsKey("b")} {
		if !c.Get(ctx, key, &value) {
			t.Fatalf("unexpired %s must be untouched", key)
		}
		if _, err := os.Stat(filepath.Join(dir, fileName(key))); err != nil {
			t.Fatalf("unexpired %s should stay on disk: %v", key, err)
		}
	}
}

func TestCacheDecodeFailureIsAMiss(t *testing.T) {
	c, _ := newTestCache(t, newFakeClock())
	ctx := context.Background()
	c.Set(ctx, BoardsKey(), "not a list", time.Minute)

	var got []board
	if c.Get(ctx, BoardsKey(), &got) {
		t.Fatalf("decode failure must be reported as a miss")
	}
}

func TestCacheEncodeFailureStoresNothing(t *testing.T) {
	c, _ := newTestCache(t, newFakeClock())
	ctx := context.Background()
	c.Set(ctx, BoardsKey(), make(chan int), time.Minute)

	var got any
	if c.GetStale(ctx, BoardsKey(), &got) {
		t.Fatalf("unencodable value must not be cached")
	}
}

type failingStore struct {
	Store
	saves int
}

func (s *failingStore) Save(ctx context.Context, key string, record Record) error {
	s.saves++
	return errors.New("disk full")
}

func TestCachePersistFailureKeepsMemory(t *testing.T) {
	store := &failingStore{Store: newTestStore(t)}
	c := New(store, Options{Now: newFakeClock().Now})
	ctx := context.Background()

	c.Set(ctx, BoardsKey(), boardsListA, time.Minute)

	var got []board
	if !c.Get(ctx, BoardsKey(), &got) {
		t.Fatalf("memory layer must stay authoritative when disk fails")
	}
	if store.saves != 1 {
		t.Fatalf("expected one persist attempt, got %d", store.saves)
	}
}

func TestCacheConcurrentAccess(t *testing.T) {
	c, _ := newTestCache(t, newFakeClock())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := ThreadsKey(string(rune('a' + i%4)))
			for j := 0; j < 50; j++ {
				c.Set(ctx, key, []int{i, j}, time.Minute)
				var got []int
				c.Get(ctx, key, &got)
				if j%10 == 0 {
					c.Delete(ctx, key)
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestCacheRunStopsWithContext(t *testing.T) {
	c := New(nil, Options{SweepInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	c.Set(context.Background(), BoardsKey(), boardsListA, time.Nanosecond)
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run should return after cancel")
	}
	if c.Stats().MemoryEntries != 0 {
		t.Fatalf("periodic sweep should have evicted the expired entry")
	}
}

// interleavingStore 在委托给真实 Store 的过程中插入一次并发写入。
type interleavingStore struct {
	Store
	onLoad     func()
	onRemoveIf func()
}

func (s *interleavingStore) Load(ctx context.Context, key string) (*Record, error) {
	record, err := s.Store.Load(ctx, key)
	if s.onLoad != nil {
		hook := s.onLoad
		s.onLoad = nil
		hook()
	}
	return record, err
}

func (s *interleavingStore) RemoveIf(ctx context.Context, key string, storedAt time.Time) (bool, error) {
	if s.onRemoveIf != nil {
		hook := s.onRemoveIf
		s.onRemoveIf = nil
		hook()
	}
	return s.Store.RemoveIf(ctx, key, storedAt)
}

func TestCachePromotionKeepsConcurrentWrite(t *testing.T) {
	clock := newFakeClock()
	base := newTestStore(t)
	ctx := context.Background()

	New(base, Options{Now: clock.Now}).Set(ctx, "k", "old", time.Minute)

	store := &interleavingStore{Store: base}
	c := New(store, Options{Now: clock.Now})
	store.onLoad = func() {
		clock.Advance(time.Second)
		c.Set(ctx, "k", "new", time.Minute)
	}

	var got string
	if !c.Get(ctx, "k", &got) || got != "new" {
		t.Fatalf("read racing a write should observe the newer value, got %q", got)
	}
	got = ""
	if !c.Get(ctx, "k", &got) || got != "new" {
		t.Fatalf("read after completed write returned %q", got)
	}
}

func TestCacheEvictionKeepsConcurrentWriteOnDisk(t *testing.T) {
	clock := newFakeClock()
	dir := t.TempDir()
	base, err := NewStore(dir)
	if err != nil {
		t.Fatalf("store error: %v", err)
	}
	ctx := context.Background()

	store := &interleavingStore{Store: base}
	c := New(store, Options{Now: clock.Now})
	c.Set(ctx, "k", "old", time.Minute)
	clock.Advance(2 * time.Minute)
	store.onRemoveIf = func() {
		clock.Advance(time.Second)
		c.Set(ctx, "k", "new", time.Minute)
	}

	var got string
	if c.Get(ctx, "k", &got) {
		t.Fatalf("expired entry must miss, got %q", got)
	}

	restarted := New(base, Options{Now: clock.Now})
	if !restarted.Get(ctx, "k", &got) || got != "new" {
		t.Fatalf("newer write must survive eviction on disk, got %q", got)
	}
}
