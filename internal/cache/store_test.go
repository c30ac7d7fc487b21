package cache

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestStoreSaveAndLoad(t *testing.T) {
	store := newTestStore(t)
	stored := time.Now().Add(-time.Minute).UTC()
	record := Record{Key: "boards", Data: []byte(`[{"code":"b"}]`), Timestamp: stored, TTL: 600}

	if err := store.Save(context.Background(), "boards", record); err != nil {
		t.Fatalf("save error: %v", err)
	}

	loaded, err := store.Load(context.Background(), "boards")
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if string(loaded.Data) != string(record.Data) {
		t.Fatalf("cached payload mismatch: %s", string(loaded.Data))
	}
	if !loaded.Timestamp.Equal(stored) {
		t.Fatalf("timestamp mismatch: expected %v got %v", stored, loaded.Timestamp)
	}
	if loaded.Entry().TTL != 600*time.Second {
		t.Fatalf("ttl mismatch: %s", loaded.Entry().TTL)
	}
}

func TestStoreLoadMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Load(context.Background(), "missing")
	if err == nil || err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreRemoveIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	record := Record{Data: []byte("1"), Timestamp: time.Now(), TTL: 60}
	if err := store.Save(context.Background(), "comments_7", record); err != nil {
		t.Fatalf("save error: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := store.Remove(context.Background(), "comments_7"); err != nil {
			t.Fatalf("remove #%d error: %v", i, err)
		}
	}
	if _, err := store.Load(context.Background(), "comments_7"); err != ErrNotFound {
		t.Fatalf("expected not found after remove, got %v", err)
	}
}

func TestStoreFileNamesAreHashed(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	key := "threads_../../etc/passwd with spaces/и юникод"
	if err := store.Save(context.Background(), key, Record{Data: []byte("x"), Timestamp: time.Now(), TTL: 1}); err != nil {
		t.Fatalf("save error: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one file, got %d", len(entries))
	}
	name := entries[0].Name()
	if name != fileName(key) || len(strings.TrimSuffix(name, ".json")) != 64 {
		t.Fatalf("unexpected file name %q", name)
	}
	if fileName("threads_b") == fileName("threads_c") {
		t.Fatalf("distinct keys must map to distinct files")
	}
}

func TestStoreSweepRemovesExpiredAndCorrupted(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	mustSave := func(key string, age time.Duration, ttl float64) {
		t.Helper()
		if err := store.Save(ctx, key, Record{Data: []byte(`"v"`), Timestamp: now.Add(-age), TTL: ttl}); err != nil {
			t.Fatalf("save %s: %v", key, err)
		}
	}
	mustSave("fresh", time.Minute, 600)
	mustSave("expired", 11*time.Minute, 600)
	if err := os.WriteFile(filepath.Join(dir, fileName("corrupted")), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupted: %v", err)
	}
	tempPath := filepath.Join(dir, tempPrefix+"inflight")
	if err := os.WriteFile(tempPath, []byte("partial"), 0o644); err != nil {
		t.Fatalf("write temp: %v", err)
	}

	removed, err := store.Sweep(ctx, now)
	if err != nil {
		t.Fatalf("sweep error: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removals, got %d", removed)
	}
	if _, err := store.Load(ctx, "fresh"); err != nil {
		t.Fatalf("fresh record should survive: %v", err)
	}
	if _, err := store.Load(ctx, "expired"); err != ErrNotFound {
		t.Fatalf("expired record should be gone, got %v", err)
	}
	if _, err := os.Stat(tempPath); err != nil {
		t.Fatalf("temp files must not be touched by sweep: %v", err)
	}
}

func TestStoreClear(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, key := range []string{"boards", "threads_b", "comments_1"} {
		if err := store.Save(ctx, key, Record{Data: []byte("1"), Timestamp: time.Now(), TTL: 60}); err != nil {
			t.Fatalf("save error: %v", err)
		}
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear error: %v", err)
	}
	for _, key := range []string{"boards", "threads_b", "comments_1"} {
		if _, err := store.Load(ctx, key); err != ErrNotFound {
			t.Fatalf("expected %s cleared, got %v", key, err)
		}
	}
}

// newTestStore returns a Store backed by a temporary directory.
func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func TestStoreRemoveIfMatchesTimestamp(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	older := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	newer := older.Add(time.Second)

	if err := store.Save(ctx, "threads_b", Record{Key: "threads_b", Data: []byte("[2]"), Timestamp: newer, TTL: 300}); err != nil {
		t.Fatalf("save error: %v", err)
	}

	removed, err := store.RemoveIf(ctx, "threads_b", older)
	if err != nil || removed {
		t.Fatalf("rewritten record must be kept, removed=%v err=%v", removed, err)
	}
	if _, err := store.Load(ctx, "threads_b"); err != nil {
		t.Fatalf("record should still load: %v", err)
	}

	removed, err = store.RemoveIf(ctx, "threads_b", newer)
	if err != nil || !removed {
		t.Fatalf("matching record should be removed, removed=%v err=%v", removed, err)
	}
	if removed, err := store.RemoveIf(ctx, "threads_b", newer); err != nil || removed {
		t.Fatalf("missing record should report false, removed=%v err=%v", removed, err)
	}
}
