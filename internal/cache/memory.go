package cache

import (
	"sync"
	"time"
)

// memoryLayer 是读多写少的共享状态：读取走 RLock 可并发，写入互斥。
type memoryLayer struct {
	mu    sync.RWMutex
	items map[string]Entry
}

func newMemoryLayer() *memoryLayer {
	return &memoryLayer{items: make(map[string]Entry)}
}

func (m *memoryLayer) get(key string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.items[key]
	return entry, ok
}

func (m *memoryLayer) set(key string, entry Entry) {
	m.mu.Lock()
	m.items[key] = entry
	m.mu.Unlock()
}

// promote 仅在 key 不存在或现有条目更旧时写入 entry，返回写入后内存中的条目。
// 从磁盘读回的旧记录不会覆盖读取期间并发 set 写入的新值。
func (m *memoryLayer) promote(key string, entry Entry) Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.items[key]; ok && !current.StoredAt.Before(entry.StoredAt) {
		return current
	}
	m.items[key] = entry
	return entry
}

func (m *memoryLayer) remove(key string) {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
}

// removeIf 仅在 key 仍指向 storedAt 时间写入的那条记录时删除，
// 避免把并发 set 刚写入的新值当作过期条目清掉。
func (m *memoryLayer) removeIf(key string, storedAt time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.items[key]
	if !ok || !entry.StoredAt.Equal(storedAt) {
		return false
	}
	delete(m.items, key)
	return true
}

func (m *memoryLayer) clear() {
	m.mu.Lock()
	m.items = make(map[string]Entry)
	m.mu.Unlock()
}

// sweep 删除 now 时刻已过期的条目，返回被删除的 key。
func (m *memoryLayer) sweep(now time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var evicted []string
	for key, entry := range m.items {
		if entry.Expired(now) {
			delete(m.items, key)
			evicted = append(evicted, key)
		}
	}
	return evicted
}

func (m *memoryLayer) len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
