package cache

import (
	"context"
	"errors"
	"time"
)

// Store 负责缓存记录的持久化。磁盘布局遵循：
//
//	<StoragePath>/cache/<sha256(key)>.json    # {"key","data","timestamp","ttl"}
//
// 每个 key 对应一个文件，文件名由 key 的哈希派生，任意字符的 key 都能安全落盘。
type Store interface {
	// Load 读取 key 对应的记录。若不存在则返回 ErrNotFound。
	Load(ctx context.Context, key string) (*Record, error)

	// Save 通过临时文件 + rename 原子写入记录，失败时清理临时文件。
	Save(ctx context.Context, key string, record Record) error

	// Remove 删除 key 对应的文件，不存在时视为成功。
	Remove(ctx context.Context, key string) error

	// RemoveIf 仅在磁盘记录的写入时间等于 storedAt 时删除，返回是否删除。
	// 记录不存在时返回 false 与 nil。
	RemoveIf(ctx context.Context, key string, storedAt time.Time) (bool, error)

	// Clear 删除全部记录文件。
	Clear(ctx context.Context) error

	// Sweep 删除所有在 now 时刻已过期（或无法解析）的记录，返回删除数量。
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")
