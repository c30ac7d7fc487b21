package cache

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mobilemkch/mkchd/internal/logging"
)

// DefaultSweepInterval 是后台清理的默认周期。
const DefaultSweepInterval = 300 * time.Second

// Options 控制 Cache 的可注入依赖，零值字段使用默认实现。
type Options struct {
	Logger        *logrus.Logger
	Now           func() time.Time
	SweepInterval time.Duration
}

// Cache 串联内存层与磁盘层：内存层负责快速读取，磁盘层负责跨重启保留。
// 内存层只归 Cache 所有，磁盘文件也只经由 Cache 访问。
type Cache struct {
	mem           *memoryLayer
	store         Store
	logger        *logrus.Logger
	now           func() time.Time
	sweepInterval time.Duration
}

// SweepResult 汇总一次清理两层各自删除的条目数。
type SweepResult struct {
	Memory int
	Disk   int
}

// Stats 是缓存状态快照，供诊断接口输出。
type Stats struct {
	MemoryEntries int           `json:"memory_entries"`
	SweepInterval time.Duration `json:"-"`
}

// New 构造 Cache。store 为 nil 时仅使用内存层。
func New(store Store, opts Options) *Cache {
	c := &Cache{
		mem:           newMemoryLayer(),
		store:         store,
		logger:        opts.Logger,
		now:           opts.Now,
		sweepInterval: opts.SweepInterval,
	}
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.SetOutput(io.Discard)
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.sweepInterval <= 0 {
		c.sweepInterval = DefaultSweepInterval
	}
	return c
}

// Set 序列化 value 并写入两层。编码失败时不写入任何内容；
// 磁盘写入失败只记录日志，内存层依旧生效。
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.WithError(err).WithFields(logging.CacheFields("cache_set", key, "memory")).
			Warn("cache_encode_failed")
		return
	}

	entry := Entry{Data: data, StoredAt: c.now(), TTL: ttl}
	c.mem.set(key, entry)

	if c.store == nil {
		return
	}
	if err := c.store.Save(ctx, key, recordFromEntry(key, entry)); err != nil {
		c.logger.WithError(err).WithFields(logging.CacheFields("cache_set", key, "disk")).
			Warn("cache_persist_failed")
	}
}

// Get 将未过期的缓存值解码到 out，返回是否命中。
// 内存未命中时回落到磁盘，命中且未过期则提升回内存；已过期则两层一并删除。
func (c *Cache) Get(ctx context.Context, key string, out any) bool {
	data, ok := c.lookup(ctx, key, false)
	if !ok {
		return false
	}
	return c.decode(key, data, out)
}

// GetStale 与 Get 走相同的查找路径，但忽略 TTL，也不会删除任何条目。
// 仅供离线模式与网络失败时兜底使用。
func (c *Cache) GetStale(ctx context.Context, key string, out any) bool {
	data, ok := c.lookup(ctx, key, true)
	if !ok {
		return false
	}
	return c.decode(key, data, out)
}

// Delete 从两层删除 key，重复调用无副作用。
func (c *Cache) Delete(ctx context.Context, key string) {
	c.mem.remove(key)
	if c.store == nil {
		return
	}
	if err := c.store.Remove(ctx, key); err != nil {
		c.logger.WithError(err).WithFields(logging.CacheFields("cache_delete", key, "disk")).
			Warn("cache_remove_failed")
	}
}

// Clear 清空两层。
func (c *Cache) Clear(ctx context.Context) {
	c.mem.clear()
	if c.store == nil {
		return
	}
	if err := c.store.Clear(ctx); err != nil {
		c.logger.WithError(err).WithFields(logging.CacheFields("cache_clear", "", "disk")).
			Warn("cache_clear_failed")
	}
}

// Sweep 执行一次过期清理：先扫内存层，再独立扫磁盘层，两者之间不保证原子性。
func (c *Cache) Sweep(ctx context.Context) SweepResult {
	now := c.now()
	result := SweepResult{Memory: len(c.mem.sweep(now))}

	if c.store != nil {
		removed, err := c.store.Sweep(ctx, now)
		result.Disk = removed
		if err != nil {
			c.logger.WithError(err).WithFields(logging.CacheFields("cache_sweep", "", "disk")).
				Warn("cache_sweep_failed")
		}
	}

	if result.Memory > 0 || result.Disk > 0 {
		c.logger.WithFields(logrus.Fields{
			"action":         "cache_sweep",
			"memory_evicted": result.Memory,
			"disk_evicted":   result.Disk,
		}).Debug("过期缓存已清理")
	}
	return result
}

// Run 按 SweepInterval 周期执行 Sweep，直到 ctx 结束（通常即进程退出）。
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// Stats 返回当前缓存状态。
func (c *Cache) Stats() Stats {
	return Stats{
		MemoryEntries: c.mem.len(),
		SweepInterval: c.sweepInterval,
	}
}

func (c *Cache) lookup(ctx context.Context, key string, allowStale bool) ([]byte, bool) {
	now := c.now()

	if entry, ok := c.mem.get(key); ok {
		if !allowStale && entry.Expired(now) {
			c.evict(ctx, key, entry)
			return nil, false
		}
		return entry.Data, true
	}

	if c.store == nil {
		return nil, false
	}
	record, err := c.store.Load(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.WithError(err).WithFields(logging.CacheFields("cache_get", key, "disk")).
				Warn("cache_load_failed")
		}
		return nil, false
	}

	entry := record.Entry()
	if entry.Expired(now) {
		if allowStale {
			return entry.Data, true
		}
		c.evict(ctx, key, entry)
		return nil, false
	}

	return c.mem.promote(key, entry).Data, true
}

// evict 删除已过期条目。两层都只删除写入时间与 expired 一致的那条记录，
// 并发 set 写入的新值保留不动。
func (c *Cache) evict(ctx context.Context, key string, expired Entry) {
	if current, ok := c.mem.get(key); ok && !current.StoredAt.Equal(expired.StoredAt) {
		return
	}
	c.mem.removeIf(key, expired.StoredAt)
	if c.store == nil {
		return
	}
	if _, err := c.store.RemoveIf(ctx, key, expired.StoredAt); err != nil {
		c.logger.WithError(err).WithFields(logging.CacheFields("cache_evict", key, "disk")).
			Warn("cache_remove_failed")
	}
}

func (c *Cache) decode(key string, data []byte, out any) bool {
	if err := json.Unmarshal(data, out); err != nil {
		c.logger.WithError(err).WithFields(logging.CacheFields("cache_get", key, "memory")).
			Warn("cache_decode_failed")
		return false
	}
	return true
}
