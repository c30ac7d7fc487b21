package fetch

import (
	"time"

	"github.com/mobilemkch/mkchd/internal/config"
)

// Resource 标识一类可缓存的上游资源。
type Resource string

const (
	ResourceBoards       Resource = "boards"
	ResourceThreads      Resource = "threads"
	ResourceThreadDetail Resource = "thread_detail"
	ResourceComments     Resource = "comments"
)

// Source 表示一次读取的数据来源，HTTP 层以 X-Mkch-Cache 头透出。
type Source string

const (
	SourceCache   Source = "cache"
	SourceNetwork Source = "network"
	SourceStale   Source = "stale"
)

// ResourceInfo 描述资源的 key 形式与缓存有效期。
type ResourceInfo struct {
	Name Resource      `json:"name"`
	Key  string        `json:"key"`
	TTL  time.Duration `json:"-"`
}

// ttlTable 把配置映射为按资源查找的 TTL。
type ttlTable map[Resource]time.Duration

func newTTLTable(cfg config.TTLConfig) ttlTable {
	defaults := config.DefaultTTL()
	pick := func(value, fallback config.Duration) time.Duration {
		if value.DurationValue() > 0 {
			return value.DurationValue()
		}
		return fallback.DurationValue()
	}
	return ttlTable{
		ResourceBoards:       pick(cfg.Boards, defaults.Boards),
		ResourceThreads:      pick(cfg.Threads, defaults.Threads),
		ResourceThreadDetail: pick(cfg.ThreadDetail, defaults.ThreadDetail),
		ResourceComments:     pick(cfg.Comments, defaults.Comments),
	}
}

// Resources 返回资源表，供诊断接口展示。
func (o *Orchestrator) Resources() []ResourceInfo {
	return []ResourceInfo{
		{Name: ResourceBoards, Key: "boards", TTL: o.ttl[ResourceBoards]},
		{Name: ResourceThreads, Key: "threads_<board>", TTL: o.ttl[ResourceThreads]},
		{Name: ResourceThreadDetail, Key: "thread_detail_<id>", TTL: o.ttl[ResourceThreadDetail]},
		{Name: ResourceComments, Key: "comments_<id>", TTL: o.ttl[ResourceComments]},
	}
}

// TTL 返回资源的缓存有效期。
func (o *Orchestrator) TTL(resource Resource) time.Duration {
	return o.ttl[resource]
}
