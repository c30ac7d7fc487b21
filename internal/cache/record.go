package cache

import "time"

// Entry 是内存层中的一条缓存：序列化后的数据、写入时间与 TTL。
type Entry struct {
	Data     []byte
	StoredAt time.Time
	TTL      time.Duration
}

// Expired 判断在 now 时刻条目是否过期；恰好经过 TTL 时仍视为有效。
func (e Entry) Expired(now time.Time) bool {
	return now.Sub(e.StoredAt) > e.TTL
}

// Record 是 Entry 的落盘形式。TTL 以秒（浮点）存储。
type Record struct {
	Key       string    `json:"key,omitempty"`
	Data      []byte    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
	TTL       float64   `json:"ttl"`
}

func recordFromEntry(key string, e Entry) Record {
	return Record{
		Key:       key,
		Data:      e.Data,
		Timestamp: e.StoredAt,
		TTL:       e.TTL.Seconds(),
	}
}

// Entry 将落盘记录还原为内存条目。
func (r Record) Entry() Entry {
	return Entry{
		Data:     r.Data,
		StoredAt: r.Timestamp,
		TTL:      time.Duration(r.TTL * float64(time.Second)),
	}
}
