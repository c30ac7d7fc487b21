package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Preferences 是进程级的键值偏好存储，整个文件以 JSON 对象落盘。
// 每次写入都会立即持久化（临时文件 + rename）。
type Preferences struct {
	path string

	mu     sync.RWMutex
	values map[string]json.RawMessage
}

// OpenPreferences 读取 path 指向的偏好文件，文件不存在时视为空。
func OpenPreferences(path string) (*Preferences, error) {
	if path == "" {
		return nil, errors.New("preferences path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create preferences dir: %w", err)
	}

	values := make(map[string]json.RawMessage)
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read preferences: %w", err)
	case len(raw) > 0:
		if err := json.Unmarshal(raw, &values); err != nil {
			return nil, fmt.Errorf("decode preferences %s: %w", path, err)
		}
	}

	return &Preferences{path: path, values: values}, nil
}

// Path 返回偏好文件位置。
func (p *Preferences) Path() string {
	return p.path
}

// Bool 读取布尔值，缺失或类型不符时返回 false。
func (p *Preferences) Bool(key string) bool {
	var value bool
	if !p.Get(key, &value) {
		return false
	}
	return value
}

// SetBool 写入布尔值并立即落盘。
func (p *Preferences) SetBool(key string, value bool) error {
	return p.Set(key, value)
}

// Get 将 key 对应的 JSON 值解码到 out，缺失或解码失败返回 false。
func (p *Preferences) Get(key string, out any) bool {
	p.mu.RLock()
	raw, ok := p.values[key]
	p.mu.RUnlock()
	if !ok {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

// Set 编码 value 并写入 key。
func (p *Preferences) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode preference %s: %w", key, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	prev, existed := p.values[key]
	p.values[key] = raw
	if err := p.flushLocked(); err != nil {
		if existed {
			p.values[key] = prev
		} else {
			delete(p.values, key)
		}
		return err
	}
	return nil
}

// Remove 删除 key；不存在时为 no-op。
func (p *Preferences) Remove(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.values[key]; !ok {
		return nil
	}
	delete(p.values, key)
	return p.flushLocked()
}

func (p *Preferences) flushLocked() error {
	raw, err := json.MarshalIndent(p.values, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(p.path), ".preferences-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
