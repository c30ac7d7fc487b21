package settings

import (
	"sync"
	"time"
)

// SettingsKey 是设置整体在偏好存储中的 key。
const SettingsKey = "MobileMkchSettings"

// Settings 是客户端可调整的全部选项，整体作为一个 JSON 值保存。
type Settings struct {
	Theme                  string           `json:"theme"`
	LastBoard              string           `json:"lastBoard"`
	AutoRefresh            bool             `json:"autoRefresh"`
	ShowFiles              bool             `json:"showFiles"`
	CompactMode            bool             `json:"compactMode"`
	PageSize               int              `json:"pageSize"`
	EnablePagination       bool             `json:"enablePagination"`
	EnableUnstableFeatures bool             `json:"enableUnstableFeatures"`
	Passcode               string           `json:"passcode"`
	Key                    string           `json:"key"`
	NotificationsEnabled   bool             `json:"notificationsEnabled"`
	NotificationInterval   int              `json:"notificationInterval"`
	FavoriteThreads        []FavoriteThread `json:"favoriteThreads"`
}

// FavoriteThread 是收藏的线程，以 (Board, ID) 唯一标识。
type FavoriteThread struct {
	ID               int       `json:"id"`
	Title            string    `json:"title"`
	Board            string    `json:"board"`
	BoardDescription string    `json:"boardDescription"`
	AddedDate        time.Time `json:"addedDate"`
}

// Defaults 返回出厂设置。
func Defaults() Settings {
	return Settings{
		Theme:                "dark",
		AutoRefresh:          true,
		ShowFiles:            true,
		PageSize:             10,
		NotificationInterval: 300,
		FavoriteThreads:      []FavoriteThread{},
	}
}

// Manager 串行化对设置的读改写。
type Manager struct {
	prefs *Preferences
	now   func() time.Time

	mu sync.Mutex
}

// NewManager 基于偏好存储构建设置管理器。
func NewManager(prefs *Preferences) *Manager {
	return &Manager{prefs: prefs, now: time.Now}
}

// Load 读取当前设置；不存在或无法解码时返回默认值。
func (m *Manager) Load() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked()
}

// Save 覆盖保存设置。
func (m *Manager) Save(s Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(s)
}

// Reset 恢复默认设置（同时清空收藏）并保存。
func (m *Manager) Reset() (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Defaults()
	return s, m.saveLocked(s)
}

// Favorites 返回收藏列表，按加入顺序。
func (m *Manager) Favorites() []FavoriteThread {
	return m.Load().FavoriteThreads
}

// IsFavorite 判断线程是否已收藏。
func (m *Manager) IsFavorite(board string, threadID int) bool {
	for _, fav := range m.Favorites() {
		if fav.Board == board && fav.ID == threadID {
			return true
		}
	}
	return false
}

// AddFavorite 追加收藏；同一 (board, id) 已存在时返回 false 且不修改。
func (m *Manager) AddFavorite(fav FavoriteThread) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.loadLocked()
	for _, existing := range s.FavoriteThreads {
		if existing.Board == fav.Board && existing.ID == fav.ID {
			return false, nil
		}
	}
	if fav.AddedDate.IsZero() {
		fav.AddedDate = m.now().UTC()
	}
	s.FavoriteThreads = append(s.FavoriteThreads, fav)
	if err := m.saveLocked(s); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveFavorite 删除收藏，返回是否真的删除了条目。
func (m *Manager) RemoveFavorite(board string, threadID int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.loadLocked()
	kept := s.FavoriteThreads[:0]
	for _, fav := range s.FavoriteThreads {
		if fav.Board == board && fav.ID == threadID {
			continue
		}
		kept = append(kept, fav)
	}
	if len(kept) == len(s.FavoriteThreads) {
		return false, nil
	}
	s.FavoriteThreads = kept
	return true, m.saveLocked(s)
}

func (m *Manager) loadLocked() Settings {
	s := Defaults()
	if !m.prefs.Get(SettingsKey, &s) {
		return Defaults()
	}
	if s.FavoriteThreads == nil {
		s.FavoriteThreads = []FavoriteThread{}
	}
	return s
}

func (m *Manager) saveLocked(s Settings) error {
	if s.FavoriteThreads == nil {
		s.FavoriteThreads = []FavoriteThread{}
	}
	return m.prefs.Set(SettingsKey, s)
}
