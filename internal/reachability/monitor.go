package reachability

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ForceOfflineKey 是手动离线开关在偏好存储中的 key。
const ForceOfflineKey = "ForceOffline"

// Preferences 是 Monitor 需要的最小偏好存储能力。
type Preferences interface {
	Bool(key string) bool
	SetBool(key string, value bool) error
}

// State 是可达性快照。
type State struct {
	PathSatisfied    bool      `json:"path_satisfied"`
	ForceOffline     bool      `json:"force_offline"`
	EffectiveOffline bool      `json:"effective_offline"`
	LastProbe        time.Time `json:"last_probe,omitempty"`
}

// Monitor 合并网络路径状态与用户的强制离线开关。
// 可从任意 goroutine 读取；pathSatisfied 只由 Watch 写入。
type Monitor struct {
	prefs  Preferences
	logger *logrus.Logger

	mu            sync.RWMutex
	pathSatisfied bool
	forceOffline  bool
	lastProbe     time.Time
}

// NewMonitor 从偏好存储恢复强制离线开关，路径状态初始视为可达。
func NewMonitor(prefs Preferences, logger *logrus.Logger) *Monitor {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Monitor{
		prefs:         prefs,
		logger:        logger,
		pathSatisfied: true,
		forceOffline:  prefs.Bool(ForceOfflineKey),
	}
}

// EffectiveOffline = forceOffline || !pathSatisfied。
func (m *Monitor) EffectiveOffline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.forceOffline || !m.pathSatisfied
}

// PathSatisfied 返回最近一次探测结果。
func (m *Monitor) PathSatisfied() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pathSatisfied
}

// ForceOffline 返回用户开关。
func (m *Monitor) ForceOffline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.forceOffline
}

// SetForceOffline 修改开关并立即持久化；持久化失败时内存状态保持不变。
func (m *Monitor) SetForceOffline(value bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.prefs.SetBool(ForceOfflineKey, value); err != nil {
		return err
	}
	if m.forceOffline != value {
		m.logger.WithFields(logrus.Fields{
			"action":        "force_offline",
			"force_offline": value,
		}).Info("离线开关已切换")
	}
	m.forceOffline = value
	return nil
}

// State 返回当前快照。
func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return State{
		PathSatisfied:    m.pathSatisfied,
		ForceOffline:     m.forceOffline,
		EffectiveOffline: m.forceOffline || !m.pathSatisfied,
		LastProbe:        m.lastProbe,
	}
}

// Watch 立即探测一次，之后按 interval 周期探测，直到 ctx 结束。
func (m *Monitor) Watch(ctx context.Context, probe PathProbe, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	m.probeOnce(ctx, probe)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeOnce(ctx, probe)
		}
	}
}

func (m *Monitor) probeOnce(ctx context.Context, probe PathProbe) {
	err := probe.Probe(ctx)
	if ctx.Err() != nil {
		return
	}
	m.updatePath(err == nil, err)
}

func (m *Monitor) updatePath(satisfied bool, cause error) {
	m.mu.Lock()
	changed := m.pathSatisfied != satisfied
	m.pathSatisfied = satisfied
	m.lastProbe = time.Now()
	m.mu.Unlock()

	if !changed {
		return
	}
	entry := m.logger.WithFields(logrus.Fields{
		"action":         "path_update",
		"path_satisfied": satisfied,
	})
	if cause != nil {
		entry = entry.WithError(cause)
	}
	if satisfied {
		entry.Info("网络已恢复")
	} else {
		entry.Warn("network_unreachable")
	}
}
