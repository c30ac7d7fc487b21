package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	defaultListenPort    = 8420
	defaultBaseURL       = "https://mkch.pooziqo.xyz"
	defaultUserAgent     = "mkchd/0.1.0"
	defaultBoardsTTL     = 600 * time.Second
	defaultThreadsTTL    = 300 * time.Second
	defaultDetailTTL     = 180 * time.Second
	defaultCommentsTTL   = 180 * time.Second
	defaultSweepInterval = 300 * time.Second
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyUpstreamDefaults(&cfg.Upstream)
	applyTTLDefaults(&cfg.TTL)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", defaultListenPort)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "")
	v.SetDefault("MaxRetries", 2)
	v.SetDefault("InitialBackoff", "1s")
	v.SetDefault("UpstreamTimeout", "20s")
	v.SetDefault("SweepInterval", "300s")
	v.SetDefault("ProbeInterval", "10s")
	v.SetDefault("ProbeTimeout", "3s")
	v.SetDefault("Upstream.BaseURL", defaultBaseURL)
	v.SetDefault("Upstream.UserAgent", defaultUserAgent)
	v.SetDefault("TTL.Boards", 600)
	v.SetDefault("TTL.Threads", 300)
	v.SetDefault("TTL.ThreadDetail", 180)
	v.SetDefault("TTL.Comments", 180)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = defaultListenPort
	}
	if strings.TrimSpace(g.StoragePath) == "" {
		g.StoragePath = defaultStoragePath()
	}
	if g.InitialBackoff.DurationValue() == 0 {
		g.InitialBackoff = Duration(time.Second)
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(20 * time.Second)
	}
	if g.SweepInterval.DurationValue() == 0 {
		g.SweepInterval = Duration(defaultSweepInterval)
	}
	if g.ProbeInterval.DurationValue() == 0 {
		g.ProbeInterval = Duration(10 * time.Second)
	}
	if g.ProbeTimeout.DurationValue() == 0 {
		g.ProbeTimeout = Duration(3 * time.Second)
	}
}

func applyUpstreamDefaults(u *UpstreamConfig) {
	u.BaseURL = strings.TrimRight(strings.TrimSpace(u.BaseURL), "/")
	if u.BaseURL == "" {
		u.BaseURL = defaultBaseURL
	}
	u.APIURL = strings.TrimRight(strings.TrimSpace(u.APIURL), "/")
	if u.APIURL == "" {
		u.APIURL = u.BaseURL + "/api"
	}
	if strings.TrimSpace(u.UserAgent) == "" {
		u.UserAgent = defaultUserAgent
	}
}

func applyTTLDefaults(t *TTLConfig) {
	if t.Boards.DurationValue() == 0 {
		t.Boards = Duration(defaultBoardsTTL)
	}
	if t.Threads.DurationValue() == 0 {
		t.Threads = Duration(defaultThreadsTTL)
	}
	if t.ThreadDetail.DurationValue() == 0 {
		t.ThreadDetail = Duration(defaultDetailTTL)
	}
	if t.Comments.DurationValue() == 0 {
		t.Comments = Duration(defaultCommentsTTL)
	}
}

// DefaultTTL 返回内置的资源 TTL 表，供未加载配置文件的调用方（如测试）复用。
func DefaultTTL() TTLConfig {
	var t TTLConfig
	applyTTLDefaults(&t)
	return t
}

// defaultStoragePath 与系统缓存目录对齐：可跨重启保留，但允许系统回收。
func defaultStoragePath() string {
	if dir, err := os.UserCacheDir(); err == nil && dir != "" {
		return filepath.Join(dir, "mkchd")
	}
	return "./storage"
}

func joinStorage(base, name string) string {
	return filepath.Join(base, name)
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
