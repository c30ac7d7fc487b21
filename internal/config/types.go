package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述守护进程的全局运行时行为。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	MaxRetries      int      `mapstructure:"MaxRetries"`
	InitialBackoff  Duration `mapstructure:"InitialBackoff"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	SweepInterval   Duration `mapstructure:"SweepInterval"`
	ProbeInterval   Duration `mapstructure:"ProbeInterval"`
	ProbeTimeout    Duration `mapstructure:"ProbeTimeout"`
}

// UpstreamConfig 描述 imageboard 服务端地址与请求标识。
type UpstreamConfig struct {
	BaseURL   string `mapstructure:"BaseURL"`
	APIURL    string `mapstructure:"APIURL"`
	UserAgent string `mapstructure:"UserAgent"`
}

// TTLConfig 集中定义每类资源的缓存有效期，调用方不再散落魔法数字。
type TTLConfig struct {
	Boards       Duration `mapstructure:"Boards"`
	Threads      Duration `mapstructure:"Threads"`
	ThreadDetail Duration `mapstructure:"ThreadDetail"`
	Comments     Duration `mapstructure:"Comments"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global   GlobalConfig   `mapstructure:",squash"`
	Upstream UpstreamConfig `mapstructure:"Upstream"`
	TTL      TTLConfig      `mapstructure:"TTL"`
}

// CacheDir 返回缓存记录文件所在目录。
func (c *Config) CacheDir() string {
	return joinStorage(c.Global.StoragePath, "cache")
}

// PreferencesPath 返回偏好设置文件路径（ForceOffline、Settings 等）。
func (c *Config) PreferencesPath() string {
	return joinStorage(c.Global.StoragePath, "preferences.json")
}
