package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.MaxRetries < 0 {
		return newFieldError("Global.MaxRetries", "不能为负数")
	}
	if g.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("Global.InitialBackoff", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.SweepInterval.DurationValue() <= 0 {
		return newFieldError("Global.SweepInterval", "必须大于 0")
	}
	if g.ProbeInterval.DurationValue() <= 0 {
		return newFieldError("Global.ProbeInterval", "必须大于 0")
	}
	if g.ProbeTimeout.DurationValue() <= 0 {
		return newFieldError("Global.ProbeTimeout", "必须大于 0")
	}

	if err := validateUpstream(c.Upstream.BaseURL); err != nil {
		return fmt.Errorf("%s: %w", sectionField("Upstream", "BaseURL"), err)
	}
	if err := validateUpstream(c.Upstream.APIURL); err != nil {
		return fmt.Errorf("%s: %w", sectionField("Upstream", "APIURL"), err)
	}

	ttls := []struct {
		field string
		value time.Duration
	}{
		{"Boards", c.TTL.Boards.DurationValue()},
		{"Threads", c.TTL.Threads.DurationValue()},
		{"ThreadDetail", c.TTL.ThreadDetail.DurationValue()},
		{"Comments", c.TTL.Comments.DurationValue()},
	}
	for _, ttl := range ttls {
		if ttl.value <= 0 {
			return newFieldError(sectionField("TTL", ttl.field), "必须大于 0")
		}
	}

	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
