package reachability

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"
)

const (
	// DefaultProbeInterval 是未配置时的探测周期。
	DefaultProbeInterval = 15 * time.Second
	// DefaultProbeTimeout 是单次拨号的超时。
	DefaultProbeTimeout = 5 * time.Second
)

// PathProbe 判断当前是否存在通往上游的网络路径，可达时返回 nil。
type PathProbe interface {
	Probe(ctx context.Context) error
}

// ProbeFunc 适配普通函数为 PathProbe。
type ProbeFunc func(ctx context.Context) error

func (f ProbeFunc) Probe(ctx context.Context) error {
	return f(ctx)
}

// DialProbe 以 TCP 拨号上游主机的方式探测网络路径。
type DialProbe struct {
	Address string
	Timeout time.Duration
	dialer  net.Dialer
}

// NewDialProbe 根据上游地址推导 host:port，未写端口时按 scheme 补全。
func NewDialProbe(rawURL string, timeout time.Duration) (*DialProbe, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("upstream url %q has no host", rawURL)
	}
	port := u.Port()
	if port == "" {
		port = "443"
		if u.Scheme == "http" {
			port = "80"
		}
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &DialProbe{Address: net.JoinHostPort(u.Hostname(), port), Timeout: timeout}, nil
}

func (p *DialProbe) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	conn, err := p.dialer.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		return err
	}
	return conn.Close()
}
