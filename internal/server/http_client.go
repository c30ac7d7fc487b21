package server

import (
	"net"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/mobilemkch/mkchd/internal/config"
	"github.com/mobilemkch/mkchd/internal/logging"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

const maxBackoffFactor = 8

// NewUpstreamClient 返回共享的可重试客户端，用于所有上游请求。
// 底层 http.Client 带 cookie jar，登录后的会话在读写请求间共享。
func NewUpstreamClient(cfg *config.Config, logger *logrus.Logger) *retryablehttp.Client {
	timeout := 30 * time.Second
	retries := 3
	backoff := time.Second
	if cfg != nil {
		if cfg.Global.UpstreamTimeout.DurationValue() > 0 {
			timeout = cfg.Global.UpstreamTimeout.DurationValue()
		}
		if cfg.Global.MaxRetries >= 0 {
			retries = cfg.Global.MaxRetries
		}
		if cfg.Global.InitialBackoff.DurationValue() > 0 {
			backoff = cfg.Global.InitialBackoff.DurationValue()
		}
	}

	// cookiejar.New 只在 PublicSuffixList 出错时失败，nil 选项不会出错。
	jar, _ := cookiejar.New(nil)

	client := retryablehttp.NewClient()
	client.HTTPClient = &http.Client{
		Timeout:   timeout,
		Transport: defaultTransport.Clone(),
		Jar:       jar,
	}
	client.RetryMax = retries
	client.RetryWaitMin = backoff
	client.RetryWaitMax = backoff * maxBackoffFactor
	if logger != nil {
		client.Logger = logging.NewRetryLogger(logger)
	} else {
		client.Logger = nil
	}
	return client
}
