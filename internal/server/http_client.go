package server

import (
	"net"
	"net/http"
	"time"

	"github.com/any-hub/static-hub/internal/config"
)

const (
	defaultUpstreamTimeout = 30 * time.Second
	idleConnsPerUpstream   = 32
)

// NewUpstreamClient 返回所有 upstream 挂载共用的 http.Client，超时取自 UpstreamTimeout。
func NewUpstreamClient(cfg *config.Config) *http.Client {
	timeout := defaultUpstreamTimeout
	upstreams := 0
	if cfg != nil {
		if configured := cfg.Global.UpstreamTimeout.DurationValue(); configured > 0 {
			timeout = configured
		}
		for _, mount := range cfg.Mounts {
			if mount.Kind() == config.MountKindUpstream {
				upstreams++
			}
		}
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: newUpstreamTransport(upstreams),
	}
}

// newUpstreamTransport 按 upstream 挂载数量放大空闲连接池。
func newUpstreamTransport(upstreams int) *http.Transport {
	if upstreams < 1 {
		upstreams = 1
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          upstreams * idleConnsPerUpstream,
		MaxIdleConnsPerHost:   idleConnsPerUpstream,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
		// 透明 gzip 会让正文字节数与 Content-Length/Range 不一致
		DisableCompression: true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
}
