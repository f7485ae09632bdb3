package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/any-hub/static-hub/internal/config"
)

func TestNewUpstreamClientUsesConfigTimeout(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{
			UpstreamTimeout: config.Duration(45 * time.Second),
		},
	}

	client := NewUpstreamClient(cfg)
	if client.Timeout != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %s", client.Timeout)
	}
}

func TestNewUpstreamClientDefaults(t *testing.T) {
	client := NewUpstreamClient(nil)
	if client.Timeout != 30*time.Second {
		t.Fatalf("expected default timeout 30s, got %s", client.Timeout)
	}
	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("expected *http.Transport, got %T", client.Transport)
	}
	if !transport.DisableCompression {
		t.Fatalf("compression must stay disabled so lengths match upstream bytes")
	}
	if transport.MaxIdleConns != idleConnsPerUpstream {
		t.Fatalf("expected idle pool for one upstream, got %d", transport.MaxIdleConns)
	}
}

func TestNewUpstreamClientScalesIdlePool(t *testing.T) {
	cfg := &config.Config{
		Mounts: []config.MountConfig{
			{Name: "a", Upstream: "https://a.example"},
			{Name: "b", Upstream: "https://b.example"},
			{Name: "local", Root: "/srv"},
		},
	}
	transport := NewUpstreamClient(cfg).Transport.(*http.Transport)
	if transport.MaxIdleConns != 2*idleConnsPerUpstream {
		t.Fatalf("expected idle pool sized for two upstreams, got %d", transport.MaxIdleConns)
	}
	if NewUpstreamClient(cfg).Transport == transport {
		t.Fatalf("each client should own its transport")
	}
}
