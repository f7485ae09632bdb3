package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfgPath := testConfigPath(t, "valid.toml")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.ListenPort != 5000 {
		t.Fatalf("ListenPort 应当被解析")
	}
	if cfg.Global.MaxAge != 30000 {
		t.Fatalf("MaxAge 应当被解析, got %d", cfg.Global.MaxAge)
	}
	if cfg.Global.MetadataCacheEntries != defaultMetadataCacheEntries {
		t.Fatalf("MetadataCacheEntries 应该自动填充默认值")
	}
	if cfg.Global.BufferCacheCapacity != defaultBufferCacheCapacity || cfg.Global.BufferSegmentSize != defaultBufferSegmentSize {
		t.Fatalf("数据缓存容量应该自动填充默认值")
	}
	if cfg.Global.UpstreamTimeout.DurationValue() != 10*time.Second {
		t.Fatalf("UpstreamTimeout 应解析为 10s, got %s", cfg.Global.UpstreamTimeout.DurationValue())
	}
	if len(cfg.Mounts) != 2 {
		t.Fatalf("应解析两个 Mount, got %d", len(cfg.Mounts))
	}

	assets := cfg.Mounts[0]
	if assets.Prefix != "/assets" {
		t.Fatalf("Prefix 应被规范化, got %s", assets.Prefix)
	}
	if !filepath.IsAbs(assets.Root) {
		t.Fatalf("Root 应转换为绝对路径, got %s", assets.Root)
	}
	if !assets.Watch || assets.Kind() != MountKindFilesystem {
		t.Fatalf("assets 应为开启 Watch 的本地挂载")
	}
	if cfg.EffectiveMaxAge(assets) != 30000 {
		t.Fatalf("Mount 未设置 MaxAge 时应退回全局值")
	}

	mirror := cfg.Mounts[1]
	if mirror.Prefix != "/mirror" || mirror.Upstream != "https://example.com/static" {
		t.Fatalf("mirror 规范化结果不正确: %+v", mirror)
	}
	if cfg.EffectiveMaxAge(mirror) != -1 {
		t.Fatalf("Mount 覆盖的 MaxAge 应该优先生效")
	}
}

func TestValidateRejectsBadMount(t *testing.T) {
	cfgPath := testConfigPath(t, "missing.toml")

	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("不合法的配置应返回错误")
	}
}

func TestEffectiveMaxAgeOverrides(t *testing.T) {
	cfg := &Config{Global: GlobalConfig{MaxAge: 1000}}
	override := int64(0)
	if got := cfg.EffectiveMaxAge(MountConfig{MaxAge: &override}); got != 0 {
		t.Fatalf("覆盖为 0 也应该生效, got %d", got)
	}
	if got := cfg.EffectiveMaxAge(MountConfig{}); got != 1000 {
		t.Fatalf("未覆盖时应使用全局值, got %d", got)
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestValidateMaxAge(t *testing.T) {
	testCases := []struct {
		name      string
		maxAge    int64
		shouldErr bool
	}{
		{"forever", -1, false},
		{"disabled", 0, false},
		{"positive", 60000, false},
		// 非法取值交给缓存层告警并回退为 0，配置阶段不拦截
		{"below forever", -2, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Global.MaxAge = tc.maxAge
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for max age %d", tc.maxAge)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for max age %d: %v", tc.maxAge, err)
			}

			cfg = validConfig()
			value := tc.maxAge
			cfg.Mounts[0].MaxAge = &value
			err = cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected mount error for max age %d", tc.maxAge)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected mount error for max age %d: %v", tc.maxAge, err)
			}
		})
	}
}

func TestValidateMountBackend(t *testing.T) {
	testCases := []struct {
		name      string
		mutate    func(*MountConfig)
		wantField string
	}{
		{"neither", func(m *MountConfig) { m.Root = "" }, "Mount[assets].Root/Upstream"},
		{"both", func(m *MountConfig) { m.Upstream = "https://example.com" }, "Mount[assets].Root/Upstream"},
		{"watch upstream", func(m *MountConfig) {
			m.Root = ""
			m.Upstream = "https://example.com"
			m.Watch = true
		}, "Mount[assets].Watch"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg.Mounts[0])
			err := cfg.Validate()
			var fieldErr FieldError
			if !errors.As(err, &fieldErr) {
				t.Fatalf("expected FieldError, got %v", err)
			}
			if fieldErr.Field != tc.wantField {
				t.Fatalf("unexpected field %s", fieldErr.Field)
			}
		})
	}
}

func TestValidateRejectsBadUpstream(t *testing.T) {
	cfg := validConfig()
	cfg.Mounts[0].Root = ""
	cfg.Mounts[0].Upstream = "ftp://example.com"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("非 http/https 上游应报错")
	}
}

func TestValidateRejectsDuplicatePrefix(t *testing.T) {
	cfg := validConfig()
	cfg.Mounts = append(cfg.Mounts, MountConfig{Name: "other", Prefix: "/assets", Root: "./other"})
	if err := cfg.Validate(); err == nil {
		t.Fatalf("重复 Prefix 应报错")
	}
}

func TestValidateRejectsReservedPrefix(t *testing.T) {
	cfg := validConfig()
	cfg.Mounts[0].Prefix = "/-/cache"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("诊断前缀不应允许挂载")
	}
}

func TestValidateRejectsOversizedSegment(t *testing.T) {
	cfg := validConfig()
	cfg.Global.BufferSegmentSize = 2048
	cfg.Global.BufferCacheCapacity = 1024
	if err := cfg.Validate(); err == nil {
		t.Fatalf("分段大于总容量应报错")
	}
}

func TestMountNames(t *testing.T) {
	names := MountNames([]MountConfig{
		{Name: "assets", Root: "/srv"},
		{Name: "mirror", Upstream: "https://example.com"},
	})
	if len(names) != 2 || names[0] != "assets:filesystem" || names[1] != "mirror:upstream" {
		t.Fatalf("unexpected mount names: %v", names)
	}
	if MountNames(nil) != nil {
		t.Fatalf("空列表应返回 nil")
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:           5000,
			MetadataCacheEntries: 16,
			MaxCacheableFileSize: 1024,
			MaxAge:               1000,
			BufferCacheCapacity:  4096,
			BufferSegmentSize:    512,
			UpstreamTimeout:      Duration(time.Second),
		},
		Mounts: []MountConfig{
			{
				Name:   "assets",
				Prefix: "/assets",
				Root:   "./public",
			},
		},
	}
}
