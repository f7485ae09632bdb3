package config

import (
	"fmt"
	"path"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	defaultMetadataCacheEntries = 4096
	defaultMaxCacheableFileSize = 1 << 20
	defaultMaxAge               = 60_000
	defaultBufferCacheCapacity  = 64 << 20
	defaultBufferSegmentSize    = 16 << 10
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

	if err := rejectMountLevelCacheKeys(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	for i := range cfg.Mounts {
		applyMountDefaults(&cfg.Mounts[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	for i := range cfg.Mounts {
		mount := &cfg.Mounts[i]
		if mount.Root == "" {
			continue
		}
		absRoot, err := filepath.Abs(mount.Root)
		if err != nil {
			return nil, fmt.Errorf("无法解析挂载目录 %s: %w", mount.Root, err)
		}
		mount.Root = absRoot
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("MetadataCacheEntries", defaultMetadataCacheEntries)
	v.SetDefault("MaxCacheableFileSize", defaultMaxCacheableFileSize)
	v.SetDefault("MaxAge", defaultMaxAge)
	v.SetDefault("BufferCacheCapacity", defaultBufferCacheCapacity)
	v.SetDefault("BufferSegmentSize", defaultBufferSegmentSize)
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("EnableCacheInvalidation", false)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.MetadataCacheEntries == 0 {
		g.MetadataCacheEntries = defaultMetadataCacheEntries
	}
	if g.MaxCacheableFileSize == 0 {
		g.MaxCacheableFileSize = defaultMaxCacheableFileSize
	}
	if g.BufferCacheCapacity == 0 {
		g.BufferCacheCapacity = defaultBufferCacheCapacity
	}
	if g.BufferSegmentSize == 0 {
		g.BufferSegmentSize = defaultBufferSegmentSize
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
}

func applyMountDefaults(m *MountConfig) {
	m.Name = strings.TrimSpace(m.Name)
	m.Prefix = normalizePrefix(m.Prefix)
	m.Root = strings.TrimSpace(m.Root)
	m.Upstream = strings.TrimRight(strings.TrimSpace(m.Upstream), "/")
}

// normalizePrefix 统一为以 / 开头、不以 / 结尾的形式（根前缀保留为 /）。
func normalizePrefix(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	return path.Clean("/" + raw)
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

// rejectMountLevelCacheKeys 拒绝只能全局配置的缓存容量字段出现在 Mount 段内。
func rejectMountLevelCacheKeys(v *viper.Viper) error {
	raw := v.Get("Mount")
	mounts, ok := raw.([]interface{})
	if !ok {
		return nil
	}

	globalOnly := []string{"BufferCacheCapacity", "BufferSegmentSize", "MetadataCacheEntries", "ListenPort", "EnableCacheInvalidation"}
	for idx, entry := range mounts {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		for _, key := range globalOnly {
			if _, exists := lookupKey(m, key); !exists {
				continue
			}
			name := fmt.Sprintf("#%d", idx)
			if rawName, ok := lookupKey(m, "Name"); ok {
				if s, ok := rawName.(string); ok && s != "" {
					name = s
				}
			}
			return newFieldError(mountField(name, key), "只能在全局配置")
		}
	}

	return nil
}

// lookupKey 忽略大小写查找键，Viper 会把嵌套表的键统一转为小写。
func lookupKey(m map[string]interface{}, key string) (interface{}, bool) {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}
