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

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
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

// GlobalConfig 描述全局运行时行为，所有 Mount 共享同一份数据缓存与日志参数。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`

	MetadataCacheEntries int   `mapstructure:"MetadataCacheEntries"`
	MaxCacheableFileSize int64 `mapstructure:"MaxCacheableFileSize"`
	// MaxAge 以毫秒计：0 关闭缓存，-1 永不再验证。
	MaxAge              int64 `mapstructure:"MaxAge"`
	BufferCacheCapacity int64 `mapstructure:"BufferCacheCapacity"`
	BufferSegmentSize   int   `mapstructure:"BufferSegmentSize"`

	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`

	// EnableCacheInvalidation 打开 POST /-/cache/invalidate。该接口不做鉴权，
	// 默认关闭，仅应在受信网络内开启。
	EnableCacheInvalidation bool `mapstructure:"EnableCacheInvalidation"`
}

// MountConfig 把一个 URL 前缀挂载到本地目录或上游源站。
type MountConfig struct {
	Name     string `mapstructure:"Name"`
	Prefix   string `mapstructure:"Prefix"`
	Root     string `mapstructure:"Root"`
	Upstream string `mapstructure:"Upstream"`
	Watch    bool   `mapstructure:"Watch"`
	// MaxAge 为空时沿用全局值。
	MaxAge *int64 `mapstructure:"MaxAge"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig  `mapstructure:",squash"`
	Mounts []MountConfig `mapstructure:"Mount"`
}

// 挂载后端类型，用于日志与诊断输出。
const (
	MountKindFilesystem = "filesystem"
	MountKindUpstream   = "upstream"
)

// Kind 返回挂载使用的后端类型。
func (m MountConfig) Kind() string {
	if m.Upstream != "" {
		return MountKindUpstream
	}
	return MountKindFilesystem
}

// MountNames 返回所有挂载的 name:kind 摘要，例如 assets:filesystem。
func MountNames(mounts []MountConfig) []string {
	if len(mounts) == 0 {
		return nil
	}
	result := make([]string, len(mounts))
	for i, mount := range mounts {
		result[i] = fmt.Sprintf("%s:%s", mount.Name, mount.Kind())
	}
	return result
}

// EffectiveMaxAge 返回特定 Mount 生效的 MaxAge，未覆盖时回退至全局值。
func (c *Config) EffectiveMaxAge(m MountConfig) int64 {
	if m.MaxAge != nil {
		return *m.MaxAge
	}
	return c.Global.MaxAge
}
