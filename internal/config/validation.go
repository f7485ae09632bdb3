package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
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
	if g.MetadataCacheEntries <= 0 {
		return newFieldError("Global.MetadataCacheEntries", "必须大于 0")
	}
	if g.MaxCacheableFileSize <= 0 {
		return newFieldError("Global.MaxCacheableFileSize", "必须大于 0")
	}
	if g.BufferCacheCapacity <= 0 {
		return newFieldError("Global.BufferCacheCapacity", "必须大于 0")
	}
	if g.BufferSegmentSize <= 0 {
		return newFieldError("Global.BufferSegmentSize", "必须大于 0")
	}
	if int64(g.BufferSegmentSize) > g.BufferCacheCapacity {
		return newFieldError("Global.BufferSegmentSize", "不能大于 BufferCacheCapacity")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}

	if len(c.Mounts) == 0 {
		return errors.New("至少需要配置一个 Mount")
	}

	seenNames := map[string]struct{}{}
	seenPrefixes := map[string]string{}
	for i := range c.Mounts {
		mount := &c.Mounts[i]
		if mount.Name == "" {
			return newFieldError("Mount[].Name", "不能为空")
		}
		if _, exists := seenNames[mount.Name]; exists {
			return newFieldError(mountField(mount.Name, "Name"), "重复")
		}
		seenNames[mount.Name] = struct{}{}

		if err := validatePrefix(mount.Prefix); err != nil {
			return fmt.Errorf("%s: %w", mountField(mount.Name, "Prefix"), err)
		}
		if owner, exists := seenPrefixes[mount.Prefix]; exists {
			return newFieldError(mountField(mount.Name, "Prefix"), fmt.Sprintf("与 %s 重复", owner))
		}
		seenPrefixes[mount.Prefix] = mount.Name

		switch {
		case mount.Root == "" && mount.Upstream == "":
			return newFieldError(mountField(mount.Name, "Root/Upstream"), "必须配置其一")
		case mount.Root != "" && mount.Upstream != "":
			return newFieldError(mountField(mount.Name, "Root/Upstream"), "只能配置其一")
		case mount.Upstream != "":
			if err := validateUpstream(mount.Upstream); err != nil {
				return fmt.Errorf("%s: %w", mountField(mount.Name, "Upstream"), err)
			}
			if mount.Watch {
				return newFieldError(mountField(mount.Name, "Watch"), "仅支持本地目录挂载")
			}
		}

	}

	return nil
}

func validatePrefix(prefix string) error {
	if prefix == "" {
		return errors.New("Prefix 不能为空")
	}
	if !strings.HasPrefix(prefix, "/") {
		return errors.New("Prefix 必须以 / 开头")
	}
	if strings.HasPrefix(prefix, "/-/") || prefix == "/-" {
		return errors.New("/- 前缀保留给诊断接口")
	}
	if strings.ContainsAny(prefix, " ?#") {
		return errors.New("Prefix 不允许包含空格、? 或 #")
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
