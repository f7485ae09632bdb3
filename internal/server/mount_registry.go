package server

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/any-hub/static-hub/internal/cache"
	"github.com/any-hub/static-hub/internal/config"
	"github.com/any-hub/static-hub/internal/resource"
)

// Mount 将挂载配置与派生出的后端、元数据缓存聚合在一起，供路由层直接复用。
type Mount struct {
	// Config 是用户在 config.toml 中声明的 Mount 字段副本，避免外部修改。
	Config config.MountConfig
	// Manager 是挂载使用的后端（本地目录或上游源站）。
	Manager resource.Manager
	// Cache 包装 Manager，所有请求都经由它解析资源。
	Cache *cache.MetadataCache
	// Watching 表示是否已注册后端变更通知。
	Watching bool

	closers []func() error
}

// Name 返回挂载名。
func (m *Mount) Name() string {
	return m.Config.Name
}

// Prefix 返回规范化后的 URL 前缀。
func (m *Mount) Prefix() string {
	return m.Config.Prefix
}

// Kind 返回后端类型，filesystem 或 upstream。
func (m *Mount) Kind() string {
	return m.Config.Kind()
}

// Close 依次停止变更监听并释放后端资源。
func (m *Mount) Close() error {
	var errs []error
	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	m.closers = nil
	return errors.Join(errs...)
}

// MountRegistry 提供 URL 路径到 Mount 的最长前缀匹配查询。
type MountRegistry struct {
	byName  map[string]*Mount
	ordered []*Mount
	// longest 按前缀长度降序排列，保证最长前缀优先匹配。
	longest []*Mount
}

// NewMountRegistry 校验名称与前缀唯一后构建注册表。调用方应在启动阶段创建一次并复用。
func NewMountRegistry(mounts ...*Mount) (*MountRegistry, error) {
	registry := &MountRegistry{
		byName: make(map[string]*Mount, len(mounts)),
	}

	prefixes := make(map[string]string, len(mounts))
	for _, mount := range mounts {
		if mount == nil || mount.Cache == nil {
			return nil, errors.New("mount requires a metadata cache")
		}
		name := mount.Name()
		if _, exists := registry.byName[name]; exists {
			return nil, fmt.Errorf("duplicate mount name %s", name)
		}
		prefix := mount.Prefix()
		if prefix == "" || !strings.HasPrefix(prefix, "/") {
			return nil, fmt.Errorf("invalid prefix for mount %s", name)
		}
		if owner, exists := prefixes[prefix]; exists {
			return nil, fmt.Errorf("duplicate prefix %s for mounts %s and %s", prefix, owner, name)
		}
		prefixes[prefix] = name

		registry.byName[name] = mount
		registry.ordered = append(registry.ordered, mount)
	}

	registry.longest = append([]*Mount(nil), registry.ordered...)
	sort.SliceStable(registry.longest, func(i, j int) bool {
		return len(registry.longest[i].Prefix()) > len(registry.longest[j].Prefix())
	})
	return registry, nil
}

// Lookup 根据请求路径查找 Mount，同时返回去掉前缀后的资源路径（不含前导 /）。
func (r *MountRegistry) Lookup(requestPath string) (*Mount, string, bool) {
	if r == nil {
		return nil, "", false
	}
	if requestPath == "" {
		requestPath = "/"
	}

	for _, mount := range r.longest {
		prefix := mount.Prefix()
		if prefix == "/" {
			return mount, strings.TrimPrefix(requestPath, "/"), true
		}
		if requestPath == prefix {
			return mount, "", true
		}
		if strings.HasPrefix(requestPath, prefix+"/") {
			return mount, requestPath[len(prefix)+1:], true
		}
	}
	return nil, "", false
}

// Get 按名称查找 Mount，供诊断接口使用。
func (r *MountRegistry) Get(name string) (*Mount, bool) {
	if r == nil {
		return nil, false
	}
	mount, ok := r.byName[name]
	return mount, ok
}

// List 返回当前注册的 Mount 列表（按配置定义的顺序），用于诊断输出。
func (r *MountRegistry) List() []*Mount {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}
	return append([]*Mount(nil), r.ordered...)
}

// Close 释放全部挂载持有的监听与文件句柄。
func (r *MountRegistry) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, mount := range r.ordered {
		if err := mount.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mount %s: %w", mount.Name(), err))
		}
	}
	return errors.Join(errs...)
}
