package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/static-hub/internal/buffercache"
	"github.com/any-hub/static-hub/internal/cache"
	"github.com/any-hub/static-hub/internal/config"
	"github.com/any-hub/static-hub/internal/metrics"
	"github.com/any-hub/static-hub/internal/resource"
)

// MountDeps 汇总构建挂载所需的共享依赖。
type MountDeps struct {
	Logger    *logrus.Logger
	Client    *http.Client
	DataCache *buffercache.Cache
	Metrics   *metrics.Collector
}

// BuildMounts 根据配置为每个 Mount 创建后端与元数据缓存，全部挂载共享同一个数据缓存。
func BuildMounts(cfg *config.Config, deps MountDeps) (*MountRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if deps.Logger == nil {
		return nil, errors.New("logger is required")
	}

	if deps.Client == nil {
		deps.Client = NewUpstreamClient(cfg)
	}

	mounts := make([]*Mount, 0, len(cfg.Mounts))
	closeAll := func() {
		for _, mount := range mounts {
			_ = mount.Close()
		}
	}

	for _, mountCfg := range cfg.Mounts {
		mount, err := buildMount(cfg, mountCfg, deps)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("mount %s: %w", mountCfg.Name, err)
		}
		mounts = append(mounts, mount)
	}

	registry, err := NewMountRegistry(mounts...)
	if err != nil {
		closeAll()
		return nil, err
	}
	return registry, nil
}

func buildMount(cfg *config.Config, mountCfg config.MountConfig, deps MountDeps) (*Mount, error) {
	mount := &Mount{Config: mountCfg}

	switch mountCfg.Kind() {
	case config.MountKindUpstream:
		manager, err := resource.NewHTTPManager(deps.Client, mountCfg.Upstream, deps.Logger)
		if err != nil {
			return nil, err
		}
		mount.Manager = manager
	default:
		manager, err := resource.NewOSFileManager(mountCfg.Root, deps.Logger)
		if err != nil {
			return nil, err
		}
		mount.Manager = manager
		mount.closers = append(mount.closers, manager.Close)
		if mountCfg.Watch {
			if err := manager.EnableWatch(); err != nil {
				_ = mount.Close()
				return nil, fmt.Errorf("enable watch: %w", err)
			}
		}
	}

	metadata, err := cache.New(mount.Manager, cache.Options{
		Name:                 mountCfg.Name,
		Entries:              cfg.Global.MetadataCacheEntries,
		MaxCacheableFileSize: cfg.Global.MaxCacheableFileSize,
		MaxAge:               cfg.EffectiveMaxAge(mountCfg),
		DataCache:            deps.DataCache,
		Logger:               deps.Logger,
		Metrics:              deps.Metrics,
	})
	if err != nil {
		_ = mount.Close()
		return nil, err
	}
	mount.Cache = metadata

	if stop, ok := cache.Watch(metadata); ok {
		mount.Watching = true
		mount.closers = append(mount.closers, func() error {
			stop()
			return nil
		})
	}

	deps.Logger.WithFields(logrus.Fields{
		"action":   "mount_ready",
		"mount":    mountCfg.Name,
		"prefix":   mountCfg.Prefix,
		"kind":     mountCfg.Kind(),
		"max_age":  metadata.MaxAge(),
		"watching": mount.Watching,
	}).Info("mount registered")
	return mount, nil
}
