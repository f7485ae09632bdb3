package routes

import (
	"sort"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/static-hub/internal/buffercache"
	"github.com/any-hub/static-hub/internal/cache"
	"github.com/any-hub/static-hub/internal/server"
)

// RegisterCacheRoutes 暴露只读的 /-/cache 诊断接口，供 SRE 查询各挂载的缓存状态。
func RegisterCacheRoutes(app *fiber.App, registry *server.MountRegistry, dataCache *buffercache.Cache) {
	if app == nil || registry == nil {
		return
	}

	app.Get("/-/cache", func(c fiber.Ctx) error {
		payload := fiber.Map{
			"mounts": encodeMounts(registry.List()),
		}
		if dataCache != nil {
			payload["buffer_cache"] = dataCache.Stats()
		}
		return c.JSON(payload)
	})
}

// RegisterInvalidateRoute 暴露 POST /-/cache/invalidate 手动清理接口。接口本身不做鉴权，
// 只在配置 EnableCacheInvalidation 时注册。
func RegisterInvalidateRoute(app *fiber.App, registry *server.MountRegistry, logger *logrus.Logger) {
	if app == nil || registry == nil {
		return
	}

	app.Post("/-/cache/invalidate", func(c fiber.Ctx) error {
		name := strings.TrimSpace(c.Query("mount"))
		if name == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "mount_required"})
		}
		mount, ok := registry.Get(name)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "mount_not_found"})
		}

		fields := logrus.Fields{
			"action":     "cache_invalidate",
			"mount":      name,
			"request_id": server.RequestID(c),
		}

		target := strings.TrimSpace(c.Query("path"))
		if target == "" {
			mount.Cache.InvalidateAll()
			if logger != nil {
				logger.WithFields(fields).Info("mount cache flushed")
			}
			return c.JSON(invalidatePayload{Mount: name, Scope: "all"})
		}

		removed := mount.Cache.Invalidate(target)
		if logger != nil {
			fields["path"] = target
			fields["removed"] = removed
			logger.WithFields(fields).Info("cache path invalidated")
		}
		return c.JSON(invalidatePayload{Mount: name, Scope: "path", Path: target, Removed: removed})
	})
}

type mountPayload struct {
	Name     string      `json:"name"`
	Prefix   string      `json:"prefix"`
	Kind     string      `json:"kind"`
	Watching bool        `json:"watching"`
	Cache    cache.Stats `json:"cache"`
}

type invalidatePayload struct {
	Mount   string `json:"mount"`
	Scope   string `json:"scope"`
	Path    string `json:"path,omitempty"`
	Removed bool   `json:"removed"`
}

func encodeMounts(mounts []*server.Mount) []mountPayload {
	if len(mounts) == 0 {
		return nil
	}
	sort.Slice(mounts, func(i, j int) bool {
		return mounts[i].Name() < mounts[j].Name()
	})
	result := make([]mountPayload, 0, len(mounts))
	for _, mount := range mounts {
		result = append(result, mountPayload{
			Name:     mount.Name(),
			Prefix:   mount.Prefix(),
			Kind:     mount.Kind(),
			Watching: mount.Watching,
			Cache:    mount.Cache.Stats(),
		})
	}
	return result
}
