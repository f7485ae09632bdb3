package cache

import (
	"github.com/sirupsen/logrus"

	"github.com/any-hub/static-hub/internal/resource"
)

// invalidator 把后端变更批次转换为元数据/数据缓存清理。
type invalidator struct {
	cache *MetadataCache
}

func (i *invalidator) ResourcesChanged(changes []resource.Change) {
	for _, change := range changes {
		i.cache.Invalidate(change.Path)
		if change.Kind == resource.ChangeRemoved {
			i.cache.invalidatePrefix(change.Path)
		}
	}
	i.cache.logger.WithFields(logrus.Fields{
		"action":  "cache_invalidate",
		"cache":   i.cache.name,
		"changes": len(changes),
	}).Debug("backend_changes_applied")
}

// Watch 在后端支持变更通知时注册监听，返回的 stop 用于注销；不支持时 ok 为 false。
func Watch(m *MetadataCache) (stop func(), ok bool) {
	watchable, isWatchable := m.manager.(resource.Watchable)
	if !isWatchable || !watchable.ChangeListenerSupported() {
		return func() {}, false
	}

	listener := &invalidator{cache: m}
	watchable.AddChangeListener(listener)
	return func() { watchable.RemoveChangeListener(listener) }, true
}
