package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供 mount/后端类型/缓存状态字段，供静态资源请求日志复用。
func RequestFields(mount, kind, requestID, cacheState string) logrus.Fields {
	return logrus.Fields{
		"mount":       mount,
		"mount_kind":  kind,
		"request_id":  requestID,
		"cache_state": cacheState,
		"cache_hit":   cacheState == "hit",
	}
}
