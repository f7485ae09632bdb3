// Package metrics 汇总缓存命中/回源等计数，暴露为 Prometheus 指标。
// 所有方法对 nil *Collector 安全，未注入时直接忽略。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 元数据缓存查询结果标签。
const (
	LookupHit         = "hit"
	LookupMiss        = "miss"
	LookupNegativeHit = "negative_hit"
	LookupStale       = "stale"
	LookupError       = "error"
)

// 数据缓存输出结果标签。
const (
	DataHit      = "hit"
	DataPopulate = "populate"
	DataBypass   = "bypass"
	DataDisabled = "disabled"
)

// Collector 使用独立 Registry，避免多实例（测试）重复注册到全局默认 Registry。
type Collector struct {
	registry      *prometheus.Registry
	lookups       *prometheus.CounterVec
	dataServes    *prometheus.CounterVec
	invalidations *prometheus.CounterVec
}

// NewCollector 创建并注册全部指标。
func NewCollector(namespace string) (*Collector, error) {
	if namespace == "" {
		namespace = "static_hub"
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "metadata_cache",
			Name:      "lookups_total",
			Help:      "Metadata cache lookups by owner and result.",
		}, []string{"owner", "result"}),
		dataServes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "buffer_cache",
			Name:      "serves_total",
			Help:      "Resource body deliveries by owner and data cache outcome.",
		}, []string{"owner", "result"}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "metadata_cache",
			Name:      "invalidations_total",
			Help:      "Explicit invalidations by owner and scope.",
		}, []string{"owner", "scope"}),
	}

	for _, collector := range []prometheus.Collector{c.lookups, c.dataServes, c.invalidations} {
		if err := c.registry.Register(collector); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// RecordLookup 记录一次元数据查询。
func (c *Collector) RecordLookup(owner, result string) {
	if c == nil {
		return
	}
	c.lookups.WithLabelValues(owner, result).Inc()
}

// RecordDataServe 记录一次正文输出走了哪条路径。
func (c *Collector) RecordDataServe(owner, result string) {
	if c == nil {
		return
	}
	c.dataServes.WithLabelValues(owner, result).Inc()
}

// RecordInvalidation 记录一次显式失效，scope 为 path 或 all。
func (c *Collector) RecordInvalidation(owner, scope string) {
	if c == nil {
		return
	}
	c.invalidations.WithLabelValues(owner, scope).Inc()
}

// Registry 返回底层 Registry，供测试读取。
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler 返回 Prometheus 文本格式的 http.Handler。
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
