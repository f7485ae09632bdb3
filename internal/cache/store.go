package cache

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/static-hub/internal/buffercache"
	"github.com/any-hub/static-hub/internal/metrics"
	"github.com/any-hub/static-hub/internal/resource"
)

// MaxAge 的特殊取值（毫秒）。
const (
	// MaxAgeDisabled 关闭缓存：每次查询都回源，不保留条目也不使用数据缓存。
	MaxAgeDisabled int64 = 0
	// MaxAgeForever 缓存直到显式失效，不做周期性再验证。
	MaxAgeForever int64 = -1
)

const (
	DefaultEntries              = 4096
	DefaultMaxCacheableFileSize = 1 << 20

	// neverRecheck 是否定缓存的“永不复查”哨兵，仅在 MaxAgeForever 下使用。
	neverRecheck int64 = -1
)

// Options 控制 MetadataCache 的容量与 TTL 策略。
type Options struct {
	// Name 用于日志与指标标签，默认等于缓存 ID。
	Name string
	// Entries 为元数据条目上限，超出后按 LRU 淘汰。
	Entries int
	// MaxCacheableFileSize 以内（含）的资源才会进入数据缓存。
	MaxCacheableFileSize int64
	// MaxAge 为再验证间隔（毫秒），0 关闭缓存，-1 永不过期。
	MaxAge int64
	// DataCache 为共享的正文缓存，可为空。
	DataCache *buffercache.Cache
	Logger    *logrus.Logger
	Metrics   *metrics.Collector
	// Now 便于测试注入时钟，默认 time.Now。
	Now func() time.Time
}

// Stats 描述单个元数据缓存的概况。
type Stats struct {
	Name    string `json:"name"`
	ID      string `json:"id"`
	Entries int    `json:"entries"`
	MaxAge  int64  `json:"max_age_ms"`
}

// entry 是元数据缓存中的两类条目：*Handle 或 *negativeMarker。
type entry interface {
	isEntry()
}

// negativeMarker 记录一次“资源不存在”的结果以及下次复查时间（Unix 毫秒）。
type negativeMarker struct {
	nextCheck atomic.Int64
}

func (*negativeMarker) isEntry() {}

func newNegativeMarker(nextCheck int64) *negativeMarker {
	marker := &negativeMarker{}
	marker.nextCheck.Store(nextCheck)
	return marker
}

// due 表示已经到了复查时间。
func (n *negativeMarker) due(now int64) bool {
	next := n.nextCheck.Load()
	if next == neverRecheck {
		return false
	}
	return now > next
}

// MetadataCache 将规范化路径映射到 Handle 或否定标记，读写由一把 RWMutex 保护。
type MetadataCache struct {
	id           string
	name         string
	manager      resource.Manager
	dataCache    *buffercache.Cache
	capacity     int
	maxCacheable int64
	maxAge       int64
	logger       *logrus.Logger
	metrics      *metrics.Collector
	now          func() time.Time

	mu      sync.RWMutex
	entries *lru.Cache[string, entry]
}

// New 创建元数据缓存。manager 不能为空，非法的 MaxAge 会以告警日志回退为 0。
func New(manager resource.Manager, opts Options) (*MetadataCache, error) {
	if manager == nil {
		return nil, errors.New("resource manager required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	id := uuid.NewString()
	m := &MetadataCache{
		id:           id,
		name:         opts.Name,
		manager:      manager,
		dataCache:    opts.DataCache,
		capacity:     opts.Entries,
		maxCacheable: opts.MaxCacheableFileSize,
		maxAge:       opts.MaxAge,
		logger:       logger,
		metrics:      opts.Metrics,
		now:          now,
	}
	if m.name == "" {
		m.name = id
	}
	if m.capacity <= 0 {
		m.capacity = DefaultEntries
	}
	if m.maxCacheable <= 0 {
		m.maxCacheable = DefaultMaxCacheableFileSize
	}
	if m.maxAge < MaxAgeForever {
		logger.WithFields(logrus.Fields{
			"action":  "cache_config",
			"cache":   m.name,
			"max_age": opts.MaxAge,
		}).Warn("invalid max age, caching disabled")
		m.maxAge = MaxAgeDisabled
	}

	entries, err := m.newEntries()
	if err != nil {
		return nil, fmt.Errorf("create metadata cache: %w", err)
	}
	m.entries = entries
	return m, nil
}

// ID 返回缓存的唯一标识，同时作为数据缓存键的 Owner。
func (m *MetadataCache) ID() string {
	return m.id
}

// Name 返回日志/指标使用的名称。
func (m *MetadataCache) Name() string {
	return m.name
}

// MaxAge 返回生效的 MaxAge（毫秒）。
func (m *MetadataCache) MaxAge() int64 {
	return m.maxAge
}

// Len 返回当前条目数（包含否定条目）。
func (m *MetadataCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entries.Len()
}

// Stats 返回诊断信息。
func (m *MetadataCache) Stats() Stats {
	return Stats{
		Name:    m.name,
		ID:      m.id,
		Entries: m.Len(),
		MaxAge:  m.maxAge,
	}
}

// GetResource 返回路径对应的 Handle；资源不存在时返回 (nil, nil)。
// 后端查询失败的错误会原样包装返回，且不会被当作否定结果缓存。
func (m *MetadataCache) GetResource(ctx context.Context, resourcePath string) (*Handle, error) {
	key := normalizePath(resourcePath)
	if m.maxAge == MaxAgeDisabled {
		return m.passthrough(ctx, key)
	}

	m.mu.RLock()
	cached, ok := m.entries.Get(key)
	if !ok {
		m.mu.RUnlock()
		return m.resolve(ctx, key)
	}

	switch e := cached.(type) {
	case *negativeMarker:
		due := e.due(m.nowMillis())
		m.mu.RUnlock()
		if !due {
			m.metrics.RecordLookup(m.name, metrics.LookupNegativeHit)
			return nil, nil
		}
		return m.recheckNegative(ctx, key)
	case *Handle:
		// 再验证可能访问后端，在锁外进行
		m.mu.RUnlock()
		if e.checkStillValid(ctx) {
			m.metrics.RecordLookup(m.name, metrics.LookupHit)
			return e, nil
		}
		m.metrics.RecordLookup(m.name, metrics.LookupStale)
		m.removeIfCurrent(key, e)
		return m.resolve(ctx, key)
	default:
		m.mu.RUnlock()
		return m.resolve(ctx, key)
	}
}

// CheckStillValid 等价于 h.CheckStillValid，便于通过缓存直接询问。
func (m *MetadataCache) CheckStillValid(h *Handle) bool {
	if h == nil {
		return false
	}
	return h.CheckStillValid()
}

// Invalidate 删除单个路径的条目；若为已解析条目，同时清理其数据缓存。
func (m *MetadataCache) Invalidate(resourcePath string) bool {
	key := normalizePath(resourcePath)

	m.mu.Lock()
	removed := m.entries.Remove(key)
	m.mu.Unlock()

	m.metrics.RecordInvalidation(m.name, "path")
	if removed {
		m.logger.WithFields(logrus.Fields{
			"action": "cache_invalidate",
			"cache":  m.name,
			"path":   key,
		}).Debug("cache_entry_invalidated")
	}
	return removed
}

// InvalidateAll 清空全部条目：持锁期间只交换 map，逐条清理数据缓存在锁外完成。
func (m *MetadataCache) InvalidateAll() {
	fresh, err := m.newEntries()
	if err != nil {
		// capacity 在 New 中已校验为正数，理论上不会发生
		m.logger.WithError(err).WithField("action", "cache_invalidate").Error("cache_reset_failed")
		return
	}

	m.mu.Lock()
	old := m.entries
	m.entries = fresh
	m.mu.Unlock()

	purged := 0
	for _, e := range old.Values() {
		if h, ok := e.(*Handle); ok {
			h.Invalidate()
			purged++
		}
	}
	if m.dataCache != nil {
		for _, key := range m.dataCache.Keys() {
			if key.Owner == m.id {
				m.dataCache.Remove(key)
			}
		}
	}

	m.metrics.RecordInvalidation(m.name, "all")
	m.logger.WithFields(logrus.Fields{
		"action":  "cache_invalidate",
		"cache":   m.name,
		"entries": old.Len(),
		"purged":  purged,
	}).Info("cache_flushed")
}

// invalidatePrefix 删除 prefix 目录下的全部条目，用于目录被移除的情况。
func (m *MetadataCache) invalidatePrefix(prefix string) int {
	dir := normalizePath(prefix)
	if dir == "" {
		return 0
	}
	dir += "/"

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, key := range m.entries.Keys() {
		if strings.HasPrefix(key, dir) && m.entries.Remove(key) {
			removed++
		}
	}
	return removed
}

func (m *MetadataCache) passthrough(ctx context.Context, key string) (*Handle, error) {
	res, err := m.manager.GetResource(ctx, key)
	if err != nil {
		return nil, m.lookupError(key, err)
	}
	m.metrics.RecordLookup(m.name, metrics.LookupMiss)
	if res == nil {
		return nil, nil
	}
	return newHandle(m, key, res), nil
}

func (m *MetadataCache) resolve(ctx context.Context, key string) (*Handle, error) {
	res, err := m.manager.GetResource(ctx, key)
	if err != nil {
		return nil, m.lookupError(key, err)
	}
	m.metrics.RecordLookup(m.name, metrics.LookupMiss)

	m.mu.Lock()
	defer m.mu.Unlock()

	if res == nil {
		m.entries.Add(key, newNegativeMarker(m.nextNegativeCheck()))
		return nil, nil
	}
	return m.storeLocked(key, res), nil
}

// recheckNegative 在写锁内复查到期的否定条目，保证并发请求只触发一次回源。
func (m *MetadataCache) recheckNegative(ctx context.Context, key string) (*Handle, error) {
	m.mu.Lock()
	cached, ok := m.entries.Peek(key)
	marker, isNegative := cached.(*negativeMarker)
	if !ok || !isNegative {
		m.mu.Unlock()
		return m.GetResource(ctx, key)
	}
	defer m.mu.Unlock()

	if !marker.due(m.nowMillis()) {
		m.metrics.RecordLookup(m.name, metrics.LookupNegativeHit)
		return nil, nil
	}

	res, err := m.manager.GetResource(ctx, key)
	if err != nil {
		return nil, m.lookupError(key, err)
	}
	if res == nil {
		marker.nextCheck.Store(m.nextNegativeCheck())
		m.metrics.RecordLookup(m.name, metrics.LookupNegativeHit)
		return nil, nil
	}

	m.metrics.RecordLookup(m.name, metrics.LookupMiss)
	m.entries.Remove(key)
	return m.storeLocked(key, res), nil
}

// storeLocked 需持有写锁。资源可能在没有变更通知的情况下被替换，因此先丢弃同键的旧数据缓存。
func (m *MetadataCache) storeLocked(key string, res resource.Resource) *Handle {
	h := newHandle(m, key, res)
	h.Invalidate()
	m.entries.Add(key, h)
	return h
}

func (m *MetadataCache) removeIfCurrent(key string, h *Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.entries.Peek(key); ok && current == entry(h) {
		m.entries.Remove(key)
	}
}

func (m *MetadataCache) newEntries() (*lru.Cache[string, entry], error) {
	return lru.NewWithEvict[string, entry](m.capacity, m.onEvict)
}

// onEvict 在容量淘汰与显式删除时回调，已解析条目需要同步清理数据缓存。
func (m *MetadataCache) onEvict(_ string, e entry) {
	if h, ok := e.(*Handle); ok {
		h.Invalidate()
	}
}

func (m *MetadataCache) lookupError(key string, err error) error {
	m.metrics.RecordLookup(m.name, metrics.LookupError)
	m.logger.WithError(err).WithFields(logrus.Fields{
		"action": "resource_lookup",
		"cache":  m.name,
		"path":   key,
	}).Warn("resource_lookup_failed")
	return fmt.Errorf("lookup %s: %w", key, err)
}

func (m *MetadataCache) nextNegativeCheck() int64 {
	if m.maxAge == MaxAgeForever {
		return neverRecheck
	}
	return m.nowMillis() + m.maxAge
}

func (m *MetadataCache) nowMillis() int64 {
	return m.now().UnixMilli()
}

// normalizePath 清理 . 与 .. 段并去掉前导 /，与后端解析路径的方式保持一致。
func normalizePath(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}
