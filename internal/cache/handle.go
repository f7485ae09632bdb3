package cache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/static-hub/internal/buffercache"
	"github.com/any-hub/static-hub/internal/metrics"
	"github.com/any-hub/static-hub/internal/resource"
)

var (
	// ErrRangeNotSupported 表示后端资源不支持按区间输出，缓存不会替后端补齐该能力。
	ErrRangeNotSupported = errors.New("range not supported by resource")
	// ErrInvalidRange 表示区间越界或起止颠倒。
	ErrInvalidRange = errors.New("invalid byte range")
)

// Handle 是一次解析结果的不可变快照。除 nextCheck 外所有字段在构造后不再修改，
// 过期判断依赖重新读取后端的 LastModified，而不是原地更新快照。
type Handle struct {
	owner    *MetadataCache
	resource resource.Resource

	path               string
	name               string
	isDirectory        bool
	lastModified       time.Time
	lastModifiedString string
	etag               string
	cacheKey           string
	dataKey            buffercache.Key

	// nextCheck 为下次再验证的 Unix 毫秒时间，<= 0 表示不做周期性再验证。
	nextCheck atomic.Int64
}

func (*Handle) isEntry() {}

func newHandle(owner *MetadataCache, path string, res resource.Resource) *Handle {
	lastModified := res.LastModified()
	h := &Handle{
		owner:        owner,
		resource:     res,
		path:         path,
		name:         res.Name(),
		isDirectory:  res.IsDirectory(),
		lastModified: lastModified,
		etag:         res.ETag(),
		cacheKey:     res.CacheKey(),
		dataKey:      buffercache.Key{Owner: owner.id, Resource: res.CacheKey()},
	}
	if !lastModified.IsZero() {
		h.lastModifiedString = lastModified.UTC().Format(http.TimeFormat)
	}
	if owner.maxAge > 0 {
		h.nextCheck.Store(owner.nowMillis() + owner.maxAge)
	}
	return h
}

func (h *Handle) Path() string                { return h.path }
func (h *Handle) Name() string                { return h.name }
func (h *Handle) IsDirectory() bool           { return h.isDirectory }
func (h *Handle) LastModified() time.Time     { return h.lastModified }
func (h *Handle) LastModifiedString() string  { return h.lastModifiedString }
func (h *Handle) ETag() string                { return h.etag }
func (h *Handle) CacheKey() string            { return h.cacheKey }
func (h *Handle) DataKey() buffercache.Key    { return h.dataKey }
func (h *Handle) Resource() resource.Resource { return h.resource }

// CheckStillValid 在再验证期限到达后重新读取后端的修改时间，与快照不一致或资源已消失即视为失效。
func (h *Handle) CheckStillValid() bool {
	return h.checkStillValid(context.Background())
}

// checkStillValid 每次再验证只访问后端一次；ctx 已取消导致读取失败时保留快照，
// 并恢复原期限让下一次请求重新验证。
func (h *Handle) checkStillValid(ctx context.Context) bool {
	next := h.nextCheck.Load()
	if next <= 0 {
		return true
	}
	now := h.owner.nowMillis()
	if now <= next {
		return true
	}
	deadline := now + h.owner.maxAge
	if !h.nextCheck.CompareAndSwap(next, deadline) {
		// 并发请求已在做本轮再验证
		return true
	}

	st, err := h.stat(ctx)
	if err != nil {
		if ctx.Err() != nil {
			h.nextCheck.CompareAndSwap(deadline, next)
			return true
		}
		h.owner.logger.WithError(err).WithFields(logrus.Fields{
			"action": "cache_revalidate",
			"cache":  h.owner.name,
			"path":   h.path,
		}).Debug("revalidate_failed")
		return false
	}
	return st.Exists && st.LastModified.Equal(h.lastModified)
}

func (h *Handle) stat(ctx context.Context) (resource.State, error) {
	if sr, ok := h.resource.(resource.StatResource); ok {
		return sr.Stat(ctx)
	}
	if !h.resource.Exists() {
		return resource.State{ContentLength: -1}, nil
	}
	return resource.State{
		Exists:        true,
		LastModified:  h.resource.LastModified(),
		ContentLength: h.resource.ContentLength(),
	}, nil
}

// Invalidate 清理该资源在数据缓存中的条目。
func (h *Handle) Invalidate() {
	if dc := h.owner.dataCache; dc != nil {
		dc.Remove(h.dataKey)
	}
}

// ContentLength 仅在数据缓存条目已启用时返回缓存大小，否则总是以后端当前大小为准，
// 保证报告的长度与实际输出一致。
func (h *Handle) ContentLength() int64 {
	if e := h.enabledEntry(); e != nil {
		return e.Size()
	}
	return h.resource.ContentLength()
}

// Cached 报告正文当前能否直接由数据缓存输出。
func (h *Handle) Cached() bool {
	return h.enabledEntry() != nil
}

func (h *Handle) enabledEntry() *buffercache.Entry {
	dc := h.dataCache()
	if dc == nil {
		return nil
	}
	if e := dc.Get(h.dataKey); e != nil && e.Enabled() {
		return e
	}
	return nil
}

// RangeSupported 只有后端资源支持区间时才为 true。
func (h *Handle) RangeSupported() bool {
	ranged, ok := h.resource.(resource.RangeResource)
	return ok && ranged.RangeSupported()
}

// Serve 输出完整正文。
func (h *Handle) Serve(ctx context.Context, w io.Writer) error {
	return h.serve(ctx, w, nil)
}

// ServeRange 输出 [start, endInclusive] 区间，调用前需确认 RangeSupported。
func (h *Handle) ServeRange(ctx context.Context, w io.Writer, start, endInclusive int64) error {
	if !h.RangeSupported() {
		return ErrRangeNotSupported
	}
	if start < 0 || endInclusive < start {
		return ErrInvalidRange
	}
	return h.serve(ctx, w, &byteRange{start: start, end: endInclusive})
}

type byteRange struct {
	start int64
	end   int64
}

// dataCache 在 MaxAge=0（缓存关闭）时返回 nil。
func (h *Handle) dataCache() *buffercache.Cache {
	if h.owner.maxAge == MaxAgeDisabled {
		return nil
	}
	return h.owner.dataCache
}

// serve 先查已启用的缓存条目，命中时不访问后端元数据；只有未命中才读取后端大小判断能否填充。
func (h *Handle) serve(ctx context.Context, w io.Writer, rng *byteRange) error {
	dc := h.dataCache()
	if dc == nil || h.isDirectory {
		h.record(metrics.DataBypass)
		return h.serveBackend(ctx, w, rng)
	}

	if e := dc.Get(h.dataKey); e != nil && e.Enabled() {
		if lease, ok := e.Acquire(); ok {
			defer lease.Release()
			h.record(metrics.DataHit)
			return writeSegments(ctx, w, lease.Segments(), e.Size(), rng)
		}
	}

	// 区间请求只读不写：部分正文无法填充完整条目
	if rng != nil {
		h.record(metrics.DataBypass)
		return h.serveBackend(ctx, w, rng)
	}

	length := h.resource.ContentLength()
	if length < 0 || length > h.owner.maxCacheable {
		h.record(metrics.DataBypass)
		return h.serveBackend(ctx, w, nil)
	}

	e := dc.Add(h.dataKey, length)
	if e == nil || !e.ClaimEnable() {
		h.record(metrics.DataBypass)
		return h.serveBackend(ctx, w, nil)
	}
	lease, ok := e.Acquire()
	if !ok {
		e.Disable()
		h.record(metrics.DataBypass)
		return h.serveBackend(ctx, w, nil)
	}
	defer lease.Release()
	return h.populate(ctx, w, e)
}

// populate 由赢得 ClaimEnable 的请求执行：正文经 tee 同时写入下游与缓存分段。
// 缓存写入失败只会禁用条目，不影响本次响应。
func (h *Handle) populate(ctx context.Context, w io.Writer, e *buffercache.Entry) error {
	tee := newPopulateWriter(w, e)
	err := h.resource.Serve(ctx, tee)
	if err == nil && tee.Err() == nil && e.Enable() {
		h.record(metrics.DataPopulate)
		h.owner.logger.WithFields(logrus.Fields{
			"action": "cache_populate",
			"cache":  h.owner.name,
			"path":   h.path,
			"bytes":  e.Size(),
		}).Debug("cache_entry_enabled")
		return nil
	}

	e.Disable()
	h.record(metrics.DataDisabled)

	fields := logrus.Fields{
		"action":  "cache_populate",
		"cache":   h.owner.name,
		"path":    h.path,
		"written": tee.Written(),
		"size":    e.Size(),
	}
	switch {
	case err != nil:
		h.owner.logger.WithError(err).WithFields(fields).Debug("cache_populate_aborted")
	case tee.Err() != nil:
		h.owner.logger.WithError(tee.Err()).WithFields(fields).Warn("cache_populate_failed")
	default:
		h.owner.logger.WithFields(fields).Warn("cache_populate_incomplete")
	}
	return err
}

func (h *Handle) serveBackend(ctx context.Context, w io.Writer, rng *byteRange) error {
	if rng == nil {
		return h.resource.Serve(ctx, w)
	}
	ranged, ok := h.resource.(resource.RangeResource)
	if !ok {
		return ErrRangeNotSupported
	}
	return ranged.ServeRange(ctx, w, rng.start, rng.end)
}

func (h *Handle) record(result string) {
	h.owner.metrics.RecordDataServe(h.owner.name, result)
}

// writeSegments 将（可能已裁剪的）分段视图依次写出。
func writeSegments(ctx context.Context, w io.Writer, views [][]byte, size int64, rng *byteRange) error {
	if rng != nil {
		if rng.end >= size {
			return ErrInvalidRange
		}
		views = TrimSegments(views, rng.start, rng.end)
	}
	for _, view := range views {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(view) == 0 {
			continue
		}
		if _, err := w.Write(view); err != nil {
			return err
		}
	}
	return nil
}
