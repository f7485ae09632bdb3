package buffercache

import (
	"errors"
	"math"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultSegmentSize 是单个池化分段的默认容量。
const DefaultSegmentSize = 16 * 1024

// Key 由所属元数据缓存 ID 与后端资源键组成，两者都相同才视为同一条目。
type Key struct {
	Owner    string
	Resource string
}

// Options 控制数据缓存的总容量与分段大小。
type Options struct {
	// Capacity 为所有条目占用分段字节数之和的上限。
	Capacity int64
	// SegmentSize 为单个分段的容量，未设置时使用 DefaultSegmentSize。
	SegmentSize int
}

// Stats 描述当前缓存占用，供诊断接口输出。
type Stats struct {
	Entries     int   `json:"entries"`
	UsedBytes   int64 `json:"used_bytes"`
	Capacity    int64 `json:"capacity"`
	SegmentSize int   `json:"segment_size"`
}

// Cache 是按容量淘汰的分段缓存。map 与 LRU 顺序由 mu 保护，
// 条目的引用计数与状态位则完全依赖原子操作。
type Cache struct {
	capacity    int64
	segmentSize int
	pool        sync.Pool

	mu      sync.Mutex
	entries *simplelru.LRU[Key, *Entry]
	used    int64
}

// New 创建数据缓存，Capacity 必须大于 0。
func New(opts Options) (*Cache, error) {
	if opts.Capacity <= 0 {
		return nil, errors.New("buffer cache capacity must be positive")
	}
	segmentSize := opts.SegmentSize
	if segmentSize <= 0 {
		segmentSize = DefaultSegmentSize
	}

	c := &Cache{
		capacity:    opts.Capacity,
		segmentSize: segmentSize,
	}
	c.pool.New = func() interface{} {
		buf := make([]byte, segmentSize)
		return &buf
	}

	entries, err := simplelru.NewLRU[Key, *Entry](math.MaxInt, c.onEvict)
	if err != nil {
		return nil, err
	}
	c.entries = entries
	return c, nil
}

// Get 返回已存在的条目，不影响引用计数。
func (c *Cache) Get(key Key) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries.Get(key)
	if !ok {
		return nil
	}
	return entry
}

// Add 创建一个能容纳 size 字节的空条目；若并发调用已创建则直接返回已有条目。
// size 超过缓存总容量时返回 nil，调用方应绕过缓存。
func (c *Cache) Add(key Key, size int64) *Entry {
	if size < 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries.Get(key); ok {
		return entry
	}

	count := c.segmentCount(size)
	reserved := int64(count) * int64(c.segmentSize)
	if reserved > c.capacity {
		return nil
	}
	for c.used+reserved > c.capacity {
		if _, _, ok := c.entries.RemoveOldest(); !ok {
			break
		}
	}

	entry := &Entry{
		key:      key,
		cache:    c,
		size:     size,
		reserved: reserved,
		segments: make([][]byte, count),
	}
	for i := range entry.segments {
		entry.segments[i] = (*c.pool.Get().(*[]byte))[:0]
	}
	entry.refs.Store(1)

	c.entries.Add(key, entry)
	c.used += reserved
	return entry
}

// Remove 淘汰条目。仍持有 Lease 的读者不受影响，分段在最后一个 Lease 释放后归还。
func (c *Cache) Remove(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Remove(key)
}

// Keys 返回所有条目键的快照，用于按 Owner 批量清理。
func (c *Cache) Keys() []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Keys()
}

// Stats 返回当前占用情况。
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:     c.entries.Len(),
		UsedBytes:   c.used,
		Capacity:    c.capacity,
		SegmentSize: c.segmentSize,
	}
}

// SegmentSize 返回单个分段容量。
func (c *Cache) SegmentSize() int {
	return c.segmentSize
}

// removeEntry 仅在 key 仍映射到 entry 时才删除，避免误删并发新建的条目。
func (c *Cache) removeEntry(entry *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.entries.Peek(entry.key); ok && current == entry {
		c.entries.Remove(entry.key)
	}
}

// onEvict 在 mu 持有期间由 simplelru 回调。
func (c *Cache) onEvict(_ Key, entry *Entry) {
	c.used -= entry.reserved
	entry.detach()
}

func (c *Cache) segmentCount(size int64) int {
	seg := int64(c.segmentSize)
	return int((size + seg - 1) / seg)
}

func (c *Cache) recycle(segments [][]byte) {
	for _, seg := range segments {
		buf := seg[:cap(seg)]
		// nolint:staticcheck // SA6002: sync.Pool.Put requires interface{}
		c.pool.Put(&buf)
	}
}
