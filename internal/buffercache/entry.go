package buffercache

import (
	"errors"
	"sync/atomic"
)

// State 是条目状态机的取值。
type State int32

const (
	StateEmpty State = iota
	StatePopulating
	StateEnabled
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StatePopulating:
		return "populating"
	case StateEnabled:
		return "enabled"
	case StateDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// ErrOverflow 表示写入字节数超过了条目创建时声明的 size。
var ErrOverflow = errors.New("buffer cache entry overflow")

// Entry 保存一个资源的分段数据。refs 初始为 1，代表缓存自身持有的引用，
// 条目被移除时释放；归零后分段归还到池中。
type Entry struct {
	key      Key
	cache    *Cache
	size     int64
	reserved int64

	// segments/written 仅由赢得 ClaimEnable 的写入方修改，Enable 之后只读。
	segments [][]byte
	written  int64

	state   atomic.Int32
	refs    atomic.Int32
	removed atomic.Bool
}

// Key 返回条目的缓存键。
func (e *Entry) Key() Key {
	return e.key
}

// Size 返回条目声明的字节数。
func (e *Entry) Size() int64 {
	return e.size
}

// State 返回当前状态。
func (e *Entry) State() State {
	return State(e.state.Load())
}

// Enabled 表示数据已完整写入，可直接读取。
func (e *Entry) Enabled() bool {
	return e.State() == StateEnabled
}

// Refs 返回当前引用数（包含缓存自身持有的那一份）。
func (e *Entry) Refs() int32 {
	return e.refs.Load()
}

// ClaimEnable 尝试成为唯一的写入方：只有第一个把 empty 切换为 populating 的调用者返回 true。
func (e *Entry) ClaimEnable() bool {
	return e.state.CompareAndSwap(int32(StateEmpty), int32(StatePopulating))
}

// Acquire 获取一个 Lease。条目已禁用或已被移除且无人引用时返回 false。
func (e *Entry) Acquire() (*Lease, bool) {
	if e.State() == StateDisabled {
		return nil, false
	}
	for {
		refs := e.refs.Load()
		if refs <= 0 {
			return nil, false
		}
		if e.refs.CompareAndSwap(refs, refs+1) {
			return &Lease{entry: e}, true
		}
	}
}

// Write 追加数据到分段末尾，只允许写入方在 populating 状态下调用。
func (e *Entry) Write(p []byte) (int, error) {
	if e.State() != StatePopulating {
		return 0, errors.New("buffer cache entry is not populating")
	}
	if e.written+int64(len(p)) > e.size {
		return 0, ErrOverflow
	}

	segmentSize := int64(e.cache.segmentSize)
	total := 0
	for total < len(p) {
		idx := e.written / segmentSize
		seg := e.segments[idx]
		free := cap(seg) - len(seg)
		n := copy(seg[len(seg):len(seg)+free], p[total:])
		e.segments[idx] = seg[:len(seg)+n]
		e.written += int64(n)
		total += n
	}
	return total, nil
}

// Enable 在写满 size 字节后发布数据。条目已被并发移除或写入不完整时转为禁用并返回 false。
func (e *Entry) Enable() bool {
	if e.written != e.size || e.removed.Load() {
		e.Disable()
		return false
	}
	return e.state.CompareAndSwap(int32(StatePopulating), int32(StateEnabled))
}

// Disable 标记条目不可用并从缓存中摘除，后续请求可以重新填充一个新条目。
func (e *Entry) Disable() {
	e.state.Store(int32(StateDisabled))
	e.cache.removeEntry(e)
}

// detach 释放缓存自身持有的引用，只会生效一次。
func (e *Entry) detach() {
	if e.removed.CompareAndSwap(false, true) {
		e.release()
	}
}

func (e *Entry) release() {
	if e.refs.Add(-1) == 0 {
		segments := e.segments
		e.segments = nil
		e.cache.recycle(segments)
	}
}

// Lease 代表一次成功的引用，Release 必须调用且只会生效一次，通常配合 defer 使用。
type Lease struct {
	entry    *Entry
	released atomic.Bool
}

// Entry 返回 Lease 对应的条目。
func (l *Lease) Entry() *Entry {
	return l.entry
}

// Segments 返回分段切片头的副本，调用方可以自由调整自己的视图而不影响共享数据。
func (l *Lease) Segments() [][]byte {
	views := make([][]byte, len(l.entry.segments))
	copy(views, l.entry.segments)
	return views
}

// Release 归还引用。
func (l *Lease) Release() {
	if l.released.CompareAndSwap(false, true) {
		l.entry.release()
	}
}
