package resource

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound 由后端内部使用，表示路径不存在；Manager.GetResource 对外以 (nil, nil) 表达未命中。
var ErrNotFound = errors.New("resource not found")

// Manager 按路径解析资源，需支持重复调用。未找到时返回 (nil, nil)，I/O 失败返回 error。
type Manager interface {
	GetResource(ctx context.Context, path string) (Resource, error)
}

// Resource 描述一个可流式输出的静态资源。LastModified/Exists/ContentLength 反映后端的当前状态，
// 缓存通过它们判断快照是否过期。
type Resource interface {
	Name() string
	Path() string
	IsDirectory() bool
	Exists() bool
	LastModified() time.Time
	ETag() string
	// ContentLength 返回字节数，未知时返回 -1。
	ContentLength() int64
	// CacheKey 是数据缓存使用的稳定标识。
	CacheKey() string
	Serve(ctx context.Context, w io.Writer) error
}

// State 是一次读取得到的后端状态。
type State struct {
	Exists        bool
	LastModified  time.Time
	ContentLength int64
}

// StatResource 由能够一次取回全部后端状态的资源实现。再验证优先使用 Stat，
// 避免 Exists/LastModified 各自访问一次后端；资源不存在时返回 Exists=false 而不是 error。
type StatResource interface {
	Resource
	Stat(ctx context.Context) (State, error)
}

// RangeResource 为支持按字节区间输出的资源。
type RangeResource interface {
	Resource
	RangeSupported() bool
	// ServeRange 输出 [start, endInclusive] 区间的字节。
	ServeRange(ctx context.Context, w io.Writer, start, endInclusive int64) error
}

// ChangeKind 标识一次变更的类型。
type ChangeKind int

const (
	ChangeAdded ChangeKind = iota
	ChangeRemoved
	ChangeModified
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeRemoved:
		return "removed"
	case ChangeModified:
		return "modified"
	default:
		return "unknown"
	}
}

// Change 是一条资源变更通知，Path 相对于 Manager 根路径。
type Change struct {
	Path string
	Kind ChangeKind
}

// ChangeListener 接收批量变更。
type ChangeListener interface {
	ResourcesChanged(changes []Change)
}

// ChangeListenerFunc 将函数适配为 ChangeListener。
type ChangeListenerFunc func(changes []Change)

// ResourcesChanged makes ChangeListenerFunc satisfy ChangeListener.
func (f ChangeListenerFunc) ResourcesChanged(changes []Change) {
	f(changes)
}

// Watchable 由能够推送变更通知的 Manager 实现。
type Watchable interface {
	ChangeListenerSupported() bool
	AddChangeListener(listener ChangeListener)
	RemoveChangeListener(listener ChangeListener)
}
