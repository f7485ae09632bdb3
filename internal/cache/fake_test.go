package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/any-hub/static-hub/internal/resource"
)

// fakeClock 提供可手动推进的时钟。
type fakeClock struct {
	ms atomic.Int64
}

func newFakeClock() *fakeClock {
	c := &fakeClock{}
	c.ms.Store(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli())
	return c
}

func (c *fakeClock) Now() time.Time {
	return time.UnixMilli(c.ms.Load())
}

func (c *fakeClock) Advance(d time.Duration) {
	c.ms.Add(d.Milliseconds())
}

// fakeManager 是可控的内存后端，记录 GetResource 调用次数。
type fakeManager struct {
	mu        sync.Mutex
	resources map[string]*fakeResource
	err       error
	lookups   atomic.Int32
	listeners []resource.ChangeListener
	// statable 为 true 时返回实现 resource.StatResource 的资源
	statable bool
}

func newFakeManager() *fakeManager {
	return &fakeManager{resources: make(map[string]*fakeResource)}
}

func (m *fakeManager) put(path, body string) *fakeResource {
	res := &fakeResource{
		path:           path,
		body:           []byte(body),
		modTime:        time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC),
		chunk:          3,
		rangeSupported: true,
	}
	res.exists.Store(true)
	m.mu.Lock()
	m.resources[path] = res
	m.mu.Unlock()
	return res
}

func (m *fakeManager) delete(path string) {
	m.mu.Lock()
	if res, ok := m.resources[path]; ok {
		res.exists.Store(false)
		delete(m.resources, path)
	}
	m.mu.Unlock()
}

func (m *fakeManager) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *fakeManager) GetResource(_ context.Context, path string) (resource.Resource, error) {
	m.lookups.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	res, ok := m.resources[path]
	if !ok {
		return nil, nil
	}
	if m.statable {
		return &statFakeResource{fakeResource: res}, nil
	}
	return res, nil
}

func (m *fakeManager) ChangeListenerSupported() bool { return true }

func (m *fakeManager) AddChangeListener(l resource.ChangeListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *fakeManager) RemoveChangeListener(l resource.ChangeListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.listeners {
		if existing == l {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			return
		}
	}
}

func (m *fakeManager) emit(changes ...resource.Change) {
	m.mu.Lock()
	listeners := append([]resource.ChangeListener(nil), m.listeners...)
	m.mu.Unlock()
	for _, l := range listeners {
		l.ResourcesChanged(changes)
	}
}

// fakeResource 按 chunk 大小分多次写出 body，可模拟长度未知、输出超长、中途失败与阻塞。
type fakeResource struct {
	mu             sync.Mutex
	path           string
	body           []byte
	modTime        time.Time
	chunk          int
	rangeSupported bool
	unknownLength  bool
	extraBytes     int
	failAfter      int
	gate           chan struct{}

	exists      atomic.Bool
	down        atomic.Bool
	serves      atomic.Int32
	rangeServes atomic.Int32
	// metaCalls 统计 Exists/LastModified/ContentLength/Stat 对后端元数据的访问
	metaCalls atomic.Int32
	stats     atomic.Int32
}

func (r *fakeResource) Name() string      { return r.path }
func (r *fakeResource) Path() string      { return r.path }
func (r *fakeResource) IsDirectory() bool { return false }
func (r *fakeResource) CacheKey() string  { return "key:" + r.path }

func (r *fakeResource) Exists() bool {
	r.metaCalls.Add(1)
	return r.exists.Load() && !r.down.Load()
}

func (r *fakeResource) ETag() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fmt.Sprintf(`"%x-%x"`, r.modTime.Unix(), len(r.body))
}

func (r *fakeResource) LastModified() time.Time {
	r.metaCalls.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.modTime
}

func (r *fakeResource) touch(d time.Duration) {
	r.mu.Lock()
	r.modTime = r.modTime.Add(d)
	r.mu.Unlock()
}

func (r *fakeResource) ContentLength() int64 {
	r.metaCalls.Add(1)
	if r.unknownLength || r.down.Load() {
		return -1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.body))
}

func (r *fakeResource) setBody(body string) {
	r.mu.Lock()
	r.body = []byte(body)
	r.mu.Unlock()
}

func (r *fakeResource) RangeSupported() bool { return r.rangeSupported }

func (r *fakeResource) payload() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]byte(nil), r.body...)
	for i := 0; i < r.extraBytes; i++ {
		out = append(out, '+')
	}
	return out
}

var errBackendFailed = errors.New("backend failed")

func (r *fakeResource) Serve(ctx context.Context, w io.Writer) error {
	r.serves.Add(1)
	if r.down.Load() {
		return errBackendFailed
	}
	if r.gate != nil {
		<-r.gate
	}
	return r.write(ctx, w, r.payload())
}

func (r *fakeResource) ServeRange(ctx context.Context, w io.Writer, start, endInclusive int64) error {
	r.rangeServes.Add(1)
	if r.down.Load() {
		return errBackendFailed
	}
	body := r.payload()
	if endInclusive >= int64(len(body)) {
		return io.ErrUnexpectedEOF
	}
	return r.write(ctx, w, body[start:endInclusive+1])
}

func (r *fakeResource) write(ctx context.Context, w io.Writer, body []byte) error {
	chunk := r.chunk
	if chunk <= 0 {
		chunk = len(body)
	}
	written := 0
	for written < len(body) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.failAfter > 0 && written >= r.failAfter {
			return errBackendFailed
		}
		end := written + chunk
		if end > len(body) {
			end = len(body)
		}
		n, err := w.Write(body[written:end])
		written += n
		if err != nil {
			return err
		}
	}
	return nil
}

// statFakeResource 以一次调用返回完整状态，stats 统计调用次数。
type statFakeResource struct {
	*fakeResource
}

func (r *statFakeResource) Stat(ctx context.Context) (resource.State, error) {
	r.metaCalls.Add(1)
	r.stats.Add(1)
	if err := ctx.Err(); err != nil {
		return resource.State{ContentLength: -1}, err
	}
	if r.down.Load() {
		return resource.State{ContentLength: -1}, errBackendFailed
	}
	if !r.exists.Load() {
		return resource.State{ContentLength: -1}, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return resource.State{Exists: true, LastModified: r.modTime, ContentLength: int64(len(r.body))}, nil
}

// failingWriter 在写入 limit 字节后返回错误，模拟下游连接中断。
type failingWriter struct {
	limit   int
	written int
}

var errSinkClosed = errors.New("sink closed")

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.written+len(p) > w.limit {
		n := w.limit - w.written
		w.written = w.limit
		return n, errSinkClosed
	}
	w.written += len(p)
	return len(p), nil
}
