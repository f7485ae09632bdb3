package resource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// FileManager 将一个目录树暴露为资源后端。所有路径都相对于 fs 根目录，
// 通过 path.Clean 规范化后不会越出根目录。
type FileManager struct {
	fs     afero.Fs
	root   string
	logger *logrus.Logger

	mu        sync.RWMutex
	listeners []ChangeListener
	watcher   *fsnotify.Watcher
	done      chan struct{}
}

// NewFileManager 基于已限定根目录的 afero.Fs 构建后端，测试中通常传入 afero.NewMemMapFs()。
func NewFileManager(fsys afero.Fs, logger *logrus.Logger) *FileManager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &FileManager{fs: fsys, logger: logger}
}

// NewOSFileManager 以磁盘目录 root 为根构建后端，root 必须是已存在的目录。
func NewOSFileManager(root string, logger *logrus.Logger) (*FileManager, error) {
	if root == "" {
		return nil, errors.New("root path required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat root path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path %s is not a directory", abs)
	}

	m := NewFileManager(afero.NewBasePathFs(afero.NewOsFs(), abs), logger)
	m.root = abs
	return m, nil
}

// GetResource 实现 Manager。
func (m *FileManager) GetResource(ctx context.Context, name string) (Resource, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	clean := cleanPath(name)
	info, err := m.fs.Stat(clean)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat %s: %w", clean, err)
	}

	return &fileResource{
		fs:   m.fs,
		path: clean,
		info: info,
	}, nil
}

// EnableWatch 启动 fsnotify 监听，仅对 NewOSFileManager 创建的后端可用。
// 新建的子目录会被自动加入监听。
func (m *FileManager) EnableWatch() error {
	if m.root == "" {
		return errors.New("watch requires an os-backed file manager")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := addWatchTree(watcher, m.root); err != nil {
		watcher.Close()
		return err
	}

	m.watcher = watcher
	m.done = make(chan struct{})
	go m.watchLoop(watcher, m.done)
	return nil
}

// Close 停止监听。
func (m *FileManager) Close() error {
	m.mu.Lock()
	watcher := m.watcher
	done := m.done
	m.watcher = nil
	m.done = nil
	m.mu.Unlock()

	if watcher == nil {
		return nil
	}
	err := watcher.Close()
	<-done
	return err
}

// ChangeListenerSupported 实现 Watchable。
func (m *FileManager) ChangeListenerSupported() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.watcher != nil
}

// AddChangeListener 实现 Watchable。
func (m *FileManager) AddChangeListener(listener ChangeListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, listener)
}

// RemoveChangeListener 实现 Watchable；listener 必须是可比较的类型（通常为指针）。
func (m *FileManager) RemoveChangeListener(listener ChangeListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.listeners {
		if l == listener {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			return
		}
	}
}

func (m *FileManager) notify(changes []Change) {
	m.mu.RLock()
	listeners := append([]ChangeListener(nil), m.listeners...)
	m.mu.RUnlock()

	for _, l := range listeners {
		l.ResourcesChanged(changes)
	}
}

func (m *FileManager) watchLoop(watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			m.handleEvent(watcher, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.WithError(err).WithFields(logrus.Fields{
				"action": "resource_watch",
				"root":   m.root,
			}).Warn("watch_error")
		}
	}
}

func (m *FileManager) handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event) {
	rel, err := filepath.Rel(m.root, event.Name)
	if err != nil {
		return
	}
	change := Change{Path: cleanPath(filepath.ToSlash(rel))}

	switch {
	case event.Has(fsnotify.Create):
		change.Kind = ChangeAdded
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := addWatchTree(watcher, event.Name); err != nil {
				m.logger.WithError(err).WithField("action", "resource_watch").Warn("watch_add_failed")
			}
		}
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		change.Kind = ChangeRemoved
	case event.Has(fsnotify.Write), event.Has(fsnotify.Chmod):
		change.Kind = ChangeModified
	default:
		return
	}

	m.logger.WithFields(logrus.Fields{
		"action": "resource_watch",
		"path":   change.Path,
		"kind":   change.Kind.String(),
	}).Debug("resource_changed")
	m.notify([]Change{change})
}

func addWatchTree(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := watcher.Add(p); err != nil {
				return fmt.Errorf("watch %s: %w", p, err)
			}
		}
		return nil
	})
}

// cleanPath 规范化为以 / 开头的 URL 风格路径，清除 .. 段。
func cleanPath(raw string) string {
	return path.Clean("/" + raw)
}

type fileResource struct {
	fs   afero.Fs
	path string
	info os.FileInfo
}

func (r *fileResource) Name() string      { return r.info.Name() }
func (r *fileResource) Path() string      { return r.path }
func (r *fileResource) IsDirectory() bool { return r.info.IsDir() }
func (r *fileResource) CacheKey() string  { return r.path }

func (r *fileResource) Exists() bool {
	_, err := r.fs.Stat(r.path)
	return err == nil
}

func (r *fileResource) LastModified() time.Time {
	info, err := r.fs.Stat(r.path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// Stat 以一次 Stat 取回存在性、修改时间与大小。
func (r *fileResource) Stat(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{ContentLength: -1}, err
	}
	info, err := r.fs.Stat(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return State{ContentLength: -1}, nil
		}
		return State{ContentLength: -1}, err
	}
	st := State{Exists: true, LastModified: info.ModTime(), ContentLength: info.Size()}
	if info.IsDir() {
		st.ContentLength = -1
	}
	return st, nil
}

// ETag 使用快照的修改时间与大小，格式为 "<mtime-hex>-<size-hex>"。
func (r *fileResource) ETag() string {
	return fmt.Sprintf(`"%x-%x"`, r.info.ModTime().Unix(), r.info.Size())
}

func (r *fileResource) ContentLength() int64 {
	if r.info.IsDir() {
		return -1
	}
	info, err := r.fs.Stat(r.path)
	if err != nil {
		return -1
	}
	return info.Size()
}

func (r *fileResource) RangeSupported() bool {
	return !r.info.IsDir()
}

func (r *fileResource) Serve(ctx context.Context, w io.Writer) error {
	f, err := r.open()
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = copyWithContext(ctx, w, f)
	return err
}

func (r *fileResource) ServeRange(ctx context.Context, w io.Writer, start, endInclusive int64) error {
	if start < 0 || endInclusive < start {
		return fmt.Errorf("invalid range %d-%d", start, endInclusive)
	}
	f, err := r.open()
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return err
	}
	want := endInclusive - start + 1
	copied, err := copyWithContext(ctx, w, io.LimitReader(f, want))
	if err != nil {
		return err
	}
	if copied < want {
		return io.ErrUnexpectedEOF
	}
	return nil
}

func (r *fileResource) open() (afero.File, error) {
	if r.info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", r.path)
	}
	f, err := r.fs.Open(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
