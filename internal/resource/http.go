package resource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// HTTPManager 将上游源站作为资源后端：HEAD 获取元数据，GET/Range 拉取正文。
type HTTPManager struct {
	client *http.Client
	base   *url.URL
	logger *logrus.Logger
}

// NewHTTPManager 使用共享 http.Client 构建上游后端，upstream 必须是 http/https 地址。
func NewHTTPManager(client *http.Client, upstream string, logger *logrus.Logger) (*HTTPManager, error) {
	if client == nil {
		return nil, errors.New("http client required")
	}
	base, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("parse upstream: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported upstream scheme: %s", upstream)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &HTTPManager{client: client, base: base, logger: logger}, nil
}

// GetResource 实现 Manager，404/410 视为未命中。
func (m *HTTPManager) GetResource(ctx context.Context, name string) (Resource, error) {
	clean := cleanPath(name)
	target := m.resolve(clean)

	meta, err := m.head(ctx, target)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &httpResource{
		manager: m,
		path:    clean,
		target:  target,
		meta:    meta,
	}, nil
}

func (m *HTTPManager) resolve(clean string) string {
	u := *m.base
	u.Path = strings.TrimSuffix(m.base.Path, "/") + clean
	u.RawPath = ""
	return u.String()
}

type httpMeta struct {
	lastModified time.Time
	etag         string
	length       int64
	acceptRanges bool
}

func (m *HTTPManager) head(ctx context.Context, target string) (httpMeta, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return httpMeta{}, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return httpMeta{}, fmt.Errorf("head %s: %w", target, err)
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return httpMeta{}, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return httpMeta{}, fmt.Errorf("head %s: unexpected status %d", target, resp.StatusCode)
	}

	meta := httpMeta{
		etag:         resp.Header.Get("ETag"),
		length:       resp.ContentLength,
		acceptRanges: strings.EqualFold(strings.TrimSpace(resp.Header.Get("Accept-Ranges")), "bytes"),
	}
	if raw := resp.Header.Get("Last-Modified"); raw != "" {
		if parsed, err := http.ParseTime(raw); err == nil {
			meta.lastModified = parsed
		}
	}
	return meta, nil
}

func (m *HTTPManager) get(ctx context.Context, target string, rangeHeader string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", target, err)
	}
	return resp, nil
}

type httpResource struct {
	manager *HTTPManager
	path    string
	target  string
	meta    httpMeta
}

func (r *httpResource) Name() string      { return path.Base(r.path) }
func (r *httpResource) Path() string      { return r.path }
func (r *httpResource) IsDirectory() bool { return false }
func (r *httpResource) ETag() string      { return r.meta.etag }
func (r *httpResource) CacheKey() string  { return r.target }

func (r *httpResource) RangeSupported() bool {
	return r.meta.acceptRanges
}

// Stat 以单次 HEAD 读取源站当前状态，404/410 报告为 Exists=false。
func (r *httpResource) Stat(ctx context.Context) (State, error) {
	meta, err := r.manager.head(ctx, r.target)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return State{ContentLength: -1}, nil
		}
		return State{ContentLength: -1}, err
	}
	return State{Exists: true, LastModified: meta.lastModified, ContentLength: meta.length}, nil
}

func (r *httpResource) Exists() bool {
	st, err := r.Stat(context.Background())
	return err == nil && st.Exists
}

func (r *httpResource) LastModified() time.Time {
	st, _ := r.Stat(context.Background())
	return st.LastModified
}

func (r *httpResource) ContentLength() int64 {
	st, _ := r.Stat(context.Background())
	return st.ContentLength
}

func (r *httpResource) Serve(ctx context.Context, w io.Writer) error {
	resp, err := r.manager.get(ctx, r.target, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get %s: unexpected status %d", r.target, resp.StatusCode)
	}
	_, err = copyWithContext(ctx, w, resp.Body)
	return err
}

func (r *httpResource) ServeRange(ctx context.Context, w io.Writer, start, endInclusive int64) error {
	if start < 0 || endInclusive < start {
		return fmt.Errorf("invalid range %d-%d", start, endInclusive)
	}
	resp, err := r.manager.get(ctx, r.target, fmt.Sprintf("bytes=%d-%d", start, endInclusive))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	want := endInclusive - start + 1
	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		// 源站忽略了 Range，跳过前缀后截取
		if _, err := io.CopyN(io.Discard, resp.Body, start); err != nil {
			return err
		}
	default:
		return fmt.Errorf("get %s: unexpected status %d", r.target, resp.StatusCode)
	}

	copied, err := copyWithContext(ctx, w, io.LimitReader(resp.Body, want))
	if err != nil {
		return err
	}
	if copied < want {
		return io.ErrUnexpectedEOF
	}
	return nil
}
