package static

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/utils/v2"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/static-hub/internal/cache"
	"github.com/any-hub/static-hub/internal/logging"
	"github.com/any-hub/static-hub/internal/server"
)

// X-Static-Hub-Cache 的取值。
const (
	cacheStateHit    = "hit"
	cacheStateMiss   = "miss"
	cacheStateBypass = "bypass"
)

// Handler 负责把挂载内的资源经由元数据缓存与数据缓存输出给客户端，
// 对外暴露 server.ResourceHandler。
type Handler struct {
	logger *logrus.Logger
}

// NewHandler constructs a resource handler with the shared logger.
func NewHandler(logger *logrus.Logger) *Handler {
	return &Handler{logger: logger}
}

// Handle 实现 server.ResourceHandler。
func (h *Handler) Handle(c fiber.Ctx, mount *server.Mount, resourcePath string) error {
	started := time.Now()
	requestID := server.RequestID(c)

	method := c.Method()
	if method != http.MethodGet && method != http.MethodHead {
		c.Set(fiber.HeaderAllow, "GET, HEAD")
		return h.writeError(c, fiber.StatusMethodNotAllowed, "method_not_allowed")
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	handle, err := mount.Cache.GetResource(ctx, resourcePath)
	if err != nil {
		h.logResult(mount, resourcePath, requestID, fiber.StatusBadGateway, cacheStateMiss, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "resource_lookup_failed")
	}
	if handle == nil {
		h.logResult(mount, resourcePath, requestID, fiber.StatusNotFound, cacheStateMiss, started, nil)
		return h.writeError(c, fiber.StatusNotFound, "not_found")
	}
	if handle.IsDirectory() {
		h.logResult(mount, resourcePath, requestID, fiber.StatusForbidden, cacheStateBypass, started, nil)
		return h.writeError(c, fiber.StatusForbidden, "directory_listing_disabled")
	}

	state := cacheStateMiss
	if handle.Cached() {
		state = cacheStateHit
	} else if mount.Cache.MaxAge() == cache.MaxAgeDisabled {
		state = cacheStateBypass
	}

	length := handle.ContentLength()
	h.setEntityHeaders(c, handle, state)

	if etag := handle.ETag(); etag != "" && c.Get(fiber.HeaderIfNoneMatch) == etag {
		h.logResult(mount, resourcePath, requestID, fiber.StatusNotModified, state, started, nil)
		return c.SendStatus(fiber.StatusNotModified)
	}

	if rangeHeader := c.Get(fiber.HeaderRange); rangeHeader != "" && handle.RangeSupported() && length >= 0 {
		start, end, rangeErr := parseRange(rangeHeader, length)
		switch {
		case errors.Is(rangeErr, errRangeUnsatisfiable):
			c.Set(fiber.HeaderContentRange, fmt.Sprintf("bytes */%d", length))
			h.logResult(mount, resourcePath, requestID, fiber.StatusRequestedRangeNotSatisfiable, state, started, nil)
			return h.writeError(c, fiber.StatusRequestedRangeNotSatisfiable, "range_not_satisfiable")
		case rangeErr == nil:
			return h.serveRange(c, ctx, mount, resourcePath, requestID, handle, state, start, end, length, started)
		}
	}

	return h.serveFull(c, ctx, mount, resourcePath, requestID, handle, state, length, started)
}

func (h *Handler) serveFull(
	c fiber.Ctx,
	ctx context.Context,
	mount *server.Mount,
	resourcePath string,
	requestID string,
	handle *cache.Handle,
	state string,
	length int64,
	started time.Time,
) error {
	status := fiber.StatusOK
	c.Status(status)
	if length >= 0 {
		c.Response().Header.SetContentLength(int(length))
	}

	if c.Method() == http.MethodHead {
		h.logResult(mount, resourcePath, requestID, status, state, started, nil)
		return nil
	}

	err := handle.Serve(ctx, c.Response().BodyWriter())
	h.logResult(mount, resourcePath, requestID, status, state, started, err)
	if err != nil {
		c.Response().ResetBody()
		return h.writeError(c, fiber.StatusBadGateway, "resource_read_failed")
	}
	return nil
}

func (h *Handler) serveRange(
	c fiber.Ctx,
	ctx context.Context,
	mount *server.Mount,
	resourcePath string,
	requestID string,
	handle *cache.Handle,
	state string,
	start, end, length int64,
	started time.Time,
) error {
	status := fiber.StatusPartialContent
	c.Status(status)
	c.Set(fiber.HeaderContentRange, fmt.Sprintf("bytes %d-%d/%d", start, end, length))
	c.Response().Header.SetContentLength(int(end - start + 1))

	if c.Method() == http.MethodHead {
		h.logResult(mount, resourcePath, requestID, status, state, started, nil)
		return nil
	}

	err := handle.ServeRange(ctx, c.Response().BodyWriter(), start, end)
	h.logResult(mount, resourcePath, requestID, status, state, started, err)
	if err != nil {
		c.Response().ResetBody()
		c.Response().Header.Del(fiber.HeaderContentRange)
		if errors.Is(err, cache.ErrInvalidRange) {
			return h.writeError(c, fiber.StatusRequestedRangeNotSatisfiable, "range_not_satisfiable")
		}
		return h.writeError(c, fiber.StatusBadGateway, "resource_read_failed")
	}
	return nil
}

func (h *Handler) setEntityHeaders(c fiber.Ctx, handle *cache.Handle, state string) {
	if lastModified := handle.LastModifiedString(); lastModified != "" {
		c.Set(fiber.HeaderLastModified, lastModified)
	}
	if etag := handle.ETag(); etag != "" {
		c.Set(fiber.HeaderETag, etag)
	}
	if handle.RangeSupported() {
		c.Set(fiber.HeaderAcceptRanges, "bytes")
	}
	contentType := utils.GetMIME(path.Ext(handle.Name()))
	if contentType == "" {
		contentType = fiber.MIMEOctetStream
	}
	c.Set(fiber.HeaderContentType, contentType)
	c.Set("X-Static-Hub-Cache", state)
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	mount *server.Mount,
	resourcePath string,
	requestID string,
	status int,
	state string,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(mount.Name(), mount.Kind(), requestID, state)
	fields["action"] = "serve"
	fields["path"] = resourcePath
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("serve_failed")
		return
	}
	h.logger.WithFields(fields).Info("serve_complete")
}
