package server

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ResourceHandler describes the component responsible for answering a request
// that matched a mount. It allows injecting fake handlers during tests.
type ResourceHandler interface {
	Handle(c fiber.Ctx, mount *Mount, resourcePath string) error
}

// ResourceHandlerFunc adapts a function to the ResourceHandler interface.
type ResourceHandlerFunc func(fiber.Ctx, *Mount, string) error

// Handle makes ResourceHandlerFunc satisfy ResourceHandler.
func (f ResourceHandlerFunc) Handle(c fiber.Ctx, mount *Mount, resourcePath string) error {
	return f(c, mount, resourcePath)
}

// AppOptions controls how the Fiber application resolves mounts.
type AppOptions struct {
	Logger   *logrus.Logger
	Registry *MountRegistry
	Handler  ResourceHandler
}

const (
	contextKeyMount        = "_statichub_mount"
	contextKeyResourcePath = "_statichub_resource_path"
	contextKeyRequestID    = "_statichub_request_id"
)

// NewApp builds a Fiber application with prefix routing middleware and
// structured error handling. Diagnostics routes under /-/ are registered by
// the caller after NewApp returns.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("mount registry is required")
	}
	if opts.Handler == nil {
		return nil, errors.New("resource handler is required")
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts))

	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		mount, resourcePath, ok := getMountFromContext(c)
		if !ok {
			return renderMountUnmapped(c, opts.Logger, string(c.Request().URI().Path()))
		}
		return opts.Handler.Handle(c, mount, resourcePath)
	})

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID，并基于请求路径查找 Mount。
func requestContextMiddleware(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		requestPath := string(c.Request().URI().Path())
		if isDiagnosticsPath(requestPath) {
			return c.Next()
		}

		mount, resourcePath, ok := opts.Registry.Lookup(requestPath)
		if !ok {
			return renderMountUnmapped(c, opts.Logger, requestPath)
		}

		c.Locals(contextKeyMount, mount)
		c.Locals(contextKeyResourcePath, resourcePath)
		return c.Next()
	}
}

func renderMountUnmapped(c fiber.Ctx, logger *logrus.Logger, requestPath string) error {
	logger.WithFields(logrus.Fields{
		"action":     "mount_lookup",
		"path":       requestPath,
		"request_id": RequestID(c),
	}).Warn("mount unmapped")

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "mount_unmapped",
	})
}

func getMountFromContext(c fiber.Ctx) (*Mount, string, bool) {
	value := c.Locals(contextKeyMount)
	if value == nil {
		return nil, "", false
	}
	mount, ok := value.(*Mount)
	if !ok {
		return nil, "", false
	}
	resourcePath, _ := c.Locals(contextKeyResourcePath).(string)
	return mount, resourcePath, true
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
