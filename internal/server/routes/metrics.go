package routes

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"github.com/any-hub/static-hub/internal/metrics"
)

// RegisterMetricsRoute 通过 adaptor 将 Prometheus handler 挂到 /-/metrics。
func RegisterMetricsRoute(app *fiber.App, collector *metrics.Collector) {
	if app == nil || collector == nil {
		return
	}
	app.Get("/-/metrics", adaptor.HTTPHandler(collector.Handler()))
}
