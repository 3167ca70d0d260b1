// Package web serves the client's observability endpoints: health, a JSON
// stats snapshot and a Prometheus scrape target.
package web

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/otterwire/otterwire/pkg/metrics"
)

type Server struct {
	app     *fiber.App
	version string
}

func NewServer(collector *metrics.Collector, version string) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		AppName:               "otterwire " + version,
	})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"version": version,
		})
	})
	app.Get("/api/stats", func(c *fiber.Ctx) error {
		return c.JSON(collector.Snapshot())
	})
	app.Get("/metrics", adaptor.HTTPHandler(
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	return &Server{app: app, version: version}
}

func (s *Server) Listen(port string) error {
	return s.app.Listen(":" + port)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
