package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scourhq/scour/internal/coordinator"
	"github.com/scourhq/scour/internal/events"
	"github.com/scourhq/scour/internal/workflow"
)

// Options carries the already-constructed dependencies the HTTP surface
// exposes. The caller owns their lifecycle.
type Options struct {
	Driver      *workflow.Driver
	Events      *events.MemorySink
	Coordinator *coordinator.Coordinator
	Registry    *prometheus.Registry
}

// New assembles the echo instance: middleware, error handling and all routes.
func New(opts Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if opts.Registry != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})))
	}

	api := e.Group("/api")
	rh := &RunsHandler{Driver: opts.Driver, Events: opts.Events}
	rh.Register(api.Group("/runs"))

	ph := &ProvidersHandler{Coordinator: opts.Coordinator}
	ph.Register(api.Group("/providers"))

	return e
}
