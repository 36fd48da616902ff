// Package routes wires the HTTP API onto an echo server
package routes

import (
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/routes/goldenrecord"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	resolutionroutes "github.com/Ramsey-B/fern/pkg/routes/resolution"
)

// Validator adapts go-playground/validator to echo
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a new request validator
func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

// Validate implements echo.Validator
func (v *Validator) Validate(i any) error {
	return v.validate.Struct(i)
}

// NewEcho creates an echo server with the error handler, validator and
// request middleware installed.
func NewEcho(logger ectologger.Logger, mw ...echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Validator = NewValidator()

	e.Use(mw...)
	e.Use(middleware.Context(), middleware.Logger(logger))
	return e
}

// Register mounts every route. API handlers resolve their dependencies from
// the container with containerID.
func Register(e *echo.Echo, containerID string, checker *health.Checker) {
	if checker != nil {
		checker.RegisterRoutes(e)
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := e.Group("/api/v1", middleware.Container(containerID))
	resolutionroutes.Register(v1.Group("/resolutions"))
	goldenrecord.Register(v1)
}
