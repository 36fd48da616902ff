package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectoinject/ectocontainer"
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestClassify(t *testing.T) {
	type payload struct {
		Name string `validate:"required"`
	}
	validationErr := validator.New().Struct(payload{})

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"http error", httperror.NewHTTPError(http.StatusNotFound, "golden record g1 not found"), http.StatusNotFound},
		{"echo error", echo.NewHTTPError(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed},
		{"validation", validationErr, http.StatusBadRequest},
		{"empty cluster", pkgerrors.Wrap(merging.ErrEmptyCluster, "failed to merge cluster"), http.StatusUnprocessableEntity},
		{"bad threshold", fmt.Errorf("%w: got 2", matching.ErrInvalidThreshold), http.StatusBadRequest},
		{"no weights", matching.ErrNoWeights, http.StatusBadRequest},
		{"run lock held", pkgerrors.Wrapf(fmt.Errorf("%w: k", redis.ErrLockNotAcquired), "failed to acquire run lock %s", "k"), http.StatusConflict},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, message, meta := classify(tt.err)
			assert.Equal(t, tt.want, code)
			assert.NotEmpty(t, message)
			assert.NotNil(t, meta)
		})
	}

	t.Run("validation lists failing fields", func(t *testing.T) {
		_, _, meta := classify(validationErr)
		assert.Equal(t, map[string]any{"payload.Name": "required"}, meta["fields"])
	})
}

func TestErrorHandler(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = Error(testLogger())
	e.Use(Context())
	e.GET("/fail", func(c echo.Context) error {
		return httperror.NewHTTPError(http.StatusNotFound, "golden record g1 not found")
	})

	req := httptest.NewRequest(http.MethodGet, "/fail", nil)
	req.Header.Set(echo.HeaderXRequestID, "req-1")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "req-1", rec.Header().Get(echo.HeaderXRequestID))

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "req-1", body.RequestID)
	assert.Contains(t, body.Message, "golden record g1 not found")
}

func TestContextMiddleware(t *testing.T) {
	e := echo.New()
	e.Use(Context())

	var requestID, route string
	e.GET("/ping", func(c echo.Context) error {
		requestID = context.GetRequestID(c.Request().Context())
		route = context.GetRoute(c.Request().Context())
		return c.NoContent(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotEmpty(t, requestID)
	assert.Equal(t, requestID, rec.Header().Get(echo.HeaderXRequestID))
	assert.Equal(t, "/ping", route)
}

func TestLoggerMiddleware(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = Error(testLogger())
	e.Use(Context(), Logger(testLogger()))
	e.GET("/ok", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	e.GET("/missing", func(c echo.Context) error {
		return httperror.NewHTTPError(http.StatusNotFound, "not found")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// errors are rendered once by the logger middleware
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLoggerMiddleware_TraceFields(t *testing.T) {
	tracing.SetTracer(sdktrace.NewTracerProvider().Tracer("test"))
	t.Cleanup(func() { tracing.SetTracer(nil) })

	var fields map[string]any
	logger := ectologger.NewEctoLogger(func(msg ectologger.EctoLogMessage) {
		if msg.Message == "Request" {
			fields = msg.Fields
		}
	})

	var traceID, spanID string
	e := echo.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, span := tracing.StartSpan(c.Request().Context(), "request")
			defer span.End()
			traceID = span.SpanContext().TraceID().String()
			spanID = span.SpanContext().SpanID().String()
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}, Context(), Logger(logger))
	e.GET("/ok", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	require.NotNil(t, fields)
	assert.Equal(t, traceID, fields["trace_id"])
	assert.Equal(t, spanID, fields["span_id"])
}

func TestLoggerMiddleware_NoSpan(t *testing.T) {
	var fields map[string]any
	logger := ectologger.NewEctoLogger(func(msg ectologger.EctoLogMessage) {
		if msg.Message == "Request" {
			fields = msg.Fields
		}
	})

	e := echo.New()
	e.Use(Context(), Logger(logger))
	e.GET("/ok", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))

	require.NotNil(t, fields)
	assert.NotContains(t, fields, "trace_id")
	assert.NotContains(t, fields, "span_id")
}

type greeter interface {
	Greet() string
}

type staticGreeter string

func (g staticGreeter) Greet() string { return string(g) }

func TestContainerMiddleware(t *testing.T) {
	id := "middleware-test-" + uuid.NewString()
	container, err := ectoinject.NewDIContainer(ectocontainer.DIContainerConfig{
		ID:           id,
		LoggerConfig: &ectocontainer.DIContainerLoggerConfig{Enabled: false},
	})
	require.NoError(t, err)
	require.NoError(t, ectoinject.RegisterInstance[greeter](container, staticGreeter("hello")))

	e := echo.New()
	e.HTTPErrorHandler = Error(testLogger())
	e.GET("/greet", func(c echo.Context) error {
		_, g, err := ectoinject.GetContext[greeter](c.Request().Context())
		if err != nil {
			return err
		}
		return c.String(http.StatusOK, g.Greet())
	}, Container(id))
	e.GET("/unknown", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}, Container("missing-"+uuid.NewString()))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/greet", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/unknown", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
