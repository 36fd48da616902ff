package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(c *Checker, path string) *httptest.ResponseRecorder {
	e := echo.New()
	c.RegisterRoutes(e)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestChecker_Health(t *testing.T) {
	t.Run("all checks pass", func(t *testing.T) {
		c := NewChecker("1.0.0")
		c.AddCheck("database", func(context.Context) error { return nil })

		rec := serve(c, "/api/v1/health")
		require.Equal(t, http.StatusOK, rec.Code)

		var status HealthStatus
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		assert.Equal(t, "healthy", status.Status)
		assert.Equal(t, "1.0.0", status.Version)
		assert.Equal(t, "healthy", status.Checks["database"].Status)
	})

	t.Run("failing check", func(t *testing.T) {
		c := NewChecker("1.0.0")
		c.AddCheck("database", func(context.Context) error { return nil })
		c.AddCheck("redis", func(context.Context) error { return errors.New("connection refused") })

		rec := serve(c, "/api/v1/health")
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var status HealthStatus
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		assert.Equal(t, "unhealthy", status.Status)
		assert.Equal(t, "connection refused", status.Checks["redis"].Message)
	})

	t.Run("no checks", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, serve(NewChecker("dev"), "/api/v1/health").Code)
	})
}

func TestChecker_Ready(t *testing.T) {
	c := NewChecker("1.0.0")
	assert.Equal(t, http.StatusServiceUnavailable, serve(c, "/api/v1/health/ready").Code)

	c.SetReady(true)
	assert.Equal(t, http.StatusOK, serve(c, "/api/v1/health/ready").Code)
	assert.Equal(t, http.StatusOK, serve(c, "/api/v1/health/live").Code)
}
