package middleware

import (
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

type ErrorResponse struct {
	Message   string         `json:"message"`
	RequestID string         `json:"request_id"`
	TraceID   string         `json:"trace_id"`
	Meta      map[string]any `json:"meta"`
}

// Error renders every handler error as an ErrorResponse
func Error(logger ectologger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		ctx := c.Request().Context()
		if c.Response().Committed {
			return
		}

		code, message, meta := classify(err)
		log := logger.WithContext(ctx).WithError(err).WithField("status", code)
		if code >= http.StatusInternalServerError {
			log.Error("api is returning an error")
		} else {
			log.Warn("api is returning an error")
		}

		_ = c.JSON(code, ErrorResponse{
			Message:   message,
			RequestID: context.GetRequestID(ctx),
			TraceID:   tracing.GetTraceID(ctx),
			Meta:      meta,
		})
	}
}

// classify maps an error to its status code, message and metadata
func classify(err error) (int, string, map[string]any) {
	meta := map[string]any{}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		message := http.StatusText(he.Code)
		if msg, ok := he.Message.(string); ok {
			message = msg
		}
		return he.Code, message, meta
	}

	if httperror.IsHTTPError(err) {
		httperr := httperror.ToHTTPError(err)
		if httperr.Meta != nil {
			meta = httperr.Meta
		}
		return httperror.GetStatusCode(err), httperr.Error(), meta
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]any, len(verrs))
		for _, fe := range verrs {
			fields[fe.Namespace()] = fe.Tag()
		}
		meta["fields"] = fields
		return http.StatusBadRequest, "request validation failed", meta
	}

	switch {
	case errors.Is(err, merging.ErrEmptyCluster):
		return http.StatusUnprocessableEntity, err.Error(), meta
	case errors.Is(err, matching.ErrInvalidThreshold),
		errors.Is(err, matching.ErrInvalidWeight),
		errors.Is(err, matching.ErrNoWeights),
		errors.Is(err, matching.ErrDuplicateWeight):
		return http.StatusBadRequest, err.Error(), meta
	case errors.Is(err, redis.ErrLockNotAcquired):
		return http.StatusConflict, "a resolution run for these entity types is already in progress", meta
	}

	return http.StatusInternalServerError, "Internal Server Error", meta
}
