package middleware

import (
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Logger writes one access log line per request. Requests served inside a
// recording span carry its trace and span ids.
func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			req := c.Request()
			res := c.Response()
			start := time.Now()
			if err = next(c); err != nil {
				c.Error(err)
			}

			stop := time.Now()

			fields := context.Fields(req.Context())
			fields["uri"] = req.RequestURI
			fields["status"] = res.Status
			fields["path"] = c.Path()
			fields["protocol"] = req.Proto
			fields["user_agent"] = req.UserAgent()
			fields["response_time"] = stop.Sub(start)
			fields["request_size"] = req.Header.Get(echo.HeaderContentLength)
			fields["response_size"] = strconv.FormatInt(res.Size, 10)
			if traceID := tracing.GetTraceID(req.Context()); traceID != "" {
				fields["trace_id"] = traceID
				fields["span_id"] = tracing.GetSpanID(req.Context())
			}

			logger.WithContext(req.Context()).WithFields(fields).Info("Request")

			return nil
		}
	}
}
