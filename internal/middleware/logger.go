package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/chama-backend/internal/metrics"
)

// RequestLogger writes one line per request and records the Prometheus
// request metrics.  A request-scoped logger carrying the request id is
// attached to the request context for zerolog.Ctx.  Run it after echo's
// RequestID middleware.
func RequestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid := c.Response().Header().Get(echo.HeaderXRequestID)

			reqLog := log.With().Str("request_id", rid).Logger()
			c.SetRequest(req.WithContext(reqLog.WithContext(req.Context())))

			err := next(c)
			if err != nil {
				// let the error handler write the response so the status is final
				c.Error(err)
			}

			status := c.Response().Status
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			latency := time.Since(start)
			metrics.RecordHTTPRequest(req.Method, route, status, latency)

			ev := reqLog.Info()
			if status >= 500 {
				ev = reqLog.Error()
			} else if status >= 400 {
				ev = reqLog.Warn()
			}
			ev.Str("method", req.Method).
				Str("route", route).
				Str("path", req.URL.Path).
				Int("status", status).
				Dur("latency", latency).
				Str("ip", c.RealIP()).
				Msg("request")
			return nil
		}
	}
}
