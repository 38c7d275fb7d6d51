package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ObjectStatusKey is the gin context key under which handlers record the
// object runtime status behind a response.
const ObjectStatusKey = "omapi.status"

// routeFields maps route parameters onto log field names.
var routeFields = map[string]string{
	"name":   "interface",
	"handle": "handle",
}

// RequestLogger logs one line per request. Route parameters naming an
// object and any status stored under ObjectStatusKey become fields.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		code := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		var event *zerolog.Event
		switch {
		case code >= 500:
			event = logger.Error()
		case code >= 400:
			event = logger.Warn()
		default:
			event = logger.Debug()
		}

		event = event.
			Str("method", c.Request.Method).
			Str("route", route).
			Int("code", code)
		for _, p := range c.Params {
			if field, ok := routeFields[p.Key]; ok {
				event = event.Str(field, p.Value)
			}
		}
		if status := c.GetString(ObjectStatusKey); status != "" {
			event = event.Str("omapi_status", status)
		}
		if format := c.Query("format"); format != "" {
			event = event.Str("format", format)
		}
		event.
			Dur("took", time.Since(start)).
			Int("bytes", c.Writer.Size()).
			Msg("omapi admin")
	}
}

// RequestMetricsMiddleware records request counts and latency per route.
// Requests no route matched share the "none" label.
func RequestMetricsMiddleware(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "none"
		}
		RecordHTTPRequest(service, c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
