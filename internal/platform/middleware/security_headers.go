package middleware

import (
	"github.com/labstack/echo/v4"
)

const hstsValue = "max-age=31536000; includeSubDomains"

// SecurityHeaders marks every response as uncacheable and unframeable.
// Handover text and list snapshots name patients, so nothing may be kept by
// browsers or intermediaries. HSTS is only sent when tls is set, since
// development servers run over plain HTTP.
func SecurityHeaders(tls bool) echo.MiddlewareFunc {
	fixed := [][2]string{
		{"X-Content-Type-Options", "nosniff"},
		{"X-Frame-Options", "DENY"},
		{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
		{"Referrer-Policy", "no-referrer"},
		{"Cache-Control", "no-store"},
		{"Pragma", "no-cache"},
	}
	if tls {
		fixed = append(fixed, [2]string{"Strict-Transport-Security", hstsValue})
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for _, kv := range fixed {
				h.Set(kv[0], kv[1])
			}
			return next(c)
		}
	}
}
