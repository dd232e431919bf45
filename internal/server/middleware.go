package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Request headers carrying the caller's identity.
const (
	HeaderTenant = "X-Tenant-ID"
	HeaderUser   = "X-User-ID"
)

const (
	ctxTenant = "tenant_id"
	ctxUser   = "user_id"
)

// maxURILogLen is the maximum length for logged URIs before truncation.
const maxURILogLen = 200

// slowRequestThreshold is the duration above which requests are logged at WARN level.
const slowRequestThreshold = 5 * time.Second

// LoggingMiddleware logs every request with its latency. Failed requests log
// at ERROR, slow ones at WARN and the rest at DEBUG.
func LoggingMiddleware(logger *slog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", truncate(v.URI, maxURILogLen),
				"status", v.Status,
				"duration_ms", v.Latency.Milliseconds(),
				"ip", v.RemoteIP,
				"request_id", v.RequestID,
			}
			if tenant, ok := c.Get(ctxTenant).(string); ok {
				attrs = append(attrs, "tenant_id", tenant)
			}

			switch {
			case v.Error != nil || v.Status >= http.StatusInternalServerError:
				if v.Error != nil {
					attrs = append(attrs, "error", v.Error.Error())
				}
				logger.Error("request failed", attrs...)
			case v.Latency > slowRequestThreshold:
				logger.Warn("slow request", attrs...)
			default:
				logger.Debug("request completed", attrs...)
			}
			return nil
		},
	})
}

// TenantMiddleware requires the tenant header and stores tenant and user on
// the context.
func TenantMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenant := strings.TrimSpace(c.Request().Header.Get(HeaderTenant))
		if tenant == "" {
			return echo.NewHTTPError(http.StatusBadRequest, HeaderTenant+" header is required")
		}
		c.Set(ctxTenant, tenant)
		c.Set(ctxUser, strings.TrimSpace(c.Request().Header.Get(HeaderUser)))
		return next(c)
	}
}

func tenantID(c echo.Context) string {
	s, _ := c.Get(ctxTenant).(string)
	return s
}

func userID(c echo.Context) string {
	s, _ := c.Get(ctxUser).(string)
	return s
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
