package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	captchaapi "go.pilab.hu/captcha/api/echo"
	"go.pilab.hu/captcha/config"
	"go.pilab.hu/captcha/log"
	"go.pilab.hu/captcha/middleware"
)

// HealthChecker is what the health endpoint pings, usually the store.
type HealthChecker func(c echo.Context) error

// NewHTTPServer creates and configures the echo HTTP server.
func NewHTTPServer(cfg *config.ServerConfig, appLogger log.Logger, api *captchaapi.CaptchaAPI, health HealthChecker) *http.Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())

	// Request logging over the shared logger interface.
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			fields := map[string]interface{}{
				"method":     c.Request().Method,
				"path":       c.Request().URL.Path,
				"status":     c.Response().Status,
				"latency":    time.Since(start).String(),
				"ip":         c.RealIP(),
				"user_agent": c.Request().UserAgent(),
			}
			if err != nil {
				appLogger.Error(c.Request().Context(), "HTTP request failed", err, fields)
			} else {
				appLogger.Info(c.Request().Context(), "HTTP request", fields)
			}
			return err
		}
	})

	adminGuard := middleware.NewAdminGuard(cfg.AdminKeyHash)
	api.RegisterRoutes(e, adminGuard)

	e.GET("/healthz", func(c echo.Context) error {
		if health != nil {
			if err := health(c); err != nil {
				return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "degraded"})
			}
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})

	return &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      e,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}
