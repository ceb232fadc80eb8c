// Package middleware holds the HTTP middleware the captcha API mounts on
// its mutating admin surface.
package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"go.pilab.hu/captcha/errors"
)

// AdminKeyHeader carries the admin credential on revoke, forceRemove, and
// purge requests.
const AdminKeyHeader = "X-Admin-Key"

// NewAdminGuard returns middleware that checks the request's admin key
// against the configured bcrypt hash. An empty hash closes the admin
// surface entirely.
func NewAdminGuard(keyHash string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if keyHash == "" {
				return c.JSON(http.StatusForbidden, errors.NewAccessDenied("admin endpoints are not enabled"))
			}

			key := c.Request().Header.Get(AdminKeyHeader)
			if key == "" {
				return c.JSON(http.StatusForbidden, errors.NewAccessDenied("missing admin key"))
			}
			if err := bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(key)); err != nil {
				log.Warn().Str("path", c.Path()).Msg("admin key rejected")
				return c.JSON(http.StatusForbidden, errors.NewAccessDenied("invalid admin key"))
			}

			return next(c)
		}
	}
}
