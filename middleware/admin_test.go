package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"go.pilab.hu/captcha/middleware"
)

func guardedEcho(t *testing.T, keyHash string) *echo.Echo {
	t.Helper()
	e := echo.New()
	e.POST("/admin/ping", func(c echo.Context) error {
		return c.String(http.StatusOK, "pong")
	}, middleware.NewAdminGuard(keyHash))
	return e
}

func request(e *echo.Echo, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/admin/ping", nil)
	if key != "" {
		req.Header.Set(middleware.AdminKeyHeader, key)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestAdminGuard(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("opensesame"), bcrypt.MinCost)
	require.NoError(t, err)
	e := guardedEcho(t, string(hash))

	t.Run("valid key passes", func(t *testing.T) {
		rec := request(e, "opensesame")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "pong", rec.Body.String())
	})

	t.Run("missing key", func(t *testing.T) {
		rec := request(e, "")
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, rec.Body.String(), "access_denied")
	})

	t.Run("wrong key", func(t *testing.T) {
		rec := request(e, "wrong")
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestAdminGuardClosedWithoutHash(t *testing.T) {
	e := guardedEcho(t, "")

	rec := request(e, "anything")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "not enabled")
}
