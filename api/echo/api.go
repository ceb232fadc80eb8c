// Package echo exposes the captcha token lifecycle over HTTP. Handlers
// own the transport contract (methods, payload shapes, response codes and
// cookies); every rule about token state lives in the service.
package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	captcha "go.pilab.hu/captcha"
	"go.pilab.hu/captcha/errors"
	"go.pilab.hu/captcha/internal/csrf"
)

// CaptchaAPI holds the handler dependencies.
type CaptchaAPI struct {
	service *captcha.Service
	siteKey string
}

// NewCaptchaAPI initializes the captcha HTTP API. siteKey is the public
// widget key rendered into the challenge page.
func NewCaptchaAPI(service *captcha.Service, siteKey string) *CaptchaAPI {
	return &CaptchaAPI{
		service: service,
		siteKey: siteKey,
	}
}

// RegisterRoutes registers the captcha routes. Admin routes get the
// supplied guard middleware.
func (ca *CaptchaAPI) RegisterRoutes(e *echo.Echo, adminGuard echo.MiddlewareFunc) {
	e.POST("/api/captcha/generateToken", ca.GenerateTokenHandler)
	e.GET("/api/captcha/exist/:token", ca.ExistHandler)
	e.GET("/api/captcha/check", ca.CheckHandler)
	e.POST("/api/captcha/check", ca.CheckHandler)
	e.GET("/api/captcha/status/:token", ca.StatusHandler)
	e.POST("/api/captcha/solve/:token", ca.SolveHandler)

	e.POST("/api/captcha/revoke/:token", ca.RevokeHandler, adminGuard)
	e.POST("/api/captcha/forceRemove/:token", ca.ForceRemoveHandler, adminGuard)
	e.POST("/api/captcha/purgeExpired", ca.PurgeExpiredHandler, adminGuard)

	e.GET("/captcha/:token", ca.ChallengePageHandler)
}

// respondError maps a service error onto its HTTP status. Anything that
// is not a CaptchaError is a bug in a lower layer and reported as a 500.
func respondError(c echo.Context, err error) error {
	if ce, ok := errors.AsCaptchaError(err); ok {
		return c.JSON(ce.Status(), ce)
	}
	log.Error().Err(err).Msg("unclassified error reached the API layer")
	return c.JSON(http.StatusInternalServerError, errors.NewServerError("internal error"))
}

// GenerateTokenHandler issues a new challenge token, capturing the
// client's network origin and agent as provenance metadata.
func (ca *CaptchaAPI) GenerateTokenHandler(c echo.Context) error {
	c.Response().Header().Set("Cache-Control", "no-store")

	issued, err := ca.service.Issue(c.Request().Context(), captcha.Provenance{
		ClientIP:  c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusCreated, issued)
}

// ExistHandler reports whether the token still awaits a challenge. A
// solved or unknown token answers false; the endpoint never reveals
// internal failure.
func (ca *CaptchaAPI) ExistHandler(c echo.Context) error {
	token := c.Param("token")
	if token == "" {
		return c.JSON(http.StatusBadRequest, errors.NewInvalidRequest("missing token"))
	}
	return c.JSON(http.StatusOK, ca.service.Exists(c.Request().Context(), token))
}

type checkRequest struct {
	Token string `json:"token"`
}

// CheckHandler is the downstream-consumer query: true iff the token exists
// and has been solved. The token arrives in the query string on GET or the
// JSON body on POST.
func (ca *CaptchaAPI) CheckHandler(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" && c.Request().Method == http.MethodPost {
		var req checkRequest
		if err := c.Bind(&req); err == nil {
			token = req.Token
		}
	}
	if token == "" {
		return c.JSON(http.StatusBadRequest, errors.NewInvalidRequest("missing token"))
	}

	status := ca.service.Status(c.Request().Context(), token)
	return c.JSON(http.StatusOK, status.Valid && status.Solved)
}

// StatusHandler reports the record's true state.
func (ca *CaptchaAPI) StatusHandler(c echo.Context) error {
	token := c.Param("token")
	if token == "" {
		return c.JSON(http.StatusBadRequest, errors.NewInvalidRequest("missing token"))
	}
	return c.JSON(http.StatusOK, ca.service.Status(c.Request().Context(), token))
}

type solveRequest struct {
	RecaptchaToken string `json:"recaptchaToken"`
}

type solveResponse struct {
	OK       bool   `json:"ok"`
	SolvedAt string `json:"solvedAt"`
}

// SolveHandler submits a proof for the token. The CSRF binding cookie set
// by the challenge page must accompany the request; it is cleared on
// success because the binding is single-use.
func (ca *CaptchaAPI) SolveHandler(c echo.Context) error {
	token := c.Param("token")

	var req solveRequest
	if err := c.Bind(&req); err != nil || req.RecaptchaToken == "" {
		return c.JSON(http.StatusBadRequest, errors.NewInvalidRequest("missing recaptchaToken"))
	}

	c.Response().Header().Set("Cache-Control", "no-store")

	binding := ""
	if cookie, err := c.Cookie(csrf.CookieName); err == nil {
		binding = cookie.Value
	}

	solvedAt, err := ca.service.Solve(
		c.Request().Context(),
		token,
		req.RecaptchaToken,
		binding,
		c.RealIP(),
		c.Request().UserAgent(),
	)
	if err != nil {
		return respondError(c, err)
	}

	c.SetCookie(csrf.ClearingCookie())
	return c.JSON(http.StatusOK, solveResponse{OK: true, SolvedAt: solvedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00")})
}

type okResponse struct {
	OK bool `json:"ok"`
}

// RevokeHandler flips a solved token back to unsolved. A no-op revoke is
// reported as 404 so callers can detect it.
func (ca *CaptchaAPI) RevokeHandler(c echo.Context) error {
	if err := ca.service.Revoke(c.Request().Context(), c.Param("token")); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, okResponse{OK: true})
}

// ForceRemoveHandler deletes a token record outright.
func (ca *CaptchaAPI) ForceRemoveHandler(c echo.Context) error {
	if err := ca.service.Remove(c.Request().Context(), c.Param("token")); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, okResponse{OK: true})
}

type purgeResponse struct {
	Deleted int64 `json:"deleted"`
}

// PurgeExpiredHandler runs the retention sweep over expired records.
func (ca *CaptchaAPI) PurgeExpiredHandler(c echo.Context) error {
	deleted, err := ca.service.PurgeExpired(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, purgeResponse{Deleted: deleted})
}
