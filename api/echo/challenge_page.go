package echo

import (
	"html/template"
	"net/http"

	"github.com/labstack/echo/v4"

	"go.pilab.hu/captcha/errors"
)

// challengePageTemplate renders the reCAPTCHA widget for a token. The
// widget callback posts the proof back to the solve endpoint; the CSRF
// binding travels in the cookie set alongside this page.
var challengePageTemplate = template.Must(template.New("challenge").Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Verification</title>
<script src="https://www.google.com/recaptcha/api.js" async defer></script>
<style>
main { padding: 24px; max-width: 480px; margin: 0 auto; font-family: sans-serif; }
</style>
</head>
<body>
<main>
<h1>Verification</h1>
<p>Complete the challenge to continue.</p>
<form id="challenge-form">
<div class="g-recaptcha" data-sitekey="{{.SiteKey}}" data-callback="onVerify"></div>
</form>
<p id="status"></p>
<script>
function onVerify(recaptchaToken) {
	var status = document.getElementById('status');
	status.textContent = 'Verifying…';
	fetch('/api/captcha/solve/{{.Token}}', {
		method: 'POST',
		headers: { 'Content-Type': 'application/json' },
		body: JSON.stringify({ recaptchaToken: recaptchaToken })
	}).then(function (resp) {
		return resp.json().then(function (json) {
			if (!resp.ok) {
				throw new Error(json.error_description || json.error || 'verification failed');
			}
			status.textContent = {{if .SuccessMsg}}{{.SuccessMsg}}{{else}}'Verified.'{{end}};
		});
	}).catch(function (err) {
		status.textContent = 'Error: ' + err.message;
	});
}
</script>
</main>
</body>
</html>
`))

type challengePageData struct {
	Token      string
	SiteKey    string
	SuccessMsg string
}

// ChallengePageHandler serves the challenge page for a live token and
// binds the visiting session to it via the CSRF cookie. Unknown or
// already-solved tokens get no page and, critically, no binding cookie.
func (ca *CaptchaAPI) ChallengePageHandler(c echo.Context) error {
	token := c.Param("token")
	if token == "" {
		return c.JSON(http.StatusBadRequest, errors.NewInvalidRequest("missing token"))
	}
	if ca.siteKey == "" {
		return c.JSON(http.StatusInternalServerError, errors.NewServerError("captcha site key is not configured"))
	}

	if !ca.service.Exists(c.Request().Context(), token) {
		return c.JSON(http.StatusNotFound, errors.NewNotFound("challenge token not found"))
	}

	c.SetCookie(ca.service.Binder().Cookie(token, c.Request().UserAgent(), ca.service.TokenTTL()))

	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(http.StatusOK)
	return challengePageTemplate.Execute(c.Response(), challengePageData{
		Token:      token,
		SiteKey:    ca.siteKey,
		SuccessMsg: c.QueryParam("successmsg"),
	})
}
