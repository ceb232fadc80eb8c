// Package csrf binds a challenge token to the browser session that first
// opened its challenge page, so an attacker who merely learns a token
// value cannot complete the solve from elsewhere.
package csrf

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"
)

// CookieName is the cookie carrying the binding value.
const CookieName = "captcha_csrf"

// maxCookieAge caps the binding cookie lifetime regardless of the token
// TTL.
const maxCookieAge = 900 * time.Second

// Binder signs and validates token-to-session bindings. It holds no
// mutable state; every result is a pure function of the secret, the token,
// and the client agent.
type Binder struct {
	secret []byte
}

// NewBinder creates a Binder over the shared server secret.
func NewBinder(secret string) *Binder {
	return &Binder{secret: []byte(secret)}
}

func (b *Binder) signature(token, clientAgent string) []byte {
	mac := hmac.New(sha256.New, b.secret)
	mac.Write([]byte(token + "." + clientAgent))
	return mac.Sum(nil)
}

// Issue computes the binding value for a token and client agent:
// token "." hex(HMAC-SHA256(secret, token "." agent)).
func (b *Binder) Issue(token, clientAgent string) string {
	return token + "." + hex.EncodeToString(b.signature(token, clientAgent))
}

// Validate checks a presented binding value against the token and client
// agent it should have been issued for. Malformed input is a validation
// failure, never a panic; the signature comparison is constant-time.
func (b *Binder) Validate(value, token, clientAgent string) bool {
	boundToken, sigHex, found := strings.Cut(value, ".")
	if !found || boundToken != token {
		return false
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	return hmac.Equal(sig, b.signature(token, clientAgent))
}

// Cookie builds the binding cookie for a challenge session. Its lifetime
// is the token TTL, capped at 900 seconds.
func (b *Binder) Cookie(token, clientAgent string, ttl time.Duration) *http.Cookie {
	if ttl <= 0 || ttl > maxCookieAge {
		ttl = maxCookieAge
	}
	return &http.Cookie{
		Name:     CookieName,
		Value:    b.Issue(token, clientAgent),
		Path:     "/",
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearingCookie returns the cookie that removes the binding after a
// successful solve. The binding is single-use across the solve boundary.
func ClearingCookie() *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}
