package csrf

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "test-hmac-secret"
	testToken  = "aabbccddeeff00112233445566778899aabbccddeeff00112233445566778899"
	testAgent  = "Mozilla/5.0 (test)"
)

func TestBinder_IssueAndValidate(t *testing.T) {
	binder := NewBinder(testSecret)

	value := binder.Issue(testToken, testAgent)
	require.True(t, strings.HasPrefix(value, testToken+"."))

	assert.True(t, binder.Validate(value, testToken, testAgent))
}

func TestBinder_ValidateRejects(t *testing.T) {
	binder := NewBinder(testSecret)
	value := binder.Issue(testToken, testAgent)

	testCases := []struct {
		name  string
		value string
		token string
		agent string
	}{
		{name: "different token", value: value, token: "other-token", agent: testAgent},
		{name: "binding for different token", value: binder.Issue("other-token", testAgent), token: testToken, agent: testAgent},
		{name: "different agent", value: value, token: testToken, agent: "curl/8.0"},
		{name: "empty value", value: "", token: testToken, agent: testAgent},
		{name: "no separator", value: testToken, token: testToken, agent: testAgent},
		{name: "malformed signature hex", value: testToken + ".zzzz", token: testToken, agent: testAgent},
		{name: "truncated signature", value: value[:len(value)-2], token: testToken, agent: testAgent},
		{name: "different secret", value: NewBinder("other-secret").Issue(testToken, testAgent), token: testToken, agent: testAgent},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.False(t, binder.Validate(tc.value, tc.token, tc.agent))
		})
	}
}

func TestBinder_Cookie(t *testing.T) {
	binder := NewBinder(testSecret)

	cookie := binder.Cookie(testToken, testAgent, 15*time.Minute)
	assert.Equal(t, CookieName, cookie.Name)
	assert.Equal(t, binder.Issue(testToken, testAgent), cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	// 15 minutes caps at 900 seconds.
	assert.Equal(t, 900, cookie.MaxAge)

	shorter := binder.Cookie(testToken, testAgent, 5*time.Minute)
	assert.Equal(t, 300, shorter.MaxAge)

	longer := binder.Cookie(testToken, testAgent, time.Hour)
	assert.Equal(t, 900, longer.MaxAge)
}

func TestClearingCookie(t *testing.T) {
	cookie := ClearingCookie()
	assert.Equal(t, CookieName, cookie.Name)
	assert.Empty(t, cookie.Value)
	assert.Negative(t, cookie.MaxAge)
	assert.True(t, cookie.HttpOnly)
}
