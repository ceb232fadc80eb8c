package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// CaptchaError is the error shape every service operation reports upward.
// Each kind carries the HTTP status the API layer answers with.
type CaptchaError struct {
	Code        string   `json:"error"`
	Description string   `json:"error_description,omitempty"`
	Details     []string `json:"details,omitempty"`

	status int
}

func (e *CaptchaError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Status returns the HTTP status code associated with the error kind.
func (e *CaptchaError) Status() int {
	return e.status
}

// Error kind codes.
const (
	InvalidRequest      = "invalid_request"
	NotFound            = "not_found"
	AlreadySolved       = "already_solved"
	Expired             = "expired"
	BindingInvalid      = "binding_invalid"
	VerificationFailed  = "verification_failed"
	Conflict            = "conflict"
	UpstreamUnavailable = "upstream_unavailable"
	ServerError         = "server_error"
	AccessDenied        = "access_denied"
)

func NewInvalidRequest(description string) *CaptchaError {
	return &CaptchaError{Code: InvalidRequest, Description: description, status: http.StatusBadRequest}
}

func NewNotFound(description string) *CaptchaError {
	return &CaptchaError{Code: NotFound, Description: description, status: http.StatusNotFound}
}

func NewAlreadySolved() *CaptchaError {
	return &CaptchaError{Code: AlreadySolved, Description: "challenge token is already solved", status: http.StatusConflict}
}

func NewExpired() *CaptchaError {
	return &CaptchaError{Code: Expired, Description: "challenge token has expired", status: http.StatusGone}
}

func NewBindingInvalid(description string) *CaptchaError {
	return &CaptchaError{Code: BindingInvalid, Description: description, status: http.StatusForbidden}
}

// NewVerificationFailed carries the oracle's diagnostic codes so the
// widget can tell the user why the proof was rejected.
func NewVerificationFailed(description string, codes []string) *CaptchaError {
	return &CaptchaError{Code: VerificationFailed, Description: description, Details: codes, status: http.StatusBadRequest}
}

func NewConflict(description string) *CaptchaError {
	return &CaptchaError{Code: Conflict, Description: description, status: http.StatusConflict}
}

func NewUpstreamUnavailable(description string) *CaptchaError {
	return &CaptchaError{Code: UpstreamUnavailable, Description: description, status: http.StatusBadGateway}
}

func NewServerError(description string) *CaptchaError {
	return &CaptchaError{Code: ServerError, Description: description, status: http.StatusInternalServerError}
}

func NewAccessDenied(description string) *CaptchaError {
	return &CaptchaError{Code: AccessDenied, Description: description, status: http.StatusForbidden}
}

// AsCaptchaError unwraps err into a *CaptchaError if it is one.
func AsCaptchaError(err error) (*CaptchaError, bool) {
	var ce *CaptchaError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsKind reports whether err is a CaptchaError with the given code.
func IsKind(err error, code string) bool {
	ce, ok := AsCaptchaError(err)
	return ok && ce.Code == code
}
