// Package recaptcha calls the external challenge-verification endpoint
// and normalizes its response.
package recaptcha

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultVerifyURL is Google's siteverify endpoint.
const DefaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"

const defaultTimeout = 10 * time.Second

// VerifyResult is the normalized siteverify verdict.
type VerifyResult struct {
	Success    bool     `json:"success"`
	Hostname   string   `json:"hostname,omitempty"`
	ErrorCodes []string `json:"error-codes,omitempty"`
}

// Verifier submits proofs to the siteverify endpoint. Calls are bounded by
// the client timeout and never retried; a failed verification is reported
// upward and the caller decides whether the end user retries the widget.
type Verifier struct {
	secret    string
	verifyURL string
	client    *http.Client
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithVerifyURL overrides the siteverify endpoint, for tests and
// self-hosted oracles.
func WithVerifyURL(u string) Option {
	return func(v *Verifier) { v.verifyURL = u }
}

// WithTimeout bounds the outbound call.
func WithTimeout(d time.Duration) Option {
	return func(v *Verifier) { v.client.Timeout = d }
}

// NewVerifier creates a Verifier holding the server-side secret.
func NewVerifier(secret string, opts ...Option) *Verifier {
	v := &Verifier{
		secret:    secret,
		verifyURL: DefaultVerifyURL,
		client:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify submits the proof, with the caller's network origin when known,
// and returns the normalized verdict. A transport or decoding failure is
// returned as an error, distinct from a negative verdict.
func (v *Verifier) Verify(ctx context.Context, proof, remoteIP string) (*VerifyResult, error) {
	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", proof)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build siteverify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("siteverify call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("siteverify returned status %d: %s", resp.StatusCode, string(body))
	}

	var result VerifyResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode siteverify response: %w", err)
	}
	return &result, nil
}
