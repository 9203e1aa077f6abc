package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrTransientFetch marks provider failures that are safe to retry later without state changes.
	ErrTransientFetch = errors.New("provider.transient")
	// ErrMalformedProviderResponse marks incomplete or undecodable provider payloads.
	ErrMalformedProviderResponse = errors.New("provider.malformed_response")
	// ErrProviderAuth marks provider rejections of the supplied credential.
	ErrProviderAuth = errors.New("provider.auth_rejected")
	// ErrUnknownProvider indicates no protocol is registered under the requested id.
	ErrUnknownProvider = errors.New("provider.unknown")
)

// ErrorKind classifies provider failures for retry and re-authorization decisions.
type ErrorKind string

const (
	KindAuth        ErrorKind = "auth"
	KindRateLimited ErrorKind = "rate_limited"
	KindTransient   ErrorKind = "transient"
	KindMalformed   ErrorKind = "malformed"
	KindRejected    ErrorKind = "rejected"
)

// ProviderError captures a provider's own status code and error string.
type ProviderError struct {
	Provider    string
	Operation   string
	Status      int
	Code        string
	Description string
	Kind        ErrorKind
	RetryAfter  time.Duration
	Err         error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}
	scope := strings.TrimSpace(e.Provider + " " + e.Operation)
	if scope == "" {
		scope = "provider"
	}
	detail := e.Description
	if detail == "" {
		detail = e.Code
	}
	if detail == "" && e.Err != nil {
		detail = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s failed: status=%d kind=%s %s", scope, e.Status, e.Kind, detail)
	}
	return fmt.Sprintf("%s failed: kind=%s %s", scope, e.Kind, detail)
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is maps the error kind onto the package sentinels.
func (e *ProviderError) Is(target error) bool {
	if e == nil {
		return false
	}
	switch target {
	case ErrTransientFetch:
		return e.Kind == KindTransient || e.Kind == KindRateLimited
	case ErrMalformedProviderResponse:
		return e.Kind == KindMalformed
	case ErrProviderAuth:
		return e.Kind == KindAuth
	}
	return false
}

// Terminal reports whether the failure requires the user to re-authorize.
func (e *ProviderError) Terminal() bool {
	return e != nil && e.Kind == KindAuth
}

// KindOf extracts the ErrorKind of a wrapped ProviderError, defaulting to transient.
func KindOf(err error) ErrorKind {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Kind
	}
	return KindTransient
}

// ClassifyStatus maps an HTTP status to an ErrorKind.
func ClassifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status >= 500:
		return KindTransient
	default:
		return KindRejected
	}
}

// ClassifyOAuthError maps an RFC 6749 token endpoint error code to an ErrorKind.
func ClassifyOAuthError(status int, code string) ErrorKind {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "invalid_grant", "invalid_token", "expired_token":
		return KindAuth
	case "invalid_client", "unauthorized_client":
		// Client misconfiguration says nothing about the user's grant.
		return KindRejected
	case "temporarily_unavailable", "server_error":
		return KindTransient
	case "slow_down":
		return KindRateLimited
	}
	return ClassifyStatus(status)
}

// TransportError wraps a network failure.
func TransportError(provider string, operation string, err error) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Operation: operation,
		Kind:      KindTransient,
		Err:       err,
	}
}

// MalformedResponse reports a payload missing a required field or failing to decode.
func MalformedResponse(provider string, operation string, field string, err error) *ProviderError {
	return &ProviderError{
		Provider:    provider,
		Operation:   operation,
		Code:        "missing_" + field,
		Description: "response missing or invalid field " + field,
		Kind:        KindMalformed,
		Err:         err,
	}
}

// ParseRetryAfter reads a Retry-After header expressed in seconds.
func ParseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// DecodeFailure reports a payload that could not be decoded at all.
func DecodeFailure(provider string, operation string, status int, err error) *ProviderError {
	return &ProviderError{
		Provider:    provider,
		Operation:   operation,
		Status:      status,
		Code:        "invalid_response",
		Description: "failed to decode response",
		Kind:        KindMalformed,
		Err:         err,
	}
}
