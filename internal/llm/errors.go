package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Error is the unified error interface returned by provider adapters and the client.
type Error interface {
	error
	Provider() string
	StatusCode() int
	Retryable() bool
	RetryAfter() *time.Duration
}

type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + strings.TrimSpace(e.Message)
}
func (e *ConfigurationError) Provider() string           { return "" }
func (e *ConfigurationError) StatusCode() int            { return 0 }
func (e *ConfigurationError) Retryable() bool            { return false }
func (e *ConfigurationError) RetryAfter() *time.Duration { return nil }

// ResponseError is an error payload delivered in place of content, e.g. a
// body of {"type":"error",...} on an otherwise successful exchange.
type ResponseError struct {
	provider string
	Type     string
	Message  string
}

func NewResponseError(provider, typ, message string) *ResponseError {
	return &ResponseError{provider: strings.TrimSpace(provider), Type: typ, Message: message}
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s returned an error payload (%s): %s", e.provider, e.Type, strings.TrimSpace(e.Message))
}
func (e *ResponseError) Provider() string           { return e.provider }
func (e *ResponseError) StatusCode() int            { return 0 }
func (e *ResponseError) Retryable() bool            { return e.Type == "overloaded_error" }
func (e *ResponseError) RetryAfter() *time.Duration { return nil }

type httpErrorBase struct {
	provider    string
	statusCode  int
	message     string
	retryable   bool
	retryAfter  *time.Duration
	rawResponse any
}

func (e *httpErrorBase) Error() string {
	msg := strings.TrimSpace(e.message)
	if msg == "" {
		msg = "request failed"
	}
	return fmt.Sprintf("%s error (status=%d): %s", e.provider, e.statusCode, msg)
}
func (e *httpErrorBase) Provider() string           { return e.provider }
func (e *httpErrorBase) StatusCode() int            { return e.statusCode }
func (e *httpErrorBase) Retryable() bool            { return e.retryable }
func (e *httpErrorBase) RetryAfter() *time.Duration { return e.retryAfter }

type InvalidRequestError struct{ httpErrorBase }
type AuthenticationError struct{ httpErrorBase }
type AccessDeniedError struct{ httpErrorBase }
type NotFoundError struct{ httpErrorBase }
type ContextLengthError struct{ httpErrorBase }
type RateLimitError struct{ httpErrorBase }
type ServerError struct{ httpErrorBase }
type UnknownHTTPError struct{ httpErrorBase }

func ErrorFromHTTPStatus(provider string, statusCode int, message string, raw any, retryAfter *time.Duration) error {
	base := httpErrorBase{
		provider:    strings.TrimSpace(provider),
		statusCode:  statusCode,
		message:     message,
		retryAfter:  retryAfter,
		rawResponse: raw,
	}
	switch statusCode {
	case 400, 422:
		if strings.Contains(strings.ToLower(message), "too many tokens") ||
			strings.Contains(strings.ToLower(message), "context length") ||
			strings.Contains(strings.ToLower(message), "prompt is too long") {
			return &ContextLengthError{base}
		}
		return &InvalidRequestError{base}
	case 401:
		return &AuthenticationError{base}
	case 403:
		return &AccessDeniedError{base}
	case 404:
		return &NotFoundError{base}
	case 413:
		return &ContextLengthError{base}
	case 429:
		base.retryable = true
		return &RateLimitError{base}
	case 500, 502, 503, 504, 529:
		// 529 is Anthropic's "overloaded".
		base.retryable = true
		return &ServerError{base}
	default:
		return &UnknownHTTPError{base}
	}
}

// ParseRetryAfter parses the Retry-After header value.
// Supported forms:
// - integer seconds
// - HTTP-date (RFC 7231)
func ParseRetryAfter(v string, now time.Time) *time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		d := time.Duration(secs) * time.Second
		return &d
	}
	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return &d
	}
	return nil
}

func IsAuthenticationError(err error) bool {
	var e *AuthenticationError
	return errors.As(err, &e)
}

// IsRetryable reports whether err carries the unified Error contract and asks to be retried.
func IsRetryable(err error) bool {
	var e Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Retryable()
}

// NetworkError wraps a transport failure (connection reset, DNS, TLS). It is
// retryable unless the caller's context is already done.
type NetworkError struct {
	provider string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s network error: %v", e.provider, e.Err)
}
func (e *NetworkError) Unwrap() error              { return e.Err }
func (e *NetworkError) Provider() string           { return e.provider }
func (e *NetworkError) StatusCode() int            { return 0 }
func (e *NetworkError) Retryable() bool            { return true }
func (e *NetworkError) RetryAfter() *time.Duration { return nil }

// WrapTransportError classifies an error returned by http.Client.Do.
// Context cancellation and deadlines pass through untouched so callers can
// match them with errors.Is.
func WrapTransportError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &NetworkError{provider: strings.TrimSpace(provider), Err: err}
}
