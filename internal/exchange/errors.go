package exchange

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError carries the venue's numeric error code so callers can classify
// failures without string matching.
type APIError struct {
	Code    int
	Message string
	Op      string
}

func (e *APIError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("exchange API error %d in %s: %s", e.Code, e.Op, e.Message)
	}
	return fmt.Sprintf("exchange API error %d: %s", e.Code, e.Message)
}

// Common Bybit v5 error codes the bot reacts to.
const (
	ErrCodeInvalidAPIKey       = 10003
	ErrCodeInvalidSignature    = 10004
	ErrCodeRateLimitExceeded   = 10006
	ErrCodeOrderNotFound       = 110001
	ErrCodeInsufficientBalance = 110007
	ErrCodeMarketClosed        = 110043
)

// NewAPIError creates a classified API error.
func NewAPIError(code int, message string) *APIError {
	return &APIError{Code: code, Message: message}
}

// WrapAPIError attaches the failing operation to an API error, or wraps any
// other error with plain context.
func WrapAPIError(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		apiErr.Op = op
		return apiErr
	}
	return fmt.Errorf("%s failed: %w", op, err)
}

// IsRetryable reports whether the error is a transient venue failure that a
// retry can reasonably recover from (rate limits and server-side errors).
func IsRetryable(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case ErrCodeRateLimitExceeded,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsRateLimit reports whether the error is a venue rate limit rejection.
func IsRateLimit(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == ErrCodeRateLimitExceeded
}

// IsAuthError reports whether the error is an authentication failure, which
// is never retryable.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == ErrCodeInvalidAPIKey || apiErr.Code == ErrCodeInvalidSignature
}

// IsInsufficientBalance reports whether the venue rejected the order for lack
// of margin.
func IsInsufficientBalance(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == ErrCodeInsufficientBalance
}
