// Copyright 2025 The Hyperlapse Authors
// SPDX-License-Identifier: Apache-2.0

package imagery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// FetchError reports a failure to fetch one panorama.
type FetchError struct {
	Type    ErrorType
	Message string
	Err     error
}

// ErrorType classifies imagery errors.
type ErrorType int

const (
	// ErrorTypeUnknown unclassified error.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeRateLimit too many requests.
	ErrorTypeRateLimit
	// ErrorTypeQuotaExceeded quota exceeded or key rejected.
	ErrorTypeQuotaExceeded
	// ErrorTypeTimeout the request timed out.
	ErrorTypeTimeout
	// ErrorTypeNotFound no panorama near the location.
	ErrorTypeNotFound
	// ErrorTypeInvalidRequest malformed parameters.
	ErrorTypeInvalidRequest
	// ErrorTypeNetworkError transport failure or unavailable service.
	ErrorTypeNetworkError
)

var errorTypeNames = map[ErrorType]string{
	ErrorTypeUnknown:        "unknown",
	ErrorTypeRateLimit:      "rate_limit",
	ErrorTypeQuotaExceeded:  "quota_exceeded",
	ErrorTypeTimeout:        "timeout",
	ErrorTypeNotFound:       "not_found",
	ErrorTypeInvalidRequest: "invalid_request",
	ErrorTypeNetworkError:   "network_error",
}

func (t ErrorType) String() string {
	if name, ok := errorTypeNames[t]; ok {
		return name
	}

	return fmt.Sprintf("ErrorType(%d)", int(t))
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}

	return e.Message
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// TypeOf returns the ErrorType of err, or ErrorTypeUnknown when err is not a
// *FetchError.
func TypeOf(err error) ErrorType {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Type
	}

	return ErrorTypeUnknown
}

// IsRateLimitError reports whether the service throttled the request.
func IsRateLimitError(err error) bool {
	return TypeOf(err) == ErrorTypeRateLimit
}

// IsNotFoundError reports whether there is no panorama for the location.
func IsNotFoundError(err error) bool {
	return TypeOf(err) == ErrorTypeNotFound
}

// ClassifyHTTPError maps an HTTP status to a FetchError.
func ClassifyHTTPError(statusCode int, body string) *FetchError {
	e := &FetchError{}

	switch statusCode {
	case http.StatusTooManyRequests:
		e.Type, e.Message = ErrorTypeRateLimit, "rate limit reached"
	case http.StatusForbidden, http.StatusUnauthorized:
		e.Type, e.Message = ErrorTypeQuotaExceeded, "quota exceeded or access denied"
	case http.StatusBadRequest:
		e.Type, e.Message = ErrorTypeInvalidRequest, "invalid request"
	case http.StatusNotFound:
		e.Type, e.Message = ErrorTypeNotFound, "no panorama at location"
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		e.Type, e.Message = ErrorTypeNetworkError, fmt.Sprintf("service unavailable (status %d)", statusCode)
	default:
		e.Type, e.Message = ErrorTypeUnknown, fmt.Sprintf("HTTP error %d", statusCode)
	}

	if body != "" {
		e.Message += ": " + body
	}

	return e
}

// classifyTransportError wraps an error returned by http.Client.Do.
func classifyTransportError(err error) *FetchError {
	var netErr net.Error

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return &FetchError{Type: ErrorTypeTimeout, Message: "request timed out", Err: err}
	default:
		return &FetchError{Type: ErrorTypeNetworkError, Message: "request failed", Err: err}
	}
}
