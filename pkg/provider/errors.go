package provider

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ErrorType is the shared failure taxonomy for provider calls. It drives
// key throttling: rate_limit, overloaded and unavailable put the key on a
// cooldown, other never does.
type ErrorType string

const (
	ErrorRateLimit   ErrorType = "rate_limit"
	ErrorOverloaded  ErrorType = "overloaded"
	ErrorUnavailable ErrorType = "unavailable"
	ErrorOther       ErrorType = "other"
)

// Classify maps a failed provider call onto the error taxonomy using
// status-code and message heuristics:
//
//	429 / quota      → rate_limit
//	503 / overloaded → overloaded
//	timeout, refused → unavailable
//	anything else    → other
func Classify(err error) ErrorType {
	if err == nil {
		return ErrorOther
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorUnavailable
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429:
			return ErrorRateLimit
		case 503:
			return ErrorOverloaded
		case 500, 502, 504:
			return ErrorUnavailable
		}
		return classifyMessage(apiErr.Message)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorUnavailable
	}

	return classifyMessage(err.Error())
}

// classifyMessage applies the message heuristics shared by all providers.
func classifyMessage(msg string) ErrorType {
	m := strings.ToLower(msg)

	switch {
	case strings.Contains(m, "429"),
		strings.Contains(m, "rate limit"),
		strings.Contains(m, "quota"):
		return ErrorRateLimit
	case strings.Contains(m, "503"),
		strings.Contains(m, "overloaded"),
		strings.Contains(m, "busy"):
		return ErrorOverloaded
	case strings.Contains(m, "unavailable"),
		strings.Contains(m, "timeout"),
		strings.Contains(m, "timed out"),
		strings.Contains(m, "connection refused"),
		strings.Contains(m, "connection reset"),
		strings.Contains(m, "no such host"):
		return ErrorUnavailable
	}

	return ErrorOther
}

// ShouldThrottle reports whether the error type puts a key on cooldown.
func (t ErrorType) ShouldThrottle() bool {
	switch t {
	case ErrorRateLimit, ErrorOverloaded, ErrorUnavailable:
		return true
	}
	return false
}
