package bluesky

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Class buckets an API failure by how the caller should react.
type Class int

const (
	// ClassTransient failures may succeed if simply tried again later.
	ClassTransient Class = iota
	// ClassAuth failures need a session refresh or a fresh login.
	ClassAuth
	// ClassRateLimit failures need waiting, not retrying.
	ClassRateLimit
	// ClassValidation failures will never succeed as sent.
	ClassValidation
)

func (c Class) String() string {
	switch c {
	case ClassAuth:
		return "auth"
	case ClassRateLimit:
		return "rate-limit"
	case ClassValidation:
		return "validation"
	default:
		return "transient"
	}
}

// APIError is a decoded XRPC error response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error %s (status %d): %s", e.Code, e.StatusCode, e.Message)
}

// Class buckets the failure by status code and XRPC error code.
func (e *APIError) Class() Class {
	switch e.Code {
	case "ExpiredToken", "InvalidToken", "AuthenticationRequired":
		return ClassAuth
	case "RateLimitExceeded":
		return ClassRateLimit
	case "InvalidRequest", "InvalidSwap", "BlobTooLarge":
		return ClassValidation
	}

	switch {
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return ClassAuth
	case e.StatusCode == http.StatusTooManyRequests:
		return ClassRateLimit
	case e.StatusCode == http.StatusBadRequest:
		return ClassValidation
	default:
		return ClassTransient
	}
}

// Classify returns the class of err. Anything that is not an APIError, like
// a plain network failure, is transient.
func Classify(err error) Class {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Class()
	}
	return ClassTransient
}

// IsAuth reports whether err is an authentication failure that a session
// refresh might fix.
func IsAuth(err error) bool {
	return Classify(err) == ClassAuth
}

// parseAPIError decodes an XRPC error body, falling back to the raw text
// when the body is not the standard {error, message} shape.
func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		apiErr.Code = payload.Error
		apiErr.Message = payload.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
