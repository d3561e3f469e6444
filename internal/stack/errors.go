// Package stack provides an HTTP client for a Cozy-style document stack:
// OAuth client registration and authorization, document CRUD and queries,
// and file/directory creation. HTTP failures are classified into sentinel
// errors wrapped by *RemoteError.
package stack

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, stack.ErrForbidden) to check.
var (
	ErrBadRequest   = errors.New("stack: bad request")
	ErrUnauthorized = errors.New("stack: unauthorized")
	ErrForbidden    = errors.New("stack: forbidden")
	ErrNotFound     = errors.New("stack: not found")
	ErrConflict     = errors.New("stack: conflict")
	ErrThrottled    = errors.New("stack: throttled")
	ErrServerError  = errors.New("stack: server error")
)

// RemoteError is a non-2xx answer from the stack. Reason carries the
// service-supplied explanation when the body has one; Message holds the raw
// body for debugging.
type RemoteError struct {
	StatusCode int
	Reason     string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *RemoteError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("stack: HTTP %d: %s", e.StatusCode, e.Reason)
	}

	return fmt.Sprintf("stack: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// CallbackError reports that the local redirect listener could not be
// started. It is fatal to the authorization flow.
type CallbackError struct {
	Addr string
	Err  error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("stack: callback server on %s: %v", e.Addr, e.Err)
}

func (e *CallbackError) Unwrap() error {
	return e.Err
}

// AuthorizationError reports that the stack refused to hand out a token:
// the user denied consent, the redirect was forged, or the code exchange
// was rejected.
type AuthorizationError struct {
	Err error
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("stack: authorization failed: %v", e.Err)
}

func (e *AuthorizationError) Unwrap() error {
	return e.Err
}

// newRemoteError builds a RemoteError from a failed response body.
func newRemoteError(status int, body []byte) *RemoteError {
	return &RemoteError{
		StatusCode: status,
		Reason:     parseReason(body),
		Message:    string(body),
		Err:        classifyStatus(status),
	}
}

// errorBody covers both error shapes the stack emits: a flat
// {"error": "..."} object and JSON:API {"errors": [...]}.
type errorBody struct {
	Error  json.RawMessage `json:"error"`
	Errors []struct {
		Status string `json:"status"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

// parseReason extracts a human-readable reason from an error body.
// Returns "" when the body is not one of the known shapes.
func parseReason(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return ""
	}

	if len(eb.Error) > 0 {
		var s string
		if err := json.Unmarshal(eb.Error, &s); err == nil {
			return s
		}

		// CouchDB-style nested objects: {"error": {"reason": "..."}}.
		var nested struct {
			Reason string `json:"reason"`
		}
		if err := json.Unmarshal(eb.Error, &nested); err == nil && nested.Reason != "" {
			return nested.Reason
		}
	}

	parts := make([]string, 0, len(eb.Errors))
	for _, e := range eb.Errors {
		switch {
		case e.Detail != "":
			parts = append(parts, e.Detail)
		case e.Title != "":
			parts = append(parts, e.Title)
		}
	}

	return strings.Join(parts, "; ")
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes without a dedicated sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether a status means the stack did not process the
// request at all, so resending cannot create a duplicate.
func isRetryable(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable
}
