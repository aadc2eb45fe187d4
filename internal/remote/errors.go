// Package remote performs authenticated HTTP calls against Azure storage
// endpoints and classifies failures into transport and service errors.
package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, remote.ErrNotFound) to check.
var (
	ErrBadRequest          = errors.New("remote: bad request")
	ErrUnauthorized        = errors.New("remote: unauthorized")
	ErrForbidden           = errors.New("remote: forbidden")
	ErrNotFound            = errors.New("remote: not found")
	ErrConflict            = errors.New("remote: conflict")
	ErrPreconditionFailed  = errors.New("remote: precondition failed")
	ErrRangeNotSatisfiable = errors.New("remote: range not satisfiable")
	ErrThrottled           = errors.New("remote: throttled")
	ErrServerError         = errors.New("remote: server error")
	ErrUnexpectedStatus    = errors.New("remote: unexpected status")
)

// ErrNotJSON is returned by Response.DecodeJSON when the payload is not JSON.
var ErrNotJSON = errors.New("remote: response is not JSON")

// RemoteError is a non-2xx response from the storage service. Code and
// Message come from the service's error envelope when one is present.
type RemoteError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
	Body       string
	Err        error // sentinel, for errors.Is()
}

func (e *RemoteError) Error() string {
	detail := e.Message
	if e.Code != "" {
		detail = e.Code + ": " + e.Message
	}

	if detail == "" {
		detail = http.StatusText(e.StatusCode)
	}

	if e.RequestID != "" {
		return fmt.Sprintf("remote: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, detail)
	}

	return fmt.Sprintf("remote: HTTP %d: %s", e.StatusCode, detail)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// NetworkError is a transport-level failure: the request produced no HTTP
// response (DNS, refused or reset connection, timeout, canceled context).
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("remote: %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the underlying failure was a timeout.
func (e *NetworkError) Timeout() bool {
	var netErr net.Error

	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// classifyStatus maps a non-2xx HTTP status code to a sentinel error.
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
	case http.StatusPreconditionFailed:
		return ErrPreconditionFailed
	case http.StatusRequestedRangeNotSatisfiable:
		return ErrRangeNotSatisfiable
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return ErrUnexpectedStatus
	}
}

// errorEnvelope covers both service dialects: the DFS endpoint
// ({"error":{"code","message"}}) and WebHDFS
// ({"RemoteException":{"exception","message"}}).
type errorEnvelope struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RemoteException *struct {
		Exception string `json:"exception"`
		Message   string `json:"message"`
	} `json:"RemoteException"` //nolint:tagliatelle // WebHDFS wire name
}

// parseErrorBody extracts the service error code and message. Bodies that
// are not a recognized envelope yield empty strings.
func parseErrorBody(body []byte) (code, message string) {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", ""
	}

	switch {
	case env.Error != nil:
		return env.Error.Code, env.Error.Message
	case env.RemoteException != nil:
		return env.RemoteException.Exception, env.RemoteException.Message
	default:
		return "", ""
	}
}
