package meraki

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/merakimate/merakimate/pkg/util"
)

// APIError is a non-2xx response from the dashboard API. Detail keeps the
// raw response body so the remote's own diagnosis reaches the operator.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Detail     string
	Errors     []string
}

func (e *APIError) Error() string {
	msg := strings.Join(e.Errors, "; ")
	if msg == "" {
		msg = strings.TrimSpace(e.Detail)
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %d: %s", e.Method, e.Path, e.StatusCode, msg)
}

// Unwrap maps the status code onto the shared error taxonomy.
func (e *APIError) Unwrap() error {
	return classifyStatus(e.StatusCode)
}

func classifyStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return util.ErrAuthRejected
	case code == http.StatusNotFound:
		return util.ErrNotFound
	case code == http.StatusTooManyRequests, code >= 500:
		return util.ErrTransient
	default:
		return util.ErrValidationFailed
	}
}

// TransportError wraps a failure below HTTP: dial, TLS, timeout or a
// response body that could not be read.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{util.ErrTransient, e.Err}
}
