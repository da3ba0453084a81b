package expo

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/tinywideclouds/go-broadcast-service/pkg/broadcast"
)

var _ broadcast.TransientError = (*GatewayError)(nil)

// GatewayError describes a chunk-level failure: the request never produced tickets.
// Transient marks failures a later attempt may get past (network, 429, 5xx).
type GatewayError struct {
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

// IsTransient lets the dispatcher stop retrying permanent failures.
func (e *GatewayError) IsTransient() bool {
	return e != nil && e.Transient
}

func isTransientHTTPStatus(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= http.StatusInternalServerError
}

func (e *GatewayError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "expo gateway error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *GatewayError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
