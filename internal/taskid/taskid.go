// Package taskid normalizes provider-assigned task identifiers before they
// are used as store keys.
//
// Identifiers are opaque. Every backend prepends its own key prefix, so any
// non-empty string is a safe key; rejecting unusual characters would only
// drop results the provider already paid for.
package taskid

import (
	"errors"
	"net/http"
	"strings"
)

// ErrMissing means no identifier was supplied.
var ErrMissing = errors.New("taskId is required")

// Validate trims id and rejects it only when nothing is left. It returns the
// normalized identifier.
func Validate(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrMissing
	}
	return id, nil
}

// FromQuery reads and validates the taskId query parameter.
func FromQuery(r *http.Request) (string, error) {
	return Validate(r.URL.Query().Get("taskId"))
}
