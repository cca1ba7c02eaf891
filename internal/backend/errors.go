package backend

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnreachable indicates the backend could not be reached at all:
	// connection refused, DNS failure, or a request that timed out.
	ErrUnreachable = errors.New("backend unreachable")

	// ErrNotFound indicates the backend answered 404 for the resource.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable indicates the backend answered 501 for a capability it
	// does not implement.
	ErrUnavailable = errors.New("feature unavailable")
)

// APIError is a non-2xx answer from the backend with the response body kept
// for diagnostics.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend error: %d - %s", e.StatusCode, e.Body)
}

// Is maps well-known status codes onto the package sentinels so callers can
// branch with errors.Is without inspecting status codes themselves.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrUnavailable:
		return e.StatusCode == http.StatusNotImplemented
	}
	return false
}
