package apiclient

import (
	"errors"
	"fmt"
)

// ErrSessionExpired wraps a refresh failure: the access token could not
// be renewed and the caller must re-authenticate.
var ErrSessionExpired = errors.New("session expired")

// APIError is a non-2xx response from the identity service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.Status)
	}
	return fmt.Sprintf("api error: status %d: %s", e.Status, e.Message)
}
