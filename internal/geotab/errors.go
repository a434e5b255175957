// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

package geotab

import (
	"errors"
	"fmt"
)

// InvalidUserException is the error name MyGeotab returns for bad
// credentials and for expired sessions.
const InvalidUserException = "InvalidUserException"

// ErrNoSession is returned when a call needs credentials and none can be
// obtained.
var ErrNoSession = errors.New("geotab: no session")

// APIError is an error reported inside a JSON-RPC response.
type APIError struct {
	Name    string
	Message string
}

func (e *APIError) Error() string {
	if e.Name == "" {
		return "geotab: " + e.Message
	}
	return fmt.Sprintf("geotab: %s: %s", e.Name, e.Message)
}

// InvalidUser reports whether the error means the session or credentials
// were rejected.
func (e *APIError) InvalidUser() bool {
	return e.Name == InvalidUserException
}

// HTTPError is a non-2xx transport response.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("geotab: http status %d: %s", e.Status, e.Body)
}

// IsInvalidUser reports whether err carries an InvalidUserException.
func IsInvalidUser(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.InvalidUser()
}
