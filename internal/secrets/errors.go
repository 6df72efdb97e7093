package secrets

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound matches every *NotFoundError.
	ErrNotFound = errors.New("secret not found")
	// ErrBackendUnavailable matches every *BackendUnavailableError.
	ErrBackendUnavailable = errors.New("secret backend unavailable")
	// ErrInvalidRequest is returned by Resolve for empty or duplicate names.
	ErrInvalidRequest = errors.New("invalid resolution request")
)

// NotFoundError reports that a backend holds no value for Name.
type NotFoundError struct {
	Name    string
	Backend string
	Err     error // Optional underlying cause.
}

func (e *NotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("secret %q not found in backend %q: %v", e.Name, e.Backend, e.Err)
	}
	return fmt.Sprintf("secret %q not found in backend %q", e.Name, e.Backend)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func (e *NotFoundError) Unwrap() error { return e.Err }

// BackendUnavailableError reports that the store behind Backend could not
// be reached while fetching Name (network, auth, file or timeout failure).
type BackendUnavailableError struct {
	Name    string
	Backend string
	Err     error
}

func (e *BackendUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("backend %q unavailable while fetching %q: %v", e.Backend, e.Name, e.Err)
	}
	return fmt.Sprintf("backend %q unavailable while fetching %q", e.Backend, e.Name)
}

func (e *BackendUnavailableError) Is(target error) bool { return target == ErrBackendUnavailable }

func (e *BackendUnavailableError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is, or wraps, a *NotFoundError.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnavailable reports whether err is, or wraps, a *BackendUnavailableError.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable)
}
