package app

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput wraps every validation failure; the wrapped message is safe to show.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidCredentials is returned for an unknown email or a wrong password alike.
	ErrInvalidCredentials = errors.New("incorrect email address or password")
	ErrEmailTaken         = errors.New("email already registered")

	ErrSubjectNotFound  = errors.New("subject not found")
	ErrDocumentNotFound = errors.New("document not found")
	// ErrForbidden is returned when a document exists but belongs to another user.
	ErrForbidden = errors.New("forbidden")

	ErrNoFileAttached = errors.New("document has no file attached")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
