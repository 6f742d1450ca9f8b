package database

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable marks any failure of the persistence layer.
	ErrStoreUnavailable = errors.New("vector store unavailable")
	// ErrInvalidRecord marks a batch rejected before anything was written.
	ErrInvalidRecord = errors.New("invalid identity record")
	// ErrUnknownDriver is returned by Open for an unregistered backend.
	ErrUnknownDriver = errors.New("unknown database driver")
)

// Unavailable wraps err so that errors.Is(err, ErrStoreUnavailable) holds.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
