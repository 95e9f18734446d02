package syncrev

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by a Store when no row exists for a qualified id
	ErrNotFound = errors.New("sync revision not found")

	// ErrInvalidID reports an empty or overlong sync revision id.
	// It is a configuration error.
	ErrInvalidID = errors.New("invalid sync revision id")
)

// StorageError wraps an I/O failure of the backing store.
// The in-memory cursor is left unchanged when one is returned.
type StorageError struct {
	Op          string // "get", "initialize" or "update"
	QualifiedID string
	Err         error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("sync revision %s %s failed: %v", e.QualifiedID, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
