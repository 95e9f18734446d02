package journal

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest is returned when read parameters violate their preconditions.
// It is a configuration error and retrying the same request will not help.
var ErrInvalidRequest = errors.New("invalid change log request")

// ErrRevisionTruncated means the journal no longer retains the revisions
// following the requested start. Re-reading from the same start never succeeds.
var ErrRevisionTruncated = errors.New("revision no longer retained in commit journal")

// RepositoryError reports a failure of the content store while syncing the
// connection or reading its journal. No partial result accompanies it.
type RepositoryError struct {
	Op       string // "refresh", "open", "skip" or "read"
	Revision int64  // Last revision observed before the failure
	Err      error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("journal %s failed after revision %d: %v", e.Op, e.Revision, e.Err)
}

func (e *RepositoryError) Unwrap() error {
	return e.Err
}

// IsRepositoryError reports whether err carries a RepositoryError
func IsRepositoryError(err error) bool {
	var repoErr *RepositoryError
	return errors.As(err, &repoErr)
}

// IsRevisionTruncated reports whether err means the start revision fell
// below the retained journal
func IsRevisionTruncated(err error) bool {
	return errors.Is(err, ErrRevisionTruncated)
}

func invalidRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
