package artifact

import "errors"

var (
	// ErrNotFound is returned when no object exists for the given URL.
	ErrNotFound = errors.New("artifact not found")
	// ErrInvalidPath is returned when an upload path is empty.
	ErrInvalidPath = errors.New("artifact path must not be empty")
)
