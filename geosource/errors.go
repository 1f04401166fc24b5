package geosource

import "errors"

var (
	// ErrInvalidArgument is returned before any backend access for nil id
	// lists, malformed boxes and malformed tag filters.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrDisposed is returned by every call on a closed Source.
	ErrDisposed = errors.New("geo data source disposed")
)
