package types

import "errors"

var (
	// ErrMissingField is returned when a transaction lacks a field required
	// by its declared type (gasPrice for type 0/1, fee caps for type 2).
	ErrMissingField = errors.New("types: missing required transaction field")

	// ErrUnsupportedType is returned for any transaction type outside {0,1,2}.
	ErrUnsupportedType = errors.New("types: unsupported transaction type")
)
