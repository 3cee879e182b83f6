package registry

import "errors"

var (
	// ErrDuplicateName is returned when a name, or a type, is already bound to
	// a different descriptor.
	ErrDuplicateName = errors.New("duplicate name")

	// ErrNotFound is returned by lookups that miss.
	ErrNotFound = errors.New("not found")

	// ErrAmbiguousName is returned when a local name matches types in several packages.
	ErrAmbiguousName = errors.New("ambiguous name")

	// ErrInvalidType is returned for descriptors that are not struct shapes.
	ErrInvalidType = errors.New("invalid type descriptor")

	// ErrTypeMismatch is returned when a value does not belong to the descriptor.
	ErrTypeMismatch = errors.New("value does not match type")
)
