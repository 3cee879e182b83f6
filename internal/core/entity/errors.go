package entity

import "errors"

var (
	// ErrUnknownEntity is returned for ids that were never issued or whose
	// entity has been destroyed.
	ErrUnknownEntity = errors.New("unknown entity")

	// ErrDuplicateComponent is returned when adding a component type the entity already carries.
	ErrDuplicateComponent = errors.New("duplicate component")

	// ErrNotPresent is returned when the entity lacks the requested component type.
	ErrNotPresent = errors.New("component not present")

	// ErrInvalidComponent is returned for nil values or values that are not
	// pointers to a registered component struct.
	ErrInvalidComponent = errors.New("invalid component value")

	// ErrListener wraps failures reported by lifecycle listeners. The store
	// mutation they were notified about is still applied.
	ErrListener = errors.New("lifecycle listener failed")
)
