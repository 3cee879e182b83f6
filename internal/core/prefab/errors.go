package prefab

import "errors"

var (
	ErrUnknownPrefab  = errors.New("unknown prefab")
	ErrDuplicateName  = errors.New("prefab already defined")
	ErrCyclicParent   = errors.New("cyclic prefab parent")
	ErrInvalidPrefab  = errors.New("invalid prefab definition")
	ErrDuplicateProto = errors.New("duplicate prototype type")
)
