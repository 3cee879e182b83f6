package codec

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var (
	// ErrUnresolvable is returned when no codec can handle a type.
	ErrUnresolvable = errors.New("unresolvable field type")

	// ErrDecode is returned when encoded data does not fit the target type.
	ErrDecode = errors.New("cannot decode value")

	// ErrUnknownField is returned when encoded struct data names a field the type lacks.
	ErrUnknownField = errors.New("unknown field")
)

// ResolveError reports which type, and where inside it, failed to resolve.
type ResolveError struct {
	Type   reflect.Type
	Path   []string
	Reason string
}

func (e *ResolveError) Error() string {
	var b strings.Builder
	b.WriteString("codec: cannot resolve ")
	if len(e.Path) > 0 {
		b.WriteString(strings.Join(e.Path, "."))
		b.WriteString(" ")
	}
	fmt.Fprintf(&b, "(%v)", e.Type)
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	return b.String()
}

func (e *ResolveError) Unwrap() error { return ErrUnresolvable }

func unresolvable(t reflect.Type, reason string) error {
	return &ResolveError{Type: t, Reason: reason}
}

// atPath prefixes a nested resolve failure with the field or element it occurred in.
func atPath(err error, segment string) error {
	var re *ResolveError
	if errors.As(err, &re) {
		re.Path = append([]string{segment}, re.Path...)
		return re
	}
	return err
}

func decodeErr(t reflect.Type, data any, reason string) error {
	if reason == "" {
		return fmt.Errorf("%w: %T into %v", ErrDecode, data, t)
	}
	return fmt.Errorf("%w: %T into %v: %s", ErrDecode, data, t, reason)
}
