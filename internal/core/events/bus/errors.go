package bus

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zeusync/ecs/internal/core/models"
)

var (
	ErrCyclicHandlerOrder = errors.New("cyclic handler order")
	ErrRecursionLimit     = errors.New("publish recursion limit reached")
	ErrDuplicateHandler   = errors.New("handler id already registered")
	ErrInvalidEvent       = errors.New("invalid event value")
	ErrInvalidHandler     = errors.New("invalid handler registration")
	ErrReplication        = errors.New("replication failed")
	ErrHandlerPanic       = errors.New("handler panicked")
)

// CycleError lists the handlers whose before/after constraints form a cycle.
type CycleError struct {
	Event    models.Name
	Handlers []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: %v: %s", ErrCyclicHandlerOrder, e.Event, strings.Join(e.Handlers, ", "))
}

func (e *CycleError) Unwrap() error { return ErrCyclicHandlerOrder }

// HandlerError reports the handler that aborted a dispatch.
type HandlerError struct {
	Event   models.Name
	Handler string
	Target  models.EntityID
	Err     error
}

func (e *HandlerError) Error() string {
	if e.Target.IsNull() {
		return fmt.Sprintf("handler %q for %v: %v", e.Handler, e.Event, e.Err)
	}
	return fmt.Sprintf("handler %q for %v on %v: %v", e.Handler, e.Event, e.Target, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
