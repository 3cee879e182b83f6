package bus

import (
	"reflect"

	"github.com/zeusync/ecs/internal/core/models"
)

// Handler reacts to one published event. Returning an error aborts the rest
// of the dispatch and surfaces the error to the publisher.
type Handler func(call *Call) error

// Registration describes a handler for one event type.
//
//   - ID names the handler for ordering constraints; a uuid is generated when
//     it is empty. IDs are unique per event type.
//   - Components restricts a targeted publish to entities carrying every
//     listed component type. Untargeted publishes ignore the filter.
//   - Before and After name handlers of the same event type this one must
//     run before or after. Unknown names are ignored.
//   - RunWhenConsumed keeps the handler in the chain after an earlier
//     handler consumed the event.
type Registration struct {
	ID              string
	Event           reflect.Type
	Components      []reflect.Type
	Before          []string
	After           []string
	RunWhenConsumed bool
	Handler         Handler
}

// Subscription is the handle for a registered handler.
type Subscription interface {
	ID() string
	Event() models.Name
	IsActive() bool
	// Cancel removes the handler. Multiple calls are safe.
	Cancel() error
}

// Observer is notified about every publish. Observers should return
// quickly; they run on the publishing goroutine.
type Observer interface {
	OnPublish(event models.Name, target models.EntityID)
	OnDelivered(event models.Name, handlers int, err error, durationMicros int64)
}

// Metrics are counters accumulated since the dispatcher was created.
type Metrics struct {
	Published         uint64
	DeliveredHandlers uint64
	Errors            uint64
	Consumed          uint64
	Replicated        uint64
	SubscribersActive uint64
}
