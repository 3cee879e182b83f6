package bus

import (
	"context"

	"github.com/zeusync/ecs/internal/core/entity"
	"github.com/zeusync/ecs/internal/core/models"
	"github.com/zeusync/ecs/internal/core/registry"
)

// Call is what a handler sees of the dispatch it runs in. It is only valid
// until the handler returns.
type Call struct {
	ctx      context.Context
	d        *Dispatcher
	meta     *registry.EventType
	event    any
	target   models.EntityID
	targeted bool
	consumed bool
	handler  string
}

func (c *Call) reset() {
	*c = Call{}
}

func (c *Call) Context() context.Context { return c.ctx }

// Event is the published value, always a pointer to the event struct.
// Handlers may modify it; later handlers see the change.
func (c *Call) Event() any { return c.event }

func (c *Call) EventType() *registry.EventType { return c.meta }

// Entity is the publish target, or NullEntity for an untargeted publish.
func (c *Call) Entity() models.EntityID { return c.target }

func (c *Call) Targeted() bool { return c.targeted }

// HandlerID names the handler currently running.
func (c *Call) HandlerID() string { return c.handler }

// Consume stops the event from reaching later handlers, except those
// registered with RunWhenConsumed.
func (c *Call) Consume() { c.consumed = true }

func (c *Call) Consumed() bool { return c.consumed }

func (c *Call) Entities() *entity.Store { return c.d.entities }

// Publish dispatches another event to completion before returning.
func (c *Call) Publish(event any) error {
	return c.d.Publish(c.ctx, event)
}

// PublishTo dispatches another event at id to completion before returning.
func (c *Call) PublishTo(id models.EntityID, event any) error {
	return c.d.PublishTo(c.ctx, id, event)
}
