package bus

import (
	"context"
	"errors"
	"reflect"

	"github.com/zeusync/ecs/internal/core/entity"
	"github.com/zeusync/ecs/internal/core/models"
	"github.com/zeusync/ecs/internal/core/registry"
)

// EnginePackage provides the lifecycle events.
const EnginePackage = "engine"

// OnAddedComponent is published at an entity after a component was attached
// to it.
type OnAddedComponent struct {
	Type      models.Name
	Component any `ecs:"-"`
}

// BeforeRemoveComponent is published at an entity while the component being
// removed is still attached.
type BeforeRemoveComponent struct {
	Type      models.Name
	Component any `ecs:"-"`
}

// BeforeDestroyEntity is published at an entity about to be destroyed.
type BeforeDestroyEntity struct{}

// RegisterLifecycleEvents registers the engine lifecycle event types.
// Registering them twice is harmless.
func RegisterLifecycleEvents(events *registry.EventRegistry) error {
	var errs []error
	for _, ev := range []struct {
		local string
		t     reflect.Type
	}{
		{"OnAddedComponent", reflect.TypeFor[OnAddedComponent]()},
		{"BeforeRemoveComponent", reflect.TypeFor[BeforeRemoveComponent]()},
		{"BeforeDestroyEntity", reflect.TypeFor[BeforeDestroyEntity]()},
	} {
		if _, err := events.Register(models.NewName(EnginePackage, ev.local), ev.t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// InstallLifecycle registers the lifecycle events and subscribes the
// dispatcher to the entity store, so that component and entity changes are
// published at the affected entity. Handler errors come back to whoever
// mutated the store, wrapped in entity.ErrListener.
func (d *Dispatcher) InstallLifecycle(ctx context.Context) (entity.Listener, error) {
	if d.entities == nil {
		return nil, errors.New("lifecycle events need an entity store")
	}
	if err := RegisterLifecycleEvents(d.events); err != nil {
		return nil, err
	}
	l := &lifecycleListener{d: d, ctx: ctx}
	d.entities.AddListener(l)
	return l, nil
}

type lifecycleListener struct {
	entity.NopListener
	d   *Dispatcher
	ctx context.Context
}

func (l *lifecycleListener) AfterComponentAdded(id models.EntityID, component any) error {
	return l.d.PublishTo(l.ctx, id, &OnAddedComponent{Type: l.nameOf(component), Component: component})
}

func (l *lifecycleListener) BeforeComponentRemoved(id models.EntityID, component any) error {
	return l.d.PublishTo(l.ctx, id, &BeforeRemoveComponent{Type: l.nameOf(component), Component: component})
}

func (l *lifecycleListener) BeforeEntityDestroyed(id models.EntityID) error {
	return l.d.PublishTo(l.ctx, id, &BeforeDestroyEntity{})
}

func (l *lifecycleListener) nameOf(component any) models.Name {
	name, _ := l.d.entities.Components().LookupByType(reflect.TypeOf(component))
	return name
}
