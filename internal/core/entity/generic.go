package entity

import (
	"fmt"
	"reflect"

	"github.com/zeusync/ecs/internal/core/models"
)

// TypeOf returns the component type key for T.
func TypeOf[T any]() reflect.Type {
	return reflect.TypeFor[T]()
}

// Get returns the entity's *T component.
func Get[T any](s *Store, id models.EntityID) (*T, error) {
	c, err := s.GetComponent(id, TypeOf[T]())
	if err != nil {
		return nil, err
	}
	v, ok := c.(*T)
	if !ok {
		return nil, fmt.Errorf("%w: stored %T, want *%v", ErrInvalidComponent, c, TypeOf[T]())
	}
	return v, nil
}

// Has reports whether the entity carries a T component.
func Has[T any](s *Store, id models.EntityID) bool {
	return s.HasComponent(id, TypeOf[T]())
}

// Add attaches component to the entity.
func Add[T any](s *Store, id models.EntityID, component *T) error {
	return s.AddComponent(id, component)
}

// Remove detaches and returns the entity's *T component.
func Remove[T any](s *Store, id models.EntityID) (*T, error) {
	c, err := s.RemoveComponent(id, TypeOf[T]())
	if c == nil {
		return nil, err
	}
	return c.(*T), err
}

// NopListener implements Listener with no-ops; embed it to override a subset.
type NopListener struct{}

func (NopListener) AfterComponentAdded(models.EntityID, any) error    { return nil }
func (NopListener) AfterComponentChanged(models.EntityID, any) error  { return nil }
func (NopListener) BeforeComponentRemoved(models.EntityID, any) error { return nil }
func (NopListener) BeforeEntityDestroyed(models.EntityID) error       { return nil }
