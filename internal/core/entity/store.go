// Package entity owns entities and the components attached to them.
package entity

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"

	"github.com/zeusync/ecs/internal/core/models"
	"github.com/zeusync/ecs/internal/core/observability/log"
	"github.com/zeusync/ecs/internal/core/registry"
	"github.com/zeusync/ecs/pkg/sequence"
)

// Listener observes component and entity lifecycle changes. Before* hooks
// run while the component or entity is still attached; After* hooks run once
// the change is visible. Hooks may call back into the store.
type Listener interface {
	AfterComponentAdded(id models.EntityID, component any) error
	AfterComponentChanged(id models.EntityID, component any) error
	BeforeComponentRemoved(id models.EntityID, component any) error
	BeforeEntityDestroyed(id models.EntityID) error
}

type slot struct {
	generation uint32
	alive      bool
	components map[reflect.Type]any
}

// Store maps entity ids to their components. It is not safe for concurrent
// use: a single simulation goroutine owns it, and other goroutines go
// through a command queue.
type Store struct {
	components *registry.ComponentRegistry
	logger     log.Log
	listeners  []Listener

	slots []slot // slot 0 is never issued so NullEntity stays invalid
	free  []uint32
	alive int
}

func NewStore(components *registry.ComponentRegistry, logger log.Log) *Store {
	return &Store{
		components: components,
		logger:     log.OrNop(logger).With(log.String("component", "entity_store")),
		slots:      make([]slot, 1),
	}
}

// AddListener subscribes l to lifecycle changes.
func (s *Store) AddListener(l Listener) {
	s.listeners = append(s.listeners, l)
}

// RemoveListener unsubscribes l.
func (s *Store) RemoveListener(l Listener) {
	for i, existing := range s.listeners {
		if existing == l {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

// Components is the registry the store validates component values against.
func (s *Store) Components() *registry.ComponentRegistry { return s.components }

// Create returns a fresh entity with no components.
func (s *Store) Create() models.EntityID {
	var index uint32
	if n := len(s.free); n > 0 {
		index = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		s.slots = append(s.slots, slot{generation: 1})
		index = uint32(len(s.slots) - 1)
	}
	sl := &s.slots[index]
	sl.alive = true
	sl.components = make(map[reflect.Type]any)
	s.alive++
	return models.NewEntityID(index, sl.generation)
}

// Destroy releases the entity and its components. The id, and every copy
// of it, is invalid afterwards.
func (s *Store) Destroy(id models.EntityID) error {
	if _, err := s.slot(id); err != nil {
		return err
	}
	var errs []error
	for _, l := range s.snapshotListeners() {
		if err := l.BeforeEntityDestroyed(id); err != nil {
			errs = append(errs, err)
		}
	}

	// a listener may already have destroyed it
	sl, err := s.slot(id)
	if err != nil {
		return listenerErr(errs)
	}
	s.release(id.Index(), sl)
	return listenerErr(errs)
}

func (s *Store) release(index uint32, sl *slot) {
	sl.alive = false
	sl.components = nil
	s.alive--
	if sl.generation == math.MaxUint32 {
		// retired: reusing it would eventually repeat an old id
		s.logger.Warn("entity slot retired", log.Uint32("index", index))
		return
	}
	sl.generation++
	s.free = append(s.free, index)
}

// Alive reports whether id refers to a live entity.
func (s *Store) Alive(id models.EntityID) bool {
	_, err := s.slot(id)
	return err == nil
}

// Count is the number of live entities.
func (s *Store) Count() int { return s.alive }

// AddComponent attaches component, a pointer to a registered struct. The
// store keeps the pointer; callers that need isolation copy first.
func (s *Store) AddComponent(id models.EntityID, component any) error {
	sl, err := s.slot(id)
	if err != nil {
		return err
	}
	t, err := s.componentType(component)
	if err != nil {
		return err
	}
	if _, exists := sl.components[t]; exists {
		return fmt.Errorf("%w: %v already has %v", ErrDuplicateComponent, id, t)
	}
	sl.components[t] = component

	var errs []error
	for _, l := range s.snapshotListeners() {
		if err := l.AfterComponentAdded(id, component); err != nil {
			errs = append(errs, err)
		}
	}
	return listenerErr(errs)
}

// ReplaceComponent attaches component, replacing any existing instance of
// the same type.
func (s *Store) ReplaceComponent(id models.EntityID, component any) error {
	sl, err := s.slot(id)
	if err != nil {
		return err
	}
	t, err := s.componentType(component)
	if err != nil {
		return err
	}
	_, existed := sl.components[t]
	sl.components[t] = component

	var errs []error
	for _, l := range s.snapshotListeners() {
		var lerr error
		if existed {
			lerr = l.AfterComponentChanged(id, component)
		} else {
			lerr = l.AfterComponentAdded(id, component)
		}
		if lerr != nil {
			errs = append(errs, lerr)
		}
	}
	return listenerErr(errs)
}

// RemoveComponent detaches and returns the component of type t (T or *T).
func (s *Store) RemoveComponent(id models.EntityID, t reflect.Type) (any, error) {
	t = baseType(t)
	sl, err := s.slot(id)
	if err != nil {
		return nil, err
	}
	component, ok := sl.components[t]
	if !ok {
		return nil, fmt.Errorf("%w: %v has no %v", ErrNotPresent, id, t)
	}

	var errs []error
	for _, l := range s.snapshotListeners() {
		if err := l.BeforeComponentRemoved(id, component); err != nil {
			errs = append(errs, err)
		}
	}

	// listeners may have destroyed the entity or removed the component
	if sl, err = s.slot(id); err == nil {
		delete(sl.components, t)
	}
	return component, listenerErr(errs)
}

// GetComponent returns the component of type t (T or *T).
func (s *Store) GetComponent(id models.EntityID, t reflect.Type) (any, error) {
	t = baseType(t)
	sl, err := s.slot(id)
	if err != nil {
		return nil, err
	}
	component, ok := sl.components[t]
	if !ok {
		return nil, fmt.Errorf("%w: %v has no %v", ErrNotPresent, id, t)
	}
	return component, nil
}

// HasComponent reports whether a live entity carries type t. It is false for
// dead ids; use Alive to tell the two apart.
func (s *Store) HasComponent(id models.EntityID, t reflect.Type) bool {
	sl, err := s.slot(id)
	if err != nil {
		return false
	}
	_, ok := sl.components[baseType(t)]
	return ok
}

// HasAll reports whether a live entity carries every type in ts.
func (s *Store) HasAll(id models.EntityID, ts ...reflect.Type) bool {
	sl, err := s.slot(id)
	if err != nil {
		return false
	}
	for _, t := range ts {
		if _, ok := sl.components[baseType(t)]; !ok {
			return false
		}
	}
	return true
}

// ComponentsOf lists the entity's components ordered by registered name.
func (s *Store) ComponentsOf(id models.EntityID) ([]any, error) {
	sl, err := s.slot(id)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(sl.components))
	for _, c := range sl.components {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return s.nameOf(out[i]) < s.nameOf(out[j])
	})
	return out, nil
}

// Query iterates live entities carrying every type in ts, by ascending slot.
// The id set is captured up front, so the store may be mutated while
// iterating.
func (s *Store) Query(ts ...reflect.Type) *sequence.Iterator[models.EntityID] {
	var ids []models.EntityID
	for index := 1; index < len(s.slots); index++ {
		sl := &s.slots[index]
		if !sl.alive {
			continue
		}
		id := models.NewEntityID(uint32(index), sl.generation)
		if s.HasAll(id, ts...) {
			ids = append(ids, id)
		}
	}
	return sequence.From(ids)
}

// Snapshot encodes every component of the entity, keyed by qualified name.
func (s *Store) Snapshot(id models.EntityID) (map[string]map[string]any, error) {
	components, err := s.ComponentsOf(id)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]any, len(components))
	for _, c := range components {
		meta, err := s.components.MetaOf(c)
		if err != nil {
			return nil, err
		}
		data, err := meta.Encode(c)
		if err != nil {
			return nil, err
		}
		out[meta.Name().String()] = data
	}
	return out, nil
}

// Clear destroys every entity without notifying listeners.
func (s *Store) Clear() {
	for index := 1; index < len(s.slots); index++ {
		if sl := &s.slots[index]; sl.alive {
			s.release(uint32(index), sl)
		}
	}
}

func (s *Store) slot(id models.EntityID) (*slot, error) {
	index := id.Index()
	if id.IsNull() || int(index) >= len(s.slots) || index == 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnknownEntity, id)
	}
	sl := &s.slots[index]
	if !sl.alive || sl.generation != id.Generation() {
		return nil, fmt.Errorf("%w: %v", ErrUnknownEntity, id)
	}
	return sl, nil
}

func (s *Store) componentType(component any) (reflect.Type, error) {
	if component == nil {
		return nil, fmt.Errorf("%w: nil", ErrInvalidComponent)
	}
	rv := reflect.ValueOf(component)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %T is not a pointer to a struct", ErrInvalidComponent, component)
	}
	meta, err := s.components.Meta(rv.Type())
	if err != nil {
		return nil, err
	}
	return meta.Type(), nil
}

func (s *Store) nameOf(component any) string {
	if name, err := s.components.LookupByType(reflect.TypeOf(component)); err == nil {
		return name.Key()
	}
	return reflect.TypeOf(component).String()
}

func (s *Store) snapshotListeners() []Listener {
	if len(s.listeners) == 0 {
		return nil
	}
	out := make([]Listener, len(s.listeners))
	copy(out, s.listeners)
	return out
}

func listenerErr(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrListener, errors.Join(errs...))
}

func baseType(t reflect.Type) reflect.Type {
	if t != nil && t.Kind() == reflect.Pointer {
		return t.Elem()
	}
	return t
}
