// Package registry binds qualified names to component and event types.
package registry

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/zeusync/ecs/internal/core/codec"
	"github.com/zeusync/ecs/internal/core/models"
	"github.com/zeusync/ecs/internal/core/observability/log"
)

type (
	ComponentRegistry = Registry[*ComponentType]
	EventRegistry     = Registry[*EventType]
)

// Registry maps qualified names to type metadata and back. It is filled
// during initialisation and read-shared afterwards.
type Registry[M Metadata] struct {
	mu     sync.RWMutex
	kind   string
	codecs *codec.Registry
	build  func(*TypeInfo, options) M
	logger log.Log

	byKey  map[string]M
	byType map[reflect.Type]M
	order  []M
}

// NewComponentRegistry creates an empty component registry resolving field
// codecs through codecs.
func NewComponentRegistry(codecs *codec.Registry, logger log.Log) *ComponentRegistry {
	return newRegistry("component", codecs, newComponentType, logger)
}

// NewEventRegistry creates an empty event registry.
func NewEventRegistry(codecs *codec.Registry, logger log.Log) *EventRegistry {
	return newRegistry("event", codecs, newEventType, logger)
}

func newRegistry[M Metadata](kind string, codecs *codec.Registry, build func(*TypeInfo, options) M, logger log.Log) *Registry[M] {
	return &Registry[M]{
		kind:   kind,
		codecs: codecs,
		build:  build,
		logger: log.OrNop(logger).With(log.String("registry", kind)),
		byKey:  make(map[string]M),
		byType: make(map[reflect.Type]M),
	}
}

// Kind is "component" or "event".
func (r *Registry[M]) Kind() string { return r.kind }

// Register binds name to t (a struct type or pointer to one). Registering the
// identical descriptor again is a no-op; binding the name to another
// descriptor, or the type to another name, fails with ErrDuplicateName.
// Field codecs are resolved before the binding becomes visible.
func (r *Registry[M]) Register(name models.Name, t reflect.Type, opts ...Option) (M, error) {
	var zero M
	if !name.Valid() {
		return zero, fmt.Errorf("register %s: %w: %q", r.kind, models.ErrInvalidName, name.String())
	}
	st, err := structType(t)
	if err != nil {
		return zero, fmt.Errorf("register %s %s: %w", r.kind, name, err)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	fp := fingerprint(r.kind, st, o)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byKey[name.Key()]; ok {
		if existing.Type() == st && existing.Fingerprint() == fp {
			return existing, nil
		}
		return zero, fmt.Errorf("register %s %s: %w: bound to %v", r.kind, name, ErrDuplicateName, existing.Type())
	}
	if existing, ok := r.byType[st]; ok {
		return zero, fmt.Errorf("register %s %s: %w: %v already registered as %s", r.kind, name, ErrDuplicateName, st, existing.Name())
	}

	fc, err := r.codecs.Resolve(st)
	if err != nil {
		return zero, fmt.Errorf("register %s %s: %w", r.kind, name, err)
	}
	sc, ok := fc.(*codec.StructCodec)
	if !ok {
		return zero, fmt.Errorf("register %s %s: %w: %v has a custom codec, not a field layout", r.kind, name, ErrInvalidType, st)
	}
	pc, err := r.codecs.Resolve(reflect.PointerTo(st))
	if err != nil {
		return zero, fmt.Errorf("register %s %s: %w", r.kind, name, err)
	}

	meta := r.build(&TypeInfo{name: name, typ: st, fields: sc, ptr: pc, fingerprint: fp}, o)
	r.byKey[name.Key()] = meta
	r.byType[st] = meta
	r.order = append(r.order, meta)

	r.logger.Debug("type registered",
		log.Stringer("name", name),
		log.String("type", st.String()),
		log.Int("fields", len(sc.Fields())))

	return meta, nil
}

// LookupByName returns the metadata bound to name.
func (r *Registry[M]) LookupByName(name models.Name) (M, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.byKey[name.Key()]
	if !ok {
		var zero M
		return zero, fmt.Errorf("%s %s: %w", r.kind, name, ErrNotFound)
	}
	return meta, nil
}

// LookupByType returns the name t (or *t) is registered under.
func (r *Registry[M]) LookupByType(t reflect.Type) (models.Name, error) {
	meta, err := r.Meta(t)
	if err != nil {
		return models.Name{}, err
	}
	return meta.Name(), nil
}

// Meta returns the metadata for t (or *t).
func (r *Registry[M]) Meta(t reflect.Type) (M, error) {
	var zero M
	if t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.byType[t]
	if !ok {
		return zero, fmt.Errorf("%s type %v: %w", r.kind, t, ErrNotFound)
	}
	return meta, nil
}

// MetaOf returns the metadata for the dynamic type of v.
func (r *Registry[M]) MetaOf(v any) (M, error) {
	return r.Meta(reflect.TypeOf(v))
}

// Resolve accepts either "package:Local" or a bare local name. A bare name
// must match exactly one registered type across packages.
func (r *Registry[M]) Resolve(s string) (M, error) {
	var zero M
	if strings.Contains(s, ":") {
		name, err := models.ParseName(s)
		if err != nil {
			return zero, err
		}
		return r.LookupByName(name)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	var (
		found   M
		matches []string
	)
	for _, meta := range r.order {
		if strings.EqualFold(meta.Name().Local, s) {
			found = meta
			matches = append(matches, meta.Name().String())
		}
	}
	switch len(matches) {
	case 0:
		return zero, fmt.Errorf("%s %q: %w", r.kind, s, ErrNotFound)
	case 1:
		return found, nil
	default:
		return zero, fmt.Errorf("%s %q: %w: %s", r.kind, s, ErrAmbiguousName, strings.Join(matches, ", "))
	}
}

// All returns every registration in insertion order.
func (r *Registry[M]) All() []M {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]M, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry[M]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Unregister drops a binding so the name can be bound again.
func (r *Registry[M]) Unregister(name models.Name) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	meta, ok := r.byKey[name.Key()]
	if !ok {
		return fmt.Errorf("%s %s: %w", r.kind, name, ErrNotFound)
	}
	r.remove(meta)
	return nil
}

// UnregisterPackage drops every binding provided by pkg and returns how many
// were removed.
func (r *Registry[M]) UnregisterPackage(pkg string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var doomed []M
	for _, meta := range r.order {
		if meta.Name().InPackage(pkg) {
			doomed = append(doomed, meta)
		}
	}
	for _, meta := range doomed {
		r.remove(meta)
	}
	if len(doomed) > 0 {
		r.logger.Debug("package unregistered", log.String("package", pkg), log.Int("types", len(doomed)))
	}
	return len(doomed)
}

func (r *Registry[M]) remove(meta M) {
	delete(r.byKey, meta.Name().Key())
	delete(r.byType, meta.Type())
	kept := r.order[:0]
	for _, m := range r.order {
		if m.Info() != meta.Info() {
			kept = append(kept, m)
		}
	}
	r.order = kept
}
