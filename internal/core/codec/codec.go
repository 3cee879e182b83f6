// Package codec resolves a handler for every field type a component or event
// can carry. A handler deep-copies values and converts them to and from a plain
// data tree (nil, bool, int64, uint64, float64, string, []any, map[string]any),
// the same shape YAML and JSON decoders produce.
package codec

import (
	"reflect"
	"sync"

	"github.com/zeusync/ecs/internal/core/observability/log"
)

// Codec copies and (de)serializes values of a single type.
type Codec interface {
	// Copy returns an independent value: mutating it never affects v.
	Copy(v reflect.Value) reflect.Value
	Encode(v reflect.Value) (any, error)
	Decode(data any) (reflect.Value, error)
}

// Factory builds a codec for structural type shapes. It returns (nil, nil)
// when t is not a shape it handles.
type Factory func(r *Registry, t reflect.Type) (Codec, error)

// Registry maps field types to codecs. Exact registrations win over
// factories, factories over the built-in shapes.
type Registry struct {
	mu        sync.Mutex
	exact     map[reflect.Type]Codec
	factories []Factory
	cache     map[reflect.Type]Codec
	logger    log.Log

	// types resolved during the current top-level Resolve call, dropped on failure
	pending []reflect.Type
	depth   int
}

// NewRegistry returns a registry preloaded with the built-in codecs.
func NewRegistry(logger log.Log) *Registry {
	r := &Registry{
		exact:  make(map[reflect.Type]Codec),
		cache:  make(map[reflect.Type]Codec),
		logger: log.OrNop(logger),
	}
	registerBuiltins(r)
	return r
}

// Register binds a codec to an exact type. It must happen before any type
// using t is resolved; later registrations do not rewrite cached composites.
func (r *Registry) Register(t reflect.Type, c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exact[t] = c
	delete(r.cache, t)
	r.logger.Debug("codec registered", log.String("type", t.String()))
}

// RegisterFactory adds a structural factory. Factories are consulted in
// registration order.
func (r *Registry) RegisterFactory(f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories = append(r.factories, f)
}

// Resolve returns the codec for t or an error wrapping ErrUnresolvable.
func (r *Registry) Resolve(t reflect.Type) (Codec, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolve(t)
}

// Has reports whether t resolves.
func (r *Registry) Has(t reflect.Type) bool {
	_, err := r.Resolve(t)
	return err == nil
}

// resolve must be called with mu held. Factories call back into it through
// ResolveNested.
func (r *Registry) resolve(t reflect.Type) (Codec, error) {
	if t == nil {
		return nil, unresolvable(t, "nil type")
	}
	if c, ok := r.cache[t]; ok {
		return c, nil
	}

	r.depth++
	c, err := r.build(t)
	r.depth--

	if err != nil {
		if r.depth == 0 {
			for _, p := range r.pending {
				delete(r.cache, p)
			}
			r.pending = r.pending[:0]
		}
		return nil, err
	}
	if r.depth == 0 {
		r.pending = r.pending[:0]
	}
	return c, nil
}

func (r *Registry) build(t reflect.Type) (Codec, error) {
	if c, ok := r.exact[t]; ok {
		r.store(t, c)
		return c, nil
	}

	// Composite types may refer to themselves; a placeholder breaks the cycle.
	placeholder := &lazyCodec{}
	r.store(t, placeholder)

	for _, f := range r.factories {
		c, err := f(r, t)
		if err != nil {
			delete(r.cache, t)
			return nil, err
		}
		if c != nil {
			placeholder.target = c
			r.cache[t] = c
			return c, nil
		}
	}

	c, err := builtinFor(r, t)
	if err != nil {
		delete(r.cache, t)
		return nil, err
	}
	placeholder.target = c
	r.cache[t] = c
	return c, nil
}

func (r *Registry) store(t reflect.Type, c Codec) {
	r.cache[t] = c
	r.pending = append(r.pending, t)
}

// ResolveNested resolves an element type from inside a Factory, which runs
// with the registry lock held. Calling Resolve there would deadlock.
func (r *Registry) ResolveNested(t reflect.Type) (Codec, error) {
	return r.resolve(t)
}

// Copy deep-copies v, which may be a value or a pointer.
func (r *Registry) Copy(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	c, err := r.Resolve(rv.Type())
	if err != nil {
		return nil, err
	}
	return c.Copy(rv).Interface(), nil
}

// Encode converts v into the data tree.
func (r *Registry) Encode(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	c, err := r.Resolve(rv.Type())
	if err != nil {
		return nil, err
	}
	return c.Encode(rv)
}

// Decode converts data into a value of type t.
func (r *Registry) Decode(data any, t reflect.Type) (any, error) {
	c, err := r.Resolve(t)
	if err != nil {
		return nil, err
	}
	v, err := c.Decode(data)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

// lazyCodec stands in for a composite codec while it is being built.
type lazyCodec struct {
	target Codec
}

func (l *lazyCodec) get() Codec {
	if l.target == nil {
		panic("codec: placeholder used before resolution finished")
	}
	return l.target
}

func (l *lazyCodec) Copy(v reflect.Value) reflect.Value { return l.get().Copy(v) }

func (l *lazyCodec) Encode(v reflect.Value) (any, error) { return l.get().Encode(v) }

func (l *lazyCodec) Decode(data any) (reflect.Value, error) { return l.get().Decode(data) }
