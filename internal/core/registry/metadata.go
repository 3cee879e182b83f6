package registry

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/zeusync/ecs/internal/core/codec"
	"github.com/zeusync/ecs/internal/core/models"
)

// Metadata is what a Registry stores per registered type.
type Metadata interface {
	Name() models.Name
	Type() reflect.Type
	Fingerprint() uint64
	Info() *TypeInfo
}

// TypeInfo is the metadata shared by component and event types: the struct
// type, its resolved field codecs and a layout fingerprint.
type TypeInfo struct {
	name        models.Name
	typ         reflect.Type
	fields      *codec.StructCodec
	ptr         codec.Codec
	fingerprint uint64
}

func (i *TypeInfo) Name() models.Name { return i.name }

// Type is the struct type; stored values are pointers to it.
func (i *TypeInfo) Type() reflect.Type { return i.typ }

// Fingerprint hashes the field layout and registration flags. Peers compare
// fingerprints to detect schema drift.
func (i *TypeInfo) Fingerprint() uint64 { return i.fingerprint }

func (i *TypeInfo) Info() *TypeInfo { return i }

func (i *TypeInfo) Fields() []codec.Field { return i.fields.Fields() }

// Field looks a field up case-insensitively.
func (i *TypeInfo) Field(name string) (codec.Field, bool) { return i.fields.Field(name) }

// New returns a pointer to a zero value of the type.
func (i *TypeInfo) New() any {
	return reflect.New(i.typ).Interface()
}

// Owns reports whether v is a pointer to this type.
func (i *TypeInfo) Owns(v any) bool {
	return v != nil && reflect.TypeOf(v) == reflect.PointerTo(i.typ)
}

// Copy deep-copies a pointer to this type.
func (i *TypeInfo) Copy(v any) (any, error) {
	if !i.Owns(v) {
		return nil, i.mismatch(v)
	}
	return i.ptr.Copy(reflect.ValueOf(v)).Interface(), nil
}

// Encode converts a pointer to this type into a field map.
func (i *TypeInfo) Encode(v any) (map[string]any, error) {
	if !i.Owns(v) {
		return nil, i.mismatch(v)
	}
	rv := reflect.ValueOf(v)
	if rv.IsNil() {
		return nil, fmt.Errorf("%w: nil %v", ErrTypeMismatch, rv.Type())
	}
	data, err := i.fields.Encode(rv.Elem())
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", i.name, err)
	}
	return data.(map[string]any), nil
}

// Decode builds a new pointer to this type from a field map. Missing fields
// keep their zero value.
func (i *TypeInfo) Decode(data any) (any, error) {
	v, err := i.ptr.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", i.name, err)
	}
	if v.IsNil() {
		return i.New(), nil
	}
	return v.Interface(), nil
}

func (i *TypeInfo) mismatch(v any) error {
	return fmt.Errorf("%w: %T is not *%v (%s)", ErrTypeMismatch, v, i.typ, i.name)
}

// ComponentType describes a registered component.
type ComponentType struct {
	*TypeInfo
}

// EventType describes a registered event.
type EventType struct {
	*TypeInfo
	network bool
}

// Network reports whether the event is replicated after local dispatch.
func (e *EventType) Network() bool { return e.network }

// Option adjusts a registration.
type Option func(*options)

type options struct {
	network bool
}

// WithNetwork flags an event type as network relevant.
func WithNetwork(network bool) Option {
	return func(o *options) { o.network = network }
}

func newComponentType(info *TypeInfo, _ options) *ComponentType {
	return &ComponentType{TypeInfo: info}
}

func newEventType(info *TypeInfo, o options) *EventType {
	return &EventType{TypeInfo: info, network: o.network}
}

// structType accepts T or *T and returns T.
func structType(t reflect.Type) (reflect.Type, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil", ErrInvalidType)
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %v is not a struct", ErrInvalidType, t)
	}
	return t, nil
}

// fingerprint hashes the identity and field layout of t together with the
// registration flags.
func fingerprint(kind string, t reflect.Type, o options) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(kind)
	_, _ = d.WriteString(t.PkgPath())
	_, _ = d.WriteString(t.String())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		_, _ = d.WriteString(f.Name)
		_, _ = d.WriteString(f.Type.String())
		_, _ = d.WriteString(string(f.Tag))
	}
	_, _ = d.WriteString(strconv.FormatBool(o.network))
	return d.Sum64()
}
