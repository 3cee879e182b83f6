package codec

import (
	"fmt"
	"reflect"
	"strings"
)

type sliceCodec struct {
	t    reflect.Type
	elem Codec
}

func newSliceCodec(r *Registry, t reflect.Type) (Codec, error) {
	elem, err := r.ResolveNested(t.Elem())
	if err != nil {
		return nil, atPath(err, "[]")
	}
	return &sliceCodec{t: t, elem: elem}, nil
}

func (c *sliceCodec) Copy(v reflect.Value) reflect.Value {
	if v.IsNil() {
		return zeroOf(c.t)
	}
	out := reflect.MakeSlice(c.t, v.Len(), v.Len())
	for i := 0; i < v.Len(); i++ {
		out.Index(i).Set(c.elem.Copy(v.Index(i)))
	}
	return out
}

func (c *sliceCodec) Encode(v reflect.Value) (any, error) {
	if v.IsNil() {
		return nil, nil
	}
	return encodeList(c.elem, v)
}

func (c *sliceCodec) Decode(data any) (reflect.Value, error) {
	if data == nil {
		return zeroOf(c.t), nil
	}
	list, ok := data.([]any)
	if !ok {
		return reflect.Value{}, decodeErr(c.t, data, "expected a list")
	}
	out := reflect.MakeSlice(c.t, len(list), len(list))
	for i, item := range list {
		ev, err := c.elem.Decode(item)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("[%d]: %w", i, err)
		}
		out.Index(i).Set(ev)
	}
	return out, nil
}

type arrayCodec struct {
	t    reflect.Type
	elem Codec
}

func newArrayCodec(r *Registry, t reflect.Type) (Codec, error) {
	elem, err := r.ResolveNested(t.Elem())
	if err != nil {
		return nil, atPath(err, fmt.Sprintf("[%d]", t.Len()))
	}
	return &arrayCodec{t: t, elem: elem}, nil
}

func (c *arrayCodec) Copy(v reflect.Value) reflect.Value {
	out := zeroOf(c.t)
	for i := 0; i < v.Len(); i++ {
		out.Index(i).Set(c.elem.Copy(v.Index(i)))
	}
	return out
}

func (c *arrayCodec) Encode(v reflect.Value) (any, error) {
	return encodeList(c.elem, v)
}

func (c *arrayCodec) Decode(data any) (reflect.Value, error) {
	out := zeroOf(c.t)
	if data == nil {
		return out, nil
	}
	list, ok := data.([]any)
	if !ok {
		return reflect.Value{}, decodeErr(c.t, data, "expected a list")
	}
	if len(list) > c.t.Len() {
		return reflect.Value{}, decodeErr(c.t, data, fmt.Sprintf("%d elements for length %d", len(list), c.t.Len()))
	}
	for i, item := range list {
		ev, err := c.elem.Decode(item)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("[%d]: %w", i, err)
		}
		out.Index(i).Set(ev)
	}
	return out, nil
}

func encodeList(elem Codec, v reflect.Value) (any, error) {
	list := make([]any, v.Len())
	for i := range list {
		item, err := elem.Encode(v.Index(i))
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		list[i] = item
	}
	return list, nil
}

// mapCodec handles maps keyed by string kinds.
type mapCodec struct {
	t    reflect.Type
	elem Codec
}

func newMapCodec(r *Registry, t reflect.Type) (Codec, error) {
	if t.Key().Kind() != reflect.String {
		return nil, unresolvable(t, "map keys must be strings")
	}
	elem, err := r.ResolveNested(t.Elem())
	if err != nil {
		return nil, atPath(err, "[key]")
	}
	return &mapCodec{t: t, elem: elem}, nil
}

func (c *mapCodec) Copy(v reflect.Value) reflect.Value {
	if v.IsNil() {
		return zeroOf(c.t)
	}
	out := reflect.MakeMapWithSize(c.t, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		out.SetMapIndex(iter.Key(), c.elem.Copy(iter.Value()))
	}
	return out
}

func (c *mapCodec) Encode(v reflect.Value) (any, error) {
	if v.IsNil() {
		return nil, nil
	}
	out := make(map[string]any, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		item, err := c.elem.Encode(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("[%s]: %w", iter.Key().String(), err)
		}
		out[iter.Key().String()] = item
	}
	return out, nil
}

func (c *mapCodec) Decode(data any) (reflect.Value, error) {
	if data == nil {
		return zeroOf(c.t), nil
	}
	entries, ok := asStringMap(data)
	if !ok {
		return reflect.Value{}, decodeErr(c.t, data, "expected a mapping")
	}
	out := reflect.MakeMapWithSize(c.t, len(entries))
	for k, item := range entries {
		ev, err := c.elem.Decode(item)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("[%s]: %w", k, err)
		}
		out.SetMapIndex(reflect.ValueOf(k).Convert(c.t.Key()), ev)
	}
	return out, nil
}

type pointerCodec struct {
	t    reflect.Type
	elem Codec
}

func newPointerCodec(r *Registry, t reflect.Type) (Codec, error) {
	elem, err := r.ResolveNested(t.Elem())
	if err != nil {
		return nil, atPath(err, "*")
	}
	return &pointerCodec{t: t, elem: elem}, nil
}

func (c *pointerCodec) Copy(v reflect.Value) reflect.Value {
	if v.IsNil() {
		return zeroOf(c.t)
	}
	out := reflect.New(c.t.Elem())
	out.Elem().Set(c.elem.Copy(v.Elem()))
	return out
}

func (c *pointerCodec) Encode(v reflect.Value) (any, error) {
	if v.IsNil() {
		return nil, nil
	}
	return c.elem.Encode(v.Elem())
}

func (c *pointerCodec) Decode(data any) (reflect.Value, error) {
	if data == nil {
		return zeroOf(c.t), nil
	}
	ev, err := c.elem.Decode(data)
	if err != nil {
		return reflect.Value{}, err
	}
	out := reflect.New(c.t.Elem())
	out.Elem().Set(ev)
	return out, nil
}

// Field is one serialized field of a struct.
type Field struct {
	Name  string
	Index int
	Type  reflect.Type
	Codec Codec
}

// StructCodec handles struct shapes field by field. Fields tagged ecs:"-"
// are transient: they are neither copied nor encoded. Zero-size fields
// (embedded markers) are ignored.
type StructCodec struct {
	t      reflect.Type
	fields []Field
	byKey  map[string]int
}

func newStructCodec(r *Registry, t reflect.Type) (Codec, error) {
	sc := &StructCodec{t: t, byKey: make(map[string]int)}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag := sf.Tag.Get("ecs")
		if tag == "-" || (sf.Type.Kind() == reflect.Struct && sf.Type.Size() == 0) {
			continue
		}
		if !sf.IsExported() {
			return nil, &ResolveError{Type: t, Path: []string{sf.Name}, Reason: "unexported field"}
		}
		name := sf.Name
		if tag != "" {
			name = tag
		}
		key := strings.ToLower(name)
		if _, dup := sc.byKey[key]; dup {
			return nil, &ResolveError{Type: t, Path: []string{name}, Reason: "duplicate field name"}
		}
		fc, err := r.ResolveNested(sf.Type)
		if err != nil {
			return nil, atPath(err, sf.Name)
		}
		sc.byKey[key] = len(sc.fields)
		sc.fields = append(sc.fields, Field{Name: name, Index: i, Type: sf.Type, Codec: fc})
	}
	return sc, nil
}

// Type is the struct type handled.
func (c *StructCodec) Type() reflect.Type { return c.t }

// Fields lists serialized fields in declaration order.
func (c *StructCodec) Fields() []Field {
	out := make([]Field, len(c.fields))
	copy(out, c.fields)
	return out
}

// Field looks a field up case-insensitively.
func (c *StructCodec) Field(name string) (Field, bool) {
	i, ok := c.byKey[strings.ToLower(name)]
	if !ok {
		return Field{}, false
	}
	return c.fields[i], true
}

func (c *StructCodec) Copy(v reflect.Value) reflect.Value {
	out := zeroOf(c.t)
	for _, f := range c.fields {
		out.Field(f.Index).Set(f.Codec.Copy(v.Field(f.Index)))
	}
	return out
}

func (c *StructCodec) Encode(v reflect.Value) (any, error) {
	out := make(map[string]any, len(c.fields))
	for _, f := range c.fields {
		item, err := f.Codec.Encode(v.Field(f.Index))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
		out[f.Name] = item
	}
	return out, nil
}

func (c *StructCodec) Decode(data any) (reflect.Value, error) {
	out := zeroOf(c.t)
	if data == nil {
		return out, nil
	}
	entries, ok := asStringMap(data)
	if !ok {
		return reflect.Value{}, decodeErr(c.t, data, "expected a mapping")
	}
	for k, item := range entries {
		f, ok := c.Field(k)
		if !ok {
			return reflect.Value{}, fmt.Errorf("%w %q on %v", ErrUnknownField, k, c.t)
		}
		fv, err := f.Codec.Decode(item)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("%s: %w", f.Name, err)
		}
		out.Field(f.Index).Set(fv)
	}
	return out, nil
}

// asStringMap accepts both map[string]any and the map[any]any some YAML
// decoders produce.
func asStringMap(data any) (map[string]any, bool) {
	switch m := data.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, v := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = v
		}
		return out, true
	default:
		return nil, false
	}
}
