package codec

import (
	"encoding/base64"
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/zeusync/ecs/internal/core/models"
	"github.com/zeusync/ecs/internal/core/observability/log"
	"github.com/zeusync/ecs/pkg/encoding"
)

var (
	timeType          = reflect.TypeFor[time.Time]()
	durationType      = reflect.TypeFor[time.Duration]()
	entityIDType      = reflect.TypeFor[models.EntityID]()
	dataMarshalerType = reflect.TypeFor[encoding.DataMarshaler]()
	dataUnmarshalType = reflect.TypeFor[encoding.DataUnmarshaler]()
)

func registerBuiltins(r *Registry) {
	r.exact[timeType] = timeCodec{}
	r.exact[durationType] = durationCodec{}
	r.exact[entityIDType] = entityRefCodec{}
}

// builtinFor picks a codec by kind once exact types and factories have had
// their turn.
func builtinFor(r *Registry, t reflect.Type) (Codec, error) {
	if c, err := dataCodecFor(r, t); c != nil || err != nil {
		return c, err
	}

	switch t.Kind() {
	case reflect.Bool:
		return boolCodec{t: t}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return intCodec{t: t}, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return uintCodec{t: t}, nil
	case reflect.Float32, reflect.Float64:
		return floatCodec{t: t}, nil
	case reflect.String:
		return stringCodec{t: t}, nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return bytesCodec{t: t}, nil
		}
		return newSliceCodec(r, t)
	case reflect.Array:
		return newArrayCodec(r, t)
	case reflect.Map:
		return newMapCodec(r, t)
	case reflect.Pointer:
		return newPointerCodec(r, t)
	case reflect.Struct:
		return newStructCodec(r, t)
	case reflect.Interface:
		return nil, unresolvable(t, "interface fields need an explicitly registered codec")
	default:
		return nil, unresolvable(t, "unsupported kind "+t.Kind().String())
	}
}

func zeroOf(t reflect.Type) reflect.Value {
	return reflect.New(t).Elem()
}

type boolCodec struct{ t reflect.Type }

func (c boolCodec) Copy(v reflect.Value) reflect.Value {
	out := zeroOf(c.t)
	out.SetBool(v.Bool())
	return out
}

func (c boolCodec) Encode(v reflect.Value) (any, error) { return v.Bool(), nil }

func (c boolCodec) Decode(data any) (reflect.Value, error) {
	b, ok := data.(bool)
	if !ok {
		return reflect.Value{}, decodeErr(c.t, data, "")
	}
	out := zeroOf(c.t)
	out.SetBool(b)
	return out, nil
}

type intCodec struct{ t reflect.Type }

func (c intCodec) Copy(v reflect.Value) reflect.Value {
	out := zeroOf(c.t)
	out.SetInt(v.Int())
	return out
}

func (c intCodec) Encode(v reflect.Value) (any, error) { return v.Int(), nil }

func (c intCodec) Decode(data any) (reflect.Value, error) {
	n, ok := toInt64(data)
	if !ok {
		return reflect.Value{}, decodeErr(c.t, data, "")
	}
	out := zeroOf(c.t)
	if out.OverflowInt(n) {
		return reflect.Value{}, decodeErr(c.t, data, "overflow")
	}
	out.SetInt(n)
	return out, nil
}

type uintCodec struct{ t reflect.Type }

func (c uintCodec) Copy(v reflect.Value) reflect.Value {
	out := zeroOf(c.t)
	out.SetUint(v.Uint())
	return out
}

func (c uintCodec) Encode(v reflect.Value) (any, error) { return v.Uint(), nil }

func (c uintCodec) Decode(data any) (reflect.Value, error) {
	n, ok := toUint64(data)
	if !ok {
		return reflect.Value{}, decodeErr(c.t, data, "")
	}
	out := zeroOf(c.t)
	if out.OverflowUint(n) {
		return reflect.Value{}, decodeErr(c.t, data, "overflow")
	}
	out.SetUint(n)
	return out, nil
}

type floatCodec struct{ t reflect.Type }

func (c floatCodec) Copy(v reflect.Value) reflect.Value {
	out := zeroOf(c.t)
	out.SetFloat(v.Float())
	return out
}

func (c floatCodec) Encode(v reflect.Value) (any, error) { return v.Float(), nil }

func (c floatCodec) Decode(data any) (reflect.Value, error) {
	f, ok := toFloat64(data)
	if !ok {
		return reflect.Value{}, decodeErr(c.t, data, "")
	}
	out := zeroOf(c.t)
	if out.OverflowFloat(f) {
		return reflect.Value{}, decodeErr(c.t, data, "overflow")
	}
	out.SetFloat(f)
	return out, nil
}

type stringCodec struct{ t reflect.Type }

func (c stringCodec) Copy(v reflect.Value) reflect.Value {
	out := zeroOf(c.t)
	out.SetString(v.String())
	return out
}

func (c stringCodec) Encode(v reflect.Value) (any, error) { return v.String(), nil }

func (c stringCodec) Decode(data any) (reflect.Value, error) {
	s, ok := data.(string)
	if !ok {
		return reflect.Value{}, decodeErr(c.t, data, "")
	}
	out := zeroOf(c.t)
	out.SetString(s)
	return out, nil
}

// bytesCodec encodes byte slices as standard base64.
type bytesCodec struct{ t reflect.Type }

func (c bytesCodec) Copy(v reflect.Value) reflect.Value {
	if v.IsNil() {
		return zeroOf(c.t)
	}
	out := reflect.MakeSlice(c.t, v.Len(), v.Len())
	reflect.Copy(out, v)
	return out
}

func (c bytesCodec) Encode(v reflect.Value) (any, error) {
	if v.IsNil() {
		return nil, nil
	}
	return base64.StdEncoding.EncodeToString(v.Bytes()), nil
}

func (c bytesCodec) Decode(data any) (reflect.Value, error) {
	if data == nil {
		return zeroOf(c.t), nil
	}
	s, ok := data.(string)
	if !ok {
		return reflect.Value{}, decodeErr(c.t, data, "")
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return reflect.Value{}, decodeErr(c.t, data, err.Error())
	}
	out := zeroOf(c.t)
	out.SetBytes(raw)
	return out, nil
}

type timeCodec struct{}

func (timeCodec) Copy(v reflect.Value) reflect.Value {
	out := zeroOf(timeType)
	out.Set(v)
	return out
}

func (timeCodec) Encode(v reflect.Value) (any, error) {
	return v.Interface().(time.Time).Format(time.RFC3339Nano), nil
}

func (timeCodec) Decode(data any) (reflect.Value, error) {
	switch d := data.(type) {
	case time.Time:
		return reflect.ValueOf(d), nil
	case string:
		ts, err := time.Parse(time.RFC3339Nano, d)
		if err != nil {
			return reflect.Value{}, decodeErr(timeType, data, err.Error())
		}
		return reflect.ValueOf(ts), nil
	default:
		return reflect.Value{}, decodeErr(timeType, data, "")
	}
}

type durationCodec struct{}

func (durationCodec) Copy(v reflect.Value) reflect.Value {
	out := zeroOf(durationType)
	out.SetInt(v.Int())
	return out
}

func (durationCodec) Encode(v reflect.Value) (any, error) {
	return time.Duration(v.Int()).String(), nil
}

func (durationCodec) Decode(data any) (reflect.Value, error) {
	if s, ok := data.(string); ok {
		d, err := time.ParseDuration(s)
		if err != nil {
			return reflect.Value{}, decodeErr(durationType, data, err.Error())
		}
		return reflect.ValueOf(d), nil
	}
	if n, ok := toInt64(data); ok {
		return reflect.ValueOf(time.Duration(n)), nil
	}
	return reflect.Value{}, decodeErr(durationType, data, "")
}

// entityRefCodec handles references to other entities. A reference is copied
// as-is; the referenced entity is never cloned.
type entityRefCodec struct{}

func (entityRefCodec) Copy(v reflect.Value) reflect.Value {
	return reflect.ValueOf(models.EntityID(v.Uint()))
}

func (entityRefCodec) Encode(v reflect.Value) (any, error) { return v.Uint(), nil }

func (entityRefCodec) Decode(data any) (reflect.Value, error) {
	n, ok := toUint64(data)
	if !ok {
		return reflect.Value{}, decodeErr(entityIDType, data, "")
	}
	return reflect.ValueOf(models.EntityID(n)), nil
}

// dataCodec delegates to encoding.DataMarshaler/DataUnmarshaler. Copies go
// through a marshal round trip so the type decides what "independent" means.
type dataCodec struct {
	t      reflect.Type
	logger log.Log
}

// dataCodecFor rejects types whose zero value does not survive the round
// trip, since Copy could not produce an independent value for them.
func dataCodecFor(r *Registry, t reflect.Type) (Codec, error) {
	if t.Kind() == reflect.Pointer {
		return nil, nil
	}
	ptr := reflect.PointerTo(t)
	if !ptr.Implements(dataUnmarshalType) || !ptr.Implements(dataMarshalerType) {
		return nil, nil
	}
	c := dataCodec{t: t, logger: r.logger}
	data, err := c.Encode(zeroOf(t))
	if err == nil {
		_, err = c.Decode(data)
	}
	if err != nil {
		return nil, unresolvable(t, "data round trip fails: "+err.Error())
	}
	return c, nil
}

// Copy falls back to a shallow copy when the round trip fails for v; the
// failure is logged since the copy may then share state with v.
func (c dataCodec) Copy(v reflect.Value) reflect.Value {
	data, err := c.Encode(v)
	if err == nil {
		var out reflect.Value
		if out, err = c.Decode(data); err == nil {
			return out
		}
	}
	c.logger.Warn("data codec copy fell back to a shallow copy",
		log.String("type", c.t.String()), log.Error(err))
	out := zeroOf(c.t)
	out.Set(v)
	return out
}

func (c dataCodec) Encode(v reflect.Value) (any, error) {
	ptr := reflect.New(c.t)
	ptr.Elem().Set(v)
	return ptr.Interface().(encoding.DataMarshaler).MarshalData()
}

func (c dataCodec) Decode(data any) (reflect.Value, error) {
	ptr := reflect.New(c.t)
	if err := ptr.Interface().(encoding.DataUnmarshaler).UnmarshalData(data); err != nil {
		return reflect.Value{}, decodeErr(c.t, data, err.Error())
	}
	return ptr.Elem(), nil
}

func toInt64(data any) (int64, bool) {
	switch n := data.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), uint64(n) <= math.MaxInt64
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), n <= math.MaxInt64
	case float32:
		return floatToInt64(float64(n))
	case float64:
		return floatToInt64(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return floatToInt64(f)
	default:
		return 0, false
	}
}

func floatToInt64(f float64) (int64, bool) {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func toUint64(data any) (uint64, bool) {
	switch n := data.(type) {
	case uint:
		return uint64(n), true
	case uint8:
		return uint64(n), true
	case uint16:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case uint64:
		return n, true
	case json.Number:
		if u, err := strconv.ParseUint(n.String(), 10, 64); err == nil {
			return u, true
		}
		f, err := n.Float64()
		if err != nil || f < 0 || f != math.Trunc(f) || f >= math.MaxUint64 {
			return 0, false
		}
		return uint64(f), true
	case float32, float64:
		f, _ := toFloat64(n)
		if f < 0 || f != math.Trunc(f) || f >= math.MaxUint64 {
			return 0, false
		}
		return uint64(f), true
	default:
		i, ok := toInt64(data)
		if !ok || i < 0 {
			return 0, false
		}
		return uint64(i), true
	}
}

func toFloat64(data any) (float64, bool) {
	switch n := data.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		i, ok := toInt64(data)
		return float64(i), ok
	}
}
