package encoding

// DataMarshaler lets a type control its own encoded form. The returned value
// must be a plain data tree: nil, bool, int64, uint64, float64, string,
// []any or map[string]any.
type DataMarshaler interface {
	MarshalData() (any, error)
}

// DataUnmarshaler is the inverse of DataMarshaler and is expected on the
// pointer receiver.
type DataUnmarshaler interface {
	UnmarshalData(data any) error
}

// DataCodec is implemented by types that round-trip through the data tree.
type DataCodec interface {
	DataMarshaler
	DataUnmarshaler
}
