package persistence

import (
	"bytes"
	"encoding/gob"
	"reflect"
)

// EncodeValue serializes arbitrary Go values using encoding/gob.
// Callers must ensure that values are gob-encodable; the step config types
// are registered by pkg/api, custom result payloads by their owners.
func EncodeValue(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	// Important: encode as interface{} so we can safely decode into interface{}.
	var iv = v
	if err := enc.Encode(&iv); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeValue decodes an EncodeValue payload. Decoding into an interface
// target (any, StepConfig) returns the registered concrete type; decoding
// into a concrete T unwraps the interface payload.
func DecodeValue[T any](data []byte) (T, error) {
	var zero T
	if len(data) == 0 {
		return zero, nil
	}

	var iv any
	dec := gob.NewDecoder(bytes.NewBuffer(data))
	if err := dec.Decode(&iv); err != nil {
		return zero, err
	}
	if v, ok := iv.(T); ok {
		return v, nil
	}
	if isInterfaceType[T]() {
		return any(iv).(T), nil
	}
	return zero, &decodeTypeError{got: reflect.TypeOf(iv), want: reflect.TypeOf(zero)}
}

type decodeTypeError struct {
	got, want reflect.Type
}

func (e *decodeTypeError) Error() string {
	return "gob: decoded payload of type " + typeName(e.got) +
		" not assignable to target " + typeName(e.want)
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}

func isInterfaceType[T any]() bool {
	return reflect.TypeOf((*T)(nil)).Elem().Kind() == reflect.Interface
}
