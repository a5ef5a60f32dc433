package events

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"

	"eventnet/internal/neterr"
)

// Events are fixed-layout values: bool, sized integers, floats, complex
// numbers, arrays of those and structs made of exported fields of those.
// Fields are written in declaration order, little-endian, with no padding.
// int, uint, uintptr, strings, slices, maps and pointers have no fixed
// layout and are rejected.

var ErrNotFixedLayout = errors.New("event type has no fixed layout")

// EncodedSize returns the number of bytes T occupies on the wire, or -1 if T
// is not a fixed-layout type
func EncodedSize[T any]() int {
	return sizeOf(reflect.TypeOf((*T)(nil)).Elem())
}

func sizeOf(t reflect.Type) int {
	if t == nil {
		return -1
	}
	switch t.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Interface:
		return -1
	}
	if !settable(t) {
		return -1
	}
	return binary.Size(reflect.Zero(t).Interface())
}

// settable reports whether decoding can assign every non-blank field of t
func settable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Array:
		return settable(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.Name == "_" {
				continue
			}
			if !f.IsExported() || !settable(f.Type) {
				return false
			}
		}
	}
	return true
}

// Marshal encodes a fixed-layout value
func Marshal(v any) ([]byte, error) {
	if sizeOf(reflect.TypeOf(v)) < 0 {
		return nil, fmt.Errorf("%w: %T", ErrNotFixedLayout, v)
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		return nil, fmt.Errorf("failed to encode %T: %w", v, err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a T from b. b must hold at least EncodedSize[T]() bytes;
// any bytes beyond that are ignored.
func Unmarshal[T any](b []byte) (T, error) {
	return decode[T](b, false)
}

func decode[T any](b []byte, strict bool) (T, error) {
	var v T
	size := EncodedSize[T]()
	if size < 0 {
		return v, fmt.Errorf("%w: %T", ErrNotFixedLayout, v)
	}
	if len(b) < size {
		return v, neterr.Protocol("payload of %d bytes is too short for %T (%d bytes)", len(b), v, size)
	}
	if strict && len(b) > size {
		return v, neterr.Protocol("payload of %d bytes is longer than %T (%d bytes)", len(b), v, size)
	}
	if err := binary.Read(bytes.NewReader(b[:size]), binary.LittleEndian, &v); err != nil {
		return v, neterr.Protocol("failed to decode %T: %v", v, err)
	}
	return v, nil
}
