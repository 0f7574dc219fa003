package domain

import (
	"bytes"
	"encoding/json"
)

type fieldState uint8

const (
	fieldUnchanged fieldState = iota
	fieldClear
	fieldSet
)

// Field is an optional update: leave the column alone, clear it, or set it.
// The zero value is Unchanged. In JSON an absent key is Unchanged and null is Clear.
type Field[T any] struct {
	state fieldState
	value T
}

func Unchanged[T any]() Field[T] { return Field[T]{} }

func Clear[T any]() Field[T] { return Field[T]{state: fieldClear} }

func Set[T any](v T) Field[T] { return Field[T]{state: fieldSet, value: v} }

func (f Field[T]) IsUnchanged() bool { return f.state == fieldUnchanged }

func (f Field[T]) IsClear() bool { return f.state == fieldClear }

func (f Field[T]) IsSet() bool { return f.state == fieldSet }

// Get returns the value and whether the field is Set.
func (f Field[T]) Get() (T, bool) {
	return f.value, f.state == fieldSet
}

// Apply resolves the field against the current value.
func (f Field[T]) Apply(cur *T) *T {
	switch f.state {
	case fieldClear:
		return nil
	case fieldSet:
		v := f.value
		return &v
	default:
		return cur
	}
}

func (f *Field[T]) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*f = Clear[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = Set(v)
	return nil
}

func (f Field[T]) MarshalJSON() ([]byte, error) {
	if f.state != fieldSet {
		return []byte("null"), nil
	}
	return json.Marshal(f.value)
}
