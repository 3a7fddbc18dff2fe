package taskdeck

import (
	"bytes"
	"encoding/json"
)

// Nullable is a JSON field that tells apart "absent", "null" and a value.
// Use it with the omitzero tag option so an unset field is not encoded.
type Nullable[T any] struct {
	Value T
	Valid bool // false encodes as null
	Set   bool // false means the field is absent
}

// Some returns a set, non-null field.
func Some[T any](v T) Nullable[T] {
	return Nullable[T]{Value: v, Valid: true, Set: true}
}

// Null returns a field explicitly set to null.
func Null[T any]() Nullable[T] {
	return Nullable[T]{Set: true}
}

// FromPtr returns a set field that is null when p is nil.
func FromPtr[T any](p *T) Nullable[T] {
	if p == nil {
		return Null[T]()
	}
	return Some(*p)
}

// IsZero reports whether the field is absent. encoding/json consults it for
// omitzero.
func (n Nullable[T]) IsZero() bool {
	return !n.Set
}

// Ptr returns a pointer to a copy of the value, or nil when null.
func (n Nullable[T]) Ptr() *T {
	if !n.Valid {
		return nil
	}
	v := n.Value
	return &v
}

func (n Nullable[T]) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

func (n *Nullable[T]) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		var zero T
		n.Value = zero
		n.Valid = false
		return nil
	}
	if err := json.Unmarshal(data, &n.Value); err != nil {
		return err
	}
	n.Valid = true
	return nil
}
