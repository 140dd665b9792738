package domain

// FieldState distinguishes an omitted edit field from one explicitly cleared.
type FieldState uint8

const (
	FieldAbsent FieldState = iota
	FieldClear
	FieldSet
)

// Field is a tri-state edit parameter: Absent keeps the current value,
// Clear resets it and Set replaces it.
type Field[T any] struct {
	State FieldState
	Value T
}

func Absent[T any]() Field[T] {
	return Field[T]{}
}

func Clear[T any]() Field[T] {
	return Field[T]{State: FieldClear}
}

func Set[T any](v T) Field[T] {
	return Field[T]{State: FieldSet, Value: v}
}

func (f Field[T]) Present() bool {
	return f.State != FieldAbsent
}

// Apply resolves the field against the current value.
func (f Field[T]) Apply(current T) T {
	switch f.State {
	case FieldClear:
		var zero T
		return zero
	case FieldSet:
		return f.Value
	default:
		return current
	}
}
