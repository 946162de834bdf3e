package generic

type Option[T any] struct {
	Value    T
	hasValue bool
}

// Get is the comma-ok form of the Option[T].
func (o Option[T]) Get() (T, bool) {
	return o.Value, o.hasValue
}

// Some wraps a value as an Option[T] containing that value.
func Some[T any](value T) Option[T] {
	return Option[T]{Value: value, hasValue: true}
}

// None creates an Option[T] that has no value.
func None[T any]() Option[T] {
	return Option[T]{}
}
