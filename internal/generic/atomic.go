package generic

import (
	"sync/atomic"
)

// Atomic is the same as atomic.Value with additional type safety.
type Atomic[T any] struct {
	value atomic.Value
}

// Load returns the last stored value, or the zero value of T if nothing has
// been stored yet.
func (v *Atomic[T]) Load() T {
	if val, ok := v.value.Load().(T); ok {
		return val
	}

	var zero T

	return zero
}

func (v *Atomic[T]) Store(value T) {
	v.value.Store(value)
}
