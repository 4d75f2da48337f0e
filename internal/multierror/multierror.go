package multierror

import (
	"fmt"
	"strings"
	"sync"
)

type keyedError[T comparable] struct {
	key T
	err error
}

// Error combines the errors of several independent steps, keyed by the step
// that produced them. Errors are reported in the order they were added.
type Error[T comparable] struct {
	mu     sync.Mutex
	errors []keyedError[T]
}

// New creates a new Error.
func New[T comparable]() *Error[T] {
	return &Error[T]{}
}

// Error returns a string representation of the error.
func (m *Error[T]) Error() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	parts := make([]string, 0, len(m.errors))
	for _, e := range m.errors {
		parts = append(parts, fmt.Sprintf("%v: %s", e.key, e.err))
	}

	return strings.Join(parts, "; ")
}

// Unwrap returns the collected errors, so that errors.Is and errors.As look
// into every one of them.
func (m *Error[T]) Unwrap() []error {
	m.mu.Lock()
	defer m.mu.Unlock()

	errs := make([]error, 0, len(m.errors))
	for _, e := range m.errors {
		errs = append(errs, e.err)
	}

	return errs
}

// Len returns the number of errors.
func (m *Error[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.errors)
}

// Add records the error of a step. Nil errors are ignored.
func (m *Error[T]) Add(key T, err error) {
	if err == nil {
		return
	}

	m.mu.Lock()
	m.errors = append(m.errors, keyedError[T]{key: key, err: err})
	m.mu.Unlock()
}

// Combined returns the Error if it contains any errors, nil otherwise.
func (m *Error[T]) Combined() error {
	if m.Len() == 0 {
		return nil
	}

	return m
}
