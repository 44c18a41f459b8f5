package fetch

import "fmt"

// Class is the retry classification of a network-bound operation.
type Class int

const (
	ClassSuccess Class = iota
	ClassRetryable
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassRetryable:
		return "retryable"
	case ClassFatal:
		return "fatal"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// Outcome is the uniform result of every network-bound operation: login,
// search page, profile page, media download. The scheduler branches on
// Class alone, so all operations inherit one retry policy.
type Outcome[T any] struct {
	Class Class
	Value T
	Err   error
}

func Success[T any](v T) Outcome[T] {
	return Outcome[T]{Class: ClassSuccess, Value: v}
}

func Retryable[T any](err error) Outcome[T] {
	return Outcome[T]{Class: ClassRetryable, Err: err}
}

func Fatal[T any](err error) Outcome[T] {
	return Outcome[T]{Class: ClassFatal, Err: err}
}
