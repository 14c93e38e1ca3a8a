package collectors

import "fmt"

// SourceResult wraps one collector outcome: a populated value, absence, or a
// recorded error. Collectors never let failures escape past this boundary;
// the orchestrator treats results as data.
type SourceResult[T any] struct {
	Value   T
	Present bool
	Err     string
}

// Ok wraps a collected value.
func Ok[T any](value T) SourceResult[T] {
	return SourceResult[T]{Value: value, Present: true}
}

// Absent reports that the collector had nothing to contribute. Absence is not
// an error.
func Absent[T any]() SourceResult[T] {
	return SourceResult[T]{}
}

// Failure records a collection error as data.
func Failure[T any](err error) SourceResult[T] {
	return SourceResult[T]{Err: fmt.Sprintf("%v", err)}
}

// Failed reports whether the collector recorded an error.
func (r SourceResult[T]) Failed() bool {
	return r.Err != ""
}
