// Package fn holds the small generic helpers the pipelines are built from:
// a Result type, composable stages, retry and slice utilities.
package fn

// Result carries either a value or the error that prevented it.
type Result[T any] struct {
	val T
	err error
	ok  bool
}

func Ok[T any](v T) Result[T] {
	return Result[T]{val: v, ok: true}
}

func Err[T any](err error) Result[T] {
	return Result[T]{err: err}
}

// FromPair lifts a (value, error) return into a Result.
func FromPair[T any](v T, err error) Result[T] {
	if err != nil {
		return Err[T](err)
	}
	return Ok(v)
}

func (r Result[T]) IsOk() bool  { return r.ok }
func (r Result[T]) IsErr() bool { return !r.ok }

func (r Result[T]) Unwrap() (T, error) { return r.val, r.err }

// UnwrapOr returns the value, or fallback when r failed.
func (r Result[T]) UnwrapOr(fallback T) T {
	if !r.ok {
		return fallback
	}
	return r.val
}

// Collect returns all values, or the first error in order.
func Collect[T any](results []Result[T]) Result[[]T] {
	out := make([]T, len(results))
	for i, r := range results {
		if !r.ok {
			return Err[[]T](r.err)
		}
		out[i] = r.val
	}
	return Ok(out)
}
