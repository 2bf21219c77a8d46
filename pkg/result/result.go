package result

// Result carries either a value or an error, never both. It replaces ad hoc
// (T, error) plumbing in code that wants to chain fallible steps as values.
type Result[T any] struct {
	value T
	err   error
}

func Ok[T any](value T) Result[T] {
	return Result[T]{value: value}
}

func Err[T any](err error) Result[T] {
	return Result[T]{err: err}
}

// Wrap lifts a conventional (T, error) return into a Result.
func Wrap[T any](value T, err error) Result[T] {
	if err != nil {
		return Err[T](err)
	}
	return Ok(value)
}

func (r Result[T]) IsOk() bool {
	return r.err == nil
}

// Unwrap returns the conventional (T, error) pair.
func (r Result[T]) Unwrap() (T, error) {
	return r.value, r.err
}

// UnwrapOr returns the value, or fallback when the result is an error.
func (r Result[T]) UnwrapOr(fallback T) T {
	if r.err != nil {
		return fallback
	}
	return r.value
}

func (r Result[T]) Err() error {
	return r.err
}

// Map applies fn to the value of an ok result; errors pass through untouched.
func Map[T, U any](r Result[T], fn func(T) U) Result[U] {
	if r.err != nil {
		return Err[U](r.err)
	}
	return Ok(fn(r.value))
}

// Chain applies a fallible fn to the value of an ok result.
func Chain[T, U any](r Result[T], fn func(T) Result[U]) Result[U] {
	if r.err != nil {
		return Err[U](r.err)
	}
	return fn(r.value)
}
