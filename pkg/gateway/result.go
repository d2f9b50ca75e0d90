package gateway

// Result carries either a decoded value, an error, or the fact that the
// service answered successfully without a body.
type Result[T any] struct {
	value     T
	err       error
	noContent bool
}

func NewValueResult[T any](value T) Result[T] {
	return Result[T]{
		value: value,
	}
}

func NewErrorResult[T any](err error) Result[T] {
	return Result[T]{
		err: err,
	}
}

func NewNoContentResult[T any]() Result[T] {
	return Result[T]{
		noContent: true,
	}
}

func (r Result[T]) Value() (T, error) {
	return r.value, r.err
}

func (r Result[T]) Error() error {
	return r.err
}

func (r Result[T]) Ok() bool {
	return r.err == nil
}

// NoContent reports a successful call whose response carried no body.
func (r Result[T]) NoContent() bool {
	return r.err == nil && r.noContent
}

func (r Result[T]) Unwrap() T {
	if r.err != nil {
		panic(r.err)
	}
	return r.value
}

func (r Result[T]) ValueOr(v T) T {
	if r.err != nil || r.noContent {
		return v
	}
	return r.value
}
