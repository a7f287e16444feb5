package container

// Option holds a value that may be absent, without resorting to
// pointers or sentinel values. The zero value is None.
type Option[T any] struct {
	v   T
	set bool
}

func None[T any]() Option[T] {
	return Option[T]{}
}

func Some[T any](v T) Option[T] {
	return Option[T]{
		v:   v,
		set: true,
	}
}

func (m Option[T]) Get() (T, bool) {
	return m.v, m.set
}

func (m Option[T]) GetOr(alt T) T {
	if m.set {
		return m.v
	}
	return alt
}

func (m Option[T]) Set() bool {
	return m.set
}
