package channel

// Unbuffered is an unbuffered channel implementation. Send blocks until the
// loop receives, which makes ordering bugs reproducible in debug builds.
type Unbuffered[T any] struct {
	pipe[T]
}

// NewUnbuffered creates a new unbuffered channel.
func NewUnbuffered[T any]() *Unbuffered[T] {
	return &Unbuffered[T]{pipe: newPipe[T](0)}
}

// Len always returns 0 for unbuffered channels.
func (u *Unbuffered[T]) Len() int {
	return 0
}
