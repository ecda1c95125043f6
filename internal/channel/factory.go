//go:build !debug

package channel

// New creates a mailbox with the given buffer size.
func New[T any](size int) Channel[T] {
	return NewBuffered[T](size)
}
