// Package channel provides the closable mailboxes that feed the orchestrator loop.
package channel

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Send once the channel has been closed.
var ErrClosed = errors.New("channel closed")

// Receiver provides read access to a channel.
type Receiver[T any] interface {
	Receive() <-chan T
	// Done is closed when the channel is closed. Receive is never closed, so
	// readers select on both.
	Done() <-chan struct{}
	Len() int
}

// Sender provides write access to a channel.
type Sender[T any] interface {
	Send(ctx context.Context, v T) error
	// TrySend delivers v only if it can do so without blocking.
	TrySend(v T) bool
}

// Channel combines read and write access.
type Channel[T any] interface {
	Receiver[T]
	Sender[T]
	Close()
}

// pipe is the shared implementation. The data channel is never closed so
// late senders from finished goroutines cannot panic.
type pipe[T any] struct {
	ch   chan T
	done chan struct{}
	once sync.Once
}

func newPipe[T any](size int) pipe[T] {
	return pipe[T]{ch: make(chan T, size), done: make(chan struct{})}
}

func (p *pipe[T]) Send(ctx context.Context, v T) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	select {
	case p.ch <- v:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipe[T]) TrySend(v T) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.ch <- v:
		return true
	default:
		return false
	}
}

func (p *pipe[T]) Receive() <-chan T {
	return p.ch
}

func (p *pipe[T]) Done() <-chan struct{} {
	return p.done
}

func (p *pipe[T]) Close() {
	p.once.Do(func() { close(p.done) })
}
