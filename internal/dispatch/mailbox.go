package dispatch

import (
	"go.uber.org/atomic"
	"golang.design/x/chann"
)

// mailbox is an unbounded, closable channel wrapper used for the async
// worker's wake/control signal.
type mailbox[T any] struct {
	closed atomic.Bool
	ch     *chann.Chann[T]
}

func newMailbox[T any](opts ...chann.Opt) *mailbox[T] {
	return &mailbox[T]{
		ch: chann.New[T](opts...),
	}
}

// TrySend enqueues v without blocking, dropping it if the mailbox is
// closed or the send would otherwise block. The dispatcher uses it only
// for wake pulses, where a full or closed mailbox is never a caller error.
func (m *mailbox[T]) TrySend(v T) bool {
	if m.closed.Load() {
		return false
	}
	select {
	case m.ch.In() <- v:
		return true
	default:
		return false
	}
}

func (m *mailbox[T]) Receive() <-chan T {
	return m.ch.Out()
}

func (m *mailbox[T]) Close() {
	m.closed.Store(true)
	m.ch.Close()
}
