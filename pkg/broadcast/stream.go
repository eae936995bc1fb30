// Package broadcast implements a bounded multi-consumer stream. Every
// subscriber reads at its own pace; a subscriber that falls behind by more
// than the capacity gets a LaggedError instead of silently missing values.
package broadcast

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

var ErrClosed = errors.New("stream closed")

type LaggedError struct {
	Missed uint64
}

func (e LaggedError) Error() string {
	return fmt.Sprintf("lagged behind by %d values", e.Missed)
}

type Stream[T any] struct {
	mu     sync.Mutex
	buf    []T
	head   uint64
	notify chan struct{}
	closed bool
}

func New[T any](capacity int) *Stream[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Stream[T]{
		buf:    make([]T, capacity),
		notify: make(chan struct{}),
	}
}

// Publish appends v, overwriting the oldest value once the stream is full.
// It never blocks on slow subscribers.
func (s *Stream[T]) Publish(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.buf[s.head%uint64(len(s.buf))] = v
	s.head++
	close(s.notify)
	s.notify = make(chan struct{})
}

func (s *Stream[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.notify)
}

// Subscribe returns a cursor positioned after the last published value.
func (s *Stream[T]) Subscribe() *Cursor[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Cursor[T]{stream: s, next: s.head}
}

// Cursor is a private read position. It is not safe for concurrent use.
type Cursor[T any] struct {
	stream *Stream[T]
	next   uint64
}

// Next blocks until a value past the cursor is available. A cancelled ctx
// leaves the cursor where it was.
func (c *Cursor[T]) Next(ctx context.Context) (T, error) {
	var zero T
	s := c.stream
	for {
		s.mu.Lock()
		if c.next < s.head {
			size := uint64(len(s.buf))
			var oldest uint64
			if s.head > size {
				oldest = s.head - size
			}
			if c.next < oldest {
				missed := oldest - c.next
				c.next = oldest
				s.mu.Unlock()
				return zero, LaggedError{Missed: missed}
			}
			v := s.buf[c.next%size]
			c.next++
			s.mu.Unlock()
			return v, nil
		}
		if s.closed {
			s.mu.Unlock()
			return zero, ErrClosed
		}
		ch := s.notify
		s.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}
