// Package window implements the size/time bounded buffer used by batching
// stages. A window is full when it holds at least Size items or when Timeout
// has elapsed since its first item was appended; an empty window is never full.
package window

import "time"

type Window[T any] struct {
	size    int
	timeout time.Duration
	now     func() time.Time

	started time.Time
	buf     []T
}

// New builds a window. A zero size or zero timeout disables that trigger.
func New[T any](size int, timeout time.Duration) *Window[T] {
	return &Window[T]{size: size, timeout: timeout, now: time.Now}
}

// WithClock replaces the time source.
func (w *Window[T]) WithClock(now func() time.Time) *Window[T] {
	w.now = now
	return w
}

func (w *Window[T]) Append(v T) {
	if len(w.buf) == 0 {
		w.started = w.now()
	}
	w.buf = append(w.buf, v)
}

func (w *Window[T]) Len() int    { return len(w.buf) }
func (w *Window[T]) Empty() bool { return len(w.buf) == 0 }

func (w *Window[T]) Full() bool {
	if len(w.buf) == 0 {
		return false
	}
	if w.size > 0 && len(w.buf) >= w.size {
		return true
	}
	if w.timeout > 0 && w.now().Sub(w.started) >= w.timeout {
		return true
	}
	return false
}

// Drain hands back the buffered items and leaves the window empty.
func (w *Window[T]) Drain() []T {
	out := w.buf
	w.buf = nil
	return out
}
